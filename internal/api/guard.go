// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lavendrix Contributors

package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/oklog/ulid/v2"

	"github.com/lavendrix/credentiald/internal/auth"
)

// SessionVerifier checks bearer tokens.
type SessionVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

type subjectKey struct{}

// SubjectFromContext returns the account ID RequireSession stored.
func SubjectFromContext(ctx context.Context) (ulid.ULID, bool) {
	id, ok := ctx.Value(subjectKey{}).(ulid.ULID)
	return id, ok
}

// ContextWithSubject attaches an authenticated account ID.
func ContextWithSubject(ctx context.Context, id ulid.ULID) context.Context {
	return context.WithValue(ctx, subjectKey{}, id)
}

// RequireSession admits requests carrying a valid, unexpired session
// token in the Authorization header. Reset tokens are refused. Rejected
// requests get a 401 and never reach next.
func RequireSession(verifier SessionVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				w.Header().Set("WWW-Authenticate", `Bearer realm="credentiald"`)
				writeFailure(w, http.StatusUnauthorized, "authentication required")
				return
			}

			claims, err := verifier.Verify(token)
			if err != nil {
				msg := "invalid token"
				if errors.Is(err, auth.ErrTokenExpired) {
					msg = "token has expired"
				}
				rejectToken(w, msg)
				return
			}
			if claims.Purpose != auth.PurposeSession {
				rejectToken(w, "invalid token")
				return
			}
			id, err := claims.AccountID()
			if err != nil {
				rejectToken(w, "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithSubject(r.Context(), id)))
		})
	}
}

// rejectToken answers a request whose bearer token was presented but not
// accepted.
func rejectToken(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="credentiald", error="invalid_token"`)
	writeFailure(w, http.StatusUnauthorized, msg)
}

// bearerToken extracts the token from "Bearer <token>". The scheme is
// matched case-insensitively.
func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
