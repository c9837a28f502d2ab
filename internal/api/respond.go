// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lavendrix Contributors

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/lavendrix/credentiald/internal/auth"
	"github.com/lavendrix/credentiald/pkg/errutil"
)

const maxBodyBytes = 64 << 10

type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	//nolint:errcheck // client may disconnect
	json.NewEncoder(w).Encode(body)
}

func writeFailure(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Success: false, Message: message})
}

// writeError maps a service error to a status and a caller-safe message.
// Causes and stacks never reach the body.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status, message := describe(err)
	if status == http.StatusInternalServerError && errutil.Code(err) == "" {
		errutil.LogError(logger.With("request_id", RequestIDFromContext(r.Context())), "unhandled error", err)
	}
	writeFailure(w, status, message)
}

func describe(err error) (int, string) {
	switch errutil.Code(err) {
	case auth.CodeValidation:
		if reason, ok := errutil.ContextValue(err, auth.ReasonKey); ok {
			if s, ok := reason.(string); ok && s != "" {
				return http.StatusBadRequest, s
			}
		}
		return http.StatusBadRequest, "invalid request"
	case auth.CodeAlreadyExists:
		return http.StatusConflict, "user already exists"
	case auth.CodeInvalidCredentials:
		return http.StatusUnauthorized, "invalid email or password"
	case auth.CodeTokenInvalid:
		return http.StatusUnauthorized, "invalid token"
	case auth.CodeTokenExpired:
		return http.StatusUnauthorized, "token has expired"
	case auth.CodeTokenUsed:
		return http.StatusUnauthorized, "token has already been used"
	case auth.CodeNotFound:
		return http.StatusNotFound, "user not found"
	case auth.CodeDependencyFailure:
		return http.StatusInternalServerError, "service temporarily unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// decodeJSON reads a bounded JSON object into dst. It writes the 400
// itself and returns false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeFailure(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeFailure(w, http.StatusBadRequest, "request body must be a JSON object")
		return false
	}
	return true
}
