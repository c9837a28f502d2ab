// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lavendrix Contributors

package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/lavendrix/credentiald/internal/auth"
)

// AuthService is the credential lifecycle the handlers drive.
type AuthService interface {
	Register(ctx context.Context, identity, displayName, password string) (*auth.RegisterResult, error)
	Login(ctx context.Context, identity, password string) (*auth.LoginResult, error)
	ForgotPassword(ctx context.Context, identity string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
	Account(ctx context.Context, id ulid.ULID) (*auth.Account, error)
}

// Recorder observes served requests. route is the matched mux pattern.
type Recorder interface {
	ObserveHTTPRequest(route, method string, status int, elapsed time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) ObserveHTTPRequest(string, string, int, time.Duration) {}

// Deps configures NewHandler. Logger and Recorder are optional.
type Deps struct {
	Service     AuthService
	Sessions    SessionVerifier
	CORSOrigins []string
	Logger      *slog.Logger
	Recorder    Recorder
}

// NewHandler builds the /api/auth routes wrapped in the standard
// middleware chain.
func NewHandler(deps Deps) (http.Handler, error) {
	if deps.Service == nil || deps.Sessions == nil {
		return nil, oops.Code("API_CONFIG_INVALID").Errorf("service and session verifier are required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	cors, err := newCORS(deps.CORSOrigins)
	if err != nil {
		return nil, err
	}

	h := &handlers{svc: deps.Service, logger: deps.Logger}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/register", h.register)
	mux.HandleFunc("POST /api/auth/login", h.login)
	mux.HandleFunc("POST /api/auth/forgot-password", h.forgotPassword)
	mux.HandleFunc("POST /api/auth/reset-password", h.resetPassword)
	mux.Handle("GET /api/auth/me", RequireSession(deps.Sessions)(http.HandlerFunc(h.me)))

	var handler http.Handler = mux
	handler = cors.middleware(handler)
	handler = accessLog(deps.Logger, deps.Recorder)(handler)
	handler = requestID(handler)
	handler = recoverPanics(deps.Logger)(handler)
	return handler, nil
}
