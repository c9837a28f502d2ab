// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lavendrix Contributors

package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/lavendrix/credentiald/internal/api"
	"github.com/lavendrix/credentiald/internal/auth"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

var testSigningKey = []byte("api-test-signing-key-0123456789abcdef")

// outbox records reset links instead of mailing them.
type outbox struct {
	mu       sync.Mutex
	welcomes int
	links    []string
}

func (o *outbox) SendWelcome(context.Context, string, string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.welcomes++
	return nil
}

func (o *outbox) SendPasswordReset(_ context.Context, _, _, link string, _ time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.links = append(o.links, link)
	return nil
}

func (o *outbox) lastToken(t *testing.T) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	require.NotEmpty(t, o.links)
	u, err := url.Parse(o.links[len(o.links)-1])
	require.NoError(t, err)
	return u.Query().Get("token")
}

type routeRecorder struct {
	mu     sync.Mutex
	routes []string
}

func (r *routeRecorder) ObserveHTTPRequest(route, method string, status int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, route)
}

type fixture struct {
	handler  http.Handler
	issuer   *auth.TokenIssuer
	accounts *auth.MemoryAccountRepository
	outbox   *outbox
	recorder *routeRecorder
}

func newFixture(t *testing.T, issuerOpts ...auth.TokenIssuerOption) *fixture {
	t.Helper()
	hasher, err := auth.NewArgon2idHasher(auth.HasherParams{Memory: 1024, Iterations: 1, Parallelism: 1})
	require.NoError(t, err)
	issuer, err := auth.NewTokenIssuer(testSigningKey, issuerOpts...)
	require.NoError(t, err)

	f := &fixture{
		issuer:   issuer,
		accounts: auth.NewMemoryAccountRepository(),
		outbox:   &outbox{},
		recorder: &routeRecorder{},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := auth.NewService(auth.ServiceDeps{
		Accounts:      f.accounts,
		Hasher:        hasher,
		Tokens:        issuer,
		UsedTokens:    auth.NewMemoryUsedTokenStore(),
		Notifier:      f.outbox,
		ResetLinkBase: "http://localhost:5173/reset-password",
		Logger:        logger,
	})
	require.NoError(t, err)

	f.handler, err = api.NewHandler(api.Deps{
		Service:     svc,
		Sessions:    issuer,
		CORSOrigins: []string{"http://localhost:5173", "https://*.preview.lavendrix.test"},
		Logger:      logger,
		Recorder:    f.recorder,
	})
	require.NoError(t, err)
	return f
}

type response struct {
	status int
	header http.Header
	body   map[string]any
}

func (f *fixture) do(t *testing.T, method, path string, body any, headers ...string) response {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	out := response{status: rec.Code, header: rec.Header()}
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out.body), rec.Body.String())
	}
	return out
}

func (f *fixture) register(t *testing.T, name, email, password string) {
	t.Helper()
	res := f.do(t, http.MethodPost, "/api/auth/register", map[string]string{
		"name": name, "email": email, "password": password,
	})
	require.Equal(t, http.StatusCreated, res.status, res.body)
}

func (f *fixture) login(t *testing.T, email, password string) string {
	t.Helper()
	res := f.do(t, http.MethodPost, "/api/auth/login", map[string]string{"email": email, "password": password})
	require.Equal(t, http.StatusOK, res.status, res.body)
	token, ok := res.body["token"].(string)
	require.True(t, ok)
	return token
}
