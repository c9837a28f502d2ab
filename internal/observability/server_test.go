// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lavendrix Contributors

package observability

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/lavendrix/credentiald/pkg/errutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}

func get(t *testing.T, h http.Handler, path string) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec.Code, rec.Body.String()
}

func TestServer_StartStop(t *testing.T) {
	server := NewServer("127.0.0.1:0", nil)
	assert.Empty(t, server.Addr())

	errCh, err := server.Start()
	require.NoError(t, err)

	_, err = server.Start()
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "OBSERVABILITY_ALREADY_RUNNING")

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get("http://" + server.Addr() + "/healthz/liveness")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok\n", string(body))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, server.Stop(ctx))
	require.NoError(t, server.Stop(ctx), "second stop is a no-op")

	_, open := <-errCh
	assert.False(t, open, "error channel closes on graceful stop")
}

func TestServer_ListenFailure(t *testing.T) {
	server := NewServer("256.0.0.1:bad", nil)
	_, err := server.Start()
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "OBSERVABILITY_LISTEN_FAILED")
}

func TestServer_Readiness(t *testing.T) {
	tests := []struct {
		name       string
		checker    ReadinessChecker
		wantStatus int
		wantBody   string
	}{
		{"nil checker", nil, http.StatusOK, "ok\n"},
		{"ready", func(context.Context) error { return nil }, http.StatusOK, "ok\n"},
		{"database down", func(context.Context) error { return errors.New("ping: connection refused") },
			http.StatusServiceUnavailable, "not ready\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := get(t, NewServer(":0", tt.checker).Handler(), "/healthz/readiness")
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantBody, body)
		})
	}
}

func TestServer_ReadinessHasDeadline(t *testing.T) {
	var hadDeadline bool
	h := NewServer(":0", func(ctx context.Context) error {
		_, hadDeadline = ctx.Deadline()
		return nil
	}).Handler()

	get(t, h, "/healthz/readiness")
	assert.True(t, hadDeadline)
}

func TestServer_MetricsEndpoint(t *testing.T) {
	server := NewServer(":0", nil)
	m := server.Metrics()
	m.RecordAuthOperation("login", "success")
	m.RecordAuthOperation("login", "AUTH_INVALID_CREDENTIALS")
	m.RecordMailSend("welcome", "failure")
	m.ObserveHTTPRequest("POST /api/auth/login", http.MethodPost, http.StatusUnauthorized, 15*time.Millisecond)

	status, body := get(t, server.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, status)

	for _, want := range []string{
		`credentiald_auth_operations_total{operation="login",outcome="success"} 1`,
		`credentiald_auth_operations_total{operation="login",outcome="AUTH_INVALID_CREDENTIALS"} 1`,
		`credentiald_mail_sends_total{kind="welcome",outcome="failure"} 1`,
		`credentiald_http_requests_total{method="POST",route="POST /api/auth/login",status="401"} 1`,
		"credentiald_http_request_duration_seconds_bucket",
		"go_goroutines",
	} {
		assert.True(t, strings.Contains(body, want), "metrics output missing %q", want)
	}
}

func TestMetrics_RecordPurge(t *testing.T) {
	server := NewServer(":0", nil)
	m := server.Metrics()
	m.RecordPurge(0)
	m.RecordPurge(3)
	m.RecordPurge(-1)

	_, body := get(t, server.Handler(), "/metrics")
	assert.Contains(t, body, "credentiald_used_reset_tokens_purged_total 3")
}

func TestNewMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	assert.Panics(t, func() { NewMetrics(reg) })
}

func TestServer_UnknownPath(t *testing.T) {
	status, _ := get(t, NewServer(":0", nil).Handler(), "/debug/pprof/")
	assert.Equal(t, http.StatusNotFound, status)
}
