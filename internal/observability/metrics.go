// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lavendrix Contributors

package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the credentiald collectors. It satisfies the recorder
// interfaces of the auth, mail and api packages.
type Metrics struct {
	AuthOperationsTotal *prometheus.CounterVec
	MailSendsTotal      *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	UsedTokensPurged    prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AuthOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credentiald_auth_operations_total",
				Help: "Auth service operations by operation and outcome (success or error code)",
			},
			[]string{"operation", "outcome"},
		),
		MailSendsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credentiald_mail_sends_total",
				Help: "Outbound emails by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "credentiald_http_requests_total",
				Help: "API requests by route, method and status code",
			},
			[]string{"route", "method", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "credentiald_http_request_duration_seconds",
				Help:    "API request latency by route and method",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		UsedTokensPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "credentiald_used_reset_tokens_purged_total",
			Help: "Expired used-reset-token entries deleted by the janitor",
		}),
	}

	reg.MustRegister(
		m.AuthOperationsTotal,
		m.MailSendsTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.UsedTokensPurged,
	)
	return m
}

// RecordAuthOperation counts one finished auth operation.
func (m *Metrics) RecordAuthOperation(operation, outcome string) {
	m.AuthOperationsTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordMailSend counts one delivery attempt.
func (m *Metrics) RecordMailSend(kind, outcome string) {
	m.MailSendsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveHTTPRequest records a served request.
func (m *Metrics) ObserveHTTPRequest(route, method string, status int, elapsed time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}

// RecordPurge adds n purged replay entries.
func (m *Metrics) RecordPurge(n int64) {
	if n > 0 {
		m.UsedTokensPurged.Add(float64(n))
	}
}
