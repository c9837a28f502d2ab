// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lavendrix Contributors

// Package store owns the database connection and schema migrations.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// ConnectOptions tunes Connect.
type ConnectOptions struct {
	// MaxRetries is how many times a failed ping is retried.
	MaxRetries uint64
	// InitialBackoff is the first delay; later delays grow exponentially.
	InitialBackoff time.Duration
	// MaxConns caps the pool size. Zero keeps the pgxpool default.
	MaxConns int32
}

// DefaultConnectOptions rides out a database that starts alongside the
// service.
var DefaultConnectOptions = ConnectOptions{
	MaxRetries:     5,
	InitialBackoff: 200 * time.Millisecond,
}

// ConnectOption mutates ConnectOptions.
type ConnectOption func(*ConnectOptions)

// WithRetries overrides the retry budget.
func WithRetries(n uint64, initial time.Duration) ConnectOption {
	return func(o *ConnectOptions) {
		o.MaxRetries = n
		o.InitialBackoff = initial
	}
}

// WithMaxConns caps the pool size.
func WithMaxConns(n int32) ConnectOption {
	return func(o *ConnectOptions) {
		o.MaxConns = n
	}
}

// Connect opens a pool and pings it until it answers or the retry budget
// runs out. Configuration errors are not retried.
func Connect(ctx context.Context, databaseURL string, opts ...ConnectOption) (*pgxpool.Pool, error) {
	o := DefaultConnectOptions
	for _, opt := range opts {
		opt(&o)
	}

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, oops.Code("DB_CONFIG_INVALID").Wrap(err)
	}
	if o.MaxConns > 0 {
		cfg.MaxConns = o.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").Wrap(err)
	}

	attempt := 0
	backoff := retry.WithMaxRetries(o.MaxRetries, retry.NewExponential(o.InitialBackoff))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		if pingErr := pool.Ping(ctx); pingErr != nil {
			slog.WarnContext(ctx, "database not ready", "attempt", attempt, "error", pingErr)
			return retry.RetryableError(pingErr)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").With("attempts", attempt).Wrap(err)
	}
	return pool, nil
}
