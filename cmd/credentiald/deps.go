// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lavendrix Contributors

package main

import (
	"context"
	"net/http"

	goredis "github.com/redis/go-redis/v9"

	"github.com/lavendrix/credentiald/internal/auth/postgres"
	"github.com/lavendrix/credentiald/internal/config"
	"github.com/lavendrix/credentiald/internal/mail"
	"github.com/lavendrix/credentiald/internal/observability"
)

// ServeDeps contains injectable dependencies for the serve command.
// All fields with nil values will use their default implementations.
type ServeDeps struct {
	// PoolFactory connects to PostgreSQL.
	// Default: store.Connect with the configured retry and pool limits
	PoolFactory func(ctx context.Context, cfg config.DatabaseConfig) (DBPool, error)

	// MigratorFactory opens a migrator for auto-migration.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (AutoMigrator, error)

	// RedisFactory creates the client for the redis replay store.
	// Default: goredis.NewClient
	RedisFactory func(cfg config.RedisConfig) RedisClient

	// SenderFactory creates the outbound mail transport.
	// Default: mail.NewSMTPSender or mail.NewLogSender by mail.driver
	SenderFactory func(cfg config.MailConfig) (mail.Sender, error)

	// APIServerFactory creates the API server.
	// Default: api.NewServer
	APIServerFactory func(addr string, handler http.Handler) APIServer

	// ObservabilityServerFactory creates the metrics and health server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, isReady observability.ReadinessChecker) ObservabilityServer
}

// DBPool wraps the methods used from pgxpool.Pool.
type DBPool interface {
	postgres.DB
	Ping(ctx context.Context) error
	Close()
}

// AutoMigrator wraps the methods used from store.Migrator on serve.
type AutoMigrator interface {
	Up() error
	Close() error
}

// RedisClient wraps the methods used from goredis.Client.
type RedisClient interface {
	goredis.Cmdable
	Close() error
}

// APIServer wraps the methods used from api.Server.
type APIServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

// ObservabilityServer wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
	Metrics() *observability.Metrics
}
