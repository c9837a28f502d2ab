// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lavendrix Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/lavendrix/credentiald/internal/api"
	"github.com/lavendrix/credentiald/internal/auth"
	"github.com/lavendrix/credentiald/internal/auth/postgres"
	authredis "github.com/lavendrix/credentiald/internal/auth/redis"
	"github.com/lavendrix/credentiald/internal/config"
	"github.com/lavendrix/credentiald/internal/logging"
	"github.com/lavendrix/credentiald/internal/mail"
	"github.com/lavendrix/credentiald/internal/observability"
	"github.com/lavendrix/credentiald/internal/store"
)

const serviceName = "credentiald"

// serveFlagKeys maps serve flags to config keys.
var serveFlagKeys = map[string]string{
	"addr":         "http.addr",
	"metrics-addr": "metrics.addr",
	"log-format":   "log.format",
	"log-level":    "log.level",
	"auto-migrate": "store.auto_migrate",
}

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the credential API server",
		Long: `Start the HTTP API serving registration, login, password reset and
the current-account endpoint, plus the metrics and health listener.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, err := loadConfig(cmd.Flags(), serveFlagKeys, false)
			if err != nil {
				return err
			}
			if path != "" {
				cmd.Printf("Using config file %s\n", path)
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, nil)
		},
	}

	defaults := config.Default()
	cmd.Flags().String("addr", defaults.HTTP.Addr, "API listen address")
	cmd.Flags().String("metrics-addr", defaults.Metrics.Addr, "metrics/health HTTP address (empty = disabled)")
	cmd.Flags().String("log-format", defaults.Log.Format, "log format (json or text)")
	cmd.Flags().String("log-level", defaults.Log.Level, "log level (debug, info, warn, error)")
	cmd.Flags().Bool("auto-migrate", defaults.Store.AutoMigrate, "apply pending migrations before serving")

	return cmd
}

func (d *ServeDeps) applyDefaults() {
	if d.PoolFactory == nil {
		d.PoolFactory = func(ctx context.Context, cfg config.DatabaseConfig) (DBPool, error) {
			opts := []store.ConnectOption{
				store.WithRetries(uint64(cfg.MaxRetries), store.DefaultConnectOptions.InitialBackoff), //nolint:gosec // validated non-negative
			}
			if cfg.MaxConns > 0 {
				opts = append(opts, store.WithMaxConns(int32(cfg.MaxConns))) //nolint:gosec // small positive
			}
			return store.Connect(ctx, cfg.URL, opts...)
		}
	}
	if d.MigratorFactory == nil {
		d.MigratorFactory = func(url string) (AutoMigrator, error) {
			return store.NewMigrator(url)
		}
	}
	if d.RedisFactory == nil {
		d.RedisFactory = func(cfg config.RedisConfig) RedisClient {
			return goredis.NewClient(&goredis.Options{
				Addr:     cfg.Addr,
				Password: cfg.Password,
				DB:       cfg.DB,
			})
		}
	}
	if d.SenderFactory == nil {
		d.SenderFactory = newSender
	}
	if d.APIServerFactory == nil {
		d.APIServerFactory = func(addr string, handler http.Handler) APIServer {
			return api.NewServer(addr, handler)
		}
	}
	if d.ObservabilityServerFactory == nil {
		d.ObservabilityServerFactory = func(addr string, isReady observability.ReadinessChecker) ObservabilityServer {
			return observability.NewServer(addr, isReady)
		}
	}
}

func newSender(cfg config.MailConfig) (mail.Sender, error) {
	if cfg.Driver == config.MailDriverSMTP {
		return mail.NewSMTPSender(mail.SMTPConfig{
			Host:       cfg.SMTP.Host,
			Port:       cfg.SMTP.Port,
			Username:   cfg.SMTP.Username,
			Password:   cfg.SMTP.Password,
			RequireTLS: cfg.SMTP.RequireTLS,
		})
	}
	slog.Warn("mail driver log selected; account emails are not delivered")
	return mail.NewLogSender(slog.Default()), nil
}

// readiness collects dependency checks. It reports not ready until
// markStarted is called.
type readiness struct {
	started atomic.Bool
	checks  []func(ctx context.Context) error
}

func (r *readiness) add(check func(ctx context.Context) error) {
	r.checks = append(r.checks, check)
}

func (r *readiness) markStarted() {
	r.started.Store(true)
}

func (r *readiness) check(ctx context.Context) error {
	if !r.started.Load() {
		return errors.New("starting")
	}
	for _, c := range r.checks {
		if err := c(ctx); err != nil {
			return err
		}
	}
	return nil
}

// runServeWithDeps starts the service with injectable dependencies and
// blocks until ctx is cancelled, a signal arrives or a server fails.
// If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *ServeDeps) error {
	if deps == nil {
		deps = &ServeDeps{}
	}
	deps.applyDefaults()

	logger := logging.SetDefault(serviceName, version, cfg.Log.Format, cfg.Log.Level)
	logger.Info("starting credentiald",
		"addr", cfg.HTTP.Addr,
		"store", cfg.Store.Driver,
		"replay_store", cfg.Reset.ReplayStore,
		"mail", cfg.Mail.Driver,
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ready := &readiness{}

	var obsServer ObservabilityServer
	var metrics *observability.Metrics
	if cfg.Metrics.Addr != "" {
		obsServer = deps.ObservabilityServerFactory(cfg.Metrics.Addr, ready.check)
		metrics = obsServer.Metrics()
	} else {
		metrics = observability.NewMetrics(prometheus.NewRegistry())
	}

	hasher, err := auth.NewArgon2idHasher(cfg.Hasher.Params())
	if err != nil {
		return err
	}
	issuer, err := auth.NewTokenIssuer([]byte(cfg.Tokens.SigningKey))
	if err != nil {
		return err
	}

	var pool DBPool
	if cfg.Store.Driver == config.StoreDriverPostgres {
		if cfg.Store.AutoMigrate {
			if err := autoMigrate(deps, cfg.Database.URL, logger); err != nil {
				return err
			}
		}
		pool, err = deps.PoolFactory(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer pool.Close()
		ready.add(pool.Ping)
		logger.Info("connected to database")
	}

	var accounts auth.AccountRepository
	if pool != nil {
		accounts = postgres.NewAccountRepository(pool)
	} else {
		accounts = auth.NewMemoryAccountRepository()
	}

	var usedTokens auth.UsedTokenStore
	switch cfg.Reset.ReplayStore {
	case config.ReplayStorePostgres:
		if pool == nil {
			return oops.Code("CONFIG_INVALID").Errorf("postgres replay store requires the postgres account store")
		}
		usedTokens = postgres.NewUsedTokenRepository(pool)
	case config.ReplayStoreRedis:
		client := deps.RedisFactory(cfg.Redis)
		defer func() {
			if closeErr := client.Close(); closeErr != nil {
				logger.Debug("error closing redis client", "error", closeErr)
			}
		}()
		prefix := cfg.Redis.KeyPrefix
		if prefix == "" {
			prefix = authredis.DefaultKeyPrefix
		}
		redisStore := authredis.NewUsedTokenStore(client, prefix)
		if err := redisStore.Ping(ctx); err != nil {
			return err
		}
		ready.add(redisStore.Ping)
		usedTokens = redisStore
	default:
		usedTokens = auth.NewMemoryUsedTokenStore()
	}

	sender, err := deps.SenderFactory(cfg.Mail)
	if err != nil {
		return err
	}
	notifier, err := mail.NewNotifier(sender, cfg.Mail.FromAddress, metrics)
	if err != nil {
		return err
	}

	service, err := auth.NewService(auth.ServiceDeps{
		Accounts:      accounts,
		Hasher:        hasher,
		Tokens:        issuer,
		UsedTokens:    usedTokens,
		Notifier:      notifier,
		ResetLinkBase: cfg.Reset.LinkBase,
		MailTimeout:   cfg.Mail.Timeout(),
		Logger:        logger,
		Recorder:      metrics,
	})
	if err != nil {
		return err
	}

	handler, err := api.NewHandler(api.Deps{
		Service:     service,
		Sessions:    issuer,
		CORSOrigins: cfg.HTTP.CORSOrigins,
		Logger:      logger,
		Recorder:    metrics,
	})
	if err != nil {
		return err
	}

	apiServer := deps.APIServerFactory(cfg.HTTP.Addr, handler)
	apiErrCh, err := apiServer.Start()
	if err != nil {
		return err
	}
	go monitorServerErrors(ctx, cancel, apiErrCh, "api")

	if obsServer != nil {
		obsErrCh, err := obsServer.Start()
		if err != nil {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout())
			defer stopCancel()
			if stopErr := apiServer.Stop(stopCtx); stopErr != nil {
				logger.Warn("failed to stop api server during cleanup", "error", stopErr)
			}
			return err
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability")
		logger.Info("observability server started", "addr", obsServer.Addr())
	}

	var janitor sync.WaitGroup
	if purger, ok := usedTokens.(auth.ExpiredTokenPurger); ok {
		janitor.Add(1)
		go func() {
			defer janitor.Done()
			runPurger(ctx, purger, cfg.Reset.PurgeInterval(), metrics, logger)
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	ready.markStarted()
	cmd.Printf("credentiald listening on %s\n", apiServer.Addr())
	logger.Info("credentiald ready", "addr", apiServer.Addr())

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	cancel()
	janitor.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout())
	defer shutdownCancel()

	var stopErr error
	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Warn("error stopping api server", "error", err)
		stopErr = err
	}
	if obsServer != nil {
		if err := obsServer.Stop(shutdownCtx); err != nil {
			logger.Warn("error stopping observability server", "error", err)
		}
	}

	logger.Info("shutdown complete")
	return stopErr
}

// autoMigrate applies pending migrations before the pool is opened.
func autoMigrate(deps *ServeDeps, databaseURL string, logger *slog.Logger) error {
	migrator, err := deps.MigratorFactory(databaseURL)
	if err != nil {
		return oops.Code("AUTO_MIGRATE_FAILED").With("stage", "open").Wrap(err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Warn("error closing migrator", "error", closeErr)
		}
	}()

	if err := migrator.Up(); err != nil {
		return oops.Code("AUTO_MIGRATE_FAILED").With("stage", "up").Wrap(err)
	}
	logger.Info("database migrations applied")
	return nil
}

// monitorServerErrors cancels ctx when a server reports a serve failure.
// It exits when the channel closes or ctx is done.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}

