//go:build integration

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lavendrix Contributors

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/lavendrix/credentiald/internal/store"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("credentiald"),
		postgres.WithUsername("credentiald"),
		postgres.WithPassword("credentiald"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return connStr
}

func TestMigrator_FullCycle(t *testing.T) {
	connStr := startPostgres(t)

	migrator, err := store.NewMigrator(connStr)
	require.NoError(t, err)
	defer func() { _ = migrator.Close() }()

	version, dirty, err := migrator.Version()
	require.NoError(t, err)
	assert.Zero(t, version)
	assert.False(t, dirty)

	require.NoError(t, migrator.Up())
	version, dirty, err = migrator.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	pending, err := migrator.PendingMigrations()
	require.NoError(t, err)
	assert.Empty(t, pending)

	require.NoError(t, migrator.Steps(-1))
	version, _, err = migrator.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	require.NoError(t, migrator.Steps(1))
	require.NoError(t, migrator.Up(), "re-running Up on a current schema is a no-op")

	require.NoError(t, migrator.Down())
	version, _, err = migrator.Version()
	require.NoError(t, err)
	assert.Zero(t, version)

	require.NoError(t, migrator.Force(1))
	version, dirty, err = migrator.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)
}

func TestConnect(t *testing.T) {
	connStr := startPostgres(t)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := store.Connect(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	var one int
	require.NoError(t, pool.QueryRow(ctx, "SELECT 1").Scan(&one))
	assert.Equal(t, 1, one)
}
