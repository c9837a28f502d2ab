// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lavendrix Contributors

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/lavendrix/credentiald/internal/auth"
)

// purgeRecorder counts purged replay entries.
type purgeRecorder interface {
	RecordPurge(n int64)
}

// runPurger deletes expired replay entries every interval until ctx is done.
func runPurger(ctx context.Context, purger auth.ExpiredTokenPurger, interval time.Duration, rec purgeRecorder, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purgeOnce(ctx, purger, rec, logger)
		}
	}
}

func purgeOnce(ctx context.Context, purger auth.ExpiredTokenPurger, rec purgeRecorder, logger *slog.Logger) {
	n, err := purger.DeleteExpired(ctx)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn("purging used reset tokens failed", "error", err)
		}
		return
	}
	rec.RecordPurge(n)
	if n > 0 {
		logger.Debug("purged used reset tokens", "count", n)
	}
}
