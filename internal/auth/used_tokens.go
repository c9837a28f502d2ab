// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lavendrix Contributors

package auth

import (
	"context"
	"time"
)

// UsedTokenStore records password reset token nonces that have been
// redeemed. Entries only need to outlive the token they describe.
type UsedTokenStore interface {
	// MarkUsed atomically records tokenID. It returns true if this call
	// recorded it and false if it had already been recorded.
	MarkUsed(ctx context.Context, tokenID string, expiresAt time.Time) (bool, error)
}

// ExpiredTokenPurger is implemented by stores that need periodic cleanup.
type ExpiredTokenPurger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}
