// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lavendrix Contributors

package postgres

import (
	"context"
	"time"

	"github.com/samber/oops"

	"github.com/lavendrix/credentiald/internal/auth"
)

// UsedTokenRepository implements auth.UsedTokenStore using PostgreSQL.
type UsedTokenRepository struct {
	db DB
}

var (
	_ auth.UsedTokenStore     = (*UsedTokenRepository)(nil)
	_ auth.ExpiredTokenPurger = (*UsedTokenRepository)(nil)
)

// NewUsedTokenRepository creates a new UsedTokenRepository.
func NewUsedTokenRepository(db DB) *UsedTokenRepository {
	return &UsedTokenRepository{db: db}
}

// MarkUsed inserts the nonce; a conflict means it was already redeemed.
func (r *UsedTokenRepository) MarkUsed(ctx context.Context, tokenID string, expiresAt time.Time) (bool, error) {
	result, err := r.db.Exec(ctx, `
		INSERT INTO used_reset_tokens (token_id, expires_at, used_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_id) DO NOTHING
	`, tokenID, expiresAt, time.Now().UTC())
	if err != nil {
		return false, oops.Code("USED_TOKEN_INSERT_FAILED").
			With("operation", "insert used token").
			Wrap(err)
	}
	return result.RowsAffected() == 1, nil
}

// DeleteExpired removes entries for tokens that can no longer verify.
func (r *UsedTokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	result, err := r.db.Exec(ctx, `DELETE FROM used_reset_tokens WHERE expires_at < $1`, time.Now().UTC())
	if err != nil {
		return 0, oops.Code("USED_TOKEN_DELETE_EXPIRED_FAILED").
			With("operation", "delete expired used tokens").
			Wrap(err)
	}
	return result.RowsAffected(), nil
}
