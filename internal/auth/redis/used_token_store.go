// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lavendrix Contributors

// Package redis provides a Redis-backed auth.UsedTokenStore for deployments
// that run several credentiald replicas without a shared database table.
package redis

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/lavendrix/credentiald/internal/auth"
)

// DefaultKeyPrefix namespaces used-token keys.
const DefaultKeyPrefix = "credentiald:used-reset-token:"

// minTTL keeps a key alive briefly even when the token is about to expire.
const minTTL = time.Second

// UsedTokenStore records redeemed reset token nonces with SET NX. Keys
// expire with the token, so no purge is needed.
type UsedTokenStore struct {
	client goredis.Cmdable
	prefix string
	now    func() time.Time
}

var _ auth.UsedTokenStore = (*UsedTokenStore)(nil)

// NewUsedTokenStore creates a store. An empty prefix selects DefaultKeyPrefix.
func NewUsedTokenStore(client goredis.Cmdable, prefix string) *UsedTokenStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &UsedTokenStore{client: client, prefix: prefix, now: time.Now}
}

// MarkUsed sets the nonce key only if it is absent.
func (s *UsedTokenStore) MarkUsed(ctx context.Context, tokenID string, expiresAt time.Time) (bool, error) {
	ttl := expiresAt.Sub(s.now())
	if ttl < minTTL {
		ttl = minTTL
	}
	first, err := s.client.SetNX(ctx, s.prefix+tokenID, s.now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, oops.Code("USED_TOKEN_INSERT_FAILED").
			With("token_id", tokenID).
			Wrap(err)
	}
	return first, nil
}

// Ping reports whether Redis answers.
func (s *UsedTokenStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return oops.Code("REDIS_UNAVAILABLE").Wrap(err)
	}
	return nil
}
