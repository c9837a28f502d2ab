// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lavendrix Contributors

package auth

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// MemoryAccountRepository is an in-process AccountRepository. One mutex
// guards both indexes so every operation is a single critical section.
type MemoryAccountRepository struct {
	mu         sync.Mutex
	byIdentity map[string]*Account
	byID       map[ulid.ULID]*Account
}

var _ AccountRepository = (*MemoryAccountRepository)(nil)

// NewMemoryAccountRepository creates an empty repository.
func NewMemoryAccountRepository() *MemoryAccountRepository {
	return &MemoryAccountRepository{
		byIdentity: make(map[string]*Account),
		byID:       make(map[ulid.ULID]*Account),
	}
}

// Create inserts the account unless the identity is taken.
func (r *MemoryAccountRepository) Create(_ context.Context, account *Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byIdentity[account.Identity]; exists {
		return oops.Code(CodeAlreadyExists).
			With("identity", account.Identity).
			Wrap(ErrAlreadyExists)
	}
	stored := *account
	r.byIdentity[stored.Identity] = &stored
	r.byID[stored.ID] = &stored
	return nil
}

// GetByIdentity returns a copy of the stored account.
func (r *MemoryAccountRepository) GetByIdentity(_ context.Context, identity string) (*Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byIdentity[identity]
	if !ok {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("identity", identity).Wrap(ErrNotFound)
	}
	out := *a
	return &out, nil
}

// GetByID returns a copy of the stored account.
func (r *MemoryAccountRepository) GetByID(_ context.Context, id ulid.ULID) (*Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byID[id]
	if !ok {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").With("id", id.String()).Wrap(ErrNotFound)
	}
	out := *a
	return &out, nil
}

// UpdateSecret replaces the digest of an existing account.
func (r *MemoryAccountRepository) UpdateSecret(_ context.Context, id ulid.ULID, digest string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.byID[id]
	if !ok {
		return oops.Code("ACCOUNT_NOT_FOUND").With("id", id.String()).Wrap(ErrNotFound)
	}
	a.SecretDigest = digest
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// Len returns the number of stored accounts.
func (r *MemoryAccountRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// MemoryUsedTokenStore is an in-process UsedTokenStore. Expired entries
// are dropped lazily on each call.
type MemoryUsedTokenStore struct {
	mu   sync.Mutex
	used map[string]time.Time
	now  func() time.Time
}

var (
	_ UsedTokenStore     = (*MemoryUsedTokenStore)(nil)
	_ ExpiredTokenPurger = (*MemoryUsedTokenStore)(nil)
)

// NewMemoryUsedTokenStore creates an empty store.
func NewMemoryUsedTokenStore() *MemoryUsedTokenStore {
	return &MemoryUsedTokenStore{used: make(map[string]time.Time), now: time.Now}
}

// MarkUsed records tokenID until expiresAt.
func (s *MemoryUsedTokenStore) MarkUsed(_ context.Context, tokenID string, expiresAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pruneLocked()
	if _, seen := s.used[tokenID]; seen {
		return false, nil
	}
	s.used[tokenID] = expiresAt
	return true, nil
}

// DeleteExpired drops entries whose token has expired.
func (s *MemoryUsedTokenStore) DeleteExpired(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pruneLocked(), nil
}

func (s *MemoryUsedTokenStore) pruneLocked() int64 {
	now := s.now()
	var n int64
	for id, exp := range s.used {
		if !now.Before(exp) {
			delete(s.used, id)
			n++
		}
	}
	return n
}
