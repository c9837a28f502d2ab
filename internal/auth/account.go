// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lavendrix Contributors

package auth

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"
)

// MaxDisplayNameLength bounds the stored display name, in runes.
const MaxDisplayNameLength = 100

var (
	identityValidator = validator.New(validator.WithRequiredStructEnabled())
	displayNamePolicy = bluemonday.StrictPolicy()
)

// Account is a registered credential holder.
type Account struct {
	ID           ulid.ULID
	Identity     string
	DisplayName  string
	SecretDigest string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewAccount builds an Account with a fresh ID from already-normalized
// fields. The digest must come from a PasswordHasher.
func NewAccount(identity, displayName, digest string) (*Account, error) {
	if identity == "" || displayName == "" || digest == "" {
		return nil, invalidField("", "identity, display name and digest are required")
	}
	now := time.Now().UTC()
	return &Account{
		ID:           ulid.Make(),
		Identity:     identity,
		DisplayName:  displayName,
		SecretDigest: digest,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// NormalizeIdentity lower-cases and trims an email address and checks its
// shape. Lookups and inserts always go through this so that "A@x.com" and
// "a@x.com " name the same account.
func NormalizeIdentity(raw string) (string, error) {
	identity := strings.ToLower(strings.TrimSpace(raw))
	if identity == "" {
		return "", invalidField("email", "email is required")
	}
	if err := identityValidator.Var(identity, "email,max=254"); err != nil {
		return "", invalidField("email", "email is not a valid address")
	}
	return identity, nil
}

// NormalizeDisplayName strips markup and surrounding whitespace. The result
// is plain text; entities produced by the sanitizer are decoded again so the
// name is escaped once, at render time.
func NormalizeDisplayName(raw string) (string, error) {
	name := strings.TrimSpace(html.UnescapeString(displayNamePolicy.Sanitize(raw)))
	if name == "" {
		return "", invalidField("name", "name is required")
	}
	if len([]rune(name)) > MaxDisplayNameLength {
		return "", invalidField("name", fmt.Sprintf("name must be at most %d characters", MaxDisplayNameLength))
	}
	return name, nil
}

// AccountRepository persists accounts.
type AccountRepository interface {
	// Create inserts the account if no account with the same identity
	// exists. The check and the insert are a single atomic step; a lost race
	// returns an error wrapping ErrAlreadyExists.
	Create(ctx context.Context, account *Account) error

	// GetByIdentity returns the account for a normalized identity or an
	// error wrapping ErrNotFound.
	GetByIdentity(ctx context.Context, identity string) (*Account, error)

	// GetByID returns the account with the given ID or an error wrapping
	// ErrNotFound.
	GetByID(ctx context.Context, id ulid.ULID) (*Account, error)

	// UpdateSecret replaces the stored digest. Returns an error wrapping
	// ErrNotFound if the account no longer exists.
	UpdateSecret(ctx context.Context, id ulid.ULID, digest string) error
}
