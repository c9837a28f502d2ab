// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lavendrix Contributors

// Package postgres provides PostgreSQL implementations of auth repositories.
package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/lavendrix/credentiald/internal/auth"
)

// DB is the subset of pgxpool.Pool the repositories use.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const identityConstraint = "accounts_identity_key"

// AccountRepository implements auth.AccountRepository using PostgreSQL.
type AccountRepository struct {
	db DB
}

var _ auth.AccountRepository = (*AccountRepository)(nil)

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(db DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create inserts an account. The unique constraint on identity decides
// concurrent registrations.
func (r *AccountRepository) Create(ctx context.Context, account *auth.Account) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO accounts (id, identity, display_name, secret_digest, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`,
		account.ID.String(),
		account.Identity,
		account.DisplayName,
		account.SecretDigest,
		account.CreatedAt,
		account.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation && pgErr.ConstraintName == identityConstraint {
			return oops.Code(auth.CodeAlreadyExists).
				With("identity", account.Identity).
				Wrap(auth.ErrAlreadyExists)
		}
		return oops.Code("ACCOUNT_CREATE_FAILED").
			With("operation", "insert account").
			With("id", account.ID.String()).
			Wrap(err)
	}
	return nil
}

// GetByIdentity retrieves an account by its normalized identity.
func (r *AccountRepository) GetByIdentity(ctx context.Context, identity string) (*auth.Account, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, identity, display_name, secret_digest, created_at, updated_at
		FROM accounts
		WHERE identity = $1
	`, identity)

	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("identity", identity).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_BY_IDENTITY_FAILED").
			With("operation", "get account by identity").
			Wrap(err)
	}
	return account, nil
}

// GetByID retrieves an account by ID.
func (r *AccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, identity, display_name, secret_digest, created_at, updated_at
		FROM accounts
		WHERE id = $1
	`, id.String())

	account, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	if err != nil {
		return nil, oops.Code("ACCOUNT_GET_BY_ID_FAILED").
			With("operation", "get account by id").
			With("id", id.String()).
			Wrap(err)
	}
	return account, nil
}

// UpdateSecret replaces an account's digest.
func (r *AccountRepository) UpdateSecret(ctx context.Context, id ulid.ULID, digest string) error {
	result, err := r.db.Exec(ctx, `
		UPDATE accounts SET secret_digest = $2, updated_at = $3
		WHERE id = $1
	`, id.String(), digest, time.Now().UTC())
	if err != nil {
		return oops.Code("ACCOUNT_UPDATE_SECRET_FAILED").
			With("operation", "update secret").
			With("id", id.String()).
			Wrap(err)
	}
	if result.RowsAffected() == 0 {
		return oops.Code("ACCOUNT_NOT_FOUND").
			With("id", id.String()).
			Wrap(auth.ErrNotFound)
	}
	return nil
}

func scanAccount(row pgx.Row) (*auth.Account, error) {
	var (
		a     auth.Account
		rawID string
	)
	if err := row.Scan(&rawID, &a.Identity, &a.DisplayName, &a.SecretDigest, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err //nolint:wrapcheck // callers wrap with operation context
	}
	id, err := ulid.Parse(rawID)
	if err != nil {
		return nil, oops.Code("ACCOUNT_CORRUPT_ID").With("raw_id", rawID).Wrap(err)
	}
	a.ID = id
	return &a, nil
}
