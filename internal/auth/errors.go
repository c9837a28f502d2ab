// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lavendrix Contributors

package auth

import (
	"errors"

	"github.com/samber/oops"
)

// ReasonKey is the oops context key holding a validation message that is
// safe to return to callers.
const ReasonKey = "reason"

// Error codes returned by Service. Each one wraps the matching sentinel
// below, so both errutil.Code and errors.Is work on service errors.
const (
	CodeValidation         = "AUTH_VALIDATION"
	CodeAlreadyExists      = "AUTH_ALREADY_EXISTS"
	CodeInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	CodeNotFound           = "AUTH_NOT_FOUND"
	CodeDependencyFailure  = "AUTH_DEPENDENCY_FAILURE"
	CodeInternal           = "AUTH_INTERNAL"
	CodeTokenInvalid       = "TOKEN_INVALID"
	CodeTokenExpired       = "TOKEN_EXPIRED"
	CodeTokenUsed          = "TOKEN_USED"
)

var (
	// ErrValidation is returned for malformed or missing input.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when an account with the same identity exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidCredentials covers both unknown identities and wrong passwords.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrTokenInvalid is returned for tokens with a bad signature, a bad
	// shape or an unexpected purpose.
	ErrTokenInvalid = errors.New("token invalid")

	// ErrTokenExpired is returned for correctly signed tokens past their expiry.
	ErrTokenExpired = errors.New("token expired")

	// ErrTokenUsed is returned when a reset token is presented a second time.
	ErrTokenUsed = errors.New("token already used")

	// ErrDependency is returned when the store or the mail transport fails.
	ErrDependency = errors.New("dependency unavailable")

	// ErrInternal is returned for unexpected faults.
	ErrInternal = errors.New("internal error")
)

func invalidField(field, reason string) error {
	b := oops.Code(CodeValidation).With(ReasonKey, reason)
	if field != "" {
		b = b.With("field", field)
	}
	return b.Wrapf(ErrValidation, "%s", reason)
}
