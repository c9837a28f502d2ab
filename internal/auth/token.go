// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lavendrix Contributors

package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// Purpose names what a token may be used for.
type Purpose string

// Token purposes.
const (
	PurposeSession       Purpose = "session"
	PurposePasswordReset Purpose = "password_reset"
)

// Token lifetimes. They are fixed per purpose; callers cannot choose one.
const (
	SessionTTL       = time.Hour
	PasswordResetTTL = 15 * time.Minute
)

// MinSigningKeyLength is the shortest HS256 key NewTokenIssuer accepts.
const MinSigningKeyLength = 32

const tokenIssuer = "credentiald"

// TTL returns the lifetime of tokens minted for p, or zero for an unknown purpose.
func (p Purpose) TTL() time.Duration {
	switch p {
	case PurposeSession:
		return SessionTTL
	case PurposePasswordReset:
		return PasswordResetTTL
	default:
		return 0
	}
}

// Valid reports whether p is a known purpose.
func (p Purpose) Valid() bool {
	return p.TTL() > 0
}

// Claims is the token payload.
type Claims struct {
	Purpose Purpose `json:"purpose"`
	jwt.RegisteredClaims
}

// AccountID parses the subject claim.
func (c *Claims) AccountID() (ulid.ULID, error) {
	id, err := ulid.Parse(c.Subject)
	if err != nil {
		return ulid.ULID{}, oops.Code(CodeTokenInvalid).Wrap(ErrTokenInvalid)
	}
	return id, nil
}

// IssuedToken is a freshly minted token.
type IssuedToken struct {
	Value     string
	ID        string
	Purpose   Purpose
	ExpiresAt time.Time
}

// TokenIssuer mints and verifies HS256 bearer tokens with a single
// process-wide key.
type TokenIssuer struct {
	key    []byte
	now    func() time.Time
	parser *jwt.Parser
}

// TokenIssuerOption configures a TokenIssuer.
type TokenIssuerOption func(*TokenIssuer)

// WithClock overrides the time source used for issuing and expiry checks.
func WithClock(now func() time.Time) TokenIssuerOption {
	return func(i *TokenIssuer) {
		i.now = now
	}
}

// NewTokenIssuer creates an issuer for the given signing key.
func NewTokenIssuer(key []byte, opts ...TokenIssuerOption) (*TokenIssuer, error) {
	if len(key) < MinSigningKeyLength {
		return nil, oops.Code("TOKEN_KEY_INVALID").
			With("length", len(key)).
			Errorf("signing key must be at least %d bytes", MinSigningKeyLength)
	}
	i := &TokenIssuer{
		key: append([]byte(nil), key...),
		now: time.Now,
		// Registered claims are checked by hand below against the injected clock.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Issue mints a token for subject with the lifetime fixed by purpose.
func (i *TokenIssuer) Issue(subject ulid.ULID, purpose Purpose) (*IssuedToken, error) {
	if !purpose.Valid() {
		return nil, oops.Code("TOKEN_PURPOSE_INVALID").With("purpose", purpose).Errorf("unknown token purpose")
	}
	return i.issue(subject, purpose, purpose.TTL())
}

func (i *TokenIssuer) issue(subject ulid.ULID, purpose Purpose, ttl time.Duration) (*IssuedToken, error) {
	now := i.now()
	id := ulid.Make().String()
	claims := Claims{
		Purpose: purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   subject.String(),
			ID:        id,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return nil, oops.Code("TOKEN_SIGN_FAILED").With("purpose", purpose).Wrap(err)
	}

	return &IssuedToken{
		Value:     signed,
		ID:        id,
		Purpose:   purpose,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Verify checks the signature, then the payload, then expiry. A token is
// valid strictly before its expiry second. Errors wrap ErrTokenInvalid or
// ErrTokenExpired.
func (i *TokenIssuer) Verify(token string) (*Claims, error) {
	if err := i.verifySignature(token); err != nil {
		return nil, err
	}

	claims := &Claims{}
	if _, err := i.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return i.key, nil
	}); err != nil {
		return nil, invalidToken("parse", err)
	}

	switch {
	case claims.Issuer != tokenIssuer:
		return nil, invalidToken("issuer", nil)
	case !claims.Purpose.Valid():
		return nil, invalidToken("purpose", nil)
	case claims.Subject == "" || claims.ID == "":
		return nil, invalidToken("claims", nil)
	case claims.ExpiresAt == nil:
		return nil, invalidToken("exp", nil)
	}
	if _, err := claims.AccountID(); err != nil {
		return nil, err
	}

	if !i.now().Before(claims.ExpiresAt.Time) {
		return nil, oops.Code(CodeTokenExpired).
			With("purpose", claims.Purpose).
			With("expired_at", claims.ExpiresAt.Time).
			Wrap(ErrTokenExpired)
	}
	return claims, nil
}

// verifySignature checks the HMAC over header and payload before either is
// decoded.
func (i *TokenIssuer) verifySignature(token string) error {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return invalidToken("segments", nil)
	}
	sig, err := i.parser.DecodeSegment(parts[2])
	if err != nil {
		return invalidToken("signature encoding", err)
	}
	if err := jwt.SigningMethodHS256.Verify(parts[0]+"."+parts[1], sig, i.key); err != nil {
		return invalidToken("signature", err)
	}
	return nil
}

func invalidToken(stage string, cause error) error {
	b := oops.Code(CodeTokenInvalid).With("stage", stage)
	if cause != nil {
		b = b.With("cause", cause.Error())
	}
	return b.Wrap(ErrTokenInvalid)
}
