// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lavendrix Contributors

package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/lavendrix/credentiald/pkg/errutil"
)

// MaxPasswordLength bounds the plaintext accepted for hashing, in bytes.
const MaxPasswordLength = 1024

// DefaultMailTimeout bounds a single outbound email when ServiceDeps leaves
// MailTimeout unset.
const DefaultMailTimeout = 10 * time.Second

const dummyPassword = "credentiald-timing-equalization"

var tracer = otel.Tracer("github.com/lavendrix/credentiald/internal/auth")

// Tokens mints and verifies bearer tokens.
type Tokens interface {
	Issue(subject ulid.ULID, purpose Purpose) (*IssuedToken, error)
	Verify(token string) (*Claims, error)
}

// Notifier delivers account emails.
type Notifier interface {
	SendWelcome(ctx context.Context, to, name string) error
	SendPasswordReset(ctx context.Context, to, name, link string, expiresAt time.Time) error
}

// Recorder receives one sample per finished operation. outcome is
// "success" or the error code.
type Recorder interface {
	RecordAuthOperation(operation, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordAuthOperation(string, string) {}

// ServiceDeps are the collaborators of Service. Logger, Recorder and
// MailTimeout are optional.
type ServiceDeps struct {
	Accounts      AccountRepository
	Hasher        PasswordHasher
	Tokens        Tokens
	UsedTokens    UsedTokenStore
	Notifier      Notifier
	ResetLinkBase string
	MailTimeout   time.Duration
	Logger        *slog.Logger
	Recorder      Recorder
}

// Service implements registration, login and the password reset handshake.
type Service struct {
	accounts    AccountRepository
	hasher      PasswordHasher
	tokens      Tokens
	usedTokens  UsedTokenStore
	notifier    Notifier
	resetBase   *url.URL
	mailTimeout time.Duration
	logger      *slog.Logger
	recorder    Recorder

	// dummyDigest is verified when a login names an unknown identity, so
	// both failure paths cost one hash comparison.
	dummyDigest string
}

// RegisterResult describes a successful registration. The account exists
// regardless of WelcomeSent.
type RegisterResult struct {
	Account     *Account
	WelcomeSent bool
	WelcomeErr  error
}

// LoginResult carries a session token and the public profile.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	Account   *Account
}

// NewService validates deps and creates a Service.
func NewService(deps ServiceDeps) (*Service, error) {
	switch {
	case deps.Accounts == nil:
		return nil, oops.Code("AUTH_SERVICE_CONFIG").Errorf("account repository is required")
	case deps.Hasher == nil:
		return nil, oops.Code("AUTH_SERVICE_CONFIG").Errorf("password hasher is required")
	case deps.Tokens == nil:
		return nil, oops.Code("AUTH_SERVICE_CONFIG").Errorf("token issuer is required")
	case deps.UsedTokens == nil:
		return nil, oops.Code("AUTH_SERVICE_CONFIG").Errorf("used token store is required")
	case deps.Notifier == nil:
		return nil, oops.Code("AUTH_SERVICE_CONFIG").Errorf("notifier is required")
	}

	base, err := url.Parse(deps.ResetLinkBase)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, oops.Code("AUTH_SERVICE_CONFIG").
			With("reset_link_base", deps.ResetLinkBase).
			Errorf("reset link base must be an absolute URL")
	}

	dummy, err := deps.Hasher.Hash(dummyPassword)
	if err != nil {
		return nil, oops.Code("AUTH_SERVICE_CONFIG").With("operation", "hash dummy password").Wrap(err)
	}

	s := &Service{
		accounts:    deps.Accounts,
		hasher:      deps.Hasher,
		tokens:      deps.Tokens,
		usedTokens:  deps.UsedTokens,
		notifier:    deps.Notifier,
		resetBase:   base,
		mailTimeout: deps.MailTimeout,
		logger:      deps.Logger,
		recorder:    deps.Recorder,
		dummyDigest: dummy,
	}
	if s.mailTimeout <= 0 {
		s.mailTimeout = DefaultMailTimeout
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.recorder == nil {
		s.recorder = nopRecorder{}
	}
	return s, nil
}

// Register creates an account and then attempts the welcome email. A mail
// failure is reported in the result, not as an error.
func (s *Service) Register(ctx context.Context, identity, displayName, password string) (res *RegisterResult, err error) {
	ctx, done := s.observe(ctx, "register")
	defer func() { done(err) }()

	if strings.TrimSpace(identity) == "" || strings.TrimSpace(displayName) == "" || password == "" {
		return nil, validationError("name, email and password are required")
	}
	if len(password) > MaxPasswordLength {
		return nil, validationError("password is too long")
	}
	normalized, err := NormalizeIdentity(identity)
	if err != nil {
		return nil, err
	}
	name, err := NormalizeDisplayName(displayName)
	if err != nil {
		return nil, err
	}

	if _, lookupErr := s.accounts.GetByIdentity(ctx, normalized); lookupErr == nil {
		return nil, alreadyExists()
	} else if !errors.Is(lookupErr, ErrNotFound) {
		return nil, s.dependencyFailure("lookup account", lookupErr)
	}

	digest, err := s.hasher.Hash(password)
	if err != nil {
		return nil, s.internalError("hash password", err)
	}
	account, err := NewAccount(normalized, name, digest)
	if err != nil {
		return nil, s.internalError("build account", err)
	}
	if createErr := s.accounts.Create(ctx, account); createErr != nil {
		if errors.Is(createErr, ErrAlreadyExists) {
			return nil, alreadyExists()
		}
		return nil, s.dependencyFailure("create account", createErr)
	}

	s.logger.InfoContext(ctx, "account registered", "account_id", account.ID.String())

	res = &RegisterResult{Account: account, WelcomeSent: true}
	mailCtx, cancel := context.WithTimeout(ctx, s.mailTimeout)
	defer cancel()
	if mailErr := s.notifier.SendWelcome(mailCtx, account.Identity, account.DisplayName); mailErr != nil {
		res.WelcomeSent = false
		res.WelcomeErr = s.dependencyFailure("send welcome email", mailErr)
	}
	return res, nil
}

// Login verifies credentials and mints a session token. Unknown identities
// and wrong passwords produce the same error after the same amount of work.
func (s *Service) Login(ctx context.Context, identity, password string) (res *LoginResult, err error) {
	ctx, done := s.observe(ctx, "login")
	defer func() { done(err) }()

	if strings.TrimSpace(identity) == "" || password == "" {
		return nil, validationError("email and password are required")
	}
	normalized, err := NormalizeIdentity(identity)
	if err != nil {
		return nil, err
	}

	account, err := s.accounts.GetByIdentity(ctx, normalized)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return nil, s.dependencyFailure("lookup account", err)
		}
		s.hasher.Verify(password, s.dummyDigest)
		return nil, invalidCredentials()
	}

	if !s.hasher.Verify(password, account.SecretDigest) {
		return nil, invalidCredentials()
	}
	if s.hasher.NeedsUpgrade(account.SecretDigest) {
		s.logger.InfoContext(ctx, "account digest uses outdated parameters; it is replaced on next password reset",
			"account_id", account.ID.String())
	}

	tok, err := s.tokens.Issue(account.ID, PurposeSession)
	if err != nil {
		return nil, s.internalError("issue session token", err)
	}
	return &LoginResult{Token: tok.Value, ExpiresAt: tok.ExpiresAt, Account: account}, nil
}

// ForgotPassword mails a single-use reset link to an existing account.
func (s *Service) ForgotPassword(ctx context.Context, identity string) (err error) {
	ctx, done := s.observe(ctx, "forgot_password")
	defer func() { done(err) }()

	if strings.TrimSpace(identity) == "" {
		return validationError("email is required")
	}
	normalized, err := NormalizeIdentity(identity)
	if err != nil {
		return err
	}

	account, err := s.accounts.GetByIdentity(ctx, normalized)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return notFound()
		}
		return s.dependencyFailure("lookup account", err)
	}

	tok, err := s.tokens.Issue(account.ID, PurposePasswordReset)
	if err != nil {
		return s.internalError("issue reset token", err)
	}

	mailCtx, cancel := context.WithTimeout(ctx, s.mailTimeout)
	defer cancel()
	if err := s.notifier.SendPasswordReset(mailCtx, account.Identity, account.DisplayName, s.resetLink(tok.Value), tok.ExpiresAt); err != nil {
		return s.dependencyFailure("send reset email", err)
	}

	s.logger.InfoContext(ctx, "password reset requested", "account_id", account.ID.String())
	return nil
}

// ResetPassword redeems a reset token and replaces the account's digest.
// A token works once; the nonce is recorded before the digest is written.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) (err error) {
	ctx, done := s.observe(ctx, "reset_password")
	defer func() { done(err) }()

	if newPassword == "" {
		return validationError("new password is required")
	}
	if len(newPassword) > MaxPasswordLength {
		return validationError("password is too long")
	}
	if token == "" {
		return tokenInvalid("missing")
	}

	claims, err := s.tokens.Verify(token)
	if err != nil {
		if errors.Is(err, ErrTokenExpired) {
			return oops.Code(CodeTokenExpired).Wrapf(ErrTokenExpired, "reset token expired")
		}
		return tokenInvalid("verify")
	}
	if claims.Purpose != PurposePasswordReset {
		return tokenInvalid("purpose")
	}
	accountID, err := claims.AccountID()
	if err != nil {
		return tokenInvalid("subject")
	}

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return notFound()
		}
		return s.dependencyFailure("lookup account", err)
	}

	digest, err := s.hasher.Hash(newPassword)
	if err != nil {
		return s.internalError("hash password", err)
	}

	first, err := s.usedTokens.MarkUsed(ctx, claims.ID, claims.ExpiresAt.Time)
	if err != nil {
		return s.dependencyFailure("record used token", err)
	}
	if !first {
		return oops.Code(CodeTokenUsed).Wrapf(ErrTokenUsed, "reset token already used")
	}

	if err := s.accounts.UpdateSecret(ctx, account.ID, digest); err != nil {
		if errors.Is(err, ErrNotFound) {
			return notFound()
		}
		return s.dependencyFailure("update secret", err)
	}

	s.logger.InfoContext(ctx, "password reset", "account_id", account.ID.String())
	return nil
}

// Account returns the account a verified session subject refers to.
func (s *Service) Account(ctx context.Context, id ulid.ULID) (acct *Account, err error) {
	ctx, done := s.observe(ctx, "account")
	defer func() { done(err) }()

	acct, err = s.accounts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, notFound()
		}
		return nil, s.dependencyFailure("lookup account", err)
	}
	return acct, nil
}

func (s *Service) resetLink(token string) string {
	u := *s.resetBase
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

// observe starts a span and returns a func that ends it and records the
// outcome.
func (s *Service) observe(ctx context.Context, operation string) (context.Context, func(error)) {
	ctx, span := tracer.Start(ctx, "auth."+operation)
	return ctx, func(err error) {
		outcome := "success"
		if err != nil {
			outcome = errutil.Code(err)
			if outcome == "" {
				outcome = CodeInternal
			}
			span.SetStatus(codes.Error, outcome)
		}
		span.SetAttributes(attribute.String("auth.outcome", outcome))
		span.End()
		s.recorder.RecordAuthOperation(operation, outcome)
	}
}

func (s *Service) dependencyFailure(operation string, cause error) error {
	errutil.LogError(s.logger, operation+" failed", cause)
	return oops.Code(CodeDependencyFailure).
		With("operation", operation).
		Wrapf(ErrDependency, "%s failed", operation)
}

func (s *Service) internalError(operation string, cause error) error {
	errutil.LogError(s.logger, operation+" failed", cause)
	return oops.Code(CodeInternal).
		With("operation", operation).
		Wrapf(ErrInternal, "%s failed", operation)
}

func validationError(msg string) error {
	return invalidField("", msg)
}

func alreadyExists() error {
	return oops.Code(CodeAlreadyExists).Wrapf(ErrAlreadyExists, "account already exists")
}

func invalidCredentials() error {
	return oops.Code(CodeInvalidCredentials).Wrapf(ErrInvalidCredentials, "invalid email or password")
}

func notFound() error {
	return oops.Code(CodeNotFound).Wrapf(ErrNotFound, "account not found")
}

func tokenInvalid(stage string) error {
	return oops.Code(CodeTokenInvalid).With("stage", stage).Wrapf(ErrTokenInvalid, "invalid reset token")
}
