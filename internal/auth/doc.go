// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lavendrix Contributors

// Package auth implements the credential lifecycle: account storage,
// password hashing, signed bearer tokens and the register / login /
// forgot-password / reset-password flows.
//
// # Domain Types
//
// Accounts should be created with NewAccount, which normalizes the identity
// and strips markup from the display name. Repository implementations
// receive pre-validated accounts.
//
// # Services
//
// Service coordinates the four operations. It is created with NewService,
// which validates its dependencies. All errors it returns carry an oops code
// from the Code* constants so transports can map them without string
// matching.
//
// # Tokens
//
// TokenIssuer mints HS256 tokens for a Purpose with a fixed TTL. Password
// reset tokens carry a nonce that UsedTokenStore records so each reset link
// works once.
package auth
