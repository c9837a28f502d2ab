// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lavendrix Contributors

// Package mocks provides testify mocks for the auth package interfaces.
package mocks

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/mock"

	"github.com/lavendrix/credentiald/internal/auth"
)

type testingT interface {
	mock.TestingT
	Cleanup(func())
}

// MockAccountRepository mocks auth.AccountRepository.
type MockAccountRepository struct {
	mock.Mock
}

var _ auth.AccountRepository = (*MockAccountRepository)(nil)

// NewMockAccountRepository creates a mock that asserts its expectations on cleanup.
func NewMockAccountRepository(t testingT) *MockAccountRepository {
	m := &MockAccountRepository{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockAccountRepository) Create(ctx context.Context, account *auth.Account) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

func (m *MockAccountRepository) GetByIdentity(ctx context.Context, identity string) (*auth.Account, error) {
	args := m.Called(ctx, identity)
	a, _ := args.Get(0).(*auth.Account)
	return a, args.Error(1)
}

func (m *MockAccountRepository) GetByID(ctx context.Context, id ulid.ULID) (*auth.Account, error) {
	args := m.Called(ctx, id)
	a, _ := args.Get(0).(*auth.Account)
	return a, args.Error(1)
}

func (m *MockAccountRepository) UpdateSecret(ctx context.Context, id ulid.ULID, digest string) error {
	args := m.Called(ctx, id, digest)
	return args.Error(0)
}

// MockNotifier mocks auth.Notifier.
type MockNotifier struct {
	mock.Mock
}

var _ auth.Notifier = (*MockNotifier)(nil)

// NewMockNotifier creates a mock that asserts its expectations on cleanup.
func NewMockNotifier(t testingT) *MockNotifier {
	m := &MockNotifier{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockNotifier) SendWelcome(ctx context.Context, to, name string) error {
	args := m.Called(ctx, to, name)
	return args.Error(0)
}

func (m *MockNotifier) SendPasswordReset(ctx context.Context, to, name, link string, expiresAt time.Time) error {
	args := m.Called(ctx, to, name, link, expiresAt)
	return args.Error(0)
}

// MockUsedTokenStore mocks auth.UsedTokenStore.
type MockUsedTokenStore struct {
	mock.Mock
}

var _ auth.UsedTokenStore = (*MockUsedTokenStore)(nil)

// NewMockUsedTokenStore creates a mock that asserts its expectations on cleanup.
func NewMockUsedTokenStore(t testingT) *MockUsedTokenStore {
	m := &MockUsedTokenStore{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockUsedTokenStore) MarkUsed(ctx context.Context, tokenID string, expiresAt time.Time) (bool, error) {
	args := m.Called(ctx, tokenID, expiresAt)
	return args.Bool(0), args.Error(1)
}

// MockRecorder mocks auth.Recorder.
type MockRecorder struct {
	mock.Mock
}

var _ auth.Recorder = (*MockRecorder)(nil)

// NewMockRecorder creates a mock that asserts its expectations on cleanup.
func NewMockRecorder(t testingT) *MockRecorder {
	m := &MockRecorder{}
	m.Mock.Test(t)
	t.Cleanup(func() { m.AssertExpectations(t) })
	return m
}

func (m *MockRecorder) RecordAuthOperation(operation, outcome string) {
	m.Called(operation, outcome)
}
