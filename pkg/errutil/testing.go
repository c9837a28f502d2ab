// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Lavendrix Contributors

package errutil

import (
	"errors"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// AssertErrorCode asserts that err is an oops error whose code, as Code
// reports it, equals code. This is the code the HTTP layer maps to a status.
func AssertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	_, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T: %v", err, err)
	assert.Equal(t, code, Code(err), "error: %v", err)
}

// AssertErrorCause asserts the oops code and that err still matches the
// sentinel callers branch on with errors.Is.
func AssertErrorCause(t *testing.T, err error, code string, sentinel error) {
	t.Helper()
	AssertErrorCode(t, err, code)
	assert.True(t, errors.Is(err, sentinel), "expected %v to wrap %v", err, sentinel)
}

// AssertErrorContext asserts that err carries value under key in its oops
// context.
func AssertErrorContext(t *testing.T, err error, key string, value any) {
	t.Helper()
	got, ok := ContextValue(err, key)
	require.True(t, ok, "context key %q missing from %v", key, err)
	assert.Equal(t, value, got)
}
