package es

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestingEnv is an in-memory Env bound to a test, torn down via t.Cleanup.
type TestingEnv struct {
	*Env
	t *testing.T
}

func StartTestEnv(t *testing.T, opts ...EnvOption) *TestingEnv {
	t.Helper()

	allOpts := append([]EnvOption{WithInMemory(), WithCtx(t.Context())}, opts...)
	e, err := NewEnv(allOpts...)
	require.NoError(t, err)
	t.Cleanup(e.Shutdown)

	return &TestingEnv{Env: e, t: t}
}

// MustAppend appends directly to the store and fails the test on error.
func (e *TestingEnv) MustAppend(
	ctx context.Context,
	aggType, aggID string,
	expect Version,
	events ...any,
) {
	e.t.Helper()
	require.NoError(e.t, e.Append(ctx, aggType, aggID, expect, events...))
}
