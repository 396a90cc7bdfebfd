package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentd-dev/agentd/pkg/types"
)

func TestLocksAcquireRelease(t *testing.T) {
	locks := NewLocks()

	token, err := locks.Acquire(context.Background(), "ses_a")
	require.NoError(t, err)
	assert.True(t, locks.Locked("ses_a"))

	_, err = locks.Acquire(context.Background(), "ses_a")
	require.Error(t, err)
	assert.Equal(t, types.ErrorBusy, types.KindOf(err))

	// A different session is unaffected.
	other, err := locks.Acquire(context.Background(), "ses_b")
	require.NoError(t, err)
	other.Release()

	token.Release()
	assert.False(t, locks.Locked("ses_a"))

	// Reacquire works after release.
	token, err = locks.Acquire(context.Background(), "ses_a")
	require.NoError(t, err)
	token.Release()
}

func TestLocksCancelFiresSignal(t *testing.T) {
	locks := NewLocks()

	token, err := locks.Acquire(context.Background(), "ses_a")
	require.NoError(t, err)
	defer token.Release()

	require.NoError(t, token.Context().Err())
	assert.True(t, locks.Cancel("ses_a"))
	assert.Error(t, token.Context().Err())

	// The lock stays held until the turn releases it.
	assert.True(t, locks.Locked("ses_a"))
}

func TestLocksCancelUnknownSession(t *testing.T) {
	locks := NewLocks()
	assert.False(t, locks.Cancel("ses_missing"))
}

func TestLocksReleaseIdempotent(t *testing.T) {
	locks := NewLocks()
	token, err := locks.Acquire(context.Background(), "ses_a")
	require.NoError(t, err)
	token.Release()
	token.Release()
	assert.False(t, locks.Locked("ses_a"))
}

func TestLocksCancelAll(t *testing.T) {
	locks := NewLocks()
	a, err := locks.Acquire(context.Background(), "ses_a")
	require.NoError(t, err)
	b, err := locks.Acquire(context.Background(), "ses_b")
	require.NoError(t, err)

	locks.CancelAll()
	assert.Error(t, a.Context().Err())
	assert.Error(t, b.Context().Err())

	a.Release()
	b.Release()
}
