package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/imprimo/internal/interfaces"
)

func TestLockAcquireRelease(t *testing.T) {
	manager := newTestManager(t)
	locks := manager.LockStorage()
	ctx := context.Background()

	require.NoError(t, locks.Acquire(ctx, "example.com", "job-1", 600))

	// second acquire on the same domain is refused
	err := locks.Acquire(ctx, "example.com", "job-2", 600)
	assert.ErrorIs(t, err, interfaces.ErrLockHeld)

	// a different domain is independent
	require.NoError(t, locks.Acquire(ctx, "other.com", "job-3", 600))

	lock, err := locks.Get(ctx, "example.com")
	require.NoError(t, err)
	assert.Equal(t, "job-1", lock.HeldByJobID)
	assert.False(t, lock.AcquiredAt.IsZero())

	require.NoError(t, locks.Release(ctx, "example.com"))
	_, err = locks.Get(ctx, "example.com")
	assert.ErrorIs(t, err, interfaces.ErrLockNotFound)

	// released domain can be taken again
	assert.NoError(t, locks.Acquire(ctx, "example.com", "job-2", 600))
}

func TestLockReleaseIdempotent(t *testing.T) {
	manager := newTestManager(t)
	locks := manager.LockStorage()
	ctx := context.Background()

	assert.NoError(t, locks.Release(ctx, "never-held.com"))
}

func TestLockList(t *testing.T) {
	manager := newTestManager(t)
	locks := manager.LockStorage()
	ctx := context.Background()

	require.NoError(t, locks.Acquire(ctx, "a.com", "job-1", 600))
	require.NoError(t, locks.Acquire(ctx, "b.com", "job-2", 600))

	held, err := locks.List(ctx)
	require.NoError(t, err)
	assert.Len(t, held, 2)
}
