package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyedLock_SameKeyBlocks(t *testing.T) {
	k := newKeyedLock()

	unlock, err := k.lock(context.Background(), "doc-1")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		u, err := k.lock(context.Background(), "doc-1")
		if err == nil {
			close(acquired)
			u()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held key")
	case <-time.After(20 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("waiter never acquired the released key")
	}
	assert.Eventually(t, func() bool { return k.size() == 0 }, time.Second, time.Millisecond)
}

func TestKeyedLock_DifferentKeysIndependent(t *testing.T) {
	k := newKeyedLock()

	a, err := k.lock(context.Background(), "a")
	require.NoError(t, err)
	b, err := k.lock(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, 2, k.size())

	a()
	b()
	assert.Equal(t, 0, k.size())
}

func TestKeyedLock_ContextCancelled(t *testing.T) {
	k := newKeyedLock()

	unlock, err := k.lock(context.Background(), "page")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = k.lock(ctx, "page")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, k.size())
}

func TestKeyedLock_DoubleUnlockIsSafe(t *testing.T) {
	k := newKeyedLock()

	unlock, err := k.lock(context.Background(), "x")
	require.NoError(t, err)
	unlock()
	unlock()
	assert.Equal(t, 0, k.size())
}
