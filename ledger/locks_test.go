package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockTable_ExclusivePerKey(t *testing.T) {
	// GIVEN: Key A is held
	// WHEN: Another caller acquires A with a short deadline, and B without one
	// THEN: A times out, B is granted immediately

	table := NewLockTable[string]()
	release, err := table.Acquire(context.Background(), "A")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = table.Acquire(ctx, "A")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	releaseB, err := table.Acquire(context.Background(), "B")
	require.NoError(t, err)
	releaseB()

	release()
	release() // second call is ignored

	again, err := table.Acquire(context.Background(), "A")
	require.NoError(t, err)
	again()
	assert.Equal(t, 0, table.Len(), "idle entries are dropped")
}

func TestLockTable_WaiterGetsLockAfterRelease(t *testing.T) {
	table := NewLockTable[PairKey]()
	key := NewPairKey(1, 2, 1)

	release, err := table.Acquire(context.Background(), key)
	require.NoError(t, err)

	granted := make(chan struct{})
	go func() {
		r, err := table.Acquire(context.Background(), key)
		if err == nil {
			close(granted)
			r()
		}
	}()

	select {
	case <-granted:
		t.Fatal("waiter must block while the key is held")
	case <-time.After(20 * time.Millisecond):
	}

	release()
	select {
	case <-granted:
	case <-time.After(time.Second):
		t.Fatal("waiter was never granted the lock")
	}
}

func TestLockWaitError(t *testing.T) {
	key := NewPairKey(3, 9, 4)

	err := LockWaitError(key, time.Now(), context.DeadlineExceeded)
	var timeout *LockTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, key, timeout.Key)
	assert.True(t, IsRetryable(err))

	err = LockWaitError(key, time.Now(), context.Canceled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, errors.Is(err, ErrLockTimeout))
}

func TestCheckToken(t *testing.T) {
	key := NewPairKey(1, 1, 2)

	assert.ErrorIs(t, CheckToken(nil, key), ErrConsistencyViolation)
	assert.ErrorIs(t, CheckToken(&WriteToken{}, key), ErrConsistencyViolation)

	e := NewEngine(nil)
	assert.NoError(t, CheckToken(e.token, key))
}
