package lock

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corral-io/corral/internal/model"
	"github.com/corral-io/corral/internal/pubsub"
	"github.com/corral-io/corral/internal/store"
)

const testProject = "test-project"

func newTestService(t *testing.T) (*Service, *store.Store, *pubsub.Bus) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	bus := pubsub.NewBus()
	return NewService(st, bus), st, bus
}

// seedStates creates one resident deployed state per id, using the id as
// both the internal and the external identifier.
func seedStates(t *testing.T, st *store.Store, ids ...string) {
	t.Helper()
	ctx := context.Background()
	db, err := st.Project(ctx, testProject)
	require.NoError(t, err)

	now := time.Now().UTC()
	err = db.WithTx(ctx, func(tx *store.Tx) error {
		for _, id := range ids {
			state := &model.InstanceState{
				ID:         id,
				InstanceID: "instance-" + id,
				Kind:       model.KindUnit,
				Source:     model.SourceResident,
				Status:     model.StatusDeployed,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := tx.InsertInstanceState(ctx, state); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
}

func TestTryLockEmptyRequest(t *testing.T) {
	svc, _, _ := newTestService(t)

	token, locked, err := svc.TryLock(context.Background(), testProject, TryLockRequest{})
	require.NoError(t, err)
	assert.Empty(t, token)
	assert.Empty(t, locked)
}

func TestTryLockAcquiresAll(t *testing.T) {
	svc, st, _ := newTestService(t)
	seedStates(t, st, "a", "b")
	ctx := context.Background()

	token, locked, err := svc.TryLock(ctx, testProject, TryLockRequest{
		StateIDs: []string{"a", "b", "a", ""},
		Meta:     "deploy",
	})
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.ElementsMatch(t, []string{"a", "b"}, locked)

	for _, id := range []string{"a", "b"} {
		held, err := svc.IsLocked(ctx, testProject, id)
		require.NoError(t, err)
		assert.True(t, held, id)
	}
}

func TestTryLockIsAllOrNothing(t *testing.T) {
	svc, st, _ := newTestService(t)
	seedStates(t, st, "a", "b")
	ctx := context.Background()

	_, _, err := svc.TryLock(ctx, testProject, TryLockRequest{StateIDs: []string{"a"}})
	require.NoError(t, err)

	token, locked, err := svc.TryLock(ctx, testProject, TryLockRequest{StateIDs: []string{"a", "b"}})
	require.NoError(t, err)
	assert.Empty(t, token)
	assert.Empty(t, locked)

	held, err := svc.IsLocked(ctx, testProject, "b")
	require.NoError(t, err)
	assert.False(t, held, "the failed attempt must not lock the available subset")
}

func TestTryLockPartialLocksAvailableSubset(t *testing.T) {
	svc, st, _ := newTestService(t)
	seedStates(t, st, "a", "b", "c")
	ctx := context.Background()

	_, _, err := svc.TryLock(ctx, testProject, TryLockRequest{StateIDs: []string{"b"}})
	require.NoError(t, err)

	token, locked, err := svc.TryLock(ctx, testProject, TryLockRequest{
		StateIDs:     []string{"a", "b", "c"},
		AllowPartial: true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.ElementsMatch(t, []string{"a", "c"}, locked)
}

func TestTryLockPartialNothingAvailableStillReturnsToken(t *testing.T) {
	svc, st, _ := newTestService(t)
	seedStates(t, st, "a")
	ctx := context.Background()

	_, _, err := svc.TryLock(ctx, testProject, TryLockRequest{StateIDs: []string{"a"}})
	require.NoError(t, err)

	token, locked, err := svc.TryLock(ctx, testProject, TryLockRequest{
		StateIDs:     []string{"a"},
		AllowPartial: true,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, token, "partial callers without their own token get one even when nothing was locked")
	assert.Empty(t, locked)

	custom := uuid.NewString()
	token, locked, err = svc.TryLock(ctx, testProject, TryLockRequest{
		StateIDs:     []string{"a"},
		AllowPartial: true,
		Token:        custom,
	})
	require.NoError(t, err)
	assert.Empty(t, token, "a caller-supplied token is not echoed back for a no-op attempt")
	assert.Empty(t, locked)
}

func TestTryLockAdoptsCallerToken(t *testing.T) {
	svc, st, _ := newTestService(t)
	seedStates(t, st, "a")

	token, locked, err := svc.TryLock(context.Background(), testProject, TryLockRequest{
		StateIDs: []string{"a"},
		Token:    "my-token",
	})
	require.NoError(t, err)
	assert.Equal(t, "my-token", token)
	assert.Equal(t, []string{"a"}, locked)
}

func TestTryLockActionFailureAbortsEverything(t *testing.T) {
	svc, st, _ := newTestService(t)
	seedStates(t, st, "a")
	ctx := context.Background()

	boom := assert.AnError
	_, _, err := svc.TryLock(ctx, testProject, TryLockRequest{
		StateIDs: []string{"a"},
		Action: func(ctx context.Context, tx *store.Tx, stateIDs []string) error {
			return boom
		},
	})
	require.ErrorIs(t, err, boom)

	held, err := svc.IsLocked(ctx, testProject, "a")
	require.NoError(t, err)
	assert.False(t, held, "the lock row commits or aborts together with the action")
}

func TestUnlockVerifiesToken(t *testing.T) {
	svc, st, _ := newTestService(t)
	seedStates(t, st, "a", "b")
	ctx := context.Background()

	token, _, err := svc.TryLock(ctx, testProject, TryLockRequest{StateIDs: []string{"a", "b"}})
	require.NoError(t, err)

	err = svc.Unlock(ctx, testProject, []string{"a", "b"}, "wrong-token", nil)
	require.ErrorIs(t, err, model.ErrLockLost)

	// Nothing was released by the failed attempt.
	held, err := svc.IsLocked(ctx, testProject, "a")
	require.NoError(t, err)
	assert.True(t, held)

	require.NoError(t, svc.Unlock(ctx, testProject, []string{"a", "b"}, token, nil))
	held, err = svc.IsLocked(ctx, testProject, "a")
	require.NoError(t, err)
	assert.False(t, held)
}

func TestUnlockMissingLockIsLockLost(t *testing.T) {
	svc, st, _ := newTestService(t)
	seedStates(t, st, "a", "b")
	ctx := context.Background()

	token, _, err := svc.TryLock(ctx, testProject, TryLockRequest{StateIDs: []string{"a"}})
	require.NoError(t, err)

	err = svc.Unlock(ctx, testProject, []string{"a", "b"}, token, nil)
	require.ErrorIs(t, err, model.ErrLockLost)

	held, err := svc.IsLocked(ctx, testProject, "a")
	require.NoError(t, err)
	assert.True(t, held, "a partially-matching unlock releases nothing")
}

func TestUnlockPublishesUnlockedEvent(t *testing.T) {
	svc, st, bus := newTestService(t)
	seedStates(t, st, "a")
	ctx := context.Background()

	token, _, err := svc.TryLock(ctx, testProject, TryLockRequest{StateIDs: []string{"a"}})
	require.NoError(t, err)

	events, cancel := bus.Subscribe(pubsub.InstanceLockTopic(testProject))
	defer cancel()

	require.NoError(t, svc.Unlock(ctx, testProject, []string{"a"}, token, nil))

	select {
	case msg := <-events:
		ev, ok := msg.Payload.(model.InstanceLockEvent)
		require.True(t, ok)
		assert.Equal(t, model.LockEventUnlocked, ev.Type)
		assert.Equal(t, []string{"a"}, ev.StateIDs)
	case <-time.After(time.Second):
		t.Fatal("no unlock event published")
	}
}

func TestUnlockUnconditionallyIgnoresToken(t *testing.T) {
	svc, st, _ := newTestService(t)
	seedStates(t, st, "a")
	ctx := context.Background()

	_, _, err := svc.TryLock(ctx, testProject, TryLockRequest{StateIDs: []string{"a"}})
	require.NoError(t, err)

	require.NoError(t, svc.UnlockUnconditionally(ctx, testProject, []string{"a"}))

	held, err := svc.IsLocked(ctx, testProject, "a")
	require.NoError(t, err)
	assert.False(t, held)
}

func TestLockBlocksUntilUnlockEvent(t *testing.T) {
	svc, st, _ := newTestService(t)
	seedStates(t, st, "a")
	ctx := context.Background()

	holder, _, err := svc.TryLock(ctx, testProject, TryLockRequest{StateIDs: []string{"a"}})
	require.NoError(t, err)

	type outcome struct {
		token string
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		token, _, err := svc.Lock(ctx, testProject, LockRequest{
			StateIDs:      []string{"a"},
			EventWaitTime: 10 * time.Second,
		})
		done <- outcome{token: token, err: err}
	}()

	select {
	case got := <-done:
		t.Fatalf("lock returned while held: %+v", got)
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, svc.Unlock(ctx, testProject, []string{"a"}, holder, nil))

	select {
	case got := <-done:
		require.NoError(t, got.err)
		assert.NotEmpty(t, got.token)
	case <-time.After(5 * time.Second):
		t.Fatal("lock did not wake up on the unlock event")
	}
}

func TestLockTimeoutRetriesStorage(t *testing.T) {
	svc, st, _ := newTestService(t)
	seedStates(t, st, "a")
	ctx := context.Background()

	_, _, err := svc.TryLock(ctx, testProject, TryLockRequest{StateIDs: []string{"a"}})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, _, err := svc.Lock(ctx, testProject, LockRequest{
			StateIDs:      []string{"a"},
			EventWaitTime: 25 * time.Millisecond,
		})
		done <- err
	}()

	// Remove the lock row directly, bypassing the bus: the waiter must
	// still make progress via its timeout-driven retry.
	db, err := st.Project(ctx, testProject)
	require.NoError(t, err)
	err = db.WithTx(ctx, func(tx *store.Tx) error {
		_, err := tx.DeleteLocks(ctx, []string{"a"})
		return err
	})
	require.NoError(t, err)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("lock did not retry after the event wait elapsed")
	}
}

func TestLockCancelledContextAborts(t *testing.T) {
	svc, st, _ := newTestService(t)
	seedStates(t, st, "a")
	ctx := context.Background()

	_, _, err := svc.TryLock(ctx, testProject, TryLockRequest{StateIDs: []string{"a"}})
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()

	_, _, err = svc.Lock(waitCtx, testProject, LockRequest{
		StateIDs:      []string{"a"},
		EventWaitTime: 10 * time.Second,
	})
	require.ErrorIs(t, err, model.ErrAborted)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// Abort performs no implicit cleanup: the holder's lock is untouched.
	held, err := svc.IsLocked(ctx, testProject, "a")
	require.NoError(t, err)
	assert.True(t, held)
}

func TestLockSharesOneTokenAcrossRetries(t *testing.T) {
	svc, st, _ := newTestService(t)
	seedStates(t, st, "a", "b")
	ctx := context.Background()

	holder, _, err := svc.TryLock(ctx, testProject, TryLockRequest{StateIDs: []string{"b"}})
	require.NoError(t, err)

	done := make(chan string, 1)
	go func() {
		token, locked, err := svc.Lock(ctx, testProject, LockRequest{
			StateIDs:      []string{"a", "b"},
			AllowPartial:  true,
			EventWaitTime: 10 * time.Second,
		})
		if err != nil || len(locked) != 2 {
			done <- ""
			return
		}
		done <- token
	}()

	// Give the waiter time to grab "a" and block on "b".
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, svc.Unlock(ctx, testProject, []string{"b"}, holder, nil))

	var token string
	select {
	case token = <-done:
		require.NotEmpty(t, token)
	case <-time.After(5 * time.Second):
		t.Fatal("lock did not complete")
	}

	db, err := st.Project(ctx, testProject)
	require.NoError(t, err)
	err = db.WithTx(ctx, func(tx *store.Tx) error {
		locks, err := tx.GetLocks(ctx, []string{"a", "b"})
		require.NoError(t, err)
		require.Len(t, locks, 2)
		for _, l := range locks {
			assert.Equal(t, token, l.Token)
		}
		return nil
	})
	require.NoError(t, err)
}
