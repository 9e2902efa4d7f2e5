package unlock

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corral-io/corral/internal/model"
	"github.com/corral-io/corral/internal/pubsub"
	"github.com/corral-io/corral/internal/store"
)

const testProject = "test-project"

func newTestSuite(t *testing.T) (*Suite, *pubsub.Bus) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	bus := pubsub.NewBus()
	return NewSuite(st, bus), bus
}

func TestAddAndListMethods(t *testing.T) {
	s, _ := newTestSuite(t)
	ctx := context.Background()

	m1, err := s.AddMethod(ctx, testProject, "owner-passphrase", "passphrase", []byte("wrapped-1"))
	require.NoError(t, err)
	require.NotEmpty(t, m1.ID)

	_, err = s.AddMethod(ctx, testProject, "recovery-key", "recovery", []byte("wrapped-2"))
	require.NoError(t, err)

	methods, err := s.Methods(ctx, testProject)
	require.NoError(t, err)
	require.Len(t, methods, 2)

	names := []string{methods[0].Name, methods[1].Name}
	assert.ElementsMatch(t, []string{"owner-passphrase", "recovery-key"}, names)
}

func TestRemoveLastMethodRefused(t *testing.T) {
	s, _ := newTestSuite(t)
	ctx := context.Background()

	m, err := s.AddMethod(ctx, testProject, "only-one", "passphrase", []byte("wrapped"))
	require.NoError(t, err)

	err = s.RemoveMethod(ctx, testProject, m.ID)
	require.ErrorIs(t, err, model.ErrCannotRemoveLastUnlockMethod)

	methods, err := s.Methods(ctx, testProject)
	require.NoError(t, err)
	assert.Len(t, methods, 1)
}

func TestRemoveMethod(t *testing.T) {
	s, _ := newTestSuite(t)
	ctx := context.Background()

	m1, err := s.AddMethod(ctx, testProject, "first", "passphrase", []byte("w1"))
	require.NoError(t, err)
	_, err = s.AddMethod(ctx, testProject, "second", "keyfile", []byte("w2"))
	require.NoError(t, err)

	require.NoError(t, s.RemoveMethod(ctx, testProject, m1.ID))

	err = s.RemoveMethod(ctx, testProject, "no-such-method")
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestGrantAccessRunsTasksOnce(t *testing.T) {
	s, bus := newTestSuite(t)
	ctx := context.Background()

	events, cancel := bus.Subscribe(pubsub.ProjectUnlockTopic(testProject))
	defer cancel()

	var mu sync.Mutex
	var ran []string
	s.RegisterUnlockTask("panicky", func(context.Context, string) error {
		panic("task exploded")
	})
	s.RegisterUnlockTask("failing", func(context.Context, string) error {
		mu.Lock()
		ran = append(ran, "failing")
		mu.Unlock()
		return assert.AnError
	})
	s.RegisterUnlockTask("ok", func(_ context.Context, projectID string) error {
		mu.Lock()
		ran = append(ran, "ok:"+projectID)
		mu.Unlock()
		return nil
	})

	assert.False(t, s.CheckProjectUnlocked(testProject))
	s.GrantAccess(ctx, testProject)
	assert.True(t, s.CheckProjectUnlocked(testProject))

	// A crashing or failing task never prevents its siblings.
	mu.Lock()
	assert.ElementsMatch(t, []string{"failing", "ok:" + testProject}, ran)
	mu.Unlock()

	require.Len(t, events, 1)
	ev := (<-events).Payload.(model.ProjectUnlockEvent)
	assert.Equal(t, "unlocked", ev.Type)

	// Granting again is a no-op: no second event, no task reruns.
	s.GrantAccess(ctx, testProject)
	assert.Empty(t, events)

	s.RevokeAccess(testProject)
	assert.False(t, s.CheckProjectUnlocked(testProject))
}
