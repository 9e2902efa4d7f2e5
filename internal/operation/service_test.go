package operation

import (
	"context"
	"testing"
	"time"

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

func TestOperationLifecycle(t *testing.T) {
	svc, st, bus := newTestService(t)
	seedStates(t, st, "a", "b")
	ctx := context.Background()

	events, cancel := bus.Subscribe(pubsub.OperationTopic(testProject))
	defer cancel()

	op, err := svc.Start(ctx, testProject, "deploy", map[string]any{"force": true}, []string{"a", "b"})
	require.NoError(t, err)
	require.NotEmpty(t, op.ID)
	assert.Nil(t, op.FinishedAt)

	require.Len(t, events, 1)
	ev := (<-events).Payload.(model.OperationEvent)
	assert.Equal(t, "updated", ev.Type)
	assert.Equal(t, op.ID, ev.Operation.ID)

	require.NoError(t, svc.SetInstanceProgress(ctx, testProject, op.ID, "a", "done", ""))
	require.NoError(t, svc.SetInstanceProgress(ctx, testProject, op.ID, "b", "failed", "container exited"))

	got, states, err := svc.Get(ctx, testProject, op.ID)
	require.NoError(t, err)
	assert.Equal(t, "deploy", got.Type)
	assert.Equal(t, map[string]any{"force": true}, got.Options)
	require.Len(t, states, 2)

	byState := make(map[string]model.InstanceOperationState)
	for _, s := range states {
		byState[s.StateID] = s
	}
	assert.Equal(t, "done", byState["a"].Status)
	assert.Equal(t, "failed", byState["b"].Status)
	assert.Equal(t, "container exited", byState["b"].Message)

	finished, err := svc.Finish(ctx, testProject, op.ID)
	require.NoError(t, err)
	require.NotNil(t, finished.FinishedAt)

	require.Len(t, events, 1, "finishing publishes the final row")
}

func TestGetUnknownOperation(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, _, err := svc.Get(context.Background(), testProject, "missing")
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestListNewestFirst(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Start(ctx, testProject, "deploy", nil, nil)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	second, err := svc.Start(ctx, testProject, "forget", nil, nil)
	require.NoError(t, err)

	ops, err := svc.List(ctx, testProject, 10)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	assert.Equal(t, second.ID, ops[0].ID)
	assert.Equal(t, first.ID, ops[1].ID)

	limited, err := svc.List(ctx, testProject, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, second.ID, limited[0].ID)
}
