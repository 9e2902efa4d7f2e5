package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corral-io/corral/internal/destroy"
	"github.com/corral-io/corral/internal/model"
	"github.com/corral-io/corral/internal/pubsub"
	"github.com/corral-io/corral/internal/store"
)

const testProject = "test-project"

type recordingDestroyer struct {
	mu       sync.Mutex
	requests []destroy.Request
}

func (d *recordingDestroyer) DeleteState(_ context.Context, req destroy.Request) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requests = append(d.requests, req)
	return nil
}

func (d *recordingDestroyer) stateIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var ids []string
	for _, r := range d.requests {
		ids = append(ids, r.StateID)
	}
	return ids
}

func newTestManager(t *testing.T) (*Manager, *store.Store, *pubsub.Bus, *recordingDestroyer) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	bus := pubsub.NewBus()
	destroyer := &recordingDestroyer{}
	return NewManager(st, bus, destroyer, nil, nil), st, bus, destroyer
}

type seed struct {
	id       string
	kind     model.InstanceKind
	status   model.InstanceStatus
	parentID string
}

func seedStates(t *testing.T, st *store.Store, seeds ...seed) {
	t.Helper()
	ctx := context.Background()
	db, err := st.Project(ctx, testProject)
	require.NoError(t, err)

	now := time.Now().UTC()
	err = db.WithTx(ctx, func(tx *store.Tx) error {
		for _, s := range seeds {
			state := &model.InstanceState{
				ID:         s.id,
				InstanceID: "instance-" + s.id,
				Kind:       s.kind,
				Source:     model.SourceResident,
				Status:     s.status,
				Model:      &model.InstanceModel{Name: s.id, Type: "type-" + s.id, Kind: s.kind},
				ParentID:   s.parentID,
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

func getStatus(t *testing.T, st *store.Store, stateID string) model.InstanceStatus {
	t.Helper()
	ctx := context.Background()
	db, err := st.Project(ctx, testProject)
	require.NoError(t, err)

	var status model.InstanceStatus
	err = db.WithTx(ctx, func(tx *store.Tx) error {
		state, err := tx.GetInstanceStateByID(ctx, stateID)
		if err != nil {
			return err
		}
		require.NotNil(t, state)
		status = state.Status
		return nil
	})
	require.NoError(t, err)
	return status
}

func TestForgetCascadesThroughComposites(t *testing.T) {
	m, st, bus, destroyer := newTestManager(t)
	ctx := context.Background()

	seedStates(t, st,
		seed{id: "root", kind: model.KindComposite, status: model.StatusDeployed},
		seed{id: "child-unit", kind: model.KindUnit, status: model.StatusDeployed, parentID: "root"},
		seed{id: "child-comp", kind: model.KindComposite, status: model.StatusDegraded, parentID: "root"},
		seed{id: "grandchild", kind: model.KindUnit, status: model.StatusDeployed, parentID: "child-comp"},
		seed{id: "already-gone", kind: model.KindUnit, status: model.StatusUndeployed, parentID: "root"},
		seed{id: "bystander", kind: model.KindUnit, status: model.StatusDeployed},
	)

	events, cancel := bus.Subscribe(pubsub.InstanceStateTopic(testProject))
	defer cancel()

	err := m.ForgetInstanceStates(ctx, testProject, []string{"instance-root"}, ForgetOptions{})
	require.NoError(t, err)

	for _, id := range []string{"root", "child-unit", "child-comp", "grandchild"} {
		assert.Equal(t, model.StatusUndeployed, getStatus(t, st, id), id)
	}
	assert.Equal(t, model.StatusDeployed, getStatus(t, st, "bystander"))

	// Units reached by the cascade get a destroy call; composites do not.
	assert.ElementsMatch(t, []string{"child-unit", "grandchild"}, destroyer.stateIDs())

	var patched []string
	for len(events) > 0 {
		ev := (<-events).Payload.(model.InstanceStateEvent)
		assert.Equal(t, "patched", ev.Type)
		assert.Equal(t, model.StatusUndeployed, ev.Patch["status"])
		patched = append(patched, ev.StateID)
	}
	assert.ElementsMatch(t, []string{"root", "child-unit", "child-comp", "grandchild"}, patched,
		"already-undeployed descendants are not re-announced")
}

func TestForgetRejectsLockedBatch(t *testing.T) {
	m, st, _, destroyer := newTestManager(t)
	ctx := context.Background()

	seedStates(t, st,
		seed{id: "a", kind: model.KindUnit, status: model.StatusDeployed},
		seed{id: "b", kind: model.KindUnit, status: model.StatusDeployed},
	)

	db, err := st.Project(ctx, testProject)
	require.NoError(t, err)
	err = db.WithTx(ctx, func(tx *store.Tx) error {
		return tx.InsertLocks(ctx, []model.InstanceLock{
			{StateID: "b", Token: uuid.NewString(), Meta: "deploying", AcquiredAt: time.Now().UTC()},
		})
	})
	require.NoError(t, err)

	err = m.ForgetInstanceStates(ctx, testProject, []string{"instance-a", "instance-b"}, ForgetOptions{})
	require.ErrorIs(t, err, model.ErrLocked)

	assert.Equal(t, model.StatusDeployed, getStatus(t, st, "a"), "the whole batch is rejected")
	assert.Empty(t, destroyer.stateIDs())
}

func TestForgetUnknownInstance(t *testing.T) {
	m, _, _, _ := newTestManager(t)

	err := m.ForgetInstanceStates(context.Background(), testProject, []string{"missing"}, ForgetOptions{})
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestForgetOptionsControlSecretsAndTerminals(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*Manager, *store.Store) {
		m, st, _, _ := newTestManager(t)
		seedStates(t, st, seed{id: "a", kind: model.KindUnit, status: model.StatusDeployed})

		db, err := st.Project(ctx, testProject)
		require.NoError(t, err)
		err = db.WithTx(ctx, func(tx *store.Tx) error {
			if err := tx.AddSecret(ctx, "a", "api-key", "hunter2"); err != nil {
				return err
			}
			return tx.AddTerminal(ctx, "a", "shell", "scrollback")
		})
		require.NoError(t, err)
		return m, st
	}

	t.Run("defaults keep secrets and terminal history", func(t *testing.T) {
		m, st := setup(t)
		require.NoError(t, m.ForgetInstanceStates(ctx, testProject, []string{"instance-a"}, ForgetOptions{}))

		db, err := st.Project(ctx, testProject)
		require.NoError(t, err)
		err = db.WithTx(ctx, func(tx *store.Tx) error {
			n, err := tx.CountSecrets(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			statuses, err := tx.TerminalStatuses(ctx, "a")
			require.NoError(t, err)
			assert.Equal(t, map[string]string{"shell": "unavailable"}, statuses)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("opt-in deletion clears both", func(t *testing.T) {
		m, st := setup(t)
		require.NoError(t, m.ForgetInstanceStates(ctx, testProject, []string{"instance-a"}, ForgetOptions{
			DeleteSecrets:     true,
			ClearTerminalData: true,
		}))

		db, err := st.Project(ctx, testProject)
		require.NoError(t, err)
		err = db.WithTx(ctx, func(tx *store.Tx) error {
			n, err := tx.CountSecrets(ctx, "a")
			require.NoError(t, err)
			assert.Zero(t, n)

			statuses, err := tx.TerminalStatuses(ctx, "a")
			require.NoError(t, err)
			assert.Empty(t, statuses)
			return nil
		})
		require.NoError(t, err)
	})
}

func TestRenameInstance(t *testing.T) {
	m, st, bus, _ := newTestManager(t)
	ctx := context.Background()

	seedStates(t, st, seed{id: "a", kind: model.KindUnit, status: model.StatusDeployed})

	events, cancel := bus.Subscribe(pubsub.InstanceStateTopic(testProject))
	defer cancel()

	require.NoError(t, m.RenameInstance(ctx, testProject, "instance-a", "renamed"))

	db, err := st.Project(ctx, testProject)
	require.NoError(t, err)
	err = db.WithTx(ctx, func(tx *store.Tx) error {
		state, err := tx.GetInstanceStateByInstanceID(ctx, "renamed")
		require.NoError(t, err)
		require.NotNil(t, state)
		assert.Equal(t, "a", state.ID)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, events, 1)
	ev := (<-events).Payload.(model.InstanceStateEvent)
	assert.Equal(t, "patched", ev.Type)
	assert.Equal(t, "renamed", ev.Patch["instanceId"])
}

func TestRenameLockedInstanceRefused(t *testing.T) {
	m, st, _, _ := newTestManager(t)
	ctx := context.Background()

	seedStates(t, st, seed{id: "a", kind: model.KindUnit, status: model.StatusDeployed})

	db, err := st.Project(ctx, testProject)
	require.NoError(t, err)
	err = db.WithTx(ctx, func(tx *store.Tx) error {
		return tx.InsertLocks(ctx, []model.InstanceLock{
			{StateID: "a", Token: uuid.NewString(), AcquiredAt: time.Now().UTC()},
		})
	})
	require.NoError(t, err)

	err = m.RenameInstance(ctx, testProject, "instance-a", "renamed")
	require.ErrorIs(t, err, model.ErrLocked)
}
