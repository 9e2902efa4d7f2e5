// Package lifecycle performs cascading, transactional state transitions
// on instance graphs. Forgetting an instance transitions it and its
// deployed descendants to undeployed in one transaction, then runs
// best-effort cleanup of the resources left behind.
package lifecycle

import (
	"context"
	"fmt"

	"github.com/corral-io/corral/internal/destroy"
	"github.com/corral-io/corral/internal/logging"
	"github.com/corral-io/corral/internal/model"
	"github.com/corral-io/corral/internal/pubsub"
	"github.com/corral-io/corral/internal/store"
)

// WorkerJanitor reclaims worker capacity previously reserved for
// instances and resyncs worker assignments.
type WorkerJanitor interface {
	CleanupWorkerUsageAndSync(ctx context.Context, projectID string) error
}

// GarbageCollector reclaims artifacts no longer linked to any instance.
type GarbageCollector interface {
	CollectGarbage(ctx context.Context, projectID string) error
}

// NoopJanitor and NoopCollector satisfy the cleanup seams when no worker
// pool or artifact store is attached.
type NoopJanitor struct{}

func (NoopJanitor) CleanupWorkerUsageAndSync(context.Context, string) error { return nil }

type NoopCollector struct{}

func (NoopCollector) CollectGarbage(context.Context, string) error { return nil }

// Manager runs lifecycle transitions.
type Manager struct {
	store     *store.Store
	bus       *pubsub.Bus
	destroyer destroy.Destroyer
	workers   WorkerJanitor
	artifacts GarbageCollector
}

func NewManager(st *store.Store, bus *pubsub.Bus, destroyer destroy.Destroyer, workers WorkerJanitor, artifacts GarbageCollector) *Manager {
	if workers == nil {
		workers = NoopJanitor{}
	}
	if artifacts == nil {
		artifacts = NoopCollector{}
	}
	return &Manager{store: st, bus: bus, destroyer: destroyer, workers: workers, artifacts: artifacts}
}

// ForgetOptions tunes what the cascade clears beyond the state row
// itself.
type ForgetOptions struct {
	DeleteSecrets     bool
	ClearTerminalData bool
}

// touchedInstance is one state reached by the cascade, retained for the
// post-commit cleanup pass.
type touchedInstance struct {
	stateID      string
	instanceName string
	instanceType string
	kind         model.InstanceKind
}

// ForgetInstanceStates undeploys the named instances and, recursively,
// every non-undeployed descendant of composite targets, all in one
// transaction. Only the explicitly requested ids are lock-checked; a lock
// on any of them rejects the whole batch before anything mutates.
func (m *Manager) ForgetInstanceStates(ctx context.Context, projectID string, instanceIDs []string, opts ForgetOptions) error {
	db, err := m.store.Project(ctx, projectID)
	if err != nil {
		return err
	}

	var touched []touchedInstance
	err = db.WithTx(ctx, func(tx *store.Tx) error {
		var roots []*model.InstanceState
		for _, instanceID := range instanceIDs {
			st, err := tx.GetInstanceStateByInstanceID(ctx, instanceID)
			if err != nil {
				return err
			}
			if st == nil {
				return fmt.Errorf("instance %s: %w", instanceID, model.ErrNotFound)
			}
			l, err := tx.GetLock(ctx, st.ID)
			if err != nil {
				return err
			}
			if l != nil {
				return fmt.Errorf("instance %s: %w", instanceID, model.ErrLocked)
			}
			roots = append(roots, st)
		}

		// Explicit worklist instead of recursion: depth is bounded by the
		// graph, and the visited set makes the dedup visible.
		visited := make(map[string]bool)
		work := make([]*model.InstanceState, len(roots))
		copy(work, roots)

		for len(work) > 0 {
			st := work[len(work)-1]
			work = work[:len(work)-1]
			if visited[st.ID] {
				continue
			}
			visited[st.ID] = true

			if err := m.forgetOne(ctx, tx, st, opts); err != nil {
				return err
			}

			t := touchedInstance{stateID: st.ID, instanceName: st.InstanceID, kind: st.Kind}
			if st.Model != nil {
				t.instanceType = st.Model.Type
			}
			touched = append(touched, t)

			if st.Kind == model.KindComposite {
				children, err := tx.ListNonUndeployedChildren(ctx, st.ID)
				if err != nil {
					return err
				}
				work = append(work, children...)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, t := range touched {
		m.bus.Publish(pubsub.InstanceStateTopic(projectID), model.InstanceStateEvent{
			Type:    "patched",
			StateID: t.stateID,
			Patch:   map[string]any{"status": model.StatusUndeployed},
		})
	}

	// Cleanup runs outside the transaction and is best-effort: the state
	// transition has already committed and is not rolled back on failure.
	m.cleanup(ctx, projectID, touched)
	return nil
}

func (m *Manager) forgetOne(ctx context.Context, tx *store.Tx, st *model.InstanceState, opts ForgetOptions) error {
	if err := tx.ForgetInstanceState(ctx, st.ID); err != nil {
		return err
	}
	if err := tx.ClearArtifactLinks(ctx, st.ID); err != nil {
		return err
	}
	if err := tx.DeleteCustomStatuses(ctx, st.ID); err != nil {
		return err
	}
	if err := tx.DeletePages(ctx, st.ID); err != nil {
		return err
	}
	if err := tx.DeleteTriggers(ctx, st.ID); err != nil {
		return err
	}
	if opts.ClearTerminalData {
		if err := tx.DeleteTerminals(ctx, st.ID); err != nil {
			return err
		}
	} else {
		if err := tx.MarkTerminalsUnavailable(ctx, st.ID); err != nil {
			return err
		}
	}
	if opts.DeleteSecrets {
		if err := tx.DeleteSecrets(ctx, st.ID); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) cleanup(ctx context.Context, projectID string, touched []touchedInstance) {
	if err := m.workers.CleanupWorkerUsageAndSync(ctx, projectID); err != nil {
		logging.Warn("worker usage cleanup failed", "project", projectID, "err", err)
	}
	if err := m.artifacts.CollectGarbage(ctx, projectID); err != nil {
		logging.Warn("artifact garbage collection failed", "project", projectID, "err", err)
	}
	for _, t := range touched {
		if t.kind != model.KindUnit {
			continue
		}
		err := m.destroyer.DeleteState(ctx, destroy.Request{
			ProjectID:    projectID,
			StateID:      t.stateID,
			InstanceName: t.instanceName,
			InstanceType: t.instanceType,
		})
		if err != nil {
			logging.Warn("destroy backend call failed", "project", projectID, "state", t.stateID, "err", err)
		}
	}
}

// RenameInstance changes an instance's external id; the internal state id
// never changes. The instance must not be locked.
func (m *Manager) RenameInstance(ctx context.Context, projectID, instanceID, newInstanceID string) error {
	db, err := m.store.Project(ctx, projectID)
	if err != nil {
		return err
	}

	var stateID string
	err = db.WithTx(ctx, func(tx *store.Tx) error {
		st, err := tx.GetInstanceStateByInstanceID(ctx, instanceID)
		if err != nil {
			return err
		}
		if st == nil {
			return fmt.Errorf("instance %s: %w", instanceID, model.ErrNotFound)
		}
		l, err := tx.GetLock(ctx, st.ID)
		if err != nil {
			return err
		}
		if l != nil {
			return fmt.Errorf("instance %s: %w", instanceID, model.ErrLocked)
		}
		stateID = st.ID
		return tx.RenameInstance(ctx, st.ID, newInstanceID)
	})
	if err != nil {
		return err
	}

	m.bus.Publish(pubsub.InstanceStateTopic(projectID), model.InstanceStateEvent{
		Type:    "patched",
		StateID: stateID,
		Patch:   map[string]any{"instanceId": newInstanceID},
	})
	return nil
}
