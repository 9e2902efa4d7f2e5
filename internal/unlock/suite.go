// Package unlock manages the project unlock suite: the set of recipients
// able to decrypt a project's master key, and the tasks queued to run
// once access is granted. The cryptography itself happens elsewhere; here
// a project is either accessible or not, and wrapped keys are opaque
// blobs.
package unlock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/corral-io/corral/internal/logging"
	"github.com/corral-io/corral/internal/model"
	"github.com/corral-io/corral/internal/pubsub"
	"github.com/corral-io/corral/internal/store"
)

// Task runs once a project's database becomes accessible.
type Task func(ctx context.Context, projectID string) error

// Suite tracks unlock methods and per-process project accessibility.
type Suite struct {
	store *store.Store
	bus   *pubsub.Bus

	mu       sync.Mutex
	unlocked map[string]bool
	tasks    map[string]Task
}

func NewSuite(st *store.Store, bus *pubsub.Bus) *Suite {
	return &Suite{
		store:    st,
		bus:      bus,
		unlocked: make(map[string]bool),
		tasks:    make(map[string]Task),
	}
}

// AddMethod registers one recipient for the project's master key.
func (s *Suite) AddMethod(ctx context.Context, projectID, name, kind string, wrappedKey []byte) (*model.UnlockMethod, error) {
	db, err := s.store.Project(ctx, projectID)
	if err != nil {
		return nil, err
	}

	m := model.UnlockMethod{
		ID:         uuid.NewString(),
		Name:       name,
		Kind:       kind,
		WrappedKey: wrappedKey,
		CreatedAt:  time.Now().UTC(),
	}
	err = db.WithTx(ctx, func(tx *store.Tx) error {
		return tx.InsertUnlockMethod(ctx, m)
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// RemoveMethod removes one recipient. Removing the last remaining method
// would lock everyone out permanently and is refused.
func (s *Suite) RemoveMethod(ctx context.Context, projectID, methodID string) error {
	db, err := s.store.Project(ctx, projectID)
	if err != nil {
		return err
	}

	return db.WithTx(ctx, func(tx *store.Tx) error {
		n, err := tx.CountUnlockMethods(ctx)
		if err != nil {
			return err
		}
		if n <= 1 {
			return model.ErrCannotRemoveLastUnlockMethod
		}
		deleted, err := tx.DeleteUnlockMethod(ctx, methodID)
		if err != nil {
			return err
		}
		if deleted == 0 {
			return fmt.Errorf("unlock method %s: %w", methodID, model.ErrNotFound)
		}
		return nil
	})
}

// Methods lists the project's unlock methods.
func (s *Suite) Methods(ctx context.Context, projectID string) ([]model.UnlockMethod, error) {
	db, err := s.store.Project(ctx, projectID)
	if err != nil {
		return nil, err
	}
	var methods []model.UnlockMethod
	err = db.WithTx(ctx, func(tx *store.Tx) error {
		methods, err = tx.ListUnlockMethods(ctx)
		return err
	})
	return methods, err
}

// CheckProjectUnlocked reports whether the project's database is
// currently accessible from this process.
func (s *Suite) CheckProjectUnlocked(projectID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unlocked[projectID]
}

// RegisterUnlockTask queues a named task to run whenever a project is
// granted access. Registering the same name again replaces the task.
func (s *Suite) RegisterUnlockTask(name string, task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[name] = task
}

// GrantAccess marks the project as accessible, publishes the unlock
// event and runs every registered task. Task failures are isolated: each
// is logged and the rest still run.
func (s *Suite) GrantAccess(ctx context.Context, projectID string) {
	s.mu.Lock()
	alreadyUnlocked := s.unlocked[projectID]
	s.unlocked[projectID] = true
	tasks := make(map[string]Task, len(s.tasks))
	for name, t := range s.tasks {
		tasks[name] = t
	}
	s.mu.Unlock()

	if alreadyUnlocked {
		return
	}

	s.bus.Publish(pubsub.ProjectUnlockTopic(projectID), model.ProjectUnlockEvent{Type: "unlocked"})

	for name, task := range tasks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logging.Error("unlock task panicked", "task", name, "project", projectID, "panic", r)
				}
			}()
			if err := task(ctx, projectID); err != nil {
				logging.Warn("unlock task failed", "task", name, "project", projectID, "err", err)
			}
		}()
	}
}

// RevokeAccess marks the project as locked again (e.g. after key
// rotation).
func (s *Suite) RevokeAccess(projectID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.unlocked, projectID)
}
