// Package operation keeps the historical record of multi-instance
// actions: one operation row per logical action plus one progress row per
// touched instance.
package operation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/corral-io/corral/internal/model"
	"github.com/corral-io/corral/internal/pubsub"
	"github.com/corral-io/corral/internal/store"
)

// Service records operations and their per-instance progress.
type Service struct {
	store *store.Store
	bus   *pubsub.Bus
}

func NewService(st *store.Store, bus *pubsub.Bus) *Service {
	return &Service{store: st, bus: bus}
}

// Start opens a new operation over the given instance states. Each state
// begins in the "pending" status.
func (s *Service) Start(ctx context.Context, projectID, opType string, options map[string]any, stateIDs []string) (*model.Operation, error) {
	db, err := s.store.Project(ctx, projectID)
	if err != nil {
		return nil, err
	}

	op := &model.Operation{
		ID:        uuid.NewString(),
		Type:      opType,
		Options:   options,
		StartedAt: time.Now().UTC(),
	}
	err = db.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.InsertOperation(ctx, op); err != nil {
			return err
		}
		for _, stateID := range stateIDs {
			if err := tx.UpsertInstanceOperationState(ctx, model.InstanceOperationState{
				OperationID: op.ID,
				StateID:     stateID,
				Status:      "pending",
				UpdatedAt:   op.StartedAt,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.bus.Publish(pubsub.OperationTopic(projectID), model.OperationEvent{Type: "updated", Operation: op})
	return op, nil
}

// SetInstanceProgress records per-instance progress within an operation.
func (s *Service) SetInstanceProgress(ctx context.Context, projectID, operationID, stateID, status, message string) error {
	db, err := s.store.Project(ctx, projectID)
	if err != nil {
		return err
	}
	return db.WithTx(ctx, func(tx *store.Tx) error {
		return tx.UpsertInstanceOperationState(ctx, model.InstanceOperationState{
			OperationID: operationID,
			StateID:     stateID,
			Status:      status,
			Message:     message,
			UpdatedAt:   time.Now().UTC(),
		})
	})
}

// Finish stamps the operation's finish time and publishes the final
// operation row.
func (s *Service) Finish(ctx context.Context, projectID, operationID string) (*model.Operation, error) {
	db, err := s.store.Project(ctx, projectID)
	if err != nil {
		return nil, err
	}

	var op *model.Operation
	err = db.WithTx(ctx, func(tx *store.Tx) error {
		if err := tx.FinishOperation(ctx, operationID, time.Now().UTC()); err != nil {
			return err
		}
		op, err = tx.GetOperation(ctx, operationID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if op == nil {
		return nil, fmt.Errorf("operation %s: %w", operationID, model.ErrNotFound)
	}

	s.bus.Publish(pubsub.OperationTopic(projectID), model.OperationEvent{Type: "updated", Operation: op})
	return op, nil
}

// Get returns one operation with its per-instance rows.
func (s *Service) Get(ctx context.Context, projectID, operationID string) (*model.Operation, []model.InstanceOperationState, error) {
	db, err := s.store.Project(ctx, projectID)
	if err != nil {
		return nil, nil, err
	}

	var op *model.Operation
	var states []model.InstanceOperationState
	err = db.WithTx(ctx, func(tx *store.Tx) error {
		op, err = tx.GetOperation(ctx, operationID)
		if err != nil {
			return err
		}
		if op == nil {
			return fmt.Errorf("operation %s: %w", operationID, model.ErrNotFound)
		}
		states, err = tx.ListInstanceOperationStates(ctx, operationID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return op, states, nil
}

// List returns recent operations, newest first.
func (s *Service) List(ctx context.Context, projectID string, limit int) ([]*model.Operation, error) {
	db, err := s.store.Project(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	var ops []*model.Operation
	err = db.WithTx(ctx, func(tx *store.Tx) error {
		ops, err = tx.ListOperations(ctx, limit)
		return err
	})
	return ops, err
}
