package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/corral-io/corral/internal/model"
)

// InsertOperation creates an operation row.
func (t *Tx) InsertOperation(ctx context.Context, op *model.Operation) error {
	options, err := marshalJSON(op.Options)
	if err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx,
		`INSERT INTO operations (id, type, options, started_at) VALUES (?, ?, ?, ?)`,
		op.ID, op.Type, options, op.StartedAt); err != nil {
		return fmt.Errorf("insert operation: %w", err)
	}
	return nil
}

// FinishOperation stamps the finish time of an operation.
func (t *Tx) FinishOperation(ctx context.Context, id string, finishedAt time.Time) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE operations SET finished_at = ? WHERE id = ?`, finishedAt, id)
	if err != nil {
		return fmt.Errorf("finish operation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("operation %s: %w", id, model.ErrNotFound)
	}
	return nil
}

// GetOperation returns one operation, or nil when absent.
func (t *Tx) GetOperation(ctx context.Context, id string) (*model.Operation, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT id, type, options, started_at, finished_at FROM operations WHERE id = ?`, id)
	op, err := scanOperation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return op, err
}

// ListOperations returns operations, newest first.
func (t *Tx) ListOperations(ctx context.Context, limit int) ([]*model.Operation, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT id, type, options, started_at, finished_at FROM operations
		 ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []*model.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

func scanOperation(row interface{ Scan(...any) error }) (*model.Operation, error) {
	var op model.Operation
	var options sql.NullString
	var finishedAt sql.NullTime
	if err := row.Scan(&op.ID, &op.Type, &options, &op.StartedAt, &finishedAt); err != nil {
		return nil, err
	}
	var err error
	if op.Options, err = unmarshalMap(options); err != nil {
		return nil, err
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		op.FinishedAt = &t
	}
	return &op, nil
}

// UpsertInstanceOperationState records per-instance progress within one
// operation.
func (t *Tx) UpsertInstanceOperationState(ctx context.Context, s model.InstanceOperationState) error {
	if _, err := t.tx.ExecContext(ctx,
		`INSERT INTO instance_operation_states (operation_id, state_id, status, message, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(operation_id, state_id) DO UPDATE SET
		   status = excluded.status, message = excluded.message, updated_at = excluded.updated_at`,
		s.OperationID, s.StateID, s.Status, s.Message, s.UpdatedAt); err != nil {
		return fmt.Errorf("upsert instance operation state: %w", err)
	}
	return nil
}

// ListInstanceOperationStates returns the per-instance rows of one
// operation.
func (t *Tx) ListInstanceOperationStates(ctx context.Context, operationID string) ([]model.InstanceOperationState, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT operation_id, state_id, status, message, updated_at
		 FROM instance_operation_states WHERE operation_id = ?`, operationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.InstanceOperationState
	for rows.Next() {
		var s model.InstanceOperationState
		if err := rows.Scan(&s.OperationID, &s.StateID, &s.Status, &s.Message, &s.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
