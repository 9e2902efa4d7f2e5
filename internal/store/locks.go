package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/corral-io/corral/internal/model"
)

// GetLock returns the lock row for one state id, or nil when the
// instance is not locked.
func (t *Tx) GetLock(ctx context.Context, stateID string) (*model.InstanceLock, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT state_id, token, meta, acquired_at FROM instance_locks WHERE state_id = ?`, stateID)

	var l model.InstanceLock
	err := row.Scan(&l.StateID, &l.Token, &l.Meta, &l.AcquiredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// GetLocks returns the lock rows currently held for any of the given
// state ids.
func (t *Tx) GetLocks(ctx context.Context, stateIDs []string) ([]model.InstanceLock, error) {
	if len(stateIDs) == 0 {
		return nil, nil
	}
	rows, err := t.tx.QueryContext(ctx,
		`SELECT state_id, token, meta, acquired_at FROM instance_locks
		 WHERE state_id IN (`+placeholders(len(stateIDs))+`)`, stringArgs(stateIDs)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var locks []model.InstanceLock
	for rows.Next() {
		var l model.InstanceLock
		if err := rows.Scan(&l.StateID, &l.Token, &l.Meta, &l.AcquiredAt); err != nil {
			return nil, err
		}
		locks = append(locks, l)
	}
	return locks, rows.Err()
}

// InsertLocks creates one lock row per entry. Every entry is expected to
// share the same token.
func (t *Tx) InsertLocks(ctx context.Context, locks []model.InstanceLock) error {
	for _, l := range locks {
		if _, err := t.tx.ExecContext(ctx,
			`INSERT INTO instance_locks (state_id, token, meta, acquired_at) VALUES (?, ?, ?, ?)`,
			l.StateID, l.Token, l.Meta, l.AcquiredAt); err != nil {
			return fmt.Errorf("insert lock for %s: %w", l.StateID, err)
		}
	}
	return nil
}

// DeleteLocks removes any lock rows for the given state ids regardless of
// token and returns the number of rows removed.
func (t *Tx) DeleteLocks(ctx context.Context, stateIDs []string) (int64, error) {
	if len(stateIDs) == 0 {
		return 0, nil
	}
	res, err := t.tx.ExecContext(ctx,
		`DELETE FROM instance_locks WHERE state_id IN (`+placeholders(len(stateIDs))+`)`,
		stringArgs(stateIDs)...)
	if err != nil {
		return 0, fmt.Errorf("delete locks: %w", err)
	}
	return res.RowsAffected()
}

// ListLocks returns every lock row in the project.
func (t *Tx) ListLocks(ctx context.Context) ([]model.InstanceLock, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT state_id, token, meta, acquired_at FROM instance_locks ORDER BY acquired_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var locks []model.InstanceLock
	for rows.Next() {
		var l model.InstanceLock
		if err := rows.Scan(&l.StateID, &l.Token, &l.Meta, &l.AcquiredAt); err != nil {
			return nil, err
		}
		locks = append(locks, l)
	}
	return locks, rows.Err()
}
