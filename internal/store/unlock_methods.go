package store

import (
	"context"
	"fmt"

	"github.com/corral-io/corral/internal/model"
)

// InsertUnlockMethod adds one recipient to the project's unlock suite.
func (t *Tx) InsertUnlockMethod(ctx context.Context, m model.UnlockMethod) error {
	if _, err := t.tx.ExecContext(ctx,
		`INSERT INTO unlock_methods (id, name, kind, wrapped_key, created_at) VALUES (?, ?, ?, ?, ?)`,
		m.ID, m.Name, m.Kind, m.WrappedKey, m.CreatedAt); err != nil {
		return fmt.Errorf("insert unlock method %s: %w", m.Name, err)
	}
	return nil
}

// DeleteUnlockMethod removes one recipient, returning the number of rows
// removed.
func (t *Tx) DeleteUnlockMethod(ctx context.Context, id string) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `DELETE FROM unlock_methods WHERE id = ?`, id)
	if err != nil {
		return 0, fmt.Errorf("delete unlock method: %w", err)
	}
	return res.RowsAffected()
}

// CountUnlockMethods returns the number of recipients configured.
func (t *Tx) CountUnlockMethods(ctx context.Context) (int, error) {
	var n int
	if err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM unlock_methods`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// ListUnlockMethods returns every recipient of the unlock suite.
func (t *Tx) ListUnlockMethods(ctx context.Context) ([]model.UnlockMethod, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT id, name, kind, wrapped_key, created_at FROM unlock_methods ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.UnlockMethod
	for rows.Next() {
		var m model.UnlockMethod
		if err := rows.Scan(&m.ID, &m.Name, &m.Kind, &m.WrappedKey, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
