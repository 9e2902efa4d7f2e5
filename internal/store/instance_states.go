package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/corral-io/corral/internal/model"
)

const instanceStateColumns = `id, instance_id, kind, source, status, status_fields, model,
	resolved_inputs, input_hash, output_hash, dependency_output_hash,
	current_resource_count, parent_id, created_at, updated_at`

func scanInstanceState(row interface{ Scan(...any) error }) (*model.InstanceState, error) {
	var st model.InstanceState
	var statusFields, modelJSON, resolvedInputs sql.NullString
	var parentID sql.NullString

	err := row.Scan(&st.ID, &st.InstanceID, &st.Kind, &st.Source, &st.Status,
		&statusFields, &modelJSON, &resolvedInputs,
		&st.InputHash, &st.OutputHash, &st.DependencyOutputHash,
		&st.CurrentResourceCount, &parentID, &st.CreatedAt, &st.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if st.StatusFields, err = unmarshalMap(statusFields); err != nil {
		return nil, err
	}
	if st.Model, err = unmarshalModel(modelJSON); err != nil {
		return nil, err
	}
	if st.ResolvedInputs, err = unmarshalMap(resolvedInputs); err != nil {
		return nil, err
	}
	if parentID.Valid {
		st.ParentID = parentID.String
	}
	return &st, nil
}

// InsertInstanceState creates a new instance state row.
func (t *Tx) InsertInstanceState(ctx context.Context, st *model.InstanceState) error {
	statusFields, err := marshalJSON(st.StatusFields)
	if err != nil {
		return err
	}
	modelJSON, err := marshalJSON(st.Model)
	if err != nil {
		return err
	}
	resolvedInputs, err := marshalJSON(st.ResolvedInputs)
	if err != nil {
		return err
	}
	var parentID sql.NullString
	if st.ParentID != "" {
		parentID = sql.NullString{String: st.ParentID, Valid: true}
	}

	_, err = t.tx.ExecContext(ctx, `INSERT INTO instance_states
		(id, instance_id, kind, source, status, status_fields, model, resolved_inputs,
		 input_hash, output_hash, dependency_output_hash, current_resource_count,
		 parent_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.InstanceID, st.Kind, st.Source, st.Status,
		statusFields, modelJSON, resolvedInputs,
		st.InputHash, st.OutputHash, st.DependencyOutputHash, st.CurrentResourceCount,
		parentID, st.CreatedAt, st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert instance state %s: %w", st.InstanceID, err)
	}
	return nil
}

// GetInstanceStateByID returns the state row with the given internal id,
// or nil when absent.
func (t *Tx) GetInstanceStateByID(ctx context.Context, id string) (*model.InstanceState, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+instanceStateColumns+` FROM instance_states WHERE id = ?`, id)
	st, err := scanInstanceState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return st, err
}

// GetInstanceStateByInstanceID returns the state row with the given
// instance id, or nil when absent.
func (t *Tx) GetInstanceStateByInstanceID(ctx context.Context, instanceID string) (*model.InstanceState, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT `+instanceStateColumns+` FROM instance_states WHERE instance_id = ?`, instanceID)
	st, err := scanInstanceState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return st, err
}

// ListInstanceStates returns every instance state row.
func (t *Tx) ListInstanceStates(ctx context.Context) ([]*model.InstanceState, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+instanceStateColumns+` FROM instance_states ORDER BY instance_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []*model.InstanceState
	for rows.Next() {
		st, err := scanInstanceState(rows)
		if err != nil {
			return nil, err
		}
		states = append(states, st)
	}
	return states, rows.Err()
}

// SetInstanceSource flips the source of an existing state row. Status and
// model are deliberately left untouched; they are owned by deployment.
func (t *Tx) SetInstanceSource(ctx context.Context, id string, source model.InstanceSource) error {
	_, err := t.tx.ExecContext(ctx,
		`UPDATE instance_states SET source = ?, updated_at = ? WHERE id = ?`,
		source, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set instance source: %w", err)
	}
	return nil
}

// RenameInstance changes the external instance id. The internal id never
// changes.
func (t *Tx) RenameInstance(ctx context.Context, id, newInstanceID string) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE instance_states SET instance_id = ?, updated_at = ? WHERE id = ?`,
		newInstanceID, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("rename instance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("instance state %s: %w", id, model.ErrNotFound)
	}
	return nil
}

// VirtualStateRow is one virtual-source state plus whether an evaluation
// row currently exists for it.
type VirtualStateRow struct {
	State         *model.InstanceState
	HasEvaluation bool
}

// IsGhost reports the ghost condition: a virtual-source state that is not
// undeployed and that the evaluator no longer reproduces.
func (r VirtualStateRow) IsGhost() bool {
	return r.State.Status != model.StatusUndeployed && !r.HasEvaluation
}

// ListVirtualStates snapshots all virtual-source states with their
// evaluation-row presence.
func (t *Tx) ListVirtualStates(ctx context.Context) ([]VirtualStateRow, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT
		s.id, s.instance_id, s.kind, s.source, s.status, s.status_fields, s.model,
		s.resolved_inputs, s.input_hash, s.output_hash, s.dependency_output_hash,
		s.current_resource_count, s.parent_id, s.created_at, s.updated_at,
		(e.state_id IS NOT NULL)
		FROM instance_states s
		LEFT JOIN instance_evaluation_states e ON e.state_id = s.id
		WHERE s.source = ?`, model.SourceVirtual)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []VirtualStateRow
	for rows.Next() {
		var st model.InstanceState
		var statusFields, modelJSON, resolvedInputs, parentID sql.NullString
		var hasEval bool
		if err := rows.Scan(&st.ID, &st.InstanceID, &st.Kind, &st.Source, &st.Status,
			&statusFields, &modelJSON, &resolvedInputs,
			&st.InputHash, &st.OutputHash, &st.DependencyOutputHash,
			&st.CurrentResourceCount, &parentID, &st.CreatedAt, &st.UpdatedAt,
			&hasEval); err != nil {
			return nil, err
		}
		if st.StatusFields, err = unmarshalMap(statusFields); err != nil {
			return nil, err
		}
		if st.Model, err = unmarshalModel(modelJSON); err != nil {
			return nil, err
		}
		if st.ResolvedInputs, err = unmarshalMap(resolvedInputs); err != nil {
			return nil, err
		}
		if parentID.Valid {
			st.ParentID = parentID.String
		}
		out = append(out, VirtualStateRow{State: &st, HasEvaluation: hasEval})
	}
	return out, rows.Err()
}

// ListNonUndeployedChildren returns the direct children of a composite
// that still hold deployed resources.
func (t *Tx) ListNonUndeployedChildren(ctx context.Context, parentID string) ([]*model.InstanceState, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT `+instanceStateColumns+` FROM instance_states
		 WHERE parent_id = ? AND status != ?`, parentID, model.StatusUndeployed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var children []*model.InstanceState
	for rows.Next() {
		st, err := scanInstanceState(rows)
		if err != nil {
			return nil, err
		}
		children = append(children, st)
	}
	return children, rows.Err()
}

// ForgetInstanceState transitions a state to undeployed and clears every
// field derived from deployment.
func (t *Tx) ForgetInstanceState(ctx context.Context, id string) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE instance_states SET
		status = ?, status_fields = NULL, model = NULL, resolved_inputs = NULL,
		input_hash = '', output_hash = '', dependency_output_hash = '',
		current_resource_count = 0, updated_at = ?
		WHERE id = ?`, model.StatusUndeployed, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("forget instance state %s: %w", id, err)
	}
	return nil
}

// UpdateInstanceDeployment records the result of a deployment pass:
// status, model, inputs and hashes together.
func (t *Tx) UpdateInstanceDeployment(ctx context.Context, st *model.InstanceState) error {
	statusFields, err := marshalJSON(st.StatusFields)
	if err != nil {
		return err
	}
	modelJSON, err := marshalJSON(st.Model)
	if err != nil {
		return err
	}
	resolvedInputs, err := marshalJSON(st.ResolvedInputs)
	if err != nil {
		return err
	}

	_, err = t.tx.ExecContext(ctx, `UPDATE instance_states SET
		status = ?, status_fields = ?, model = ?, resolved_inputs = ?,
		input_hash = ?, output_hash = ?, dependency_output_hash = ?,
		current_resource_count = ?, updated_at = ?
		WHERE id = ?`,
		st.Status, statusFields, modelJSON, resolvedInputs,
		st.InputHash, st.OutputHash, st.DependencyOutputHash,
		st.CurrentResourceCount, time.Now().UTC(), st.ID)
	if err != nil {
		return fmt.Errorf("update instance deployment %s: %w", st.ID, err)
	}
	return nil
}
