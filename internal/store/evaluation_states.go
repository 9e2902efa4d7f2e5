package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/corral-io/corral/internal/model"
)

// ListEvaluationStates returns every evaluation-state row joined with the
// external instance id of its state.
func (t *Tx) ListEvaluationStates(ctx context.Context) ([]model.InstanceEvaluationState, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT e.state_id, s.instance_id, e.status, e.message, e.model
		 FROM instance_evaluation_states e
		 JOIN instance_states s ON s.id = e.state_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.InstanceEvaluationState
	for rows.Next() {
		var es model.InstanceEvaluationState
		var modelJSON sql.NullString
		if err := rows.Scan(&es.StateID, &es.InstanceID, &es.Status, &es.Message, &modelJSON); err != nil {
			return nil, err
		}
		if es.Model, err = unmarshalModel(modelJSON); err != nil {
			return nil, err
		}
		out = append(out, es)
	}
	return out, rows.Err()
}

// InsertEvaluationStates batch-creates evaluation rows.
func (t *Tx) InsertEvaluationStates(ctx context.Context, rows []model.InstanceEvaluationState) error {
	for _, es := range rows {
		modelJSON, err := marshalJSON(es.Model)
		if err != nil {
			return err
		}
		if _, err := t.tx.ExecContext(ctx,
			`INSERT INTO instance_evaluation_states (state_id, status, message, model) VALUES (?, ?, ?, ?)`,
			es.StateID, es.Status, es.Message, modelJSON); err != nil {
			return fmt.Errorf("insert evaluation state for %s: %w", es.StateID, err)
		}
	}
	return nil
}

// UpdateEvaluationState rewrites status, message and model of one row.
func (t *Tx) UpdateEvaluationState(ctx context.Context, es model.InstanceEvaluationState) error {
	modelJSON, err := marshalJSON(es.Model)
	if err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx,
		`UPDATE instance_evaluation_states SET status = ?, message = ?, model = ? WHERE state_id = ?`,
		es.Status, es.Message, modelJSON, es.StateID); err != nil {
		return fmt.Errorf("update evaluation state for %s: %w", es.StateID, err)
	}
	return nil
}

// DeleteEvaluationStates batch-deletes the rows for the given state ids.
func (t *Tx) DeleteEvaluationStates(ctx context.Context, stateIDs []string) error {
	if len(stateIDs) == 0 {
		return nil
	}
	if _, err := t.tx.ExecContext(ctx,
		`DELETE FROM instance_evaluation_states WHERE state_id IN (`+placeholders(len(stateIDs))+`)`,
		stringArgs(stateIDs)...); err != nil {
		return fmt.Errorf("delete evaluation states: %w", err)
	}
	return nil
}
