package store

import (
	"context"
	"fmt"
)

// Auxiliary rows attached to an instance state: secrets, terminals,
// pages, triggers, custom statuses and artifact links. The lifecycle
// cascade clears them when an instance is forgotten.

const terminalUnavailable = "unavailable"

func (t *Tx) exec(ctx context.Context, what, query string, args ...any) error {
	if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}

func (t *Tx) AddSecret(ctx context.Context, stateID, name, value string) error {
	return t.exec(ctx, "add secret",
		`INSERT INTO instance_secrets (state_id, name, value) VALUES (?, ?, ?)`, stateID, name, value)
}

func (t *Tx) DeleteSecrets(ctx context.Context, stateID string) error {
	return t.exec(ctx, "delete secrets",
		`DELETE FROM instance_secrets WHERE state_id = ?`, stateID)
}

func (t *Tx) CountSecrets(ctx context.Context, stateID string) (int, error) {
	return t.countAttachments(ctx, "instance_secrets", stateID)
}

func (t *Tx) AddTerminal(ctx context.Context, stateID, name, data string) error {
	return t.exec(ctx, "add terminal",
		`INSERT INTO instance_terminals (state_id, name, data) VALUES (?, ?, ?)`, stateID, name, data)
}

func (t *Tx) DeleteTerminals(ctx context.Context, stateID string) error {
	return t.exec(ctx, "delete terminals",
		`DELETE FROM instance_terminals WHERE state_id = ?`, stateID)
}

// MarkTerminalsUnavailable keeps terminal history but flags it as no
// longer backed by a live instance.
func (t *Tx) MarkTerminalsUnavailable(ctx context.Context, stateID string) error {
	return t.exec(ctx, "mark terminals unavailable",
		`UPDATE instance_terminals SET status = ? WHERE state_id = ?`, terminalUnavailable, stateID)
}

// TerminalStatuses returns name -> status for one instance's terminals.
func (t *Tx) TerminalStatuses(ctx context.Context, stateID string) (map[string]string, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT name, status FROM instance_terminals WHERE state_id = ?`, stateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var name, status string
		if err := rows.Scan(&name, &status); err != nil {
			return nil, err
		}
		out[name] = status
	}
	return out, rows.Err()
}

func (t *Tx) AddPage(ctx context.Context, stateID, name, content string) error {
	return t.exec(ctx, "add page",
		`INSERT INTO instance_pages (state_id, name, content) VALUES (?, ?, ?)`, stateID, name, content)
}

func (t *Tx) DeletePages(ctx context.Context, stateID string) error {
	return t.exec(ctx, "delete pages",
		`DELETE FROM instance_pages WHERE state_id = ?`, stateID)
}

func (t *Tx) CountPages(ctx context.Context, stateID string) (int, error) {
	return t.countAttachments(ctx, "instance_pages", stateID)
}

func (t *Tx) AddTrigger(ctx context.Context, stateID, name, spec string) error {
	return t.exec(ctx, "add trigger",
		`INSERT INTO instance_triggers (state_id, name, spec) VALUES (?, ?, ?)`, stateID, name, spec)
}

func (t *Tx) DeleteTriggers(ctx context.Context, stateID string) error {
	return t.exec(ctx, "delete triggers",
		`DELETE FROM instance_triggers WHERE state_id = ?`, stateID)
}

func (t *Tx) AddCustomStatus(ctx context.Context, stateID, name, value string) error {
	return t.exec(ctx, "add custom status",
		`INSERT INTO instance_custom_statuses (state_id, name, value) VALUES (?, ?, ?)`, stateID, name, value)
}

func (t *Tx) DeleteCustomStatuses(ctx context.Context, stateID string) error {
	return t.exec(ctx, "delete custom statuses",
		`DELETE FROM instance_custom_statuses WHERE state_id = ?`, stateID)
}

func (t *Tx) AddArtifactLink(ctx context.Context, stateID, name, ref string) error {
	return t.exec(ctx, "add artifact link",
		`INSERT INTO instance_artifacts (state_id, name, ref) VALUES (?, ?, ?)`, stateID, name, ref)
}

// ClearArtifactLinks detaches artifacts from the instance; the artifact
// garbage collector reclaims the unreferenced blobs afterwards.
func (t *Tx) ClearArtifactLinks(ctx context.Context, stateID string) error {
	return t.exec(ctx, "clear artifact links",
		`DELETE FROM instance_artifacts WHERE state_id = ?`, stateID)
}

func (t *Tx) countAttachments(ctx context.Context, table, stateID string) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM `+table+` WHERE state_id = ?`, stateID).Scan(&n)
	return n, err
}
