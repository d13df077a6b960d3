package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// Lifecycle actions recorded in lifecycle_log.
const (
	ActionDecay       = "decay"
	ActionPromote     = "promote"
	ActionConsolidate = "consolidate"
	ActionPrune       = "prune"
)

// LifecycleEntry is one row of the lifecycle audit log.
type LifecycleEntry struct {
	ID        int64
	Action    string
	TargetIDs []string
	Details   string
	CreatedAt int64
}

// AppendLifecycle writes an entry to the lifecycle log.
func (l Ledger) AppendLifecycle(ctx context.Context, action string, targetIDs []string, details string, now int64) error {
	if targetIDs == nil {
		targetIDs = []string{}
	}
	ids, err := json.Marshal(targetIDs)
	if err != nil {
		return fmt.Errorf("marshal lifecycle targets: %w", err)
	}
	_, err = l.q.ExecContext(ctx, `
		INSERT INTO lifecycle_log (action, target_ids, details, created_at)
		VALUES (?, ?, ?, ?)
	`, action, string(ids), details, now)
	if err != nil {
		return fmt.Errorf("append lifecycle %s: %w", action, err)
	}
	return nil
}

// LifecycleEntries returns log entries for an action, oldest first. An
// empty action returns the whole log.
func (l Ledger) LifecycleEntries(ctx context.Context, action string) ([]LifecycleEntry, error) {
	query := `SELECT id, action, target_ids, COALESCE(details, ''), created_at FROM lifecycle_log`
	var args []any
	if action != "" {
		query += ` WHERE action = ?`
		args = append(args, action)
	}
	query += ` ORDER BY id ASC`

	rows, err := l.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("lifecycle entries: %w", err)
	}
	defer rows.Close()

	var entries []LifecycleEntry
	for rows.Next() {
		var e LifecycleEntry
		var ids string
		if err := rows.Scan(&e.ID, &e.Action, &ids, &e.Details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan lifecycle: %w", err)
		}
		if err := json.Unmarshal([]byte(ids), &e.TargetIDs); err != nil {
			return nil, fmt.Errorf("decode lifecycle %d targets: %w", e.ID, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// PromotedSources returns the set of memory ids that already appear as the
// source of a promote entry. Promote entries list the source id first.
func (l Ledger) PromotedSources(ctx context.Context) (map[string]bool, error) {
	entries, err := l.LifecycleEntries(ctx, ActionPromote)
	if err != nil {
		return nil, err
	}
	out := make(map[string]bool, len(entries))
	for _, e := range entries {
		if len(e.TargetIDs) > 0 {
			out[e.TargetIDs[0]] = true
		}
	}
	return out, nil
}
