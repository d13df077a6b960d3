package store

import (
	"context"
	"database/sql"
	"fmt"
)

// CreditEvent is one audited score change caused by an outcome.
type CreditEvent struct {
	ID        int64
	MemoryID  string
	EventType string
	Reward    float64
	OldScore  float64
	NewScore  float64
	SessionID string
	CreatedAt int64
}

// InsertEvent appends an audit row. Events are never updated or deleted.
func (l Ledger) InsertEvent(ctx context.Context, e CreditEvent) error {
	var session any
	if e.SessionID != "" {
		session = e.SessionID
	}
	_, err := l.q.ExecContext(ctx, `
		INSERT INTO credit_events (memory_id, event_type, reward, old_score, new_score, session_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.MemoryID, e.EventType, e.Reward, e.OldScore, e.NewScore, session, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert event for %s: %w", e.MemoryID, err)
	}
	return nil
}

// EventsFor returns the audit trail for a memory, oldest first.
func (l Ledger) EventsFor(ctx context.Context, memoryID string) ([]CreditEvent, error) {
	return l.queryEvents(ctx, `
		SELECT id, memory_id, event_type, reward, old_score, new_score, session_id, created_at
		FROM credit_events WHERE memory_id = ? ORDER BY id ASC
	`, memoryID)
}

// EventsForSession returns every event raised by a session, oldest first.
func (l Ledger) EventsForSession(ctx context.Context, sessionID string) ([]CreditEvent, error) {
	return l.queryEvents(ctx, `
		SELECT id, memory_id, event_type, reward, old_score, new_score, session_id, created_at
		FROM credit_events WHERE session_id = ? ORDER BY id ASC
	`, sessionID)
}

func (l Ledger) queryEvents(ctx context.Context, query string, arg string) ([]CreditEvent, error) {
	rows, err := l.q.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []CreditEvent
	for rows.Next() {
		var e CreditEvent
		var session sql.NullString
		if err := rows.Scan(&e.ID, &e.MemoryID, &e.EventType, &e.Reward, &e.OldScore, &e.NewScore, &session, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.SessionID = session.String
		events = append(events, e)
	}
	return events, rows.Err()
}
