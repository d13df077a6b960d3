package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// TurnRecord is one batch of memories retrieved during a session,
// waiting for an outcome to attribute credit to.
type TurnRecord struct {
	ID                 int64
	SessionID          string
	RetrievedMemoryIDs []string
	Outcome            string // empty while unresolved
	CreatedAt          int64
}

// InsertTurn records a retrieval batch and returns its row id.
func (l Ledger) InsertTurn(ctx context.Context, sessionID string, memoryIDs []string, now int64) (int64, error) {
	if memoryIDs == nil {
		memoryIDs = []string{}
	}
	ids, err := json.Marshal(memoryIDs)
	if err != nil {
		return 0, fmt.Errorf("marshal turn ids: %w", err)
	}

	res, err := l.q.ExecContext(ctx, `
		INSERT INTO turn_records (session_id, retrieved_memory_ids, created_at)
		VALUES (?, ?, ?)
	`, sessionID, string(ids), now)
	if err != nil {
		return 0, fmt.Errorf("insert turn: %w", err)
	}
	return res.LastInsertId()
}

// LatestOpenTurn returns the most recent unresolved turn for a session,
// or nil if every turn has an outcome.
func (l Ledger) LatestOpenTurn(ctx context.Context, sessionID string) (*TurnRecord, error) {
	row := l.q.QueryRowContext(ctx, `
		SELECT id, session_id, retrieved_memory_ids, outcome, created_at
		FROM turn_records
		WHERE session_id = ? AND outcome IS NULL
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, sessionID)

	t, err := scanTurn(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest open turn %s: %w", sessionID, err)
	}
	return t, nil
}

// ResolveTurn stamps an outcome on a turn. A turn is resolved at most once.
func (l Ledger) ResolveTurn(ctx context.Context, id int64, outcome string) error {
	res, err := l.q.ExecContext(ctx, `
		UPDATE turn_records SET outcome = ? WHERE id = ? AND outcome IS NULL
	`, outcome, id)
	if err != nil {
		return fmt.Errorf("resolve turn %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("resolve turn %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("resolve turn %d: already resolved or missing", id)
	}
	return nil
}

// TurnsForSession returns every turn of a session, oldest first.
func (l Ledger) TurnsForSession(ctx context.Context, sessionID string) ([]TurnRecord, error) {
	rows, err := l.q.QueryContext(ctx, `
		SELECT id, session_id, retrieved_memory_ids, outcome, created_at
		FROM turn_records WHERE session_id = ?
		ORDER BY created_at ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("turns for %s: %w", sessionID, err)
	}
	defer rows.Close()

	var turns []TurnRecord
	for rows.Next() {
		t, err := scanTurn(rows)
		if err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		turns = append(turns, *t)
	}
	return turns, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTurn(s scanner) (*TurnRecord, error) {
	var t TurnRecord
	var ids string
	var outcome sql.NullString
	if err := s.Scan(&t.ID, &t.SessionID, &ids, &outcome, &t.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(ids), &t.RetrievedMemoryIDs); err != nil {
		return nil, fmt.Errorf("decode turn %d ids: %w", t.ID, err)
	}
	t.Outcome = outcome.String
	return &t, nil
}
