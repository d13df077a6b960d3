package store

import (
	"context"
	"database/sql"
	"fmt"
)

// querier is the subset of *sql.DB and *sql.Tx the ledger needs.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Ledger holds the row-level operations on the credit tables. The zero
// value is unusable; obtain one from a DB or from DB.WithTx.
type Ledger struct {
	q querier
}

// CreditRecord is the trust score kept for one memory id.
type CreditRecord struct {
	ID           string
	Score        float64
	AccessCount  int
	CreatedAt    int64
	LastAccessed int64
	DecayRate    float64
}

// EnsureCredit creates the record for id if it does not exist yet and
// returns the stored row. Repeat calls never modify an existing row.
func (l Ledger) EnsureCredit(ctx context.Context, id string, initialScore, decayRate float64, now int64) (*CreditRecord, error) {
	_, err := l.q.ExecContext(ctx, `
		INSERT INTO credit_records (id, score, access_count, created_at, last_accessed, decay_rate)
		VALUES (?, ?, 0, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, initialScore, now, now, decayRate)
	if err != nil {
		return nil, fmt.Errorf("ensure credit %s: %w", id, err)
	}

	rec, err := l.GetCredit(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("ensure credit %s: row missing after insert", id)
	}
	return rec, nil
}

// GetCredit returns the record for id, or nil if none exists.
func (l Ledger) GetCredit(ctx context.Context, id string) (*CreditRecord, error) {
	var r CreditRecord
	err := l.q.QueryRowContext(ctx, `
		SELECT id, score, access_count, created_at, last_accessed, decay_rate
		FROM credit_records WHERE id = ?
	`, id).Scan(&r.ID, &r.Score, &r.AccessCount, &r.CreatedAt, &r.LastAccessed, &r.DecayRate)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get credit %s: %w", id, err)
	}
	return &r, nil
}

// RecordAccess stores an outcome-driven score and counts the access.
func (l Ledger) RecordAccess(ctx context.Context, id string, score float64, now int64) error {
	_, err := l.q.ExecContext(ctx, `
		UPDATE credit_records SET score = ?, access_count = access_count + 1, last_accessed = ?
		WHERE id = ?
	`, score, now, id)
	if err != nil {
		return fmt.Errorf("record access %s: %w", id, err)
	}
	return nil
}

// SetScore overwrites the score of an existing record.
func (l Ledger) SetScore(ctx context.Context, id string, score float64) error {
	_, err := l.q.ExecContext(ctx, `UPDATE credit_records SET score = ? WHERE id = ?`, score, id)
	if err != nil {
		return fmt.Errorf("set score %s: %w", id, err)
	}
	return nil
}

// DeleteCredit physically removes the record for id. Credit events that
// reference it are kept.
func (l Ledger) DeleteCredit(ctx context.Context, id string) error {
	_, err := l.q.ExecContext(ctx, `DELETE FROM credit_records WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete credit %s: %w", id, err)
	}
	return nil
}

// ListCredits returns every record, ordered by id.
func (l Ledger) ListCredits(ctx context.Context) ([]CreditRecord, error) {
	rows, err := l.q.QueryContext(ctx, `
		SELECT id, score, access_count, created_at, last_accessed, decay_rate
		FROM credit_records ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list credits: %w", err)
	}
	defer rows.Close()
	return scanCredits(rows)
}

// TopCredits returns up to limit records ordered by score descending.
// Ties are broken by id so the order is stable.
func (l Ledger) TopCredits(ctx context.Context, limit int) ([]CreditRecord, error) {
	rows, err := l.q.QueryContext(ctx, `
		SELECT id, score, access_count, created_at, last_accessed, decay_rate
		FROM credit_records ORDER BY score DESC, id ASC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("top credits: %w", err)
	}
	defer rows.Close()
	return scanCredits(rows)
}

// CreditsBelow returns records whose score is strictly below threshold,
// lowest score first.
func (l Ledger) CreditsBelow(ctx context.Context, threshold float64) ([]CreditRecord, error) {
	rows, err := l.q.QueryContext(ctx, `
		SELECT id, score, access_count, created_at, last_accessed, decay_rate
		FROM credit_records WHERE score < ? ORDER BY score ASC, id ASC
	`, threshold)
	if err != nil {
		return nil, fmt.Errorf("credits below %.3f: %w", threshold, err)
	}
	defer rows.Close()
	return scanCredits(rows)
}

// CountCredits returns the number of records in the ledger.
func (l Ledger) CountCredits(ctx context.Context) (int, error) {
	var n int
	if err := l.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM credit_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count credits: %w", err)
	}
	return n, nil
}

func scanCredits(rows *sql.Rows) ([]CreditRecord, error) {
	var records []CreditRecord
	for rows.Next() {
		var r CreditRecord
		if err := rows.Scan(&r.ID, &r.Score, &r.AccessCount, &r.CreatedAt, &r.LastAccessed, &r.DecayRate); err != nil {
			return nil, fmt.Errorf("scan credit: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
