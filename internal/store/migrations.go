package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "credit_records: per-memory trust score",
		SQL: `
CREATE TABLE credit_records (
    id             TEXT PRIMARY KEY,
    score          REAL NOT NULL DEFAULT 0.5,
    access_count   INTEGER NOT NULL DEFAULT 0,
    created_at     INTEGER NOT NULL,
    last_accessed  INTEGER NOT NULL,
    decay_rate     REAL NOT NULL DEFAULT 0.01
);

CREATE INDEX idx_credit_score         ON credit_records(score DESC);
CREATE INDEX idx_credit_last_accessed ON credit_records(last_accessed);
`,
	},
	{
		Version:     2,
		Description: "credit_events: append-only outcome audit",
		SQL: `
CREATE TABLE credit_events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    memory_id   TEXT NOT NULL,
    event_type  TEXT NOT NULL,
    reward      REAL NOT NULL,
    old_score   REAL NOT NULL,
    new_score   REAL NOT NULL,
    session_id  TEXT,
    created_at  INTEGER NOT NULL
);

CREATE INDEX idx_events_memory  ON credit_events(memory_id);
CREATE INDEX idx_events_session ON credit_events(session_id);
`,
	},
	{
		Version:     3,
		Description: "turn_records: retrieval batches awaiting an outcome",
		SQL: `
CREATE TABLE turn_records (
    id                    INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id            TEXT NOT NULL,
    retrieved_memory_ids  TEXT NOT NULL,
    outcome               TEXT,
    created_at            INTEGER NOT NULL
);

CREATE INDEX idx_turns_session ON turn_records(session_id, outcome);
`,
	},
	{
		Version:     4,
		Description: "lifecycle_log: decay/promote/consolidate/prune actions",
		SQL: `
CREATE TABLE lifecycle_log (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    action      TEXT NOT NULL CHECK (action IN ('decay', 'promote', 'consolidate', 'prune')),
    target_ids  TEXT NOT NULL,
    details     TEXT,
    created_at  INTEGER NOT NULL
);

CREATE INDEX idx_lifecycle_action ON lifecycle_log(action);
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
