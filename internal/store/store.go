// Package store persists decision records to an embedded SQLite database.
// Persistence is optional — the router carries no required state — but a
// local record trail survives restarts and feeds offline analysis without
// the catalog or tuning services.
package store

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/switchboard-ai/switchboard/internal/observability"
)

// ─── Schema ─────────────────────────────────────────────────────────────────

// Migrations returns the schema statements. Each string is a single SQL
// statement (SQLite executes one at a time).
func Migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS decision_records (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			request_id        TEXT NOT NULL,
			bucket            TEXT NOT NULL,
			provider          TEXT NOT NULL,
			model             TEXT NOT NULL,
			success           INTEGER NOT NULL DEFAULT 0,
			denied            INTEGER NOT NULL DEFAULT 0,
			deny_reason       TEXT,
			execution_ms      REAL NOT NULL DEFAULT 0,
			prompt_tokens     INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			cost_usd          REAL NOT NULL DEFAULT 0,
			fallback_used     INTEGER NOT NULL DEFAULT 0,
			fallback_reason   TEXT,
			anthropic_429     INTEGER NOT NULL DEFAULT 0,
			artifact_version  TEXT,
			recorded_at       TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_at ON decision_records(recorded_at)`,
		`CREATE INDEX IF NOT EXISTS idx_records_bucket ON decision_records(bucket)`,
	}
}

// ─── Store ──────────────────────────────────────────────────────────────────

// Store is the SQLite-backed record sink.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open record store")
	}
	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)
	for _, stmt := range Migrations() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "apply record store schema")
		}
	}
	return &Store{db: db}, nil
}

// Append persists one record. Implements observability.Sink.
func (s *Store) Append(rec observability.Record) error {
	_, err := s.db.Exec(`INSERT INTO decision_records
		(request_id, bucket, provider, model, success, denied, deny_reason,
		 execution_ms, prompt_tokens, completion_tokens, cost_usd,
		 fallback_used, fallback_reason, anthropic_429, artifact_version, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, string(rec.Bucket), string(rec.Provider), rec.Model,
		boolInt(rec.Success), boolInt(rec.Denied), rec.DenyReason,
		rec.ExecutionMS, rec.PromptTokens, rec.CompletionTokens, rec.CostUSD,
		boolInt(rec.FallbackUsed), rec.FallbackReason, boolInt(rec.Anthropic429),
		rec.ArtifactVersion, rec.At.UTC().Format(time.RFC3339Nano))
	return errors.Wrap(err, "append decision record")
}

// Prune deletes records older than the retention window.
func (s *Store) Prune(olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan).UTC().Format(time.RFC3339Nano)
	res, err := s.db.Exec(`DELETE FROM decision_records WHERE recorded_at < ?`, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "prune decision records")
	}
	return res.RowsAffected()
}

// Count returns the stored record count.
func (s *Store) Count() (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM decision_records`).Scan(&n)
	return n, err
}

// Close flushes and closes the database.
func (s *Store) Close() error { return s.db.Close() }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
