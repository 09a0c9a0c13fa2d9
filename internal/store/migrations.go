package store

import (
	"database/sql"
	"fmt"
	"time"
)

// migration is one schema step. The archive is append-only evidence, so
// there is no down path; restoring an older schema means restoring a
// backup.
type migration struct {
	version     int
	description string
	up          string
}

var archiveMigrations = []migration{
	{
		version:     1,
		description: "Proof chain and integrity head",
		up:          migrationV1,
	},
	{
		version:     2,
		description: "Encrypted session snapshots",
		up:          migrationV2,
	},
}

const migrationV1 = `
CREATE TABLE IF NOT EXISTS proofs (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id      TEXT NOT NULL UNIQUE,
    classification  TEXT NOT NULL,
    confidence      REAL NOT NULL,
    document_name   TEXT,
    created_at      INTEGER NOT NULL,
    proof_json      BLOB NOT NULL,
    previous_hash   BLOB NOT NULL,
    record_hash     BLOB NOT NULL UNIQUE,
    hmac            BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_proofs_created ON proofs(created_at);
CREATE INDEX IF NOT EXISTS idx_proofs_classification ON proofs(classification);

CREATE TABLE IF NOT EXISTS integrity (
    id              INTEGER PRIMARY KEY CHECK (id = 1),
    chain_hash      BLOB NOT NULL,
    proof_count     INTEGER NOT NULL DEFAULT 0,
    last_verified   INTEGER,
    hmac            BLOB NOT NULL
);
`

const migrationV2 = `
CREATE TABLE IF NOT EXISTS snapshots (
    session_id  TEXT PRIMARY KEY,
    ciphertext  BLOB NOT NULL,
    nonce       BLOB NOT NULL,
    updated_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_snapshots_updated ON snapshots(updated_at);
`

// applyMigrations brings the database to the current schema version.
func applyMigrations(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version     INTEGER PRIMARY KEY,
			applied_at  INTEGER NOT NULL,
			description TEXT NOT NULL
		)`); err != nil {
		return fmt.Errorf("store: create migrations table: %w", err)
	}

	var current int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return fmt.Errorf("store: read schema version: %w", err)
	}

	for _, m := range archiveMigrations {
		if m.version <= current {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("store: begin migration %d: %w", m.version, err)
		}
		if _, err := tx.Exec(m.up); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: apply migration %d (%s): %w", m.version, m.description, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)`,
			m.version, time.Now().UnixNano(), m.description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("store: commit migration %d: %w", m.version, err)
		}
	}
	return nil
}

// validateSchema checks that every table the archive relies on exists.
func validateSchema(db *sql.DB) error {
	required := []string{"proofs", "integrity", "snapshots", "schema_migrations"}
	for _, table := range required {
		var count int
		err := db.QueryRow(
			`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table,
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("store: check table %s: %w", table, err)
		}
		if count == 0 {
			return fmt.Errorf("store: missing required table %s", table)
		}
	}
	return nil
}
