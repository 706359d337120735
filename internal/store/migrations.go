package store

import (
	"database/sql"
	"fmt"
)

// currentSchemaVersion is the schema version this build of the daemon
// expects. Migrations run monotonically from whatever is recorded in
// schema_version up to this value.
const currentSchemaVersion = 2

// runMigrations sets the WAL/foreign-key pragmas, then brings the schema
// up to currentSchemaVersion. It is idempotent: running it again on an
// already-current database does nothing beyond the pragma sets.
func runMigrations(db *sql.DB) error {
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		return fmt.Errorf("store: set journal_mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		return fmt.Errorf("store: set foreign_keys: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("store: create schema_version: %w", err)
	}

	var version sql.NullInt64
	row := db.QueryRow(`SELECT version FROM schema_version ORDER BY version DESC LIMIT 1`)
	_ = row.Scan(&version) // no rows means version stays invalid (treated as 0 below)

	hadRow := version.Valid
	current := int(version.Int64)

	if current >= currentSchemaVersion {
		return nil
	}

	if current < 1 {
		if err := migrateV1(db); err != nil {
			return err
		}
	}
	if current < 2 {
		if err := migrateV2(db); err != nil {
			return err
		}
	}

	if hadRow {
		if _, err := db.Exec(`UPDATE schema_version SET version = ?`, currentSchemaVersion); err != nil {
			return fmt.Errorf("store: record schema version: %w", err)
		}
	} else {
		if _, err := db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, currentSchemaVersion); err != nil {
			return fmt.Errorf("store: record schema version: %w", err)
		}
	}
	return nil
}

func migrateV1(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS entities (
			id         TEXT PRIMARY KEY NOT NULL,
			kind       TEXT NOT NULL,
			name       TEXT NOT NULL,
			attributes TEXT NOT NULL DEFAULT '{}',
			first_seen INTEGER NOT NULL,
			last_seen  INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_kind ON entities(kind)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_name ON entities(name)`,
		`CREATE INDEX IF NOT EXISTS idx_entities_last_seen ON entities(last_seen)`,

		`CREATE TABLE IF NOT EXISTS events (
			id         TEXT PRIMARY KEY NOT NULL,
			timestamp  INTEGER NOT NULL,
			source     TEXT NOT NULL,
			kind       TEXT NOT NULL,
			subject_id TEXT NOT NULL REFERENCES entities(id),
			metadata   TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_events_source ON events(source)`,
		`CREATE INDEX IF NOT EXISTS idx_events_subject ON events(subject_id)`,

		`CREATE TABLE IF NOT EXISTS event_context (
			event_id  TEXT NOT NULL REFERENCES events(id),
			entity_id TEXT NOT NULL REFERENCES entities(id),
			PRIMARY KEY (event_id, entity_id)
		)`,

		`CREATE TABLE IF NOT EXISTS edges (
			id              TEXT PRIMARY KEY NOT NULL,
			from_id         TEXT NOT NULL REFERENCES entities(id),
			to_id           TEXT NOT NULL REFERENCES entities(id),
			relation        TEXT NOT NULL,
			strength        REAL NOT NULL DEFAULT 1.0,
			created_at      INTEGER NOT NULL,
			last_reinforced INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_from ON edges(from_id)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_to ON edges(to_id)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_relation ON edges(relation)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("store: migration v1: %w", err)
		}
	}

	var ftsExists bool
	row := db.QueryRow(`SELECT COUNT(*) > 0 FROM sqlite_master WHERE type='table' AND name='entities_fts'`)
	if err := row.Scan(&ftsExists); err != nil {
		return fmt.Errorf("store: check entities_fts: %w", err)
	}
	if !ftsExists {
		_, err := db.Exec(`CREATE VIRTUAL TABLE entities_fts USING fts5(name, attributes, content='entities', content_rowid='rowid')`)
		if err != nil {
			return fmt.Errorf("store: create entities_fts: %w", err)
		}
	}
	return nil
}

func migrateV2(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id            TEXT PRIMARY KEY NOT NULL,
			app_name      TEXT NOT NULL,
			window_titles TEXT NOT NULL DEFAULT '[]',
			project       TEXT,
			category      TEXT NOT NULL DEFAULT 'other',
			start_time    INTEGER NOT NULL,
			end_time      INTEGER NOT NULL,
			duration_secs INTEGER NOT NULL,
			event_count   INTEGER NOT NULL DEFAULT 0,
			metadata      TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_time ON sessions(start_time, end_time)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_app ON sessions(app_name)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_category ON sessions(category)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("store: migration v2: %w", err)
		}
	}
	return nil
}
