// Package db provides database schema migration management.
package db

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"
)

// Migration represents an applied database schema migration.
type Migration struct {
	Version     int
	AppliedAt   time.Time
	Description string
	Checksum    string
}

// migrationStep is a schema change compiled into the binary. Versions are
// contiguous starting at 1; applied SQL is checksummed so a changed step
// is detected rather than silently re-run.
type migrationStep struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migrationStep{
	{
		Version:     1,
		Description: "records and photos",
		SQL: `
		CREATE TABLE records (
			id TEXT PRIMARY KEY,
			entity_type TEXT NOT NULL,
			fields TEXT NOT NULL DEFAULT '{}',
			sync_status TEXT NOT NULL DEFAULT 'pending',
			retry_count INTEGER NOT NULL DEFAULT 0,
			sync_error TEXT NOT NULL DEFAULT '',
			version INTEGER NOT NULL DEFAULT 1,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX idx_records_sync_status ON records(sync_status);
		CREATE INDEX idx_records_entity_type ON records(entity_type);

		CREATE TABLE photos (
			id TEXT PRIMARY KEY,
			record_id TEXT NOT NULL REFERENCES records(id) ON DELETE CASCADE,
			content_hash TEXT NOT NULL,
			size_bytes INTEGER NOT NULL DEFAULT 0,
			sync_status TEXT NOT NULL DEFAULT 'pending',
			last_accessed INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX idx_photos_sync_status ON photos(sync_status);
		CREATE INDEX idx_photos_last_accessed ON photos(last_accessed);`,
	},
	{
		Version:     2,
		Description: "sync queue and logs",
		SQL: `
		CREATE TABLE sync_queue (
			id TEXT PRIMARY KEY,
			entity_type TEXT NOT NULL,
			record_id TEXT NOT NULL,
			operation TEXT NOT NULL,
			payload TEXT NOT NULL DEFAULT '[]',
			priority INTEGER NOT NULL DEFAULT 0,
			retry_count INTEGER NOT NULL DEFAULT 0,
			max_retries INTEGER NOT NULL DEFAULT 3,
			next_retry_at INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			last_error TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);
		CREATE INDEX idx_sync_queue_status ON sync_queue(status);
		CREATE INDEX idx_sync_queue_order ON sync_queue(priority DESC, created_at ASC);

		CREATE TABLE conflict_log (
			id TEXT PRIMARY KEY,
			record_id TEXT NOT NULL,
			fields TEXT NOT NULL DEFAULT '[]',
			local_timestamp INTEGER NOT NULL,
			remote_timestamp INTEGER NOT NULL,
			resolution TEXT NOT NULL,
			detected_at INTEGER NOT NULL,
			resolved_at INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX idx_conflict_log_record ON conflict_log(record_id);

		CREATE TABLE change_log (
			id TEXT PRIMARY KEY,
			record_id TEXT NOT NULL,
			operation TEXT NOT NULL,
			version INTEGER NOT NULL,
			timestamp INTEGER NOT NULL
		);
		CREATE INDEX idx_change_log_record ON change_log(record_id);`,
	},
	{
		Version:     3,
		Description: "response cache",
		SQL: `
		CREATE TABLE cache_entries (
			key TEXT PRIMARY KEY,
			size_bytes INTEGER NOT NULL DEFAULT 0,
			cached_at INTEGER NOT NULL
		);`,
	},
}

// Migrator handles database schema migrations.
type Migrator struct {
	db *sql.DB
}

// NewMigrator creates a new Migrator instance.
func NewMigrator(db *sql.DB) *Migrator {
	return &Migrator{db: db}
}

// Initialize creates the schema_migrations table if it doesn't exist.
func (m *Migrator) Initialize() error {
	query := `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY CHECK(version > 0),
		applied_at INTEGER NOT NULL CHECK(applied_at > 0),
		description TEXT NOT NULL CHECK(length(description) > 0),
		checksum TEXT NOT NULL CHECK(length(checksum) = 64)
	);`
	_, err := m.db.Exec(query)
	return err
}

// CurrentVersion returns the current schema version.
func (m *Migrator) CurrentVersion() (int, error) {
	var version int
	err := m.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	return version, err
}

// GetAppliedMigrations returns all applied migrations.
func (m *Migrator) GetAppliedMigrations() ([]Migration, error) {
	rows, err := m.db.Query("SELECT version, applied_at, description, checksum FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var applied []Migration
	for rows.Next() {
		var mig Migration
		var appliedAt int64
		if err := rows.Scan(&mig.Version, &appliedAt, &mig.Description, &mig.Checksum); err != nil {
			return nil, err
		}
		mig.AppliedAt = time.Unix(appliedAt, 0)
		applied = append(applied, mig)
	}
	return applied, rows.Err()
}

// Migrate applies all pending migration steps in a transaction each,
// verifying checksums of already-applied steps.
func (m *Migrator) Migrate() error {
	if err := m.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}

	applied, err := m.GetAppliedMigrations()
	if err != nil {
		return fmt.Errorf("failed to read applied migrations: %w", err)
	}

	appliedByVersion := make(map[int]Migration, len(applied))
	for _, a := range applied {
		appliedByVersion[a.Version] = a
	}

	for _, step := range migrations {
		checksum := checksumSQL(step.SQL)

		if prev, ok := appliedByVersion[step.Version]; ok {
			if prev.Checksum != checksum {
				return fmt.Errorf("migration %d checksum mismatch: schema step changed after being applied", step.Version)
			}
			continue
		}

		if err := m.applyStep(step, checksum); err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", step.Version, step.Description, err)
		}
	}

	return nil
}

func (m *Migrator) applyStep(step migrationStep, checksum string) error {
	tx, err := m.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(step.SQL); err != nil {
		return err
	}

	_, err = tx.Exec(
		"INSERT INTO schema_migrations (version, applied_at, description, checksum) VALUES (?, ?, ?, ?)",
		step.Version, time.Now().Unix(), step.Description, checksum,
	)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func checksumSQL(sqlText string) string {
	sum := sha256.Sum256([]byte(sqlText))
	return hex.EncodeToString(sum[:])
}
