package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

type migration struct {
	version    int
	name       string
	statements []string
}

// migrations are applied in order, each exactly once. Never edit a released
// migration; append a new one.
var migrations = []migration{
	{
		version: 1,
		name:    "create tasks",
		statements: []string{
			`CREATE TABLE IF NOT EXISTS tasks (
				id                TEXT PRIMARY KEY,
				seq               BIGSERIAL NOT NULL,
				audio_path        TEXT NOT NULL DEFAULT '',
				original_filename TEXT NOT NULL DEFAULT '',
				source_url        TEXT NOT NULL DEFAULT '',
				model             TEXT NOT NULL,
				language          TEXT,
				status            TEXT NOT NULL,
				result            TEXT,
				error             TEXT,
				created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS tasks_seq_idx ON tasks (seq)`,
		},
	},
	{
		version: 2,
		name:    "add fingerprint",
		statements: []string{
			`ALTER TABLE tasks ADD COLUMN IF NOT EXISTS fingerprint TEXT`,
			`CREATE INDEX IF NOT EXISTS tasks_fingerprint_language_idx ON tasks (fingerprint, language)`,
		},
	},
	{
		version: 3,
		name:    "add lifecycle timestamps",
		statements: []string{
			`ALTER TABLE tasks ADD COLUMN IF NOT EXISTS started_at TIMESTAMPTZ`,
			`ALTER TABLE tasks ADD COLUMN IF NOT EXISTS completed_at TIMESTAMPTZ`,
		},
	},
}

const migrationLockID = 7241390519

// Migrate applies pending migrations inside one transaction. The advisory lock
// keeps two starting processes from racing on the same schema.
func (r *PostgresRepo) Migrate(ctx context.Context) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migration: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, migrationLockID); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version    INTEGER PRIMARY KEY,
			name       TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var current int
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range pending(current) {
		if err := applyMigration(ctx, tx, m); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func applyMigration(ctx context.Context, tx pgx.Tx, m migration) error {
	for _, stmt := range m.statements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
	}
	_, err := tx.Exec(ctx, `INSERT INTO schema_version (version, name) VALUES ($1, $2)`, m.version, m.name)
	if err != nil {
		return fmt.Errorf("record migration %d: %w", m.version, err)
	}
	return nil
}

// pending returns the migrations newer than current.
func pending(current int) []migration {
	var out []migration
	for _, m := range migrations {
		if m.version > current {
			out = append(out, m)
		}
	}
	return out
}

// LatestVersion is the schema version this build expects.
func LatestVersion() int {
	return migrations[len(migrations)-1].version
}
