package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"meeting-insights-go/internal/logger"
)

func postgresMigrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS meeting_instances (
				id TEXT PRIMARY KEY,
				state TEXT NOT NULL,
				active BOOLEAN NOT NULL,
				data JSONB NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_meeting_instances_active ON meeting_instances (active) WHERE active;
		`,
		2: `
			CREATE TABLE IF NOT EXISTS meeting_records (
				key TEXT PRIMARY KEY,
				payload JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
			);
		`,
	}
}

type migrator struct {
	db         *sql.DB
	log        *logger.Logger
	migrations map[int]string
}

func (m *migrator) run(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	var current int
	err = m.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&current)
	if err != nil {
		return fmt.Errorf("failed to query current schema version: %w", err)
	}
	m.log.WithField("version", current).Info("current schema version")

	versions := make([]int, 0, len(m.migrations))
	for v := range m.migrations {
		versions = append(versions, v)
	}
	sort.Ints(versions)

	for _, version := range versions {
		if version <= current {
			continue
		}
		if err := m.apply(ctx, version, m.migrations[version]); err != nil {
			return err
		}
		m.log.WithField("version", version).Info("migration applied")
	}
	return nil
}

func (m *migrator) apply(ctx context.Context, version int, stmt string) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for migration %d: %w", version, err)
	}
	if _, err := tx.ExecContext(ctx, stmt); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to execute migration %d: %w", version, err)
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", version); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("failed to record migration %d: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %d: %w", version, err)
	}
	return nil
}
