package store

import (
	"context"
	"fmt"
)

// migration represents a single schema migration.
type migration struct {
	version int
	name    string
	up      func(ctx context.Context) error
}

// runMigrations applies pending migrations in version order.
func (s *SQLStore) runMigrations(ctx context.Context) error {
	if err := s.createMigrationsTable(ctx); err != nil {
		return err
	}

	version, err := s.currentMigrationVersion(ctx)
	if err != nil {
		return err
	}

	migrations := []migration{
		{version: 1, name: "feedback_events", up: s.migration001FeedbackEvents},
	}

	for _, m := range migrations {
		if version >= m.version {
			continue
		}
		s.logger.Info("running migration", "version", m.version, "name", m.name)
		if err := m.up(ctx); err != nil {
			return fmt.Errorf("migration %d failed: %w", m.version, err)
		}
		if err := s.setMigrationVersion(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) createMigrationsTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at TEXT NOT NULL DEFAULT %s
		)
	`, s.dialect.nowExpr)
	_, err := s.db.ExecContext(ctx, query)
	return err
}

func (s *SQLStore) currentMigrationVersion(ctx context.Context) (int, error) {
	row := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations")

	var version int
	if err := row.Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}

func (s *SQLStore) setMigrationVersion(ctx context.Context, m migration) error {
	query := s.dialect.rebind("INSERT INTO schema_migrations (version, name) VALUES (?, ?)")
	_, err := s.db.ExecContext(ctx, query, m.version, m.name)
	return err
}

// migration001FeedbackEvents creates the events table. Timestamps are stored
// as RFC 3339 text so the original offset survives a round trip.
func (s *SQLStore) migration001FeedbackEvents(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS feedback_events (
			id %s,
			status TEXT NOT NULL,
			fault_id TEXT NOT NULL,
			anomaly_type TEXT NOT NULL,
			recovery_action TEXT NOT NULL,
			mission_phase TEXT NOT NULL,
			occurred_at TEXT NOT NULL,
			label TEXT,
			operator_notes TEXT,
			batch_id TEXT,
			committed_at TEXT
		)
	`, s.dialect.identityPK)); err != nil {
		return fmt.Errorf("failed to create feedback_events table: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_feedback_events_status
		ON feedback_events(status, id)
	`); err != nil {
		return fmt.Errorf("failed to create feedback_events status index: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_feedback_events_batch
		ON feedback_events(batch_id)
	`); err != nil {
		return fmt.Errorf("failed to create feedback_events batch index: %w", err)
	}

	return nil
}
