package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/astraguard/astraguard-cli/internal/config"
	"github.com/astraguard/astraguard-cli/internal/feedback"
)

// Row status values. Store membership is encoded by status.
const (
	statusPending     = "pending"
	statusProcessed   = "processed"
	statusQuarantined = "quarantined"
)

var errClosed = errors.New("store is closed")

// dialect captures the SQL differences between the supported drivers.
type dialect struct {
	driver     string
	identityPK string
	nowExpr    string
	numbered   bool // $1 placeholders instead of ?
}

var dialects = map[string]dialect{
	"sqlite": {
		driver:     "sqlite",
		identityPK: "INTEGER PRIMARY KEY AUTOINCREMENT",
		nowExpr:    "(datetime('now'))",
	},
	"postgres": {
		driver:     "postgres",
		identityPK: "BIGSERIAL PRIMARY KEY",
		nowExpr:    "(now()::text)",
		numbered:   true,
	},
}

// rebind rewrites ? placeholders for drivers that number them.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SQLStore keeps pending and processed events in one feedback_events table.
type SQLStore struct {
	db      *sql.DB
	dsn     string
	dialect dialect
	opts    Options
	logger  *slog.Logger
	mu      sync.Mutex
}

// OpenSQL connects to driver ("sqlite" or "postgres") and runs migrations.
func OpenSQL(driver, dsn string, opts Options) (*SQLStore, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported SQL driver %q", driver)
	}
	opts = opts.withDefaults()

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, &PersistenceError{Op: "open", Path: redactDSN(dsn), Err: err}
	}
	if driver == "sqlite" {
		// One writer connection avoids SQLITE_BUSY between our own statements.
		db.SetMaxOpenConns(1)
	}

	s := &SQLStore{
		db:      db,
		dsn:     dsn,
		dialect: d,
		opts:    opts,
		logger:  opts.Logger.With("component", "sql_store", "driver", driver),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &PersistenceError{Op: "ping", Path: redactDSN(dsn), Err: err}
	}
	if err := s.runMigrations(ctx); err != nil {
		db.Close()
		return nil, &PersistenceError{Op: "migrate", Path: redactDSN(dsn), Err: err}
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.db = nil
	return nil
}

// LoadPending returns pending rows in insertion order. Any invalid row makes
// the whole pending set corrupt.
func (s *SQLStore) LoadPending(ctx context.Context) ([]feedback.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil, &PersistenceError{Op: "load pending", Path: redactDSN(s.dsn), Err: errClosed}
	}
	events, err := s.selectEvents(ctx, s.db, statusPending, feedback.ValidatePending)
	if err != nil {
		var corrupt *CorruptError
		if !errors.As(err, &corrupt) {
			return nil, &PersistenceError{Op: "load pending", Path: redactDSN(s.dsn), Err: err}
		}
		s.dropCorruptPending(ctx, corrupt)
		return []feedback.Event{}, nil
	}
	return events, nil
}

// SaveProcessed inserts labeled events, replacing earlier processed rows in
// overwrite mode.
func (s *SQLStore) SaveProcessed(ctx context.Context, events []feedback.Event) error {
	if err := validateBatch(events, feedback.ValidateProcessed); err != nil {
		return err
	}
	return s.inTx(ctx, "save processed", func(tx *sql.Tx) error {
		return s.insertProcessed(ctx, tx, events)
	})
}

// ClearPending deletes every pending row.
func (s *SQLStore) ClearPending(ctx context.Context) error {
	return s.inTx(ctx, "clear pending", func(tx *sql.Tx) error {
		return s.deleteStatus(ctx, tx, statusPending)
	})
}

// Commit inserts the processed batch and deletes pending rows in one
// transaction.
func (s *SQLStore) Commit(ctx context.Context, events []feedback.Event) error {
	if err := validateBatch(events, feedback.ValidateProcessed); err != nil {
		return err
	}
	err := s.inTx(ctx, "commit", func(tx *sql.Tx) error {
		if err := s.insertProcessed(ctx, tx, events); err != nil {
			return err
		}
		return s.deleteStatus(ctx, tx, statusPending)
	})
	if err == nil {
		s.logger.Info("committed batch", "events", len(events), "batch_id", BatchID(ctx), "mode", s.opts.ProcessedMode)
	}
	return err
}

// AppendPending inserts events as pending rows.
func (s *SQLStore) AppendPending(ctx context.Context, events []feedback.Event) error {
	if err := validateBatch(events, feedback.ValidatePending); err != nil {
		return err
	}

	return s.inTx(ctx, "append pending", func(tx *sql.Tx) error {
		existing, err := s.selectEvents(ctx, tx, statusPending, feedback.ValidatePending)
		if err != nil {
			return err
		}
		if err := rejectDuplicates(existing, events); err != nil {
			return err
		}

		query := s.dialect.rebind(`
			INSERT INTO feedback_events
				(status, fault_id, anomaly_type, recovery_action, mission_phase, occurred_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`)
		for _, e := range events {
			if _, err := tx.ExecContext(ctx, query,
				statusPending,
				e.FaultID,
				e.AnomalyType,
				e.RecoveryAction,
				e.MissionPhase,
				e.Timestamp.Format(time.RFC3339Nano),
			); err != nil {
				return fmt.Errorf("failed to insert pending event %s: %w", e.FaultID, err)
			}
		}
		return nil
	})
}

// LoadProcessed returns processed rows in commit order.
func (s *SQLStore) LoadProcessed(ctx context.Context) ([]feedback.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil, &PersistenceError{Op: "load processed", Path: redactDSN(s.dsn), Err: errClosed}
	}
	events, err := s.selectEvents(ctx, s.db, statusProcessed, feedback.ValidateProcessed)
	if err != nil {
		return nil, &PersistenceError{Op: "load processed", Path: redactDSN(s.dsn), Err: err}
	}
	return events, nil
}

// PeekPending reads pending rows with no side effects.
func (s *SQLStore) PeekPending(ctx context.Context) ([]feedback.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil, &PersistenceError{Op: "peek pending", Path: redactDSN(s.dsn), Err: errClosed}
	}
	events, err := s.selectEvents(ctx, s.db, statusPending, feedback.ValidatePending)
	if err != nil {
		var corrupt *CorruptError
		if errors.As(err, &corrupt) {
			return nil, corrupt
		}
		return nil, &PersistenceError{Op: "peek pending", Path: redactDSN(s.dsn), Err: err}
	}
	return events, nil
}

func (s *SQLStore) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return &PersistenceError{Op: op, Path: redactDSN(s.dsn), Err: errClosed}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &PersistenceError{Op: op, Path: redactDSN(s.dsn), Err: err}
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		// Duplicate or invalid input is the caller's error; a corrupt
		// existing row is a storage failure.
		var corrupt *CorruptError
		var verr *feedback.ValidationError
		if !errors.As(err, &corrupt) && errors.As(err, &verr) {
			return err
		}
		return &PersistenceError{Op: op, Path: redactDSN(s.dsn), Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &PersistenceError{Op: op, Path: redactDSN(s.dsn), Err: err}
	}
	return nil
}

func (s *SQLStore) insertProcessed(ctx context.Context, tx *sql.Tx, events []feedback.Event) error {
	if s.opts.ProcessedMode != config.ProcessedAppend {
		if err := s.deleteStatus(ctx, tx, statusProcessed); err != nil {
			return err
		}
	}

	batchID := BatchID(ctx)
	committedAt := s.opts.Now().UTC().Format(time.RFC3339Nano)
	query := s.dialect.rebind(`
		INSERT INTO feedback_events
			(status, fault_id, anomaly_type, recovery_action, mission_phase, occurred_at,
			 label, operator_notes, batch_id, committed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	for _, e := range events {
		if _, err := tx.ExecContext(ctx, query,
			statusProcessed,
			e.FaultID,
			e.AnomalyType,
			e.RecoveryAction,
			e.MissionPhase,
			e.Timestamp.Format(time.RFC3339Nano),
			string(e.Label),
			nullString(e.OperatorNotes),
			batchID,
			committedAt,
		); err != nil {
			return fmt.Errorf("failed to insert processed event %s: %w", e.FaultID, err)
		}
	}
	return nil
}

func (s *SQLStore) deleteStatus(ctx context.Context, tx *sql.Tx, status string) error {
	query := s.dialect.rebind("DELETE FROM feedback_events WHERE status = ?")
	if _, err := tx.ExecContext(ctx, query, status); err != nil {
		return fmt.Errorf("failed to delete %s events: %w", status, err)
	}
	return nil
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *SQLStore) selectEvents(ctx context.Context, q querier, status string, check func(feedback.Event) error) ([]feedback.Event, error) {
	query := s.dialect.rebind(`
		SELECT fault_id, anomaly_type, recovery_action, mission_phase, occurred_at, label, operator_notes
		FROM feedback_events
		WHERE status = ?
		ORDER BY id
	`)
	rows, err := q.QueryContext(ctx, query, status)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s events: %w", status, err)
	}
	defer rows.Close()

	events := []feedback.Event{}
	for i := 0; rows.Next(); i++ {
		var faultID, anomaly, action, phase, occurredAt string
		var label, notes sql.NullString
		if err := rows.Scan(&faultID, &anomaly, &action, &phase, &occurredAt, &label, &notes); err != nil {
			return nil, fmt.Errorf("failed to scan %s event: %w", status, err)
		}

		m := map[string]any{
			feedback.FieldFaultID:        faultID,
			feedback.FieldAnomalyType:    anomaly,
			feedback.FieldRecoveryAction: action,
			feedback.FieldMissionPhase:   phase,
			feedback.FieldTimestamp:      occurredAt,
		}
		if label.Valid {
			m[feedback.FieldLabel] = label.String
		}
		if notes.Valid {
			m[feedback.FieldOperatorNotes] = notes.String
		}

		e, err := feedback.FromMap(m)
		if err == nil {
			err = check(e)
		}
		if err != nil {
			return nil, &CorruptError{Path: "feedback_events/" + status, Index: i, Err: err}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s events: %w", status, err)
	}
	return events, nil
}

// dropCorruptPending must be called with s.mu held.
func (s *SQLStore) dropCorruptPending(ctx context.Context, cause *CorruptError) {
	var query string
	var args []any
	switch s.opts.OnCorrupt {
	case config.CorruptQuarantine:
		query = "UPDATE feedback_events SET status = ? WHERE status = ?"
		args = []any{statusQuarantined, statusPending}
	default:
		query = "DELETE FROM feedback_events WHERE status = ?"
		args = []any{statusPending}
	}

	if _, err := s.db.ExecContext(ctx, s.dialect.rebind(query), args...); err != nil {
		s.logger.Error("failed to drop corrupt pending rows", "policy", s.opts.OnCorrupt, "error", err)
	} else {
		s.logger.Warn("dropped corrupt pending rows", "policy", s.opts.OnCorrupt, "cause", cause)
	}

	if s.opts.OnCorruptHook != nil {
		s.opts.OnCorruptHook(cause.Path, cause)
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// redactDSN hides credentials in connection strings used in errors.
func redactDSN(dsn string) string {
	if at := strings.LastIndex(dsn, "@"); at >= 0 {
		if scheme := strings.Index(dsn, "://"); scheme >= 0 && scheme < at {
			return dsn[:scheme+3] + "***" + dsn[at:]
		}
	}
	return dsn
}
