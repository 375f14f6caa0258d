/*
Package store persists the pending feedback queue and the processed archive.

Two backends implement the same contract:
  - JSONStore keeps each collection in its own JSON array file.
  - SQLStore keeps both in one table (SQLite via modernc.org/sqlite, or
    PostgreSQL via lib/pq) and commits a batch in a single transaction.

Contract shared by every backend:
  - LoadPending on a missing collection returns an empty slice.
  - Corrupt pending content is dropped as a whole (delete or quarantine, per
    configuration), reported through Options.OnCorrupt, and an empty slice
    is returned. The processed archive is never dropped.
  - Commit moves a fully labeled batch to the processed archive and clears
    the pending queue, or fails with the pending queue untouched.

Writers assume a single review session at a time. The JSON backend enforces
this with an advisory lock; producers must not append while a session runs.
*/
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/astraguard/astraguard-cli/internal/config"
	"github.com/astraguard/astraguard-cli/internal/feedback"
	"github.com/astraguard/astraguard-cli/internal/logging"
)

// Store is the contract the review session needs.
type Store interface {
	// LoadPending returns the pending events in queue order.
	LoadPending(ctx context.Context) ([]feedback.Event, error)

	// SaveProcessed writes labeled events to the processed archive atomically.
	SaveProcessed(ctx context.Context, events []feedback.Event) error

	// ClearPending removes the pending queue. Idempotent.
	ClearPending(ctx context.Context) error
}

// Committer is implemented by stores that can move a batch from pending to
// processed in one step.
type Committer interface {
	Commit(ctx context.Context, events []feedback.Event) error
}

// Archive is the full store surface used by the CLI.
type Archive interface {
	Store
	Committer

	// AppendPending validates events and adds them to the pending queue.
	AppendPending(ctx context.Context, events []feedback.Event) error

	// LoadProcessed returns the processed archive in commit order.
	LoadProcessed(ctx context.Context) ([]feedback.Event, error)

	// PeekPending reads the pending queue without recovering it. Corrupt
	// content is returned as a *CorruptError and left in place.
	PeekPending(ctx context.Context) ([]feedback.Event, error)

	Close() error
}

// Options configures recovery and write behavior.
type Options struct {
	// ProcessedMode is config.ProcessedOverwrite or config.ProcessedAppend.
	ProcessedMode string

	// OnCorrupt is config.CorruptDelete or config.CorruptQuarantine.
	OnCorrupt string

	// OnCorruptHook is called after a corrupt pending collection was dropped.
	OnCorruptHook func(location string, cause error)

	Logger *slog.Logger

	// Now stamps committed rows. Defaults to time.Now.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.ProcessedMode == "" {
		o.ProcessedMode = config.ProcessedOverwrite
	}
	if o.OnCorrupt == "" {
		o.OnCorrupt = config.CorruptDelete
	}
	if o.Logger == nil {
		o.Logger = logging.Discard()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Open builds the store selected by cfg.Backend.
func Open(cfg config.FeedbackConfig, opts Options) (Archive, error) {
	if opts.ProcessedMode == "" {
		opts.ProcessedMode = cfg.ProcessedMode
	}
	if opts.OnCorrupt == "" {
		opts.OnCorrupt = cfg.OnCorrupt
	}

	switch cfg.Backend {
	case config.BackendJSON, "":
		return NewJSONStore(cfg.PendingPath, cfg.ProcessedPath, opts), nil
	case config.BackendSQLite:
		return OpenSQL("sqlite", cfg.DSN, opts)
	case config.BackendPostgres:
		return OpenSQL("postgres", cfg.DSN, opts)
	}
	return nil, fmt.Errorf("unknown feedback backend %q", cfg.Backend)
}

// Commit moves a labeled batch to the processed archive and clears the
// pending queue. Stores implementing Committer do this atomically; for the
// rest SaveProcessed runs first so a failure leaves pending intact.
func Commit(ctx context.Context, s Store, events []feedback.Event) error {
	if c, ok := s.(Committer); ok {
		return c.Commit(ctx, events)
	}
	if err := s.SaveProcessed(ctx, events); err != nil {
		return err
	}
	return s.ClearPending(ctx)
}

type batchIDKey struct{}

// WithBatchID attaches the review batch id to ctx so stores can record it.
func WithBatchID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, batchIDKey{}, id)
}

// BatchID returns the batch id carried by ctx, or a fresh one.
func BatchID(ctx context.Context) string {
	if id, ok := ctx.Value(batchIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

// validateBatch checks every event before anything touches the backend.
func validateBatch(events []feedback.Event, check func(feedback.Event) error) error {
	for i, e := range events {
		if err := check(e); err != nil {
			return fmt.Errorf("event %d (%s): %w", i, e.FaultID, err)
		}
	}
	return nil
}

// rejectDuplicates fails when an incoming fault id is already queued or
// repeated within the incoming batch.
func rejectDuplicates(existing, incoming []feedback.Event) error {
	seen := make(map[string]bool, len(existing)+len(incoming))
	for _, e := range existing {
		seen[e.FaultID] = true
	}
	for _, e := range incoming {
		if seen[e.FaultID] {
			return &feedback.ValidationError{Field: feedback.FieldFaultID, Reason: "is already pending", Value: e.FaultID}
		}
		seen[e.FaultID] = true
	}
	return nil
}
