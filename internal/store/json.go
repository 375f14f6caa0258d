package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/astraguard/astraguard-cli/internal/config"
	"github.com/astraguard/astraguard-cli/internal/feedback"
	"github.com/astraguard/astraguard-cli/internal/fileutil"
)

// lockFileName sits next to the processed archive.
const lockFileName = ".feedback.lock"

// JSONStore keeps the pending queue and the processed archive as JSON arrays.
type JSONStore struct {
	pendingPath   string
	processedPath string
	lockPath      string
	opts          Options
	logger        *slog.Logger
}

// NewJSONStore creates a store over the two files. Neither needs to exist.
func NewJSONStore(pendingPath, processedPath string, opts Options) *JSONStore {
	opts = opts.withDefaults()
	return &JSONStore{
		pendingPath:   pendingPath,
		processedPath: processedPath,
		lockPath:      filepath.Join(filepath.Dir(processedPath), lockFileName),
		opts:          opts,
		logger:        opts.Logger.With("component", "json_store"),
	}
}

// PendingPath returns the pending queue file.
func (s *JSONStore) PendingPath() string { return s.pendingPath }

// ProcessedPath returns the processed archive file.
func (s *JSONStore) ProcessedPath() string { return s.processedPath }

// LoadPending reads the pending queue. See the package doc for the corruption
// policy.
func (s *JSONStore) LoadPending(ctx context.Context) ([]feedback.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.pendingPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []feedback.Event{}, nil
		}
		return nil, &PersistenceError{Op: "load pending", Path: s.pendingPath, Err: err}
	}

	events, err := decodeEvents(s.pendingPath, data, feedback.ValidatePending)
	if err != nil {
		s.dropCorruptPending(err)
		return []feedback.Event{}, nil
	}

	s.logger.Debug("loaded pending events", "path", s.pendingPath, "count", len(events))
	return events, nil
}

// SaveProcessed writes the processed archive. In overwrite mode the file is
// replaced by events; in append mode events follow the existing records.
func (s *JSONStore) SaveProcessed(ctx context.Context, events []feedback.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateBatch(events, feedback.ValidateProcessed); err != nil {
		return err
	}

	lock, err := fileutil.TryLock(s.lockPath)
	if err != nil {
		return &PersistenceError{Op: "save processed", Path: s.processedPath, Err: err}
	}
	defer lock.Unlock()

	_, err = s.writeProcessed(events)
	return err
}

// ClearPending removes the pending queue file.
func (s *JSONStore) ClearPending(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	lock, err := fileutil.TryLock(s.lockPath)
	if err != nil {
		return &PersistenceError{Op: "clear pending", Path: s.pendingPath, Err: err}
	}
	defer lock.Unlock()

	return s.clearPending()
}

// Commit writes events to the processed archive and removes the pending
// queue under one lock. If the pending queue cannot be removed, the previous
// processed archive is restored so the batch is not committed twice on retry.
func (s *JSONStore) Commit(ctx context.Context, events []feedback.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateBatch(events, feedback.ValidateProcessed); err != nil {
		return err
	}

	lock, err := fileutil.TryLock(s.lockPath)
	if err != nil {
		return &PersistenceError{Op: "commit", Path: s.processedPath, Err: err}
	}
	defer lock.Unlock()

	previous, err := s.writeProcessed(events)
	if err != nil {
		return err
	}

	if err := s.clearPending(); err != nil {
		if rerr := s.restoreProcessed(previous); rerr != nil {
			s.logger.Error("failed to restore processed archive after aborted commit",
				"path", s.processedPath, "error", rerr)
			return errors.Join(err, &PersistenceError{Op: "restore processed", Path: s.processedPath, Err: rerr})
		}
		return err
	}

	s.logger.Info("committed batch", "events", len(events), "mode", s.opts.ProcessedMode)
	return nil
}

// AppendPending adds events to the pending queue. A corrupt queue is
// reported, not replaced, so producers never destroy data.
func (s *JSONStore) AppendPending(ctx context.Context, events []feedback.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateBatch(events, feedback.ValidatePending); err != nil {
		return err
	}

	lock, err := fileutil.TryLock(s.lockPath)
	if err != nil {
		return &PersistenceError{Op: "append pending", Path: s.pendingPath, Err: err}
	}
	defer lock.Unlock()

	existing, _, err := s.readStrict(s.pendingPath, feedback.ValidatePending)
	if err != nil {
		return &PersistenceError{Op: "append pending", Path: s.pendingPath, Err: err}
	}
	if err := rejectDuplicates(existing, events); err != nil {
		return err
	}

	data, err := encodeEvents(append(existing, events...))
	if err != nil {
		return err
	}
	if err := fileutil.WriteAtomic(s.pendingPath, data, 0644); err != nil {
		return &PersistenceError{Op: "append pending", Path: s.pendingPath, Err: err}
	}

	s.logger.Info("appended pending events", "count", len(events), "total", len(existing)+len(events))
	return nil
}

// LoadProcessed reads the processed archive. Corruption is an error here.
func (s *JSONStore) LoadProcessed(ctx context.Context) ([]feedback.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	events, _, err := s.readStrict(s.processedPath, feedback.ValidateProcessed)
	if err != nil {
		return nil, &PersistenceError{Op: "load processed", Path: s.processedPath, Err: err}
	}
	return events, nil
}

// PeekPending reads the pending queue with no side effects.
func (s *JSONStore) PeekPending(ctx context.Context) ([]feedback.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	events, _, err := s.readStrict(s.pendingPath, feedback.ValidatePending)
	if err != nil {
		var corrupt *CorruptError
		if errors.As(err, &corrupt) {
			return nil, corrupt
		}
		return nil, &PersistenceError{Op: "peek pending", Path: s.pendingPath, Err: err}
	}
	return events, nil
}

// Close is a no-op; files are not held open.
func (s *JSONStore) Close() error { return nil }

// processedSnapshot is the archive content before a write.
type processedSnapshot struct {
	data    []byte
	existed bool
}

// writeProcessed must be called with the lock held.
func (s *JSONStore) writeProcessed(events []feedback.Event) (processedSnapshot, error) {
	existing, snap, err := s.readStrict(s.processedPath, feedback.ValidateProcessed)
	if err != nil && s.opts.ProcessedMode == config.ProcessedAppend {
		// Never merge into (and thereby overwrite) an archive we cannot read.
		return snap, &PersistenceError{Op: "save processed", Path: s.processedPath, Err: err}
	}

	out := events
	if s.opts.ProcessedMode == config.ProcessedAppend {
		out = append(append([]feedback.Event{}, existing...), events...)
	}

	data, err := encodeEvents(out)
	if err != nil {
		return snap, err
	}

	if err := fileutil.Backup(s.processedPath); err != nil {
		s.logger.Warn("failed to back up processed archive", "path", s.processedPath, "error", err)
	}
	if err := fileutil.WriteAtomic(s.processedPath, data, 0644); err != nil {
		return snap, &PersistenceError{Op: "save processed", Path: s.processedPath, Err: err}
	}
	return snap, nil
}

func (s *JSONStore) restoreProcessed(snap processedSnapshot) error {
	if !snap.existed {
		return fileutil.RemoveIfExists(s.processedPath)
	}
	return fileutil.WriteAtomic(s.processedPath, snap.data, 0644)
}

func (s *JSONStore) clearPending() error {
	if err := fileutil.RemoveIfExists(s.pendingPath); err != nil {
		return &PersistenceError{Op: "clear pending", Path: s.pendingPath, Err: err}
	}
	return nil
}

// readStrict reads and validates a collection, returning the raw snapshot
// alongside. A missing file is an empty collection.
func (s *JSONStore) readStrict(path string, check func(feedback.Event) error) ([]feedback.Event, processedSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []feedback.Event{}, processedSnapshot{}, nil
		}
		return nil, processedSnapshot{}, err
	}
	snap := processedSnapshot{data: data, existed: true}
	events, err := decodeEvents(path, data, check)
	return events, snap, err
}

func (s *JSONStore) dropCorruptPending(cause error) {
	var err error
	location := s.pendingPath

	switch s.opts.OnCorrupt {
	case config.CorruptQuarantine:
		location = fmt.Sprintf("%s.corrupt-%d", s.pendingPath, s.opts.Now().Unix())
		err = os.Rename(s.pendingPath, location)
	default:
		err = fileutil.RemoveIfExists(s.pendingPath)
	}

	if err != nil {
		s.logger.Error("failed to drop corrupt pending store", "path", s.pendingPath, "policy", s.opts.OnCorrupt, "error", err)
	} else {
		s.logger.Warn("dropped corrupt pending store", "path", s.pendingPath, "policy", s.opts.OnCorrupt, "cause", cause)
	}

	if s.opts.OnCorruptHook != nil {
		s.opts.OnCorruptHook(location, cause)
	}
}

// decodeEvents parses a JSON array of events. Any failure makes the whole
// collection corrupt.
func decodeEvents(path string, data []byte, check func(feedback.Event) error) ([]feedback.Event, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return nil, &CorruptError{Path: path, Index: -1, Err: errors.New("top level is not a JSON array")}
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, &CorruptError{Path: path, Index: -1, Err: err}
	}

	events := make([]feedback.Event, 0, len(raw))
	for i, r := range raw {
		var e feedback.Event
		if err := json.Unmarshal(r, &e); err != nil {
			return nil, &CorruptError{Path: path, Index: i, Err: err}
		}
		if err := check(e); err != nil {
			return nil, &CorruptError{Path: path, Index: i, Err: err}
		}
		events = append(events, e)
	}
	return events, nil
}

// encodeEvents serializes compactly. Keys are sorted, so output is stable.
func encodeEvents(events []feedback.Event) ([]byte, error) {
	if events == nil {
		events = []feedback.Event{}
	}
	data, err := json.Marshal(events)
	if err != nil {
		return nil, fmt.Errorf("failed to encode events: %w", err)
	}
	return data, nil
}
