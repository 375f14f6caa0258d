// Package review runs the interactive labeling loop over the pending queue.
//
// A session loads every pending event, asks the operator for a label and
// optional notes on each in order, and commits the whole batch only once all
// events are labeled. Quitting at any prompt leaves both stores untouched.
package review

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/astraguard/astraguard-cli/internal/feedback"
	"github.com/astraguard/astraguard-cli/internal/logging"
	"github.com/astraguard/astraguard-cli/internal/metrics"
	"github.com/astraguard/astraguard-cli/internal/store"
)

const (
	labelPrompt = "Label [correct/insufficient/wrong/q-uit]: "
	notesPrompt = "Notes (optional, Enter to skip): "
)

// Outcome is how a session ended.
type Outcome int

const (
	// OutcomeEmpty means there was nothing to review.
	OutcomeEmpty Outcome = iota
	// OutcomeCommitted means every event was labeled and committed.
	OutcomeCommitted
	// OutcomeAborted means the operator quit; nothing was written.
	OutcomeAborted
	// OutcomeFailed means input or the commit failed; pending is kept.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeEmpty:
		return "empty"
	case OutcomeCommitted:
		return "committed"
	case OutcomeAborted:
		return "aborted"
	case OutcomeFailed:
		return "failed"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Result summarizes a finished session.
type Result struct {
	Outcome Outcome
	Total   int // pending events loaded
	Labeled int // events labeled before the session ended
	BatchID string
}

// Session is a single pass over the pending queue.
type Session struct {
	store      store.Store
	in         io.Reader
	out        io.Writer
	logger     *slog.Logger
	metrics    metrics.Recorder
	newBatchID func() string
	styles     styles
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics sets the recorder for session and label counters.
func WithMetrics(m metrics.Recorder) Option {
	return func(s *Session) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithBatchIDFunc overrides batch id generation.
func WithBatchIDFunc(fn func() string) Option {
	return func(s *Session) {
		if fn != nil {
			s.newBatchID = fn
		}
	}
}

// NewSession creates a session reading operator input from in and writing
// prompts to out.
func NewSession(st store.Store, in io.Reader, out io.Writer, opts ...Option) *Session {
	s := &Session{
		store:      st,
		in:         in,
		out:        out,
		logger:     logging.Discard(),
		metrics:    metrics.Nop{},
		newBatchID: uuid.NewString,
		styles:     newStyles(out),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "review")
	return s
}

// Run executes the session. Quitting, end of input and ctx cancellation all
// end the session with OutcomeAborted and a nil error. A failed input read
// or commit ends it with OutcomeFailed and the error, leaving the pending
// queue for retry.
func (s *Session) Run(ctx context.Context) (Result, error) {
	pending, err := s.store.LoadPending(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load pending events: %w", err)
	}
	if len(pending) == 0 {
		s.println(s.styles.success.Render("✅ No pending feedback events."))
		s.finish(Result{Outcome: OutcomeEmpty})
		return Result{Outcome: OutcomeEmpty}, nil
	}

	res := Result{Total: len(pending), BatchID: s.newBatchID()}
	s.logger.Info("review started", "pending", res.Total, "batch_id", res.BatchID)
	s.printf("\n%s\n", s.styles.header.Render(fmt.Sprintf("📋 %d pending events found:", res.Total)))

	lines := newLineReader(s.in)
	defer lines.stop()

	labeled := make([]feedback.Event, 0, len(pending))
	for i, e := range pending {
		s.showEvent(i+1, e)

		label, ok, err := s.askLabel(ctx, lines)
		if err != nil {
			return s.fail(res, err)
		}
		if !ok {
			return s.abort(ctx, res), nil
		}

		s.printf("%s", s.styles.prompt.Render(notesPrompt))
		notes, ok, err := lines.next(ctx)
		if err != nil {
			return s.fail(res, err)
		}
		if !ok {
			return s.abort(ctx, res), nil
		}

		reviewed, err := e.Review(label, notes)
		if err != nil {
			// Pending events are unlabeled and askLabel returns valid labels only.
			return res, err
		}
		labeled = append(labeled, reviewed)
		res.Labeled++
		s.metrics.Labeled(label.String())
		s.println(s.styles.success.Render(fmt.Sprintf("✅ Saved: %s - %s", label, e.FaultID)))
	}

	if err := store.Commit(store.WithBatchID(ctx, res.BatchID), s.store, labeled); err != nil {
		return s.fail(res, err)
	}

	res.Outcome = OutcomeCommitted
	s.finish(res)
	s.logger.Info("review committed", "events", res.Labeled, "batch_id", res.BatchID)
	s.printf("\n%s\n", s.styles.success.Render(fmt.Sprintf("🎉 %d events processed", res.Labeled)))
	return res, nil
}

// askLabel prompts until a valid label or a quit signal arrives.
func (s *Session) askLabel(ctx context.Context, lines *lineReader) (feedback.Label, bool, error) {
	for {
		s.printf("\n%s", s.styles.prompt.Render(labelPrompt))
		input, ok, err := lines.next(ctx)
		if err != nil || !ok {
			return "", false, err
		}

		input = strings.ToLower(strings.TrimSpace(input))
		if input == "q" || input == "quit" {
			return "", false, nil
		}

		label, err := feedback.ParseLabel(input)
		if err != nil {
			s.println(s.styles.invalid.Render("❌ Invalid: 'correct', 'insufficient', 'wrong'"))
			continue
		}
		return label, true, nil
	}
}

func (s *Session) abort(ctx context.Context, res Result) Result {
	res.Outcome = OutcomeAborted
	s.finish(res)

	reason := "operator quit"
	if ctx.Err() != nil {
		reason = "interrupted"
	}
	s.logger.Info("review aborted", "reason", reason, "labeled", res.Labeled, "total", res.Total)
	s.printf("\n%s\n", s.styles.warn.Render(fmt.Sprintf("Review aborted, %d pending events left unchanged.", res.Total)))
	return res
}

func (s *Session) fail(res Result, err error) (Result, error) {
	res.Outcome = OutcomeFailed
	s.finish(res)
	s.logger.Error("review failed", "batch_id", res.BatchID, "labeled", res.Labeled, "error", err)
	return res, err
}

func (s *Session) finish(res Result) {
	size := 0
	if res.Outcome == OutcomeCommitted {
		size = res.Labeled
	}
	s.metrics.SessionFinished(res.Outcome.String(), size)
}

func (s *Session) showEvent(n int, e feedback.Event) {
	s.printf("\n%s\n", s.styles.header.Render(fmt.Sprintf("%d. Fault: %s", n, e.FaultID)))
	for _, f := range [][2]string{
		{"Type", e.AnomalyType},
		{"Action", e.RecoveryAction},
		{"Phase", e.MissionPhase},
		{"Time", e.Timestamp.Format(time.RFC3339)},
	} {
		s.printf("   %s %s\n", s.styles.field.Render(f[0]+":"), f[1])
	}
}

func (s *Session) printf(format string, args ...any) {
	fmt.Fprintf(s.out, format, args...)
}

func (s *Session) println(line string) {
	fmt.Fprintln(s.out, line)
}

// lineReader reads input lines on its own goroutine so a blocked read never
// hides ctx cancellation. Lines have no length limit.
type lineReader struct {
	lines chan readResult
	done  chan struct{}
}

type readResult struct {
	line string
	err  error
}

func newLineReader(r io.Reader) *lineReader {
	lr := &lineReader{
		lines: make(chan readResult),
		done:  make(chan struct{}),
	}
	go func() {
		defer close(lr.lines)
		br := bufio.NewReader(r)
		for {
			line, err := br.ReadString('\n')
			if line != "" {
				if !lr.send(readResult{line: strings.TrimRight(line, "\r\n")}) {
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					lr.send(readResult{err: fmt.Errorf("failed to read operator input: %w", err)})
				}
				return
			}
		}
	}()
	return lr
}

func (lr *lineReader) send(res readResult) bool {
	select {
	case lr.lines <- res:
		return true
	case <-lr.done:
		return false
	}
}

// next returns ok=false on end of input or cancellation, and an error when
// input could not be read.
func (lr *lineReader) next(ctx context.Context) (string, bool, error) {
	select {
	case <-ctx.Done():
		return "", false, nil
	case res, ok := <-lr.lines:
		if !ok {
			return "", false, nil
		}
		if res.err != nil {
			return "", false, res.err
		}
		return res.line, true, nil
	}
}

func (lr *lineReader) stop() {
	close(lr.done)
}
