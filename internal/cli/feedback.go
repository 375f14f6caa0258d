package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/astraguard/astraguard-cli/internal/config"
	"github.com/astraguard/astraguard-cli/internal/corpus"
	"github.com/astraguard/astraguard-cli/internal/feedback"
	"github.com/astraguard/astraguard-cli/internal/fileutil"
	"github.com/astraguard/astraguard-cli/internal/metrics"
	"github.com/astraguard/astraguard-cli/internal/review"
	"github.com/astraguard/astraguard-cli/internal/store"
)

func newFeedbackCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "Operator feedback on anomaly recovery events",
		Long: `Review and manage operator feedback on anomaly recovery events.

Commands:
  review   Label pending events interactively and commit the batch
  status   Show pending and processed counts
  export   Write the processed corpus as JSON or YAML
  enqueue  Validate events from a file and add them to the pending queue
  search   Full-text search over the processed corpus`,
	}

	cmd.AddCommand(newFeedbackReviewCmd(a))
	cmd.AddCommand(newFeedbackStatusCmd(a))
	cmd.AddCommand(newFeedbackExportCmd(a))
	cmd.AddCommand(newFeedbackEnqueueCmd(a))
	cmd.AddCommand(newFeedbackSearchCmd(a))

	return cmd
}

// openStore opens the configured backend, reporting dropped corrupt pending
// content on out.
func openStore(cfg *config.Config, logger *slog.Logger, out io.Writer, rec metrics.Recorder) (store.Archive, error) {
	return store.Open(cfg.Feedback, store.Options{
		Logger: logger,
		OnCorruptHook: func(location string, cause error) {
			rec.CorruptPending()
			if cfg.Feedback.OnCorrupt == config.CorruptQuarantine {
				fmt.Fprintf(out, "⚠️  Invalid pending store, moved to %s.\n", location)
				return
			}
			fmt.Fprintln(out, "⚠️  Invalid pending store, cleared.")
		},
	})
}

func newFeedbackReviewCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "review",
		Short: "Review pending feedback events",
		Long: `Walk the pending queue in order and label each event as correct,
insufficient or wrong, with optional notes.

The labeled batch is committed only after every event is labeled. Entering
'q' at the label prompt, closing input or pressing Ctrl-C leaves the queue
untouched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFeedbackReview(cmd, a)
		},
	}
}

func runFeedbackReview(cmd *cobra.Command, a *app) error {
	cfg, err := a.load()
	if err != nil {
		return err
	}
	defer a.close()
	logger := a.logger.Logger

	m := metrics.NewReviewMetrics()
	st, err := openStore(cfg, logger, cmd.OutOrStdout(), m)
	if err != nil {
		return err
	}
	defer st.Close()

	session := review.NewSession(st, cmd.InOrStdin(), cmd.OutOrStdout(),
		review.WithLogger(logger),
		review.WithMetrics(m),
	)
	_, runErr := session.Run(cmd.Context())

	if cfg.MetricsTextfile != "" {
		if err := m.WriteTextfile(cfg.MetricsTextfile); err != nil {
			logger.Warn("failed to write metrics textfile", "path", cfg.MetricsTextfile, "error", err)
		}
	}

	if runErr != nil {
		return fmt.Errorf("feedback review failed, pending events kept for retry: %w", runErr)
	}
	return nil
}

func newFeedbackStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pending and processed feedback counts",
		Long: `Show how many events are pending and processed, with a histogram of
processed labels. Status only reads: a corrupt pending store is reported and
left in place until the next 'feedback review' recovers it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.load()
			if err != nil {
				return err
			}
			defer a.close()

			st, err := openStore(cfg, a.logger.Logger, cmd.OutOrStdout(), metrics.Nop{})
			if err != nil {
				return err
			}
			defer st.Close()

			pending, err := st.PeekPending(cmd.Context())
			var corrupt *store.CorruptError
			if err != nil && !errors.As(err, &corrupt) {
				return err
			}
			processed, err := st.LoadProcessed(cmd.Context())
			if err != nil {
				return err
			}

			printStatus(cmd.OutOrStdout(), cfg.Feedback, len(pending), processed)
			if corrupt != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "⚠️  Pending store is invalid (%v); 'feedback review' will clear it.\n", corrupt)
			}
			return nil
		},
	}
}

func printStatus(w io.Writer, fc config.FeedbackConfig, pending int, processed []feedback.Event) {
	counts := make(map[feedback.Label]int)
	for _, e := range processed {
		counts[e.Label]++
	}

	switch fc.Backend {
	case config.BackendJSON:
		fmt.Fprintf(w, "Backend:   json (%s, %s)\n", fc.PendingPath, fc.ProcessedPath)
	default:
		fmt.Fprintf(w, "Backend:   %s\n", fc.Backend)
	}
	fmt.Fprintf(w, "Pending:   %d\n", pending)
	fmt.Fprintf(w, "Processed: %d\n", len(processed))
	for _, l := range feedback.Labels() {
		fmt.Fprintf(w, "  %-13s %d\n", l, counts[l])
	}
}

func newFeedbackExportCmd(a *app) *cobra.Command {
	var (
		format string
		output string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the processed feedback corpus",
		Example: `  astraguard feedback export
  astraguard feedback export --format yaml --output corpus.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			encode, err := encodeFn(format)
			if err != nil {
				return err
			}

			cfg, err := a.load()
			if err != nil {
				return err
			}
			defer a.close()

			st, err := openStore(cfg, a.logger.Logger, cmd.ErrOrStderr(), metrics.Nop{})
			if err != nil {
				return err
			}
			defer st.Close()

			events, err := st.LoadProcessed(cmd.Context())
			if err != nil {
				return err
			}
			out, err := encode(events)
			if err != nil {
				return err
			}

			if output == "" {
				_, err := cmd.OutOrStdout().Write(out)
				return err
			}
			if err := fileutil.WriteAtomic(output, out, 0644); err != nil {
				return fmt.Errorf("failed to write export: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d events to %s\n", len(events), output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "json", "Output format: json or yaml")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to this file instead of stdout")

	return cmd
}

// encodeFn returns the encoder for an export format.
func encodeFn(format string) (func([]feedback.Event) ([]byte, error), error) {
	switch strings.ToLower(format) {
	case "json":
		return func(events []feedback.Event) ([]byte, error) {
			data, err := json.MarshalIndent(events, "", "  ")
			if err != nil {
				return nil, fmt.Errorf("failed to encode JSON: %w", err)
			}
			return append(data, '\n'), nil
		}, nil
	case "yaml", "yml":
		return func(events []feedback.Event) ([]byte, error) {
			data, err := yaml.Marshal(events)
			if err != nil {
				return nil, fmt.Errorf("failed to encode YAML: %w", err)
			}
			return data, nil
		}, nil
	}
	return nil, fmt.Errorf("unsupported export format %q (use json or yaml)", format)
}

func newFeedbackEnqueueCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue FILE",
		Short: "Add events from a JSON file to the pending queue",
		Long: `Validate a JSON array of events and append them to the pending queue.
Use '-' to read from stdin. Events must not carry a label, and fault ids must
not already be pending. Nothing is queued if any event is rejected.`,
		Example: `  astraguard feedback enqueue events.json
  cat events.json | astraguard feedback enqueue -`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := readEvents(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}

			cfg, err := a.load()
			if err != nil {
				return err
			}
			defer a.close()

			st, err := openStore(cfg, a.logger.Logger, cmd.ErrOrStderr(), metrics.Nop{})
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.AppendPending(cmd.Context(), events); err != nil {
				return fmt.Errorf("failed to enqueue events: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued %d events.\n", len(events))
			return nil
		},
	}
}

func readEvents(stdin io.Reader, path string) ([]feedback.Event, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}

	var events []feedback.Event
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("invalid events in %s: %w", path, err)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("no events in %s", path)
	}
	return events, nil
}

func newFeedbackSearchCmd(a *app) *cobra.Command {
	var (
		label string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "search [QUERY]",
		Short: "Search processed events by type, action or notes",
		Long: `Search the processed corpus with BM25 ranking over the anomaly type,
recovery action and operator notes. Without a query every event matches,
which combined with --label lists past verdicts of one kind.`,
		Example: `  astraguard feedback search radiator
  astraguard feedback search power_fault --label wrong
  astraguard feedback search --label insufficient --limit 50`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter feedback.Label
			if label != "" {
				l, err := feedback.ParseLabel(label)
				if err != nil {
					return err
				}
				filter = l
			}
			text := ""
			if len(args) == 1 {
				text = args[0]
			}

			cfg, err := a.load()
			if err != nil {
				return err
			}
			defer a.close()

			st, err := openStore(cfg, a.logger.Logger, cmd.ErrOrStderr(), metrics.Nop{})
			if err != nil {
				return err
			}
			defer st.Close()

			events, err := st.LoadProcessed(cmd.Context())
			if err != nil {
				return err
			}
			idx, err := corpus.NewIndex(events)
			if err != nil {
				return err
			}
			defer idx.Close()

			hits, err := idx.Search(text, filter, limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(hits) == 0 {
				fmt.Fprintln(out, "No matching events.")
				return nil
			}
			for _, h := range hits {
				e := h.Event
				fmt.Fprintf(out, "%-12s %-13s %s -> %s (%s)\n", e.FaultID, e.Label, e.AnomalyType, e.RecoveryAction, e.MissionPhase)
				if e.OperatorNotes != "" {
					fmt.Fprintf(out, "             notes: %s\n", e.OperatorNotes)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&label, "label", "l", "", "Only events with this label")
	cmd.Flags().IntVarP(&limit, "limit", "n", corpus.DefaultLimit, "Maximum number of results")

	return cmd
}
