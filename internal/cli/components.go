package cli

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/astraguard/astraguard-cli/internal/config"
	"github.com/astraguard/astraguard-cli/internal/runner"
)

// runComponent starts a configured component in the foreground and turns a
// non-zero exit into an *ExitError.
func runComponent(cmd *cobra.Command, a *app, name string, extraArgs ...string) error {
	cfg, err := a.load()
	if err != nil {
		return err
	}
	defer a.close()

	r := runner.New(cfg, a.logger.Logger)
	r.Stdin = cmd.InOrStdin()
	r.Stdout = cmd.OutOrStdout()
	r.Stderr = cmd.ErrOrStderr()

	code, err := r.Run(cmd.Context(), name, extraArgs...)
	if err != nil {
		return err
	}
	if code != 0 {
		return &ExitError{Code: code}
	}
	return nil
}

func newComponentCmd(a *app, name, short, long string) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Long:  long,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runComponent(cmd, a, name)
		},
	}
}

func newTelemetryCmd(a *app) *cobra.Command {
	return newComponentCmd(a, config.ComponentTelemetry,
		"Start the telemetry stream",
		`Run the telemetry stream generator (astraguard/telemetry/telemetry_stream.py).`)
}

func newDashboardCmd(a *app) *cobra.Command {
	return newComponentCmd(a, config.ComponentDashboard,
		"Launch the operations dashboard",
		`Run the Streamlit operations dashboard (dashboard/app.py).`)
}

func newSimulateCmd(a *app) *cobra.Command {
	return newComponentCmd(a, config.ComponentSimulate,
		"Run the 3D attitude simulation",
		`Run the 3D attitude simulation (simulation/attitude_3d.py).`)
}

func newClassifyCmd(a *app) *cobra.Command {
	return newComponentCmd(a, config.ComponentClassify,
		"Run the fault classifier",
		`Run the fault classifier (classifier/fault_classifier.py).`)
}

func newLogsCmd(a *app) *cobra.Command {
	var export string

	cmd := &cobra.Command{
		Use:   config.ComponentLogs,
		Short: "Show the event timeline",
		Long:  `Run the event timeline viewer (logs/timeline.py), optionally exporting it.`,
		Example: `  astraguard logs
  astraguard logs --export timeline.json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runComponent(cmd, a, config.ComponentLogs, logsArgs(export)...)
		},
	}

	cmd.Flags().StringVar(&export, "export", "", "Export the timeline to this path")

	return cmd
}

func logsArgs(export string) []string {
	if export == "" {
		return nil
	}
	return []string{"--export", export}
}

func newAPICmd(a *app) *cobra.Command {
	var (
		host   string
		port   int
		reload bool
	)

	cmd := &cobra.Command{
		Use:   config.ComponentAPI,
		Short: "Start the REST API server",
		Long:  `Run the AstraGuard REST API (run_api.py).`,
		Example: `  astraguard api
  astraguard api --host 127.0.0.1 --port 9000 --reload`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runComponent(cmd, a, config.ComponentAPI, apiArgs(host, port, reload)...)
		},
	}

	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "Host to bind")
	cmd.Flags().IntVar(&port, "port", 8000, "Port to bind")
	cmd.Flags().BoolVar(&reload, "reload", false, "Reload on source changes")

	return cmd
}

func apiArgs(host string, port int, reload bool) []string {
	args := []string{"--host", host, "--port", strconv.Itoa(port)}
	if reload {
		args = append(args, "--reload")
	}
	return args
}
