/*
Package cli implements the command-line interface for astraguard.

Each command is implemented as a separate function that returns a *cobra.Command,
allowing for clean separation and easy testing. Commands that need the
configuration resolve it lazily through an app, so `config init` and `version`
work even when the config file is broken.
*/
package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/astraguard/astraguard-cli/internal/config"
	"github.com/astraguard/astraguard-cli/internal/logging"
	"github.com/astraguard/astraguard-cli/internal/version"
)

// ExitError carries a child process exit code up to main.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// ExitCode maps an error returned by Execute to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return 1
}

// app holds state shared by commands within one invocation.
type app struct {
	configPath string

	cfg    *config.Config
	logger *logging.Logger
}

// load reads the configuration and opens the logger once per invocation.
func (a *app) load() (*config.Config, error) {
	if a.cfg != nil {
		return a.cfg, nil
	}

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to open log: %w", err)
	}

	a.cfg = cfg
	a.logger = logger
	return cfg, nil
}

func (a *app) close() {
	if a.logger != nil {
		a.logger.Close()
	}
	a.cfg = nil
	a.logger = nil
}

// NewRootCmd builds the full astraguard command tree.
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "astraguard",
		Short: "AstraGuard mission operations CLI",
		Long: `astraguard launches the AstraGuard components and runs the operator
feedback loop.

Anomaly and recovery events produced upstream are queued for human review.
'astraguard feedback review' walks the queue, asks for a label on each event
(correct, insufficient or wrong) and commits the labeled batch to the
processed corpus used for model retraining.`,
		Version:       version.Get().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "",
		fmt.Sprintf("config file (default %s in the working directory)", config.DefaultConfigFile))

	root.AddCommand(newTelemetryCmd(a))
	root.AddCommand(newDashboardCmd(a))
	root.AddCommand(newSimulateCmd(a))
	root.AddCommand(newClassifyCmd(a))
	root.AddCommand(newLogsCmd(a))
	root.AddCommand(newAPICmd(a))
	root.AddCommand(newFeedbackCmd(a))
	root.AddCommand(newConfigCmd(a))
	root.AddCommand(NewVersionCmd())

	return root
}
