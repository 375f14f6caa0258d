/*
Package main is the entry point for the astraguard CLI.

astraguard launches the AstraGuard mission components and runs the operator
feedback loop that labels anomaly recovery events for model retraining.

Usage:
  astraguard [command]

Available Commands:
  telemetry   Start the telemetry stream
  dashboard   Launch the operations dashboard
  simulate    Run the 3D attitude simulation
  classify    Run the fault classifier
  logs        Show the event timeline
  api         Start the REST API server
  feedback    Operator feedback on anomaly recovery events
  config      Manage the astraguard configuration file
  version     Show version information

Examples:
  # Label pending events
  astraguard feedback review

  # Serve the API on a custom port with autoreload
  astraguard api --port 9000 --reload
*/
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/astraguard/astraguard-cli/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.NewRootCmd().ExecuteContext(ctx)
	stop()

	code := cli.ExitCode(err)
	if err != nil && code == 1 {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(code)
}
