/*
Package runner launches the external AstraGuard components (telemetry stream,
dashboard, simulator, classifier, log timeline, REST API).

Each component runs in the foreground with the operator's terminal attached:
  - Stdio is inherited, so the child owns the terminal until it exits.
  - The child's exit code is returned for the CLI to propagate.
  - On context cancellation the child is interrupted and, if it has not
    exited after the grace period, killed.

Runner does not supervise or restart components.
*/
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/astraguard/astraguard-cli/internal/config"
	"github.com/astraguard/astraguard-cli/internal/logging"
)

// DefaultGracePeriod is how long an interrupted child may take to exit.
const DefaultGracePeriod = 5 * time.Second

// execCommand is a variable that allows tests to mock exec.Command
var execCommand = exec.Command

// Runner starts configured components.
type Runner struct {
	cfg    *config.Config
	logger *slog.Logger

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// GracePeriod bounds the wait between interrupt and kill.
	GracePeriod time.Duration
}

// New creates a runner for the components in cfg, attached to the process's
// own stdio.
func New(cfg *config.Config, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Runner{
		cfg:         cfg,
		logger:      logger.With("component", "runner"),
		Stdin:       os.Stdin,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
		GracePeriod: DefaultGracePeriod,
	}
}

// Run starts component name with extraArgs appended to its configured
// arguments and waits for it. It returns the child's exit code; a child
// terminated by a signal reports 128 plus the signal number. The error is
// non-nil only when the child could not be started or waited for.
func (r *Runner) Run(ctx context.Context, name string, extraArgs ...string) (int, error) {
	command, args, env, err := r.cfg.Component(name)
	if err != nil {
		return -1, err
	}
	args = append(args, extraArgs...)

	cmd := execCommand(command, args...)
	cmd.Stdin = r.Stdin
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr
	if len(env) > 0 {
		if cmd.Env == nil {
			cmd.Env = os.Environ()
		}
		for key, value := range env {
			cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", key, value))
		}
	}

	r.logger.Info("starting component", "name", name, "command", command, "args", args)
	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("failed to start %s (%s): %w", name, command, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	var waitErr error
	select {
	case waitErr = <-done:
	case <-ctx.Done():
		waitErr = r.stop(name, cmd, done)
	}

	code, err := exitCode(cmd, waitErr)
	if err != nil {
		return -1, fmt.Errorf("failed waiting for %s: %w", name, err)
	}
	r.logger.Info("component exited", "name", name, "code", code)
	return code, nil
}

// stop interrupts the child and kills it after the grace period.
func (r *Runner) stop(name string, cmd *exec.Cmd, done <-chan error) error {
	r.logger.Info("interrupting component", "name", name, "pid", cmd.Process.Pid)
	if err := cmd.Process.Signal(os.Interrupt); err != nil && !errors.Is(err, os.ErrProcessDone) {
		r.logger.Warn("failed to interrupt component", "name", name, "error", err)
	}

	timer := time.NewTimer(r.GracePeriod)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		r.logger.Warn("component did not exit gracefully, force killing", "name", name)
		if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			r.logger.Error("failed to kill component", "name", name, "error", err)
		}
		return <-done
	}
}

func exitCode(cmd *exec.Cmd, waitErr error) (int, error) {
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return -1, waitErr
		}
	}
	state := cmd.ProcessState
	if state == nil {
		return -1, waitErr
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal()), nil
	}
	return state.ExitCode(), nil
}
