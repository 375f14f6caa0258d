package runner

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/astraguard/astraguard-cli/internal/config"
)

// fakeExec returns an exec.Command replacement that re-runs the test binary
// as TestHelperProcess, recording the requested command line.
func fakeExec(t *testing.T, gotName *string, gotArgs *[]string) func(string, ...string) *exec.Cmd {
	t.Helper()
	return func(name string, args ...string) *exec.Cmd {
		*gotName = name
		*gotArgs = args
		cs := append([]string{"-test.run=TestHelperProcess", "--", name}, args...)
		cmd := exec.Command(os.Args[0], cs...)
		cmd.Env = []string{"ASTRAGUARD_HELPER_PROCESS=1"}
		return cmd
	}
}

// TestHelperProcess is not a real test. It stands in for a component.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("ASTRAGUARD_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)

	args := os.Args
	for len(args) > 0 && args[0] != "--" {
		args = args[1:]
	}
	if len(args) < 2 {
		os.Exit(2)
	}
	args = args[2:] // drop "--" and the command name

	switch {
	case len(args) > 0 && args[len(args)-1] == "exit":
		code, _ := strconv.Atoi(args[len(args)-2])
		os.Exit(code)
	case len(args) > 0 && args[len(args)-1] == "block":
		signal.Ignore(os.Interrupt)
		fmt.Println("ready")
		time.Sleep(time.Minute)
	case len(args) > 0 && args[len(args)-1] == "graceful":
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt)
		fmt.Println("ready")
		<-ch
		os.Exit(3)
	default:
		fmt.Println(strings.Join(args, " "))
		fmt.Println("EXTRA=" + os.Getenv("EXTRA"))
	}
}

func testConfig() *config.Config {
	cfg := config.NewConfig()
	cfg.Components["echo"] = &config.ComponentConfig{Command: "echo-tool", Args: []string{"a"}}
	return cfg
}

func withFakeExec(t *testing.T) (*string, *[]string) {
	t.Helper()
	var name string
	var args []string
	original := execCommand
	execCommand = fakeExec(t, &name, &args)
	t.Cleanup(func() { execCommand = original })
	return &name, &args
}

// syncBuffer is written by the child's copy goroutine and polled by tests.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestRunner(cfg *config.Config) (*Runner, *syncBuffer) {
	out := &syncBuffer{}
	r := New(cfg, nil)
	r.Stdin = strings.NewReader("")
	r.Stdout = out
	r.Stderr = out
	r.GracePeriod = 200 * time.Millisecond
	return r, out
}

func TestRunResolvesComponents(t *testing.T) {
	tests := []struct {
		component string
		extra     []string
		wantName  string
		wantArgs  []string
	}{
		{config.ComponentTelemetry, nil, "python3", []string{"astraguard/telemetry/telemetry_stream.py"}},
		{config.ComponentDashboard, nil, "streamlit", []string{"run", "dashboard/app.py"}},
		{config.ComponentSimulate, nil, "python3", []string{"simulation/attitude_3d.py"}},
		{config.ComponentClassify, nil, "python3", []string{"classifier/fault_classifier.py"}},
		{config.ComponentLogs, []string{"--export", "out.json"}, "python3", []string{"logs/timeline.py", "--export", "out.json"}},
		{config.ComponentAPI, []string{"--host", "0.0.0.0", "--port", "8000"}, "python3", []string{"run_api.py", "--host", "0.0.0.0", "--port", "8000"}},
	}

	for _, tt := range tests {
		t.Run(tt.component, func(t *testing.T) {
			gotName, gotArgs := withFakeExec(t)
			r, _ := newTestRunner(config.NewConfig())

			code, err := r.Run(context.Background(), tt.component, tt.extra...)
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if code != 0 {
				t.Errorf("exit code = %d, want 0", code)
			}
			if *gotName != tt.wantName {
				t.Errorf("command = %q, want %q", *gotName, tt.wantName)
			}
			if strings.Join(*gotArgs, " ") != strings.Join(tt.wantArgs, " ") {
				t.Errorf("args = %v, want %v", *gotArgs, tt.wantArgs)
			}
		})
	}
}

func TestRunPassesOutputAndEnv(t *testing.T) {
	withFakeExec(t)
	cfg := testConfig()
	cfg.Components["echo"].Env = map[string]string{"EXTRA": "yes"}
	r, out := newTestRunner(cfg)

	if _, err := r.Run(context.Background(), "echo", "b"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !strings.Contains(out.String(), "a b") {
		t.Errorf("child output missing args:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "EXTRA=yes") {
		t.Errorf("child env missing EXTRA:\n%s", out.String())
	}
}

func TestRunExitCode(t *testing.T) {
	withFakeExec(t)
	r, _ := newTestRunner(testConfig())

	code, err := r.Run(context.Background(), "echo", "7", "exit")
	if err != nil {
		t.Fatalf("non-zero exit should not be an error: %v", err)
	}
	if code != 7 {
		t.Errorf("exit code = %d, want 7", code)
	}
}

func TestRunUnknownComponent(t *testing.T) {
	withFakeExec(t)
	r, _ := newTestRunner(testConfig())

	if _, err := r.Run(context.Background(), "nope"); err == nil {
		t.Error("expected error for unknown component")
	}
}

func TestRunStartFailure(t *testing.T) {
	original := execCommand
	execCommand = func(string, ...string) *exec.Cmd {
		return exec.Command("/nonexistent/astraguard-component")
	}
	defer func() { execCommand = original }()

	r, _ := newTestRunner(testConfig())
	code, err := r.Run(context.Background(), "echo")
	if err == nil {
		t.Fatal("expected start error")
	}
	if code != -1 {
		t.Errorf("exit code = %d, want -1", code)
	}
}

func TestRunCancelInterrupts(t *testing.T) {
	withFakeExec(t)
	r, out := newTestRunner(testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for !strings.Contains(out.String(), "ready") {
			time.Sleep(10 * time.Millisecond)
		}
		cancel()
	}()
	defer cancel()

	code, err := r.Run(ctx, "echo", "graceful")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if code != 3 {
		t.Errorf("exit code = %d, want 3 from graceful shutdown", code)
	}
}

func TestRunCancelKillsAfterGrace(t *testing.T) {
	withFakeExec(t)
	r, out := newTestRunner(testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for !strings.Contains(out.String(), "ready") {
			time.Sleep(10 * time.Millisecond)
		}
		cancel()
	}()
	defer cancel()

	start := time.Now()
	code, err := r.Run(ctx, "echo", "block")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if code != 128+9 {
		t.Errorf("exit code = %d, want %d (SIGKILL)", code, 128+9)
	}
	if time.Since(start) > 30*time.Second {
		t.Error("child was not killed after the grace period")
	}
}
