package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestSaveAndLoad(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), DefaultConfigFile)

	cfg := NewConfig()
	cfg.Feedback.ProcessedMode = ProcessedAppend
	cfg.Components["replay"] = &ComponentConfig{
		Command: "replay-tool",
		Args:    []string{"--speed", "2"},
		Env:     map[string]string{"KEY": "value"},
	}

	if err := Save(cfg, configPath); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.Feedback.ProcessedMode != ProcessedAppend {
		t.Errorf("processedMode = %q, want append", loaded.Feedback.ProcessedMode)
	}
	replay, ok := loaded.Components["replay"]
	if !ok {
		t.Fatal("replay component not found in loaded config")
	}
	if replay.Command != "replay-tool" || len(replay.Args) != 2 || replay.Env["KEY"] != "value" {
		t.Errorf("replay component mismatch: %+v", replay)
	}
}

func TestSaveCreatesBackup(t *testing.T) {
	testPath := filepath.Join(t.TempDir(), "config.json")

	cfg := NewConfig()
	cfg.Python = "python3.10"
	if err := Save(cfg, testPath); err != nil {
		t.Fatalf("first Save failed: %v", err)
	}

	cfg.Python = "python3.12"
	if err := Save(cfg, testPath); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	bakData, err := os.ReadFile(testPath + ".bak")
	if err != nil {
		t.Fatalf("failed to read backup: %v", err)
	}
	if !strings.Contains(string(bakData), "python3.10") || strings.Contains(string(bakData), "python3.12") {
		t.Error("backup should contain old config, not new config")
	}
}

func TestSaveValidatesBeforeWrite(t *testing.T) {
	testPath := filepath.Join(t.TempDir(), "config.json")

	cfg := NewConfig()
	cfg.Components["broken"] = &ComponentConfig{}

	err := Save(cfg, testPath)
	var invalid *InvalidConfigError
	if !errors.As(err, &invalid) {
		t.Fatalf("Save should fail validation for an empty component, got %v", err)
	}

	if _, err := os.Stat(testPath); !os.IsNotExist(err) {
		t.Error("config file should not exist after failed validation")
	}
}

func TestValidateJSON(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{"empty object uses defaults", `{}`, false},
		{"explicit backend", `{"feedback": {"backend": "sqlite", "dsn": "x.db"}}`, false},
		{"unknown backend", `{"feedback": {"backend": "redis"}}`, true},
		{"same paths", `{"feedback": {"pendingPath": "a.json", "processedPath": "a.json"}}`, true},
		{"invalid JSON", `{invalid json}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateJSON([]byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Errorf("validateJSON() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSaveConcurrentWrites(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping concurrent write test in short mode")
	}

	testPath := filepath.Join(t.TempDir(), "config.json")

	const numGoroutines = 10
	var wg sync.WaitGroup
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			cfg := NewConfig()
			cfg.Components["replay"] = &ComponentConfig{
				Command: "replay-tool",
				Args:    []string{"--id", string(rune('0' + idx))},
			}
			if err := Save(cfg, testPath); err != nil {
				t.Logf("concurrent save error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	// Critical: the final file is one complete config, never a mix.
	data, err := os.ReadFile(testPath)
	if err != nil {
		t.Fatalf("failed to read config after concurrent writes: %v", err)
	}
	if err := validateJSON(data); err != nil {
		t.Errorf("config file is corrupted after concurrent writes: %v", err)
	}
}
