package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/astraguard/astraguard-cli/internal/fileutil"
)

// Save writes config with permission check, backup, validation and an
// atomic replace.
func Save(cfg *Config, path string) error {
	if err := checkWritePermission(path); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	data = append(data, '\n')

	if err := validateJSON(data); err != nil {
		return &InvalidConfigError{Path: path, Err: err}
	}

	if err := fileutil.Backup(path); err != nil {
		// First run has nothing to back up; any other failure is only a warning.
		fmt.Fprintf(os.Stderr, "Warning: failed to create backup: %v\n", err)
	}

	if err := fileutil.WriteAtomic(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// validateJSON re-parses marshaled output so a config that would not load
// back is never written.
func validateJSON(data []byte) error {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return err
	}
	cfg.applyDefaults()
	return cfg.Validate()
}

func checkWritePermission(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &PermissionError{Path: dir, Op: "write", Fix: writePermissionFix(dir), Err: err}
	}

	tmp, err := os.CreateTemp(dir, ".write-test-*")
	if err != nil {
		return &PermissionError{Path: dir, Op: "write", Fix: writePermissionFix(dir), Err: err}
	}
	tmp.Close()
	os.Remove(tmp.Name())

	if _, err := os.Stat(path); err == nil {
		f, err := os.OpenFile(path, os.O_WRONLY, 0)
		if err != nil {
			return &PermissionError{
				Path: path,
				Op:   "write",
				Fix:  writePermissionFix(path),
				Mode: currentMode(path),
				Err:  err,
			}
		}
		f.Close()
	}
	return nil
}

func writePermissionFix(path string) string {
	switch runtime.GOOS {
	case "windows":
		return fmt.Sprintf("Right-click %s → Properties → Security → Grant 'Write' permission", path)
	default:
		return fmt.Sprintf("Run: chmod u+w %s", path)
	}
}
