package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Load resolves the effective configuration.
//
// An empty path means DefaultConfigFile, which may be absent. An explicit
// path must exist. Environment overrides are applied last, then the result
// is validated.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		var notFound *ConfigNotFoundError
		if explicit || !errors.As(err, &notFound) {
			return nil, err
		}
		cfg = &Config{}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, &InvalidConfigError{Path: "environment", Err: err}
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, &InvalidConfigError{Path: path, Err: err}
	}
	return cfg, nil
}

// LoadFrom reads a config file without defaults or env overrides applied.
func LoadFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		switch {
		case os.IsNotExist(err):
			return nil, &ConfigNotFoundError{Path: path}
		case os.IsPermission(err):
			return nil, &PermissionError{
				Path: path,
				Op:   "read",
				Fix:  readPermissionFix(path),
				Mode: currentMode(path),
				Err:  err,
			}
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, &InvalidConfigError{
			Path: path,
			Err:  fmt.Errorf("JSON parse error: %w", err),
		}
	}
	return &cfg, nil
}

// applyEnv loads .env (if present) and overlays ASTRAGUARD_* variables.
func applyEnv(cfg *Config) error {
	// Variables already in the environment win over .env entries.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return env.Parse(cfg)
}

func readPermissionFix(path string) string {
	switch runtime.GOOS {
	case "windows":
		return fmt.Sprintf("Right-click %s → Properties → Security → Edit permissions", path)
	default:
		return fmt.Sprintf("Run: chmod 644 %s", path)
	}
}

func currentMode(path string) string {
	if runtime.GOOS == "windows" {
		return ""
	}
	info, err := os.Stat(path)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%04o", info.Mode().Perm())
}
