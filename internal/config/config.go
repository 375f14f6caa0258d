/*
Package config handles loading, saving and validating astraguard configuration.

Configuration is read from .astraguard.json in the working directory (or the
path given with --config), then overridden by ASTRAGUARD_* environment
variables. A .env file in the working directory is loaded first.

Schema:

	{
	  "feedback": {
	    "backend": "json",
	    "pendingPath": "feedback_pending.json",
	    "processedPath": "feedback_processed.json",
	    "dsn": "",
	    "processedMode": "overwrite",
	    "onCorrupt": "delete"
	  },
	  "python": "python3",
	  "components": {
	    "dashboard": {"command": "streamlit", "args": ["run", "dashboard/app.py"]},
	    "telemetry": {"script": "astraguard/telemetry/telemetry_stream.py"}
	  },
	  "logLevel": "info",
	  "logFile": "",
	  "metricsTextfile": ""
	}
*/
package config

import (
	"fmt"
	"path/filepath"
	"sort"
)

// DefaultConfigFile is the config file looked up in the working directory.
const DefaultConfigFile = ".astraguard.json"

// Feedback store backends.
const (
	BackendJSON     = "json"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Processed store write modes.
const (
	ProcessedOverwrite = "overwrite"
	ProcessedAppend    = "append"
)

// Pending store corruption policies.
const (
	CorruptDelete     = "delete"
	CorruptQuarantine = "quarantine"
)

// External component names.
const (
	ComponentTelemetry = "telemetry"
	ComponentDashboard = "dashboard"
	ComponentSimulate  = "simulate"
	ComponentClassify  = "classify"
	ComponentLogs      = "logs"
	ComponentAPI       = "api"
)

// Config represents the root configuration structure.
type Config struct {
	// Feedback configures the pending and processed stores.
	Feedback FeedbackConfig `json:"feedback"`

	// Python is the interpreter used for script components.
	Python string `json:"python,omitempty" env:"ASTRAGUARD_PYTHON"`

	// Components maps component names to the processes that implement them.
	Components map[string]*ComponentConfig `json:"components,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"logLevel,omitempty" env:"ASTRAGUARD_LOG_LEVEL"`

	// LogFile receives structured logs. Empty disables logging.
	LogFile string `json:"logFile,omitempty" env:"ASTRAGUARD_LOG_FILE"`

	// MetricsTextfile receives review metrics in Prometheus text format.
	MetricsTextfile string `json:"metricsTextfile,omitempty" env:"ASTRAGUARD_METRICS_TEXTFILE"`
}

// FeedbackConfig selects and configures the feedback store.
type FeedbackConfig struct {
	// Backend is json, sqlite or postgres.
	Backend string `json:"backend,omitempty" env:"ASTRAGUARD_FEEDBACK_BACKEND"`

	// PendingPath is the pending queue file (json backend).
	PendingPath string `json:"pendingPath,omitempty" env:"ASTRAGUARD_PENDING_PATH"`

	// ProcessedPath is the processed archive file (json backend).
	ProcessedPath string `json:"processedPath,omitempty" env:"ASTRAGUARD_PROCESSED_PATH"`

	// DSN is the database file (sqlite) or connection string (postgres).
	DSN string `json:"dsn,omitempty" env:"ASTRAGUARD_DSN"`

	// ProcessedMode is overwrite or append.
	ProcessedMode string `json:"processedMode,omitempty" env:"ASTRAGUARD_PROCESSED_MODE"`

	// OnCorrupt is delete or quarantine.
	OnCorrupt string `json:"onCorrupt,omitempty" env:"ASTRAGUARD_ON_CORRUPT"`
}

// ComponentConfig describes an external process.
//
// When Script is set the component runs as "<python> <script> <args...>",
// otherwise as "<command> <args...>".
type ComponentConfig struct {
	Command string   `json:"command,omitempty"`
	Script  string   `json:"script,omitempty"`
	Args    []string `json:"args,omitempty"`

	// Env keys are normalized with EnvVarName.
	Env map[string]string `json:"env,omitempty"`
}

// NewConfig creates a configuration populated with defaults.
func NewConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// DefaultComponents returns the stock external components.
func DefaultComponents() map[string]*ComponentConfig {
	return map[string]*ComponentConfig{
		ComponentTelemetry: {Script: filepath.Join("astraguard", "telemetry", "telemetry_stream.py")},
		ComponentDashboard: {Command: "streamlit", Args: []string{"run", filepath.Join("dashboard", "app.py")}},
		ComponentSimulate:  {Script: filepath.Join("simulation", "attitude_3d.py")},
		ComponentClassify:  {Script: filepath.Join("classifier", "fault_classifier.py")},
		ComponentLogs:      {Script: filepath.Join("logs", "timeline.py")},
		ComponentAPI:       {Script: "run_api.py"},
	}
}

// applyDefaults fills every unset field.
func (c *Config) applyDefaults() {
	f := &c.Feedback
	if f.Backend == "" {
		f.Backend = BackendJSON
	}
	if f.PendingPath == "" {
		f.PendingPath = "feedback_pending.json"
	}
	if f.ProcessedPath == "" {
		f.ProcessedPath = "feedback_processed.json"
	}
	if f.DSN == "" && f.Backend == BackendSQLite {
		f.DSN = "feedback.db"
	}
	if f.ProcessedMode == "" {
		f.ProcessedMode = ProcessedOverwrite
	}
	if f.OnCorrupt == "" {
		f.OnCorrupt = CorruptDelete
	}

	if c.Python == "" {
		c.Python = "python3"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	if c.Components == nil {
		c.Components = make(map[string]*ComponentConfig)
	}
	for name, comp := range DefaultComponents() {
		if _, ok := c.Components[name]; !ok {
			c.Components[name] = comp
		}
	}
}

// Component returns the resolved command line for a named component.
func (c *Config) Component(name string) (command string, args []string, env map[string]string, err error) {
	comp, ok := c.Components[name]
	if !ok || comp == nil {
		return "", nil, nil, fmt.Errorf("unknown component %q (known: %v)", name, c.ComponentNames())
	}
	if comp.Script != "" {
		args = append([]string{comp.Script}, comp.Args...)
		return c.Python, args, NormalizeEnv(comp.Env), nil
	}
	return comp.Command, append([]string(nil), comp.Args...), NormalizeEnv(comp.Env), nil
}

// ComponentNames lists configured components in sorted order.
func (c *Config) ComponentNames() []string {
	names := make([]string, 0, len(c.Components))
	for name := range c.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
