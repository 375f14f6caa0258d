package config

import (
	"fmt"
	"strings"
)

var (
	validBackends  = []string{BackendJSON, BackendSQLite, BackendPostgres}
	validModes     = []string{ProcessedOverwrite, ProcessedAppend}
	validPolicies  = []string{CorruptDelete, CorruptQuarantine}
	validLogLevels = []string{"debug", "info", "warn", "error"}
)

// Validate checks enumerated settings and component definitions.
func (c *Config) Validate() error {
	f := c.Feedback
	if err := oneOf("feedback.backend", f.Backend, validBackends); err != nil {
		return err
	}
	if err := oneOf("feedback.processedMode", f.ProcessedMode, validModes); err != nil {
		return err
	}
	if err := oneOf("feedback.onCorrupt", f.OnCorrupt, validPolicies); err != nil {
		return err
	}
	if err := oneOf("logLevel", strings.ToLower(c.LogLevel), validLogLevels); err != nil {
		return err
	}

	switch f.Backend {
	case BackendJSON:
		if f.PendingPath == "" || f.ProcessedPath == "" {
			return fmt.Errorf("feedback: pendingPath and processedPath are required for the json backend")
		}
		if f.PendingPath == f.ProcessedPath {
			return fmt.Errorf("feedback: pendingPath and processedPath must differ")
		}
	case BackendSQLite, BackendPostgres:
		if f.DSN == "" {
			return fmt.Errorf("feedback.dsn is required for the %s backend", f.Backend)
		}
	}

	for _, name := range c.ComponentNames() {
		if err := ValidateComponent(name, c.Components[name]); err != nil {
			return err
		}
	}
	return nil
}

// ValidateComponent checks that a component can be launched.
func ValidateComponent(name string, comp *ComponentConfig) error {
	if comp == nil {
		return fmt.Errorf("component '%s': empty definition", name)
	}
	if comp.Command == "" && comp.Script == "" {
		return fmt.Errorf("component '%s': one of command or script is required", name)
	}
	if comp.Command != "" && comp.Script != "" {
		return fmt.Errorf("component '%s': command and script are mutually exclusive", name)
	}
	return nil
}

func oneOf(field, value string, allowed []string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s: %q is not one of %s", field, value, strings.Join(allowed, ", "))
}
