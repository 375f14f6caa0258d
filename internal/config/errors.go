package config

import "fmt"

// PermissionError reports a config file or directory the process cannot
// read or write, with a platform-specific fix.
type PermissionError struct {
	Path string
	Op   string // "read" or "write"
	Fix  string
	Mode string // current permission bits, when known
	Err  error
}

func (e *PermissionError) Error() string {
	msg := fmt.Sprintf("permission denied (cannot %s config): %s\n", e.Op, e.Path)
	if e.Mode != "" {
		msg += "Current permissions: " + e.Mode + "\n"
	}
	return msg + "💡 Fix: " + e.Fix
}

func (e *PermissionError) Unwrap() error { return e.Err }

// ConfigNotFoundError is returned only when --config names a missing file.
// A missing default file silently yields the built-in defaults.
type ConfigNotFoundError struct {
	Path string
}

func (e *ConfigNotFoundError) Error() string {
	return fmt.Sprintf("config file not found: %s\n\n💡 Run 'astraguard config init --config %s' to create it", e.Path, e.Path)
}

// InvalidConfigError reports a config that does not parse or validate.
type InvalidConfigError struct {
	Path  string
	Field string
	Err   error
}

func (e *InvalidConfigError) Error() string {
	msg := fmt.Sprintf("invalid config: %s\n", e.Path)
	if e.Field != "" {
		msg += e.Field + ": "
	}
	if e.Err != nil {
		msg += e.Err.Error() + "\n"
	}
	return msg + "💡 Fix the file or restore it from " + e.Path + ".bak"
}

func (e *InvalidConfigError) Unwrap() error { return e.Err }
