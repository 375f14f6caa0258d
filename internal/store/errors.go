package store

import "fmt"

// PersistenceError reports an I/O failure on a store location.
type PersistenceError struct {
	Op   string // "load pending", "save processed", "clear pending", ...
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// CorruptError describes why a collection failed to parse. Index is the
// offending element, or -1 when the collection as a whole is malformed.
type CorruptError struct {
	Path  string
	Index int
	Err   error
}

func (e *CorruptError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("corrupt store %s: element %d: %v", e.Path, e.Index, e.Err)
	}
	return fmt.Sprintf("corrupt store %s: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }
