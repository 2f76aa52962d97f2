package store

import "fmt"

// InvalidPathError is returned when a key or rule path cannot be addressed.
type InvalidPathError struct {
	Key    string
	Reason string
}

func (e *InvalidPathError) Error() string {
	if e.Key == "" {
		return "invalid configuration key: " + e.Reason
	}
	return fmt.Sprintf("invalid configuration key %q: %s", e.Key, e.Reason)
}

// PersistenceError wraps a failure to load or save the document.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("store: %s %s: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
