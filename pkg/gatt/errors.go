package gatt

import (
	"errors"
	"fmt"
)

// ConfigurationError reports a malformed attribute tree or an accessor/flag
// mismatch. It is always fatal to startup.
type ConfigurationError struct {
	Path   string // path (or partial path) of the offending node
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := "configuration error"
	if e.Path != "" {
		msg += fmt.Sprintf(" at %q", e.Path)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func configErrorf(path, format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

// IsConfigurationError reports whether err is, or wraps, a *ConfigurationError.
func IsConfigurationError(err error) bool {
	var cerr *ConfigurationError
	return errors.As(err, &cerr)
}

// Operation errors reported back to the peer.
var (
	// ErrNotSupported is returned when the peer invokes an operation the
	// attribute's flags do not allow.
	ErrNotSupported = errors.New("operation not supported")

	// ErrUnknownPath is returned when a path does not resolve to a node.
	ErrUnknownPath = errors.New("unknown attribute path")
)

// Accessors may wrap these to choose a specific peer-visible error.
var (
	ErrNotPermitted       = errors.New("not permitted")
	ErrNotAuthorized      = errors.New("not authorized")
	ErrInvalidValueLength = errors.New("invalid value length")
	ErrInvalidOffset      = errors.New("invalid offset")
	ErrInProgress         = errors.New("in progress")
)

// AccessorError reports that an application read or write accessor failed,
// either by returning an error, by returning a non-zero status, or by panicking.
type AccessorError struct {
	Path   string
	Op     string // "read" or "write"
	Status int32  // non-zero write status, 0 otherwise
	Err    error
}

func (e *AccessorError) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch {
	case e.Err != nil && e.Status != 0:
		return fmt.Sprintf("%s accessor for %q failed with status %d: %v", e.Op, e.Path, e.Status, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s accessor for %q failed: %v", e.Op, e.Path, e.Err)
	default:
		return fmt.Sprintf("%s accessor for %q failed with status %d", e.Op, e.Path, e.Status)
	}
}

func (e *AccessorError) Unwrap() error { return e.Err }
