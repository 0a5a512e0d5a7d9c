// Package errs carries the typed error kinds surfaced by the tool API.
package errs

import (
	"context"
	"errors"
	"fmt"
)

// Kind classifies an error for callers
type Kind string

const (
	InvalidInput        Kind = "invalid_input"
	NotFound            Kind = "not_found"
	Conflict            Kind = "conflict"
	Unauthorized        Kind = "unauthorized"
	PreconditionFailed  Kind = "precondition_failed" // vector backend disagrees with metadata
	Deadline            Kind = "deadline"
	ProviderUnavailable Kind = "provider_unavailable"
	Internal            Kind = "internal"
)

// Error wraps an underlying error with a kind and operation context
type Error struct {
	Kind Kind
	Op   string // operation name, e.g. "store.insert_memory"
	Msg  string
	Err  error
}

// Error implements the error interface
func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// E constructs a kinded error with a formatted message
func E(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and operation to an underlying error
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the kind from an error chain. Context deadline and
// cancellation map to Deadline; anything untyped is Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Deadline
	}
	return Internal
}

// Is reports whether err carries the given kind anywhere in its chain
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
