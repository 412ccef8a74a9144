// Package errdefs defines the typed errors surfaced by the capture engine.
//
// Every error carries a Kind, a machine-readable code and a details map so
// protocol layers (HTTP API, CLI) can relay offending coordinates and ids
// without parsing messages.
package errdefs

import (
	"errors"
	"fmt"
)

// Kind classifies a capture error
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidRegion
	KindWindowNotFound
	KindDisplayNotFound
	KindCaptureFailed
)

// String returns the machine-readable code for the kind
func (k Kind) String() string {
	switch k {
	case KindInvalidRegion:
		return "INVALID_REGION"
	case KindWindowNotFound:
		return "WINDOW_NOT_FOUND"
	case KindDisplayNotFound:
		return "DISPLAY_NOT_FOUND"
	case KindCaptureFailed:
		return "CAPTURE_FAILED"
	default:
		return "UNKNOWN"
	}
}

// Error is the typed error returned across the engine boundary
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Code returns the machine-readable code, e.g. "INVALID_REGION"
func (e *Error) Code() string {
	return e.Kind.String()
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrWindowNotFound) works
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

// Sentinels for errors.Is comparisons
var (
	ErrInvalidRegion   = &Error{Kind: KindInvalidRegion}
	ErrWindowNotFound  = &Error{Kind: KindWindowNotFound}
	ErrDisplayNotFound = &Error{Kind: KindDisplayNotFound}
	ErrCaptureFailed   = &Error{Kind: KindCaptureFailed}
)

// InvalidRegion reports a malformed or out-of-bounds region request
func InvalidRegion(msg string, x, y, width, height int) *Error {
	return &Error{
		Kind:    KindInvalidRegion,
		Message: msg,
		Details: map[string]any{"x": x, "y": y, "width": width, "height": height},
	}
}

// WindowNotFound reports a window id or pattern that does not resolve to a capturable window
func WindowNotFound(msg string, details map[string]any) *Error {
	return &Error{Kind: KindWindowNotFound, Message: msg, Details: details}
}

// DisplayNotFound reports an unknown display id
func DisplayNotFound(displayID string) *Error {
	return &Error{
		Kind:    KindDisplayNotFound,
		Message: fmt.Sprintf("display %q not found", displayID),
		Details: map[string]any{"display_id": displayID},
	}
}

// CaptureFailed wraps a backend failure
func CaptureFailed(backend, op string, err error) *Error {
	return &Error{
		Kind:    KindCaptureFailed,
		Message: fmt.Sprintf("%s %s capture failed", backend, op),
		Details: map[string]any{"backend": backend, "operation": op},
		Err:     err,
	}
}

// KindOf returns the kind of the first *Error in err's chain
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// As extracts the first *Error in err's chain
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
