// Package rdperr defines the error taxonomy shared by every rdpd package.
//
// Callers compare kinds with errors.Is against the package-level sentinels
// below; Wrap attaches a message and an optional cause to a kind without
// losing errors.Is comparability.
package rdperr

import (
	"errors"
	"fmt"
)

// Kind is a comparable error classification: three real failure kinds, one
// configuration kind, and two non-error "try again" signals that callers
// branch on instead of logging.
type Kind struct {
	name string
}

func (k Kind) Error() string { return k.name }

var (
	// InvalidArgument indicates a caller-supplied value failed validation.
	InvalidArgument = Kind{"invalid argument"}
	// NotSupported indicates the requested capability is not available in
	// this build or on this platform.
	NotSupported = Kind{"not supported"}
	// Failed is a catch-all for operations that failed for a reason that
	// doesn't warrant its own kind.
	Failed = Kind{"failed"}
	// Pending is not an error: it signals the operation has no result yet
	// and the caller should retry later (e.g. capture.Queue.Wait polled with
	// no frame queued).
	Pending = Kind{"pending"}
	// Timeout indicates a bounded wait elapsed without the awaited event.
	Timeout = Kind{"timeout"}
	// WouldBlock indicates a non-blocking operation could not complete
	// without blocking (e.g. submitting a frame while at max outstanding
	// frames).
	WouldBlock = Kind{"would block"}
)

// rdpError pairs a Kind with context, supporting errors.Is(err, Kind) and
// errors.Unwrap for a wrapped cause.
type rdpError struct {
	kind    Kind
	msg     string
	cause   error
	hasMsg  bool
}

func (e *rdpError) Error() string {
	if !e.hasMsg {
		if e.cause != nil {
			return fmt.Sprintf("%s: %v", e.kind.name, e.cause)
		}
		return e.kind.name
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind.name, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind.name, e.msg)
}

func (e *rdpError) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == e.kind
}

func (e *rdpError) Unwrap() error { return e.cause }

// New creates an error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) error {
	return &rdpError{kind: kind, msg: fmt.Sprintf(format, args...), hasMsg: true}
}

// Wrap attaches kind to an existing error, preserving it as the cause.
func Wrap(kind Kind, cause error) error {
	if cause == nil {
		return nil
	}
	return &rdpError{kind: kind, cause: cause}
}

// Is reports whether err carries the given kind, including plain kind
// values returned bare (without New/Wrap).
func Is(err error, kind Kind) bool {
	return errors.Is(err, kind)
}
