// Package shared contains common error types and utilities.
package shared

import (
	"context"
	"errors"
	"fmt"
)

// Error sentinels for the transaction layer.
var (
	// ErrOperational indicates that the engine failed to execute a statement
	ErrOperational = errors.New("operational error")

	// ErrBusy indicates that a statement could not acquire a lock held by another
	// connection before the busy timeout elapsed. Busy errors are operational errors.
	ErrBusy = fmt.Errorf("%w: database is locked", ErrOperational)

	// ErrInterface indicates misuse of a connection or cursor handle
	ErrInterface = errors.New("interface error")

	// ErrProgramming indicates an invalid argument passed by the caller
	ErrProgramming = errors.New("programming error")
)

// Kind represents a category of error for easier classification and handling.
type Kind int

const (
	// KindUnknown represents an unclassified error
	KindUnknown Kind = iota
	// KindOperational represents engine execution failures
	KindOperational
	// KindBusy represents lock conflicts after exhausting the busy timeout
	KindBusy
	// KindInterface represents misuse of connection or cursor handles
	KindInterface
	// KindProgramming represents invalid caller arguments
	KindProgramming
	// KindTimeout represents context deadline errors
	KindTimeout
	// KindCanceled represents context cancellation
	KindCanceled
)

// String returns the string representation of the Kind.
func (k Kind) String() string {
	switch k {
	case KindOperational:
		return "Operational"
	case KindBusy:
		return "Busy"
	case KindInterface:
		return "Interface"
	case KindProgramming:
		return "Programming"
	case KindTimeout:
		return "Timeout"
	case KindCanceled:
		return "Canceled"
	default:
		return "Unknown"
	}
}

var kindToSentinel = map[Kind]error{
	KindOperational: ErrOperational,
	KindBusy:        ErrBusy,
	KindInterface:   ErrInterface,
	KindProgramming: ErrProgramming,
}

// kindPriorities defines the deterministic order for error classification.
// Busy must be checked before Operational because every busy error is also operational.
var kindPriorities = []struct {
	kind Kind
	err  error
}{
	{KindCanceled, nil},
	{KindTimeout, nil},
	{KindBusy, ErrBusy},
	{KindInterface, ErrInterface},
	{KindProgramming, ErrProgramming},
	{KindOperational, ErrOperational},
}

// KindOf returns the Kind of the given error by checking against known sentinel errors.
// It traverses the error chain using a deterministic priority order:
//  1. KindCanceled (context.Canceled)
//  2. KindTimeout (context.DeadlineExceeded)
//  3. KindBusy
//  4. KindInterface, KindProgramming
//  5. KindOperational
//
// Returns KindUnknown for unrecognized errors.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	for _, priority := range kindPriorities {
		switch priority.kind {
		case KindCanceled:
			if errors.Is(err, context.Canceled) {
				return KindCanceled
			}
		case KindTimeout:
			if errors.Is(err, context.DeadlineExceeded) {
				return KindTimeout
			}
		default:
			if errors.Is(err, priority.err) {
				return priority.kind
			}
		}
	}

	return KindUnknown
}

// HasKind reports whether the given error has the specified kind.
func HasKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// SentinelOf returns the sentinel error for the given Kind.
// For KindUnknown, KindTimeout and KindCanceled it returns nil.
func SentinelOf(kind Kind) error {
	return kindToSentinel[kind]
}

// MarkKind wraps an error with the sentinel error for the given kind,
// preserving the original error through error wrapping.
// Both KindOf(MarkKind(err, kind)) == kind and errors.Is(MarkKind(err, kind), err) hold.
// If err is nil, returns the sentinel error for the kind (or nil for kinds without one).
// Marking an error with a kind it already has returns the error unchanged.
//
// Example usage for adapting driver errors:
//
//	if code == sqlite3.SQLITE_BUSY {
//	    return shared.MarkKind(err, shared.KindBusy)
//	}
//	return shared.MarkKind(err, shared.KindOperational)
func MarkKind(err error, kind Kind) error {
	sentinel := SentinelOf(kind)
	if err == nil {
		return sentinel
	}
	if sentinel == nil {
		return err
	}
	if KindOf(err) == kind {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// Wrap wraps an error with additional context.
// It returns a new error that formats as "context: err".
// If err is nil, Wrap returns nil.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	if context == "" {
		return err
	}
	return fmt.Errorf("%s: %w", context, err)
}

// Wrapf wraps an error with a formatted context message.
// If err is nil, Wrapf returns nil.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return Wrap(err, fmt.Sprintf(format, args...))
}

// Interfacef returns a new interface error with a formatted message.
func Interfacef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInterface, fmt.Sprintf(format, args...))
}

// Programmingf returns a new programming error with a formatted message.
func Programmingf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProgramming, fmt.Sprintf(format, args...))
}

// IsOperational reports whether the error is an engine failure, busy errors included.
func IsOperational(err error) bool {
	return errors.Is(err, ErrOperational)
}

// IsBusy reports whether the error is a lock conflict.
func IsBusy(err error) bool {
	return errors.Is(err, ErrBusy)
}

// IsInterface reports whether the error indicates handle misuse.
func IsInterface(err error) bool {
	return errors.Is(err, ErrInterface)
}

// IsProgramming reports whether the error indicates an invalid argument.
func IsProgramming(err error) bool {
	return errors.Is(err, ErrProgramming)
}
