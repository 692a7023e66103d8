package txn

import "txlite/internal/shared"

// Error categories. Use errors.Is or the Is helpers below.
var (
	// ErrOperational is returned for engine failures: locking, missing objects, constraint violations.
	ErrOperational = shared.ErrOperational
	// ErrBusy is an ErrOperational returned when the busy timeout expired on a lock.
	ErrBusy = shared.ErrBusy
	// ErrInterface is returned for API misuse such as fetching from a reset cursor.
	ErrInterface = shared.ErrInterface
	// ErrProgramming is returned for invalid arguments.
	ErrProgramming = shared.ErrProgramming
)

// IsOperational reports whether err is an engine execution failure, busy errors included.
func IsOperational(err error) bool { return shared.IsOperational(err) }

// IsBusy reports whether err is a lock conflict that outlasted the busy timeout.
func IsBusy(err error) bool { return shared.IsBusy(err) }

// IsInterface reports whether err comes from misuse of a cursor or connection.
func IsInterface(err error) bool { return shared.IsInterface(err) }

// IsProgramming reports whether err is caused by an invalid argument.
func IsProgramming(err error) bool { return shared.IsProgramming(err) }
