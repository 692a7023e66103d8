// Package shared contains the error taxonomy used across the transaction layer.
//
// # Error Types
//
//   - ErrOperational: the engine failed to execute a statement
//   - ErrBusy: a lock held by another connection outlived the busy timeout (also operational)
//   - ErrInterface: a connection or cursor handle was misused (e.g. fetch after rollback)
//   - ErrProgramming: the caller passed an invalid argument
//
// # Error Classification
//
// Use KindOf() to classify errors into categories:
//
//	switch shared.KindOf(err) {
//	case shared.KindBusy:
//	    // roll back and retry later
//	case shared.KindInterface:
//	    // re-execute the cursor
//	default:
//	    return err
//	}
//
// Or use predicate functions:
//
//	if shared.IsBusy(err) {
//	    // Handle lock conflict
//	}
//
// # Kind Priority Table
//
//	Priority | Kind            | Description
//	---------|-----------------|---------------------------
//	1        | KindCanceled    | Context cancellation
//	2        | KindTimeout     | Context deadline
//	3        | KindBusy        | Lock conflict
//	4        | KindInterface   | Handle misuse
//	5        | KindProgramming | Invalid argument
//	6        | KindOperational | Other engine failures
//
// # Error Marking
//
// Adapt driver errors without losing the original:
//
//	return shared.MarkKind(err, shared.KindOperational)
package shared
