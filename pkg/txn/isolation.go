package txn

import (
	"strings"

	"txlite/internal/platform/sqlite"
	"txlite/internal/shared"
)

// IsolationLevel selects the mode of the implicit BEGIN.
// Autocommit turns transaction management off entirely.
type IsolationLevel string

const (
	// Autocommit never issues an implicit BEGIN or COMMIT.
	Autocommit IsolationLevel = ""
	// Deferred takes locks on first access (BEGIN DEFERRED).
	Deferred IsolationLevel = IsolationLevel(sqlite.TxLockDeferred)
	// Immediate takes the write lock at BEGIN (BEGIN IMMEDIATE).
	Immediate IsolationLevel = IsolationLevel(sqlite.TxLockImmediate)
	// Exclusive also keeps readers out in rollback-journal mode (BEGIN EXCLUSIVE).
	Exclusive IsolationLevel = IsolationLevel(sqlite.TxLockExclusive)
)

// Valid reports whether the level is one of the known values.
func (l IsolationLevel) Valid() bool {
	switch l {
	case Autocommit, Deferred, Immediate, Exclusive:
		return true
	}
	return false
}

// String returns the BEGIN mode, or AUTOCOMMIT.
func (l IsolationLevel) String() string {
	if l == Autocommit {
		return "AUTOCOMMIT"
	}
	return string(l)
}

// beginStatement returns the statement that opens a transaction in this mode.
func (l IsolationLevel) beginStatement() string {
	return "BEGIN " + string(l)
}

// ParseIsolationLevel accepts deferred, immediate and exclusive in any case.
// An empty string, "none" and "autocommit" select Autocommit.
func ParseIsolationLevel(s string) (IsolationLevel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "NONE", "AUTOCOMMIT":
		return Autocommit, nil
	case "DEFERRED":
		return Deferred, nil
	case "IMMEDIATE":
		return Immediate, nil
	case "EXCLUSIVE":
		return Exclusive, nil
	}
	return Autocommit, shared.Programmingf("unknown isolation level %q", s)
}
