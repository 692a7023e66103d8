package txn

import (
	"context"
	"database/sql"
	"time"

	"txlite/internal/platform/sqlite"
)

// Engine is the single database connection a Conn drives.
// It runs statements as given and reports the transaction state it actually holds.
type Engine interface {
	Exec(ctx context.Context, query string, args ...any) (sql.Result, error)
	Query(ctx context.Context, query string, args ...any) (Rows, error)
	// InTransaction reports whether the engine has an open transaction right now.
	InTransaction(ctx context.Context) (bool, error)
	SetBusyTimeout(ctx context.Context, d time.Duration) error
	Close() error
}

// Rows is a pending result set produced by Engine.Query.
type Rows interface {
	Columns() ([]string, error)
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// sqliteEngine adapts *sqlite.Engine to Engine.
type sqliteEngine struct {
	*sqlite.Engine
}

func (e sqliteEngine) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	rows, err := e.Engine.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
