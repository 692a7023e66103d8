package txn

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"
	"time"
)

// fakeEngine records statements and keeps a transaction flag the way SQLite would.
type fakeEngine struct {
	active      bool
	statements  []string
	failOn      map[string]error
	results     map[string]*fakeRows
	busyTimeout time.Duration
	closed      bool
	checks      int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		failOn:  make(map[string]error),
		results: make(map[string]*fakeRows),
	}
}

func (f *fakeEngine) Exec(_ context.Context, query string, _ ...any) (sql.Result, error) {
	f.statements = append(f.statements, query)
	if err, ok := f.failOn[query]; ok {
		return nil, err
	}

	upper := strings.ToUpper(query)
	switch Keyword(query) {
	case "BEGIN", "SAVEPOINT":
		f.active = true
	case "COMMIT", "END":
		f.active = false
	case "ROLLBACK":
		if !strings.Contains(upper, " TO ") {
			f.active = false
		}
	}
	return driver.RowsAffected(1), nil
}

func (f *fakeEngine) Query(_ context.Context, query string, _ ...any) (Rows, error) {
	f.statements = append(f.statements, query)
	if err, ok := f.failOn[query]; ok {
		return nil, err
	}
	if rows, ok := f.results[query]; ok {
		return rows, nil
	}
	return &fakeRows{}, nil
}

func (f *fakeEngine) InTransaction(context.Context) (bool, error) {
	f.checks++
	return f.active, nil
}

func (f *fakeEngine) SetBusyTimeout(_ context.Context, d time.Duration) error {
	f.busyTimeout = d
	return nil
}

func (f *fakeEngine) Close() error {
	if f.closed {
		return errors.New("already closed")
	}
	f.closed = true
	return nil
}

type fakeRows struct {
	columns []string
	data    [][]any
	pos     int
	closed  bool
}

func (r *fakeRows) Columns() ([]string, error) { return r.columns, nil }

func (r *fakeRows) Next() bool {
	if r.closed || r.pos >= len(r.data) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.data[r.pos-1]
	for i := range dest {
		*(dest[i].(*any)) = row[i]
	}
	return nil
}

func (r *fakeRows) Err() error { return nil }

func (r *fakeRows) Close() error {
	r.closed = true
	return nil
}
