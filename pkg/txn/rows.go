package txn

import (
	"txlite/internal/platform/sqlite"
	"txlite/internal/shared"
)

// bufferedRows is a result set read into memory. DML with RETURNING is
// drained this way so that no write statement stays pending on the engine.
type bufferedRows struct {
	columns []string
	data    [][]any
	pos     int
}

// bufferRows reads every row of rows and closes it.
func bufferRows(rows Rows, columns []string) (*bufferedRows, error) {
	b := &bufferedRows{columns: columns, pos: -1}
	for rows.Next() {
		row := make([]any, len(columns))
		dest := make([]any, len(row))
		for i := range row {
			dest[i] = &row[i]
		}
		if err := rows.Scan(dest...); err != nil {
			_ = rows.Close()
			return nil, rowsError(err)
		}
		b.data = append(b.data, row)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, rowsError(err)
	}
	if err := rows.Close(); err != nil {
		return nil, rowsError(err)
	}
	return b, nil
}

func (b *bufferedRows) Columns() ([]string, error) { return b.columns, nil }

func (b *bufferedRows) Next() bool {
	if b.pos+1 >= len(b.data) {
		b.pos = len(b.data)
		return false
	}
	b.pos++
	return true
}

func (b *bufferedRows) Scan(dest ...any) error {
	if b.pos < 0 || b.pos >= len(b.data) {
		return shared.Interfacef("scan called without a current row")
	}
	row := b.data[b.pos]
	if len(dest) != len(row) {
		return shared.Programmingf("expected %d destination arguments, got %d", len(row), len(dest))
	}
	for i, d := range dest {
		p, ok := d.(*any)
		if !ok {
			return shared.Programmingf("unsupported scan destination %T", d)
		}
		*p = row[i]
	}
	return nil
}

func (b *bufferedRows) Err() error { return nil }

func (b *bufferedRows) Close() error {
	b.data = nil
	return nil
}

// rowsError marks an error raised while stepping through a result set.
func rowsError(err error) error {
	if sqlite.IsBusyError(err) {
		return shared.MarkKind(err, shared.KindBusy)
	}
	return shared.MarkKind(err, shared.KindOperational)
}
