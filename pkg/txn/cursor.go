package txn

import (
	"context"

	"txlite/internal/shared"
)

// CursorState is the lifecycle state of a Cursor.
type CursorState int

const (
	// CursorIdle has no pending result set.
	CursorIdle CursorState = iota
	// CursorActive has a pending result set that can be fetched.
	CursorActive
	// CursorReset had its result set discarded because the transaction ended.
	CursorReset
	// CursorClosed can no longer be used.
	CursorClosed
)

func (s CursorState) String() string {
	switch s {
	case CursorActive:
		return "active"
	case CursorReset:
		return "reset"
	case CursorClosed:
		return "closed"
	default:
		return "idle"
	}
}

// Row is one fetched row. Values are the engine's native Go values:
// int64, float64, string, []byte or nil.
type Row []any

// Cursor executes statements on its connection and iterates their results.
// A Cursor belongs to a single goroutine, like its Conn.
type Cursor struct {
	conn  *Conn
	id    uint64
	state CursorState
	epoch uint64

	rows         Rows
	columns      []string
	rowsAffected int64
	lastInsertID int64
}

// Execute runs query with args, replacing any pending result set of the cursor.
// Statements that produce rows leave the cursor active until the rows are fetched.
func (c *Cursor) Execute(ctx context.Context, query string, args ...any) (*Cursor, error) {
	if c.state == CursorClosed {
		return c, shared.Interfacef("cannot execute on a closed cursor")
	}
	if err := c.conn.checkOpen(); err != nil {
		return c, err
	}

	c.release()
	c.columns = nil
	c.rowsAffected = -1
	c.lastInsertID = 0

	err := c.conn.machine.execute(ctx, query, func(ctx context.Context) error {
		if returnsRows(query) {
			return c.query(ctx, query, args...)
		}
		return c.exec(ctx, query, args...)
	})
	return c, err
}

func (c *Cursor) exec(ctx context.Context, query string, args ...any) error {
	res, err := c.conn.engine.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil {
		c.rowsAffected = n
	}
	if id, err := res.LastInsertId(); err == nil {
		c.lastInsertID = id
	}
	return nil
}

func (c *Cursor) query(ctx context.Context, query string, args ...any) error {
	rows, err := c.conn.engine.Query(ctx, query, args...)
	if err != nil {
		return err
	}
	columns, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		return shared.MarkKind(err, shared.KindOperational)
	}
	if len(columns) == 0 {
		return rows.Close()
	}

	if Classify(query) == DataModifyingDML {
		buffered, err := bufferRows(rows, columns)
		if err != nil {
			return err
		}
		c.rowsAffected = int64(len(buffered.data))
		rows = buffered
	}

	c.rows = rows
	c.columns = columns
	c.state = CursorActive
	c.conn.registry.register(c, c.conn.epoch)
	return nil
}

// FetchOne returns the next row, or nil when the result set is exhausted
// or the last statement produced no rows.
func (c *Cursor) FetchOne() (Row, error) {
	if err := c.checkFetch(); err != nil {
		return nil, err
	}
	if c.state != CursorActive {
		return nil, nil
	}

	if !c.rows.Next() {
		err := c.rows.Err()
		c.release()
		if err != nil {
			return nil, rowsError(err)
		}
		return nil, nil
	}

	row := make(Row, len(c.columns))
	dest := make([]any, len(row))
	for i := range row {
		dest[i] = &row[i]
	}
	if err := c.rows.Scan(dest...); err != nil {
		return nil, rowsError(err)
	}
	return row, nil
}

// FetchMany returns up to n rows. It returns fewer when the result set runs out.
func (c *Cursor) FetchMany(n int) ([]Row, error) {
	if n < 0 {
		return nil, shared.Programmingf("fetch size must not be negative, got %d", n)
	}
	result := make([]Row, 0, n)
	for len(result) < n {
		row, err := c.FetchOne()
		if err != nil {
			return result, err
		}
		if row == nil {
			break
		}
		result = append(result, row)
	}
	return result, nil
}

// FetchAll returns all remaining rows.
func (c *Cursor) FetchAll() ([]Row, error) {
	var result []Row
	for {
		row, err := c.FetchOne()
		if err != nil {
			return result, err
		}
		if row == nil {
			return result, nil
		}
		result = append(result, row)
	}
}

// Columns returns the column names of the current result set.
func (c *Cursor) Columns() []string {
	return c.columns
}

// RowsAffected returns the number of rows changed by the last statement, or -1.
func (c *Cursor) RowsAffected() int64 {
	return c.rowsAffected
}

// LastInsertID returns the rowid of the last inserted row.
func (c *Cursor) LastInsertID() int64 {
	return c.lastInsertID
}

// State returns the cursor lifecycle state.
func (c *Cursor) State() CursorState {
	return c.state
}

// Close discards the pending result set. Closing twice is a no-op.
func (c *Cursor) Close() error {
	if c.state == CursorClosed {
		return nil
	}
	err := c.closeRows()
	c.conn.registry.unregister(c)
	c.state = CursorClosed
	return err
}

func (c *Cursor) checkFetch() error {
	switch c.state {
	case CursorReset:
		return shared.Interfacef("cursor was reset by the end of its transaction; execute the statement again")
	case CursorClosed:
		return shared.Interfacef("cannot fetch from a closed cursor")
	}
	return c.conn.checkOpen()
}

// reset discards the pending result set because its transaction ended.
func (c *Cursor) reset() {
	_ = c.closeRows()
	c.state = CursorReset
}

// release drops the pending result set and returns the cursor to idle.
func (c *Cursor) release() {
	_ = c.closeRows()
	c.conn.registry.unregister(c)
	if c.state != CursorClosed {
		c.state = CursorIdle
	}
}

func (c *Cursor) closeRows() error {
	if c.rows == nil {
		return nil
	}
	err := c.rows.Close()
	c.rows = nil
	return err
}
