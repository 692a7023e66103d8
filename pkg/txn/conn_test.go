package txn_test

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"txlite/internal/platform/sqlite"
	"txlite/pkg/txn"
)

func openConn(t *testing.T, path string, opts ...txn.Option) *txn.Conn {
	t.Helper()

	base := []txn.Option{
		txn.WithEngineOptions(sqlite.TestOptions()),
		txn.WithBusyTimeout(sqlite.TestBusyTimeout),
	}
	conn, err := txn.Open(context.Background(), path, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
	})
	return conn
}

func openPair(t *testing.T, opts ...txn.Option) (*txn.Conn, *txn.Conn) {
	t.Helper()

	path := sqlite.NewTestPath(t)
	return openConn(t, path, opts...), openConn(t, path, opts...)
}

func mustExec(t *testing.T, conn *txn.Conn, query string, args ...any) *txn.Cursor {
	t.Helper()

	cur, err := conn.Execute(context.Background(), query, args...)
	require.NoError(t, err, "execute %q", query)
	return cur
}

func fetchAll(t *testing.T, conn *txn.Conn, query string) []txn.Row {
	t.Helper()

	rows, err := mustExec(t, conn, query).FetchAll()
	require.NoError(t, err)
	return rows
}

func inTx(t *testing.T, conn *txn.Conn) bool {
	t.Helper()

	active, err := conn.InTransaction(context.Background())
	require.NoError(t, err)
	return active
}

func TestConn_HasActiveTransaction(t *testing.T) {
	ctx := context.Background()
	con1, con2 := openPair(t)

	assert.False(t, inTx(t, con1))
	mustExec(t, con1, "create table test(i)")
	mustExec(t, con1, "insert into test(i) values (5)")
	assert.True(t, inTx(t, con1))
	require.NoError(t, con1.Commit(ctx))
	assert.False(t, inTx(t, con1))

	// Manual transaction management is detected as well
	require.NoError(t, con2.SetIsolationLevel(txn.Autocommit))
	assert.False(t, inTx(t, con2))
	mustExec(t, con2, "begin")
	assert.True(t, inTx(t, con2))
	require.NoError(t, con2.Commit(ctx))
	assert.False(t, inTx(t, con2))

	mustExec(t, con2, "begin")
	assert.True(t, inTx(t, con2))
	mustExec(t, con2, "commit")
	assert.False(t, inTx(t, con2))
}

func TestConn_RollbackEndsTransaction(t *testing.T) {
	con1 := openConn(t, sqlite.NewTestPath(t))

	mustExec(t, con1, "create table test(i)")
	mustExec(t, con1, "insert into test(i) values (5)")
	assert.True(t, inTx(t, con1))

	require.NoError(t, con1.Rollback(context.Background()))
	assert.False(t, inTx(t, con1))
	assert.Empty(t, fetchAll(t, con1, "select i from test"))
}

func TestConn_OtherStatementCommitsBefore(t *testing.T) {
	con1, con2 := openPair(t)

	mustExec(t, con1, "create table test(i)")
	mustExec(t, con1, "insert into test(i) values (5)")
	mustExec(t, con1, "create table test2(j)")

	assert.Len(t, fetchAll(t, con2, "select i from test"), 1)
	assert.False(t, inTx(t, con1))
}

func TestConn_DMLStartsTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("insert", func(t *testing.T) {
		con1, con2 := openPair(t)
		mustExec(t, con1, "create table test(i)")
		mustExec(t, con1, "insert into test(i) values (5)")

		assert.Empty(t, fetchAll(t, con2, "select i from test"))
	})

	t.Run("update", func(t *testing.T) {
		con1, con2 := openPair(t)
		mustExec(t, con1, "create table test(i)")
		mustExec(t, con1, "insert into test(i) values (5)")
		require.NoError(t, con1.Commit(ctx))
		mustExec(t, con1, "update test set i=6")

		row, err := mustExec(t, con2, "select i from test").FetchOne()
		require.NoError(t, err)
		assert.Equal(t, int64(5), row[0])
	})

	t.Run("delete", func(t *testing.T) {
		con1, con2 := openPair(t)
		mustExec(t, con1, "create table test(i)")
		mustExec(t, con1, "insert into test(i) values (5)")
		require.NoError(t, con1.Commit(ctx))
		mustExec(t, con1, "delete from test")

		assert.Len(t, fetchAll(t, con2, "select i from test"), 1)
	})

	t.Run("replace", func(t *testing.T) {
		con1, con2 := openPair(t)
		mustExec(t, con1, "create table test(i)")
		mustExec(t, con1, "insert into test(i) values (5)")
		require.NoError(t, con1.Commit(ctx))
		mustExec(t, con1, "replace into test(i) values (6)")

		rows := fetchAll(t, con2, "select i from test")
		require.Len(t, rows, 1)
		assert.Equal(t, int64(5), rows[0][0])
	})
}

func TestConn_ToggleAutocommit(t *testing.T) {
	ctx := context.Background()
	con1, con2 := openPair(t)

	mustExec(t, con1, "create table test(i)")
	mustExec(t, con1, "insert into test(i) values (5)")

	// Changing the level does not commit the open transaction
	require.NoError(t, con1.SetIsolationLevel(txn.Autocommit))
	assert.Equal(t, txn.Autocommit, con1.IsolationLevel())
	assert.True(t, inTx(t, con1))
	assert.Empty(t, fetchAll(t, con2, "select i from test"))

	require.NoError(t, con1.Commit(ctx))
	assert.Len(t, fetchAll(t, con2, "select i from test"), 1)

	// In autocommit mode every statement commits on its own
	mustExec(t, con1, "insert into test(i) values (6)")
	assert.False(t, inTx(t, con1))
	assert.Len(t, fetchAll(t, con2, "select i from test"), 2)

	require.NoError(t, con1.SetIsolationLevel(txn.Deferred))
	mustExec(t, con1, "insert into test(i) values (7)")
	assert.Len(t, fetchAll(t, con2, "select i from test"), 2)
}

func TestConn_RaiseTimeout(t *testing.T) {
	con1, con2 := openPair(t)

	mustExec(t, con1, "create table test(i)")
	mustExec(t, con1, "insert into test(i) values (5)")

	start := time.Now()
	_, err := con2.Execute(context.Background(), "insert into test(i) values (5)")
	require.Error(t, err)
	assert.True(t, txn.IsOperational(err))
	assert.True(t, txn.IsBusy(err))
	assert.GreaterOrEqual(t, time.Since(start), sqlite.TestBusyTimeout/2)
}

func TestConn_ZeroBusyTimeoutFailsImmediately(t *testing.T) {
	ctx := context.Background()
	con1, con2 := openPair(t)
	require.NoError(t, con2.SetBusyTimeout(ctx, 0))
	assert.Zero(t, con2.BusyTimeout())

	mustExec(t, con1, "create table test(i)")
	mustExec(t, con1, "insert into test(i) values (5)")

	_, err := con2.Execute(ctx, "insert into test(i) values (5)")
	assert.True(t, txn.IsBusy(err))

	assert.True(t, txn.IsProgramming(con2.SetBusyTimeout(ctx, -time.Second)))
}

func TestConn_Locking(t *testing.T) {
	ctx := context.Background()
	con1, con2 := openPair(t)

	mustExec(t, con1, "create table test(i)")
	mustExec(t, con1, "insert into test(i) values (5)")

	_, err := con2.Execute(ctx, "insert into test(i) values (5)")
	require.True(t, txn.IsBusy(err), "expected busy error, got %v", err)

	// The waiter's own rollback does not release the holder's lock
	require.NoError(t, con2.Rollback(ctx))
	_, err = con2.Execute(ctx, "insert into test(i) values (5)")
	require.True(t, txn.IsBusy(err), "expected busy error, got %v", err)

	// No rollback on con2 is needed before the holder commits
	require.NoError(t, con1.Commit(ctx))

	mustExec(t, con2, "insert into test(i) values (6)")
	require.NoError(t, con2.Commit(ctx))
	assert.Len(t, fetchAll(t, con1, "select i from test"), 2)
}

func TestConn_RollbackCursorConsistency(t *testing.T) {
	ctx := context.Background()
	conn := openConn(t, sqlite.MemoryPath)

	cur := conn.Cursor()
	_, err := cur.Execute(ctx, "create table test(x)")
	require.NoError(t, err)
	_, err = cur.Execute(ctx, "insert into test(x) values (5)")
	require.NoError(t, err)
	_, err = cur.Execute(ctx, "select 1 union select 2 union select 3")
	require.NoError(t, err)

	require.NoError(t, conn.Rollback(ctx))
	assert.Equal(t, txn.CursorReset, cur.State())

	_, err = cur.FetchAll()
	require.Error(t, err)
	assert.True(t, txn.IsInterface(err))
}

func TestConn_RollbackResetsReadInsideTransaction(t *testing.T) {
	ctx := context.Background()
	conn := openConn(t, sqlite.NewTestPath(t), txn.WithNeedsTransaction(txn.ReadsInTransaction))

	mustExec(t, conn, "create table test(x)")
	mustExec(t, conn, "insert into test(x) values (1), (2), (3)")
	epoch := conn.Epoch()

	cur := mustExec(t, conn, "select x from test order by x")
	row, err := cur.FetchOne()
	require.NoError(t, err)
	assert.Equal(t, txn.Row{int64(1)}, row)
	assert.True(t, inTx(t, conn), "reads stay inside the transaction")

	require.NoError(t, conn.Rollback(ctx))
	assert.Equal(t, epoch+1, conn.Epoch())

	_, err = cur.FetchOne()
	assert.True(t, txn.IsInterface(err))

	// Re-executing clears the reset state and sees the rolled back data
	_, err = cur.Execute(ctx, "select x from test")
	require.NoError(t, err)
	rows, err := cur.FetchAll()
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestConn_TransactionalDDL(t *testing.T) {
	ctx := context.Background()

	t.Run("drop table", func(t *testing.T) {
		conn := openConn(t, sqlite.NewTestPath(t), txn.WithNeedsTransaction(txn.TransactionalDDL))
		mustExec(t, conn, "create table test(x)")
		mustExec(t, conn, "insert into test(x) values (5)")
		require.NoError(t, conn.Commit(ctx))

		mustExec(t, conn, "insert into test(x) values (6)")
		mustExec(t, conn, "drop table test")
		require.NoError(t, conn.Rollback(ctx))

		// Table should still exist
		assert.Len(t, fetchAll(t, conn, "select * from test"), 1)
	})

	t.Run("create table", func(t *testing.T) {
		conn := openConn(t, sqlite.NewTestPath(t), txn.WithNeedsTransaction(txn.TransactionalDDL))
		mustExec(t, conn, "begin")
		mustExec(t, conn, "create table test(x)")
		require.NoError(t, conn.Rollback(ctx))

		// The table was rolled back, so it can be created again
		mustExec(t, conn, "create table test(x)")
	})

	t.Run("create index", func(t *testing.T) {
		conn := openConn(t, sqlite.NewTestPath(t), txn.WithNeedsTransaction(txn.TransactionalDDL))
		mustExec(t, conn, "create table test(x integer)")
		mustExec(t, conn, "insert into test(x) values (1)")
		require.NoError(t, conn.Commit(ctx))

		mustExec(t, conn, "insert into test(x) values (2)")
		mustExec(t, conn, "create index myidx on test(x)")
		assert.NotEmpty(t, fetchAll(t, conn, "pragma index_info(myidx)"))
		require.NoError(t, conn.Rollback(ctx))
		assert.Empty(t, fetchAll(t, conn, "pragma index_info(myidx)"))
	})

	t.Run("add column", func(t *testing.T) {
		conn := openConn(t, sqlite.NewTestPath(t), txn.WithNeedsTransaction(txn.TransactionalDDL))
		mustExec(t, conn, "create table test(x integer)")
		mustExec(t, conn, "insert into test(x) values (42)")
		require.NoError(t, conn.Commit(ctx))

		mustExec(t, conn, "begin")
		mustExec(t, conn, "alter table test add column y integer default 37")
		rows := fetchAll(t, conn, "select * from test")
		require.Len(t, rows, 1)
		assert.Len(t, rows[0], 2)

		require.NoError(t, conn.Rollback(ctx))
		rows = fetchAll(t, conn, "select * from test")
		require.Len(t, rows, 1)
		assert.Len(t, rows[0], 1)

		_, err := conn.Execute(ctx, "insert into test(x,y) values (1,2)")
		assert.True(t, txn.IsOperational(err), "column y should have been rolled back")
	})

	t.Run("rename table", func(t *testing.T) {
		conn := openConn(t, sqlite.NewTestPath(t), txn.WithNeedsTransaction(txn.TransactionalDDL))
		mustExec(t, conn, "create table foo(x integer)")
		require.NoError(t, conn.Commit(ctx))

		mustExec(t, conn, "begin")
		mustExec(t, conn, "alter table foo rename to bar")
		fetchAll(t, conn, "select * from bar")
		_, err := conn.Execute(ctx, "select * from foo")
		assert.True(t, txn.IsOperational(err), "table foo should have been renamed to bar")

		require.NoError(t, conn.Rollback(ctx))
		fetchAll(t, conn, "select * from foo")
		_, err = conn.Execute(ctx, "select * from bar")
		assert.True(t, txn.IsOperational(err), "renaming the table should have been rolled back")
	})

	t.Run("drop index", func(t *testing.T) {
		conn := openConn(t, sqlite.NewTestPath(t), txn.WithNeedsTransaction(txn.TransactionalDDL))
		mustExec(t, conn, "create table foo(x integer)")
		mustExec(t, conn, "create index myidx on foo(x)")
		require.NoError(t, conn.Commit(ctx))

		mustExec(t, conn, "begin")
		mustExec(t, conn, "drop index myidx")
		require.NoError(t, conn.Rollback(ctx))

		_, err := conn.Execute(ctx, "create index myidx on foo(x)")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already exists")
	})
}

func TestConn_DDLWithoutTransactionAutocommits(t *testing.T) {
	conn := openConn(t, sqlite.NewTestPath(t), txn.WithNeedsTransaction(txn.TransactionalDDL))

	// Other statements never open a transaction on their own
	mustExec(t, conn, "create table test(i)")
	assert.False(t, inTx(t, conn))
	require.NoError(t, conn.Rollback(context.Background()))
	assert.Empty(t, fetchAll(t, conn, "select * from test"))
}

func TestConn_Savepoints(t *testing.T) {
	ctx := context.Background()
	con1, con2 := openPair(t)
	con1.SetNeedsTransaction(txn.TransactionalDDL)

	mustExec(t, con1, "create table test(x)")
	require.NoError(t, con1.Commit(ctx))
	mustExec(t, con1, "insert into test(x) values (1)")
	mustExec(t, con1, "savepoint foobar")
	mustExec(t, con1, "insert into test(x) values (2)")
	mustExec(t, con1, "rollback to savepoint foobar")
	assert.True(t, inTx(t, con1))
	require.NoError(t, con1.Commit(ctx))

	rows := fetchAll(t, con2, "select x from test")
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0][0])
}

func TestConn_SpecialCommands(t *testing.T) {
	tests := []struct {
		name      string
		statement string
	}{
		{"vacuum", "vacuum"},
		{"drop table", "drop table test"},
		{"pragma", "pragma count_changes=1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := openConn(t, sqlite.MemoryPath)
			mustExec(t, conn, "create table test(i)")
			mustExec(t, conn, "insert into test(i) values (5)")
			mustExec(t, conn, tt.statement)
			assert.False(t, inTx(t, conn))
		})
	}
}

func TestConn_State(t *testing.T) {
	ctx := context.Background()
	conn := openConn(t, sqlite.NewTestPath(t), txn.WithIsolationLevel(txn.Immediate))

	state, err := conn.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, txn.StateNone, state.State)

	mustExec(t, conn, "create table test(i)")
	mustExec(t, conn, "insert into test(i) values (1)")
	state, err = conn.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, txn.StateActive, state.State)
	assert.Equal(t, txn.Immediate, state.Mode)

	mustExec(t, conn, "commit")
	state, err = conn.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, txn.StateNone, state.State)
	assert.Equal(t, uint64(1), state.Epoch)
}

func TestConn_RowsAffectedAndLastInsertID(t *testing.T) {
	conn := openConn(t, sqlite.NewTestPath(t))

	mustExec(t, conn, "create table test(id integer primary key, name text)")
	cur := mustExec(t, conn, "insert into test(name) values (?)", "a")
	assert.Equal(t, int64(1), cur.RowsAffected())
	assert.Equal(t, int64(1), cur.LastInsertID())

	mustExec(t, conn, "insert into test(name) values (?), (?)", "b", "c")
	cur = mustExec(t, conn, "update test set name = 'x'")
	assert.Equal(t, int64(3), cur.RowsAffected())

	cur = mustExec(t, conn, "insert into test(name) values ('d') returning id")
	assert.Equal(t, []string{"id"}, cur.Columns())
	row, err := cur.FetchOne()
	require.NoError(t, err)
	assert.Equal(t, txn.Row{int64(4)}, row)
	require.NoError(t, cur.Close())
	assert.True(t, inTx(t, conn))
}

func TestConn_CloseRollsBackAndResetsCursors(t *testing.T) {
	path := sqlite.NewTestPath(t)
	conn, err := txn.Open(context.Background(), path,
		txn.WithEngineOptions(sqlite.TestOptions()),
		txn.WithBusyTimeout(sqlite.TestBusyTimeout),
		txn.WithNeedsTransaction(txn.ReadsInTransaction),
	)
	require.NoError(t, err)

	mustExec(t, conn, "create table test(i)")
	mustExec(t, conn, "insert into test(i) values (1), (2)")
	cur := mustExec(t, conn, "select i from test")

	require.NoError(t, conn.Close())
	assert.Equal(t, txn.CursorClosed, cur.State())
	_, err = cur.FetchOne()
	assert.True(t, txn.IsInterface(err))

	other := openConn(t, path)
	assert.Empty(t, fetchAll(t, other, "select i from test"))
}

func TestOpen_InvalidOptions(t *testing.T) {
	_, err := txn.Open(context.Background(), sqlite.NewTestPath(t), txn.WithIsolationLevel("SNAPSHOT"))
	assert.True(t, txn.IsProgramming(err))
}

func TestConn_ReturningLeavesNoWritePending(t *testing.T) {
	con1, con2 := openPair(t, txn.WithIsolationLevel(txn.Autocommit))

	mustExec(t, con1, "create table test(i)")
	mustExec(t, con1, "insert into test(i) values (1), (2)")

	cur := mustExec(t, con1, "update test set i = i + 10 returning i")
	assert.Equal(t, int64(2), cur.RowsAffected())
	row, err := cur.FetchOne()
	require.NoError(t, err)
	assert.NotNil(t, row)

	assert.False(t, inTx(t, con1))
	assert.False(t, inTx(t, con1), "checking twice leaves no transaction behind")

	// the update is already committed and holds no lock
	assert.Equal(t, []txn.Row{{int64(23)}}, fetchAll(t, con2, "select sum(i) from test"))
	mustExec(t, con2, "insert into test(i) values (3)")

	rest, err := cur.FetchAll()
	require.NoError(t, err)
	assert.Len(t, rest, 1)
	assert.False(t, inTx(t, con1))
}

func TestConn_ReturningInsideLiteralIsNotAQuery(t *testing.T) {
	conn := openConn(t, sqlite.NewTestPath(t))

	mustExec(t, conn, "create table test(id integer primary key, note text)")
	cur := mustExec(t, conn, "insert into test(note) values ('no returning here')")
	assert.Equal(t, int64(1), cur.RowsAffected())
	assert.Equal(t, int64(1), cur.LastInsertID())
	assert.Empty(t, cur.Columns())
}

func TestConn_DroppedCursorIsReleased(t *testing.T) {
	ctx := context.Background()
	con1, con2 := openPair(t)

	mustExec(t, con1, "create table test(i)")
	mustExec(t, con1, "insert into test(i) values (1), (2), (3)")
	require.NoError(t, con1.Commit(ctx))

	func() { mustExec(t, con1, "select i from test") }()
	runtime.GC()

	mustExec(t, con2, "insert into test(i) values (4)")
	require.NoError(t, con2.Commit(ctx))

	// rollback releases the dropped statement, so the new row is visible
	require.NoError(t, con1.Rollback(ctx))
	assert.Equal(t, []txn.Row{{int64(4)}}, fetchAll(t, con1, "select count(*) from test"))

	func() { mustExec(t, con1, "select i from test") }()
	runtime.GC()

	done := make(chan error, 1)
	go func() { done <- con1.Close() }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Close blocked by a dropped cursor")
	}
}
