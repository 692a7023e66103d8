package app

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/chzyer/readline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"txlite/internal/platform/sqlite"
	"txlite/pkg/txn"
)

func newTestShell(t *testing.T) (*Shell, *txn.Conn, *bytes.Buffer) {
	t.Helper()

	conn, err := txn.Open(context.Background(), sqlite.NewTestPath(t),
		txn.WithEngineOptions(sqlite.TestOptions()),
		txn.WithBusyTimeout(sqlite.TestBusyTimeout),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
	})

	var out bytes.Buffer
	return NewShell(conn, &out, nil), conn, &out
}

func feed(t *testing.T, s *Shell, lines ...string) {
	t.Helper()
	for _, line := range lines {
		require.NoError(t, s.Feed(context.Background(), line))
	}
}

func inTransaction(t *testing.T, conn *txn.Conn) bool {
	t.Helper()
	active, err := conn.InTransaction(context.Background())
	require.NoError(t, err)
	return active
}

func TestShell_ImplicitTransaction(t *testing.T) {
	s, conn, out := newTestShell(t)

	feed(t, s, "create table t(i);", "insert into t values (1);")
	assert.Contains(t, out.String(), "1 row(s) affected")
	assert.True(t, inTransaction(t, conn))

	out.Reset()
	feed(t, s, ".status")
	assert.Contains(t, out.String(), "transaction: ACTIVE (DEFERRED)")

	feed(t, s, ".commit")
	assert.False(t, inTransaction(t, conn))

	out.Reset()
	feed(t, s, ".status")
	assert.Contains(t, out.String(), "transaction: NONE (-)")
	assert.Contains(t, out.String(), "epoch: 1")
}

func TestShell_MultiLineStatement(t *testing.T) {
	s, _, out := newTestShell(t)

	feed(t, s, "create table t(i);")
	feed(t, s, "insert into t")
	assert.True(t, s.Pending())
	assert.Empty(t, out.String())

	feed(t, s, "values (1),", "(2);")
	assert.False(t, s.Pending())
	assert.Contains(t, out.String(), "2 row(s) affected")
}

func TestShell_OutputModes(t *testing.T) {
	s, _, out := newTestShell(t)
	feed(t, s, "create table t(name, n);", "insert into t values ('alice', 1), (NULL, 2);")

	out.Reset()
	feed(t, s, "select name, n from t order by n;")
	assert.Contains(t, out.String(), "alice")
	assert.Contains(t, out.String(), "NULL")
	assert.Contains(t, out.String(), "name")

	out.Reset()
	feed(t, s, ".mode plain", "select name, n from t order by n;")
	assert.Equal(t, "name|n\nalice|1\nNULL|2\n", out.String())

	out.Reset()
	feed(t, s, ".mode json", "select name, n from t order by n;")
	assert.JSONEq(t, `[{"name":"alice","n":1},{"name":null,"n":2}]`, out.String())

	out.Reset()
	feed(t, s, ".mode csv")
	assert.Contains(t, out.String(), `Error: unknown output mode "csv"`)
}

func TestShell_StatementErrorIsPrinted(t *testing.T) {
	s, _, out := newTestShell(t)

	feed(t, s, "insert into missing values (1);")
	assert.Contains(t, out.String(), "Error:")
	assert.Contains(t, out.String(), "no such table")
}

func TestShell_Settings(t *testing.T) {
	s, conn, out := newTestShell(t)

	feed(t, s, ".isolation immediate")
	assert.Equal(t, txn.Immediate, conn.IsolationLevel())

	feed(t, s, ".isolation")
	assert.Contains(t, out.String(), "IMMEDIATE")

	out.Reset()
	feed(t, s, ".isolation serializable")
	assert.Contains(t, out.String(), "Error:")
	assert.Equal(t, txn.Immediate, conn.IsolationLevel())

	feed(t, s, ".timeout 250ms")
	assert.Equal(t, 250*time.Millisecond, conn.BusyTimeout())

	out.Reset()
	feed(t, s, ".timeout soon", ".ddl maybe", ".bogus")
	assert.Equal(t, 3, bytes.Count(out.Bytes(), []byte("Error:")))
}

func TestShell_TransactionalDDL(t *testing.T) {
	s, conn, _ := newTestShell(t)

	feed(t, s, "create table t(i);", ".ddl on", "insert into t values (1);", "create table u(i);")
	assert.True(t, inTransaction(t, conn), "DDL stays in the open transaction")

	feed(t, s, ".rollback", ".mode plain")
	out := s.out.(*bytes.Buffer)
	out.Reset()
	feed(t, s, "select count(*) from sqlite_master where name = 'u';")
	assert.Equal(t, "count(*)\n0\n", out.String())

	feed(t, s, ".ddl off", "insert into t values (1);", "create table u(i);")
	assert.False(t, inTransaction(t, conn), "DDL commits the open transaction")
}

func TestShell_Quit(t *testing.T) {
	s, _, _ := newTestShell(t)

	assert.ErrorIs(t, s.Feed(context.Background(), ".quit"), errQuit)
	assert.NoError(t, s.Feed(context.Background(), "select"))
	assert.NoError(t, s.Feed(context.Background(), ".quit"), "meta-commands are SQL while a statement is pending")
}

type fakeReader struct {
	lines   []string
	errs    []error
	prompts []string
}

func (r *fakeReader) Readline() (string, error) {
	if len(r.lines) == 0 {
		return "", io.EOF
	}
	line, err := r.lines[0], r.errs[0]
	r.lines, r.errs = r.lines[1:], r.errs[1:]
	return line, err
}

func (r *fakeReader) SetPrompt(p string) {
	r.prompts = append(r.prompts, p)
}

func TestShell_Run(t *testing.T) {
	s, conn, out := newTestShell(t)

	r := &fakeReader{
		lines: []string{"create table t(i);", "insert into t", "", "insert into t values (7);", ".commit", "select 1;"},
		errs:  []error{nil, nil, readline.ErrInterrupt, nil, nil, nil},
	}
	require.NoError(t, s.Run(context.Background(), r))

	assert.Equal(t, []string{promptMain, promptMain, promptContinue, promptMain, promptMain, promptMain, promptMain}, r.prompts)
	assert.Contains(t, out.String(), "1 row(s) affected")
	assert.False(t, inTransaction(t, conn))
}

func TestShell_RunInterruptExits(t *testing.T) {
	s, _, _ := newTestShell(t)

	r := &fakeReader{
		lines: []string{"", "select 1;"},
		errs:  []error{readline.ErrInterrupt, nil},
	}
	require.NoError(t, s.Run(context.Background(), r))
	assert.Len(t, r.lines, 1, "Ctrl-C with nothing pending leaves the shell")
}
