// Package txn manages the transaction lifecycle of a SQLite connection.
//
// For every statement the connection decides whether to open a transaction,
// commit the open one, or leave things alone, based on the leading keyword:
//
//	BEGIN, COMMIT, END, ROLLBACK,     transaction control: forwarded as is
//	SAVEPOINT, RELEASE
//	INSERT, UPDATE, DELETE, REPLACE   DML: opens a transaction if none is open
//	everything else                   Other: commits the open transaction first,
//	                                  unless the NeedsTransaction policy says otherwise
//
// Whether a transaction is open is always read from the engine, so explicit
// BEGIN/COMMIT statements and the implicit ones stay consistent.
//
// # Usage
//
//	conn, err := txn.Open(ctx, "app.db", txn.WithIsolationLevel(txn.Immediate))
//	if err != nil {
//		return err
//	}
//	defer conn.Close()
//
//	if _, err := conn.Execute(ctx, "INSERT INTO items (name) VALUES (?)", "a"); err != nil {
//		return err
//	}
//	// the INSERT opened a transaction
//	return conn.Commit(ctx)
//
// # Cursors
//
// Cursors that are still iterating a result set when their transaction ends
// are reset: fetching from them fails with ErrInterface until they execute again.
//
// # Locking
//
// A statement blocked by another connection waits up to the busy timeout and
// then fails with ErrBusy. The connection never retries on its own; RetryBusy
// does it with a rollback between attempts.
//
// # Autocommit
//
// With the Autocommit isolation level statements are forwarded untouched and
// transactions only exist where the application writes BEGIN itself.
package txn
