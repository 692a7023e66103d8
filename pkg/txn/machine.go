package txn

import (
	"context"
	"log/slog"

	"txlite/internal/shared"
)

// State is the logical transaction state of a connection.
type State int

const (
	// StateNone means the engine has no open transaction.
	StateNone State = iota
	// StateActive means the engine has an open transaction.
	StateActive
)

// String returns NONE or ACTIVE.
func (s State) String() string {
	if s == StateActive {
		return "ACTIVE"
	}
	return "NONE"
}

// TxState describes the transaction a connection holds.
type TxState struct {
	State State
	// Mode is the level of the implicit BEGIN that opened the transaction.
	// It is empty when the transaction was opened by an explicit statement.
	Mode IsolationLevel
	// Epoch is the connection's current transaction epoch.
	Epoch uint64
}

// machine decides which implicit BEGIN or COMMIT a statement needs before it
// reaches the engine. It never caches whether a transaction is open.
type machine struct {
	engine  Engine
	level   IsolationLevel
	needsTx NeedsTransactionFunc
	log     *slog.Logger

	// beganWith is the mode of the implicit BEGIN of the open transaction.
	beganWith IsolationLevel
	// ended is called once a transaction is over, before any COMMIT or ROLLBACK is issued.
	ended func()
}

// execute runs the implicit transaction steps for query and then forward.
// An error from an implicit step is returned without calling forward.
func (m *machine) execute(ctx context.Context, query string, forward func(ctx context.Context) error) error {
	category := Classify(query)
	if category == TransactionControl {
		return m.forwardControl(ctx, query, forward)
	}
	if m.level == Autocommit {
		return forward(ctx)
	}

	active, err := m.engine.InTransaction(ctx)
	if err != nil {
		return shared.Wrapf(err, "failed to read transaction state before %s", Keyword(query))
	}

	switch category {
	case DataModifyingDML:
		if !active {
			m.log.DebugContext(ctx, "implicit begin", "mode", m.level.String(), "statement", Keyword(query))
			if _, err := m.engine.Exec(ctx, m.level.beginStatement()); err != nil {
				return shared.Wrapf(err, "implicit begin before %s", Keyword(query))
			}
			m.beganWith = m.level
		}
	case Other:
		if active && !m.needsTx(category, query) {
			m.log.DebugContext(ctx, "implicit commit", "statement", Keyword(query))
			m.ended()
			if _, err := m.engine.Exec(ctx, "COMMIT"); err != nil {
				return shared.Wrapf(err, "implicit commit before %s", Keyword(query))
			}
			m.beganWith = Autocommit
		}
	}
	return forward(ctx)
}

// forwardControl runs a transaction control statement unchanged and compares
// the engine state around it to notice a transaction that ended.
func (m *machine) forwardControl(ctx context.Context, query string, forward func(ctx context.Context) error) error {
	before, err := m.engine.InTransaction(ctx)
	if err != nil {
		return shared.Wrapf(err, "failed to read transaction state before %s", Keyword(query))
	}

	fwdErr := forward(ctx)

	after, err := m.engine.InTransaction(ctx)
	if err != nil {
		if fwdErr != nil {
			return fwdErr
		}
		return shared.Wrapf(err, "failed to read transaction state after %s", Keyword(query))
	}

	switch {
	case before && !after:
		m.ended()
		m.beganWith = Autocommit
	case !before && after:
		m.beganWith = Autocommit
	}
	return fwdErr
}

// finish ends the open transaction with COMMIT or ROLLBACK.
// Cursors of the current epoch are invalidated even when no transaction is open.
func (m *machine) finish(ctx context.Context, verb string) error {
	active, err := m.engine.InTransaction(ctx)
	if err != nil {
		return shared.Wrapf(err, "failed to read transaction state before %s", verb)
	}

	m.ended()
	if !active {
		m.beganWith = Autocommit
		return nil
	}

	if _, err := m.engine.Exec(ctx, verb); err != nil {
		return shared.Wrapf(err, "failed to %s", verb)
	}
	m.beganWith = Autocommit
	return nil
}

// state reads the transaction state from the engine.
func (m *machine) state(ctx context.Context) (State, IsolationLevel, error) {
	active, err := m.engine.InTransaction(ctx)
	if err != nil {
		return StateNone, Autocommit, err
	}
	if !active {
		m.beganWith = Autocommit
		return StateNone, Autocommit, nil
	}
	return StateActive, m.beganWith, nil
}
