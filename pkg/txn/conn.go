package txn

import (
	"context"
	"log/slog"
	"time"

	"github.com/hashicorp/go-multierror"

	"txlite/internal/platform/sqlite"
	"txlite/internal/shared"
)

type options struct {
	level       IsolationLevel
	busyTimeout time.Duration
	needsTx     NeedsTransactionFunc
	logger      *slog.Logger
	engine      sqlite.Options
}

// Option configures a Conn.
type Option func(*options)

// WithIsolationLevel sets the mode of the implicit BEGIN. Autocommit disables management.
func WithIsolationLevel(level IsolationLevel) Option {
	return func(o *options) { o.level = level }
}

// WithBusyTimeout sets how long a statement waits for a lock held elsewhere.
func WithBusyTimeout(d time.Duration) Option {
	return func(o *options) { o.busyTimeout = d }
}

// WithNeedsTransaction sets the policy for Other statements inside a transaction.
func WithNeedsTransaction(fn NeedsTransactionFunc) Option {
	return func(o *options) { o.needsTx = fn }
}

// WithLogger sets the logger for implicit transaction steps.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithEngineOptions sets the SQLite connection options used by Open.
// Their BusyTimeout is replaced by WithBusyTimeout.
func WithEngineOptions(engineOpts sqlite.Options) Option {
	return func(o *options) { o.engine = engineOpts }
}

func defaultOptions() options {
	return options{
		level:       Deferred,
		busyTimeout: 5 * time.Second,
		needsTx:     DefaultNeedsTransaction,
		engine:      sqlite.DefaultOptions(),
	}
}

func buildOptions(opts []Option) (options, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if !o.level.Valid() {
		return o, shared.Programmingf("unknown isolation level %q", string(o.level))
	}
	if o.busyTimeout < 0 {
		return o, shared.Programmingf("busy timeout must not be negative, got %s", o.busyTimeout)
	}
	if o.needsTx == nil {
		o.needsTx = DefaultNeedsTransaction
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o, nil
}

// Conn is a database connection that opens and commits transactions on the
// application's behalf. A Conn must not be used from several goroutines at once.
type Conn struct {
	engine   Engine
	machine  *machine
	registry *registry
	log      *slog.Logger

	epoch        uint64
	busyTimeout  time.Duration
	nextCursorID uint64
	closed       bool
}

// Open opens a SQLite database file and returns a managed connection to it.
func Open(ctx context.Context, path string, opts ...Option) (*Conn, error) {
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}

	engineOpts := o.engine
	engineOpts.BusyTimeout = o.busyTimeout
	engine, err := sqlite.OpenWithOptions(ctx, path, engineOpts)
	if err != nil {
		return nil, shared.Wrapf(err, "failed to open %s", path)
	}
	return newConn(sqliteEngine{engine}, o), nil
}

// New wraps an already open engine. The busy timeout option is applied to it.
func New(ctx context.Context, engine Engine, opts ...Option) (*Conn, error) {
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	if err := engine.SetBusyTimeout(ctx, o.busyTimeout); err != nil {
		return nil, shared.Wrap(err, "failed to set busy timeout")
	}
	return newConn(engine, o), nil
}

func newConn(engine Engine, o options) *Conn {
	c := &Conn{
		engine:      engine,
		registry:    newRegistry(),
		log:         o.logger,
		busyTimeout: o.busyTimeout,
	}
	c.machine = &machine{
		engine:  engine,
		level:   o.level,
		needsTx: o.needsTx,
		log:     o.logger,
		ended:   c.endEpoch,
	}
	return c
}

// Cursor returns a new cursor bound to the connection.
func (c *Conn) Cursor() *Cursor {
	c.nextCursorID++
	return &Cursor{conn: c, id: c.nextCursorID, rowsAffected: -1}
}

// Execute runs query on a new cursor and returns it.
func (c *Conn) Execute(ctx context.Context, query string, args ...any) (*Cursor, error) {
	return c.Cursor().Execute(ctx, query, args...)
}

// Commit commits the open transaction. It is a no-op when none is open,
// but cursors of the current epoch are reset either way.
func (c *Conn) Commit(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.machine.finish(ctx, "COMMIT")
}

// Rollback rolls back the open transaction. It is a no-op when none is open,
// but cursors of the current epoch are reset either way.
func (c *Conn) Rollback(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.machine.finish(ctx, "ROLLBACK")
}

// InTransaction reports whether the engine holds an open transaction.
func (c *Conn) InTransaction(ctx context.Context) (bool, error) {
	if err := c.checkOpen(); err != nil {
		return false, err
	}
	return c.engine.InTransaction(ctx)
}

// State returns the transaction state, read from the engine.
func (c *Conn) State(ctx context.Context) (TxState, error) {
	if err := c.checkOpen(); err != nil {
		return TxState{}, err
	}
	state, mode, err := c.machine.state(ctx)
	if err != nil {
		return TxState{}, err
	}
	return TxState{State: state, Mode: mode, Epoch: c.epoch}, nil
}

// IsolationLevel returns the mode used for implicit BEGIN.
func (c *Conn) IsolationLevel() IsolationLevel {
	return c.machine.level
}

// SetIsolationLevel changes the mode for the next implicit BEGIN.
// It neither commits the open transaction nor starts one.
func (c *Conn) SetIsolationLevel(level IsolationLevel) error {
	if !level.Valid() {
		return shared.Programmingf("unknown isolation level %q", string(level))
	}
	c.machine.level = level
	return nil
}

// BusyTimeout returns how long statements wait for a lock.
func (c *Conn) BusyTimeout() time.Duration {
	return c.busyTimeout
}

// SetBusyTimeout changes how long statements wait for a lock. Zero fails immediately.
func (c *Conn) SetBusyTimeout(ctx context.Context, d time.Duration) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	if d < 0 {
		return shared.Programmingf("busy timeout must not be negative, got %s", d)
	}
	if err := c.engine.SetBusyTimeout(ctx, d); err != nil {
		return err
	}
	c.busyTimeout = d
	return nil
}

// NeedsTransaction returns the policy for Other statements.
func (c *Conn) NeedsTransaction() NeedsTransactionFunc {
	return c.machine.needsTx
}

// SetNeedsTransaction replaces the policy for Other statements. Nil restores the default.
func (c *Conn) SetNeedsTransaction(fn NeedsTransactionFunc) {
	if fn == nil {
		fn = DefaultNeedsTransaction
	}
	c.machine.needsTx = fn
}

// Epoch returns the number of transactions ended on this connection so far.
func (c *Conn) Epoch() uint64 {
	return c.epoch
}

// Close closes all cursors and the engine. An open transaction is rolled back by the engine.
func (c *Conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true

	var result *multierror.Error
	if err := c.registry.closeAll(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := c.engine.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// endEpoch resets the cursors of the current epoch and starts a new one.
func (c *Conn) endEpoch() {
	if n := c.registry.invalidateEpoch(c.epoch); n > 0 {
		c.log.Debug("cursors reset", "epoch", c.epoch, "count", n)
	}
	c.epoch++
}

func (c *Conn) checkOpen() error {
	if c.closed {
		return shared.Interfacef("connection is closed")
	}
	return nil
}
