package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"txlite/internal/shared"
)

// Engine - тонкий адаптер над одним соединением SQLite.
// Выполняет операторы, сообщает реальное состояние транзакции и управляет busy timeout.
// Engine не потокобезопасен для конкурентного использования: один владелец на соединение.
type Engine struct {
	db   *sql.DB
	conn *sql.Conn
	path string

	busyTimeout time.Duration
	closeOnce   sync.Once
	closeErr    error
}

// Open открывает Engine с настройками по умолчанию.
func Open(ctx context.Context, dbPath string) (*Engine, error) {
	return OpenWithOptions(ctx, dbPath, DefaultOptions())
}

// OpenWithOptions открывает Engine с заданными параметрами.
func OpenWithOptions(ctx context.Context, dbPath string, opts Options) (*Engine, error) {
	db, conn, err := openConn(ctx, dbPath, opts)
	if err != nil {
		return nil, classifyError(err)
	}
	return &Engine{db: db, conn: conn, path: dbPath, busyTimeout: opts.BusyTimeout}, nil
}

// Path возвращает путь к базе данных.
func (e *Engine) Path() string {
	return e.path
}

// Exec выполняет оператор, не возвращающий строк.
func (e *Engine) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := e.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, classifyError(err)
	}
	return res, nil
}

// Query выполняет оператор и возвращает курсор движка.
// Ошибки первого шага (в том числе SQLITE_BUSY) возвращаются сразу.
func (e *Engine) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := e.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifyError(err)
	}
	return rows, nil
}

// InTransaction сообщает, открыта ли сейчас транзакция на соединении.
//
// modernc драйвер не отдаёт sqlite3_get_autocommit, поэтому состояние
// проверяется у самого движка: BEGIN внутри открытой транзакции отклоняется.
// Если BEGIN прошёл, пустая DEFERRED транзакция сразу коммитится - она не
// берёт блокировок и не меняет данных. Если COMMIT не прошёл (например, на
// соединении висит незавершённый пишущий оператор), проверочная транзакция
// откатывается: метод никогда не оставляет открытым свой BEGIN.
func (e *Engine) InTransaction(ctx context.Context) (bool, error) {
	if _, err := e.conn.ExecContext(ctx, "BEGIN"); err != nil {
		if isNestedTxError(err) {
			return true, nil
		}
		return false, classifyError(err)
	}
	if _, err := e.conn.ExecContext(ctx, "COMMIT"); err != nil {
		err = fmt.Errorf("failed to finish transaction check: %w", err)
		// context.WithoutCancel: откат нужен даже при отменённом ctx
		if _, rbErr := e.conn.ExecContext(context.WithoutCancel(ctx), "ROLLBACK"); rbErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to roll back transaction check: %w", rbErr))
		}
		return false, classifyError(err)
	}
	return false, nil
}

// BusyTimeout возвращает текущий busy timeout.
func (e *Engine) BusyTimeout() time.Duration {
	return e.busyTimeout
}

// SetBusyTimeout задаёт, сколько движок ждёт чужую блокировку перед SQLITE_BUSY.
// Ожидание с backoff выполняет встроенный busy handler SQLite.
func (e *Engine) SetBusyTimeout(ctx context.Context, d time.Duration) error {
	if d < 0 {
		return shared.Programmingf("busy timeout must not be negative, got %s", d)
	}
	if _, err := e.conn.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", d.Milliseconds())); err != nil {
		return classifyError(err)
	}
	e.busyTimeout = d
	return nil
}

// Close закрывает соединение. Открытая транзакция откатывается движком.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		connErr := e.conn.Close()
		dbErr := e.db.Close()
		e.closeErr = errors.Join(connErr, dbErr)
	})
	return e.closeErr
}

// classifyError размечает ошибки драйвера категориями из shared.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if IsBusyError(err) {
		return shared.MarkKind(err, shared.KindBusy)
	}
	return shared.MarkKind(err, shared.KindOperational)
}

// IsBusyError проверяет, является ли ошибка SQLITE_BUSY или SQLITE_LOCKED.
func IsBusyError(err error) bool {
	if err == nil {
		return false
	}

	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		// Расширенные коды (SQLITE_BUSY_SNAPSHOT и т.п.) хранят основной код в младшем байте
		switch sqliteErr.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
	}

	errStr := err.Error()
	return strings.Contains(errStr, "database is locked") ||
		strings.Contains(errStr, "SQLITE_BUSY") ||
		strings.Contains(errStr, "database table is locked")
}

// isNestedTxError проверяет ошибку "cannot start a transaction within a transaction".
func isNestedTxError(err error) bool {
	return strings.Contains(err.Error(), "within a transaction")
}
