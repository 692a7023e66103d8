package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite драйвер
)

// TxLockMode определяет режим блокировки, с которым открывается транзакция (BEGIN <mode>)
type TxLockMode string

const (
	// TxLockDeferred - откладывает блокировку до первого чтения/записи (по умолчанию SQLite)
	TxLockDeferred TxLockMode = "DEFERRED"
	// TxLockImmediate - немедленно захватывает RESERVED блокировку
	TxLockImmediate TxLockMode = "IMMEDIATE"
	// TxLockExclusive - немедленно захватывает EXCLUSIVE блокировку
	TxLockExclusive TxLockMode = "EXCLUSIVE"
)

// AccessMode определяет режим доступа к SQLite базе данных
type AccessMode string

const (
	// AccessModeReadWrite - режим чтения и записи (по умолчанию)
	AccessModeReadWrite AccessMode = "rw"
	// AccessModeReadOnly - режим только для чтения
	AccessModeReadOnly AccessMode = "ro"
	// AccessModeReadWriteCreate - режим чтения/записи с созданием файла если не существует
	AccessModeReadWriteCreate AccessMode = "rwc"
)

// MemoryPath - путь для in-memory базы данных
const MemoryPath = ":memory:"

// Options содержит настройки одного соединения с SQLite.
type Options struct {
	// PingTimeout - таймаут для проверки соединения при открытии
	PingTimeout time.Duration
	// WALMode - использовать ли WAL режим журнала
	WALMode bool
	// ForeignKeys - включить ли проверку внешних ключей
	ForeignKeys bool
	// Synchronous - значение PRAGMA synchronous (пусто - не менять)
	Synchronous string
	// BusyTimeout - сколько движок повторяет попытки при SQLITE_BUSY (0 - ошибка сразу)
	BusyTimeout time.Duration
	// AccessMode - режим доступа к базе данных
	AccessMode AccessMode
}

// DefaultOptions возвращает настройки по умолчанию, оптимизированные для embedded использования.
func DefaultOptions() Options {
	return Options{
		PingTimeout: 5 * time.Second,
		WALMode:     true,
		ForeignKeys: true,
		Synchronous: "NORMAL",
		BusyTimeout: 5 * time.Second,
		AccessMode:  AccessModeReadWrite,
	}
}

// openConn открывает пул из одного соединения и закрепляет это соединение.
// Транзакция SQLite живёт на уровне соединения, поэтому все операторы
// одного Engine обязаны идти через один и тот же *sql.Conn.
func openConn(ctx context.Context, dbPath string, opts Options) (*sql.DB, *sql.Conn, error) {
	// Создаем директорию для БД если её нет
	if dbPath != MemoryPath && !strings.HasPrefix(dbPath, "file:") {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
			}
		}
	}

	db, err := sql.Open("sqlite", buildDSN(dbPath, opts))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// Одно соединение: его состояние транзакции и есть состояние Engine
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pingTimeout := opts.PingTimeout
	if pingTimeout <= 0 {
		pingTimeout = DefaultOptions().PingTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	conn, err := db.Conn(pingCtx)
	if err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to acquire sqlite connection: %w", err)
	}
	if err := conn.PingContext(pingCtx); err != nil {
		_ = conn.Close()
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	// Применяем PRAGMA настройки к закреплённому соединению
	if err := applyPragmaSettings(ctx, conn, dbPath, opts); err != nil {
		_ = conn.Close()
		_ = db.Close()
		return nil, nil, fmt.Errorf("failed to apply PRAGMA settings: %w", err)
	}

	return db, conn, nil
}

// buildDSN строит DSN строку для modernc драйвера.
// busy_timeout передаётся через _pragma, чтобы драйвер применил его первым.
func buildDSN(dbPath string, opts Options) string {
	params := []string{}

	// Добавляем режим доступа только если он отличается от умолчания.
	// Драйвер передаёт mode в SQLite только для URI вида file:...
	if opts.AccessMode != "" && opts.AccessMode != AccessModeReadWrite {
		params = append(params, "mode="+string(opts.AccessMode))
		if !strings.HasPrefix(dbPath, "file:") {
			dbPath = "file:" + dbPath
		}
	}

	if opts.BusyTimeout > 0 {
		params = append(params, "_pragma="+url.QueryEscape(fmt.Sprintf("busy_timeout(%d)", opts.BusyTimeout.Milliseconds())))
	}

	if len(params) == 0 {
		return dbPath
	}
	if strings.Contains(dbPath, "?") {
		return dbPath + "&" + strings.Join(params, "&")
	}
	return dbPath + "?" + strings.Join(params, "&")
}

// applyPragmaSettings применяет PRAGMA настройки к открытому соединению.
func applyPragmaSettings(ctx context.Context, conn *sql.Conn, dbPath string, opts Options) error {
	pragmas := make([]string, 0, 4)

	if opts.ForeignKeys {
		pragmas = append(pragmas, "PRAGMA foreign_keys = ON")
	}

	// WAL не поддерживается для in-memory и read-only БД
	if opts.WALMode && dbPath != MemoryPath && opts.AccessMode != AccessModeReadOnly {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}

	if opts.Synchronous != "" {
		pragmas = append(pragmas, "PRAGMA synchronous = "+opts.Synchronous)
	}

	// busy_timeout всегда задаём явно: ноль означает "без ожидания"
	pragmas = append(pragmas, fmt.Sprintf("PRAGMA busy_timeout = %d", opts.BusyTimeout.Milliseconds()))

	for _, pragma := range pragmas {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	return nil
}
