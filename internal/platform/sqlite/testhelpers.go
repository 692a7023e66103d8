package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

// TestBusyTimeout - короткий busy timeout для тестов конкурентной записи
const TestBusyTimeout = 100 * time.Millisecond

// NewTestPath возвращает путь к файлу БД во временной директории теста.
// Директория автоматически удаляется после завершения теста.
func NewTestPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.sqlite")
}

// TestOptions возвращает настройки для тестов: WAL и короткий busy timeout.
func TestOptions() Options {
	opts := DefaultOptions()
	opts.BusyTimeout = TestBusyTimeout
	return opts
}

// NewTestEngine открывает Engine на указанном файле и закрывает его после теста.
func NewTestEngine(t *testing.T, dbPath string) *Engine {
	t.Helper()

	engine, err := OpenWithOptions(context.Background(), dbPath, TestOptions())
	if err != nil {
		t.Fatalf("Failed to open test engine: %v", err)
	}
	t.Cleanup(func() {
		_ = engine.Close()
	})
	return engine
}

// NewTestEnginePair открывает два независимых соединения с одним файлом БД.
// Удобно для проверки изоляции и блокировок между соединениями.
func NewTestEnginePair(t *testing.T) (*Engine, *Engine) {
	t.Helper()

	path := NewTestPath(t)
	return NewTestEngine(t, path), NewTestEngine(t, path)
}

// MustExec выполняет оператор и падает при ошибке.
func (e *Engine) MustExec(t *testing.T, query string, args ...any) {
	t.Helper()

	if _, err := e.Exec(context.Background(), query, args...); err != nil {
		t.Fatalf("Failed to execute %q: %v", query, err)
	}
}

// CountRows возвращает количество строк в таблице, видимых этому соединению.
func (e *Engine) CountRows(t *testing.T, tableName string) int {
	t.Helper()

	rows, err := e.Query(context.Background(), "SELECT COUNT(*) FROM "+tableName)
	if err != nil {
		t.Fatalf("Failed to count rows in table %s: %v", tableName, err)
	}
	defer rows.Close()

	var count int
	if !rows.Next() {
		t.Fatalf("Failed to count rows in table %s: no result", tableName)
	}
	if err := rows.Scan(&count); err != nil {
		t.Fatalf("Failed to count rows in table %s: %v", tableName, err)
	}
	return count
}

// TableExists проверяет существование таблицы.
func (e *Engine) TableExists(t *testing.T, tableName string) bool {
	t.Helper()

	rows, err := e.Query(context.Background(), "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", tableName)
	if err != nil {
		t.Fatalf("Failed to check table existence: %v", err)
	}
	defer rows.Close()

	var count int
	if rows.Next() {
		if err := rows.Scan(&count); err != nil {
			t.Fatalf("Failed to check table existence: %v", err)
		}
	}
	return count > 0
}
