// Package sqlite предоставляет движок SQLite для менеджера транзакций.
//
// Основные возможности:
// - Открытие одного закреплённого соединения с оптимизированными настройками
// - Проверка реального состояния транзакции у движка
// - Управление busy timeout во время работы
// - Классификация ошибок драйвера (busy / operational)
// - Система миграций с кроссплатформенной поддержкой
// - Режимы доступа (read-only, read-write-create)
// - Тестовые хелперы для удобного тестирования
//
// # Быстрый старт
//
//	ctx := context.Background()
//	engine, err := sqlite.Open(ctx, "app.db")
//	if err != nil {
//		return err
//	}
//	defer engine.Close()
//
// # Одно соединение
//
// Engine держит ровно одно соединение *sql.Conn. Пул database/sql мог бы
// выполнить BEGIN и COMMIT на разных соединениях, а состояние транзакции в
// SQLite принадлежит соединению. Поэтому пул ограничен одним соединением,
// и все операторы идут через него.
//
// # Состояние транзакции
//
// InTransaction спрашивает сам движок, а не кэширует флаг:
//
//	active, err := engine.InTransaction(ctx)
//
// Проверка не меняет данных и не оставляет блокировок.
//
// # Busy timeout
//
// Движок ждёт освобождения чужой блокировки до SQLITE_BUSY:
//
//	opts := sqlite.DefaultOptions()
//	opts.BusyTimeout = 2 * time.Second
//	engine, err := sqlite.OpenWithOptions(ctx, "app.db", opts)
//
//	// Или во время работы
//	err = engine.SetBusyTimeout(ctx, 500*time.Millisecond)
//
// # Режимы доступа
//
//	opts := sqlite.DefaultOptions()
//	opts.AccessMode = sqlite.AccessModeReadOnly
//
// # Миграции
//
//	version, err := sqlite.ApplyMigrations("app.db", "migrations")
//
// # Тестирование
//
//	func TestSomething(t *testing.T) {
//		first, second := sqlite.NewTestEnginePair(t)
//		first.MustExec(t, "CREATE TABLE test (i INTEGER)")
//		// Автоматическая очистка после теста
//	}
package sqlite
