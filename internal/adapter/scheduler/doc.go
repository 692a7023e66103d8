// Package scheduler запускает фоновое обслуживание базы данных по cron-расписанию.
//
// Scheduler - обёртка над github.com/robfig/cron/v3:
//   - политики перекрытий (SkipIfRunning по умолчанию, DelayIfRunning, AllowOverlap)
//   - таймаут и имя для каждой задачи
//   - восстановление после паники и логирование через slog
//   - хуки для наблюдаемости
//   - остановка по контексту или с дедлайном (StopContext)
//
// Maintenance регистрирует две задачи: PRAGMA optimize и
// PRAGMA wal_checkpoint(TRUNCATE). Обе выполняются на отдельном txn.Conn
// и повторяются при SQLITE_BUSY через txn.RetryBusy.
//
//	s := scheduler.New(ctx, scheduler.Config{Logger: log})
//	m := scheduler.NewMaintenance(conn, retry.DefaultConfig(), log)
//	if err := m.Register(s, "*/15 * * * *"); err != nil {
//		return err
//	}
//	s.Start()
//	defer s.Stop()
package scheduler
