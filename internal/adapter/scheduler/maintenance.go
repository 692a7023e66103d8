package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"txlite/pkg/retry"
	"txlite/pkg/txn"
)

const (
	// OptimizeJob - имя задачи PRAGMA optimize.
	OptimizeJob = "sqlite-optimize"
	// CheckpointJob - имя задачи WAL checkpoint.
	CheckpointJob = "sqlite-wal-checkpoint"

	defaultJobTimeout = time.Minute
)

// CheckpointResult - строка, возвращаемая PRAGMA wal_checkpoint.
type CheckpointResult struct {
	Busy         bool
	LogFrames    int64
	Checkpointed int64
}

// Maintenance выполняет операторы обслуживания БД на собственном соединении.
// Соединение не разделяется с пользовательскими курсорами, поэтому обслуживание
// не завершает чужие транзакции.
type Maintenance struct {
	mu      sync.Mutex
	conn    *txn.Conn
	retry   retry.Config
	timeout time.Duration
	log     *slog.Logger
}

// NewMaintenance создает обслуживание поверх conn. Нулевой cfg заменяется retry.DefaultConfig().
func NewMaintenance(conn *txn.Conn, cfg retry.Config, log *slog.Logger) *Maintenance {
	if cfg.MaxAttempts == 0 {
		cfg = retry.DefaultConfig()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Maintenance{
		conn:    conn,
		retry:   cfg,
		timeout: defaultJobTimeout,
		log:     log.With("component", "maintenance"),
	}
}

// Register добавляет задачи обслуживания в планировщик с общим расписанием.
func (m *Maintenance) Register(s *Scheduler, schedule string) error {
	jobs := []struct {
		name string
		fn   JobFunc
	}{
		{OptimizeJob, m.Optimize},
		{CheckpointJob, func(ctx context.Context) error {
			_, err := m.Checkpoint(ctx)
			return err
		}},
	}

	for _, j := range jobs {
		if _, err := s.Add(schedule, j.fn, JobOptions{
			Name:          j.name,
			Timeout:       m.timeout,
			OverlapPolicy: SkipIfRunning,
		}); err != nil {
			return err
		}
	}
	return nil
}

// Optimize выполняет PRAGMA optimize.
func (m *Maintenance) Optimize(ctx context.Context) error {
	return m.withConn(ctx, func(ctx context.Context) error {
		cur, err := m.conn.Execute(ctx, "PRAGMA optimize")
		if err != nil {
			return err
		}
		return cur.Close()
	})
}

// Checkpoint переносит WAL в основной файл и усекает журнал.
// Если checkpoint не завершился из-за читателей, возвращается ошибка txn.ErrBusy.
func (m *Maintenance) Checkpoint(ctx context.Context) (CheckpointResult, error) {
	var res CheckpointResult
	err := m.withConn(ctx, func(ctx context.Context) error {
		cur, err := m.conn.Execute(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
		if err != nil {
			return err
		}
		defer func() { _ = cur.Close() }()

		row, err := cur.FetchOne()
		if err != nil {
			return err
		}
		if len(row) < 3 {
			return fmt.Errorf("%w: unexpected wal_checkpoint result %v", txn.ErrOperational, row)
		}

		res = CheckpointResult{
			Busy:         toInt64(row[0]) != 0,
			LogFrames:    toInt64(row[1]),
			Checkpointed: toInt64(row[2]),
		}
		if res.Busy {
			return fmt.Errorf("%w: wal checkpoint blocked by readers", txn.ErrBusy)
		}
		return nil
	})
	if err == nil {
		m.log.Debug("wal checkpoint", "log_frames", res.LogFrames, "checkpointed", res.Checkpointed)
	}
	return res, err
}

// Close закрывает соединение обслуживания.
func (m *Maintenance) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn.Close()
}

func (m *Maintenance) withConn(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return txn.RetryBusy(ctx, m.conn, m.retry, fn)
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
