package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// JobFunc - функция задачи планировщика.
type JobFunc func(ctx context.Context) error

// JobID - идентификатор задачи.
type JobID = cron.EntryID

// OverlapPolicy определяет, что делать, если предыдущий запуск задачи ещё не завершён.
type OverlapPolicy int

const (
	// SkipIfRunning пропускает запуск (по умолчанию: обслуживание БД не должно копиться).
	SkipIfRunning OverlapPolicy = iota
	// DelayIfRunning ждёт завершения предыдущего запуска.
	DelayIfRunning
	// AllowOverlap разрешает параллельные запуски.
	AllowOverlap
)

func (p OverlapPolicy) String() string {
	switch p {
	case SkipIfRunning:
		return "skip"
	case DelayIfRunning:
		return "delay"
	case AllowOverlap:
		return "allow"
	default:
		return fmt.Sprintf("OverlapPolicy(%d)", int(p))
	}
}

// JobOptions содержит опции задачи.
type JobOptions struct {
	Name          string
	Timeout       time.Duration
	OverlapPolicy OverlapPolicy
}

// JobHooks - необязательные хуки для наблюдаемости.
type JobHooks struct {
	OnJobStart  func(name string)
	OnJobFinish func(name string, duration time.Duration, err error)
	OnJobSkip   func(name string)
}

// Config содержит конфигурацию планировщика.
type Config struct {
	Logger   *slog.Logger
	JobHooks JobHooks
}

type job struct {
	fn      JobFunc
	opts    JobOptions
	running sync.Mutex
}

// cronLogger направляет сообщения cron в slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append([]any{slog.Any("error", err)}, keysAndValues...)...)
}

// Scheduler запускает задачи по cron-расписанию.
// Расписания в стандартном пятипольном формате и дескрипторы (@hourly, @every 10m).
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
	hooks  JobHooks
	ctx    context.Context
	cancel context.CancelFunc

	startOnce sync.Once
	stopOnce  sync.Once
}

// New создает планировщик, живущий до отмены parent или вызова Stop.
func New(parent context.Context, cfg Config) *Scheduler {
	ctx, cancel := context.WithCancel(parent)

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "scheduler")

	return &Scheduler{
		cron:   cron.New(cron.WithLogger(cronLogger{logger: logger})),
		logger: logger,
		hooks:  cfg.JobHooks,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add регистрирует задачу с указанным расписанием.
func (s *Scheduler) Add(schedule string, fn JobFunc, opts JobOptions) (JobID, error) {
	if opts.Name == "" {
		opts.Name = "unnamed"
	}
	j := &job{fn: fn, opts: opts}

	id, err := s.cron.AddFunc(schedule, func() { s.run(j) })
	if err != nil {
		return 0, fmt.Errorf("failed to add job %s with schedule %q: %w", opts.Name, schedule, err)
	}

	s.logger.Info("job added", "name", opts.Name, "schedule", schedule, "overlap", opts.OverlapPolicy, "id", id)
	return id, nil
}

// Remove удаляет задачу по ID.
func (s *Scheduler) Remove(id JobID) {
	s.cron.Remove(id)
	s.logger.Info("job removed", "id", id)
}

// Len возвращает количество зарегистрированных задач.
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Start запускает планировщик. Повторный вызов ничего не делает.
func (s *Scheduler) Start() {
	s.startOnce.Do(func() {
		s.logger.Info("starting scheduler")
		s.cron.Start()

		go func() {
			<-s.ctx.Done()
			s.stopOnce.Do(s.stop)
		}()
	})
}

// Stop останавливает планировщик и ждёт завершения запущенных задач.
func (s *Scheduler) Stop() {
	s.cancel()
	s.stopOnce.Do(s.stop)
}

// StopContext останавливает планировщик, ожидая задачи не дольше дедлайна ctx.
// Остановка завершается в любом случае; при истечении дедлайна возвращается ctx.Err().
func (s *Scheduler) StopContext(ctx context.Context) error {
	s.cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.stopOnce.Do(s.stop)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.logger.Warn("scheduler stop deadline exceeded, waiting for running jobs")
		<-done
		return ctx.Err()
	}
}

func (s *Scheduler) stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
}

// IsRunning возвращает true, пока планировщик не остановлен.
func (s *Scheduler) IsRunning() bool {
	return s.ctx.Err() == nil
}

// RunNow выполняет задачу немедленно, соблюдая политику перекрытий.
// Возвращает false, если запуск был пропущен.
func (s *Scheduler) RunNow(fn JobFunc, opts JobOptions) bool {
	if opts.Name == "" {
		opts.Name = "unnamed"
	}
	return s.run(&job{fn: fn, opts: opts})
}

func (s *Scheduler) run(j *job) (ran bool) {
	name := j.opts.Name

	switch j.opts.OverlapPolicy {
	case SkipIfRunning:
		if !j.running.TryLock() {
			s.logger.Debug("skipping job, previous run is still active", "name", name)
			if s.hooks.OnJobSkip != nil {
				s.hooks.OnJobSkip(name)
			}
			return false
		}
		defer j.running.Unlock()
	case DelayIfRunning:
		j.running.Lock()
		defer j.running.Unlock()
	}

	if s.ctx.Err() != nil {
		return false
	}

	if s.hooks.OnJobStart != nil {
		s.hooks.OnJobStart(name)
	}

	ctx := s.ctx
	if j.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.opts.Timeout)
		defer cancel()
	}

	start := time.Now()
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		err = j.fn(ctx)
	}()
	duration := time.Since(start)

	if s.hooks.OnJobFinish != nil {
		s.hooks.OnJobFinish(name, duration, err)
	}
	if err != nil {
		s.logger.Error("job failed", "name", name, "error", err, "duration", duration)
	} else {
		s.logger.Debug("job completed", "name", name, "duration", duration)
	}
	return true
}
