package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/hashicorp/go-multierror"

	"txlite/internal/adapter/scheduler"
	"txlite/internal/config"
	"txlite/internal/platform/logger"
	"txlite/internal/platform/sqlite"
	"txlite/pkg/retry"
	"txlite/pkg/txn"
)

// App wires application components.
type App struct {
	cfg   config.Config
	log   *slog.Logger
	files []string
	in    io.Reader
	out   io.Writer
}

// New loads configuration from args and creates the logger.
// Positional arguments are SQL files executed instead of the interactive shell.
func New(args []string) (*App, error) {
	cfg, files, err := config.Load(args)
	if err != nil {
		return nil, err
	}
	log := logger.New(logger.Options{
		Env:          cfg.Env,
		ConsoleLevel: cfg.Log.ConsoleLevel,
		FileLevel:    cfg.Log.FileLevel,
		File:         cfg.Log.File,
		App:          "txshell",
	})
	return &App{cfg: cfg, log: log, files: files, in: os.Stdin, out: os.Stdout}, nil
}

// Run applies migrations, opens the database and serves the shell until
// input ends or a signal arrives.
func (a *App) Run() (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer func() {
		if cerr := logger.Close(a.log); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()

	a.log.Info("starting", "db", a.cfg.DB.Path, "isolation", a.cfg.IsolationLevel())

	if err := a.migrate(); err != nil {
		return err
	}

	conn, err := txn.Open(ctx, a.cfg.DB.Path, a.cfg.ConnOptions(a.log)...)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	var errs *multierror.Error
	defer func() {
		errs = multierror.Append(errs, conn.Close())
		err = errors.Join(err, errs.ErrorOrNil())
	}()

	if a.cfg.Maintenance.Cron != "" {
		sched, m, err := a.startMaintenance(ctx)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			errs = multierror.Append(errs, sched.StopContext(shutdownCtx), m.Close())
		}()
	}

	shell := NewShell(conn, a.out, a.log)
	if len(a.files) > 0 {
		return a.runFiles(ctx, shell)
	}
	return a.runInteractive(ctx, shell)
}

func (a *App) migrate() error {
	if a.cfg.DB.Migrations == "" {
		return nil
	}
	version, err := sqlite.ApplyMigrations(a.cfg.DB.Path, a.cfg.DB.Migrations)
	if err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	a.log.Info("migrations applied", "version", version)
	return nil
}

// startMaintenance opens a separate autocommit connection for maintenance
// statements so they never end a transaction of the shell.
func (a *App) startMaintenance(ctx context.Context) (*scheduler.Scheduler, *scheduler.Maintenance, error) {
	opts := append(a.cfg.ConnOptions(a.log), txn.WithIsolationLevel(txn.Autocommit))
	conn, err := txn.Open(ctx, a.cfg.DB.Path, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open maintenance connection: %w", err)
	}

	m := scheduler.NewMaintenance(conn, retry.DefaultConfig(), a.log)
	s := scheduler.New(ctx, scheduler.Config{Logger: a.log})
	if err := m.Register(s, a.cfg.Maintenance.Cron); err != nil {
		return nil, nil, errors.Join(err, m.Close())
	}
	s.Start()
	return s, m, nil
}

func (a *App) runInteractive(ctx context.Context, shell *Shell) error {
	cfg := &readline.Config{
		Prompt:            promptMain,
		InterruptPrompt:   "^C",
		EOFPrompt:         "^D",
		HistorySearchFold: true,
		Stdout:            a.out,
	}
	if home, err := os.UserHomeDir(); err == nil {
		cfg.HistoryFile = filepath.Join(home, ".txlite_history")
	}
	if f, ok := a.in.(*os.File); !ok || !readline.IsTerminal(int(f.Fd())) {
		cfg.Stdin = io.NopCloser(a.in)
		cfg.HistoryFile = ""
		cfg.FuncIsTerminal = func() bool { return false }
	}

	rl, err := readline.NewEx(cfg)
	if err != nil {
		return fmt.Errorf("failed to start readline: %w", err)
	}
	defer func() { _ = rl.Close() }()

	return shell.Run(ctx, rl)
}

func (a *App) runFiles(ctx context.Context, shell *Shell) error {
	for _, name := range a.files {
		data, err := os.ReadFile(name)
		if err != nil {
			return err
		}
		for line := range strings.Lines(string(data)) {
			if err := shell.Feed(ctx, strings.TrimRight(line, "\r\n")); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				return err
			}
		}
		if shell.Pending() {
			a.log.Warn("unterminated statement at end of file", "file", name)
		}
	}
	return nil
}
