package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"txlite/internal/platform/sqlite"
	"txlite/pkg/txn"
)

// Config holds application configuration values.
// Every option can be set by flag or by environment variable; flags win.
type Config struct {
	Env string `long:"env" env:"ENV" default:"prod" description:"environment (dev or prod)" validate:"required,oneof=dev prod"`

	DB struct {
		Path             string        `short:"d" long:"db" env:"TXLITE_DB" default:"data/txlite.db" description:"database file" validate:"required"`
		Isolation        string        `short:"i" long:"isolation" env:"TXLITE_ISOLATION" default:"deferred" description:"implicit BEGIN mode: deferred, immediate, exclusive or none" validate:"isolation"`
		BusyTimeout      time.Duration `short:"t" long:"busy-timeout" env:"TXLITE_BUSY_TIMEOUT" default:"5s" description:"how long to wait for a lock" validate:"gte=0"`
		NoWAL            bool          `long:"no-wal" env:"TXLITE_NO_WAL" description:"keep the rollback journal instead of WAL"`
		TransactionalDDL bool          `long:"transactional-ddl" env:"TXLITE_TRANSACTIONAL_DDL" description:"run DDL and PRAGMA inside the open transaction"`
		Migrations       string        `long:"migrations" env:"TXLITE_MIGRATIONS" description:"directory with migrations to apply on start"`
	} `group:"Database Options"`

	Maintenance struct {
		Cron string `long:"maintenance-cron" env:"TXLITE_MAINTENANCE_CRON" description:"cron schedule for PRAGMA optimize and WAL checkpoints" validate:"omitempty,cron"`
	} `group:"Maintenance Options"`

	Log struct {
		ConsoleLevel string `long:"log-console-level" env:"LOG_CONSOLE_LEVEL" default:"warn" description:"console log level" validate:"required,oneof=debug info warn error"`
		FileLevel    string `long:"log-file-level" env:"LOG_FILE_LEVEL" default:"debug" description:"file log level" validate:"required,oneof=debug info warn error"`
		File         string `long:"log-file" env:"LOG_FILE" description:"log file, rotated"`
	} `group:"Logging Options"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("isolation", func(fl validator.FieldLevel) bool {
		_, err := txn.ParseIsolationLevel(fl.Field().String())
		return err == nil
	})
	_ = v.RegisterValidation("cron", func(fl validator.FieldLevel) bool {
		_, err := cron.ParseStandard(fl.Field().String())
		return err == nil
	})
	return v
}

// Load reads configuration from an optional .env file, environment variables and args.
// It returns the positional arguments left after flags.
// A help request is returned as *flags.Error with type flags.ErrHelp.
func Load(args []string) (Config, []string, error) {
	_ = godotenv.Load()

	var c Config
	p := flags.NewParser(&c, flags.PassDoubleDash|flags.HelpFlag)
	rest, err := p.ParseArgs(args)
	if err != nil {
		return Config{}, nil, err
	}

	c.DB.Isolation = strings.ToLower(strings.TrimSpace(c.DB.Isolation))
	c.Log.ConsoleLevel = strings.ToLower(c.Log.ConsoleLevel)
	c.Log.FileLevel = strings.ToLower(c.Log.FileLevel)

	if err := validate.Struct(c); err != nil {
		return Config{}, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if c.DB.Migrations != "" && c.DB.Path == sqlite.MemoryPath {
		return Config{}, nil, errors.New("TXLITE_MIGRATIONS requires a database file, not :memory:")
	}
	return c, rest, nil
}

// IsHelp reports whether err is a help request from Load.
func IsHelp(err error) bool {
	var ferr *flags.Error
	return errors.As(err, &ferr) && ferr.Type == flags.ErrHelp
}

// IsolationLevel returns the parsed isolation level.
func (c Config) IsolationLevel() txn.IsolationLevel {
	level, _ := txn.ParseIsolationLevel(c.DB.Isolation)
	return level
}

// EngineOptions returns SQLite connection options for the configuration.
func (c Config) EngineOptions() sqlite.Options {
	opts := sqlite.DefaultOptions()
	opts.WALMode = !c.DB.NoWAL
	opts.BusyTimeout = c.DB.BusyTimeout
	return opts
}

// ConnOptions returns the options for txn.Open.
func (c Config) ConnOptions(log *slog.Logger) []txn.Option {
	opts := []txn.Option{
		txn.WithEngineOptions(c.EngineOptions()),
		txn.WithIsolationLevel(c.IsolationLevel()),
		txn.WithBusyTimeout(c.DB.BusyTimeout),
		txn.WithLogger(log),
	}
	if c.DB.TransactionalDDL {
		opts = append(opts, txn.WithNeedsTransaction(txn.TransactionalDDL))
	}
	return opts
}
