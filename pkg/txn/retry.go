package txn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"txlite/pkg/retry"
)

// RetryBusy runs fn and runs it again while it fails with ErrBusy.
// The connection is rolled back after every busy failure, so each attempt
// starts without the locks and snapshot of the previous one.
func RetryBusy(ctx context.Context, conn *Conn, cfg retry.Config, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, cfg, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil || !IsBusy(err) {
			return err
		}
		if rbErr := conn.Rollback(ctx); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback after busy error: %w", rbErr))
		}
		return err
	}, IsBusy)
}

// WithinSavepoint runs fn inside a savepoint. The savepoint is rolled back
// when fn fails and released otherwise. Outside a transaction the release
// commits, as SQLite does for an outermost savepoint.
func WithinSavepoint(ctx context.Context, conn *Conn, fn func(ctx context.Context) error) error {
	name := fmt.Sprintf("sp_%d", time.Now().UnixNano())

	if _, err := conn.Execute(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("failed to create savepoint %s: %w", name, err)
	}

	if err := fn(ctx); err != nil {
		if _, rbErr := conn.Execute(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return fmt.Errorf("failed to rollback to savepoint %s: %v (original error: %w)", name, rbErr, err)
		}
		_, _ = conn.Execute(ctx, "RELEASE SAVEPOINT "+name)
		return err
	}

	if _, err := conn.Execute(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("failed to release savepoint %s: %w", name, err)
	}
	return nil
}
