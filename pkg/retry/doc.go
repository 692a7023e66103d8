// Package retry runs an operation again with exponential backoff and jitter
// while it keeps failing with a retryable error.
//
// It is used for SQLite busy errors that survived the engine's own busy
// timeout, for example by txn.RetryBusy and the maintenance scheduler.
//
// Basic usage:
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) error {
//	    return checkpoint(ctx)
//	}, txn.IsBusy)
//
// Observability:
//
//	cfg := retry.DefaultConfig()
//	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
//	    logger.Warn("retrying", "attempt", attempt, "delay", delay, "error", err)
//	}
//
// When every attempt fails, Do returns *RetriesExceededError wrapping the last error,
// so errors.Is still matches the original cause.
package retry
