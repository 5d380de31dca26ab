// Package retry runs storage operations with exponential backoff, retrying
// only errors that look transient.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/example/diff-finder/internal/logging"
)

// Policy bounds the retries of one operation.
type Policy struct {
	Attempts       int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultPolicy is used by the repository and the result cache.
func DefaultPolicy() Policy {
	return Policy{
		Attempts:       3,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     time.Second,
	}
}

// Do calls fn until it succeeds, returns a non-transient error, or the
// policy's attempts are used up. Failures are wrapped in a
// logging.OperationError.
func Do(ctx context.Context, p Policy, logger *zap.Logger, operation, sessionID string, fn func() error) error {
	if p.Attempts <= 1 {
		return logging.NewOperationError(operation, sessionID, fn())
	}

	opLogger := logging.WithOperation(logger, operation, sessionID)
	var b backoff.BackOff = &backoff.ExponentialBackOff{
		InitialInterval: p.InitialBackoff,
		Multiplier:      2,
		MaxInterval:     p.MaxBackoff,
		Clock:           backoff.SystemClock,
	}
	b = backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.Attempts-1)), ctx)

	attempt := 0
	op := func() error {
		attempt++
		err := fn()
		if err != nil && !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		opLogger.Warn("transient error", zap.Error(err), zap.Int("attempt", attempt), zap.Duration("wait", wait))
	}

	if err := backoff.RetryNotify(op, b, notify); err != nil {
		opLogger.Error("operation failed", zap.Error(err), zap.Int("attempt", attempt))
		return logging.NewOperationError(operation, sessionID, err)
	}
	if attempt > 1 {
		opLogger.Info("operation succeeded after retry", zap.Int("attempt", attempt))
	}
	return nil
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var temporary interface{ Temporary() bool }
	if errors.As(err, &temporary) && temporary.Temporary() {
		return true
	}

	return false
}
