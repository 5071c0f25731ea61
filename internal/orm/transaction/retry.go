package transaction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"go.uber.org/zap"
)

const (
	// DefaultMaxAttempts is the default number of attempts for a conflicted read
	DefaultMaxAttempts = 3
	// DefaultBaseBackoff is the default base backoff duration
	DefaultBaseBackoff = 50 * time.Millisecond
)

// RetryConfig configures retry behavior for reads
type RetryConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: DefaultMaxAttempts,
		BaseBackoff: DefaultBaseBackoff,
	}
}

// do calls fn until it succeeds, fails with a non-retryable error, or
// MaxAttempts is reached. Backoff doubles after every attempt.
func (c RetryConfig) do(ctx context.Context, logger *zap.Logger, fn func(attempt int) error) error {
	var lastErr error
	for attempt := 0; attempt < c.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return fmt.Errorf("read cancelled before attempt %d: %w", attempt+1, ctx.Err())
		}

		err := fn(attempt)
		if err == nil || !IsRetryableError(err) {
			return err
		}
		lastErr = err

		backoff := c.BaseBackoff * time.Duration(1<<uint(attempt))
		logger.Debug("retrying read",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return fmt.Errorf("read cancelled during retry: %w", ctx.Err())
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, c.MaxAttempts, lastErr)
}

// SQLSTATE codes that are safe to retry
const (
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
)

// MySQL error numbers that are safe to retry
const (
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
)

// IsRetryableError reports whether err is a deadlock or serialization
// failure from any supported driver.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == sqlStateSerializationFailure || pgErr.Code == sqlStateDeadlockDetected
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == sqlStateSerializationFailure || pqErr.Code == sqlStateDeadlockDetected
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDeadlock || myErr.Number == mysqlLockWaitTimeout
	}

	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		sqlStateSerializationFailure,
		strings.ToLower(sqlStateDeadlockDetected),
		"deadlock detected",
		"deadlock found",
		"could not serialize access",
		"database is locked",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
