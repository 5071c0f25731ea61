// Package transaction runs read requests inside one read-only transaction so
// a root statement and its select-in follow-ups observe the same snapshot.
// Statements on a transaction run one at a time.
package transaction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/conduit-lang/populate/internal/orm/executor"
	"github.com/conduit-lang/populate/internal/orm/query"
)

var (
	// ErrTransactionTimeout is returned when a read exceeds its timeout
	ErrTransactionTimeout = errors.New("transaction timeout")
	// ErrRetriesExhausted is returned when every attempt hit a retryable conflict
	ErrRetriesExhausted = errors.New("transaction retries exhausted")
)

// IsolationLevel represents the transaction isolation level
type IsolationLevel int

const (
	// Default leaves the isolation level to the driver
	Default IsolationLevel = iota
	// ReadCommitted lets each statement see rows committed before it started
	ReadCommitted
	// RepeatableRead pins one snapshot for the whole transaction
	RepeatableRead
	// Serializable provides full isolation
	Serializable
)

// String returns the SQL name of the isolation level
func (l IsolationLevel) String() string {
	switch l {
	case ReadCommitted:
		return "READ COMMITTED"
	case RepeatableRead:
		return "REPEATABLE READ"
	case Serializable:
		return "SERIALIZABLE"
	default:
		return "DEFAULT"
	}
}

// ParseIsolationLevel accepts "read-committed", "repeatable read",
// "SERIALIZABLE" and similar spellings. An empty string is Default.
func ParseIsolationLevel(s string) (IsolationLevel, error) {
	switch normalize(s) {
	case "", "default":
		return Default, nil
	case "readcommitted":
		return ReadCommitted, nil
	case "repeatableread", "snapshot":
		return RepeatableRead, nil
	case "serializable":
		return Serializable, nil
	default:
		return Default, fmt.Errorf("unknown isolation level: %s", s)
	}
}

// TxOptions returns read-only options at this level
func (l IsolationLevel) TxOptions() *sql.TxOptions {
	opts := &sql.TxOptions{ReadOnly: true}
	switch l {
	case ReadCommitted:
		opts.Isolation = sql.LevelReadCommitted
	case RepeatableRead:
		opts.Isolation = sql.LevelRepeatableRead
	case Serializable:
		opts.Isolation = sql.LevelSerializable
	}
	return opts
}

// Beginner is implemented by *sql.DB and *sqlx.DB.
type Beginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Options configures a Runner.
type Options struct {
	Isolation IsolationLevel
	// Timeout bounds each attempt; zero means no limit.
	Timeout time.Duration
	Retry   RetryConfig
}

// Runner opens read-only transactions and hands each one to a callback as
// an executor.
type Runner struct {
	db       Beginner
	dialect  query.Dialect
	logger   *zap.Logger
	execOpts []executor.Option
	opts     Options
}

// NewRunner creates a Runner. execOpts are applied to the executor built
// for every transaction.
func NewRunner(db Beginner, dialect query.Dialect, opts Options, logger *zap.Logger, execOpts ...executor.Option) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = DefaultRetryConfig()
	}
	return &Runner{db: db, dialect: dialect, logger: logger, execOpts: execOpts, opts: opts}
}

// Read runs fn inside a read-only transaction, retrying the whole callback
// when the database reports a deadlock or serialization failure. The
// transaction is always rolled back after fn: nothing is written.
func (r *Runner) Read(ctx context.Context, fn func(ctx context.Context, exec executor.Executor) error) error {
	return r.opts.Retry.do(ctx, r.logger, func(attempt int) error {
		return r.attempt(ctx, fn)
	})
}

func (r *Runner) attempt(ctx context.Context, fn func(ctx context.Context, exec executor.Executor) error) (err error) {
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
		defer func() {
			if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				err = fmt.Errorf("%w: read exceeded %v: %w", ErrTransactionTimeout, r.opts.Timeout, err)
			}
		}()
	}

	tx, err := r.db.BeginTx(ctx, r.opts.Isolation.TxOptions())
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	exec := executor.New(tx, r.dialect, append([]executor.Option{executor.WithLogger(r.logger)}, r.execOpts...)...)
	if err := fn(ctx, exec); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			r.logger.Warn("rollback failed", zap.Error(rbErr))
		}
		return err
	}
	return tx.Rollback()
}

func normalize(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z':
			out = append(out, c+'a'-'A')
		case c == ' ' || c == '-' || c == '_':
		default:
			out = append(out, c)
		}
	}
	return string(out)
}
