// Package executor runs rendered statements against a database/sql handle
// and returns rows as column maps. Driver errors are returned unmodified.
package executor

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/conduit-lang/populate/internal/orm/query"
)

// Querier is implemented by *sql.DB, *sql.Tx, *sql.Conn and their sqlx
// counterparts.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Row is one result row keyed by result column name.
type Row map[string]any

// Executor is the query collaborator used by the populate planner.
type Executor interface {
	// Query runs a statement and returns every row.
	Query(ctx context.Context, query string, args []any) ([]Row, error)
	// Concurrent reports whether independent statements may run at the same
	// time on this executor.
	Concurrent() bool
	// Dialect returns the SQL dialect statements must be rendered in.
	Dialect() query.Dialect
}

// Stats is a snapshot of executor counters.
type Stats struct {
	Queries     int64
	Rows        int64
	SlowQueries int64
	Errors      int64
	Duration    time.Duration
}

// String returns a human-readable summary of the statistics.
func (s Stats) String() string {
	return fmt.Sprintf("queries=%d rows=%d slow=%d errors=%d duration=%s",
		s.Queries, s.Rows, s.SlowQueries, s.Errors, s.Duration)
}

// SQLExecutor executes statements through a Querier.
type SQLExecutor struct {
	q          Querier
	dialect    query.Dialect
	logger     *zap.Logger
	slow       time.Duration
	concurrent bool

	queries     atomic.Int64
	rows        atomic.Int64
	slowQueries atomic.Int64
	errors      atomic.Int64
	duration    atomic.Int64
}

// Option configures an SQLExecutor.
type Option func(*SQLExecutor)

// WithLogger sets the logger statements are reported to.
func WithLogger(logger *zap.Logger) Option {
	return func(e *SQLExecutor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithSlowThreshold logs statements slower than d at warn level. Zero
// disables slow statement logging.
func WithSlowThreshold(d time.Duration) Option {
	return func(e *SQLExecutor) {
		e.slow = d
	}
}

// WithConcurrency overrides whether sibling statements may run in parallel.
func WithConcurrency(enabled bool) Option {
	return func(e *SQLExecutor) {
		e.concurrent = enabled
	}
}

// New wraps q. Transactions and single connections are sequential by
// default; pools allow concurrent statements.
func New(q Querier, dialect query.Dialect, opts ...Option) *SQLExecutor {
	e := &SQLExecutor{
		q:          q,
		dialect:    dialect,
		logger:     zap.NewNop(),
		concurrent: poolBacked(q),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func poolBacked(q Querier) bool {
	switch db := q.(type) {
	case *sql.DB:
		return db.Stats().MaxOpenConnections != 1
	case *sqlx.DB:
		return db.Stats().MaxOpenConnections != 1
	default:
		return false
	}
}

// Dialect implements Executor
func (e *SQLExecutor) Dialect() query.Dialect {
	return e.dialect
}

// Concurrent implements Executor
func (e *SQLExecutor) Concurrent() bool {
	return e.concurrent
}

// Query implements Executor
func (e *SQLExecutor) Query(ctx context.Context, stmt string, args []any) ([]Row, error) {
	start := time.Now()
	e.queries.Add(1)

	result, err := e.query(ctx, stmt, args)

	elapsed := time.Since(start)
	e.duration.Add(int64(elapsed))

	fields := []zap.Field{
		zap.String("sql", stmt),
		zap.Int("args", len(args)),
		zap.Duration("took", elapsed),
	}
	if err != nil {
		e.errors.Add(1)
		e.logger.Debug("query failed", append(fields, zap.Error(err))...)
		return nil, err
	}

	e.rows.Add(int64(len(result)))
	fields = append(fields, zap.Int("rows", len(result)))
	if e.slow > 0 && elapsed > e.slow {
		e.slowQueries.Add(1)
		e.logger.Warn("slow query", fields...)
	} else {
		e.logger.Debug("query", fields...)
	}
	return result, nil
}

func (e *SQLExecutor) query(ctx context.Context, stmt string, args []any) ([]Row, error) {
	rows, err := e.q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Row
	for rows.Next() {
		row := make(map[string]any)
		if err := sqlx.MapScan(rows, row); err != nil {
			return nil, err
		}
		for col, v := range row {
			// Convert []byte to string for text columns
			if b, ok := v.([]byte); ok {
				row[col] = string(b)
			}
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Stats returns a snapshot of the executor counters.
func (e *SQLExecutor) Stats() Stats {
	return Stats{
		Queries:     e.queries.Load(),
		Rows:        e.rows.Load(),
		SlowQueries: e.slowQueries.Load(),
		Errors:      e.errors.Load(),
		Duration:    time.Duration(e.duration.Load()),
	}
}
