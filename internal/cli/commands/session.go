package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	_ "github.com/jackc/pgx/v5/stdlib" // PostgreSQL driver (pgx)
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"           // PostgreSQL driver (postgres)
	_ "github.com/mattn/go-sqlite3" // SQLite driver (sqlite3, cgo)
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	_ "modernc.org/sqlite" // SQLite driver (sqlite, pure Go)

	"github.com/conduit-lang/populate/internal/cli/config"
	"github.com/conduit-lang/populate/internal/orm/cache"
	"github.com/conduit-lang/populate/internal/orm/executor"
	"github.com/conduit-lang/populate/internal/orm/populate"
	"github.com/conduit-lang/populate/internal/orm/query"
	"github.com/conduit-lang/populate/internal/orm/schema"
	"github.com/conduit-lang/populate/internal/orm/transaction"
)

// session holds everything a command needs to plan or run a request.
type session struct {
	config   *config.Config
	logger   *zap.Logger
	registry *schema.Registry
	dialect  query.Dialect
	db       *sqlx.DB
	exec     *executor.SQLExecutor
	cache    cache.Cache
	finder   *populate.Finder

	finderOpts []populate.Option
	execOpts   []executor.Option
}

// openSession loads the configuration and schema. With connect set it also
// opens the database and the count cache; otherwise the finder can only
// plan.
func openSession(cmd *cobra.Command, connect bool) (*session, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, configError(err)
	}

	s := &session{config: cfg}
	if s.dialect, err = cfg.Dialect(); err != nil {
		return nil, configError(err)
	}
	popCfg, err := cfg.PopulateConfig()
	if err != nil {
		return nil, configError(err)
	}
	if s.logger, err = newLogger(cfg.Log); err != nil {
		return nil, configError(err)
	}

	if s.registry, err = schema.LoadFile(cfg.Schema.Path); err != nil {
		s.Close()
		return nil, err
	}

	opts := []populate.Option{
		populate.WithLogger(s.logger),
		populate.WithConfig(popCfg),
	}

	var q executor.Querier
	if connect {
		s.db, err = sqlx.ConnectContext(cmd.Context(), driverName(cfg.Database.Driver), cfg.Database.DSN)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		q = s.db

		s.cache, err = cache.New(cfg.CacheOptions())
		if err != nil {
			// counts are still correct without the cache
			s.logger.Warn("count cache disabled", zap.Error(err))
		}
		opts = append(opts, populate.WithCountCache(s.cache, cfg.Cache.TTL))
	}

	s.finderOpts = opts
	s.execOpts = []executor.Option{
		executor.WithLogger(s.logger),
		executor.WithSlowThreshold(cfg.Log.SlowQuery),
	}
	s.exec = executor.New(q, s.dialect, s.execOpts...)
	s.finder = populate.NewFinder(s.registry, s.exec, nil, s.finderOpts...)
	return s, nil
}

// read calls fn with a finder on the shared pool, or, when snapshot is
// set, with a finder bound to one read-only transaction. A retried
// transaction gets a fresh finder and identity map.
func (s *session) read(ctx context.Context, snapshot bool, fn func(ctx context.Context, f *populate.Finder, exec *executor.SQLExecutor) error) error {
	if !snapshot {
		return fn(ctx, s.finder, s.exec)
	}

	txOpts, err := s.config.TransactionOptions()
	if err != nil {
		return configError(err)
	}
	runner := transaction.NewRunner(s.db, s.dialect, txOpts, s.logger, s.execOpts...)
	return runner.Read(ctx, func(ctx context.Context, exec executor.Executor) error {
		sqlExec, ok := exec.(*executor.SQLExecutor)
		if !ok {
			return fmt.Errorf("unexpected executor %T", exec)
		}
		return fn(ctx, populate.NewFinder(s.registry, exec, nil, s.finderOpts...), sqlExec)
	})
}

// Close releases the database, the cache and flushes the logger.
func (s *session) Close() error {
	var errs []error
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	if c, ok := s.cache.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if s.logger != nil {
		_ = s.logger.Sync()
	}
	return errors.Join(errs...)
}

// driverName maps dialect aliases accepted in database.driver onto
// registered database/sql driver names.
func driverName(driver string) string {
	switch strings.ToLower(driver) {
	case "postgresql", "pq":
		return "postgres"
	case "mariadb":
		return "mysql"
	default:
		return strings.ToLower(driver)
	}
}

// newLogger builds a development logger for console output and a
// production logger for json output. Logs go to stderr so stdout stays
// machine readable.
func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}
