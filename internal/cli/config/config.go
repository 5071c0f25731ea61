package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/conduit-lang/populate/internal/orm/cache"
	"github.com/conduit-lang/populate/internal/orm/populate"
	"github.com/conduit-lang/populate/internal/orm/query"
	"github.com/conduit-lang/populate/internal/orm/schema"
	"github.com/conduit-lang/populate/internal/orm/transaction"
)

// EnvPrefix prefixes every environment override, e.g. POPULATE_DATABASE_DSN.
const EnvPrefix = "POPULATE"

// Config represents the populate tool configuration
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Schema   SchemaConfig   `mapstructure:"schema"`
	Populate PopulateConfig `mapstructure:"populate"`
	Log      LogConfig      `mapstructure:"log"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
}

// DatabaseConfig selects the database/sql driver and its DSN
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// SchemaConfig points at the resource descriptor file
type SchemaConfig struct {
	Path string `mapstructure:"path"`
}

// PopulateConfig mirrors populate.Config
type PopulateConfig struct {
	DefaultStrategy string `mapstructure:"default_strategy"`
	MaxDepth        int    `mapstructure:"max_depth"`
	Concurrency     int    `mapstructure:"concurrency"`
	MaxInParams     int    `mapstructure:"max_in_params"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level     string        `mapstructure:"level"`
	Format    string        `mapstructure:"format"`
	SlowQuery time.Duration `mapstructure:"slow_query"`
}

// CacheConfig configures the count cache
type CacheConfig struct {
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
	Redis   RedisConfig   `mapstructure:"redis"`
}

// RedisConfig represents the redis backend connection
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SnapshotConfig runs each find inside one read-only transaction
type SnapshotConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Isolation   string        `mapstructure:"isolation"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

func setDefaults(v *viper.Viper) {
	defaults := populate.DefaultConfig()

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "")
	v.SetDefault("schema.path", "schema.yaml")
	v.SetDefault("populate.default_strategy", defaults.DefaultStrategy.String())
	v.SetDefault("populate.max_depth", defaults.MaxDepth)
	v.SetDefault("populate.concurrency", defaults.Concurrency)
	v.SetDefault("populate.max_in_params", defaults.MaxInParams)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.slow_query", 200*time.Millisecond)
	v.SetDefault("cache.backend", cache.BackendNone)
	v.SetDefault("cache.ttl", time.Minute)
	v.SetDefault("cache.redis.addr", "localhost:6379")
	v.SetDefault("cache.redis.password", "")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("snapshot.enabled", false)
	v.SetDefault("snapshot.isolation", "repeatable-read")
	v.SetDefault("snapshot.timeout", 30*time.Second)
	v.SetDefault("snapshot.max_attempts", transaction.DefaultMaxAttempts)
}

// Load loads the configuration from populate.yaml in the working directory
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile loads the configuration from path, or from populate.yaml in the
// working directory when path is empty. A missing default file is not an
// error; a missing explicit file is.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("populate")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if root, err := ProjectRoot(); err == nil {
			v.AddConfigPath(root)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// ProjectRoot walks up from the working directory to the nearest directory
// holding a populate.yaml or populate.yml.
func ProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	for {
		for _, name := range []string{"populate.yaml", "populate.yml"} {
			if _, err := os.Stat(filepath.Join(dir, name)); err == nil {
				return dir, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no populate.yaml found")
		}
		dir = parent
	}
}

// Dialect returns the SQL dialect of the configured driver.
func (c *Config) Dialect() (query.Dialect, error) {
	return query.ParseDialect(c.Database.Driver)
}

// PopulateConfig converts the populate section into planner settings.
func (c *Config) PopulateConfig() (populate.Config, error) {
	strategy, err := schema.ParseLoadStrategy(c.Populate.DefaultStrategy)
	if err != nil {
		return populate.Config{}, err
	}
	return populate.Config{
		DefaultStrategy: strategy,
		MaxDepth:        c.Populate.MaxDepth,
		Concurrency:     c.Populate.Concurrency,
		MaxInParams:     c.Populate.MaxInParams,
	}, nil
}

// CacheOptions converts the cache section into backend options.
func (c *Config) CacheOptions() cache.Options {
	cfg := cache.DefaultConfig()
	cfg.DefaultTTL = c.Cache.TTL
	return cache.Options{
		Backend: c.Cache.Backend,
		Config:  cfg,
		Redis: cache.RedisConfig{
			Addr:     c.Cache.Redis.Addr,
			Password: c.Cache.Redis.Password,
			DB:       c.Cache.Redis.DB,
		},
	}
}

// TransactionOptions converts the snapshot section into runner options.
func (c *Config) TransactionOptions() (transaction.Options, error) {
	level, err := transaction.ParseIsolationLevel(c.Snapshot.Isolation)
	if err != nil {
		return transaction.Options{}, err
	}
	retry := transaction.DefaultRetryConfig()
	retry.MaxAttempts = c.Snapshot.MaxAttempts
	return transaction.Options{
		Isolation: level,
		Timeout:   c.Snapshot.Timeout,
		Retry:     retry,
	}, nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if _, err := cfg.Dialect(); err != nil {
		return fmt.Errorf("database.driver: %w", err)
	}
	if _, err := schema.ParseLoadStrategy(cfg.Populate.DefaultStrategy); err != nil {
		return fmt.Errorf("populate.default_strategy: %w", err)
	}
	if cfg.Populate.MaxDepth < 1 {
		return fmt.Errorf("populate.max_depth must be positive, got: %d", cfg.Populate.MaxDepth)
	}
	if cfg.Populate.Concurrency < 1 {
		return fmt.Errorf("populate.concurrency must be positive, got: %d", cfg.Populate.Concurrency)
	}
	if cfg.Populate.MaxInParams < 1 {
		return fmt.Errorf("populate.max_in_params must be positive, got: %d", cfg.Populate.MaxInParams)
	}

	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Log.Level)); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch cfg.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json, got: %s", cfg.Log.Format)
	}
	if cfg.Log.SlowQuery < 0 {
		return fmt.Errorf("log.slow_query must not be negative, got: %s", cfg.Log.SlowQuery)
	}

	switch cfg.Cache.Backend {
	case cache.BackendNone, cache.BackendMemory:
	case cache.BackendRedis:
		if cfg.Cache.Redis.Addr == "" {
			return fmt.Errorf("cache.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("cache.backend must be none, memory or redis, got: %s", cfg.Cache.Backend)
	}

	if _, err := transaction.ParseIsolationLevel(cfg.Snapshot.Isolation); err != nil {
		return fmt.Errorf("snapshot.isolation: %w", err)
	}
	if cfg.Snapshot.Timeout < 0 {
		return fmt.Errorf("snapshot.timeout must not be negative, got: %s", cfg.Snapshot.Timeout)
	}
	if cfg.Snapshot.MaxAttempts < 1 {
		return fmt.Errorf("snapshot.max_attempts must be positive, got: %d", cfg.Snapshot.MaxAttempts)
	}
	return nil
}
