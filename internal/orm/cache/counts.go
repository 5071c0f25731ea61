package cache

import (
	"context"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Counts caches row totals on top of any backend.
type Counts struct {
	backend Cache
	ttl     time.Duration
}

// NewCounts wraps backend. A zero ttl defers to the backend default.
func NewCounts(backend Cache, ttl time.Duration) *Counts {
	return &Counts{backend: backend, ttl: ttl}
}

// Get returns the cached total for the statement. ok is false on a miss.
func (c *Counts) Get(ctx context.Context, sql string, args []any) (total int, ok bool, err error) {
	key, err := StatementKey("count", sql, args)
	if err != nil {
		return 0, false, err
	}
	raw, err := c.backend.Get(ctx, key)
	if err != nil {
		if IsCacheMiss(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if err := msgpack.Unmarshal(raw, &total); err != nil {
		// treat undecodable entries as misses; the next Set overwrites them
		return 0, false, nil
	}
	return total, true, nil
}

// Set stores the total for the statement.
func (c *Counts) Set(ctx context.Context, sql string, args []any, total int) error {
	key, err := StatementKey("count", sql, args)
	if err != nil {
		return err
	}
	raw, err := msgpack.Marshal(total)
	if err != nil {
		return err
	}
	return c.backend.Set(ctx, key, raw, c.ttl)
}
