package populate

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/conduit-lang/populate/internal/orm/executor"
	"github.com/conduit-lang/populate/internal/orm/query"
)

// fakeExecutor answers statements through a handler and records what ran.
type fakeExecutor struct {
	dialect    query.Dialect
	concurrent bool
	handler    func(ctx context.Context, sql string, args []any) ([]executor.Row, error)

	mu       sync.Mutex
	queries  []string
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *fakeExecutor) Query(ctx context.Context, sql string, args []any) ([]executor.Row, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	f.mu.Lock()
	f.queries = append(f.queries, sql)
	f.mu.Unlock()

	if f.handler == nil {
		return nil, nil
	}
	return f.handler(ctx, sql, args)
}

func (f *fakeExecutor) Concurrent() bool       { return f.concurrent }
func (f *fakeExecutor) Dialect() query.Dialect { return f.dialect }

func (f *fakeExecutor) ran() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

func from(sql, table string) bool {
	return strings.Contains(sql, `FROM "`+table+`"`)
}
