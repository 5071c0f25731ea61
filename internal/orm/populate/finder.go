// Package populate loads an entity graph in as few statements as the
// requested strategies allow. Every populated path is either JOINED into
// its parent's statement or fetched by a SELECT_IN follow-up keyed on the
// parents already loaded, and rows are stitched into a shared identity map.
package populate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/conduit-lang/populate/internal/orm/cache"
	"github.com/conduit-lang/populate/internal/orm/entity"
	"github.com/conduit-lang/populate/internal/orm/executor"
	"github.com/conduit-lang/populate/internal/orm/schema"
)

// KeysPlaceholder stands in for parent keys when follow-up statements are
// rendered without running the parent statement.
const KeysPlaceholder = "<parent keys>"

// Finder runs populate requests against an executor.
type Finder struct {
	registry *schema.Registry
	exec     executor.Executor
	identity *entity.IdentityMap
	config   Config
	selector *Selector
	builder  *builder
	logger   *zap.Logger
	counts   *cache.Counts
}

// Option configures a Finder.
type Option func(*Finder)

// WithLogger sets the request logger.
func WithLogger(logger *zap.Logger) Option {
	return func(f *Finder) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithConfig sets planner limits and defaults.
func WithConfig(config Config) Option {
	return func(f *Finder) {
		f.config = config.withDefaults()
	}
}

// WithCountCache caches FindAndCount totals in c for ttl. A nil cache
// disables count caching.
func WithCountCache(c cache.Cache, ttl time.Duration) Option {
	return func(f *Finder) {
		if c == nil {
			f.counts = nil
			return
		}
		f.counts = cache.NewCounts(c, ttl)
	}
}

// NewFinder creates a Finder. A nil identity map gets a fresh one; pass a
// shared map to keep one instance per entity across requests.
func NewFinder(registry *schema.Registry, exec executor.Executor, identity *entity.IdentityMap, opts ...Option) *Finder {
	if identity == nil {
		identity = entity.NewIdentityMap()
	}
	f := &Finder{
		registry: registry,
		exec:     exec,
		identity: identity,
		config:   DefaultConfig(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.selector = NewSelector(registry, f.config)
	f.builder = &builder{dialect: exec.Dialect(), registry: registry}
	return f
}

// Identity returns the identity map entities are stitched into.
func (f *Finder) Identity() *entity.IdentityMap {
	return f.identity
}

// Explanation is a resolved plan with the statements it would run.
type Explanation struct {
	Plan       *QueryPlan
	Statements []Statement
}

// Plan resolves opts and renders every statement without executing any.
// Follow-up statements carry KeysPlaceholder as their only key.
func (f *Finder) Plan(root string, opts FindOptions) (*Explanation, error) {
	plan, err := f.selector.Resolve(root, opts)
	if err != nil {
		return nil, err
	}
	st, err := f.builder.rootStatement(plan)
	if err != nil {
		return nil, err
	}
	out := &Explanation{Plan: plan, Statements: []Statement{st.render()}}

	level := st.group.followUps()
	for len(level) > 0 {
		var next []*fetchGroup
		for _, g := range level {
			fu, err := f.builder.followUpStatement(g, []any{KeysPlaceholder})
			if err != nil {
				return nil, err
			}
			out.Statements = append(out.Statements, fu.render())
			next = append(next, g.followUps()...)
		}
		level = next
	}
	return out, nil
}

// Find loads the roots matching opts and populates the requested paths.
// Driver errors are returned as the executor reported them, and any failed
// statement fails the whole request.
func (f *Finder) Find(ctx context.Context, root string, opts FindOptions) ([]*entity.Entity, error) {
	plan, err := f.selector.Resolve(root, opts)
	if err != nil {
		return nil, err
	}
	return f.find(ctx, f.requestLogger(root), plan)
}

// FindAndCount runs Find and returns the number of roots matching the root
// filter, ignoring limit, offset and populate.
func (f *Finder) FindAndCount(ctx context.Context, root string, opts FindOptions) ([]*entity.Entity, int, error) {
	plan, err := f.selector.Resolve(root, opts)
	if err != nil {
		return nil, 0, err
	}
	log := f.requestLogger(root)

	total, err := f.count(ctx, log, plan)
	if err != nil {
		return nil, 0, err
	}
	entities, err := f.find(ctx, log, plan)
	if err != nil {
		return nil, 0, err
	}
	return entities, total, nil
}

// Count returns the number of roots matching opts.Where.
func (f *Finder) Count(ctx context.Context, root string, opts FindOptions) (int, error) {
	plan, err := f.selector.Resolve(root, opts)
	if err != nil {
		return 0, err
	}
	return f.count(ctx, f.requestLogger(root), plan)
}

func (f *Finder) requestLogger(root string) *zap.Logger {
	return f.logger.With(zap.String("request_id", uuid.NewString()), zap.String("root", root))
}

func (f *Finder) find(ctx context.Context, log *zap.Logger, plan *QueryPlan) ([]*entity.Entity, error) {
	start := time.Now()
	log.Debug("populate plan", zap.Stringer("plan", plan), zap.Int("paths", len(plan.All)))

	st, err := f.builder.rootStatement(plan)
	if err != nil {
		return nil, err
	}
	sql, args := st.sel.Query()
	rows, err := f.exec.Query(ctx, sql, args)
	if err != nil {
		return nil, err
	}

	s := newStitcher(f.identity)
	roots, err := s.stitchRoot(st, rows)
	if err != nil {
		return nil, err
	}

	statements := 1
	level := st.group.followUps()
	for len(level) > 0 {
		ran, next, err := f.runLevel(ctx, log, s, roots, level)
		if err != nil {
			return nil, err
		}
		statements += ran
		level = next
	}

	log.Debug("populate done",
		zap.Int("roots", len(roots)),
		zap.Int("statements", statements),
		zap.Duration("took", time.Since(start)))
	return roots, nil
}

// followUp is one select-in group of a level with its chunked statements.
type followUp struct {
	group   *fetchGroup
	parents []*entity.Entity
	stmts   []*statement
	results [][]executor.Row
}

// runLevel runs every select-in group whose parents are loaded. Statements
// of one level are independent and run concurrently when the executor
// allows it; results are stitched afterwards in plan order.
func (f *Finder) runLevel(ctx context.Context, log *zap.Logger, s *stitcher, roots []*entity.Entity, level []*fetchGroup) (int, []*fetchGroup, error) {
	var (
		jobs  []*followUp
		next  []*fetchGroup
		total int
	)
	for _, g := range level {
		parents := s.parentsOf(g.head, roots)
		keys := parentKeys(g.head, parents)
		if len(keys) == 0 {
			log.Debug("empty key set, follow-up skipped", zap.String("path", g.head.Path), zap.Int("parents", len(parents)))
			s.markEmpty(g.head, parents)
			continue
		}

		job := &followUp{group: g, parents: parents}
		for _, part := range chunk(keys, f.config.MaxInParams) {
			st, err := f.builder.followUpStatement(g, part)
			if err != nil {
				return 0, nil, err
			}
			job.stmts = append(job.stmts, st)
		}
		job.results = make([][]executor.Row, len(job.stmts))
		jobs = append(jobs, job)
		total += len(job.stmts)
		next = append(next, g.followUps()...)
	}

	if err := f.execute(ctx, jobs, total); err != nil {
		return 0, nil, err
	}

	for _, job := range jobs {
		var rows []executor.Row
		for _, r := range job.results {
			rows = append(rows, r...)
		}
		if err := s.stitchFollowUp(job.stmts[0], job.parents, rows); err != nil {
			return 0, nil, err
		}
	}
	return total, next, nil
}

func (f *Finder) execute(ctx context.Context, jobs []*followUp, total int) error {
	if total > 1 && f.exec.Concurrent() && f.config.Concurrency > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(f.config.Concurrency)
		for _, job := range jobs {
			for i, st := range job.stmts {
				g.Go(func() error {
					sql, args := st.sel.Query()
					rows, err := f.exec.Query(gctx, sql, args)
					if err != nil {
						return err
					}
					job.results[i] = rows
					return nil
				})
			}
		}
		return g.Wait()
	}

	for _, job := range jobs {
		for i, st := range job.stmts {
			sql, args := st.sel.Query()
			rows, err := f.exec.Query(ctx, sql, args)
			if err != nil {
				return err
			}
			job.results[i] = rows
		}
	}
	return nil
}

func (f *Finder) count(ctx context.Context, log *zap.Logger, plan *QueryPlan) (int, error) {
	stmt, err := f.builder.countStatement(plan)
	if err != nil {
		return 0, err
	}

	if f.counts != nil {
		total, ok, err := f.counts.Get(ctx, stmt.SQL, stmt.Args)
		if err != nil {
			log.Warn("count cache read failed", zap.Error(err))
		} else if ok {
			log.Debug("count cache hit", zap.Int("total", total))
			return total, nil
		}
	}

	rows, err := f.exec.Query(ctx, stmt.SQL, stmt.Args)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	total, err := toInt(rows[0]["count"])
	if err != nil {
		return 0, err
	}

	if f.counts != nil {
		if err := f.counts.Set(ctx, stmt.SQL, stmt.Args, total); err != nil {
			log.Warn("count cache write failed", zap.Error(err))
		}
	}
	return total, nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int64:
		return int(n), nil
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		return strconv.Atoi(n)
	case []byte:
		return strconv.Atoi(string(n))
	default:
		return 0, fmt.Errorf("unexpected count value %T", v)
	}
}
