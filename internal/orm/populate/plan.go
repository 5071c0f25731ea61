package populate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/conduit-lang/populate/internal/orm/query"
	"github.com/conduit-lang/populate/internal/orm/schema"
)

// Config holds planner and execution limits.
type Config struct {
	// DefaultStrategy overrides the per-kind defaults when not StrategyDefault.
	DefaultStrategy schema.LoadStrategy
	// MaxDepth bounds the number of segments in a populate path.
	MaxDepth int
	// Concurrency bounds how many sibling follow-up statements run at once.
	Concurrency int
	// MaxInParams bounds the number of keys bound into one IN list.
	MaxInParams int
}

// DefaultConfig returns the default planner configuration.
func DefaultConfig() Config {
	return Config{
		DefaultStrategy: schema.StrategyDefault,
		MaxDepth:        10,
		Concurrency:     4,
		MaxInParams:     1000,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxDepth <= 0 {
		c.MaxDepth = def.MaxDepth
	}
	if c.Concurrency <= 0 {
		c.Concurrency = def.Concurrency
	}
	if c.MaxInParams <= 0 {
		c.MaxInParams = def.MaxInParams
	}
	return c
}

// PlanNode is one populated relation path with its resolved strategy.
type PlanNode struct {
	Path     string
	Relation *schema.Relationship
	Owner    *schema.ResourceSchema
	Target   *schema.ResourceSchema
	Strategy schema.LoadStrategy
	// Where restricts attached children; it never filters the owner rows.
	Where query.Predicate

	Parent   *PlanNode
	Children []*PlanNode

	hint schema.LoadStrategy
}

// ToMany reports whether the relation loads a collection.
func (n *PlanNode) ToMany() bool {
	return n.Relation.Type.ToMany()
}

// Depth returns the number of segments in the node's path.
func (n *PlanNode) Depth() int {
	return strings.Count(n.Path, ".") + 1
}

// QueryPlan is a resolved populate request.
type QueryPlan struct {
	Root *schema.ResourceSchema
	// Nodes are the top-level paths in first-mention order.
	Nodes []*PlanNode
	// All lists every node in pre-order.
	All []*PlanNode

	Where   query.Predicate
	OrderBy []query.Order
	Limit   int
	Offset  int
}

// Paginated reports whether the root query carries LIMIT or OFFSET.
func (p *QueryPlan) Paginated() bool {
	return p.Limit > 0 || p.Offset > 0
}

// Node returns the node for a path.
func (p *QueryPlan) Node(path string) (*PlanNode, bool) {
	for _, n := range p.All {
		if n.Path == path {
			return n, true
		}
	}
	return nil, false
}

// String renders the plan tree, one path per line.
func (p *QueryPlan) String() string {
	var b strings.Builder
	b.WriteString(p.Root.Name)
	for _, n := range p.All {
		b.WriteString("\n")
		b.WriteString(strings.Repeat("  ", n.Depth()))
		fmt.Fprintf(&b, "%s (%s %s, %s)", n.Relation.Name, n.Relation.Type, n.Target.Name, n.Strategy)
		if n.Where != nil {
			b.WriteString(" where ")
			b.WriteString(n.Where.String())
		}
	}
	return b.String()
}

// Selector resolves populate requests into plans and picks a strategy for
// every path.
type Selector struct {
	registry *schema.Registry
	config   Config
}

// NewSelector creates a strategy selector.
func NewSelector(registry *schema.Registry, config Config) *Selector {
	return &Selector{registry: registry, config: config.withDefaults()}
}

// Resolve validates opts against the schema and returns the plan. Every
// path error surfaces here, before any statement runs.
func (s *Selector) Resolve(root string, opts FindOptions) (*QueryPlan, error) {
	if opts.Limit < 0 || opts.Offset < 0 {
		return nil, fmt.Errorf("%w: limit=%d offset=%d", ErrInvalidPagination, opts.Limit, opts.Offset)
	}
	rootSchema, err := s.registry.Lookup(root)
	if err != nil {
		return nil, err
	}

	plan := &QueryPlan{
		Root:    rootSchema,
		Where:   opts.Where,
		OrderBy: opts.OrderBy,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	}

	nodes := make(map[string]*PlanNode)
	for _, p := range opts.Populate {
		if err := s.addPath(plan, nodes, p); err != nil {
			return nil, err
		}
	}

	if err := s.attachWhere(plan, nodes, opts.PopulateWhere); err != nil {
		return nil, err
	}

	plan.All = flatten(plan.Nodes)
	for _, n := range plan.All {
		n.Strategy = s.strategyFor(n, opts.Strategy)
	}

	if err := s.validate(plan); err != nil {
		return nil, err
	}
	return plan, nil
}

func (s *Selector) addPath(plan *QueryPlan, nodes map[string]*PlanNode, p Populate) error {
	path := strings.TrimSpace(p.Path)
	if path == "" {
		return &PathError{Root: plan.Root.Name, Path: p.Path, Reason: "empty path"}
	}
	segments := strings.Split(path, ".")
	if len(segments) > s.config.MaxDepth {
		return fmt.Errorf("%w: %q has %d levels, limit is %d", ErrMaxDepthExceeded, path, len(segments), s.config.MaxDepth)
	}

	owner := plan.Root
	var parent *PlanNode
	for i, seg := range segments {
		prefix := strings.Join(segments[:i+1], ".")
		node, ok := nodes[prefix]
		if !ok {
			if seg == "" {
				return &PathError{Root: plan.Root.Name, Path: path, Reason: "empty segment"}
			}
			rel, ok := owner.Relationships[seg]
			if !ok {
				return &PathError{Root: plan.Root.Name, Path: path, Reason: fmt.Sprintf("%s has no relationship %q", owner.Name, seg)}
			}
			target, err := s.registry.Lookup(rel.TargetResource)
			if err != nil {
				return &PathError{Root: plan.Root.Name, Path: path, Err: err}
			}
			node = &PlanNode{Path: prefix, Relation: rel, Owner: owner, Target: target, Parent: parent}
			nodes[prefix] = node
			if parent == nil {
				plan.Nodes = append(plan.Nodes, node)
			} else {
				parent.Children = append(parent.Children, node)
			}
		}
		if i == len(segments)-1 && p.Strategy != schema.StrategyDefault {
			node.hint = p.Strategy
		}
		owner = node.Target
		parent = node
	}
	return nil
}

func (s *Selector) attachWhere(plan *QueryPlan, nodes map[string]*PlanNode, where map[string]query.Predicate) error {
	paths := make([]string, 0, len(where))
	for path := range where {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		node, ok := nodes[path]
		if !ok {
			if _, err := s.registry.ResolvePath(plan.Root.Name, path); err != nil {
				return &PathError{Root: plan.Root.Name, Path: path, Err: err}
			}
			return &PathError{Root: plan.Root.Name, Path: path, Reason: "populateWhere path is not populated"}
		}
		node.Where = where[path]
	}
	return nil
}

// strategyFor applies, in order: the request-wide strategy, the per-path
// hint, the relation's declared strategy, the configured default and the
// per-kind default (to-one joined, collections select-in).
func (s *Selector) strategyFor(n *PlanNode, forced schema.LoadStrategy) schema.LoadStrategy {
	for _, st := range []schema.LoadStrategy{forced, n.hint, n.Relation.Strategy, s.config.DefaultStrategy} {
		if st != schema.StrategyDefault {
			return st
		}
	}
	if n.ToMany() {
		return schema.StrategySelectIn
	}
	return schema.StrategyJoined
}

// validate translates every predicate and ordering once so unknown fields
// fail at plan time.
func (s *Selector) validate(plan *QueryPlan) error {
	tr := query.NewTranslator(query.Postgres, s.registry, nil)
	if _, err := tr.Translate(plan.Root, "r", plan.Where); err != nil {
		return err
	}
	for _, o := range plan.OrderBy {
		if _, err := o.Render(query.Postgres, plan.Root, "r"); err != nil {
			return err
		}
	}
	for _, n := range plan.All {
		if _, err := tr.Translate(n.Target, "t", n.Where); err != nil {
			return fmt.Errorf("populateWhere %s: %w", n.Path, err)
		}
		if n.Relation.OrderBy != "" {
			field, _ := schema.SplitOrder(n.Relation.OrderBy)
			if !n.Target.HasField(field) {
				return fmt.Errorf("%w: order of %s: %s.%s", query.ErrUnknownField, n.Path, n.Target.Name, field)
			}
		}
		if n.Relation.Type == schema.RelationshipBelongsTo {
			if _, ok := n.Owner.Field(n.Relation.ForeignKey); !ok {
				return fmt.Errorf("%w: %s.%s foreign key %q is not a field", ErrInvalidRelationType, n.Owner.Name, n.Relation.Name, n.Relation.ForeignKey)
			}
		}
		if n.Target.PrimaryKey() == nil || n.Owner.PrimaryKey() == nil {
			return fmt.Errorf("%w: %s needs primary keys on both sides", ErrInvalidRelationType, n.Path)
		}
	}
	return nil
}

func flatten(nodes []*PlanNode) []*PlanNode {
	var out []*PlanNode
	var walk func([]*PlanNode)
	walk = func(ns []*PlanNode) {
		for _, n := range ns {
			out = append(out, n)
			walk(n.Children)
		}
	}
	walk(nodes)
	return out
}

// fetchGroup is the unit of one statement (or one chunked family of
// statements): a head, which is the root or a select-in node, plus every
// joined descendant reachable through joined nodes only.
type fetchGroup struct {
	head     *PlanNode
	resource *schema.ResourceSchema
	members  []*PlanNode

	// children are the head's direct relation nodes.
	children []*PlanNode
}

func newFetchGroup(head *PlanNode, resource *schema.ResourceSchema, children []*PlanNode) *fetchGroup {
	g := &fetchGroup{head: head, resource: resource, children: children}
	var walk func([]*PlanNode)
	walk = func(ns []*PlanNode) {
		for _, n := range ns {
			if n.Strategy != schema.StrategyJoined {
				continue
			}
			g.members = append(g.members, n)
			walk(n.Children)
		}
	}
	walk(children)
	return g
}

func rootGroup(plan *QueryPlan) *fetchGroup {
	return newFetchGroup(nil, plan.Root, plan.Nodes)
}

// followUps returns the select-in groups whose parents are loaded by g.
func (g *fetchGroup) followUps() []*fetchGroup {
	var out []*fetchGroup
	add := func(children []*PlanNode) {
		for _, c := range children {
			if c.Strategy == schema.StrategySelectIn {
				out = append(out, newFetchGroup(c, c.Target, c.Children))
			}
		}
	}
	add(g.children)
	for _, m := range g.members {
		add(m.Children)
	}
	return out
}

// hasToMany reports whether any member multiplies head rows.
func (g *fetchGroup) hasToMany() bool {
	for _, m := range g.members {
		if m.ToMany() {
			return true
		}
	}
	return false
}

// hasWhere reports whether any member carries a populateWhere predicate.
func (g *fetchGroup) hasWhere() bool {
	for _, m := range g.members {
		if m.Where != nil {
			return true
		}
	}
	return false
}
