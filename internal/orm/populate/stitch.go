package populate

import (
	"fmt"

	"github.com/conduit-lang/populate/internal/orm/entity"
	"github.com/conduit-lang/populate/internal/orm/executor"
	"github.com/conduit-lang/populate/internal/orm/query"
	"github.com/conduit-lang/populate/internal/orm/schema"
)

type relationKey struct {
	owner    *entity.Entity
	relation string
}

// stitcher turns rows into graph entities for one request. The first time a
// request touches a relation of an entity the relation is reset and marked
// loaded, so a relation populated with no matching rows reads as loaded and
// empty, and a new request replaces rather than extends older contents.
//
// The node that first touches a relation claims it. A path that loops back
// to an entity already in the graph (pets.user.pets) reaches the same
// relation through another node; that node only extends the relation when
// its predicate is the claimant's.
type stitcher struct {
	identity *entity.IdentityMap
	touched  map[relationKey]*PlanNode

	// loaded holds, per plan node, the distinct entities attached for it in
	// first-seen order. They are the parents of the node's follow-ups.
	loaded map[*PlanNode][]*entity.Entity
	seen   map[*PlanNode]map[*entity.Entity]struct{}
}

func newStitcher(identity *entity.IdentityMap) *stitcher {
	return &stitcher{
		identity: identity,
		touched:  make(map[relationKey]*PlanNode),
		loaded:   make(map[*PlanNode][]*entity.Entity),
		seen:     make(map[*PlanNode]map[*entity.Entity]struct{}),
	}
}

// hydrate materialises the entity aliased as alias in row. A NULL primary
// key, as produced by an unmatched LEFT JOIN, yields nil.
func (s *stitcher) hydrate(resource *schema.ResourceSchema, alias string, row executor.Row) (*entity.Entity, error) {
	pk := resource.PrimaryKey()
	id := row[resultColumn(alias, pk.Column)]
	if id == nil {
		return nil, nil
	}
	data := make(map[string]any, len(resource.Fields))
	for _, f := range resource.Fields {
		if v, ok := row[resultColumn(alias, f.Column)]; ok {
			data[f.Name] = v
		}
	}
	return s.identity.GetOrCreate(resource.Name, id, data)
}

// touch claims the relation of owner for n on first use and reports
// whether n may attach children to it.
func (s *stitcher) touch(owner *entity.Entity, n *PlanNode) bool {
	key := relationKey{owner: owner, relation: n.Relation.Name}
	if claimant, ok := s.touched[key]; ok {
		return claimant == n || sameWhere(claimant.Where, n.Where)
	}
	s.touched[key] = n
	if n.ToMany() {
		owner.Collection(n.Relation.Name).Reset()
	} else {
		owner.Reference(n.Relation.Name).Reset()
	}
	return true
}

// attach links child under owner for n. A child n may not attach is still
// recorded so deeper nodes find their parents.
func (s *stitcher) attach(owner *entity.Entity, n *PlanNode, child *entity.Entity) {
	if !s.touch(owner, n) {
		s.record(n, child)
		return
	}
	if n.ToMany() {
		owner.Collection(n.Relation.Name).Add(child)
	} else {
		owner.Reference(n.Relation.Name).Set(child)
	}
	s.record(n, child)
}

func sameWhere(a, b query.Predicate) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.String() == b.String()
}

func (s *stitcher) record(n *PlanNode, e *entity.Entity) {
	set, ok := s.seen[n]
	if !ok {
		set = make(map[*entity.Entity]struct{})
		s.seen[n] = set
	}
	if _, dup := set[e]; dup {
		return
	}
	set[e] = struct{}{}
	s.loaded[n] = append(s.loaded[n], e)
}

// rows walks each row of a statement: the head entity first, then every
// joined member under its parent. Members of a row whose parent is NULL
// are skipped. It returns the head entity of every row (nil for none).
func (s *stitcher) rows(st *statement, rows []executor.Row) ([]*entity.Entity, error) {
	heads := make([]*entity.Entity, len(rows))
	perRow := make(map[*PlanNode]*entity.Entity, len(st.group.members))
	for i, row := range rows {
		head, err := s.hydrate(st.group.resource, st.headAlias, row)
		if err != nil {
			return nil, err
		}
		heads[i] = head
		if head == nil {
			continue
		}
		clear(perRow)
		for _, m := range st.group.members {
			parent := head
			if m.Parent != nil && m.Parent != st.group.head {
				parent = perRow[m.Parent]
			}
			if parent == nil {
				continue
			}
			s.touch(parent, m)
			child, err := s.hydrate(m.Target, st.aliases[m], row)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", m.Path, err)
			}
			if child == nil {
				continue
			}
			s.attach(parent, m, child)
			perRow[m] = child
		}
	}
	return heads, nil
}

// stitchRoot stitches the root statement and returns the distinct roots in
// first-seen order.
func (s *stitcher) stitchRoot(st *statement, rows []executor.Row) ([]*entity.Entity, error) {
	heads, err := s.rows(st, rows)
	if err != nil {
		return nil, err
	}
	roots := make([]*entity.Entity, 0, len(heads))
	seen := make(map[*entity.Entity]struct{}, len(heads))
	for _, h := range heads {
		if h == nil {
			continue
		}
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		roots = append(roots, h)
	}
	return roots, nil
}

// stitchFollowUp groups follow-up rows by owner key and attaches them to
// parents in parent order. Every parent ends up with the relation loaded,
// including those whose keys matched nothing.
func (s *stitcher) stitchFollowUp(st *statement, parents []*entity.Entity, rows []executor.Row) error {
	n := st.group.head

	heads, err := s.rows(st, rows)
	if err != nil {
		return err
	}
	byOwner := make(map[string][]*entity.Entity)
	for i, h := range heads {
		if h == nil {
			continue
		}
		owner := rows[i][st.owner]
		if owner == nil {
			continue
		}
		key, err := entity.KeyOf(owner)
		if err != nil {
			return fmt.Errorf("%s: %w", n.Path, err)
		}
		byOwner[key] = append(byOwner[key], h)
	}

	for _, p := range parents {
		s.touch(p, n)
		v := ownerValue(n, p)
		if v == nil {
			continue
		}
		key, err := entity.KeyOf(v)
		if err != nil {
			return fmt.Errorf("%s: %w", n.Path, err)
		}
		for _, child := range byOwner[key] {
			s.attach(p, n, child)
		}
	}
	return nil
}

// markEmpty records that a follow-up had no keys to look up: every parent
// gets the relation loaded and empty without a statement being run.
func (s *stitcher) markEmpty(n *PlanNode, parents []*entity.Entity) {
	for _, p := range parents {
		s.touch(p, n)
	}
}

func (s *stitcher) parentsOf(n *PlanNode, roots []*entity.Entity) []*entity.Entity {
	if n.Parent == nil {
		return roots
	}
	return s.loaded[n.Parent]
}
