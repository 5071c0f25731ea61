package populate

import (
	"github.com/conduit-lang/populate/internal/orm/query"
	"github.com/conduit-lang/populate/internal/orm/schema"
)

// ownerColumn is the result column carrying the parent key of a
// has_many_through follow-up row.
const ownerColumn = "__owner"

// Statement is one rendered SQL statement of a plan.
type Statement struct {
	// Label names the fetch group: the root resource or the select-in path.
	Label string
	SQL   string
	Args  []any
}

// statement is a fetch group rendered against concrete aliases.
type statement struct {
	group     *fetchGroup
	sel       *query.Selector
	headAlias string
	aliases   map[*PlanNode]string
	pivots    map[*PlanNode]string

	// owner is the result column holding each row's parent key (follow-ups).
	owner string
}

func (st *statement) label() string {
	if st.group.head == nil {
		return st.group.resource.Name
	}
	return st.group.head.Path
}

func (st *statement) render() Statement {
	sql, args := st.sel.Query()
	return Statement{Label: st.label(), SQL: sql, Args: args}
}

func (st *statement) parentAlias(n *PlanNode) string {
	if n.Parent == nil || n.Parent == st.group.head {
		return st.headAlias
	}
	return st.aliases[n.Parent]
}

// builder renders fetch groups into statements.
type builder struct {
	dialect  query.Dialect
	registry *schema.Registry
}

func newStatement(g *fetchGroup, aliases *query.Aliases) *statement {
	return &statement{
		group:     g,
		headAlias: aliases.Next(g.resource.Name),
		aliases:   make(map[*PlanNode]string, len(g.members)),
		pivots:    make(map[*PlanNode]string),
	}
}

// allocate reserves member aliases (and pivot aliases for has_many_through)
// before any predicate is translated, so statement aliases read in join
// order.
func (st *statement) allocate(aliases *query.Aliases) {
	for _, m := range st.group.members {
		st.aliases[m] = aliases.Next(m.Target.Name)
		if m.Relation.Type == schema.RelationshipHasManyThrough {
			st.pivots[m] = aliases.Next(m.Relation.JoinTable)
		}
	}
}

// columns renders every field of resource as "alias"."col" AS "alias__col".
func (b *builder) columns(resource *schema.ResourceSchema, alias string) []string {
	cols := make([]string, 0, len(resource.Fields))
	for _, f := range resource.Fields {
		cols = append(cols, b.dialect.As(b.dialect.Column(alias, f.Column), resultColumn(alias, f.Column)))
	}
	return cols
}

func resultColumn(alias, column string) string {
	return alias + "__" + column
}

// fieldColumn maps a relationship key (field name or column) onto its column.
func fieldColumn(resource *schema.ResourceSchema, key string) string {
	if f, ok := resource.Field(key); ok {
		return f.Column
	}
	return key
}

// joinMembers LEFT JOINs every member onto its parent. Member predicates go
// into the ON clause so they restrict the attached children only.
func (b *builder) joinMembers(st *statement, tr *query.Translator) error {
	d := b.dialect
	for _, m := range st.group.members {
		parent := st.parentAlias(m)
		alias := st.aliases[m]
		rel := m.Relation
		ownerPK := m.Owner.PrimaryKey().Column
		targetPK := m.Target.PrimaryKey().Column

		var link string
		switch rel.Type {
		case schema.RelationshipBelongsTo:
			link = d.Column(parent, fieldColumn(m.Owner, rel.ForeignKey)) + " = " + d.Column(alias, targetPK)
		case schema.RelationshipHasOne, schema.RelationshipHasMany:
			link = d.Column(parent, ownerPK) + " = " + d.Column(alias, fieldColumn(m.Target, rel.ForeignKey))
		case schema.RelationshipHasManyThrough:
			pivot := st.pivots[m]
			st.sel.LeftJoin(rel.JoinTable, pivot,
				query.Raw(d.Column(parent, ownerPK)+" = "+d.Column(pivot, rel.ForeignKey)))
			link = d.Column(pivot, rel.AssociationKey) + " = " + d.Column(alias, targetPK)
		default:
			return ErrInvalidRelationType
		}

		cond, err := tr.Translate(m.Target, alias, m.Where)
		if err != nil {
			return err
		}
		st.sel.LeftJoin(m.Target.TableName, alias, query.AndExpr(query.Raw(link), cond))
		st.sel.Columns(b.columns(m.Target, alias)...)
	}
	return nil
}

// memberOrder keeps every joined collection in relation order, then child
// primary key, matching the order a select-in follow-up produces.
func (b *builder) memberOrder(st *statement) []string {
	var terms []string
	for _, m := range st.group.members {
		if !m.ToMany() {
			continue
		}
		terms = append(terms, b.relationOrder(m, st.aliases[m])...)
	}
	return terms
}

func (b *builder) relationOrder(n *PlanNode, alias string) []string {
	var terms []string
	pk := n.Target.PrimaryKey().Column
	if n.Relation.OrderBy != "" {
		field, dir := schema.SplitOrder(n.Relation.OrderBy)
		if f, ok := n.Target.Field(field); ok && f.Column != pk {
			terms = append(terms, b.dialect.Column(alias, f.Column)+" "+dir)
		}
	}
	return append(terms, query.Asc(b.dialect.Column(alias, pk)))
}

// rootOrder renders the requested ordering followed by the primary key
// unless the request already orders by it.
func (b *builder) rootOrder(resource *schema.ResourceSchema, alias string, orders []query.Order) ([]string, error) {
	pk := resource.PrimaryKey()
	terms := make([]string, 0, len(orders)+1)
	byPK := false
	for _, o := range orders {
		term, err := o.Render(b.dialect, resource, alias)
		if err != nil {
			return nil, err
		}
		if f, _ := resource.Field(o.Field); f == pk {
			byPK = true
		}
		terms = append(terms, term)
	}
	if !byPK {
		terms = append(terms, query.Asc(b.dialect.Column(alias, pk.Column)))
	}
	return terms, nil
}

func paginate(sel *query.Selector, limit, offset int) {
	if limit > 0 {
		sel.Limit(limit)
	}
	if offset > 0 {
		sel.Offset(offset)
	}
}
