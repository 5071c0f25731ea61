package populate

import (
	"strings"

	"github.com/conduit-lang/populate/internal/orm/entity"
	"github.com/conduit-lang/populate/internal/orm/query"
	"github.com/conduit-lang/populate/internal/orm/schema"
)

// followUpStatement renders the select-in statement for group g restricted
// to the given parent keys:
//
//	SELECT <target cols> FROM target WHERE owner_key IN (...) AND <where>
//	ORDER BY owner_key, <relation order>, pk
//
// Joined descendants of the select-in path are LEFT JOINed into it.
func (b *builder) followUpStatement(g *fetchGroup, keys []any) (*statement, error) {
	d := b.dialect
	head := g.head
	rel := head.Relation
	target := g.resource
	targetPK := target.PrimaryKey().Column

	aliases := query.NewAliases()
	st := newStatement(g, aliases)
	var pivot string
	if rel.Type == schema.RelationshipHasManyThrough {
		pivot = aliases.Next(rel.JoinTable)
	}
	st.allocate(aliases)

	st.sel = query.Select(d, b.columns(target, st.headAlias)...).From(target.TableName, st.headAlias)

	var ownerKey string
	switch rel.Type {
	case schema.RelationshipBelongsTo:
		ownerKey = d.Column(st.headAlias, targetPK)
		st.owner = resultColumn(st.headAlias, targetPK)
	case schema.RelationshipHasOne, schema.RelationshipHasMany:
		fk := fieldColumn(target, rel.ForeignKey)
		ownerKey = d.Column(st.headAlias, fk)
		st.owner = resultColumn(st.headAlias, fk)
	case schema.RelationshipHasManyThrough:
		ownerKey = d.Column(pivot, rel.ForeignKey)
		st.owner = ownerColumn
		st.sel.Join(query.InnerJoin, rel.JoinTable, pivot,
			query.Raw(d.Column(pivot, rel.AssociationKey)+" = "+d.Column(st.headAlias, targetPK)))
		st.sel.Columns(d.As(ownerKey, ownerColumn))
	default:
		return nil, ErrInvalidRelationType
	}

	tr := query.NewTranslator(d, b.registry, aliases)
	if err := b.joinMembers(st, tr); err != nil {
		return nil, err
	}

	cond, err := tr.Translate(target, st.headAlias, head.Where)
	if err != nil {
		return nil, err
	}
	st.sel.Where(query.Raw(ownerKey+" IN ("+placeholders(len(keys))+")", keys...))
	st.sel.Where(cond)

	order := append([]string{query.Asc(ownerKey)}, b.relationOrder(head, st.headAlias)...)
	st.sel.OrderBy(dedupe(append(order, b.memberOrder(st)...))...)
	return st, nil
}

// dedupe drops repeated ordering terms, as when the owner key is the
// target primary key.
func dedupe(terms []string) []string {
	out := terms[:0]
	seen := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// parentKeys collects the distinct keys a follow-up must look up, in
// first-seen parent order. belongs_to looks up the parents' foreign key
// values; every other kind looks up the parents' primary keys. Null keys
// are skipped.
func parentKeys(n *PlanNode, parents []*entity.Entity) []any {
	keys := make([]any, 0, len(parents))
	seen := make(map[string]struct{}, len(parents))
	for _, p := range parents {
		v := ownerValue(n, p)
		if v == nil {
			continue
		}
		k, err := entity.KeyOf(v)
		if err != nil {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, v)
	}
	return keys
}

// ownerValue is the key a parent is matched on in follow-up rows.
func ownerValue(n *PlanNode, parent *entity.Entity) any {
	if n.Relation.Type != schema.RelationshipBelongsTo {
		return parent.ID
	}
	f, ok := n.Owner.Field(n.Relation.ForeignKey)
	if !ok {
		return nil
	}
	v, _ := parent.Get(f.Name)
	return v
}

// chunk splits keys into slices of at most size elements.
func chunk(keys []any, size int) [][]any {
	if size <= 0 || len(keys) <= size {
		return [][]any{keys}
	}
	out := make([][]any, 0, (len(keys)+size-1)/size)
	for len(keys) > size {
		out = append(out, keys[:size:size])
		keys = keys[size:]
	}
	return append(out, keys)
}
