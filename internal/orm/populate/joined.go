package populate

import (
	"github.com/conduit-lang/populate/internal/orm/query"
)

// rootStatement renders the root fetch group: the root table plus every
// joined path hanging off it.
//
// When the request is paginated and a join can multiply or filter root rows
// (a collection, or any populateWhere predicate), pagination moves into a
// key subquery so LIMIT counts roots rather than joined rows:
//
//	SELECT ... FROM users AS u0 LEFT JOIN pets AS p1 ON ...
//	WHERE u0.id IN (SELECT u3.id FROM (SELECT u2.id FROM users AS u2
//	  WHERE ... GROUP BY u2.id ORDER BY ... LIMIT ? OFFSET ?) AS u3)
func (b *builder) rootStatement(plan *QueryPlan) (*statement, error) {
	d := b.dialect
	g := rootGroup(plan)
	root := plan.Root
	pk := root.PrimaryKey().Column

	aliases := query.NewAliases()
	st := newStatement(g, aliases)
	st.allocate(aliases)

	twoPhase := plan.Paginated() && (g.hasToMany() || g.hasWhere())
	var innerAlias, keysAlias string
	if twoPhase {
		innerAlias = aliases.Next(root.Name)
		keysAlias = aliases.Next(root.Name)
	}

	tr := query.NewTranslator(d, b.registry, aliases)
	st.sel = query.Select(d, b.columns(root, st.headAlias)...).From(root.TableName, st.headAlias)
	if err := b.joinMembers(st, tr); err != nil {
		return nil, err
	}

	if twoPhase {
		where, err := tr.Translate(root, innerAlias, plan.Where)
		if err != nil {
			return nil, err
		}
		order, err := b.rootOrder(root, innerAlias, plan.OrderBy)
		if err != nil {
			return nil, err
		}
		inner := query.Select(d, d.Column(innerAlias, pk)).
			From(root.TableName, innerAlias).
			Where(where).
			GroupBy(d.Column(innerAlias, pk)).
			OrderBy(order...)
		paginate(inner, plan.Limit, plan.Offset)

		// the extra derived table lets MySQL accept LIMIT inside IN
		keys := query.Select(d, d.Column(keysAlias, pk)).FromSubquery(inner, keysAlias).Render()
		st.sel.Where(query.Raw(d.Column(st.headAlias, pk)+" IN ("+keys.SQL+")", keys.Args...))
	} else {
		where, err := tr.Translate(root, st.headAlias, plan.Where)
		if err != nil {
			return nil, err
		}
		st.sel.Where(where)
		paginate(st.sel, plan.Limit, plan.Offset)
	}

	if len(plan.OrderBy) > 0 || plan.Paginated() || len(g.members) > 0 {
		order, err := b.rootOrder(root, st.headAlias, plan.OrderBy)
		if err != nil {
			return nil, err
		}
		st.sel.OrderBy(order...)
		st.sel.OrderBy(b.memberOrder(st)...)
	}
	return st, nil
}

// countStatement renders SELECT COUNT(*) over the root filter alone.
// Populate paths and their predicates never change the total.
func (b *builder) countStatement(plan *QueryPlan) (Statement, error) {
	aliases := query.NewAliases()
	alias := aliases.Next(plan.Root.Name)
	tr := query.NewTranslator(b.dialect, b.registry, aliases)

	where, err := tr.Translate(plan.Root, alias, plan.Where)
	if err != nil {
		return Statement{}, err
	}
	sql, args := query.Select(b.dialect).
		From(plan.Root.TableName, alias).
		Where(where).
		Count().
		Query()
	return Statement{Label: "count", SQL: sql, Args: args}, nil
}
