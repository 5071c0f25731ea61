package query

import (
	"fmt"
	"strings"

	"github.com/conduit-lang/populate/internal/orm/schema"
)

// Translator turns predicates into SQL conditions scoped to one table alias.
// Related predicates become correlated EXISTS subqueries whose aliases are
// drawn from the shared allocator.
type Translator struct {
	Dialect  Dialect
	Registry *schema.Registry
	Aliases  *Aliases
}

// NewTranslator creates a translator.
func NewTranslator(d Dialect, registry *schema.Registry, aliases *Aliases) *Translator {
	if aliases == nil {
		aliases = NewAliases()
	}
	return &Translator{Dialect: d, Registry: registry, Aliases: aliases}
}

// Translate renders p against resource rows aliased as alias. A nil
// predicate renders an empty Expr.
func (t *Translator) Translate(resource *schema.ResourceSchema, alias string, p Predicate) (Expr, error) {
	if p == nil {
		return Expr{}, nil
	}

	switch pred := p.(type) {
	case *Leaf:
		return t.leaf(resource, alias, pred)

	case *Group:
		parts := make([]Expr, 0, len(pred.Predicates))
		for _, child := range pred.Predicates {
			e, err := t.Translate(resource, alias, child)
			if err != nil {
				return Expr{}, err
			}
			parts = append(parts, e)
		}
		if pred.Or {
			return OrExpr(parts...), nil
		}
		return AndExpr(parts...), nil

	case *Not:
		inner, err := t.Translate(resource, alias, pred.Predicate)
		if err != nil || inner.IsZero() {
			return inner, err
		}
		return Expr{SQL: "NOT (" + inner.SQL + ")", Args: inner.Args}, nil

	case *Related:
		return t.related(resource, alias, pred)

	default:
		return Expr{}, fmt.Errorf("%w: unsupported predicate type %T", ErrInvalidPredicate, p)
	}
}

func (t *Translator) leaf(resource *schema.ResourceSchema, alias string, l *Leaf) (Expr, error) {
	field, ok := resource.Field(l.Field)
	if !ok {
		return Expr{}, fmt.Errorf("%w: %s.%s", ErrUnknownField, resource.Name, l.Field)
	}
	col := t.Dialect.Column(alias, field.Column)

	switch l.Op {
	case OpEqual, OpNotEqual, OpGreaterThan, OpGreaterThanOrEqual, OpLessThan, OpLessThanOrEqual, OpLike:
		if _, isList := toSlice(l.Value); isList {
			return Expr{}, fmt.Errorf("%w: %s %s expects a scalar", ErrInvalidPredicate, l.Field, l.Op)
		}
		op := l.Op.String()
		if l.Op == OpNotEqual {
			op = "<>"
		}
		return Raw(fmt.Sprintf("%s %s ?", col, op), l.Value), nil

	case OpILike:
		if t.Dialect.SupportsILike() {
			return Raw(col+" ILIKE ?", l.Value), nil
		}
		return Raw("LOWER("+col+") LIKE LOWER(?)", l.Value), nil

	case OpIn, OpNotIn:
		values, ok := toSlice(l.Value)
		if !ok {
			return Expr{}, fmt.Errorf("%w: %s %s requires a list value", ErrInvalidPredicate, l.Field, l.Op)
		}
		if len(values) == 0 {
			// IN () matches nothing, NOT IN () matches everything
			if l.Op == OpIn {
				return Raw(t.Dialect.FalseLiteral()), nil
			}
			return Raw(t.Dialect.TrueLiteral()), nil
		}
		return Raw(fmt.Sprintf("%s %s (%s)", col, l.Op, placeholders(len(values))), values...), nil

	case OpIsNull, OpIsNotNull:
		return Raw(col + " " + l.Op.String()), nil

	case OpBetween:
		values, ok := toSlice(l.Value)
		if !ok || len(values) != 2 {
			return Expr{}, fmt.Errorf("%w: BETWEEN requires [min, max] values", ErrInvalidPredicate)
		}
		return Raw(col+" BETWEEN ? AND ?", values[0], values[1]), nil

	default:
		return Expr{}, fmt.Errorf("%w: %v", ErrUnknownOperator, l.Op)
	}
}

// related renders EXISTS (SELECT 1 FROM target WHERE <link> AND <where>).
// For has_many_through the pivot table is the subquery source and the target
// is joined onto it.
func (t *Translator) related(resource *schema.ResourceSchema, alias string, r *Related) (Expr, error) {
	rel, ok := resource.Relationships[r.Relation]
	if !ok {
		if resource.HasField(r.Relation) {
			return Expr{}, fmt.Errorf("%w: %s.%s is a field, use an operator object", ErrInvalidPredicate, resource.Name, r.Relation)
		}
		return Expr{}, fmt.Errorf("%w: %s.%s", ErrUnknownRelation, resource.Name, r.Relation)
	}
	target, err := t.Registry.Lookup(rel.TargetResource)
	if err != nil {
		return Expr{}, err
	}

	ownerPK := resource.PrimaryKey()
	targetPK := target.PrimaryKey()
	sub := t.Aliases.Next(target.Name)

	sel := Select(t.Dialect, "1")
	switch rel.Type {
	case schema.RelationshipBelongsTo:
		sel.From(target.TableName, sub).
			Where(Raw(t.Dialect.Column(sub, targetPK.Column) + " = " + t.Dialect.Column(alias, rel.ForeignKey)))

	case schema.RelationshipHasOne, schema.RelationshipHasMany:
		sel.From(target.TableName, sub).
			Where(Raw(t.Dialect.Column(sub, rel.ForeignKey) + " = " + t.Dialect.Column(alias, ownerPK.Column)))

	case schema.RelationshipHasManyThrough:
		pivot := t.Aliases.Next(rel.JoinTable)
		sel.From(rel.JoinTable, pivot).
			Join(InnerJoin, target.TableName, sub,
				Raw(t.Dialect.Column(sub, targetPK.Column)+" = "+t.Dialect.Column(pivot, rel.AssociationKey))).
			Where(Raw(t.Dialect.Column(pivot, rel.ForeignKey) + " = " + t.Dialect.Column(alias, ownerPK.Column)))
	}

	inner, err := t.Translate(target, sub, r.Where)
	if err != nil {
		return Expr{}, err
	}
	sel.Where(inner)

	body := sel.Render()
	return Expr{SQL: "EXISTS (" + body.SQL + ")", Args: body.Args}, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
