// Package query provides the predicate AST, its translation into SQL
// conditions and the statement builder shared by the populate planner.
package query

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Operator represents a comparison operator
type Operator int

const (
	OpEqual Operator = iota
	OpNotEqual
	OpGreaterThan
	OpGreaterThanOrEqual
	OpLessThan
	OpLessThanOrEqual
	OpIn
	OpNotIn
	OpLike
	OpILike
	OpIsNull
	OpIsNotNull
	OpBetween
)

// String returns the string representation of the operator
func (o Operator) String() string {
	switch o {
	case OpEqual:
		return "="
	case OpNotEqual:
		return "!="
	case OpGreaterThan:
		return ">"
	case OpGreaterThanOrEqual:
		return ">="
	case OpLessThan:
		return "<"
	case OpLessThanOrEqual:
		return "<="
	case OpIn:
		return "IN"
	case OpNotIn:
		return "NOT IN"
	case OpLike:
		return "LIKE"
	case OpILike:
		return "ILIKE"
	case OpIsNull:
		return "IS NULL"
	case OpIsNotNull:
		return "IS NOT NULL"
	case OpBetween:
		return "BETWEEN"
	default:
		return "UNKNOWN"
	}
}

// Predicate is a node of the condition tree. The set of implementations is
// closed: Leaf, Group, Not and Related.
type Predicate interface {
	predicateNode()
	String() string
}

// Leaf compares one field of the current entity with a value.
type Leaf struct {
	Field string
	Op    Operator
	Value any
}

// Group combines predicates with AND, or with OR when Or is set.
type Group struct {
	Predicates []Predicate
	Or         bool
}

// Not negates a predicate.
type Not struct {
	Predicate Predicate
}

// Related applies Where to the entities reachable through Relation.
type Related struct {
	Relation string
	Where    Predicate
}

func (*Leaf) predicateNode()    {}
func (*Group) predicateNode()   {}
func (*Not) predicateNode()     {}
func (*Related) predicateNode() {}

// Eq returns a field = value predicate. A nil value becomes IS NULL.
func Eq(field string, value any) Predicate {
	if value == nil {
		return IsNull(field)
	}
	return &Leaf{Field: field, Op: OpEqual, Value: value}
}

// NotEq returns a field != value predicate. A nil value becomes IS NOT NULL.
func NotEq(field string, value any) Predicate {
	if value == nil {
		return NotNull(field)
	}
	return &Leaf{Field: field, Op: OpNotEqual, Value: value}
}

func GT(field string, value any) Predicate  { return &Leaf{Field: field, Op: OpGreaterThan, Value: value} }
func GTE(field string, value any) Predicate { return &Leaf{Field: field, Op: OpGreaterThanOrEqual, Value: value} }
func LT(field string, value any) Predicate  { return &Leaf{Field: field, Op: OpLessThan, Value: value} }
func LTE(field string, value any) Predicate { return &Leaf{Field: field, Op: OpLessThanOrEqual, Value: value} }

// In returns a field IN (values) predicate.
func In(field string, values ...any) Predicate {
	return &Leaf{Field: field, Op: OpIn, Value: values}
}

// NotIn returns a field NOT IN (values) predicate.
func NotIn(field string, values ...any) Predicate {
	return &Leaf{Field: field, Op: OpNotIn, Value: values}
}

func Like(field, pattern string) Predicate  { return &Leaf{Field: field, Op: OpLike, Value: pattern} }
func ILike(field, pattern string) Predicate { return &Leaf{Field: field, Op: OpILike, Value: pattern} }
func IsNull(field string) Predicate         { return &Leaf{Field: field, Op: OpIsNull} }
func NotNull(field string) Predicate        { return &Leaf{Field: field, Op: OpIsNotNull} }

// Between returns a min <= field <= max predicate.
func Between(field string, min, max any) Predicate {
	return &Leaf{Field: field, Op: OpBetween, Value: []any{min, max}}
}

// And conjoins predicates. Nil operands are dropped and a single operand is
// returned unwrapped.
func And(preds ...Predicate) Predicate {
	return group(false, preds)
}

// Or disjoins predicates.
func Or(preds ...Predicate) Predicate {
	return group(true, preds)
}

func group(or bool, preds []Predicate) Predicate {
	kept := make([]Predicate, 0, len(preds))
	for _, p := range preds {
		if p != nil {
			kept = append(kept, p)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	}
	return &Group{Predicates: kept, Or: or}
}

// Negate wraps p in a Not.
func Negate(p Predicate) Predicate {
	return &Not{Predicate: p}
}

// Has returns a predicate that holds when at least one entity reachable
// through relation satisfies where.
func Has(relation string, where Predicate) Predicate {
	return &Related{Relation: relation, Where: where}
}

func (l *Leaf) String() string {
	switch l.Op {
	case OpIsNull, OpIsNotNull:
		return fmt.Sprintf("%s %s", l.Field, l.Op)
	}
	return fmt.Sprintf("%s %s %s", l.Field, l.Op, formatValue(l.Value))
}

func (g *Group) String() string {
	sep := " && "
	if g.Or {
		sep = " || "
	}
	parts := make([]string, len(g.Predicates))
	for i, p := range g.Predicates {
		s := p.String()
		if inner, ok := p.(*Group); ok && inner.Or != g.Or {
			s = "(" + s + ")"
		}
		parts[i] = s
	}
	return strings.Join(parts, sep)
}

func (n *Not) String() string {
	return "!(" + n.Predicate.String() + ")"
}

func (r *Related) String() string {
	if r.Where == nil {
		return "has(" + r.Relation + ")"
	}
	return "has(" + r.Relation + ", " + r.Where.String() + ")"
}

func formatValue(v any) string {
	switch val := v.(type) {
	case string:
		return fmt.Sprintf("%q", val)
	case []any:
		parts := make([]string, len(val))
		for i, e := range val {
			parts[i] = formatValue(e)
		}
		return "[" + strings.Join(parts, ",") + "]"
	default:
		return fmt.Sprint(val)
	}
}

// toSlice converts any non-byte slice or array into []any.
func toSlice(v any) ([]any, bool) {
	if s, ok := v.([]any); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return nil, false
	}
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// sortedKeys returns map keys in a stable order so rendered SQL is
// deterministic.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
