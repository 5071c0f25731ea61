package query

import (
	"fmt"
	"strings"
)

// Parse converts a declarative condition object into a Predicate.
//
//	{"name": "yoyo"}                      name = 'yoyo'
//	{"name": nil}                         name IS NULL
//	{"id": [1, 2]}                        id IN (1, 2)
//	{"age": {"$gte": 18, "$lt": 65}}      age >= 18 AND age < 65
//	{"$or": [{...}, {...}]}               disjunction
//	{"$not": {...}}                       negation
//	{"pets": {"name": "yoyo"}}            EXISTS through the pets relation
//
// Sibling keys are conjoined in key order. An empty object yields nil.
func Parse(cond map[string]any) (Predicate, error) {
	if len(cond) == 0 {
		return nil, nil
	}

	preds := make([]Predicate, 0, len(cond))
	for _, key := range sortedKeys(cond) {
		value := cond[key]

		var (
			p   Predicate
			err error
		)
		if strings.HasPrefix(key, "$") {
			p, err = parseCombinator(key, value)
		} else {
			p, err = parseField(key, value)
		}
		if err != nil {
			return nil, err
		}
		if p != nil {
			preds = append(preds, p)
		}
	}
	return And(preds...), nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// statically known conditions.
func MustParse(cond map[string]any) Predicate {
	p, err := Parse(cond)
	if err != nil {
		panic(err)
	}
	return p
}

func parseCombinator(key string, value any) (Predicate, error) {
	switch key {
	case "$and", "$or":
		items, ok := toSlice(value)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects a list, got %T", ErrInvalidPredicate, key, value)
		}
		preds := make([]Predicate, 0, len(items))
		for _, item := range items {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: %s items must be objects, got %T", ErrInvalidPredicate, key, item)
			}
			p, err := Parse(m)
			if err != nil {
				return nil, err
			}
			if p != nil {
				preds = append(preds, p)
			}
		}
		if key == "$or" {
			return Or(preds...), nil
		}
		return And(preds...), nil

	case "$not":
		m, ok := value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: $not expects an object, got %T", ErrInvalidPredicate, value)
		}
		p, err := Parse(m)
		if err != nil || p == nil {
			return nil, err
		}
		return Negate(p), nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperator, key)
	}
}

func parseField(field string, value any) (Predicate, error) {
	if value == nil {
		return IsNull(field), nil
	}
	if items, ok := toSlice(value); ok {
		return &Leaf{Field: field, Op: OpIn, Value: items}, nil
	}
	m, ok := value.(map[string]any)
	if !ok {
		return Eq(field, value), nil
	}
	if isOperatorMap(m) {
		return parseOperators(field, m)
	}
	inner, err := Parse(m)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	return Has(field, inner), nil
}

func isOperatorMap(m map[string]any) bool {
	if len(m) == 0 {
		return false
	}
	for k, v := range m {
		switch {
		case !strings.HasPrefix(k, "$"), k == "$and", k == "$or":
			return false
		case k == "$not":
			// {"$not": {"name": ...}} scopes a relation, {"$not": {"$eq": ...}} a field
			if inner, ok := v.(map[string]any); ok && !isOperatorMap(inner) {
				return false
			}
		}
	}
	return true
}

func parseOperators(field string, ops map[string]any) (Predicate, error) {
	preds := make([]Predicate, 0, len(ops))
	for _, op := range sortedKeys(ops) {
		value := ops[op]

		var p Predicate
		switch op {
		case "$eq":
			p = Eq(field, value)
		case "$ne":
			p = NotEq(field, value)
		case "$gt":
			p = GT(field, value)
		case "$gte":
			p = GTE(field, value)
		case "$lt":
			p = LT(field, value)
		case "$lte":
			p = LTE(field, value)
		case "$like":
			p = &Leaf{Field: field, Op: OpLike, Value: value}
		case "$ilike":
			p = &Leaf{Field: field, Op: OpILike, Value: value}
		case "$in", "$nin":
			items, ok := toSlice(value)
			if !ok {
				return nil, fmt.Errorf("%w: %s.%s expects a list, got %T", ErrInvalidPredicate, field, op, value)
			}
			if op == "$in" {
				p = &Leaf{Field: field, Op: OpIn, Value: items}
			} else {
				p = &Leaf{Field: field, Op: OpNotIn, Value: items}
			}
		case "$between":
			items, ok := toSlice(value)
			if !ok || len(items) != 2 {
				return nil, fmt.Errorf("%w: %s.$between expects [min, max]", ErrInvalidPredicate, field)
			}
			p = Between(field, items[0], items[1])
		case "$null":
			isNull, ok := value.(bool)
			if !ok {
				return nil, fmt.Errorf("%w: %s.$null expects a boolean", ErrInvalidPredicate, field)
			}
			if isNull {
				p = IsNull(field)
			} else {
				p = NotNull(field)
			}
		case "$not":
			m, ok := value.(map[string]any)
			if !ok || !isOperatorMap(m) {
				return nil, fmt.Errorf("%w: %s.$not expects an operator object", ErrInvalidPredicate, field)
			}
			inner, err := parseOperators(field, m)
			if err != nil {
				return nil, err
			}
			p = Negate(inner)
		default:
			return nil, fmt.Errorf("%w: %s on %s", ErrUnknownOperator, op, field)
		}
		preds = append(preds, p)
	}
	return And(preds...), nil
}
