package populate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/conduit-lang/populate/internal/orm/query"
	"github.com/conduit-lang/populate/internal/orm/schema"
)

// Populate requests one relation path, optionally pinning its strategy.
type Populate struct {
	Path     string
	Strategy schema.LoadStrategy
}

// FindOptions describes a root query and the graph to populate around it.
type FindOptions struct {
	// Where filters root rows. Relation conditions become EXISTS subqueries
	// and never multiply rows.
	Where query.Predicate

	// Populate lists the relation paths to load. Requesting "a.b" implies "a".
	Populate []Populate

	// PopulateWhere restricts which related entities are attached for a path.
	// It never removes root rows.
	PopulateWhere map[string]query.Predicate

	// Strategy, when set, applies to every populated path.
	Strategy schema.LoadStrategy

	OrderBy []query.Order
	Limit   int
	Offset  int
}

// Paginated reports whether a limit or offset applies.
func (o FindOptions) Paginated() bool {
	return o.Limit > 0 || o.Offset > 0
}

// Paths is shorthand for populating paths with their default strategies.
// Each path may carry a ":joined" or ":select-in" suffix.
func MustPaths(paths ...string) []Populate {
	out, err := ParsePopulate(paths)
	if err != nil {
		panic(err)
	}
	return out
}

// ParsePopulate accepts a path string, a list of path strings or a nested
// object such as {"pets": {"action": true}}. Object leaves may be true, a
// strategy name, or a nested object.
func ParsePopulate(spec any) ([]Populate, error) {
	var out []Populate
	if err := parsePopulate("", spec, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func parsePopulate(prefix string, spec any, out *[]Populate) error {
	switch v := spec.(type) {
	case nil:
		return nil
	case string:
		p, err := parsePath(v)
		if err != nil {
			return err
		}
		if prefix != "" {
			p.Path = prefix + "." + p.Path
		}
		*out = append(*out, p)
		return nil
	case []string:
		for _, s := range v {
			if err := parsePopulate(prefix, s, out); err != nil {
				return err
			}
		}
		return nil
	case []any:
		for _, s := range v {
			if err := parsePopulate(prefix, s, out); err != nil {
				return err
			}
		}
		return nil
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			path := k
			if prefix != "" {
				path = prefix + "." + k
			}
			switch leaf := v[k].(type) {
			case bool:
				if leaf {
					*out = append(*out, Populate{Path: path})
				}
			case string:
				strategy, err := schema.ParseLoadStrategy(leaf)
				if err != nil {
					return fmt.Errorf("populate %s: %w", path, err)
				}
				*out = append(*out, Populate{Path: path, Strategy: strategy})
			case map[string]any, []any, []string:
				*out = append(*out, Populate{Path: path})
				if err := parsePopulate(path, leaf, out); err != nil {
					return err
				}
			default:
				return fmt.Errorf("populate %s: unsupported value %T", path, leaf)
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported populate value %T", spec)
	}
}

func parsePath(s string) (Populate, error) {
	path, strategy, found := strings.Cut(strings.TrimSpace(s), ":")
	p := Populate{Path: path}
	if found {
		st, err := schema.ParseLoadStrategy(strategy)
		if err != nil {
			return p, fmt.Errorf("populate %s: %w", path, err)
		}
		p.Strategy = st
	}
	return p, nil
}

// ParsePopulateWhere converts {"pets": {"name": "yoyo"}} into per-path
// predicates. Keys are relation paths (dotted paths allowed); values are
// conditions on that path's target entity.
func ParsePopulateWhere(spec map[string]any) (map[string]query.Predicate, error) {
	out := make(map[string]query.Predicate, len(spec))
	for path, v := range spec {
		cond, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: populateWhere %s must be an object, got %T", query.ErrInvalidPredicate, path, v)
		}
		p, err := query.Parse(cond)
		if err != nil {
			return nil, fmt.Errorf("populateWhere %s: %w", path, err)
		}
		if p != nil {
			out[path] = p
		}
	}
	return out, nil
}
