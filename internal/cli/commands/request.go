package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conduit-lang/populate/internal/orm/populate"
	"github.com/conduit-lang/populate/internal/orm/query"
	"github.com/conduit-lang/populate/internal/orm/schema"
)

// requestFlags are the find options shared by plan and find.
type requestFlags struct {
	populate      []string
	where         string
	populateWhere string
	strategy      string
	orderBy       []string
	limit         int
	offset        int
}

func (f *requestFlags) bind(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringArrayVarP(&f.populate, "populate", "p", nil,
		"relation path to populate, e.g. pets.action or pets:joined; an object such as '{pets: {action: true}}' is also accepted (repeatable)")
	fl.StringVarP(&f.where, "where", "w", "", "root condition object, e.g. '{name: {$like: \"user%\"}}'")
	fl.StringVar(&f.populateWhere, "populate-where", "", "per-path condition object, e.g. '{pets: {name: yoyo}}'")
	fl.StringVarP(&f.strategy, "strategy", "s", "", "load strategy for every populated path: joined or select-in")
	fl.StringArrayVar(&f.orderBy, "order-by", nil, "root ordering term such as 'name desc' or '-name' (repeatable)")
	fl.IntVar(&f.limit, "limit", 0, "maximum number of root entities")
	fl.IntVar(&f.offset, "offset", 0, "number of root entities to skip")
}

// options converts the flags into FindOptions. Condition objects are YAML,
// so JSON works as well.
func (f *requestFlags) options() (populate.FindOptions, error) {
	opts := populate.FindOptions{Limit: f.limit, Offset: f.offset}

	for _, raw := range f.populate {
		var spec any = raw
		if strings.HasPrefix(strings.TrimSpace(raw), "{") || strings.HasPrefix(strings.TrimSpace(raw), "[") {
			if err := yaml.Unmarshal([]byte(raw), &spec); err != nil {
				return opts, fmt.Errorf("--populate: %w", err)
			}
		}
		paths, err := populate.ParsePopulate(spec)
		if err != nil {
			return opts, fmt.Errorf("--populate: %w", err)
		}
		opts.Populate = append(opts.Populate, paths...)
	}

	where, err := decodeObject("--where", f.where)
	if err != nil {
		return opts, err
	}
	if opts.Where, err = query.Parse(where); err != nil {
		return opts, fmt.Errorf("--where: %w", err)
	}

	pw, err := decodeObject("--populate-where", f.populateWhere)
	if err != nil {
		return opts, err
	}
	if opts.PopulateWhere, err = populate.ParsePopulateWhere(pw); err != nil {
		return opts, fmt.Errorf("--populate-where: %w", err)
	}

	if opts.Strategy, err = schema.ParseLoadStrategy(f.strategy); err != nil {
		return opts, fmt.Errorf("--strategy: %w", err)
	}
	if opts.OrderBy, err = query.ParseOrder(f.orderBy...); err != nil {
		return opts, fmt.Errorf("--order-by: %w", err)
	}
	return opts, nil
}

func decodeObject(flag, raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var out map[string]any
	if err := yaml.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("%s: %w", flag, err)
	}
	return out, nil
}
