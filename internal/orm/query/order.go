package query

import (
	"fmt"
	"strings"

	"github.com/conduit-lang/populate/internal/orm/schema"
)

// Order is one ordering term on a field of the queried entity.
type Order struct {
	Field string
	Desc  bool
}

// ParseOrder parses "name", "name desc" or "-name" terms.
func ParseOrder(terms ...string) ([]Order, error) {
	orders := make([]Order, 0, len(terms))
	for _, term := range terms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		if strings.HasPrefix(term, "-") {
			orders = append(orders, Order{Field: term[1:], Desc: true})
			continue
		}
		parts := strings.Fields(term)
		o := Order{Field: parts[0]}
		if len(parts) > 1 {
			switch strings.ToLower(parts[1]) {
			case "asc":
			case "desc":
				o.Desc = true
			default:
				return nil, fmt.Errorf("invalid order direction %q", parts[1])
			}
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// Render returns the ordering term for resource rows aliased as alias.
func (o Order) Render(d Dialect, resource *schema.ResourceSchema, alias string) (string, error) {
	field, ok := resource.Field(o.Field)
	if !ok {
		return "", fmt.Errorf("%w: %s.%s", ErrUnknownField, resource.Name, o.Field)
	}
	col := d.Column(alias, field.Column)
	if o.Desc {
		return Desc(col), nil
	}
	return Asc(col), nil
}
