// Package schema provides the static entity descriptor table used by the
// populate planner. A ResourceSchema describes one entity: its table, its
// ordered columns and the relationships that can be populated from it.
package schema

import (
	"fmt"
	"strings"

	"github.com/go-openapi/inflect"
)

// PrimitiveType represents the storage type of a field
type PrimitiveType int

const (
	TypeString PrimitiveType = iota
	TypeText
	TypeInt
	TypeBigInt
	TypeFloat
	TypeDecimal
	TypeBool
	TypeTimestamp
	TypeDate
	TypeUUID
	TypeJSON
)

// String returns the string representation of the primitive type
func (p PrimitiveType) String() string {
	switch p {
	case TypeString:
		return "string"
	case TypeText:
		return "text"
	case TypeInt:
		return "int"
	case TypeBigInt:
		return "bigint"
	case TypeFloat:
		return "float"
	case TypeDecimal:
		return "decimal"
	case TypeBool:
		return "bool"
	case TypeTimestamp:
		return "timestamp"
	case TypeDate:
		return "date"
	case TypeUUID:
		return "uuid"
	case TypeJSON:
		return "json"
	default:
		return "unknown"
	}
}

// ParsePrimitiveType converts a string to a PrimitiveType
func ParsePrimitiveType(s string) (PrimitiveType, error) {
	switch strings.ToLower(s) {
	case "string", "":
		return TypeString, nil
	case "text":
		return TypeText, nil
	case "int", "integer":
		return TypeInt, nil
	case "bigint":
		return TypeBigInt, nil
	case "float":
		return TypeFloat, nil
	case "decimal":
		return TypeDecimal, nil
	case "bool", "boolean":
		return TypeBool, nil
	case "timestamp", "datetime":
		return TypeTimestamp, nil
	case "date":
		return TypeDate, nil
	case "uuid":
		return TypeUUID, nil
	case "json", "jsonb":
		return TypeJSON, nil
	default:
		return 0, fmt.Errorf("unknown primitive type: %s", s)
	}
}

// Field represents a single mapped column
type Field struct {
	Name     string
	Column   string
	Type     PrimitiveType
	Nullable bool
	Primary  bool
}

// RelationType represents the type of relationship
type RelationType int

const (
	RelationshipBelongsTo RelationType = iota
	RelationshipHasMany
	RelationshipHasManyThrough
	RelationshipHasOne
)

// String returns the string representation of the relationship type
func (r RelationType) String() string {
	switch r {
	case RelationshipBelongsTo:
		return "belongs_to"
	case RelationshipHasMany:
		return "has_many"
	case RelationshipHasManyThrough:
		return "has_many_through"
	case RelationshipHasOne:
		return "has_one"
	default:
		return "unknown"
	}
}

// ParseRelationType converts a string to a RelationType
func ParseRelationType(s string) (RelationType, error) {
	switch strings.ToLower(s) {
	case "belongs_to", "many_to_one":
		return RelationshipBelongsTo, nil
	case "has_many", "one_to_many":
		return RelationshipHasMany, nil
	case "has_many_through", "many_to_many":
		return RelationshipHasManyThrough, nil
	case "has_one", "one_to_one":
		return RelationshipHasOne, nil
	default:
		return 0, fmt.Errorf("unknown relationship type: %s", s)
	}
}

// ToMany reports whether the relationship resolves to a collection.
func (r RelationType) ToMany() bool {
	return r == RelationshipHasMany || r == RelationshipHasManyThrough
}

// LoadStrategy selects how a relationship is fetched.
type LoadStrategy int

const (
	// StrategyDefault defers to the planner's per-kind defaults.
	StrategyDefault LoadStrategy = iota
	// StrategyJoined fetches the relation with a LEFT JOIN in the parent query.
	StrategyJoined
	// StrategySelectIn fetches the relation with a follow-up query keyed by the
	// parent keys.
	StrategySelectIn
)

// String returns the string representation of the load strategy
func (s LoadStrategy) String() string {
	switch s {
	case StrategyJoined:
		return "joined"
	case StrategySelectIn:
		return "select-in"
	default:
		return "auto"
	}
}

// ParseLoadStrategy converts a string to a LoadStrategy
func ParseLoadStrategy(s string) (LoadStrategy, error) {
	switch strings.ToLower(s) {
	case "", "auto", "default":
		return StrategyDefault, nil
	case "joined", "join":
		return StrategyJoined, nil
	case "select-in", "select_in", "selectin":
		return StrategySelectIn, nil
	default:
		return 0, fmt.Errorf("unknown load strategy: %s", s)
	}
}

// Relationship represents a relationship between resources.
//
// ForeignKey is the column holding the link: on the owner for belongs_to, on
// the target for has_one and has_many, and on the pivot (pointing at the
// owner) for has_many_through. AssociationKey is the pivot column pointing at
// the target.
type Relationship struct {
	Name           string
	Type           RelationType
	TargetResource string
	Nullable       bool

	ForeignKey string

	// For collections
	OrderBy string

	// For has_many_through
	JoinTable      string
	AssociationKey string

	// Preferred load strategy for this relation
	Strategy LoadStrategy
}

// ResourceSchema represents the complete schema for a resource
type ResourceSchema struct {
	Name          string
	TableName     string
	Fields        []*Field
	Relationships map[string]*Relationship

	fieldIndex map[string]*Field
}

// NewResourceSchema creates a new ResourceSchema
func NewResourceSchema(name string) *ResourceSchema {
	return &ResourceSchema{
		Name:          name,
		TableName:     DefaultTableName(name),
		Fields:        make([]*Field, 0),
		Relationships: make(map[string]*Relationship),
		fieldIndex:    make(map[string]*Field),
	}
}

// AddField appends a field, deriving the column name when it is empty.
func (r *ResourceSchema) AddField(f *Field) *ResourceSchema {
	if f.Column == "" {
		f.Column = ToSnakeCase(f.Name)
	}
	r.Fields = append(r.Fields, f)
	r.index()[f.Name] = f
	return r
}

// AddRelationship registers a relationship under its name.
func (r *ResourceSchema) AddRelationship(rel *Relationship) *ResourceSchema {
	r.Relationships[rel.Name] = rel
	return r
}

// GetPrimaryKey returns the primary key field
func (r *ResourceSchema) GetPrimaryKey() (*Field, error) {
	for _, field := range r.Fields {
		if field.Primary {
			return field, nil
		}
	}
	return nil, fmt.Errorf("resource %s has no primary key", r.Name)
}

// PrimaryKey returns the primary key field, or nil when none is declared.
func (r *ResourceSchema) PrimaryKey() *Field {
	pk, _ := r.GetPrimaryKey()
	return pk
}

// Field looks up a field by name or column.
func (r *ResourceSchema) Field(name string) (*Field, bool) {
	if f, ok := r.index()[name]; ok {
		return f, true
	}
	for _, f := range r.Fields {
		if f.Column == name {
			return f, true
		}
	}
	return nil, false
}

// HasField returns true if the resource has a field with the given name
func (r *ResourceSchema) HasField(name string) bool {
	_, exists := r.Field(name)
	return exists
}

// HasColumn returns true if one of the fields maps to column.
func (r *ResourceSchema) HasColumn(column string) bool {
	for _, f := range r.Fields {
		if f.Column == column {
			return true
		}
	}
	return false
}

// HasRelationship returns true if the resource has a relationship with the given name
func (r *ResourceSchema) HasRelationship(name string) bool {
	_, exists := r.Relationships[name]
	return exists
}

// Columns returns the column names in declaration order.
func (r *ResourceSchema) Columns() []string {
	cols := make([]string, len(r.Fields))
	for i, f := range r.Fields {
		cols[i] = f.Column
	}
	return cols
}

func (r *ResourceSchema) index() map[string]*Field {
	if r.fieldIndex == nil {
		r.fieldIndex = make(map[string]*Field, len(r.Fields))
		for _, f := range r.Fields {
			r.fieldIndex[f.Name] = f
		}
	}
	return r.fieldIndex
}

// DefaultTableName returns the pluralized snake_case table for a resource.
func DefaultTableName(resource string) string {
	return inflect.Pluralize(ToSnakeCase(resource))
}

// ToSnakeCase converts a string to snake_case
func ToSnakeCase(s string) string {
	var result []rune
	runes := []rune(s)

	for i, r := range runes {
		if i > 0 && r >= 'A' && r <= 'Z' {
			prev := runes[i-1]
			// Underscore on a camelCase boundary or at the end of an acronym
			// ("HTTPServer" -> "http_server").
			if prev >= 'a' && prev <= 'z' || prev >= '0' && prev <= '9' {
				result = append(result, '_')
			} else if i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z' {
				result = append(result, '_')
			}
		}
		if r >= 'A' && r <= 'Z' {
			result = append(result, r+('a'-'A'))
		} else {
			result = append(result, r)
		}
	}
	return string(result)
}
