package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	// ErrUnknownResource is returned when a resource name is not registered
	ErrUnknownResource = errors.New("unknown resource")

	// ErrUnknownRelationship is returned when a path segment does not name a
	// relationship of the entity it is applied to
	ErrUnknownRelationship = errors.New("unknown relationship")
)

// Registry manages all resource schemas in the application
type Registry struct {
	schemas   map[string]*ResourceSchema
	validator *SchemaValidator
	mu        sync.RWMutex
}

// NewRegistry creates a new schema registry
func NewRegistry() *Registry {
	return &Registry{
		schemas:   make(map[string]*ResourceSchema),
		validator: NewSchemaValidator(),
	}
}

// Register registers a new resource schema
func (r *Registry) Register(schema *ResourceSchema) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.schemas[schema.Name]; exists {
		return fmt.Errorf("resource %s is already registered", schema.Name)
	}

	r.fillDefaults(schema)

	// Relationship targets may be registered later; ValidateAll covers them.
	if err := r.validator.ValidateStructural(schema); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", schema.Name, err)
	}

	r.schemas[schema.Name] = schema
	return nil
}

// MustRegister registers every schema and panics on the first failure.
func (r *Registry) MustRegister(schemas ...*ResourceSchema) *Registry {
	for _, s := range schemas {
		if err := r.Register(s); err != nil {
			panic(err)
		}
	}
	return r
}

// fillDefaults derives omitted foreign keys from the conventional names.
func (r *Registry) fillDefaults(schema *ResourceSchema) {
	if schema.TableName == "" {
		schema.TableName = DefaultTableName(schema.Name)
	}
	for name, rel := range schema.Relationships {
		if rel.Name == "" {
			rel.Name = name
		}
		if rel.Type == RelationshipHasManyThrough && rel.AssociationKey == "" {
			rel.AssociationKey = ToSnakeCase(rel.TargetResource) + "_id"
		}
		if rel.ForeignKey != "" {
			continue
		}
		switch rel.Type {
		case RelationshipBelongsTo:
			rel.ForeignKey = ToSnakeCase(rel.Name) + "_id"
		case RelationshipHasOne, RelationshipHasMany, RelationshipHasManyThrough:
			rel.ForeignKey = ToSnakeCase(schema.Name) + "_id"
		}
	}
}

// Get retrieves a resource schema by name
func (r *Registry) Get(name string) (*ResourceSchema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schema, exists := r.schemas[name]
	return schema, exists
}

// Lookup retrieves a resource schema or returns ErrUnknownResource.
func (r *Registry) Lookup(name string) (*ResourceSchema, error) {
	schema, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownResource, name)
	}
	return schema, nil
}

// All returns a copy of all registered schemas
func (r *Registry) All() map[string]*ResourceSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*ResourceSchema, len(r.schemas))
	for k, v := range r.schemas {
		result[k] = v
	}
	return result
}

// List returns the sorted list of all resource names
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateAll performs cross-resource validation on all registered schemas
func (r *Registry) ValidateAll() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	sort.Strings(names)

	v := NewSchemaValidator()
	for _, name := range names {
		if err := v.Validate(r.schemas[name], r.schemas); err != nil {
			return fmt.Errorf("relationship validation failed: %w", err)
		}
	}
	return nil
}

// Count returns the number of registered schemas
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.schemas)
}

// Hop is one resolved step of a relation path.
type Hop struct {
	Owner        *ResourceSchema
	Relationship *Relationship
	Target       *ResourceSchema
}

// ResolvePath walks a dotted relation path from root and returns one Hop per
// segment. Any segment that does not name a relationship of the preceding
// entity fails with ErrUnknownRelationship.
func (r *Registry) ResolvePath(root string, path string) ([]Hop, error) {
	owner, err := r.Lookup(root)
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, fmt.Errorf("%w: empty path on %s", ErrUnknownRelationship, root)
	}

	segments := strings.Split(path, ".")
	hops := make([]Hop, 0, len(segments))
	for _, seg := range segments {
		rel, ok := owner.Relationships[seg]
		if !ok {
			return nil, fmt.Errorf("%w: %s has no relationship %q", ErrUnknownRelationship, owner.Name, seg)
		}
		target, err := r.Lookup(rel.TargetResource)
		if err != nil {
			return nil, err
		}
		hops = append(hops, Hop{Owner: owner, Relationship: rel, Target: target})
		owner = target
	}
	return hops, nil
}
