// Package entity holds the in-memory object graph produced by populate:
// entities keyed by (resource, primary key), their to-many collections and
// to-one references, and the identity map that keeps one instance per key.
package entity

import (
	"errors"
	"fmt"
	"sort"
)

// ErrNotLoaded is returned when reading a relation that was never populated
var ErrNotLoaded = errors.New("relation not loaded")

// Entity is one row materialised into the graph.
type Entity struct {
	Resource string
	ID       any

	key         string
	fields      map[string]any
	collections map[string]*Collection
	references  map[string]*Reference
}

func newEntity(resource string, id any, key string) *Entity {
	return &Entity{
		Resource:    resource,
		ID:          id,
		key:         key,
		fields:      make(map[string]any),
		collections: make(map[string]*Collection),
		references:  make(map[string]*Reference),
	}
}

// Key returns the normalized primary key.
func (e *Entity) Key() string {
	return e.key
}

// Get returns a field value.
func (e *Entity) Get(field string) (any, bool) {
	v, ok := e.fields[field]
	return v, ok
}

// Set assigns a field value.
func (e *Entity) Set(field string, value any) {
	e.fields[field] = value
}

// Fields returns a copy of the scalar fields.
func (e *Entity) Fields() map[string]any {
	out := make(map[string]any, len(e.fields))
	for k, v := range e.fields {
		out[k] = v
	}
	return out
}

// Collection returns the named to-many relation. A relation that was never
// populated is returned unloaded, never nil.
func (e *Entity) Collection(name string) *Collection {
	c, ok := e.collections[name]
	if !ok {
		c = newCollection()
		e.collections[name] = c
	}
	return c
}

// Reference returns the named to-one relation, unloaded if never populated.
func (e *Entity) Reference(name string) *Reference {
	r, ok := e.references[name]
	if !ok {
		r = &Reference{}
		e.references[name] = r
	}
	return r
}

// String implements fmt.Stringer
func (e *Entity) String() string {
	return fmt.Sprintf("%s(%s)", e.Resource, e.key)
}

// ToMap renders the entity and every loaded relation as nested maps. An
// entity already on the current path renders as its primary key only.
func (e *Entity) ToMap() map[string]any {
	return e.toMap(map[*Entity]bool{})
}

func (e *Entity) toMap(path map[*Entity]bool) map[string]any {
	if path[e] {
		return map[string]any{"id": e.ID}
	}
	out := e.Fields()
	path[e] = true
	defer delete(path, e)

	for _, name := range sortedNames(e.collections) {
		c := e.collections[name]
		if !c.loaded {
			continue
		}
		items := make([]any, 0, len(c.items))
		for _, item := range c.items {
			items = append(items, item.toMap(path))
		}
		out[name] = items
	}
	for _, name := range sortedNames(e.references) {
		r := e.references[name]
		if !r.loaded {
			continue
		}
		if r.target == nil {
			out[name] = nil
		} else {
			out[name] = r.target.toMap(path)
		}
	}
	return out
}

func sortedNames[T any](m map[string]T) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Collection is a to-many relation. Items keep first-attached order and are
// unique by primary key.
type Collection struct {
	loaded bool
	items  []*Entity
	seen   map[string]struct{}
}

func newCollection() *Collection {
	return &Collection{seen: make(map[string]struct{})}
}

// Loaded reports whether the relation was populated, even if it is empty.
func (c *Collection) Loaded() bool {
	return c.loaded
}

// MarkLoaded flags the collection as populated without adding items.
func (c *Collection) MarkLoaded() {
	c.loaded = true
}

// Reset empties the collection and marks it loaded, so a new populate
// replaces rather than extends earlier contents.
func (c *Collection) Reset() {
	c.loaded = true
	c.items = nil
	c.seen = make(map[string]struct{})
}

// Add appends e unless an entity with the same key is already present. It
// reports whether e was added.
func (c *Collection) Add(e *Entity) bool {
	c.loaded = true
	if _, dup := c.seen[e.key]; dup {
		return false
	}
	c.seen[e.key] = struct{}{}
	c.items = append(c.items, e)
	return true
}

// Items returns the members, or ErrNotLoaded for an unpopulated relation.
func (c *Collection) Items() ([]*Entity, error) {
	if !c.loaded {
		return nil, ErrNotLoaded
	}
	out := make([]*Entity, len(c.items))
	copy(out, c.items)
	return out, nil
}

// Len returns the number of members; zero when unloaded.
func (c *Collection) Len() int {
	return len(c.items)
}

// Reference is a to-one relation.
type Reference struct {
	loaded bool
	target *Entity
}

// Loaded reports whether the relation was populated, even if it is null.
func (r *Reference) Loaded() bool {
	return r.loaded
}

// Set populates the reference. A nil target marks it loaded and keeps any
// target attached earlier.
func (r *Reference) Set(target *Entity) {
	r.loaded = true
	if target != nil {
		r.target = target
	}
}

// Reset clears the target and marks the reference loaded.
func (r *Reference) Reset() {
	r.loaded = true
	r.target = nil
}

// MarkLoaded flags the reference as populated without a target.
func (r *Reference) MarkLoaded() {
	r.loaded = true
}

// Get returns the target (nil for a null reference) or ErrNotLoaded.
func (r *Reference) Get() (*Entity, error) {
	if !r.loaded {
		return nil, ErrNotLoaded
	}
	return r.target, nil
}
