package entity

import (
	"fmt"
	"strconv"
	"sync"
)

// IdentityMap guarantees at most one Entity per (resource, primary key)
// within a session. It is safe for concurrent use.
type IdentityMap struct {
	mu      sync.Mutex
	entries map[string]*Entity
}

// NewIdentityMap creates an empty identity map
func NewIdentityMap() *IdentityMap {
	return &IdentityMap{
		entries: make(map[string]*Entity),
	}
}

// GetOrCreate returns the entity registered for (resource, pk), creating it
// from data when absent. Fields already present on an existing entity are
// kept; missing ones are filled from data.
func (m *IdentityMap) GetOrCreate(resource string, pk any, data map[string]any) (*Entity, error) {
	key, err := KeyOf(pk)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", resource, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	mapKey := resource + ":" + key
	e, ok := m.entries[mapKey]
	if !ok {
		e = newEntity(resource, pk, key)
		m.entries[mapKey] = e
	}
	for field, value := range data {
		if _, set := e.fields[field]; !set {
			e.fields[field] = value
		}
	}
	return e, nil
}

// Get returns the entity registered for (resource, pk).
func (m *IdentityMap) Get(resource string, pk any) (*Entity, bool) {
	key, err := KeyOf(pk)
	if err != nil {
		return nil, false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[resource+":"+key]
	return e, ok
}

// Len returns the number of registered entities
func (m *IdentityMap) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.entries)
}

// Clear drops every registered entity
func (m *IdentityMap) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]*Entity)
}

// KeyOf normalizes a primary or foreign key value so that the same key read
// through different drivers or columns compares equal (int64(5), 5 and "5").
func KeyOf(id any) (string, error) {
	if id == nil {
		return "", fmt.Errorf("ID cannot be nil")
	}

	switch v := id.(type) {
	case string:
		return v, nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case uint:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10), nil
		}
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case []byte:
		// UUID stored as bytes
		return string(v), nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return fmt.Sprintf("%v", v), nil
	}
}
