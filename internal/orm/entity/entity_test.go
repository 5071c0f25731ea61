package entity

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityMap_GetOrCreate(t *testing.T) {
	m := NewIdentityMap()

	a, err := m.GetOrCreate("User", int64(1), map[string]any{"id": int64(1), "name": "a"})
	require.NoError(t, err)
	b, err := m.GetOrCreate("User", 1, map[string]any{"name": "ignored", "email": "a@example.com"})
	require.NoError(t, err)

	assert.Same(t, a, b, "int and int64 keys must resolve to one instance")
	name, _ := a.Get("name")
	assert.Equal(t, "a", name, "existing fields are kept")
	email, _ := a.Get("email")
	assert.Equal(t, "a@example.com", email, "missing fields are filled")
	assert.Equal(t, 1, m.Len())

	other, err := m.GetOrCreate("Pet", 1, nil)
	require.NoError(t, err)
	assert.NotSame(t, a, other, "key includes the resource")

	_, err = m.GetOrCreate("User", nil, nil)
	assert.Error(t, err)
}

func TestIdentityMap_Concurrent(t *testing.T) {
	m := NewIdentityMap()

	var wg sync.WaitGroup
	results := make([]*Entity, 50)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, err := m.GetOrCreate("Pet", 7, map[string]any{"id": 7})
			assert.NoError(t, err)
			results[i] = e
		}(i)
	}
	wg.Wait()

	for _, e := range results {
		assert.Same(t, results[0], e)
	}
	assert.Equal(t, 1, m.Len())

	m.Clear()
	_, ok := m.Get("Pet", 7)
	assert.False(t, ok)
}

func TestCollection_LoadedVersusEmpty(t *testing.T) {
	m := NewIdentityMap()
	user, _ := m.GetOrCreate("User", 1, nil)

	pets := user.Collection("pets")
	assert.False(t, pets.Loaded())
	_, err := pets.Items()
	assert.ErrorIs(t, err, ErrNotLoaded)

	pets.MarkLoaded()
	items, err := pets.Items()
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestCollection_DedupesByKey(t *testing.T) {
	m := NewIdentityMap()
	user, _ := m.GetOrCreate("User", 1, nil)
	p1, _ := m.GetOrCreate("Pet", 1, nil)
	p2, _ := m.GetOrCreate("Pet", 2, nil)

	pets := user.Collection("pets")
	assert.True(t, pets.Add(p2))
	assert.True(t, pets.Add(p1))
	assert.False(t, pets.Add(p2))

	items, err := pets.Items()
	require.NoError(t, err)
	assert.Equal(t, []*Entity{p2, p1}, items, "first-seen order")

	pets.Reset()
	assert.True(t, pets.Loaded())
	assert.Equal(t, 0, pets.Len())
}

func TestReference(t *testing.T) {
	m := NewIdentityMap()
	pet, _ := m.GetOrCreate("Pet", 1, nil)
	user, _ := m.GetOrCreate("User", 1, nil)

	ref := pet.Reference("user")
	_, err := ref.Get()
	assert.ErrorIs(t, err, ErrNotLoaded)

	ref.Set(nil)
	target, err := ref.Get()
	require.NoError(t, err)
	assert.Nil(t, target)

	ref.Set(user)
	target, _ = ref.Get()
	assert.Same(t, user, target)
}

func TestEntity_ToMap(t *testing.T) {
	m := NewIdentityMap()
	user, _ := m.GetOrCreate("User", 1, map[string]any{"id": 1, "name": "a"})
	pet, _ := m.GetOrCreate("Pet", 5, map[string]any{"id": 5, "name": "yoyo"})
	user.Collection("pets").Add(pet)
	pet.Reference("user").Set(user)
	user.Collection("friends") // touched but unloaded

	assert.Equal(t, map[string]any{
		"id":   1,
		"name": "a",
		"pets": []any{
			map[string]any{"id": 5, "name": "yoyo", "user": map[string]any{"id": 1}},
		},
	}, user.ToMap())
}

func TestKeyOf(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{"abc", "abc"},
		{7, "7"},
		{int64(7), "7"},
		{int32(7), "7"},
		{uint64(7), "7"},
		{float64(7), "7"},
		{[]byte("7"), "7"},
	}
	for _, tt := range tests {
		got, err := KeyOf(tt.in)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}
