package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		in   map[string]any
		want string
	}{
		{"equality", map[string]any{"name": "yoyo"}, `name = "yoyo"`},
		{"null", map[string]any{"bio": nil}, "bio IS NULL"},
		{"list is IN", map[string]any{"id": []int{1, 2}}, "id IN [1,2]"},
		{"operators sorted", map[string]any{"age": map[string]any{"$lt": 65, "$gte": 18}}, "age >= 18 && age < 65"},
		{"like", map[string]any{"name": map[string]any{"$like": "name%"}}, `name LIKE "name%"`},
		{"nin", map[string]any{"id": map[string]any{"$nin": []any{3}}}, "id NOT IN [3]"},
		{"null operator", map[string]any{"bio": map[string]any{"$null": false}}, "bio IS NOT NULL"},
		{"or", map[string]any{"$or": []any{
			map[string]any{"name": "a"},
			map[string]any{"name": "b"},
		}}, `name = "a" || name = "b"`},
		{"not", map[string]any{"$not": map[string]any{"name": "yoyo"}}, `!(name = "yoyo")`},
		{"field not", map[string]any{"name": map[string]any{"$not": map[string]any{"$eq": "yoyo"}}}, `!(name = "yoyo")`},
		{"relation", map[string]any{"pets": map[string]any{"name": "yoyo"}}, `has(pets, name = "yoyo")`},
		{"relation with or", map[string]any{"pets": map[string]any{"$or": []any{
			map[string]any{"name": "a"},
			map[string]any{"name": "b"},
		}}}, `has(pets, name = "a" || name = "b")`},
		{"siblings", map[string]any{"name": "x", "id": 1}, `id = 1 && name = "x"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Parse(tt.in)
			require.NoError(t, err)
			require.NotNil(t, p)
			assert.Equal(t, tt.want, p.String())
		})
	}
}

func TestParse_Empty(t *testing.T) {
	p, err := Parse(nil)
	require.NoError(t, err)
	assert.Nil(t, p)

	p, err = Parse(map[string]any{})
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		in   map[string]any
		err  error
	}{
		{"unknown combinator", map[string]any{"$xor": []any{}}, ErrUnknownOperator},
		{"unknown field operator", map[string]any{"name": map[string]any{"$regex": "x"}}, ErrUnknownOperator},
		{"or needs list", map[string]any{"$or": map[string]any{"a": 1}}, ErrInvalidPredicate},
		{"in needs list", map[string]any{"id": map[string]any{"$in": 1}}, ErrInvalidPredicate},
		{"between needs pair", map[string]any{"id": map[string]any{"$between": []any{1}}}, ErrInvalidPredicate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.in)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}
