package ui

import (
	"reflect"
	"testing"
)

func TestLevenshteinDistance(t *testing.T) {
	tests := []struct {
		s1       string
		s2       string
		expected int
	}{
		{"", "", 0},
		{"", "abc", 3},
		{"abc", "", 3},
		{"abc", "abc", 0},
		{"kitten", "sitting", 3},
		{"saturday", "sunday", 3},
		{"pet", "pets", 1},
		{"profle", "profile", 1},
	}

	for _, tt := range tests {
		t.Run(tt.s1+"_"+tt.s2, func(t *testing.T) {
			result := LevenshteinDistance(tt.s1, tt.s2)
			if result != tt.expected {
				t.Errorf("LevenshteinDistance(%q, %q) = %d; want %d", tt.s1, tt.s2, result, tt.expected)
			}
		})
	}
}

func TestSuggest(t *testing.T) {
	relations := []string{"pets", "profile", "posts"}

	tests := []struct {
		name     string
		target   string
		limit    int
		expected []string
	}{
		{"missing plural", "pet", 3, []string{"pets", "posts"}},
		{"typo", "profle", 3, []string{"profile"}},
		{"case insensitive", "PETS", 1, []string{"pets"}},
		{"closest first", "post", 3, []string{"posts", "pets"}},
		{"limit", "post", 1, []string{"posts"}},
		{"nothing close", "comments", 3, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Suggest(tt.target, relations, tt.limit)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("Suggest(%q) = %v; want %v", tt.target, got, tt.expected)
			}
		})
	}
}
