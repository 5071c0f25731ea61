package ui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
)

func TestFormatError(t *testing.T) {
	color.NoColor = true
	defer func() { color.NoColor = false }()

	tests := []struct {
		name     string
		opts     ErrorOptions
		contains []string
		absent   []string
	}{
		{
			name: "context and problem",
			opts: ErrorOptions{
				Context: "resource not found: Usr",
				Problem: "The schema declares no resource \"Usr\".",
			},
			contains: []string{"❌ RESOURCE NOT FOUND: USR", "   The schema declares no resource"},
			absent:   []string{"Did you mean"},
		},
		{
			name: "suggestions",
			opts: ErrorOptions{
				Problem:     "bad path",
				Suggestions: []string{"pets", "posts"},
			},
			contains: []string{"❌ bad path", "Did you mean: pets, posts?"},
		},
		{
			name: "help commands",
			opts: ErrorOptions{
				Problem:      "bad config",
				HelpCommands: []string{"View config: cat populate.yaml"},
			},
			contains: []string{"→ View config: cat populate.yaml"},
		},
		{
			name:     "warning",
			opts:     ErrorOptions{Level: ErrorLevelWarning, Problem: "slow"},
			contains: []string{"⚠️ slow"},
			absent:   []string{"❌"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.NoColor = true
			out := FormatError(tt.opts)
			for _, want := range tt.contains {
				if !strings.Contains(out, want) {
					t.Errorf("expected output to contain %q, got:\n%s", want, out)
				}
			}
			for _, unwanted := range tt.absent {
				if strings.Contains(out, unwanted) {
					t.Errorf("expected output not to contain %q, got:\n%s", unwanted, out)
				}
			}
		})
	}
}

func TestRelationPathError(t *testing.T) {
	out := RelationPathError("pet.action", "User", "pet", []string{"pets"}, true)

	for _, want := range []string{
		"INVALID POPULATE PATH: PET.ACTION",
		`User has no relationship "pet".`,
		"Did you mean: pets?",
		"populate plan",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in:\n%s", want, out)
		}
	}
}

func TestWriteError(t *testing.T) {
	var buf bytes.Buffer
	WriteError(&buf, ErrorOptions{Problem: "boom", NoColor: true})
	if buf.String() != "❌ boom\n" {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestConfigErrorAndWarning(t *testing.T) {
	if out := ConfigError("database.driver: unsupported dialect: oracle", true); !strings.Contains(out, "CONFIGURATION ERROR") {
		t.Errorf("expected configuration header, got:\n%s", out)
	}
	if out := Warning("cache unavailable", true); !strings.HasPrefix(out, "⚠️ cache unavailable") {
		t.Errorf("unexpected warning %q", out)
	}
}
