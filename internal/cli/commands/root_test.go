package commands

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
)

func TestNewRootCommand(t *testing.T) {
	cmd := NewRootCommand()

	if cmd.Use != "populate" {
		t.Errorf("expected Use to be 'populate', got %s", cmd.Use)
	}

	if cmd.Short == "" {
		t.Error("expected Short description to be set")
	}

	if cmd.PersistentFlags().Lookup("config") == nil {
		t.Error("expected a persistent --config flag")
	}

	for _, expected := range []string{"version", "plan", "find", "init"} {
		found := false
		for _, sub := range cmd.Commands() {
			if sub.Name() == expected {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected command %s to be registered", expected)
		}
	}
}

func TestNewVersionCommand(t *testing.T) {
	color.NoColor = true
	defer func() { color.NoColor = false }()

	Version = "1.0.0-test"
	GitCommit = "abc123"
	BuildDate = "2026-01-01"
	GoVersion = "go1.23"
	defer func() {
		Version, GitCommit, BuildDate, GoVersion = "dev", "unknown", "unknown", "unknown"
	}()

	cmd := NewVersionCommand()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("version command failed: %v", err)
	}

	for _, want := range []string{"populate version: 1.0.0-test", "Git commit: abc123", "Build date: 2026-01-01", "Go version: go1.23"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("expected %q in output:\n%s", want, buf.String())
		}
	}
}

func TestReportError(t *testing.T) {
	color.NoColor = true
	defer func() { color.NoColor = false }()

	var buf bytes.Buffer
	reportError(&buf, errString("boom"))
	if buf.String() != "Error: boom\n" {
		t.Errorf("unexpected output %q", buf.String())
	}

	buf.Reset()
	reportError(&buf, &displayError{err: errString("boom"), text: "explained\n"})
	if buf.String() != "explained\n" {
		t.Errorf("expected the rendered explanation, got %q", buf.String())
	}
}

type errString string

func (e errString) Error() string { return string(e) }
