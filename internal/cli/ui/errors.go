package ui

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

// ErrorLevel represents the severity of a message
type ErrorLevel int

const (
	ErrorLevelError ErrorLevel = iota
	ErrorLevelWarning
)

// ErrorOptions configures message formatting
type ErrorOptions struct {
	Level        ErrorLevel
	Context      string
	Problem      string
	Suggestions  []string
	HelpCommands []string
	NoColor      bool
}

// FormatError renders a message with suggestions and help commands:
//
//	❌ INVALID POPULATE PATH: User.pet
//	   User has no relationship "pet".
//
//	   Did you mean: pets?
//
//	   → List relations: populate plan User --help
func FormatError(opts ErrorOptions) string {
	var b strings.Builder

	headerColor := color.New(color.FgRed, color.Bold)
	bodyColor := color.New(color.FgRed)
	symbol := "❌"
	if opts.Level == ErrorLevelWarning {
		headerColor = color.New(color.FgYellow, color.Bold)
		bodyColor = color.New(color.FgYellow)
		symbol = "⚠️"
	}
	hint := color.New(color.FgYellow)
	help := color.New(color.FgCyan)
	if opts.NoColor {
		for _, c := range []*color.Color{headerColor, bodyColor, hint, help} {
			c.DisableColor()
		}
	}

	if opts.Context != "" {
		headerColor.Fprintf(&b, "%s %s\n", symbol, strings.ToUpper(opts.Context))
		bodyColor.Fprintf(&b, "   %s\n", opts.Problem)
	} else {
		headerColor.Fprintf(&b, "%s %s\n", symbol, opts.Problem)
	}

	if len(opts.Suggestions) > 0 {
		b.WriteString("\n")
		hint.Fprintf(&b, "   Did you mean: %s?\n", strings.Join(opts.Suggestions, ", "))
	}

	if len(opts.HelpCommands) > 0 {
		b.WriteString("\n")
		for _, cmd := range opts.HelpCommands {
			help.Fprintf(&b, "   → %s\n", cmd)
		}
	}

	return b.String()
}

// WriteError writes a formatted message to w
func WriteError(w io.Writer, opts ErrorOptions) {
	fmt.Fprint(w, FormatError(opts))
}

// ResourceNotFoundError reports an unknown root entity
func ResourceNotFoundError(name string, suggestions []string, noColor bool) string {
	return FormatError(ErrorOptions{
		Context:      "resource not found: " + name,
		Problem:      fmt.Sprintf("The schema declares no resource %q.", name),
		Suggestions:  suggestions,
		HelpCommands: []string{"Check schema.path in populate.yaml"},
		NoColor:      noColor,
	})
}

// RelationPathError reports a populate or populateWhere path that does not
// resolve. owner is the entity the failing segment was looked up on.
func RelationPathError(path, owner, segment string, suggestions []string, noColor bool) string {
	return FormatError(ErrorOptions{
		Context:     "invalid populate path: " + path,
		Problem:     fmt.Sprintf("%s has no relationship %q.", owner, segment),
		Suggestions: suggestions,
		HelpCommands: []string{
			"Inspect the plan: populate plan <Root> --populate <path>",
		},
		NoColor: noColor,
	})
}

// ConfigError reports an unusable configuration
func ConfigError(message string, noColor bool) string {
	return FormatError(ErrorOptions{
		Context: "configuration error",
		Problem: message,
		HelpCommands: []string{
			"View config: cat populate.yaml",
			"Get help: populate --help",
		},
		NoColor: noColor,
	})
}

// Warning renders a warning line
func Warning(message string, noColor bool) string {
	return FormatError(ErrorOptions{
		Level:   ErrorLevelWarning,
		Problem: message,
		NoColor: noColor,
	})
}
