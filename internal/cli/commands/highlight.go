package commands

import (
	"strings"

	"github.com/fatih/color"
)

var sqlKeywords = map[string]bool{
	"SELECT": true, "FROM": true, "WHERE": true, "AS": true,
	"LEFT": true, "INNER": true, "JOIN": true, "ON": true,
	"AND": true, "OR": true, "NOT": true, "IN": true, "EXISTS": true,
	"IS": true, "NULL": true, "LIKE": true, "ILIKE": true, "BETWEEN": true,
	"GROUP": true, "ORDER": true, "BY": true, "ASC": true, "DESC": true,
	"LIMIT": true, "OFFSET": true, "COUNT": true,
}

// clauses that start a new line when they appear outside parentheses
var sqlClauses = map[string]bool{
	"FROM": true, "LEFT": true, "INNER": true, "WHERE": true,
	"GROUP": true, "ORDER": true, "LIMIT": true,
}

// highlightSQL breaks a rendered statement before its top-level clauses and
// colors keywords and placeholders.
func highlightSQL(sql string, noColor bool) string {
	keyword := color.New(color.FgBlue, color.Bold)
	placeholder := color.New(color.FgYellow)
	if noColor {
		keyword.DisableColor()
		placeholder.DisableColor()
	}

	var b strings.Builder
	depth := 0
	for i, tok := range strings.Fields(sql) {
		rest := strings.TrimLeft(tok, "(")
		lead := tok[:len(tok)-len(rest)]
		core := strings.TrimRight(rest, "),")
		trail := rest[len(core):]

		if i > 0 {
			if depth == 0 && lead == "" && sqlClauses[core] {
				b.WriteString("\n")
			} else {
				b.WriteString(" ")
			}
		}

		b.WriteString(lead)
		switch {
		case sqlKeywords[core]:
			keyword.Fprint(&b, core)
		case isPlaceholder(core):
			placeholder.Fprint(&b, core)
		default:
			b.WriteString(core)
		}
		b.WriteString(trail)

		depth += strings.Count(tok, "(") - strings.Count(tok, ")")
	}
	return b.String()
}

func isPlaceholder(s string) bool {
	if s == "?" {
		return true
	}
	if len(s) < 2 || s[0] != '$' {
		return false
	}
	for _, r := range s[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
