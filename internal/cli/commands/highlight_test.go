package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHighlightSQL(t *testing.T) {
	sql := `SELECT "u0"."id" AS "u0__id" FROM "users" AS "u0"` +
		` LEFT JOIN "pets" AS "p1" ON "u0"."id" = "p1"."user_id" AND "p1"."name" = $1` +
		` WHERE "u0"."id" IN (SELECT "u3"."id" FROM (SELECT "u2"."id" FROM "users" AS "u2" ORDER BY "u2"."id" ASC LIMIT $2) AS "u3")` +
		` ORDER BY "u0"."id" ASC, "p1"."id" ASC`

	want := `SELECT "u0"."id" AS "u0__id"` +
		"\n" + `FROM "users" AS "u0"` +
		"\n" + `LEFT JOIN "pets" AS "p1" ON "u0"."id" = "p1"."user_id" AND "p1"."name" = $1` +
		"\n" + `WHERE "u0"."id" IN (SELECT "u3"."id" FROM (SELECT "u2"."id" FROM "users" AS "u2" ORDER BY "u2"."id" ASC LIMIT $2) AS "u3")` +
		"\n" + `ORDER BY "u0"."id" ASC, "p1"."id" ASC`

	assert.Equal(t, want, highlightSQL(sql, true))
}

func TestIsPlaceholder(t *testing.T) {
	for s, want := range map[string]bool{
		"?":      true,
		"$1":     true,
		"$12":    true,
		"$":      false,
		"$a":     false,
		`"u0"`:   false,
		"SELECT": false,
	} {
		assert.Equal(t, want, isPlaceholder(s), s)
	}
}
