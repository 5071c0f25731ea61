package query

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// Dialect identifies the SQL flavour statements are rendered for.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
	MySQL    Dialect = "mysql"
)

// ParseDialect maps a dialect or database/sql driver name onto a Dialect.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(name) {
	case "postgres", "postgresql", "pgx", "pq":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "mysql", "mariadb":
		return MySQL, nil
	default:
		return "", fmt.Errorf("unsupported dialect: %s", name)
	}
}

// Quote quotes an identifier.
func (d Dialect) Quote(ident string) string {
	if d == MySQL {
		return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
	}
	return pq.QuoteIdentifier(ident)
}

// Column renders a qualified column reference.
func (d Dialect) Column(alias, column string) string {
	return d.Quote(alias) + "." + d.Quote(column)
}

// Rebind rewrites the "?" placeholders produced by the builders into the
// dialect's bind style.
func (d Dialect) Rebind(query string) string {
	if d == Postgres {
		return sqlx.Rebind(sqlx.DOLLAR, query)
	}
	return query
}

// SupportsILike reports whether ILIKE is native to the dialect.
func (d Dialect) SupportsILike() bool {
	return d == Postgres
}

// FalseLiteral renders a constant false condition.
func (d Dialect) FalseLiteral() string {
	if d == Postgres {
		return "FALSE"
	}
	return "1 = 0"
}

// TrueLiteral renders a constant true condition.
func (d Dialect) TrueLiteral() string {
	if d == Postgres {
		return "TRUE"
	}
	return "1 = 1"
}
