package query

import (
	"fmt"
	"strings"
	"unicode"
)

// Expr is a rendered SQL fragment using "?" placeholders, with its arguments
// in textual order.
type Expr struct {
	SQL  string
	Args []any

	// or marks a top-level disjunction that needs parentheses when conjoined.
	or bool
}

// Raw returns an Expr from literal SQL and arguments.
func Raw(sql string, args ...any) Expr {
	return Expr{SQL: sql, Args: args}
}

// IsZero reports whether the expression is empty.
func (e Expr) IsZero() bool {
	return e.SQL == ""
}

func (e Expr) wrapped() string {
	if e.or {
		return "(" + e.SQL + ")"
	}
	return e.SQL
}

// AndExpr conjoins expressions, skipping empty ones.
func AndExpr(exprs ...Expr) Expr {
	return joinExprs(" AND ", false, exprs)
}

// OrExpr disjoins expressions, skipping empty ones.
func OrExpr(exprs ...Expr) Expr {
	return joinExprs(" OR ", true, exprs)
}

func joinExprs(sep string, or bool, exprs []Expr) Expr {
	parts := make([]string, 0, len(exprs))
	args := make([]any, 0)
	var last Expr
	for _, e := range exprs {
		if e.IsZero() {
			continue
		}
		last = e
		if or {
			parts = append(parts, e.SQL)
		} else {
			parts = append(parts, e.wrapped())
		}
		args = append(args, e.Args...)
	}
	switch len(parts) {
	case 0:
		return Expr{}
	case 1:
		return last
	}
	return Expr{SQL: strings.Join(parts, sep), Args: args, or: or}
}

// JoinType represents the type of SQL join
type JoinType int

const (
	InnerJoin JoinType = iota
	LeftJoin
)

// String returns the string representation of the join type
func (j JoinType) String() string {
	switch j {
	case LeftJoin:
		return "LEFT"
	default:
		return "INNER"
	}
}

// Join represents a SQL join clause
type Join struct {
	Type  JoinType
	Table string
	Alias string
	On    Expr
}

// Selector builds a single SELECT statement. Identifiers are quoted by the
// dialect; values always travel as arguments.
type Selector struct {
	dialect Dialect

	columns []string
	table   string
	alias   string
	sub     *Selector
	joins   []Join
	where   Expr
	groupBy []string
	orderBy []string
	limit   *int
	offset  *int
}

// Select starts a statement with the given rendered column list.
func Select(d Dialect, columns ...string) *Selector {
	return &Selector{dialect: d, columns: columns}
}

// Dialect returns the dialect the selector renders for.
func (s *Selector) Dialect() Dialect {
	return s.dialect
}

// Columns appends rendered columns.
func (s *Selector) Columns(columns ...string) *Selector {
	s.columns = append(s.columns, columns...)
	return s
}

// From sets the source table and its alias.
func (s *Selector) From(table, alias string) *Selector {
	s.table, s.alias, s.sub = table, alias, nil
	return s
}

// FromSubquery selects from a derived table.
func (s *Selector) FromSubquery(sub *Selector, alias string) *Selector {
	s.table, s.alias, s.sub = "", alias, sub
	return s
}

// Join appends a join against table AS alias.
func (s *Selector) Join(typ JoinType, table, alias string, on Expr) *Selector {
	s.joins = append(s.joins, Join{Type: typ, Table: table, Alias: alias, On: on})
	return s
}

// LeftJoin appends a LEFT JOIN.
func (s *Selector) LeftJoin(table, alias string, on Expr) *Selector {
	return s.Join(LeftJoin, table, alias, on)
}

// Joins returns the joins added so far.
func (s *Selector) Joins() []Join {
	return s.joins
}

// Where conjoins e into the WHERE clause.
func (s *Selector) Where(e Expr) *Selector {
	s.where = AndExpr(s.where, e)
	return s
}

// WhereExpr returns the accumulated WHERE clause.
func (s *Selector) WhereExpr() Expr {
	return s.where
}

// GroupBy appends rendered grouping expressions.
func (s *Selector) GroupBy(exprs ...string) *Selector {
	s.groupBy = append(s.groupBy, exprs...)
	return s
}

// OrderBy appends rendered ordering terms.
func (s *Selector) OrderBy(terms ...string) *Selector {
	s.orderBy = append(s.orderBy, terms...)
	return s
}

// Limit sets the LIMIT
func (s *Selector) Limit(n int) *Selector {
	s.limit = &n
	return s
}

// Offset sets the OFFSET
func (s *Selector) Offset(n int) *Selector {
	s.offset = &n
	return s
}

// Render produces the statement with "?" placeholders.
func (s *Selector) Render() Expr {
	var b strings.Builder
	args := make([]any, 0)

	b.WriteString("SELECT ")
	if len(s.columns) == 0 {
		b.WriteString("*")
	} else {
		b.WriteString(strings.Join(s.columns, ", "))
	}

	b.WriteString(" FROM ")
	if s.sub != nil {
		inner := s.sub.Render()
		b.WriteString("(")
		b.WriteString(inner.SQL)
		b.WriteString(")")
		args = append(args, inner.Args...)
	} else {
		b.WriteString(s.dialect.Quote(s.table))
	}
	if s.alias != "" {
		b.WriteString(" AS ")
		b.WriteString(s.dialect.Quote(s.alias))
	}

	for _, j := range s.joins {
		fmt.Fprintf(&b, " %s JOIN %s AS %s ON %s",
			j.Type, s.dialect.Quote(j.Table), s.dialect.Quote(j.Alias), j.On.SQL)
		args = append(args, j.On.Args...)
	}

	if !s.where.IsZero() {
		b.WriteString(" WHERE ")
		b.WriteString(s.where.SQL)
		args = append(args, s.where.Args...)
	}

	if len(s.groupBy) > 0 {
		b.WriteString(" GROUP BY ")
		b.WriteString(strings.Join(s.groupBy, ", "))
	}

	if len(s.orderBy) > 0 {
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(s.orderBy, ", "))
	}

	if s.limit != nil {
		b.WriteString(" LIMIT ?")
		args = append(args, *s.limit)
	}
	if s.offset != nil {
		if s.limit == nil {
			// sqlite and mysql only accept OFFSET after a LIMIT
			switch s.dialect {
			case SQLite:
				b.WriteString(" LIMIT -1")
			case MySQL:
				b.WriteString(" LIMIT 18446744073709551615")
			}
		}
		b.WriteString(" OFFSET ?")
		args = append(args, *s.offset)
	}

	return Expr{SQL: b.String(), Args: args}
}

// Query renders the final statement in the dialect's bind style.
func (s *Selector) Query() (string, []any) {
	e := s.Render()
	return s.dialect.Rebind(e.SQL), e.Args
}

// Count builds SELECT COUNT(*) over the selector's source, joins and filter.
func (s *Selector) Count() *Selector {
	c := &Selector{
		dialect: s.dialect,
		columns: []string{"COUNT(*) AS " + s.dialect.Quote("count")},
		table:   s.table,
		alias:   s.alias,
		sub:     s.sub,
		joins:   append([]Join(nil), s.joins...),
		where:   s.where,
	}
	return c
}

// Clone returns a copy that can be modified independently.
func (s *Selector) Clone() *Selector {
	c := *s
	c.columns = append([]string(nil), s.columns...)
	c.joins = append([]Join(nil), s.joins...)
	c.groupBy = append([]string(nil), s.groupBy...)
	c.orderBy = append([]string(nil), s.orderBy...)
	return &c
}

// Ordering terms

// Asc renders an ascending ordering term.
func Asc(column string) string { return column + " ASC" }

// Desc renders a descending ordering term.
func Desc(column string) string { return column + " DESC" }

// As renders "expr AS alias".
func (d Dialect) As(expr, alias string) string {
	return expr + " AS " + d.Quote(alias)
}

// Aliases allocates table aliases for one statement tree: the lowercased
// first letter of the entity name followed by a counter (u0, p1, a2, ...).
type Aliases struct {
	next int
}

// NewAliases creates an allocator starting at zero.
func NewAliases() *Aliases {
	return &Aliases{}
}

// Next returns a fresh alias for entity.
func (a *Aliases) Next(entity string) string {
	prefix := "t"
	for _, r := range entity {
		if unicode.IsLetter(r) {
			prefix = string(unicode.ToLower(r))
		}
		break
	}
	alias := fmt.Sprintf("%s%d", prefix, a.next)
	a.next++
	return alias
}
