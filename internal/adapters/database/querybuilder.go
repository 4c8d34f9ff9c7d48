package database

import (
	"fmt"
	"strings"
)

// QueryBuilder is a small fluent builder over parameterized SQL, dialect
// aware for identifier quoting and pagination. It never interpolates a
// caller-supplied value into the query string; every value becomes a
// placeholder argument.
type QueryBuilder struct {
	dialect string
	table   string
	columns []string
	wheres  []string
	args    []interface{}
	orderBy string
	limit   int
	offset  int
}

// NewQueryBuilder starts a builder targeting the given dialect ("postgres",
// "mysql", "sqlserver", or "document" for a document-store-shaped regex
// search).
func NewQueryBuilder(dialect string) *QueryBuilder {
	return &QueryBuilder{dialect: dialect}
}

func (b *QueryBuilder) Select(columns ...string) *QueryBuilder {
	b.columns = columns
	return b
}

func (b *QueryBuilder) From(table string) *QueryBuilder {
	b.table = table
	return b
}

// WhereEquals adds a parameterized equality predicate.
func (b *QueryBuilder) WhereEquals(column string, value interface{}) *QueryBuilder {
	b.args = append(b.args, value)
	b.wheres = append(b.wheres, fmt.Sprintf("%s = %s", b.quoteIdent(column), b.placeholder(len(b.args))))
	return b
}

// WhereSearch builds a disjunction of LIKE/ILIKE predicates (or regex
// alternation for the document dialect) across fields, matching term either
// exactly or as a substring per the exact flag.
func (b *QueryBuilder) WhereSearch(fields []string, term string, exact bool) *QueryBuilder {
	if len(fields) == 0 || term == "" {
		return b
	}

	if b.dialect == "document" {
		b.args = append(b.args, term)
		alternation := make([]string, len(fields))
		for i, f := range fields {
			alternation[i] = fmt.Sprintf("%s ~* %s", b.quoteIdent(f), b.placeholder(len(b.args)))
		}
		b.wheres = append(b.wheres, "("+strings.Join(alternation, " OR ")+")")
		return b
	}

	likeOp := "LIKE"
	if b.dialect == "postgres" {
		likeOp = "ILIKE"
	}
	pattern := term
	if !exact {
		pattern = "%" + term + "%"
	}

	var clauses []string
	for _, f := range fields {
		b.args = append(b.args, pattern)
		clauses = append(clauses, fmt.Sprintf("%s %s %s", b.quoteIdent(f), likeOp, b.placeholder(len(b.args))))
	}
	b.wheres = append(b.wheres, "("+strings.Join(clauses, " OR ")+")")
	return b
}

// WhereStatic ANDs in a fixed key/value filter, e.g. a schema mapping's
// static_filter.
func (b *QueryBuilder) WhereStatic(filter map[string]string) *QueryBuilder {
	for k, v := range filter {
		b.WhereEquals(k, v)
	}
	return b
}

func (b *QueryBuilder) OrderBy(column string, desc bool) *QueryBuilder {
	dir := "ASC"
	if desc {
		dir = "DESC"
	}
	b.orderBy = fmt.Sprintf("%s %s", b.quoteIdent(column), dir)
	return b
}

func (b *QueryBuilder) Paginate(limit, offset int) *QueryBuilder {
	b.limit = limit
	b.offset = offset
	return b
}

// Build renders the final query and its positional arguments.
func (b *QueryBuilder) Build() (string, []interface{}) {
	cols := "*"
	if len(b.columns) > 0 {
		quoted := make([]string, len(b.columns))
		for i, c := range b.columns {
			quoted[i] = b.quoteIdent(c)
		}
		cols = strings.Join(quoted, ", ")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s", cols, b.quoteIdent(b.table))
	if len(b.wheres) > 0 {
		fmt.Fprintf(&sb, " WHERE %s", strings.Join(b.wheres, " AND "))
	}
	if b.orderBy != "" {
		fmt.Fprintf(&sb, " ORDER BY %s", b.orderBy)
	}
	b.appendPagination(&sb)

	return sb.String(), b.args
}

func (b *QueryBuilder) appendPagination(sb *strings.Builder) {
	if b.limit <= 0 && b.offset <= 0 {
		return
	}
	switch b.dialect {
	case "sqlserver":
		// OFFSET...FETCH requires an ORDER BY; fall back to a stable one.
		if b.orderBy == "" {
			fmt.Fprintf(sb, " ORDER BY (SELECT NULL)")
		}
		fmt.Fprintf(sb, " OFFSET %d ROWS FETCH NEXT %d ROWS ONLY", b.offset, max(b.limit, 1))
	default:
		fmt.Fprintf(sb, " LIMIT %d OFFSET %d", max(b.limit, 1), b.offset)
	}
}

// quoteIdent escapes an identifier per dialect: double quotes for
// postgres/document stores, backticks for mysql, brackets for sqlserver.
func (b *QueryBuilder) quoteIdent(name string) string {
	if name == "" || name == "*" {
		return name
	}
	switch b.dialect {
	case "mysql":
		return "`" + name + "`"
	case "sqlserver":
		return "[" + name + "]"
	default:
		return `"` + name + `"`
	}
}

// placeholder renders the dialect's positional parameter marker.
func (b *QueryBuilder) placeholder(n int) string {
	switch b.dialect {
	case "mysql":
		return "?"
	case "sqlserver":
		return fmt.Sprintf("@p%d", n)
	default:
		return fmt.Sprintf("$%d", n)
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
