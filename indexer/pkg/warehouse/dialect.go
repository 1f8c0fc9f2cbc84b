package warehouse

import (
	"fmt"
	"strings"
)

// SQLDialect is a Dialect for stores reached through database/sql.
type SQLDialect interface {
	Dialect

	// Placeholder returns the bind marker for the n-th argument, from 1.
	Placeholder(n int) string
	// MaxBindParams bounds the arguments of one statement.
	MaxBindParams() int
	// MaxInsertRows bounds the rows of one VALUES list; zero means no limit.
	MaxInsertRows() int

	// ColumnsQuery takes (schema, table) and yields rows of
	// (name, type, max length, datetime precision) in ordinal order.
	ColumnsQuery() string
	// UniqueKeysQuery takes (schema, table) and yields rows of
	// (constraint name, is primary as 0/1, column name) grouped by
	// constraint, primary key first, columns in constraint order.
	UniqueKeysQuery() string
	// TablesQuery takes (schema, LIKE pattern) and yields table names.
	TablesQuery() string
}

// DialectByName returns the SQL dialect registered under name.
func DialectByName(name string) (SQLDialect, error) {
	switch strings.ToLower(name) {
	case "postgres", "postgresql", "pgx":
		return Postgres{}, nil
	case "sqlserver", "mssql":
		return SQLServer{}, nil
	case "sqlite", "sqlite3":
		return SQLite{}, nil
	default:
		return nil, fmt.Errorf("unknown dialect %q", name)
	}
}

func quoteWith(name, open, close string) string {
	return open + strings.ReplaceAll(name, close, close+close) + close
}

func quoteList(d Dialect, names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = d.QuoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}

func qualifiedList(d Dialect, alias string, names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = alias + "." + d.QuoteIdent(n)
	}
	return strings.Join(quoted, ", ")
}

func quoteTable(d Dialect, ref TableRef) string {
	if ref.Schema == "" {
		return d.QuoteIdent(ref.Name)
	}
	return d.QuoteIdent(ref.Schema) + "." + d.QuoteIdent(ref.Name)
}

func columnDefs(d Dialect, columns []ColumnDef, typeName func(ColumnType) string) string {
	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = d.QuoteIdent(c.Name) + " " + typeName(c.Type)
	}
	return strings.Join(defs, ", ")
}

// insertOnConflict renders INSERT ... SELECT ... ON CONFLICT for stores
// that support it. filter is placed between the SELECT and ON CONFLICT.
func insertOnConflict(d Dialect, spec MergeSpec, filter, excluded string) string {
	var b strings.Builder
	cols := quoteList(d, spec.Columns)
	fmt.Fprintf(&b, "INSERT INTO %s (%s) SELECT %s FROM %s",
		d.QuoteTable(spec.Target), cols, cols, d.QuoteTable(spec.Staging))
	if filter != "" {
		b.WriteString(" " + filter)
	}
	fmt.Fprintf(&b, " ON CONFLICT (%s) ", quoteList(d, spec.KeyColumns))
	if len(spec.UpdateColumns) == 0 {
		b.WriteString("DO NOTHING")
		return b.String()
	}
	sets := make([]string, len(spec.UpdateColumns))
	for i, c := range spec.UpdateColumns {
		q := d.QuoteIdent(c)
		sets[i] = q + " = " + excluded + "." + q
	}
	b.WriteString("DO UPDATE SET " + strings.Join(sets, ", "))
	return b.String()
}
