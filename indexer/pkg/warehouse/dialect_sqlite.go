package warehouse

import (
	"fmt"
	"strconv"
)

// SQLiteDSN returns a mattn/go-sqlite3 DSN for a WAL-mode database file
// whose transactions take the write lock up front.
func SQLiteDSN(path string) string {
	return fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate", path)
}

// SQLite renders statements for SQLite 3.24 or later. Schemas are attached
// database names, "main" by default.
type SQLite struct{}

func (SQLite) Name() string             { return "sqlite" }
func (SQLite) DefaultSchema() string    { return "main" }
func (SQLite) MaxIdentifierLength() int { return 128 }
func (SQLite) MaxBindParams() int       { return 32766 }
func (SQLite) MaxInsertRows() int       { return 0 }

func (SQLite) Placeholder(n int) string { return "?" + strconv.Itoa(n) }

func (SQLite) QuoteIdent(name string) string { return quoteWith(name, `"`, `"`) }

func (d SQLite) QuoteTable(ref TableRef) string { return quoteTable(d, ref) }

func (SQLite) typeName(t ColumnType) string {
	switch t.Kind {
	case KindInteger:
		return "INTEGER"
	case KindFloat:
		return "REAL"
	case KindTimestamp:
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}

func (d SQLite) CreateStagingTable(ref TableRef, columns []ColumnDef) []string {
	return []string{
		d.DropTable(ref),
		fmt.Sprintf("CREATE TABLE %s (%s)", d.QuoteTable(ref), columnDefs(d, columns, d.typeName)),
	}
}

func (d SQLite) DropTable(ref TableRef) string {
	return "DROP TABLE IF EXISTS " + d.QuoteTable(ref)
}

// Merge uses the upsert clause. The WHERE true keeps the parser from
// reading ON CONFLICT as a join constraint.
func (d SQLite) Merge(spec MergeSpec) string {
	return insertOnConflict(d, spec, "WHERE true", "excluded")
}

func (SQLite) TablesQuery() string {
	return `SELECT name FROM pragma_table_list WHERE schema = ?1 AND name LIKE ?2 AND type = 'table' ORDER BY name`
}

func (SQLite) ColumnsQuery() string {
	return `SELECT name, type, NULL, NULL FROM pragma_table_info(?2, ?1) ORDER BY cid`
}

func (SQLite) UniqueKeysQuery() string {
	return `SELECT constraint_name, is_primary, column_name FROM (
	SELECT 'primary' AS constraint_name, 1 AS is_primary, name AS column_name, pk AS seq
	FROM pragma_table_info(?2, ?1)
	WHERE pk > 0
	UNION ALL
	SELECT il.name, 0, ii.name, ii.seqno
	FROM pragma_index_list(?2, ?1) AS il
	JOIN pragma_index_info(il.name, ?1) AS ii
	WHERE il."unique" = 1 AND il.origin <> 'pk'
)
ORDER BY is_primary DESC, constraint_name, seq`
}
