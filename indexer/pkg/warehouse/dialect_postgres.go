package warehouse

import (
	"fmt"
	"strconv"
)

// Postgres renders statements for PostgreSQL.
type Postgres struct{}

func (Postgres) Name() string             { return "postgres" }
func (Postgres) DefaultSchema() string    { return "public" }
func (Postgres) MaxIdentifierLength() int { return 63 }
func (Postgres) MaxBindParams() int       { return 65535 }
func (Postgres) MaxInsertRows() int       { return 0 }

func (Postgres) Placeholder(n int) string { return "$" + strconv.Itoa(n) }

func (Postgres) QuoteIdent(name string) string { return quoteWith(name, `"`, `"`) }

func (d Postgres) QuoteTable(ref TableRef) string { return quoteTable(d, ref) }

func (Postgres) typeName(t ColumnType) string {
	switch t.Kind {
	case KindInteger:
		return "BIGINT"
	case KindFloat:
		return "DOUBLE PRECISION"
	case KindTimestamp:
		return fmt.Sprintf("TIMESTAMP(%d)", min(t.Precision, 6))
	default:
		if t.Length <= 0 {
			return "TEXT"
		}
		return fmt.Sprintf("VARCHAR(%d)", t.Length)
	}
}

func (d Postgres) CreateStagingTable(ref TableRef, columns []ColumnDef) []string {
	return []string{
		d.DropTable(ref),
		fmt.Sprintf("CREATE TABLE %s (%s)", d.QuoteTable(ref), columnDefs(d, columns, d.typeName)),
	}
}

func (d Postgres) DropTable(ref TableRef) string {
	return "DROP TABLE IF EXISTS " + d.QuoteTable(ref)
}

func (d Postgres) Merge(spec MergeSpec) string {
	return insertOnConflict(d, spec, "", "EXCLUDED")
}

// ColumnsQuery reports unlimited text and varchar columns with length -1.
func (Postgres) ColumnsQuery() string {
	return `SELECT column_name::text, data_type::text,
	CASE WHEN data_type IN ('text', 'character varying') AND character_maximum_length IS NULL THEN -1
		ELSE character_maximum_length END::int,
	datetime_precision::int
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position`
}

func (Postgres) TablesQuery() string {
	return `SELECT table_name::text FROM information_schema.tables
WHERE table_schema = $1 AND table_name LIKE $2 AND table_type = 'BASE TABLE'
ORDER BY table_name`
}

func (Postgres) UniqueKeysQuery() string {
	return `SELECT tc.constraint_name::text,
	CASE WHEN tc.constraint_type = 'PRIMARY KEY' THEN 1 ELSE 0 END AS is_primary,
	kcu.column_name::text
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
	ON tc.constraint_schema = kcu.constraint_schema
	AND tc.constraint_name = kcu.constraint_name
	AND tc.table_name = kcu.table_name
WHERE tc.table_schema = $1 AND tc.table_name = $2
	AND tc.constraint_type IN ('PRIMARY KEY', 'UNIQUE')
ORDER BY is_primary DESC, tc.constraint_name, kcu.ordinal_position`
}
