package warehouse

import (
	"fmt"
	"strconv"
	"strings"
)

// SQLServer renders statements for Microsoft SQL Server and Azure SQL.
type SQLServer struct{}

func (SQLServer) Name() string             { return "sqlserver" }
func (SQLServer) DefaultSchema() string    { return "dbo" }
func (SQLServer) MaxIdentifierLength() int { return 128 }
func (SQLServer) MaxBindParams() int       { return 2000 }
func (SQLServer) MaxInsertRows() int       { return 1000 }

func (SQLServer) Placeholder(n int) string { return "@p" + strconv.Itoa(n) }

func (SQLServer) QuoteIdent(name string) string { return quoteWith(name, "[", "]") }

func (d SQLServer) QuoteTable(ref TableRef) string { return quoteTable(d, ref) }

func (SQLServer) typeName(t ColumnType) string {
	switch t.Kind {
	case KindInteger:
		return "BIGINT"
	case KindFloat:
		return "FLOAT"
	case KindTimestamp:
		return fmt.Sprintf("DATETIME2(%d)", min(t.Precision, 7))
	default:
		if t.Length <= 0 || t.Length > 4000 {
			return "NVARCHAR(MAX)"
		}
		return fmt.Sprintf("NVARCHAR(%d)", t.Length)
	}
}

func (d SQLServer) CreateStagingTable(ref TableRef, columns []ColumnDef) []string {
	return []string{
		d.DropTable(ref),
		fmt.Sprintf("CREATE TABLE %s (%s)", d.QuoteTable(ref), columnDefs(d, columns, d.typeName)),
	}
}

func (d SQLServer) DropTable(ref TableRef) string {
	return "DROP TABLE IF EXISTS " + d.QuoteTable(ref)
}

// Merge renders a MERGE holding a range lock on the target so concurrent
// merges of the same keys serialize instead of inserting duplicates.
func (d SQLServer) Merge(spec MergeSpec) string {
	var b strings.Builder
	fmt.Fprintf(&b, "MERGE INTO %s WITH (HOLDLOCK) AS target USING %s AS source ON ",
		d.QuoteTable(spec.Target), d.QuoteTable(spec.Staging))

	conds := make([]string, len(spec.KeyColumns))
	for i, k := range spec.KeyColumns {
		q := d.QuoteIdent(k)
		conds[i] = "target." + q + " = source." + q
	}
	b.WriteString(strings.Join(conds, " AND "))

	if len(spec.UpdateColumns) > 0 {
		sets := make([]string, len(spec.UpdateColumns))
		for i, c := range spec.UpdateColumns {
			q := d.QuoteIdent(c)
			sets[i] = "target." + q + " = source." + q
		}
		b.WriteString(" WHEN MATCHED THEN UPDATE SET " + strings.Join(sets, ", "))
	}
	fmt.Fprintf(&b, " WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s);",
		quoteList(d, spec.Columns), qualifiedList(d, "source", spec.Columns))
	return b.String()
}

func (SQLServer) TablesQuery() string {
	return `SELECT TABLE_NAME FROM INFORMATION_SCHEMA.TABLES
WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME LIKE @p2 AND TABLE_TYPE = 'BASE TABLE'
ORDER BY TABLE_NAME`
}

func (SQLServer) ColumnsQuery() string {
	return `SELECT COLUMN_NAME, DATA_TYPE, CHARACTER_MAXIMUM_LENGTH, DATETIME_PRECISION
FROM INFORMATION_SCHEMA.COLUMNS
WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2
ORDER BY ORDINAL_POSITION`
}

func (SQLServer) UniqueKeysQuery() string {
	return `SELECT tc.CONSTRAINT_NAME,
	CASE WHEN tc.CONSTRAINT_TYPE = 'PRIMARY KEY' THEN 1 ELSE 0 END AS IS_PRIMARY,
	kcu.COLUMN_NAME
FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
	ON tc.CONSTRAINT_SCHEMA = kcu.CONSTRAINT_SCHEMA
	AND tc.CONSTRAINT_NAME = kcu.CONSTRAINT_NAME
	AND tc.TABLE_NAME = kcu.TABLE_NAME
WHERE tc.TABLE_SCHEMA = @p1 AND tc.TABLE_NAME = @p2
	AND tc.CONSTRAINT_TYPE IN ('PRIMARY KEY', 'UNIQUE')
ORDER BY IS_PRIMARY DESC, tc.CONSTRAINT_NAME, kcu.ORDINAL_POSITION`
}
