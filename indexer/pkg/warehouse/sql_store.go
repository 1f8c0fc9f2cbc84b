package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
)

// SQLStore is a Store over database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect SQLDialect
}

func NewSQLStore(db *sql.DB, dialect SQLDialect) (*SQLStore, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if dialect == nil {
		return nil, errors.New("dialect is required")
	}
	return &SQLStore{db: db, dialect: dialect}, nil
}

func (s *SQLStore) Dialect() Dialect { return s.dialect }

// DB returns the underlying handle.
func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) Exec(ctx context.Context, query string, args ...any) error {
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return WrapStoreError("exec", err)
	}
	return nil
}

func (s *SQLStore) InTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return WrapStoreError("begin transaction", err)
	}
	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err = fn(&sqlTxWriter{tx: sqlTx, dialect: s.dialect}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return WrapStoreError("commit transaction", err)
	}
	return nil
}

func (s *SQLStore) ColumnTypes(ctx context.Context, table TableRef) ([]ColumnInfo, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.ColumnsQuery(), table.Schema, table.Name)
	if err != nil {
		return nil, WrapStoreError("query column types", err)
	}
	defer rows.Close()

	var cols []ColumnInfo
	for rows.Next() {
		var (
			name, dataType     string
			charMax, precision sql.NullInt64
		)
		if err := rows.Scan(&name, &dataType, &charMax, &precision); err != nil {
			return nil, fmt.Errorf("failed to scan column type: %w", err)
		}
		cols = append(cols, ColumnInfo{
			Name: strings.ToLower(name),
			Type: ClassifyType(dataType, nullInt(charMax), nullInt(precision)),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, WrapStoreError("read column types", err)
	}
	return cols, nil
}

func (s *SQLStore) UniqueKeys(ctx context.Context, table TableRef) ([]UniqueKey, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.UniqueKeysQuery(), table.Schema, table.Name)
	if err != nil {
		return nil, WrapStoreError("query unique keys", err)
	}
	defer rows.Close()

	var (
		keys    []UniqueKey
		skipped = make(map[string]bool)
	)
	for rows.Next() {
		var (
			name    string
			primary int64
			column  sql.NullString
		)
		if err := rows.Scan(&name, &primary, &column); err != nil {
			return nil, fmt.Errorf("failed to scan unique key: %w", err)
		}
		if !column.Valid {
			// Expression indexes cannot serve as a merge key.
			skipped[name] = true
			continue
		}
		if n := len(keys); n == 0 || keys[n-1].Name != name {
			keys = append(keys, UniqueKey{Name: name, Primary: primary == 1})
		}
		last := &keys[len(keys)-1]
		last.Columns = append(last.Columns, strings.ToLower(column.String))
	}
	if err := rows.Err(); err != nil {
		return nil, WrapStoreError("read unique keys", err)
	}

	out := keys[:0]
	for _, k := range keys {
		if !skipped[k.Name] {
			out = append(out, k)
		}
	}
	return out, nil
}

// ListTables returns the tables in schema whose names start with prefix.
func (s *SQLStore) ListTables(ctx context.Context, schema, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.TablesQuery(), schema, prefix+"%")
	if err != nil {
		return nil, WrapStoreError("list tables", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, WrapStoreError("read tables", err)
	}
	return names, nil
}

func nullInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}

type sqlTxWriter struct {
	tx      *sql.Tx
	dialect SQLDialect
}

func (w *sqlTxWriter) Exec(ctx context.Context, query string, args ...any) error {
	if _, err := w.tx.ExecContext(ctx, query, args...); err != nil {
		return WrapStoreError("exec", err)
	}
	return nil
}

// BulkInsert writes rows with multi-row INSERT statements sized to the
// dialect's bind parameter and row limits.
func (w *sqlTxWriter) BulkInsert(ctx context.Context, table TableRef, columns []string, rows [][]any) error {
	if len(rows) == 0 || len(columns) == 0 {
		return nil
	}
	batch := w.dialect.MaxBindParams() / len(columns)
	if maxRows := w.dialect.MaxInsertRows(); maxRows > 0 && batch > maxRows {
		batch = maxRows
	}
	if batch < 1 {
		return fmt.Errorf("too many columns for one statement: %d", len(columns))
	}

	for start := 0; start < len(rows); start += batch {
		end := min(start+batch, len(rows))
		query, args := insertValues(w.dialect, table, columns, rows[start:end])
		if _, err := w.tx.ExecContext(ctx, query, args...); err != nil {
			return WrapStoreError("insert staging rows", err)
		}
	}
	return nil
}

func insertValues(d SQLDialect, table TableRef, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", d.QuoteTable(table), quoteList(d, columns))

	args := make([]any, 0, len(rows)*len(columns))
	n := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(d.Placeholder(n))
			n++
		}
		b.WriteByte(')')
		for _, v := range row {
			args = append(args, bindValue(v))
		}
	}
	return b.String(), args
}

// bindValue maps NaN floats to NULL so every store reads them as missing.
func bindValue(v any) any {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) {
			return nil
		}
	case float32:
		if math.IsNaN(float64(x)) {
			return nil
		}
	}
	return v
}
