package warehouse

import "context"

// UniqueKey is a primary key or unique constraint on a table.
type UniqueKey struct {
	Name    string
	Primary bool
	Columns []string
}

// Introspector reads table metadata from a store.
type Introspector interface {
	// ColumnTypes returns the table's columns in ordinal order. An empty
	// result means the table does not exist.
	ColumnTypes(ctx context.Context, table TableRef) ([]ColumnInfo, error)

	// UniqueKeys returns the table's primary key first, then its unique
	// constraints by name, each with columns in constraint order.
	UniqueKeys(ctx context.Context, table TableRef) ([]UniqueKey, error)
}

// Tx is the set of writes run inside one store transaction.
type Tx interface {
	Exec(ctx context.Context, query string, args ...any) error
	BulkInsert(ctx context.Context, table TableRef, columns []string, rows [][]any) error
}

// Store is a destination the upsert engine can write to.
type Store interface {
	Introspector

	Dialect() Dialect

	// Exec runs a statement outside any transaction.
	Exec(ctx context.Context, query string, args ...any) error

	// InTx runs fn in a transaction, committing if fn returns nil. Stores
	// without transactions run fn directly.
	InTx(ctx context.Context, fn func(tx Tx) error) error
}

// TableLister is implemented by stores that can list the tables of a
// schema whose names start with prefix.
type TableLister interface {
	ListTables(ctx context.Context, schema, prefix string) ([]string, error)
}

// MergeSpec describes a merge of a staging table into its target.
type MergeSpec struct {
	Target  TableRef
	Staging TableRef

	// Columns are the staged columns in dataset order.
	Columns []string
	// KeyColumns identify a row; UpdateColumns are Columns minus KeyColumns.
	KeyColumns    []string
	UpdateColumns []string
	// PreservedColumns exist only in the target.
	PreservedColumns []string
}

// Dialect renders the statements the engine runs against a store.
type Dialect interface {
	Name() string
	DefaultSchema() string
	MaxIdentifierLength() int

	QuoteIdent(name string) string
	QuoteTable(ref TableRef) string

	// CreateStagingTable returns the statements that (re)create an empty
	// staging table with the given columns.
	CreateStagingTable(ref TableRef, columns []ColumnDef) []string
	DropTable(ref TableRef) string
	Merge(spec MergeSpec) string
}

// UniqueKeyColumns returns the columns of every primary key and unique
// constraint on table, primary key first, without repeats. An empty
// result means no natural key is discoverable.
func UniqueKeyColumns(ctx context.Context, in Introspector, table TableRef) ([]string, error) {
	keys, err := in.UniqueKeys(ctx, table)
	if err != nil {
		return nil, err
	}
	var cols []string
	seen := make(map[string]bool)
	for _, k := range keys {
		for _, c := range k.Columns {
			if !seen[c] {
				seen[c] = true
				cols = append(cols, c)
			}
		}
	}
	return cols, nil
}
