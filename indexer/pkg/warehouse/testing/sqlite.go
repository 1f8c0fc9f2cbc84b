package warehousetesting

import (
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/pricelake/indexer/pkg/warehouse"
	pricelaketesting "github.com/malbeclabs/pricelake/utils/pkg/testing"
)

// NewTestSQLiteDB opens a file-backed SQLite database in the test's temp
// dir with the warehouse tables migrated.
func NewTestSQLiteDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", warehouse.SQLiteDSN(filepath.Join(t.TempDir(), "warehouse.db")))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, warehouse.RunMigrations(t.Context(), pricelaketesting.NewLogger(), db, warehouse.SQLite{}))
	return db
}

func NewTestSQLiteStore(t *testing.T) *warehouse.SQLStore {
	t.Helper()
	store, err := warehouse.NewSQLStore(NewTestSQLiteDB(t), warehouse.SQLite{})
	require.NoError(t, err)
	return store
}
