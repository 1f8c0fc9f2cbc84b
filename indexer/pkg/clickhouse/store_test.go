package clickhouse_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/pricelake/indexer/pkg/clickhouse"
	"github.com/malbeclabs/pricelake/indexer/pkg/frame"
	"github.com/malbeclabs/pricelake/indexer/pkg/warehouse"
	pricelaketesting "github.com/malbeclabs/pricelake/utils/pkg/testing"
)

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func testEngine(t *testing.T, store warehouse.Store) *warehouse.Engine {
	t.Helper()
	engine, err := warehouse.NewEngine(warehouse.EngineConfig{Logger: pricelaketesting.NewLogger(), Store: store})
	require.NoError(t, err)
	return engine
}

type closeRow struct {
	Date  time.Time
	Open  *float64
	Close *float64
}

func readCloses(t *testing.T, client clickhouse.Client, symbol string) []closeRow {
	t.Helper()
	conn, err := client.Conn(t.Context())
	require.NoError(t, err)
	rows, err := conn.Query(clickhouse.ContextWithSyncInsert(t.Context()),
		`SELECT date, open, close FROM stock_prices FINAL WHERE symbol = ? ORDER BY date`, symbol)
	require.NoError(t, err)
	defer rows.Close()

	var out []closeRow
	for rows.Next() {
		var r closeRow
		require.NoError(t, rows.Scan(&r.Date, &r.Open, &r.Close))
		r.Date = r.Date.UTC()
		out = append(out, r)
	}
	require.NoError(t, rows.Err())
	return out
}

func TestPricelake_ClickHouse_Store_Upsert(t *testing.T) {
	t.Parallel()
	store, client := testStore(t)
	engine := testEngine(t, store)
	ctx := t.Context()

	f, err := frame.FromRecords([]string{"symbol", "date", "open", "close"}, [][]any{
		{"AAPL", day(1), 9.0, 10.0},
		{"AAPL", day(2), 10.0, 11.0},
	})
	require.NoError(t, err)
	res, err := engine.Upsert(ctx, f, "stock_prices")
	require.NoError(t, err)
	require.Equal(t, []string{"symbol", "date"}, res.KeyColumns)
	require.Equal(t, client.Database(), res.Table.Schema)

	// open is not in this dataset, so day 2 keeps its open price.
	f, err = frame.FromRecords([]string{"symbol", "date", "close"}, [][]any{
		{"AAPL", day(2), 12.0},
		{"AAPL", day(3), 13.0},
	})
	require.NoError(t, err)
	_, err = engine.Upsert(ctx, f, "stock_prices")
	require.NoError(t, err)

	got := readCloses(t, client, "AAPL")
	require.Len(t, got, 3)
	require.Equal(t, day(2), got[1].Date)
	require.NotNil(t, got[1].Open)
	require.Equal(t, 10.0, *got[1].Open)
	require.Equal(t, 12.0, *got[1].Close)
	require.Nil(t, got[2].Open)
	require.Equal(t, 13.0, *got[2].Close)
}

func TestPricelake_ClickHouse_Store_Introspection(t *testing.T) {
	t.Parallel()
	store, client := testStore(t)
	ctx := t.Context()
	ref := warehouse.TableRef{Schema: client.Database(), Name: "stock_prices"}

	cols, err := store.ColumnTypes(ctx, ref)
	require.NoError(t, err)
	require.Len(t, cols, 9)
	require.Equal(t, warehouse.ColumnInfo{Name: "symbol", Type: warehouse.ColumnType{Kind: warehouse.KindText}}, cols[0])
	require.Equal(t, warehouse.ColumnInfo{Name: "date", Type: warehouse.ColumnType{Kind: warehouse.KindTimestamp}}, cols[1])
	require.Equal(t, warehouse.ColumnInfo{Name: "volume", Type: warehouse.ColumnType{Kind: warehouse.KindInteger}}, cols[7])
	require.Equal(t, warehouse.ColumnInfo{Name: "updated_at", Type: warehouse.ColumnType{Kind: warehouse.KindTimestamp, Precision: 3}}, cols[8])

	keys, err := warehouse.UniqueKeyColumns(ctx, store, ref)
	require.NoError(t, err)
	require.Equal(t, []string{"symbol", "date"}, keys)

	conn, err := client.Conn(ctx)
	require.NoError(t, err)
	require.NoError(t, conn.Exec(ctx, `CREATE TABLE events (id String, v Float64) ENGINE = MergeTree ORDER BY id`))

	keys, err = warehouse.UniqueKeyColumns(ctx, store, warehouse.TableRef{Schema: client.Database(), Name: "events"})
	require.NoError(t, err)
	require.Empty(t, keys)

	engine := testEngine(t, store)
	f, err := frame.FromRecords([]string{"id", "v"}, [][]any{{"a", 1.0}})
	require.NoError(t, err)
	_, err = engine.Upsert(ctx, f, "events")
	require.ErrorIs(t, err, warehouse.ErrNoUniqueKey)
}

func TestPricelake_ClickHouse_Store_SweepStaging(t *testing.T) {
	t.Parallel()
	store, client := testStore(t)
	ctx := t.Context()

	conn, err := client.Conn(ctx)
	require.NoError(t, err)
	require.NoError(t, conn.Exec(ctx, `CREATE TABLE stock_prices_staging_0123456789ab (symbol Nullable(String)) ENGINE = Memory`))
	require.NoError(t, conn.Exec(ctx, `CREATE TABLE stock_prices_staging_keep (symbol Nullable(String)) ENGINE = Memory`))

	names, err := store.ListTables(ctx, client.Database(), "stock_prices_staging_")
	require.NoError(t, err)
	require.Equal(t, []string{"stock_prices_staging_0123456789ab", "stock_prices_staging_keep"}, names)

	dropped, err := testEngine(t, store).SweepStaging(ctx, "stock_prices")
	require.NoError(t, err)
	require.Equal(t, 1, dropped)

	names, err = store.ListTables(ctx, client.Database(), "stock_prices_staging_")
	require.NoError(t, err)
	require.Equal(t, []string{"stock_prices_staging_keep"}, names)
}

func TestPricelake_ClickHouse_Store_SymbolsByIndustry(t *testing.T) {
	t.Parallel()
	store, _ := testStore(t)
	engine := testEngine(t, store)

	f, err := frame.FromRecords([]string{"symbol", "name", "industry", "asset_type"}, [][]any{
		{"XOM", "Exxon Mobil", "Oil & Gas Integrated", "stock"},
		{"CVX", "Chevron", "Oil & Gas Integrated", "stock"},
		{"EOG", "EOG Resources", "Oil & Gas E&P", "stock"},
		{"XLE", "Energy Select Sector SPDR", "Oil & Gas Integrated", "etf"},
	})
	require.NoError(t, err)
	_, err = engine.Upsert(t.Context(), f, "asset_header")
	require.NoError(t, err)

	symbols, err := store.SymbolsByIndustry(t.Context(), "Oil & Gas Integrated")
	require.NoError(t, err)
	require.Equal(t, []string{"CVX", "XOM"}, symbols)

	symbols, err = store.SymbolsByIndustry(t.Context(), "Utilities")
	require.NoError(t, err)
	require.Empty(t, symbols)
}
