package warehouse_test

import (
	"math"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/pricelake/indexer/pkg/frame"
	"github.com/malbeclabs/pricelake/indexer/pkg/warehouse"
)

func TestPricelake_Warehouse_Postgres_Upsert(t *testing.T) {
	t.Parallel()
	store := testPostgresStore(t)
	engine := testEngine(t, store)
	ctx := t.Context()

	res, err := engine.Upsert(ctx, priceFrame(t,
		[]any{"AAPL", day(1), 10.0, int64(100)},
		[]any{"AAPL", day(2), 11.0, int64(110)},
	), "stock_prices")
	require.NoError(t, err)
	require.Equal(t, "public.stock_prices", res.Table.String())
	require.Equal(t, []string{"symbol", "date"}, res.KeyColumns)

	_, err = engine.Upsert(ctx, priceFrame(t,
		[]any{"AAPL", day(2), 12.0, int64(120)},
		[]any{"AAPL", day(3), 13.0, int64(130)},
	), "public.stock_prices")
	require.NoError(t, err)

	rows, err := store.DB().QueryContext(ctx, `SELECT close, volume FROM stock_prices WHERE symbol = $1 ORDER BY date`, "AAPL")
	require.NoError(t, err)
	defer rows.Close()
	var got []priceRow
	for rows.Next() {
		var r priceRow
		require.NoError(t, rows.Scan(&r.close, &r.volume))
		got = append(got, r)
	}
	require.NoError(t, rows.Err())
	require.Equal(t, []priceRow{{10, 100}, {12, 120}, {13, 130}}, got)

	var staging int
	require.NoError(t, store.DB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM information_schema.tables WHERE table_name LIKE 'stock_prices_staging_%'`).Scan(&staging))
	require.Zero(t, staging)
}

func TestPricelake_Warehouse_Postgres_NaNStoredAsNull(t *testing.T) {
	t.Parallel()
	store := testPostgresStore(t)
	engine := testEngine(t, store)
	ctx := t.Context()

	_, err := engine.Upsert(ctx, priceFrame(t,
		[]any{"XOM", day(1), math.NaN(), int64(100)},
	), "stock_prices")
	require.NoError(t, err)

	var isNull bool
	require.NoError(t, store.DB().QueryRowContext(ctx,
		`SELECT close IS NULL FROM stock_prices WHERE symbol = 'XOM'`).Scan(&isNull))
	require.True(t, isNull)
}

func TestPricelake_Warehouse_Postgres_Introspection(t *testing.T) {
	t.Parallel()
	store := testPostgresStore(t)
	ctx := t.Context()

	_, err := store.DB().ExecContext(ctx, `CREATE TABLE listings (
		id BIGINT PRIMARY KEY,
		code VARCHAR(16) NOT NULL,
		venue TEXT NOT NULL,
		listed_at TIMESTAMP(3),
		tick INTERVAL,
		CONSTRAINT listings_code_venue_key UNIQUE (code, venue)
	)`)
	require.NoError(t, err)
	ref := warehouse.TableRef{Schema: "public", Name: "listings"}

	cols, err := store.ColumnTypes(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, []warehouse.ColumnInfo{
		{Name: "id", Type: warehouse.ColumnType{Kind: warehouse.KindInteger}},
		{Name: "code", Type: warehouse.ColumnType{Kind: warehouse.KindText, Length: 16}},
		{Name: "venue", Type: warehouse.ColumnType{Kind: warehouse.KindText}},
		{Name: "listed_at", Type: warehouse.ColumnType{Kind: warehouse.KindTimestamp, Precision: 3}},
		{Name: "tick", Type: warehouse.ColumnType{Kind: warehouse.KindText, Length: warehouse.DefaultTextLength}},
	}, cols)

	keys, err := store.UniqueKeys(ctx, ref)
	require.NoError(t, err)
	require.Equal(t, []warehouse.UniqueKey{
		{Name: "listings_pkey", Primary: true, Columns: []string{"id"}},
		{Name: "listings_code_venue_key", Columns: []string{"code", "venue"}},
	}, keys)

	flat, err := warehouse.UniqueKeyColumns(ctx, store, ref)
	require.NoError(t, err)
	require.Equal(t, []string{"id", "code", "venue"}, flat)

	missing, err := store.ColumnTypes(ctx, warehouse.TableRef{Schema: "public", Name: "nope"})
	require.NoError(t, err)
	require.Empty(t, missing)
}

func TestPricelake_Warehouse_Postgres_UnboundedText(t *testing.T) {
	t.Parallel()
	store := testPostgresStore(t)
	engine := testEngine(t, store)
	ctx := t.Context()

	_, err := store.DB().ExecContext(ctx, `CREATE TABLE notes (
		id BIGINT PRIMARY KEY,
		body TEXT NOT NULL
	)`)
	require.NoError(t, err)

	body := strings.Repeat("x", 300)
	f, err := frame.New(
		frame.Column{Name: "id", Values: []any{int64(1)}},
		frame.Column{Name: "body", Values: []any{body}},
	)
	require.NoError(t, err)
	_, err = engine.Upsert(ctx, f, "notes")
	require.NoError(t, err)

	var got string
	require.NoError(t, store.DB().QueryRowContext(ctx, `SELECT body FROM notes WHERE id = 1`).Scan(&got))
	require.Equal(t, body, got)
}

func TestPricelake_Warehouse_Postgres_ConcurrentUpserts(t *testing.T) {
	t.Parallel()
	store := testPostgresStore(t)
	engine := testEngine(t, store)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Every writer touches the same keys.
			f, err := frame.FromRecords(priceColumns, [][]any{
				{"SPY", day(1), float64(i), int64(i)},
				{"SPY", day(2), float64(i), int64(i)},
			})
			if err != nil {
				errs <- err
				return
			}
			_, err = engine.Upsert(t.Context(), f, "stock_prices")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var n int
	require.NoError(t, store.DB().QueryRowContext(t.Context(), `SELECT COUNT(*) FROM stock_prices WHERE symbol = 'SPY'`).Scan(&n))
	require.Equal(t, 2, n)
}
