package clickhouse

import (
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/stretchr/testify/require"

	"github.com/malbeclabs/pricelake/indexer/pkg/warehouse"
)

func TestPricelake_ClickHouse_ClassifyType(t *testing.T) {
	t.Parallel()

	tests := map[string]warehouse.ColumnType{
		"String":                           {Kind: warehouse.KindText},
		"LowCardinality(String)":           {Kind: warehouse.KindText},
		"LowCardinality(Nullable(String))": {Kind: warehouse.KindText},
		"FixedString(8)":                   {Kind: warehouse.KindText, Length: 8},
		"Int64":                            {Kind: warehouse.KindInteger},
		"Nullable(UInt32)":                 {Kind: warehouse.KindInteger},
		"Float64":                          {Kind: warehouse.KindFloat},
		"Nullable(Decimal(18, 4))":         {Kind: warehouse.KindFloat},
		"DateTime64(0, 'UTC')":             {Kind: warehouse.KindTimestamp},
		"Nullable(DateTime64(3, 'UTC'))":   {Kind: warehouse.KindTimestamp, Precision: 3},
		"DateTime":                         {Kind: warehouse.KindTimestamp},
		"Date":                             {Kind: warehouse.KindTimestamp},
		"Bool":                             {Kind: warehouse.KindText, Length: warehouse.DefaultTextLength},
	}
	for typ, want := range tests {
		t.Run(typ, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, want, classifyType(typ))
		})
	}
}

func TestPricelake_ClickHouse_ParseSortingKey(t *testing.T) {
	t.Parallel()
	require.Equal(t, []string{"symbol", "date"}, parseSortingKey("symbol, date"))
	require.Equal(t, []string{"symbol"}, parseSortingKey("symbol"))
	require.Nil(t, parseSortingKey(""))
	require.Nil(t, parseSortingKey("symbol, toDate(ts)"))
}

func TestPricelake_ClickHouse_Dialect(t *testing.T) {
	t.Parallel()
	d := Dialect{Database: "prices"}
	target := warehouse.TableRef{Schema: "prices", Name: "stock_prices"}
	staging := warehouse.TableRef{Schema: "prices", Name: "stock_prices_staging_0123456789ab"}

	require.Equal(t, "prices", d.DefaultSchema())
	require.Equal(t, []string{
		"DROP TABLE IF EXISTS `prices`.`stock_prices_staging_0123456789ab`",
		"CREATE TABLE `prices`.`stock_prices_staging_0123456789ab` (`symbol` Nullable(String), `date` Nullable(DateTime64(0, 'UTC')), `close` Nullable(Float64), `volume` Nullable(Int64)) ENGINE = Memory",
	}, d.CreateStagingTable(staging, []warehouse.ColumnDef{
		{Name: "symbol", Type: warehouse.ColumnType{Kind: warehouse.KindText}},
		{Name: "date", Type: warehouse.ColumnType{Kind: warehouse.KindTimestamp}},
		{Name: "close", Type: warehouse.ColumnType{Kind: warehouse.KindFloat}},
		{Name: "volume", Type: warehouse.ColumnType{Kind: warehouse.KindInteger}},
	}))

	spec := warehouse.MergeSpec{
		Target:        target,
		Staging:       staging,
		Columns:       []string{"symbol", "date", "close"},
		KeyColumns:    []string{"symbol", "date"},
		UpdateColumns: []string{"close"},
	}
	require.Equal(t,
		"INSERT INTO `prices`.`stock_prices` (`symbol`, `date`, `close`) SELECT `symbol`, `date`, `close` FROM `prices`.`stock_prices_staging_0123456789ab`",
		d.Merge(spec))

	spec.PreservedColumns = []string{"open"}
	require.Equal(t,
		"INSERT INTO `prices`.`stock_prices` (`symbol`, `date`, `close`, `open`)"+
			" SELECT s.`symbol`, s.`date`, s.`close`, t.`open`"+
			" FROM `prices`.`stock_prices_staging_0123456789ab` AS s"+
			" LEFT JOIN (SELECT * FROM `prices`.`stock_prices` FINAL) AS t ON s.`symbol` = t.`symbol` AND s.`date` = t.`date`",
		d.Merge(spec))
}

func TestPricelake_ClickHouse_Coerce(t *testing.T) {
	t.Parallel()
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.FixedZone("x", 3600))

	require.Equal(t, int64(5), coerce(5))
	require.Equal(t, int64(5), coerce(uint16(5)))
	require.Equal(t, 1.5, coerce(float32(1.5)))
	require.Nil(t, coerce(math.NaN()))
	require.Nil(t, coerce(nil))
	require.Equal(t, ts.UTC(), coerce(ts))
	require.Equal(t, "abc", coerce([]byte("abc")))
	require.Equal(t, "abc", coerce("abc"))
}

func TestPricelake_ClickHouse_WrapError(t *testing.T) {
	t.Parallel()

	err := wrapError("exec", &clickhouse.Exception{Code: 159, Message: "timeout exceeded"})
	require.True(t, warehouse.IsTransient(err))

	err = wrapError("exec", fmt.Errorf("send: %w", &clickhouse.Exception{Code: 62, Message: "syntax error"}))
	require.False(t, warehouse.IsTransient(err))
	var ex *clickhouse.Exception
	require.ErrorAs(t, err, &ex)
	require.Equal(t, int32(62), ex.Code)

	require.True(t, warehouse.IsTransient(wrapError("exec", errors.New("dial tcp 127.0.0.1:9000: connection refused"))))
}
