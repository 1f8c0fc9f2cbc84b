package frame

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPricelake_Frame_New(t *testing.T) {
	t.Parallel()

	t.Run("lowercases names and keeps order", func(t *testing.T) {
		t.Parallel()

		f, err := New(
			Column{Name: "Symbol", Values: []any{"AAPL", "MSFT"}},
			Column{Name: " Close ", Values: []any{1.5, 2.5}},
		)
		require.NoError(t, err)
		require.Equal(t, []string{"symbol", "close"}, f.Names())
		require.Equal(t, 2, f.Len())
		require.Equal(t, 2, f.Width())
		require.True(t, f.Has("CLOSE"))
	})

	t.Run("rejects duplicate names after normalization", func(t *testing.T) {
		t.Parallel()

		_, err := New(
			Column{Name: "close", Values: []any{1.0}},
			Column{Name: "CLOSE", Values: []any{2.0}},
		)
		require.ErrorIs(t, err, ErrDuplicateColumn)
	})

	t.Run("rejects ragged columns", func(t *testing.T) {
		t.Parallel()

		_, err := New(
			Column{Name: "a", Values: []any{1, 2}},
			Column{Name: "b", Values: []any{1}},
		)
		require.ErrorIs(t, err, ErrLengthMismatch)
	})

	t.Run("empty frame", func(t *testing.T) {
		t.Parallel()

		f, err := New()
		require.NoError(t, err)
		require.True(t, f.Empty())

		var nilFrame *Frame
		require.True(t, nilFrame.Empty())
	})
}

func TestPricelake_Frame_FromRecords(t *testing.T) {
	t.Parallel()

	f, err := FromRecords([]string{"symbol", "close"}, [][]any{
		{"AAPL", 10.0},
		{"MSFT", 20.0},
	})
	require.NoError(t, err)
	require.Equal(t, []any{"MSFT", 20.0}, f.Row(1))

	_, err = FromRecords([]string{"symbol", "close"}, [][]any{{"AAPL"}})
	require.ErrorIs(t, err, ErrLengthMismatch)
}

func TestPricelake_Frame_Clone(t *testing.T) {
	t.Parallel()

	f, err := New(Column{Name: "close", Values: []any{1.0, 2.0}})
	require.NoError(t, err)

	c := f.Clone()
	require.NoError(t, c.SetColumn("close", []any{9.0, 9.0}))
	require.NoError(t, c.AddColumn("rsi_14", []any{nil, nil}))

	vals, err := f.Values("close")
	require.NoError(t, err)
	require.Equal(t, []any{1.0, 2.0}, vals)
	require.False(t, f.Has("rsi_14"))
}

func TestPricelake_Frame_RenameColumn(t *testing.T) {
	t.Parallel()

	f, err := New(
		Column{Name: "ticker", Values: []any{"AAPL"}},
		Column{Name: "close", Values: []any{1.0}},
	)
	require.NoError(t, err)

	require.NoError(t, f.RenameColumn("Ticker", "symbol"))
	require.Equal(t, []string{"symbol", "close"}, f.Names())
	require.ErrorIs(t, f.RenameColumn("close", "symbol"), ErrDuplicateColumn)
	require.ErrorIs(t, f.RenameColumn("open", "o"), ErrColumnNotFound)
}

func TestPricelake_Frame_GroupBy(t *testing.T) {
	t.Parallel()

	f, err := New(
		Column{Name: "symbol", Values: []any{"AAPL", "MSFT", "AAPL", "GOOG", "MSFT"}},
		Column{Name: "close", Values: []any{1.0, 2.0, 3.0, 4.0, 5.0}},
	)
	require.NoError(t, err)

	groups, err := f.GroupBy("symbol")
	require.NoError(t, err)
	require.Equal(t, []Group{
		{Key: "AAPL", Rows: []int{0, 2}},
		{Key: "MSFT", Rows: []int{1, 4}},
		{Key: "GOOG", Rows: []int{3}},
	}, groups)

	sub := f.Take(groups[1].Rows)
	closes, err := sub.Floats("close")
	require.NoError(t, err)
	require.Equal(t, []float64{2.0, 5.0}, closes)

	_, err = f.GroupBy("missing")
	require.ErrorIs(t, err, ErrColumnNotFound)
}

func TestPricelake_Frame_GroupBy_Times(t *testing.T) {
	t.Parallel()

	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	f, err := New(Column{Name: "date", Values: []any{day, day.In(time.FixedZone("x", 3600)), day.AddDate(0, 0, 1)}})
	require.NoError(t, err)

	groups, err := f.GroupBy("date")
	require.NoError(t, err)
	require.Len(t, groups, 2)
	require.Equal(t, []int{0, 1}, groups[0].Rows)
}

func TestPricelake_Frame_Floats(t *testing.T) {
	t.Parallel()

	f, err := New(
		Column{Name: "close", Values: []any{int64(10), nil, float32(1.5), 2.25}},
		Column{Name: "symbol", Values: []any{"A", "B", "C", "D"}},
	)
	require.NoError(t, err)

	got, err := f.Floats("close")
	require.NoError(t, err)
	require.Equal(t, 10.0, got[0])
	require.True(t, math.IsNaN(got[1]))
	require.Equal(t, 1.5, got[2])
	require.Equal(t, 2.25, got[3])

	_, err = f.Floats("symbol")
	require.ErrorIs(t, err, ErrNotNumeric)
}

func TestPricelake_Frame_FloatValues(t *testing.T) {
	t.Parallel()

	got := FloatValues([]float64{math.NaN(), 1.5, math.Inf(1)})
	require.Equal(t, []any{nil, 1.5, nil}, got)
}

func TestPricelake_Frame_NormalizeToFirstValue(t *testing.T) {
	t.Parallel()

	f, err := New(
		Column{Name: "symbol", Values: []any{"CL=F", "CL=F", "CL=F"}},
		Column{Name: "close", Values: []any{nil, 80.0, 100.0}},
		Column{Name: "volume", Values: []any{int64(10), int64(20), nil}},
		Column{Name: "empty", Values: []any{nil, nil, nil}},
	)
	require.NoError(t, err)

	require.NoError(t, f.NormalizeToFirstValue("close", "volume", "empty", "absent"))

	closes, err := f.Values("close")
	require.NoError(t, err)
	require.Equal(t, []any{nil, 1.0, 1.25}, closes)
	volume, err := f.Values("volume")
	require.NoError(t, err)
	require.Equal(t, []any{1.0, 2.0, nil}, volume)
	empty, err := f.Values("empty")
	require.NoError(t, err)
	require.Equal(t, []any{nil, nil, nil}, empty)

	t.Run("zero base", func(t *testing.T) {
		t.Parallel()

		g, err := New(Column{Name: "close", Values: []any{0.0, 1.0}})
		require.NoError(t, err)
		require.Error(t, g.NormalizeToFirstValue("close"))
	})

	t.Run("text column", func(t *testing.T) {
		t.Parallel()

		g, err := New(Column{Name: "symbol", Values: []any{"XOM"}})
		require.NoError(t, err)
		require.ErrorIs(t, g.NormalizeToFirstValue("symbol"), ErrNotNumeric)
	})
}
