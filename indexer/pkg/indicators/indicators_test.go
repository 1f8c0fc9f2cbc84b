package indicators

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func requireSeries(t *testing.T, want, got []float64) {
	t.Helper()
	require.Len(t, got, len(want))
	for i := range want {
		if math.IsNaN(want[i]) {
			require.True(t, math.IsNaN(got[i]), "index %d: want NaN, got %v", i, got[i])
			continue
		}
		require.InDelta(t, want[i], got[i], 1e-9, "index %d", i)
	}
}

var nan = math.NaN()

func TestPricelake_Indicators_MovingAverage(t *testing.T) {
	t.Parallel()

	t.Run("trailing mean with undefined prefix", func(t *testing.T) {
		t.Parallel()
		got := MovingAverage([]float64{10, 12, 11, 14, 13}, 2)
		requireSeries(t, []float64{nan, 11, 11.5, 12.5, 13.5}, got)
	})

	t.Run("period longer than series", func(t *testing.T) {
		t.Parallel()
		got := MovingAverage([]float64{1, 2}, 3)
		requireSeries(t, []float64{nan, nan}, got)
	})

	t.Run("window holding NaN is undefined", func(t *testing.T) {
		t.Parallel()
		got := MovingAverage([]float64{1, nan, 3, 5, 7}, 2)
		requireSeries(t, []float64{nan, nan, nan, 4, 6}, got)
	})

	t.Run("non-positive period", func(t *testing.T) {
		t.Parallel()
		requireSeries(t, []float64{nan, nan}, MovingAverage([]float64{1, 2}, 0))
		requireSeries(t, []float64{nan}, MovingAverage([]float64{1}, -3))
	})

	t.Run("period one is identity", func(t *testing.T) {
		t.Parallel()
		requireSeries(t, []float64{4, 5, 6}, MovingAverage([]float64{4, 5, 6}, 1))
	})

	t.Run("empty", func(t *testing.T) {
		t.Parallel()
		require.Empty(t, MovingAverage(nil, 5))
	})
}

func TestPricelake_Indicators_BollingerBands(t *testing.T) {
	t.Parallel()

	t.Run("sample deviation", func(t *testing.T) {
		t.Parallel()

		// Window [10, 12]: mean 11, sample std sqrt(2).
		upper, lower := BollingerBands([]float64{10, 12, 12}, 2)
		s := math.Sqrt2
		requireSeries(t, []float64{nan, 11 + 2*s, 12}, upper)
		requireSeries(t, []float64{nan, 11 - 2*s, 12}, lower)
	})

	t.Run("symmetric around moving average", func(t *testing.T) {
		t.Parallel()

		series := []float64{22.27, 22.19, 22.08, 22.17, 22.18, 22.13, 22.23, 22.43, 22.24, 22.29}
		upper, lower := BollingerBands(series, 5)
		sma := MovingAverage(series, 5)
		for i := range series {
			if i < 4 {
				require.True(t, math.IsNaN(upper[i]))
				require.True(t, math.IsNaN(lower[i]))
				continue
			}
			require.InDelta(t, sma[i], (upper[i]+lower[i])/2, 1e-9)
			require.Greater(t, upper[i], lower[i])
		}
	})

	t.Run("period one is undefined", func(t *testing.T) {
		t.Parallel()
		upper, lower := BollingerBands([]float64{1, 2, 3}, 1)
		requireSeries(t, []float64{nan, nan, nan}, upper)
		requireSeries(t, []float64{nan, nan, nan}, lower)
	})
}

func TestPricelake_Indicators_RSI(t *testing.T) {
	t.Parallel()

	t.Run("monotonic increasing is 100", func(t *testing.T) {
		t.Parallel()

		series := []float64{1, 2, 3, 4, 5, 6, 7, 8}
		got := RSI(series, 3)
		require.Len(t, got, len(series))
		for i := range got {
			if i < 3 {
				require.True(t, math.IsNaN(got[i]), "index %d", i)
				continue
			}
			require.Equal(t, 100.0, got[i], "index %d", i)
		}
	})

	t.Run("monotonic decreasing is 0", func(t *testing.T) {
		t.Parallel()
		got := RSI([]float64{8, 7, 6, 5}, 2)
		requireSeries(t, []float64{nan, nan, 0, 0}, got)
	})

	t.Run("flat window is neutral", func(t *testing.T) {
		t.Parallel()
		got := RSI([]float64{5, 5, 5, 5}, 2)
		requireSeries(t, []float64{nan, nan, 50, 50}, got)
	})

	t.Run("simple mean of gains and losses", func(t *testing.T) {
		t.Parallel()

		// Changes: +2, -1, +3, -1. Period 2 windows:
		// idx2: gains (2,0) losses (0,1) -> rs 2 -> 66.67
		// idx3: gains (0,3) losses (1,0) -> rs 3 -> 75
		// idx4: gains (3,0) losses (0,1) -> rs 3 -> 75
		got := RSI([]float64{10, 12, 11, 14, 13}, 2)
		requireSeries(t, []float64{nan, nan, 100 - 100.0/3, 75, 75}, got)
	})

	t.Run("series not longer than period", func(t *testing.T) {
		t.Parallel()
		requireSeries(t, []float64{nan, nan, nan}, RSI([]float64{1, 2, 3}, 3))
	})

	t.Run("NaN propagates through its window", func(t *testing.T) {
		t.Parallel()
		got := RSI([]float64{1, 2, nan, 4, 5, 6}, 2)
		requireSeries(t, []float64{nan, nan, nan, nan, nan, 100}, got)
	})

	t.Run("bounded", func(t *testing.T) {
		t.Parallel()
		series := []float64{44.34, 44.09, 44.15, 43.61, 44.33, 44.83, 45.10, 45.42, 45.84, 46.08, 45.89, 46.03, 45.61, 46.28, 46.28, 46.00}
		for i, v := range RSI(series, 14) {
			if i < 14 {
				require.True(t, math.IsNaN(v))
				continue
			}
			require.GreaterOrEqual(t, v, 0.0)
			require.LessOrEqual(t, v, 100.0)
		}
	})
}

func TestPricelake_Indicators_ComputeRSI(t *testing.T) {
	t.Parallel()

	require.Equal(t, 50.0, computeRSI(0, 0))
	require.Equal(t, 100.0, computeRSI(1, 0))
	require.Equal(t, 0.0, computeRSI(0, 1))
	require.InDelta(t, 50.0, computeRSI(1, 1), 1e-12)
}
