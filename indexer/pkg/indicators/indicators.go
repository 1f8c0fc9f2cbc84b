// Package indicators computes trailing-window technical indicators over a
// time-ordered price series. Every function returns a series as long as its
// input, with NaN wherever the indicator has no value.
package indicators

import "math"

// BandWidth is the number of standard deviations between the moving average
// and each Bollinger band.
const BandWidth = 2.0

// MovingAverage returns the simple moving average over the trailing period
// observations. The first period-1 values are NaN, as is any window holding
// a NaN.
func MovingAverage(series []float64, period int) []float64 {
	out := nanSeries(len(series))
	if period <= 0 {
		return out
	}
	for i := period - 1; i < len(series); i++ {
		mean, ok := windowMean(series[i-period+1 : i+1])
		if ok {
			out[i] = mean
		}
	}
	return out
}

// BollingerBands returns the moving average plus and minus BandWidth sample
// standard deviations of the trailing period observations.
func BollingerBands(series []float64, period int) (upper, lower []float64) {
	upper = nanSeries(len(series))
	lower = nanSeries(len(series))
	if period <= 1 {
		// The sample deviation of a single observation is undefined.
		return upper, lower
	}
	for i := period - 1; i < len(series); i++ {
		window := series[i-period+1 : i+1]
		mean, ok := windowMean(window)
		if !ok {
			continue
		}
		var ss float64
		for _, x := range window {
			d := x - mean
			ss += d * d
		}
		std := math.Sqrt(ss / float64(period-1))
		upper[i] = mean + BandWidth*std
		lower[i] = mean - BandWidth*std
	}
	return upper, lower
}

// RSI returns the relative strength index using simple means of the gains
// and losses over the trailing period price changes. The first defined
// value is at index period.
//
// A window with no losses yields 100, or 50 if it has no gains either.
func RSI(series []float64, period int) []float64 {
	out := nanSeries(len(series))
	if period <= 0 || len(series) <= period {
		return out
	}

	gains := make([]float64, len(series))
	losses := make([]float64, len(series))
	gains[0], losses[0] = math.NaN(), math.NaN()
	for i := 1; i < len(series); i++ {
		change := series[i] - series[i-1]
		if math.IsNaN(change) {
			gains[i], losses[i] = math.NaN(), math.NaN()
			continue
		}
		gains[i] = math.Max(change, 0)
		losses[i] = math.Max(-change, 0)
	}

	for i := period; i < len(series); i++ {
		avgGain, okGain := windowMean(gains[i-period+1 : i+1])
		avgLoss, okLoss := windowMean(losses[i-period+1 : i+1])
		if okGain && okLoss {
			out[i] = computeRSI(avgGain, avgLoss)
		}
	}
	return out
}

func computeRSI(avgGain, avgLoss float64) float64 {
	switch {
	case avgLoss == 0 && avgGain == 0:
		return 50
	case avgLoss == 0:
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

func windowMean(window []float64) (float64, bool) {
	var sum float64
	for _, x := range window {
		if math.IsNaN(x) {
			return math.NaN(), false
		}
		sum += x
	}
	return sum / float64(len(window)), true
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
