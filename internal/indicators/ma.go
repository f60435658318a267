package indicators

import "math"

// SMA calculates the simple moving average for the last period values.
func SMA(values []float64, period int) float64 {
	if period <= 0 || len(values) < period {
		return 0
	}
	sum := 0.0
	for i := len(values) - period; i < len(values); i++ {
		sum += values[i]
	}
	return sum / float64(period)
}

// SMASeries returns the rolling mean; the first period-1 entries are NaN.
func SMASeries(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	sum := 0.0
	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}
		if i >= period-1 {
			out[i] = sum / float64(period)
		}
	}
	return out
}

// EMASeries seeds with the SMA of the first period values, then smooths
// with alpha = 2/(period+1).
func EMASeries(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	alpha := 2.0 / float64(period+1)
	prev := SMA(values[:period], period)
	out[period-1] = prev
	for i := period; i < len(values); i++ {
		prev = alpha*values[i] + (1-alpha)*prev
		out[i] = prev
	}
	return out
}

// RMASeries is Wilder's smoothing: SMA seed, then (prev*(n-1)+x)/n.
// NaN inputs before the first valid value are skipped.
func RMASeries(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	start := firstValid(values)
	if period <= 0 || start < 0 || len(values)-start < period {
		return out
	}
	prev := SMA(values[start:start+period], period)
	out[start+period-1] = prev
	n := float64(period)
	for i := start + period; i < len(values); i++ {
		prev = (prev*(n-1) + values[i]) / n
		out[i] = prev
	}
	return out
}

// StdDevSeries is the rolling population standard deviation.
func StdDevSeries(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	for i := period - 1; i < len(values); i++ {
		window := values[i-period+1 : i+1]
		mean := SMA(window, period)
		var ss float64
		for _, v := range window {
			ss += (v - mean) * (v - mean)
		}
		out[i] = math.Sqrt(ss / float64(period))
	}
	return out
}

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func firstValid(values []float64) int {
	for i, v := range values {
		if !math.IsNaN(v) {
			return i
		}
	}
	return -1
}
