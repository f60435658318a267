package indicators

import "math"

// Candle is the OHLCV input of range-based indicators.
type Candle struct {
	Open, High, Low, Close, Volume float64
}

// TrueRange returns the true range series; the first entry is high-low.
func TrueRange(c []Candle) []float64 {
	out := make([]float64, len(c))
	for i, k := range c {
		if i == 0 {
			out[i] = k.High - k.Low
			continue
		}
		prev := c[i-1].Close
		out[i] = math.Max(k.High-k.Low, math.Max(math.Abs(k.High-prev), math.Abs(k.Low-prev)))
	}
	return out
}

// ATRSeries is Wilder's average true range.
func ATRSeries(c []Candle, period int) []float64 {
	tr := TrueRange(c)
	if len(tr) > 0 {
		// The first bar has no previous close.
		tr[0] = math.NaN()
	}
	return RMASeries(tr, period)
}

// ADXSeries is Wilder's average directional index.
func ADXSeries(c []Candle, period int) []float64 {
	n := len(c)
	out := nanSeries(n)
	if period <= 0 || n < 2*period+1 {
		return out
	}
	plusDM := nanSeries(n)
	minusDM := nanSeries(n)
	tr := TrueRange(c)
	tr[0] = math.NaN()
	for i := 1; i < n; i++ {
		up := c[i].High - c[i-1].High
		down := c[i-1].Low - c[i].Low
		plusDM[i], minusDM[i] = 0, 0
		if up > down && up > 0 {
			plusDM[i] = up
		}
		if down > up && down > 0 {
			minusDM[i] = down
		}
	}
	atr := RMASeries(tr, period)
	sp := RMASeries(plusDM, period)
	sm := RMASeries(minusDM, period)

	dx := nanSeries(n)
	for i := 0; i < n; i++ {
		if math.IsNaN(atr[i]) || atr[i] == 0 {
			continue
		}
		pdi := 100 * sp[i] / atr[i]
		mdi := 100 * sm[i] / atr[i]
		if pdi+mdi == 0 {
			dx[i] = 0
			continue
		}
		dx[i] = 100 * math.Abs(pdi-mdi) / (pdi + mdi)
	}
	return RMASeries(dx, period)
}

// Bollinger returns the upper, middle and lower bands.
func Bollinger(values []float64, period int, mult float64) (upper, middle, lower []float64) {
	middle = SMASeries(values, period)
	sd := StdDevSeries(values, period)
	upper = make([]float64, len(values))
	lower = make([]float64, len(values))
	for i := range values {
		upper[i] = middle[i] + mult*sd[i]
		lower[i] = middle[i] - mult*sd[i]
	}
	return upper, middle, lower
}

// Pearson returns the correlation coefficient of two equal-length series.
func Pearson(x, y []float64) (float64, bool) {
	if len(x) != len(y) || len(x) < 2 {
		return 0, false
	}
	mx, my := SMA(x, len(x)), SMA(y, len(y))
	var sxy, sxx, syy float64
	for i := range x {
		dx, dy := x[i]-mx, y[i]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return 0, false
	}
	return sxy / math.Sqrt(sxx*syy), true
}
