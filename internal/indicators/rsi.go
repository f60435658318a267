package indicators

import "math"

// RSI returns the latest Wilder RSI, or 0 when there is not enough data.
func RSI(values []float64, period int) float64 {
	s := RSISeries(values, period)
	if len(s) == 0 || math.IsNaN(s[len(s)-1]) {
		return 0
	}
	return s[len(s)-1]
}

// RSISeries computes RSI with Wilder smoothing of gains and losses.
func RSISeries(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 || len(values) < period+1 {
		return out
	}
	gains := make([]float64, len(values))
	losses := make([]float64, len(values))
	gains[0], losses[0] = math.NaN(), math.NaN()
	for i := 1; i < len(values); i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			gains[i] = change
		} else {
			losses[i] = -change
		}
	}
	avgGain := RMASeries(gains, period)
	avgLoss := RMASeries(losses, period)
	for i := range values {
		g, l := avgGain[i], avgLoss[i]
		if math.IsNaN(g) || math.IsNaN(l) {
			continue
		}
		if l == 0 {
			out[i] = 100
			continue
		}
		out[i] = 100 - 100/(1+g/l)
	}
	return out
}

// StochRSI returns %K and %D of the stochastic oscillator applied to RSI.
func StochRSI(values []float64, length, rsiLength, k, d int) (kLine, dLine []float64) {
	rsi := RSISeries(values, rsiLength)
	stoch := nanSeries(len(values))
	for i := range rsi {
		if i < length-1 {
			continue
		}
		lo, hi := math.Inf(1), math.Inf(-1)
		valid := true
		for _, v := range rsi[i-length+1 : i+1] {
			if math.IsNaN(v) {
				valid = false
				break
			}
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		if !valid {
			continue
		}
		if hi == lo {
			stoch[i] = 0
			continue
		}
		stoch[i] = (rsi[i] - lo) / (hi - lo) * 100
	}
	kLine = smaSkippingNaN(stoch, k)
	dLine = smaSkippingNaN(kLine, d)
	return kLine, dLine
}

// smaSkippingNaN is a rolling mean over a series that starts with NaNs.
func smaSkippingNaN(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	start := firstValid(values)
	if start < 0 {
		return out
	}
	tail := SMASeries(values[start:], period)
	copy(out[start:], tail)
	return out
}
