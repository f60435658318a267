package indicators

import "math"

// Pivots are classic floor-trader levels.
type Pivots struct {
	P  float64 `json:"p"`
	R1 float64 `json:"r1"`
	S1 float64 `json:"s1"`
	R2 float64 `json:"r2"`
	S2 float64 `json:"s2"`
}

// ClassicPivots computes levels from one completed candle.
func ClassicPivots(c Candle) Pivots {
	p := (c.High + c.Low + c.Close) / 3
	return Pivots{
		P:  p,
		R1: 2*p - c.Low,
		S1: 2*p - c.High,
		R2: p + (c.High - c.Low),
		S2: p - (c.High - c.Low),
	}
}

// Market structure labels.
const (
	StructureInsufficient  = "INSUFFICIENT_DATA"
	StructureUnclear       = "UNCLEAR"
	StructureBullish       = "BULLISH (HH + HL)"
	StructureBearish       = "BEARISH (LH + LL)"
	StructureExpanding     = "EXPANDING (Megaphone)"
	StructureConsolidation = "CONSOLIDATION (Triangle)"
	StructureSideways      = "SIDEWAYS"
)

// MarketStructure classifies the last two swing highs and lows. A swing
// point is at least as extreme as every bar within lookback on both sides
// (window clipped at the series edges); the newest lookback+1 bars cannot
// form swings yet.
func MarketStructure(c []Candle, lookback, minBars int) string {
	if len(c) < minBars {
		return StructureInsufficient
	}
	n := len(c)
	maxIdx := n - lookback - 1
	var highs, lows []float64
	for i := 0; i < maxIdx; i++ {
		if isExtreme(c, i, lookback, func(k Candle) float64 { return k.High }, func(a, b float64) bool { return a >= b }) {
			highs = append(highs, c[i].High)
		}
		if isExtreme(c, i, lookback, func(k Candle) float64 { return k.Low }, func(a, b float64) bool { return a <= b }) {
			lows = append(lows, c[i].Low)
		}
	}
	if len(highs) < 2 || len(lows) < 2 {
		return StructureUnclear
	}
	lastH, prevH := highs[len(highs)-1], highs[len(highs)-2]
	lastL, prevL := lows[len(lows)-1], lows[len(lows)-2]
	switch {
	case lastH > prevH && lastL > prevL:
		return StructureBullish
	case lastH < prevH && lastL < prevL:
		return StructureBearish
	case lastH > prevH && lastL < prevL:
		return StructureExpanding
	case lastH < prevH && lastL > prevL:
		return StructureConsolidation
	}
	return StructureSideways
}

func isExtreme(c []Candle, i, order int, val func(Candle) float64, cmp func(a, b float64) bool) bool {
	n := len(c)
	v := val(c[i])
	for s := 1; s <= order; s++ {
		right := i + s
		if right > n-1 {
			right = n - 1
		}
		left := i - s
		if left < 0 {
			left = 0
		}
		if !cmp(v, val(c[right])) || !cmp(v, val(c[left])) {
			return false
		}
	}
	return true
}

// Wick rejection labels.
const (
	RejectionNone    = "NONE"
	RejectionBullish = "BULLISH_REJECTION"
	RejectionBearish = "BEARISH_REJECTION"
)

// WickRejection summarises long-wick candles among recent closed bars.
type WickRejection struct {
	Type     string  `json:"recent_rejection"`
	Strength float64 `json:"rejection_strength"`
	Count    int     `json:"rejection_candles"`
}

// DetectWickRejection scans the last lookback closed candles (the final
// element is the in-progress candle and is ignored). A wick longer than
// multiplier times the body counts as a rejection; strength is wick/body.
func DetectWickRejection(c []Candle, lookback int, multiplier float64) WickRejection {
	res := WickRejection{Type: RejectionNone}
	if len(c) < lookback {
		return res
	}
	var candidates []Candle
	if len(c) < lookback+2 {
		candidates = c[:len(c)-1]
	} else {
		candidates = c[len(c)-1-lookback : len(c)-1]
	}

	for _, k := range candidates {
		body := math.Abs(k.Close - k.Open)
		upper := k.High - math.Max(k.Open, k.Close)
		lower := math.Min(k.Open, k.Close) - k.Low

		ref := body
		if ref <= 0 {
			ref = (k.High - k.Low) * 0.01
		}
		if ref == 0 {
			ref = 1e-8
		}

		switch {
		case lower > body*multiplier:
			res.Count++
			if s := lower / ref; s > res.Strength {
				res.Strength = s
				res.Type = RejectionBullish
			}
		case upper > body*multiplier:
			res.Count++
			if s := upper / ref; s > res.Strength {
				res.Strength = s
				res.Type = RejectionBearish
			}
		}
	}
	res.Strength = math.Round(res.Strength*100) / 100
	return res
}
