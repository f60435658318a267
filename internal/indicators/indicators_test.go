package indicators

import (
	"math"
	"testing"
)

func approx(a, b, eps float64) bool { return math.Abs(a-b) <= eps }

func TestSMAAndSeries(t *testing.T) {
	vals := []float64{1, 2, 3, 4, 5}
	if got := SMA(vals, 3); got != 4 {
		t.Fatalf("SMA=%v want 4", got)
	}
	if got := SMA(vals, 10); got != 0 {
		t.Fatalf("SMA short input=%v want 0", got)
	}
	s := SMASeries(vals, 3)
	if !math.IsNaN(s[1]) || s[2] != 2 || s[4] != 4 {
		t.Fatalf("SMASeries=%v", s)
	}
}

func TestEMASeedsWithSMA(t *testing.T) {
	vals := []float64{2, 4, 6, 8}
	e := EMASeries(vals, 3)
	if !math.IsNaN(e[1]) || e[2] != 4 {
		t.Fatalf("seed=%v", e)
	}
	// alpha = 0.5
	if e[3] != 6 {
		t.Fatalf("e[3]=%v want 6", e[3])
	}
}

func TestRSI(t *testing.T) {
	cases := []struct {
		name string
		vals []float64
		want float64
	}{
		{"all gains", []float64{1, 2, 3, 4, 5, 6}, 100},
		{"too short", []float64{1, 2}, 0},
		{"balanced", []float64{10, 11, 10, 11, 10}, 50},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := RSI(tc.vals, 4); !approx(got, tc.want, 1e-9) {
				t.Fatalf("RSI=%v want %v", got, tc.want)
			}
		})
	}
}

func TestATRConstantRange(t *testing.T) {
	var c []Candle
	for i := 0; i < 30; i++ {
		c = append(c, Candle{Open: 100, High: 101, Low: 99, Close: 100})
	}
	atr := ATRSeries(c, 14)
	if !approx(atr[len(atr)-1], 2, 1e-9) {
		t.Fatalf("ATR=%v want 2", atr[len(atr)-1])
	}
	if !math.IsNaN(atr[13]) || math.IsNaN(atr[14]) {
		t.Fatalf("ATR warmup wrong: atr[13]=%v atr[14]=%v", atr[13], atr[14])
	}
}

func TestADXTrendingMarket(t *testing.T) {
	var c []Candle
	for i := 0; i < 60; i++ {
		base := 100 + float64(i)
		c = append(c, Candle{Open: base, High: base + 1, Low: base - 0.5, Close: base + 0.5})
	}
	adx := ADXSeries(c, 14)
	last := adx[len(adx)-1]
	if math.IsNaN(last) || last < 90 {
		t.Fatalf("ADX=%v, want strong trend reading", last)
	}
}

func TestBollingerConstant(t *testing.T) {
	vals := make([]float64, 25)
	for i := range vals {
		vals[i] = 50
	}
	up, mid, low := Bollinger(vals, 20, 2)
	if up[24] != 50 || mid[24] != 50 || low[24] != 50 {
		t.Fatalf("bands=%v %v %v", up[24], mid[24], low[24])
	}
}

func TestStochRSIRange(t *testing.T) {
	var vals []float64
	for i := 0; i < 80; i++ {
		vals = append(vals, 100+10*math.Sin(float64(i)/3))
	}
	k, d := StochRSI(vals, 14, 14, 3, 3)
	lk, ld := k[len(k)-1], d[len(d)-1]
	if math.IsNaN(lk) || math.IsNaN(ld) || lk < 0 || lk > 100 || ld < 0 || ld > 100 {
		t.Fatalf("k=%v d=%v", lk, ld)
	}
}

func TestPearson(t *testing.T) {
	if r, ok := Pearson([]float64{1, 2, 3}, []float64{2, 4, 6}); !ok || !approx(r, 1, 1e-12) {
		t.Fatalf("r=%v ok=%v", r, ok)
	}
	if r, ok := Pearson([]float64{1, 2, 3}, []float64{3, 2, 1}); !ok || !approx(r, -1, 1e-12) {
		t.Fatalf("r=%v ok=%v", r, ok)
	}
	if _, ok := Pearson([]float64{1, 1, 1}, []float64{1, 2, 3}); ok {
		t.Fatal("constant series should not correlate")
	}
}

func TestClassicPivots(t *testing.T) {
	p := ClassicPivots(Candle{High: 110, Low: 90, Close: 100})
	if p.P != 100 || p.R1 != 110 || p.S1 != 90 || p.R2 != 120 || p.S2 != 80 {
		t.Fatalf("pivots=%+v", p)
	}
}

func zigzag(n int, amp, drift float64) []Candle {
	var c []Candle
	for i := 0; i < n; i++ {
		// Period-12 triangle wave plus drift.
		phase := i % 12
		v := float64(phase)
		if phase > 6 {
			v = float64(12 - phase)
		}
		mid := 100 + v*amp + float64(i)*drift
		c = append(c, Candle{Open: mid, High: mid + 1, Low: mid - 1, Close: mid})
	}
	return c
}

func TestMarketStructure(t *testing.T) {
	cases := []struct {
		name string
		c    []Candle
		want string
	}{
		{"insufficient", zigzag(20, 1, 0), StructureInsufficient},
		{"uptrend", zigzag(80, 1, 0.2), StructureBullish},
		{"downtrend", zigzag(80, 1, -0.2), StructureBearish},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := MarketStructure(tc.c, 5, 50); got != tc.want {
				t.Fatalf("structure=%q want %q", got, tc.want)
			}
		})
	}
}

func TestDetectWickRejection(t *testing.T) {
	flat := Candle{Open: 100, High: 100.3, Low: 99.9, Close: 100.2}
	hammer := Candle{Open: 100, High: 100.6, Low: 95, Close: 100.5}
	shooting := Candle{Open: 100, High: 106, Low: 99.8, Close: 99.5}

	t.Run("too few bars", func(t *testing.T) {
		got := DetectWickRejection([]Candle{hammer, hammer}, 5, 2)
		if got.Type != RejectionNone || got.Strength != 0 {
			t.Fatalf("got %+v", got)
		}
	})

	t.Run("bullish hammer", func(t *testing.T) {
		c := []Candle{flat, flat, flat, flat, flat, hammer, flat}
		got := DetectWickRejection(c, 5, 2)
		if got.Type != RejectionBullish || got.Count != 1 || got.Strength != 10 {
			t.Fatalf("got %+v", got)
		}
	})

	t.Run("in-progress candle ignored", func(t *testing.T) {
		c := []Candle{flat, flat, flat, flat, flat, flat, shooting}
		got := DetectWickRejection(c, 5, 2)
		if got.Type != RejectionNone || got.Count != 0 {
			t.Fatalf("got %+v", got)
		}
	})

	t.Run("strongest wins", func(t *testing.T) {
		c := []Candle{flat, flat, hammer, flat, shooting, flat, flat}
		got := DetectWickRejection(c, 5, 2)
		if got.Type != RejectionBearish || got.Count != 2 {
			t.Fatalf("got %+v", got)
		}
	})
}
