package trailing

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"execution-core/internal/safety"
	"execution-core/pkg/exchanges/common"
)

type fakeStops struct {
	mu       sync.Mutex
	stops    []float64
	attempts int
	fail     bool
}

func (f *fakeStops) AmendStop(ctx context.Context, symbol string, side common.PositionSide, sl float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.attempts++
	if f.fail {
		return errors.New("exchange rejected")
	}
	f.stops = append(f.stops, sl)
	return nil
}

var t0 = time.Unix(1700000000, 0)

func testConfig() Config {
	return Config{ActivationThreshold: 0.8, CallbackRate: 0.0075, MinProfitLock: 0.005, Cooldown: 3 * time.Second}
}

func securedTable(side common.PositionSide, entry, sl, tp float64) *safety.Table {
	tbl := safety.NewTable(nil)
	e := safety.NewPending("BTC/USDT", "trend", 0, t0)
	e.Secure(side, entry, sl, tp)
	tbl.Put(e)
	return tbl
}

func newTestController(tbl *safety.Table, gw *fakeStops, now *time.Time) *Controller {
	c := NewController(testConfig(), tbl, gw, nil, nil, nil)
	c.now = func() time.Time { return *now }
	return c
}

func TestActivationExample(t *testing.T) {
	tbl := securedTable(common.Long, 50000, 49000, 60000)
	gw := &fakeStops{}
	now := t0
	c := newTestController(tbl, gw, &now)

	c.OnPrice(context.Background(), "BTC/USDT", 57990)
	if e, _ := tbl.Get("BTC/USDT"); e.Trailing.Active {
		t.Fatal("activated below threshold")
	}

	c.OnPrice(context.Background(), "BTC/USDT", 58000)
	e, _ := tbl.Get("BTC/USDT")
	if !e.Trailing.Active || e.Trailing.Extreme != 58000 {
		t.Fatalf("trailing=%+v", e.Trailing)
	}
	if math.Abs(e.Trailing.CurrentSL-57565) > 1e-6 {
		t.Fatalf("initial stop=%v want 57565", e.Trailing.CurrentSL)
	}
	if len(gw.stops) != 1 || gw.stops[0] != e.Trailing.CurrentSL {
		t.Fatalf("stops=%v", gw.stops)
	}
}

func TestInitialStopUsesProfitLock(t *testing.T) {
	cfg := testConfig()
	tests := []struct {
		name  string
		side  common.PositionSide
		entry float64
		price float64
		want  float64
	}{
		{"long callback wins", common.Long, 50000, 58000, 57565},
		{"long lock wins", common.Long, 100, 100.6, 100.5},
		{"short callback wins", common.Short, 100, 90, 90.675},
		{"short lock wins", common.Short, 100, 99.6, 99.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InitialStop(cfg, tt.side, tt.entry, tt.price); math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("got %v want %v", got, tt.want)
			}
		})
	}
}

func TestThrottleKeepsTrackingExtreme(t *testing.T) {
	tbl := securedTable(common.Long, 50000, 49000, 60000)
	gw := &fakeStops{}
	now := t0
	c := newTestController(tbl, gw, &now)
	c.OnPrice(context.Background(), "BTC/USDT", 58000) // activation applies at t0

	for i, p := range []float64{58100, 58200, 58300, 58400} {
		now = t0.Add(time.Duration(i+1) * 500 * time.Millisecond)
		c.OnPrice(context.Background(), "BTC/USDT", p)
		if ext, _ := c.Extreme("BTC/USDT"); ext != p {
			t.Fatalf("extreme=%v want %v", ext, p)
		}
	}
	if len(gw.stops) != 1 {
		t.Fatalf("amendments inside cooldown: %v", gw.stops)
	}

	// Past the cooldown a small tick applies the peak seen during it.
	now = t0.Add(3 * time.Second)
	c.OnPrice(context.Background(), "BTC/USDT", 58350)
	if len(gw.stops) != 2 {
		t.Fatalf("stops=%v want 2", gw.stops)
	}
	if want := 58400 * (1 - 0.0075); math.Abs(gw.stops[1]-want) > 1e-6 {
		t.Fatalf("stop=%v want %v", gw.stops[1], want)
	}
	e, _ := tbl.Get("BTC/USDT")
	if e.Trailing.Extreme != 58400 {
		t.Fatalf("persisted extreme=%v", e.Trailing.Extreme)
	}
}

func TestAppliedStopsAreMonotonic(t *testing.T) {
	for _, side := range []common.PositionSide{common.Long, common.Short} {
		t.Run(string(side), func(t *testing.T) {
			entry, tp, sl := 100.0, 110.0, 95.0
			if side == common.Short {
				tp, sl = 90, 105
			}
			tbl := securedTable(side, entry, sl, tp)
			gw := &fakeStops{}
			now := t0
			c := newTestController(tbl, gw, &now)

			rng := rand.New(rand.NewSource(7))
			price := entry
			for i := 0; i < 2000; i++ {
				now = now.Add(time.Duration(rng.Intn(2000)) * time.Millisecond)
				step := rng.Float64()*2 - 0.9
				if side == common.Short {
					step = -step
				}
				price = math.Max(1, price+step)
				c.OnPrice(context.Background(), "BTC/USDT", price)
			}
			if len(gw.stops) < 2 {
				t.Fatalf("path produced %d amendments", len(gw.stops))
			}
			for i := 1; i < len(gw.stops); i++ {
				prev, cur := gw.stops[i-1], gw.stops[i]
				if side == common.Long && cur <= prev || side == common.Short && cur >= prev {
					t.Fatalf("stop loosened at %d: %v -> %v", i, prev, cur)
				}
			}
		})
	}
}

func TestIgnoresUnsecuredSymbols(t *testing.T) {
	tbl := safety.NewTable(nil)
	tbl.Put(safety.NewPending("ETH/USDT", "s", 1, t0))
	gw := &fakeStops{}
	now := t0
	c := newTestController(tbl, gw, &now)
	c.OnPrice(context.Background(), "ETH/USDT", 1e9)
	c.OnPrice(context.Background(), "XRP/USDT", 1)
	if len(gw.stops) != 0 {
		t.Fatalf("stops=%v", gw.stops)
	}
}

func TestFailedAmendLeavesTrackerUntouched(t *testing.T) {
	t.Run("activation", func(t *testing.T) {
		tbl := securedTable(common.Long, 50000, 49000, 60000)
		gw := &fakeStops{fail: true}
		now := t0
		c := newTestController(tbl, gw, &now)

		c.OnPrice(context.Background(), "BTC/USDT", 58000)
		if e, _ := tbl.Get("BTC/USDT"); e.Trailing.Active || e.Trailing.CurrentSL != 0 {
			t.Fatalf("trailing=%+v", e.Trailing)
		}

		// Held off for one cooldown after a failure.
		now = t0.Add(time.Second)
		c.OnPrice(context.Background(), "BTC/USDT", 58100)
		if gw.attempts != 1 {
			t.Fatalf("attempts=%d want 1", gw.attempts)
		}

		gw.fail = false
		now = t0.Add(3 * time.Second)
		c.OnPrice(context.Background(), "BTC/USDT", 58100)
		e, _ := tbl.Get("BTC/USDT")
		if !e.Trailing.Active || e.Trailing.Extreme != 58100 || len(gw.stops) != 1 {
			t.Fatalf("trailing=%+v stops=%v", e.Trailing, gw.stops)
		}
	})

	t.Run("ratchet", func(t *testing.T) {
		tbl := securedTable(common.Long, 50000, 49000, 60000)
		gw := &fakeStops{}
		now := t0
		c := newTestController(tbl, gw, &now)
		c.OnPrice(context.Background(), "BTC/USDT", 58000)

		gw.fail = true
		now = t0.Add(3 * time.Second)
		c.OnPrice(context.Background(), "BTC/USDT", 59000)
		e, _ := tbl.Get("BTC/USDT")
		if math.Abs(e.Trailing.CurrentSL-57565) > 1e-6 || !e.Trailing.LastAppliedAt.Equal(t0) {
			t.Fatalf("trailing=%+v", e.Trailing)
		}
		if len(gw.stops) != 1 {
			t.Fatalf("stops=%v", gw.stops)
		}
	})
}
