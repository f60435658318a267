package marketdata

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"

	"execution-core/pkg/exchanges/common"
)

func trendingBars(n int, start, step float64) []Bar {
	out := make([]Bar, n)
	for i := range out {
		c := start + float64(i)*step
		out[i] = Bar{Timestamp: int64(i) * 60000, Open: c - step/2, High: c + 1, Low: c - 1, Close: c, Volume: 10 + float64(i%3)}
	}
	return out
}

func newTestAnalyzer(books BookSource) (*Analyzer, *Store) {
	store := NewStore(nil, 200)
	cfg := DefaultAnalyzerConfig("15m", "1h", "BTC/USDT")
	return NewAnalyzer(cfg, store, books, nil), store
}

func TestTechnicalDataRequiresHistory(t *testing.T) {
	a, store := newTestAnalyzer(nil)
	store.Seed(SeriesKey{"ETH/USDT", "15m"}, trendingBars(10, 100, 1))
	if _, err := a.TechnicalData(context.Background(), "ETH/USDT"); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("err=%v want insufficient data", err)
	}
}

func TestTechnicalDataUptrend(t *testing.T) {
	a, store := newTestAnalyzer(nil)
	store.Seed(SeriesKey{"ETH/USDT", "15m"}, trendingBars(80, 100, 1))
	store.Seed(SeriesKey{"ETH/USDT", "1h"}, trendingBars(60, 100, 2))
	store.SetFundingRates(map[string]float64{"ETH/USDT": 0.0001})
	store.SetOpenInterest("ETH/USDT", 12345)

	td, err := a.TechnicalData(context.Background(), "ETH/USDT")
	if err != nil {
		t.Fatalf("tech data: %v", err)
	}
	if td.Price != 178 {
		t.Fatalf("price=%v want last closed close 178", td.Price)
	}
	if td.PriceVsEMA != "Above" || td.TrendMajor != "Bullish" {
		t.Fatalf("labels=%s/%s", td.PriceVsEMA, td.TrendMajor)
	}
	if td.RSI != 100 {
		t.Fatalf("rsi=%v want 100 on monotonic rise", td.RSI)
	}
	if td.Pivots == nil || td.ATR <= 0 {
		t.Fatalf("pivots=%v atr=%v", td.Pivots, td.ATR)
	}
	if td.FundingRate != 0.0001 || td.OpenInterest != 12345 || td.LongShort != nil {
		t.Fatalf("dynamic fields=%+v", td)
	}
	if td.BTCTrend != "NEUTRAL" {
		t.Fatalf("btc trend=%q", td.BTCTrend)
	}
	if td.CandleTimestamp != 78*60000 {
		t.Fatalf("candle=%d", td.CandleTimestamp)
	}
}

func TestTechnicalDataCachedPerCandle(t *testing.T) {
	a, store := newTestAnalyzer(nil)
	key := SeriesKey{"ETH/USDT", "15m"}
	store.Seed(key, trendingBars(80, 100, 1))

	first, err := a.TechnicalData(context.Background(), "ETH/USDT")
	if err != nil {
		t.Fatal(err)
	}

	// Forming-bar update: last closed bar unchanged, so the cached value holds.
	last := store.Snapshot(key)[79]
	last.Close = 5000
	store.Upsert(key, last)
	second, _ := a.TechnicalData(context.Background(), "ETH/USDT")
	if second.RSI != first.RSI || second.Price != first.Price {
		t.Fatalf("cache miss on same candle: %+v vs %+v", first, second)
	}

	// Dynamic fields still refresh.
	store.SetOpenInterest("ETH/USDT", 7)
	third, _ := a.TechnicalData(context.Background(), "ETH/USDT")
	if third.OpenInterest != 7 {
		t.Fatalf("oi=%v want 7", third.OpenInterest)
	}

	// New candle closes: recompute.
	store.Upsert(key, Bar{Timestamp: 80 * 60000, Open: 5000, High: 5001, Low: 4999, Close: 5000, Volume: 1})
	fourth, _ := a.TechnicalData(context.Background(), "ETH/USDT")
	if fourth.Price != 5000 {
		t.Fatalf("price=%v want 5000 after close", fourth.Price)
	}
}

func TestComputeImbalance(t *testing.T) {
	book := OrderBookSnapshot{
		Bids: []Level{{Price: 100, Qty: 3}, {Price: 99, Qty: 1}, {Price: 90, Qty: 100}},
		Asks: []Level{{Price: 101, Qty: 1}, {Price: 120, Qty: 100}},
	}
	got, err := ComputeImbalance(book, 0.02)
	if err != nil {
		t.Fatal(err)
	}
	if got.BidsVolumeUSDT != 399 || got.AsksVolumeUSDT != 101 {
		t.Fatalf("volumes=%+v", got)
	}
	want := (399.0 - 101.0) / 500.0 * 100
	if math.Abs(got.ImbalancePct-want) > 1e-9 {
		t.Fatalf("imbalance=%v want %v", got.ImbalancePct, want)
	}
	if _, err := ComputeImbalance(OrderBookSnapshot{}, 0.02); err == nil {
		t.Fatal("empty book accepted")
	}
}

type fakeBooks struct{ calls atomic.Int32 }

func (f *fakeBooks) OrderBook(ctx context.Context, symbol string, limit int) (common.OrderBook, error) {
	f.calls.Add(1)
	return common.OrderBook{
		Symbol: symbol,
		Bids:   []common.PriceLevel{{Price: 100, Qty: 1}},
		Asks:   []common.PriceLevel{{Price: 100.5, Qty: 1}},
	}, nil
}

func TestOrderBookImbalanceFallsBackToREST(t *testing.T) {
	books := &fakeBooks{}
	a, store := newTestAnalyzer(books)
	if _, err := a.OrderBookImbalance(context.Background(), "ETH/USDT"); err != nil {
		t.Fatal(err)
	}
	if books.calls.Load() != 1 {
		t.Fatalf("rest calls=%d want 1", books.calls.Load())
	}
	store.SetOrderBook(OrderBookSnapshot{Symbol: "ETH/USDT", Bids: []Level{{100, 1}}, Asks: []Level{{101, 1}}})
	if _, err := a.OrderBookImbalance(context.Background(), "ETH/USDT"); err != nil {
		t.Fatal(err)
	}
	if books.calls.Load() != 1 {
		t.Fatal("rest used despite cached book")
	}
}

func TestBTCCorrelation(t *testing.T) {
	a, store := newTestAnalyzer(nil)
	if got := a.BTCCorrelation("BTC/USDT"); got != 1 {
		t.Fatalf("btc self=%v", got)
	}
	if got := a.BTCCorrelation("ETH/USDT"); got != 0.99 {
		t.Fatalf("short history=%v want default", got)
	}

	store.Seed(SeriesKey{"BTC/USDT", "1h"}, trendingBars(40, 30000, 10))
	store.Seed(SeriesKey{"ETH/USDT", "1h"}, trendingBars(40, 2000, 1))
	if got := a.BTCCorrelation("ETH/USDT"); math.Abs(got-1) > 1e-9 {
		t.Fatalf("co-moving=%v want 1", got)
	}

	store.Seed(SeriesKey{"SOL/USDT", "1h"}, trendingBars(40, 200, -1))
	if got := a.BTCCorrelation("SOL/USDT"); math.Abs(got+1) > 1e-9 {
		t.Fatalf("inverse=%v want -1", got)
	}
}

func TestBTCTrend(t *testing.T) {
	if _, err := BTCTrend(trendingBars(10, 100, 1), 50); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("err=%v", err)
	}
	up, err := BTCTrend(trendingBars(60, 100, 1), 50)
	if err != nil || up != "BULLISH" {
		t.Fatalf("up=%q err=%v", up, err)
	}
	down, _ := BTCTrend(trendingBars(60, 100, -1), 50)
	if down != "BEARISH" {
		t.Fatalf("down=%q", down)
	}
}
