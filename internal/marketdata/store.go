package marketdata

import (
	"sync"
	"time"

	"execution-core/pkg/exchanges/common"
)

// Store is the process-wide market state. Writers take the exclusive lock;
// readers get copies so analysis never holds the lock.
type Store struct {
	mu sync.RWMutex

	capacity map[string]int
	defCap   int
	series   map[SeriesKey]*ring

	books       map[string]OrderBookSnapshot
	tickers     map[string]Ticker
	derivatives map[string]Derivatives
	btcTrend    string
}

// NewStore builds a store; capacity maps timeframe to ring size.
// Timeframes not listed get defaultCapacity.
func NewStore(capacity map[string]int, defaultCapacity int) *Store {
	caps := make(map[string]int, len(capacity))
	for tf, n := range capacity {
		caps[tf] = n
	}
	if defaultCapacity <= 0 {
		defaultCapacity = 500
	}
	return &Store{
		capacity:    caps,
		defCap:      defaultCapacity,
		series:      make(map[SeriesKey]*ring),
		books:       make(map[string]OrderBookSnapshot),
		tickers:     make(map[string]Ticker),
		derivatives: make(map[string]Derivatives),
		btcTrend:    "NEUTRAL",
	}
}

func (s *Store) ringFor(key SeriesKey) *ring {
	r, ok := s.series[key]
	if !ok {
		n, ok := s.capacity[key.Timeframe]
		if !ok {
			n = s.defCap
		}
		r = newRing(n)
		s.series[key] = r
	}
	return r
}

// Upsert applies one bar. It reports false when the bar is older than the
// series tail and was dropped.
func (s *Store) Upsert(key SeriesKey, bar Bar) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ringFor(key).upsert(bar)
}

// Seed replaces a series with bars (ascending), keeping the newest that fit.
func (s *Store) Seed(key SeriesKey, bars []Bar) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ringFor(key).reset(bars)
}

// Snapshot returns a copy of the series, oldest first.
func (s *Store) Snapshot(key SeriesKey) []Bar {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.series[key]
	if !ok {
		return nil
	}
	return r.copyOut()
}

// Len returns the number of bars held for key.
func (s *Store) Len(key SeriesKey) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.series[key]; ok {
		return r.len()
	}
	return 0
}

// LastClosed returns the newest closed bar, which is the one before the
// in-progress tail.
func (s *Store) LastClosed(key SeriesKey) (Bar, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.series[key]
	if !ok || r.len() < 2 {
		return Bar{}, false
	}
	return r.at(r.len() - 2), true
}

// SetOrderBook overwrites the book for its symbol.
func (s *Store) SetOrderBook(book OrderBookSnapshot) {
	s.mu.Lock()
	s.books[book.Symbol] = book
	s.mu.Unlock()
}

// OrderBook returns the latest book for symbol.
func (s *Store) OrderBook(symbol string) (OrderBookSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[symbol]
	if !ok {
		return OrderBookSnapshot{}, false
	}
	b.Bids = append([]Level(nil), b.Bids...)
	b.Asks = append([]Level(nil), b.Asks...)
	return b, true
}

// SetTicker records the last price.
func (s *Store) SetTicker(symbol string, price float64, at time.Time) {
	s.mu.Lock()
	s.tickers[symbol] = Ticker{Price: price, ObservedAt: at}
	s.mu.Unlock()
}

// Ticker returns the last price for symbol.
func (s *Store) Ticker(symbol string) (Ticker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickers[symbol]
	return t, ok
}

// SetFundingRates merges funding rates for the given symbols.
func (s *Store) SetFundingRates(rates map[string]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for sym, r := range rates {
		d := s.derivatives[sym]
		d.FundingRate = r
		s.derivatives[sym] = d
	}
}

// SetOpenInterest records open interest for symbol.
func (s *Store) SetOpenInterest(symbol string, oi float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.derivatives[symbol]
	d.OpenInterest = oi
	s.derivatives[symbol] = d
}

// SetLongShortRatio records the account ratio for symbol.
func (s *Store) SetLongShortRatio(symbol string, lsr common.LongShortRatio) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.derivatives[symbol]
	d.LongShortRatio = lsr
	d.HasLongShort = true
	s.derivatives[symbol] = d
}

// Derivatives returns the slow data for symbol.
func (s *Store) Derivatives(symbol string) Derivatives {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.derivatives[symbol]
}

// SetBTCTrend records the market-wide trend label.
func (s *Store) SetBTCTrend(trend string) {
	s.mu.Lock()
	s.btcTrend = trend
	s.mu.Unlock()
}

// BTCTrend returns BULLISH, BEARISH or NEUTRAL.
func (s *Store) BTCTrend() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.btcTrend
}
