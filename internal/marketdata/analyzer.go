package marketdata

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"execution-core/internal/indicators"
	"execution-core/pkg/exchanges/common"
)

// AnalyzerConfig holds indicator periods and analysis thresholds.
type AnalyzerConfig struct {
	ExecTimeframe  string
	TrendTimeframe string
	BTCSymbol      string

	EMAFast, EMASlow  int
	RSIPeriod         int
	ADXPeriod         int
	VolMAPeriod       int
	BBLength          int
	BBStd             float64
	StochLen          int
	StochK, StochD    int
	ATRPeriod         int
	StructureLookback int
	StructureMinBars  int
	WickLookback      int
	WickMultiplier    float64

	CorrelationPeriod  int
	DefaultCorrelation float64
	OrderBookRange     float64

	Workers int
}

// DefaultAnalyzerConfig returns the standard indicator set.
func DefaultAnalyzerConfig(execTF, trendTF, btcSymbol string) AnalyzerConfig {
	return AnalyzerConfig{
		ExecTimeframe:      execTF,
		TrendTimeframe:     trendTF,
		BTCSymbol:          btcSymbol,
		EMAFast:            7,
		EMASlow:            21,
		RSIPeriod:          14,
		ADXPeriod:          14,
		VolMAPeriod:        20,
		BBLength:           20,
		BBStd:              2.0,
		StochLen:           14,
		StochK:             3,
		StochD:             3,
		ATRPeriod:          14,
		StructureLookback:  5,
		StructureMinBars:   50,
		WickLookback:       5,
		WickMultiplier:     2.0,
		CorrelationPeriod:  30,
		DefaultCorrelation: 0.99,
		OrderBookRange:     0.02,
		Workers:            4,
	}
}

// TechData is the indicator summary of the last closed execution bar plus
// the live market context merged on every read.
type TechData struct {
	Price           float64                  `json:"price"`
	RSI             float64                  `json:"rsi"`
	ADX             float64                  `json:"adx"`
	EMAFast         float64                  `json:"ema_fast"`
	EMASlow         float64                  `json:"ema_slow"`
	VolMA           float64                  `json:"vol_ma"`
	Volume          float64                  `json:"volume"`
	BBUpper         float64                  `json:"bb_upper"`
	BBLower         float64                  `json:"bb_lower"`
	StochK          float64                  `json:"stoch_k"`
	StochD          float64                  `json:"stoch_d"`
	ATR             float64                  `json:"atr"`
	PriceVsEMA      string                   `json:"price_vs_ema"`
	TrendMajor      string                   `json:"trend_major"`
	Pivots          *indicators.Pivots       `json:"pivots,omitempty"`
	MarketStructure string                   `json:"market_structure"`
	WickRejection   indicators.WickRejection `json:"wick_rejection"`
	CandleTimestamp int64                    `json:"candle_timestamp"`
	LastCandle      Bar                      `json:"last_candle"`

	BTCTrend     string                 `json:"btc_trend"`
	FundingRate  float64                `json:"funding_rate"`
	OpenInterest float64                `json:"open_interest"`
	LongShort    *common.LongShortRatio `json:"lsr,omitempty"`
}

// Imbalance is order-book pressure near the mid price.
type Imbalance struct {
	BidsVolumeUSDT float64 `json:"bids_vol_usdt"`
	AsksVolumeUSDT float64 `json:"asks_vol_usdt"`
	ImbalancePct   float64 `json:"imbalance_pct"`
}

// BookSource fetches a REST book before the depth stream has delivered one.
type BookSource interface {
	OrderBook(ctx context.Context, symbol string, limit int) (common.OrderBook, error)
}

type techCacheEntry struct {
	candle int64
	data   TechData
}

// Analyzer derives indicator snapshots from the store.
type Analyzer struct {
	cfg   AnalyzerConfig
	store *Store
	books BookSource
	log   *zap.Logger

	workers *semaphore.Weighted

	mu    sync.Mutex
	cache map[string]techCacheEntry
}

// NewAnalyzer builds an analyzer. books may be nil.
func NewAnalyzer(cfg AnalyzerConfig, store *Store, books BookSource, log *zap.Logger) *Analyzer {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Analyzer{
		cfg:     cfg,
		store:   store,
		books:   books,
		log:     log,
		workers: semaphore.NewWeighted(int64(cfg.Workers)),
		cache:   make(map[string]techCacheEntry),
	}
}

// MinExecBars is the shortest execution series that can be analysed.
func (a *Analyzer) MinExecBars() int { return a.cfg.EMASlow + 5 }

// CandleID returns the open time of the last closed execution bar.
func (a *Analyzer) CandleID(symbol string) (int64, bool) {
	b, ok := a.store.LastClosed(SeriesKey{Symbol: symbol, Timeframe: a.cfg.ExecTimeframe})
	return b.Timestamp, ok
}

// TechnicalData returns indicators for symbol. Heavy math runs on copies,
// at most Workers at a time, and is cached per closed candle.
func (a *Analyzer) TechnicalData(ctx context.Context, symbol string) (TechData, error) {
	exec := a.store.Snapshot(SeriesKey{Symbol: symbol, Timeframe: a.cfg.ExecTimeframe})
	trend := a.store.Snapshot(SeriesKey{Symbol: symbol, Timeframe: a.cfg.TrendTimeframe})
	if len(exec) < a.MinExecBars() {
		return TechData{}, fmt.Errorf("%s: %d exec bars: %w", symbol, len(exec), ErrInsufficientData)
	}
	candle := exec[len(exec)-2].Timestamp

	a.mu.Lock()
	cached, ok := a.cache[symbol]
	a.mu.Unlock()

	var td TechData
	if ok && cached.candle == candle {
		td = cached.data
	} else {
		if err := a.workers.Acquire(ctx, 1); err != nil {
			return TechData{}, err
		}
		computed, err := a.compute(exec, trend)
		a.workers.Release(1)
		if err != nil {
			return TechData{}, fmt.Errorf("%s: %w", symbol, err)
		}
		a.mu.Lock()
		a.cache[symbol] = techCacheEntry{candle: candle, data: computed}
		a.mu.Unlock()
		td = computed
	}

	d := a.store.Derivatives(symbol)
	td.BTCTrend = a.store.BTCTrend()
	td.FundingRate = d.FundingRate
	td.OpenInterest = d.OpenInterest
	td.LongShort = nil
	if d.HasLongShort {
		lsr := d.LongShortRatio
		td.LongShort = &lsr
	}
	return td, nil
}

func (a *Analyzer) compute(exec, trend []Bar) (TechData, error) {
	c := toCandles(exec)
	closes := make([]float64, len(exec))
	volumes := make([]float64, len(exec))
	for i, b := range exec {
		closes[i] = b.Close
		volumes[i] = b.Volume
	}

	emaFast := indicators.EMASeries(closes, a.cfg.EMAFast)
	emaSlow := indicators.EMASeries(closes, a.cfg.EMASlow)
	rsi := indicators.RSISeries(closes, a.cfg.RSIPeriod)
	adx := indicators.ADXSeries(c, a.cfg.ADXPeriod)
	volMA := indicators.SMASeries(volumes, a.cfg.VolMAPeriod)
	bbUpper, _, bbLower := indicators.Bollinger(closes, a.cfg.BBLength, a.cfg.BBStd)
	stochK, stochD := indicators.StochRSI(closes, a.cfg.StochLen, a.cfg.RSIPeriod, a.cfg.StochK, a.cfg.StochD)
	atr := indicators.ATRSeries(c, a.cfg.ATRPeriod)

	i := len(exec) - 2
	cur := exec[i]
	if math.IsNaN(emaSlow[i]) {
		return TechData{}, ErrInsufficientData
	}

	td := TechData{
		Price:           cur.Close,
		RSI:             zeroNaN(rsi[i]),
		ADX:             zeroNaN(adx[i]),
		EMAFast:         zeroNaN(emaFast[i]),
		EMASlow:         emaSlow[i],
		VolMA:           zeroNaN(volMA[i]),
		Volume:          cur.Volume,
		BBUpper:         zeroNaN(bbUpper[i]),
		BBLower:         zeroNaN(bbLower[i]),
		StochK:          zeroNaN(stochK[i]),
		StochD:          zeroNaN(stochD[i]),
		ATR:             zeroNaN(atr[i]),
		PriceVsEMA:      "Below",
		TrendMajor:      "Bearish",
		CandleTimestamp: cur.Timestamp,
		LastCandle:      cur,
		WickRejection:   indicators.DetectWickRejection(c, a.cfg.WickLookback, a.cfg.WickMultiplier),
	}
	if cur.Close > td.EMAFast {
		td.PriceVsEMA = "Above"
	}
	if cur.Close > td.EMASlow {
		td.TrendMajor = "Bullish"
	}

	tc := toCandles(trend)
	if len(trend) >= 2 {
		p := indicators.ClassicPivots(tc[len(tc)-2])
		td.Pivots = &p
	}
	td.MarketStructure = indicators.MarketStructure(tc, a.cfg.StructureLookback, a.cfg.StructureMinBars)
	return td, nil
}

// OrderBookImbalance measures bid versus ask notional within the configured
// range of the mid price. Positive means more bids.
func (a *Analyzer) OrderBookImbalance(ctx context.Context, symbol string) (Imbalance, error) {
	book, ok := a.store.OrderBook(symbol)
	if !ok {
		if a.books == nil {
			return Imbalance{}, fmt.Errorf("%s: no order book: %w", symbol, ErrInsufficientData)
		}
		rest, err := a.books.OrderBook(ctx, symbol, 20)
		if err != nil {
			return Imbalance{}, fmt.Errorf("fetch order book %s: %w", symbol, err)
		}
		book = OrderBookSnapshot{Symbol: symbol, ObservedAt: time.Now()}
		for _, l := range rest.Bids {
			book.Bids = append(book.Bids, Level{Price: l.Price, Qty: l.Qty})
		}
		for _, l := range rest.Asks {
			book.Asks = append(book.Asks, Level{Price: l.Price, Qty: l.Qty})
		}
	}
	return ComputeImbalance(book, a.cfg.OrderBookRange)
}

// ComputeImbalance walks each side from the top until price leaves the range.
func ComputeImbalance(book OrderBookSnapshot, rangePct float64) (Imbalance, error) {
	if len(book.Bids) == 0 || len(book.Asks) == 0 {
		return Imbalance{}, ErrInsufficientData
	}
	mid := (book.Bids[0].Price + book.Asks[0].Price) / 2
	var out Imbalance
	for _, l := range book.Bids {
		if l.Price < mid*(1-rangePct) {
			break
		}
		out.BidsVolumeUSDT += l.Price * l.Qty
	}
	for _, l := range book.Asks {
		if l.Price > mid*(1+rangePct) {
			break
		}
		out.AsksVolumeUSDT += l.Price * l.Qty
	}
	total := out.BidsVolumeUSDT + out.AsksVolumeUSDT
	if total == 0 {
		return Imbalance{}, ErrInsufficientData
	}
	out.ImbalancePct = (out.BidsVolumeUSDT - out.AsksVolumeUSDT) / total * 100
	return out, nil
}

// BTCCorrelation is the Pearson correlation of the last CorrelationPeriod
// trend closes of symbol and BTC, aligned by timestamp. Short history
// yields DefaultCorrelation.
func (a *Analyzer) BTCCorrelation(symbol string) float64 {
	if symbol == a.cfg.BTCSymbol {
		return 1
	}
	period := a.cfg.CorrelationPeriod
	sym := a.store.Snapshot(SeriesKey{Symbol: symbol, Timeframe: a.cfg.TrendTimeframe})
	btc := a.store.Snapshot(SeriesKey{Symbol: a.cfg.BTCSymbol, Timeframe: a.cfg.TrendTimeframe})
	if len(sym) < period || len(btc) < period {
		return a.cfg.DefaultCorrelation
	}

	btcClose := make(map[int64]float64, len(btc))
	for _, b := range btc {
		btcClose[b.Timestamp] = b.Close
	}
	var xs, ys []float64
	for _, b := range sym {
		if c, ok := btcClose[b.Timestamp]; ok {
			xs = append(xs, b.Close)
			ys = append(ys, c)
		}
	}
	if len(xs) < period {
		return a.cfg.DefaultCorrelation
	}
	r, ok := indicators.Pearson(xs[len(xs)-period:], ys[len(ys)-period:])
	if !ok {
		return 0
	}
	return r
}

// BTCTrend labels the last bar against its EMA.
func BTCTrend(bars []Bar, emaPeriod int) (string, error) {
	if len(bars) < emaPeriod {
		return "", ErrInsufficientData
	}
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	ema := indicators.EMASeries(closes, emaPeriod)
	last := ema[len(ema)-1]
	if math.IsNaN(last) {
		return "", errors.New("btc ema undefined")
	}
	if closes[len(closes)-1] > last {
		return "BULLISH", nil
	}
	return "BEARISH", nil
}

func toCandles(bars []Bar) []indicators.Candle {
	out := make([]indicators.Candle, len(bars))
	for i, b := range bars {
		out[i] = indicators.Candle{Open: b.Open, High: b.High, Low: b.Low, Close: b.Close, Volume: b.Volume}
	}
	return out
}

func zeroNaN(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
