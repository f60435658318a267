// Package marketdata owns the in-memory market state: bounded candle
// history per symbol and timeframe, order books, tickers and the slower
// derivatives data, plus the stream and REST feeds that fill it.
package marketdata

import (
	"errors"
	"time"

	"execution-core/pkg/exchanges/common"
)

// ErrInsufficientData is returned when a series is too short to analyse.
var ErrInsufficientData = errors.New("insufficient market data")

// Bar is one OHLCV candle. Timestamp is the open time in unix millis.
type Bar struct {
	Timestamp int64   `json:"timestamp"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// BarFromKline converts a REST kline.
func BarFromKline(k common.Kline) Bar {
	return Bar{Timestamp: k.OpenTime, Open: k.Open, High: k.High, Low: k.Low, Close: k.Close, Volume: k.Volume}
}

// SeriesKey identifies one ring buffer.
type SeriesKey struct {
	Symbol    string
	Timeframe string
}

// Level is one price level of an order book.
type Level struct {
	Price float64 `json:"price"`
	Qty   float64 `json:"qty"`
}

// OrderBookSnapshot is a full book replaced on every update.
// Bids are descending, asks ascending.
type OrderBookSnapshot struct {
	Symbol     string    `json:"symbol"`
	Bids       []Level   `json:"bids"`
	Asks       []Level   `json:"asks"`
	ObservedAt time.Time `json:"observed_at"`
}

// Derivatives is the slow-refreshed data for one symbol.
type Derivatives struct {
	FundingRate    float64               `json:"funding_rate"`
	OpenInterest   float64               `json:"open_interest"`
	LongShortRatio common.LongShortRatio `json:"long_short_ratio"`
	HasLongShort   bool                  `json:"has_long_short"`
}

// Ticker is the last observed trade price.
type Ticker struct {
	Price      float64
	ObservedAt time.Time
}
