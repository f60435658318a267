package futures_usdt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"execution-core/pkg/exchanges/common"
)

// TickerPrice returns the last traded price.
func (c *Client) TickerPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", common.ToExchange(symbol))
	body, err := c.doPublic(ctx, "/fapi/v1/ticker/price", params)
	if err != nil {
		return 0, err
	}
	var res struct {
		Price string `json:"price"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return 0, fmt.Errorf("decode ticker: %w", err)
	}
	return toFloat(res.Price), nil
}

// Klines returns up to limit candles, oldest first.
func (c *Client) Klines(ctx context.Context, symbol, interval string, limit int) ([]common.Kline, error) {
	params := url.Values{}
	params.Set("symbol", common.ToExchange(symbol))
	params.Set("interval", interval)
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	body, err := c.doPublic(ctx, "/fapi/v1/klines", params)
	if err != nil {
		return nil, err
	}
	var raw [][]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode klines: %w", err)
	}
	out := make([]common.Kline, 0, len(raw))
	for _, row := range raw {
		if len(row) < 6 {
			continue
		}
		var openTime int64
		if err := json.Unmarshal(row[0], &openTime); err != nil {
			return nil, fmt.Errorf("decode kline open time: %w", err)
		}
		out = append(out, common.Kline{
			OpenTime: openTime,
			Open:     rawFloat(row[1]),
			High:     rawFloat(row[2]),
			Low:      rawFloat(row[3]),
			Close:    rawFloat(row[4]),
			Volume:   rawFloat(row[5]),
		})
	}
	return out, nil
}

// OrderBook returns a depth snapshot.
func (c *Client) OrderBook(ctx context.Context, symbol string, limit int) (common.OrderBook, error) {
	params := url.Values{}
	params.Set("symbol", common.ToExchange(symbol))
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	body, err := c.doPublic(ctx, "/fapi/v1/depth", params)
	if err != nil {
		return common.OrderBook{}, err
	}
	var raw struct {
		Bids [][2]string `json:"bids"`
		Asks [][2]string `json:"asks"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return common.OrderBook{}, fmt.Errorf("decode depth: %w", err)
	}
	return common.OrderBook{
		Symbol: common.FromExchange(symbol),
		Bids:   ParseLevels(raw.Bids),
		Asks:   ParseLevels(raw.Asks),
	}, nil
}

// ParseLevels converts ["price","qty"] pairs to levels.
func ParseLevels(raw [][2]string) []common.PriceLevel {
	out := make([]common.PriceLevel, 0, len(raw))
	for _, lv := range raw {
		out = append(out, common.PriceLevel{Price: toFloat(lv[0]), Qty: toFloat(lv[1])})
	}
	return out
}

// FundingRates returns the last funding rate of every listed symbol in one call.
// Keys are unified symbols.
func (c *Client) FundingRates(ctx context.Context) (map[string]float64, error) {
	body, err := c.doPublic(ctx, "/fapi/v1/premiumIndex", nil)
	if err != nil {
		return nil, err
	}
	var raw []struct {
		Symbol          string `json:"symbol"`
		LastFundingRate string `json:"lastFundingRate"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode premium index: %w", err)
	}
	out := make(map[string]float64, len(raw))
	for _, r := range raw {
		out[common.FromExchange(r.Symbol)] = toFloat(r.LastFundingRate)
	}
	return out, nil
}

// OpenInterest returns open interest in contracts.
func (c *Client) OpenInterest(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", common.ToExchange(symbol))
	body, err := c.doPublic(ctx, "/fapi/v1/openInterest", params)
	if err != nil {
		return 0, err
	}
	var res struct {
		OpenInterest string `json:"openInterest"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return 0, fmt.Errorf("decode open interest: %w", err)
	}
	return toFloat(res.OpenInterest), nil
}

// LongShortRatio returns the latest top-trader account long/short ratio.
// The testnet does not serve this endpoint; use NewPublicClient there.
func (c *Client) LongShortRatio(ctx context.Context, symbol, period string) (common.LongShortRatio, error) {
	params := url.Values{}
	params.Set("symbol", common.ToExchange(symbol))
	params.Set("period", period)
	params.Set("limit", "1")
	body, err := c.doPublic(ctx, "/futures/data/topLongShortAccountRatio", params)
	if err != nil {
		return common.LongShortRatio{}, err
	}
	var raw []struct {
		LongShortRatio string `json:"longShortRatio"`
		LongAccount    string `json:"longAccount"`
		ShortAccount   string `json:"shortAccount"`
		Timestamp      int64  `json:"timestamp"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return common.LongShortRatio{}, fmt.Errorf("decode long/short ratio: %w", err)
	}
	if len(raw) == 0 {
		return common.LongShortRatio{}, fmt.Errorf("long/short ratio for %s: empty response", symbol)
	}
	last := raw[len(raw)-1]
	return common.LongShortRatio{
		Ratio:     toFloat(last.LongShortRatio),
		LongPct:   toFloat(last.LongAccount) * 100,
		ShortPct:  toFloat(last.ShortAccount) * 100,
		Timestamp: last.Timestamp,
	}, nil
}

// LoadMarkets caches tick and step sizes for every listed symbol.
func (c *Client) LoadMarkets(ctx context.Context) error {
	body, err := c.doPublic(ctx, "/fapi/v1/exchangeInfo", nil)
	if err != nil {
		return err
	}
	var info exchangeInfo
	if err := json.Unmarshal(body, &info); err != nil {
		return fmt.Errorf("decode exchange info: %w", err)
	}
	filters := make(map[string]SymbolFilters, len(info.Symbols))
	for _, s := range info.Symbols {
		var f SymbolFilters
		for _, raw := range s.Filters {
			switch raw.FilterType {
			case "PRICE_FILTER":
				f.TickSize = toFloat(raw.TickSize)
			case "LOT_SIZE":
				f.StepSize = toFloat(raw.StepSize)
				f.MinQty = toFloat(raw.MinQty)
			}
		}
		filters[common.FromExchange(s.Symbol)] = f
	}
	c.filtersMu.Lock()
	c.filters = filters
	c.filtersMu.Unlock()
	return nil
}

func rawFloat(raw json.RawMessage) float64 {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return toFloat(s)
	}
	var f float64
	_ = json.Unmarshal(raw, &f)
	return f
}
