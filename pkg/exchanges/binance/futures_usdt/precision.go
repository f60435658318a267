package futures_usdt

import (
	"github.com/shopspring/decimal"
)

// SymbolFilters are the exchange trading rules used to format orders.
type SymbolFilters struct {
	TickSize float64
	StepSize float64
	MinQty   float64
}

// Filters returns the cached trading rules for symbol.
func (c *Client) Filters(symbol string) (SymbolFilters, bool) {
	c.filtersMu.RLock()
	defer c.filtersMu.RUnlock()
	f, ok := c.filters[symbol]
	return f, ok
}

// SetFilters overrides the trading rules for symbol.
func (c *Client) SetFilters(symbol string, f SymbolFilters) {
	c.filtersMu.Lock()
	c.filters[symbol] = f
	c.filtersMu.Unlock()
}

// AmountString floors qty to the symbol's step size.
func (c *Client) AmountString(symbol string, qty float64) string {
	f, ok := c.Filters(symbol)
	if !ok || f.StepSize <= 0 {
		return formatFloat(qty)
	}
	return FloorToStep(qty, f.StepSize).String()
}

// PriceString rounds price to the symbol's tick size.
func (c *Client) PriceString(symbol string, price float64) string {
	f, ok := c.Filters(symbol)
	if !ok || f.TickSize <= 0 {
		return formatFloat(price)
	}
	return RoundToTick(price, f.TickSize).String()
}

// FloorToStep truncates v down to a multiple of step.
func FloorToStep(v, step float64) decimal.Decimal {
	d := decimal.NewFromFloat(v)
	s := decimal.NewFromFloat(step)
	return d.Div(s).Floor().Mul(s)
}

// RoundToTick rounds v to the nearest multiple of tick.
func RoundToTick(v, tick float64) decimal.Decimal {
	d := decimal.NewFromFloat(v)
	t := decimal.NewFromFloat(tick)
	return d.Div(t).Round(0).Mul(t)
}
