package common

import "strings"

// quoteAssets are tried longest first so "USDC" is not mistaken for "USD".
var quoteAssets = []string{"USDT", "USDC", "BUSD"}

// ToExchange converts "BTC/USDT" to "BTCUSDT".
func ToExchange(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(symbol, "/", ""))
}

// FromExchange converts "BTCUSDT" to "BTC/USDT". Unknown quotes pass through.
func FromExchange(id string) string {
	id = strings.ToUpper(id)
	if strings.Contains(id, "/") {
		return id
	}
	for _, q := range quoteAssets {
		if strings.HasSuffix(id, q) && len(id) > len(q) {
			return id[:len(id)-len(q)] + "/" + q
		}
	}
	return id
}

// StreamName is the lowercase id used in websocket stream names.
func StreamName(symbol string) string {
	return strings.ToLower(ToExchange(symbol))
}

// Base returns the base asset of a unified symbol.
func Base(symbol string) string {
	if i := strings.Index(symbol, "/"); i >= 0 {
		return symbol[:i]
	}
	return symbol
}
