package decision

import (
	"fmt"
	"strings"

	"github.com/bytedance/sonic"
)

const responseSchema = `{"decision":"BUY|SELL|WAIT","confidence":0-100,"execution_mode":"MARKET|LIMIT",` +
	`"entry_price":number,"tp_price":number,"sl_price":number,"strategy_tag":string,"reason":string}`

// Prompt renders the snapshot as a single user message.
func Prompt(s Snapshot) (string, error) {
	payload := s
	if !s.ShowBTCContext {
		payload.Tech.BTCTrend = ""
		payload.BTCCorrelation = 0
	}
	data, err := sonic.ConfigStd.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are a derivatives execution analyst. Evaluate %s on the %s timeframe.\n", s.Symbol, s.Timeframe)
	b.WriteString("Market data (last closed candle, live derivatives context):\n")
	b.Write(data)
	b.WriteString("\n\nRules:\n")
	b.WriteString("- Answer WAIT unless trend, structure and momentum agree.\n")
	b.WriteString("- For BUY: sl_price < entry_price < tp_price. For SELL: tp_price < entry_price < sl_price.\n")
	b.WriteString("- Use LIMIT only when entry_price differs from the current price.\n")
	if s.ShowBTCContext {
		fmt.Fprintf(&b, "- BTC correlation is %.2f; do not trade against the BTC trend.\n", s.BTCCorrelation)
	}
	b.WriteString("\nRespond with one JSON object and nothing else:\n")
	b.WriteString(responseSchema)
	return b.String(), nil
}
