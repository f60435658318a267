package decision

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"execution-core/internal/marketdata"
)

// Action is the trade direction a decision service returns.
type Action string

const (
	Buy  Action = "BUY"
	Sell Action = "SELL"
	Wait Action = "WAIT"
)

// Execution modes a verdict may request.
const (
	ModeMarket = "MARKET"
	ModeLimit  = "LIMIT"
)

// Snapshot is everything a decision service sees for one symbol.
type Snapshot struct {
	Symbol         string                `json:"symbol"`
	Category       string                `json:"category"`
	Timeframe      string                `json:"timeframe"`
	Tech           marketdata.TechData   `json:"tech"`
	OrderBook      *marketdata.Imbalance `json:"order_book,omitempty"`
	BTCCorrelation float64               `json:"btc_correlation"`
	ShowBTCContext bool                  `json:"show_btc_context"`
}

// Verdict is a normalised decision.
type Verdict struct {
	Decision      Action  `json:"decision"`
	Confidence    float64 `json:"confidence"`
	EntryPrice    float64 `json:"entry_price"`
	TPPrice       float64 `json:"tp_price"`
	SLPrice       float64 `json:"sl_price"`
	Strategy      string  `json:"strategy_tag"`
	ExecutionMode string  `json:"execution_mode"`
	Reason        string  `json:"reason"`
}

// Actionable reports whether the verdict asks for an entry.
func (v Verdict) Actionable() bool {
	return v.Decision == Buy || v.Decision == Sell
}

// WaitVerdict is returned whenever a decision cannot be obtained.
func WaitVerdict(reason string) Verdict {
	return Verdict{Decision: Wait, ExecutionMode: ModeMarket, Reason: reason}
}

// Client asks an external service what to do with a symbol. On failure the
// verdict is WAIT and err describes the cause.
type Client interface {
	Decide(ctx context.Context, s Snapshot) (Verdict, error)
}

// Nop never trades.
type Nop struct{}

func (Nop) Decide(context.Context, Snapshot) (Verdict, error) {
	return WaitVerdict("decision service disabled"), nil
}

// verdictFromMap normalises a loosely typed response. Missing decision means
// WAIT and missing confidence means 0.
func verdictFromMap(m map[string]any) Verdict {
	v := Verdict{
		Decision:      Action(strings.ToUpper(stringField(m, "decision"))),
		Confidence:    numberField(m, "confidence"),
		EntryPrice:    numberField(m, "entry_price"),
		TPPrice:       numberField(m, "tp_price"),
		SLPrice:       numberField(m, "sl_price"),
		Strategy:      stringField(m, "strategy_tag"),
		ExecutionMode: strings.ToUpper(stringField(m, "execution_mode")),
		Reason:        stringField(m, "reason"),
	}
	if v.Strategy == "" {
		v.Strategy = stringField(m, "selected_strategy")
	}
	if v.Strategy == "" {
		v.Strategy = "UNKNOWN"
	}
	switch v.Decision {
	case Buy, Sell:
	default:
		v.Decision = Wait
	}
	if v.ExecutionMode == "" {
		v.ExecutionMode = ModeMarket
	}
	return v
}

func stringField(m map[string]any, key string) string {
	switch x := m[key].(type) {
	case string:
		return strings.TrimSpace(x)
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}

func numberField(m map[string]any, key string) float64 {
	switch x := m[key].(type) {
	case float64:
		return x
	case int64:
		return float64(x)
	case int:
		return float64(x)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(x), "%"), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
