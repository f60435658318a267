package safety

import (
	"fmt"
	"html"
	"math"
	"strings"

	"execution-core/internal/events"
	"execution-core/pkg/exchanges/common"
)

func msgLimitPlaced(req EntryRequest, price float64) string {
	return fmt.Sprintf("⏳ <b>LIMIT PLACED (%s)</b>\n%s %s @ %.4f\nATR: %.4f",
		html.EscapeString(req.Strategy), req.Symbol, req.Side, price, req.ATR)
}

func msgMarketFilled(req EntryRequest, price float64) string {
	return fmt.Sprintf("✅ <b>MARKET FILLED</b>\n%s %s @ %.4f (Size: $%.2f)",
		req.Symbol, req.Side, price, req.AmountUSDT*float64(req.Leverage))
}

func msgEntryError(symbol string, err error) string {
	return fmt.Sprintf("❌ <b>ENTRY ERROR</b>\n%s: %s", symbol, html.EscapeString(err.Error()))
}

func msgOrderExpired(symbol string) string {
	return fmt.Sprintf("⏰ <b>ORDER EXPIRED</b>\nLimit order %s cancelled after timeout.\nTracker cleaned.", symbol)
}

func msgOrderSync(symbol string) string {
	return fmt.Sprintf("🗑️ <b>ORDER SYNC</b>\nOrder for %s was cancelled or expired.\nTracker cleaned.", symbol)
}

func msgOrderClosed(symbol, status string) string {
	return fmt.Sprintf("🗑️ <b>ORDER %s</b>\nEntry order %s closed by the exchange.\nTracker cleaned.", status, symbol)
}

func msgSecured(symbol string, side common.PositionSide, entry, sl, tp float64) string {
	return fmt.Sprintf("🛡️ <b>SAFETY SECURED</b>\n%s %s @ %.4f\nSL: %.4f\nTP: %.4f", symbol, side, entry, sl, tp)
}

func msgStalePending(symbol string) string {
	return fmt.Sprintf("🗑️ <b>ENTRY LOST</b>\n%s entry never produced a position.\nTracker cleaned.", symbol)
}

func msgStaleSecured(symbol string, side common.PositionSide) string {
	return fmt.Sprintf("🗑️ <b>POSITION GONE</b>\n%s %s closed without a fill event.\nLeftover orders cancelled, tracker cleaned.", symbol, side)
}

func msgSafetyFailed(symbol, leg string, err error) string {
	return fmt.Sprintf("🚨 <b>SAFETY FAILED</b>\n%s %s: %s", symbol, leg, html.EscapeString(err.Error()))
}

// msgCloseFill reports a realized close with ROI on the margin used.
func msgCloseFill(upd events.OrderUpdate, leverage int) string {
	pnl := upd.RealizedPnL
	title, icon := "STOP LOSS HIT", "🛑"
	pnlStr := fmt.Sprintf("-$%.2f", math.Abs(pnl))
	if pnl > 0 {
		title, icon = "TAKE PROFIT HIT", "💰"
		pnlStr = fmt.Sprintf("+$%.2f", pnl)
	}
	size := upd.Qty * upd.AvgPrice
	margin := size / float64(leverage)
	roi := 0.0
	if margin > 0 {
		roi = pnl / margin * 100
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>%s</b>\n", icon, title)
	fmt.Fprintf(&b, "<b>%s</b>\n", upd.Symbol)
	fmt.Fprintf(&b, "Type: %s\n", upd.OrderType)
	fmt.Fprintf(&b, "Size: $%.2f\n", size)
	fmt.Fprintf(&b, "Price: %v\n", upd.AvgPrice)
	fmt.Fprintf(&b, "PnL: <b>%s</b>\n", pnlStr)
	fmt.Fprintf(&b, "ROI: <b>%+.2f%%</b>", roi)
	return b.String()
}

func msgLimitFilled(upd events.OrderUpdate, e TrackerEntry) string {
	tp, sl, rr := "-", "-", "-"
	if e.DecisionTP > 0 && e.DecisionSL > 0 {
		tp = fmt.Sprintf("%.4f", e.DecisionTP)
		sl = fmt.Sprintf("%.4f", e.DecisionSL)
		if d := math.Abs(e.DecisionSL - upd.AvgPrice); d > 0 {
			rr = fmt.Sprintf("1:%.2f", math.Abs(e.DecisionTP-upd.AvgPrice)/d)
		}
	}
	return fmt.Sprintf("✅ <b>LIMIT ENTRY FILLED</b>\n<b>%s</b>\nSide: %s\nSize: $%.2f\nPrice: %v\n\n<b>Planned exits:</b>\n• TP: %s\n• SL: %s\n• R:R: %s",
		upd.Symbol, upd.Side, upd.Qty*upd.AvgPrice, upd.AvgPrice, tp, sl, rr)
}
