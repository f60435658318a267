package safety

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"execution-core/pkg/exchanges/common"
)

// Execution modes for entries.
const (
	ModeMarket = "MARKET"
	ModeLimit  = "LIMIT"
)

// EntryRequest is one approved trade.
type EntryRequest struct {
	Symbol     string
	Side       common.Side
	Mode       string  // MARKET or LIMIT
	Price      float64 // limit price; ignored for MARKET
	AmountUSDT float64 // margin
	Leverage   int
	MarginType string // defaults to the configured type
	Strategy   string
	ATR        float64
	DecisionTP float64
	DecisionSL float64
}

// ExecuteEntry configures the symbol and places the entry order. The
// tracker entry is written before this returns: WAITING_ENTRY after a
// limit order is accepted, PENDING before a market order is sent. A failed
// market order removes the PENDING entry again.
func (m *Monitor) ExecuteEntry(ctx context.Context, req EntryRequest) error {
	if err := m.executeEntry(ctx, req); err != nil {
		m.log.Error("entry failed", zap.String("symbol", req.Symbol), zap.Error(err))
		m.notifier.Notify(ctx, msgEntryError(req.Symbol, err))
		return err
	}
	return nil
}

func (m *Monitor) executeEntry(ctx context.Context, req EntryRequest) error {
	if req.Side != common.SideBuy && req.Side != common.SideSell {
		return fmt.Errorf("%w: side %q", ErrBadEntry, req.Side)
	}
	mode := strings.ToUpper(req.Mode)
	if mode != ModeMarket && mode != ModeLimit {
		return fmt.Errorf("%w: mode %q", ErrBadEntry, req.Mode)
	}
	if req.AmountUSDT <= 0 || req.Leverage <= 0 {
		return fmt.Errorf("%w: amount %.2f leverage %d", ErrBadEntry, req.AmountUSDT, req.Leverage)
	}
	if left := m.cooldowns.Remaining(req.Symbol); left > 0 {
		return fmt.Errorf("%w: %s for %s", ErrCooldown, req.Symbol, left.Round(time.Second))
	}
	if m.HasActiveOrPendingTrade(req.Symbol) {
		return fmt.Errorf("%w: %s", ErrActiveTrade, req.Symbol)
	}

	if err := m.ex.SetLeverage(ctx, req.Symbol, req.Leverage); err != nil {
		m.log.Warn("leverage setup skipped", zap.String("symbol", req.Symbol), zap.Error(err))
	}
	marginType := req.MarginType
	if marginType == "" {
		marginType = m.cfg.MarginType
	}
	if marginType != "" {
		if err := m.ex.SetMarginType(ctx, req.Symbol, marginType); err != nil {
			m.log.Warn("margin type setup skipped", zap.String("symbol", req.Symbol), zap.Error(err))
		}
	}

	price := req.Price
	if mode == ModeMarket || price <= 0 {
		last, err := m.ex.TickerPrice(ctx, req.Symbol)
		if err != nil {
			return fmt.Errorf("fetch price: %w", err)
		}
		price = last
	}
	if price <= 0 {
		return fmt.Errorf("%w: price %.8f", ErrBadEntry, price)
	}
	qty := req.AmountUSDT * float64(req.Leverage) / price

	m.log.Info("executing entry",
		zap.String("symbol", req.Symbol),
		zap.String("side", string(req.Side)),
		zap.String("mode", mode),
		zap.Float64("amount_usdt", req.AmountUSDT),
		zap.Int("leverage", req.Leverage),
		zap.Float64("atr", req.ATR))

	order := common.OrderRequest{
		Symbol:   req.Symbol,
		Side:     req.Side,
		Qty:      qty,
		ClientID: "ec-" + uuid.NewString()[:20],
	}

	if mode == ModeLimit {
		order.Type = common.OrderTypeLimit
		order.Price = price
		order.TimeInForce = common.TIFGTC
		res, err := m.ex.SubmitOrder(ctx, order)
		if err != nil {
			return fmt.Errorf("place limit order: %w", err)
		}
		e := NewWaitingEntry(req.Symbol, res.ExchangeOrderID, req.Strategy, req.ATR, m.now(), m.cfg.LimitExpiry)
		e.DecisionTP, e.DecisionSL = req.DecisionTP, req.DecisionSL
		m.table.Put(e)
		m.notifier.Notify(ctx, msgLimitPlaced(req, price))
		return nil
	}

	e := NewPending(req.Symbol, req.Strategy, req.ATR, m.now())
	e.DecisionTP, e.DecisionSL = req.DecisionTP, req.DecisionSL
	m.table.Put(e)

	order.Type = common.OrderTypeMarket
	if _, err := m.ex.SubmitOrder(ctx, order); err != nil {
		m.table.RemoveIf(req.Symbol, samePending(e.CreatedAt))
		return fmt.Errorf("place market order: %w", err)
	}
	m.notifier.Notify(ctx, msgMarketFilled(req, price))
	m.Kick()
	return nil
}
