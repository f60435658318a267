package monitor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"execution-core/internal/events"
)

// Monitor forwards whale trades seen on the bus to an alert function.
type Monitor struct {
	Bus     *events.Bus
	AlertFn func(ctx context.Context, msg string)
	Log     *zap.Logger
	// MinInterval throttles alerts per symbol.
	MinInterval time.Duration

	last map[string]time.Time
}

// Run blocks until ctx is done.
func (m *Monitor) Run(ctx context.Context) error {
	if m.Bus == nil || m.AlertFn == nil {
		return fmt.Errorf("monitor: bus and alert function are required")
	}
	if m.Log == nil {
		m.Log = zap.NewNop()
	}
	if m.last == nil {
		m.last = make(map[string]time.Time)
	}
	stream, unsub := m.Bus.Subscribe(events.EventWhaleTrade, 64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-stream:
			if !ok {
				return nil
			}
			w, ok := msg.(events.WhaleTrade)
			if !ok {
				continue
			}
			now := time.Now()
			if t, seen := m.last[w.Symbol]; seen && now.Sub(t) < m.MinInterval {
				continue
			}
			m.last[w.Symbol] = now
			m.Log.Info("whale trade", zap.String("symbol", w.Symbol), zap.String("side", w.Side),
				zap.Float64("notional", w.Notional))
			m.AlertFn(ctx, FormatWhale(w))
		}
	}
}

// FormatWhale renders a whale trade for humans.
func FormatWhale(w events.WhaleTrade) string {
	return fmt.Sprintf("🐋 <b>%s</b> whale %s %.0f USDT @ %g", w.Symbol, w.Side, w.Notional, w.Price)
}
