// Package trailing ratchets the stop-loss of secured positions as price
// moves in their favor.
package trailing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"execution-core/internal/events"
	"execution-core/internal/monitor"
	"execution-core/internal/notify"
	"execution-core/internal/safety"
	"execution-core/pkg/config"
	"execution-core/pkg/exchanges/common"
)

// Config holds trailing-stop parameters.
type Config struct {
	ActivationThreshold float64 // fraction of the entry-to-target distance
	CallbackRate        float64
	MinProfitLock       float64
	Cooldown            time.Duration // minimum gap between applied amendments
}

func ConfigFrom(t config.Trailing) Config {
	return Config{
		ActivationThreshold: t.ActivationThreshold,
		CallbackRate:        t.CallbackRate,
		MinProfitLock:       t.MinProfitLock,
		Cooldown:            t.UpdateCooldown,
	}
}

// StopAmender moves the resting stop of a secured position. *safety.Monitor
// implements it under its order lock.
type StopAmender interface {
	AmendStop(ctx context.Context, symbol string, side common.PositionSide, sl float64) error
}

// Controller consumes price ticks. Extremes are tracked in memory on every
// tick; the table only sees amendments the exchange accepted.
type Controller struct {
	cfg      Config
	table    *safety.Table
	stops    StopAmender
	notifier notify.Notifier
	metrics  *monitor.Metrics
	log      *zap.Logger
	now      func() time.Time

	mu       sync.Mutex
	extremes map[string]float64
	failedAt map[string]time.Time
}

func NewController(cfg Config, table *safety.Table, stops StopAmender, notifier notify.Notifier, metrics *monitor.Metrics, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Controller{
		cfg:      cfg,
		table:    table,
		stops:    stops,
		notifier: notifier,
		metrics:  metrics,
		log:      log,
		now:      time.Now,
		extremes: make(map[string]float64),
		failedAt: make(map[string]time.Time),
	}
}

// Run applies price ticks from bus until ctx is done.
func (c *Controller) Run(ctx context.Context, bus *events.Bus) error {
	ticks, unsub := bus.Subscribe(events.EventPriceTick, 256)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p, ok := <-ticks:
			if !ok {
				return nil
			}
			if t, ok := p.(events.Tick); ok {
				c.OnPrice(ctx, t.Symbol, t.Price)
			}
		}
	}
}

// Progress is how far price has travelled from entry toward target, as a
// fraction. Zero when the target is not beyond entry.
func Progress(side common.PositionSide, entry, target, price float64) float64 {
	if side == common.Short {
		total := entry - target
		if total <= 0 {
			return 0
		}
		return (entry - price) / total
	}
	total := target - entry
	if total <= 0 {
		return 0
	}
	return (price - entry) / total
}

// InitialStop is the tighter of the callback stop and the profit lock.
func InitialStop(cfg Config, side common.PositionSide, entry, price float64) float64 {
	if side == common.Short {
		return min(price*(1+cfg.CallbackRate), entry*(1-cfg.MinProfitLock))
	}
	return max(price*(1-cfg.CallbackRate), entry*(1+cfg.MinProfitLock))
}

// Candidate is the stop implied by an extreme.
func Candidate(cfg Config, side common.PositionSide, extreme float64) float64 {
	if side == common.Short {
		return extreme * (1 + cfg.CallbackRate)
	}
	return extreme * (1 - cfg.CallbackRate)
}

func tighter(side common.PositionSide, candidate, current float64) bool {
	if current == 0 {
		return true
	}
	if side == common.Short {
		return candidate < current
	}
	return candidate > current
}

func favorable(side common.PositionSide, price, extreme float64) bool {
	if extreme == 0 {
		return true
	}
	if side == common.Short {
		return price < extreme
	}
	return price > extreme
}

// OnPrice evaluates one observation for symbol.
func (c *Controller) OnPrice(ctx context.Context, symbol string, price float64) {
	if price <= 0 {
		return
	}
	e, ok := c.table.Get(symbol)
	if !ok || e.Status != safety.StatusSecured {
		c.forget(symbol)
		return
	}
	if !e.Trailing.Active {
		c.activate(ctx, e, price)
		return
	}
	c.ratchet(ctx, e, price)
}

// Extreme returns the tracked best price for symbol.
func (c *Controller) Extreme(symbol string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.extremes[symbol]
	return v, ok
}

func (c *Controller) forget(symbol string) {
	c.mu.Lock()
	delete(c.extremes, symbol)
	delete(c.failedAt, symbol)
	c.mu.Unlock()
}

// holding reports whether a recent failed amendment still blocks symbol.
func (c *Controller) holding(symbol string, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	at, ok := c.failedAt[symbol]
	return ok && now.Sub(at) < c.cfg.Cooldown
}

func (c *Controller) activate(ctx context.Context, e safety.TrackerEntry, price float64) {
	if Progress(e.Side, e.EntryPrice, e.TPPrice, price) < c.cfg.ActivationThreshold {
		return
	}
	now := c.now()
	if c.holding(e.Symbol, now) {
		return
	}
	sl := InitialStop(c.cfg, e.Side, e.EntryPrice, price)
	if !c.amend(ctx, e.Symbol, e.Side, sl, now) {
		return
	}
	_, ok := c.table.Update(e.Symbol, func(cur *safety.TrackerEntry) bool {
		if cur.Status != safety.StatusSecured || cur.Trailing.Active {
			return false
		}
		cur.Trailing = safety.Trailing{Active: true, Extreme: price, CurrentSL: sl, LastAppliedAt: now}
		return true
	})
	if !ok {
		return
	}
	c.mu.Lock()
	c.extremes[e.Symbol] = price
	c.mu.Unlock()

	c.log.Info("trailing activated", zap.String("symbol", e.Symbol), zap.Float64("price", price), zap.Float64("sl", sl))
	c.notifier.Notify(ctx, fmt.Sprintf("🔄 <b>TRAILING ACTIVE</b>\n%s\nPrice: %v\nInitial SL: %.4f (Locked)", e.Symbol, price, sl))
}

func (c *Controller) ratchet(ctx context.Context, e safety.TrackerEntry, price float64) {
	c.mu.Lock()
	extreme, ok := c.extremes[e.Symbol]
	if !ok {
		extreme = e.Trailing.Extreme
	}
	if favorable(e.Side, price, extreme) {
		extreme = price
	}
	c.extremes[e.Symbol] = extreme
	c.mu.Unlock()

	candidate := Candidate(c.cfg, e.Side, extreme)
	if !tighter(e.Side, candidate, e.Trailing.CurrentSL) {
		return
	}
	now := c.now()
	if now.Sub(e.Trailing.LastAppliedAt) < c.cfg.Cooldown || c.holding(e.Symbol, now) {
		c.metrics.TrailingAmend("deferred")
		return
	}

	prev := e.Trailing.CurrentSL
	if !c.amend(ctx, e.Symbol, e.Side, candidate, now) {
		return
	}
	_, ok = c.table.Update(e.Symbol, func(cur *safety.TrackerEntry) bool {
		if cur.Status != safety.StatusSecured || !cur.Trailing.Active || !tighter(cur.Side, candidate, cur.Trailing.CurrentSL) {
			return false
		}
		cur.Trailing.CurrentSL = candidate
		cur.Trailing.Extreme = extreme
		cur.Trailing.LastAppliedAt = now
		return true
	})
	if !ok {
		return
	}
	c.log.Info("trailing stop raised", zap.String("symbol", e.Symbol), zap.Float64("from", prev), zap.Float64("to", candidate))
}

// amend moves the exchange stop to sl and reports whether it is resting
// there. On failure the symbol is held off for one cooldown.
func (c *Controller) amend(ctx context.Context, symbol string, side common.PositionSide, sl float64, now time.Time) bool {
	if err := c.stops.AmendStop(ctx, symbol, side, sl); err != nil {
		c.metrics.TrailingAmend("failed")
		c.log.Error("amend stop failed", zap.String("symbol", symbol), zap.Float64("sl", sl), zap.Error(err))
		c.mu.Lock()
		c.failedAt[symbol] = now
		c.mu.Unlock()
		return false
	}
	c.mu.Lock()
	delete(c.failedAt, symbol)
	c.mu.Unlock()
	c.metrics.TrailingAmend("applied")
	return true
}
