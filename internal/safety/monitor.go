package safety

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"execution-core/internal/events"
	"execution-core/internal/monitor"
	"execution-core/internal/notify"
	"execution-core/internal/state"
	"execution-core/internal/supervisor"
	"execution-core/pkg/config"
	"execution-core/pkg/exchanges/common"
)

// Exchange is the venue surface the monitor trades through.
type Exchange interface {
	common.Gateway
	common.Account
}

// Config holds protective-order settings.
type Config struct {
	StopATRMultiplier   float64
	TargetATRMultiplier float64
	FallbackSLPercent   float64
	FallbackTPPercent   float64
	Retries             int
	RetryDelay          time.Duration
	Interval            time.Duration
	LimitExpiry         time.Duration
	MarginType          string
	CooldownProfit      time.Duration
	CooldownLoss        time.Duration
	ConcurrencyLimit    int
}

// ConfigFrom maps loaded settings.
func ConfigFrom(s config.Safety) Config {
	return Config{
		StopATRMultiplier:   s.TrapSafetySL,
		TargetATRMultiplier: s.ATRMultiplierTP,
		FallbackSLPercent:   s.DefaultSLPercent,
		FallbackTPPercent:   s.DefaultTPPercent,
		Retries:             s.SLTPRetries,
		RetryDelay:          s.SLTPRetryDelay,
		Interval:            s.MonitorInterval,
		LimitExpiry:         s.LimitOrderExpiry,
		MarginType:          s.DefaultMarginType,
		CooldownProfit:      s.CooldownProfit,
		CooldownLoss:        s.CooldownLoss,
		ConcurrencyLimit:    s.ConcurrencyLimit,
	}
}

// Deps are the collaborators of a Monitor.
type Deps struct {
	Exchange  Exchange
	Table     *Table
	Positions *state.PositionCache
	Cooldowns *Cooldowns
	Coins     []config.Coin
	Notifier  notify.Notifier
	Metrics   *monitor.Metrics
	Log       *zap.Logger
	Now       func() time.Time
}

// Monitor reconciles tracker state against the exchange from two sources:
// pushed order and account events, and a periodic poll.
type Monitor struct {
	cfg       Config
	ex        Exchange
	table     *Table
	positions *state.PositionCache
	cooldowns *Cooldowns
	coins     map[string]config.Coin
	notifier  notify.Notifier
	metrics   *monitor.Metrics
	log       *zap.Logger
	now       func() time.Time

	// orderMu serializes every protective-order mutation in the process.
	orderMu sync.Mutex
	sem     *semaphore.Weighted
	kick    chan struct{}
}

func NewMonitor(cfg Config, d Deps) *Monitor {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Notifier == nil {
		d.Notifier = notify.Nop{}
	}
	if d.Cooldowns == nil {
		d.Cooldowns = NewCooldowns(d.Now)
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 1
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.ConcurrencyLimit <= 0 {
		cfg.ConcurrencyLimit = 10
	}
	coins := make(map[string]config.Coin, len(d.Coins))
	for _, c := range d.Coins {
		coins[c.Symbol] = c
	}
	return &Monitor{
		cfg:       cfg,
		ex:        d.Exchange,
		table:     d.Table,
		positions: d.Positions,
		cooldowns: d.Cooldowns,
		coins:     coins,
		notifier:  d.Notifier,
		metrics:   d.Metrics,
		log:       d.Log,
		now:       d.Now,
		sem:       semaphore.NewWeighted(int64(cfg.ConcurrencyLimit)),
		kick:      make(chan struct{}, 1),
	}
}

// Table exposes the tracker table.
func (m *Monitor) Table() *Table { return m.table }

// Cooldowns exposes the cooldown map.
func (m *Monitor) Cooldowns() *Cooldowns { return m.cooldowns }

// Run consumes push events and runs the poll loop until ctx is done.
func (m *Monitor) Run(ctx context.Context, bus *events.Bus) error {
	g, ctx := errgroup.WithContext(ctx)
	if bus != nil {
		orders, unsubOrders := bus.Subscribe(events.EventOrderUpdate, 64)
		accounts, unsubAccounts := bus.Subscribe(events.EventAccountUpdate, 64)
		defer unsubOrders()
		defer unsubAccounts()
		g.Go(func() error {
			return supervisor.Catch(func() error { return m.consume(ctx, orders, accounts) })
		})
	}
	g.Go(func() error {
		return supervisor.Catch(func() error { return m.pollLoop(ctx) })
	})
	return g.Wait()
}

func (m *Monitor) consume(ctx context.Context, orders, accounts <-chan any) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p, ok := <-orders:
			if !ok {
				return nil
			}
			if upd, ok := p.(events.OrderUpdate); ok {
				m.HandleOrderUpdate(ctx, upd)
			}
		case p, ok := <-accounts:
			if !ok {
				return nil
			}
			if upd, ok := p.(events.AccountUpdate); ok {
				m.HandleAccountUpdate(ctx, upd)
			}
		}
	}
}

func (m *Monitor) pollLoop(ctx context.Context) error {
	m.log.Info("safety monitor started", zap.Duration("interval", m.cfg.Interval))
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		m.Reconcile(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-m.kick:
		}
	}
}

// Kick requests an immediate poll cycle.
func (m *Monitor) Kick() {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// Reconcile runs one poll cycle: refresh positions, drop entries the
// exchange no longer backs, settle waiting entries, then secure every
// unprotected position.
func (m *Monitor) Reconcile(ctx context.Context) {
	if _, err := m.SyncPositions(ctx); err != nil {
		// A stale cache would make filled entries look cancelled.
		m.log.Warn("position sync failed, skipping cycle", zap.Error(err))
		return
	}
	m.DropStale(ctx)
	m.SyncPending(ctx)
	for _, pos := range m.positions.Positions() {
		if m.table.Status(pos.Symbol) == StatusSecured {
			continue
		}
		m.log.Info("unsecured position found", zap.String("symbol", pos.Symbol))
		if err := m.InstallSafetyOrders(ctx, pos); err != nil {
			m.log.Error("install safety orders failed", zap.String("symbol", pos.Symbol), zap.Error(err))
		}
	}
}

// SyncPositions rebuilds the position cache from the exchange.
func (m *Monitor) SyncPositions(ctx context.Context) (int, error) {
	positions, err := m.ex.GetPositions(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch positions: %w", err)
	}
	m.positions.Replace(positions, m.now())
	return len(positions), nil
}

// DropStale removes tracker entries that no live position backs. A SECURED
// entry goes when its position is flat or has flipped side, after its
// leftover orders are cancelled. A PENDING entry goes once it is older than
// one poll interval and still has no position.
func (m *Monitor) DropStale(ctx context.Context) {
	now := m.now()
	for _, e := range m.table.Entries() {
		pos, open := m.positions.Position(e.Symbol)
		switch e.Status {
		case StatusSecured:
			if open && pos.Side == e.Side {
				continue
			}
			m.dropSecured(ctx, e)
		case StatusPending:
			if open || now.Sub(e.CreatedAt) <= m.cfg.Interval {
				continue
			}
			if m.table.RemoveIf(e.Symbol, samePending(e.CreatedAt)) {
				m.log.Warn("pending entry never produced a position, removing",
					zap.String("symbol", e.Symbol), zap.Time("created_at", e.CreatedAt))
				m.notifier.Notify(ctx, msgStalePending(e.Symbol))
			}
		}
	}
}

func (m *Monitor) dropSecured(ctx context.Context, e TrackerEntry) {
	m.orderMu.Lock()
	defer m.orderMu.Unlock()

	cur, ok := m.table.Get(e.Symbol)
	if !ok || cur.Status != StatusSecured || cur.Side != e.Side {
		return
	}
	if err := m.ex.CancelAllOpenOrders(ctx, e.Symbol); err != nil {
		m.log.Warn("cancel orders of closed position failed, keeping tracker", zap.String("symbol", e.Symbol), zap.Error(err))
		return
	}
	if m.table.RemoveIf(e.Symbol, func(c TrackerEntry) bool { return c.Status == StatusSecured && c.Side == e.Side }) {
		m.log.Info("secured position gone, tracker cleared", zap.String("symbol", e.Symbol), zap.String("side", string(e.Side)))
		m.notifier.Notify(ctx, msgStaleSecured(e.Symbol, e.Side))
	}
}

func samePending(createdAt time.Time) func(TrackerEntry) bool {
	return func(e TrackerEntry) bool {
		return e.Status == StatusPending && e.CreatedAt.Equal(createdAt)
	}
}

// SyncPending settles every WAITING_ENTRY: expired orders are cancelled
// and dropped; orders gone from the book become PENDING when a position
// exists and are dropped otherwise.
func (m *Monitor) SyncPending(ctx context.Context) {
	symbols := m.table.WithStatus(StatusWaitingEntry)
	if len(symbols) == 0 {
		return
	}
	var wg sync.WaitGroup
	for _, sym := range symbols {
		if err := m.sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			defer m.sem.Release(1)
			err := supervisor.Catch(func() error { return m.syncPendingSymbol(ctx, symbol) })
			if err != nil {
				m.log.Warn("pending order sync failed", zap.String("symbol", symbol), zap.Error(err))
			}
		}(sym)
	}
	wg.Wait()
}

func (m *Monitor) syncPendingSymbol(ctx context.Context, symbol string) error {
	entry, ok := m.table.Get(symbol)
	if !ok || entry.Status != StatusWaitingEntry {
		return nil
	}

	if entry.Expired(m.now()) {
		m.log.Info("limit order expired, cancelling", zap.String("symbol", symbol), zap.String("order_id", entry.EntryOrderID))
		if err := m.ex.CancelOrder(ctx, symbol, entry.EntryOrderID); err != nil {
			m.log.Warn("cancel expired order failed", zap.String("symbol", symbol), zap.Error(err))
		}
		if m.table.RemoveIf(symbol, sameWaitingOrder(entry.EntryOrderID)) {
			m.notifier.Notify(ctx, msgOrderExpired(symbol))
		}
		return nil
	}

	open, err := m.ex.GetOpenOrders(ctx, symbol)
	if err != nil {
		return fmt.Errorf("fetch open orders: %w", err)
	}
	for _, o := range open {
		if o.ID == entry.EntryOrderID {
			return nil
		}
	}

	if m.positions.Has(symbol) {
		m.log.Info("entry order filled, queued for protection", zap.String("symbol", symbol))
		m.table.Update(symbol, func(e *TrackerEntry) bool { return e.Promote() })
		return nil
	}
	m.log.Info("entry order gone without position, removing", zap.String("symbol", symbol))
	if m.table.RemoveIf(symbol, sameWaitingOrder(entry.EntryOrderID)) {
		m.notifier.Notify(ctx, msgOrderSync(symbol))
	}
	return nil
}

func sameWaitingOrder(orderID string) func(TrackerEntry) bool {
	return func(e TrackerEntry) bool {
		return e.Status == StatusWaitingEntry && e.EntryOrderID == orderID
	}
}

// ComputeLevels returns stop-loss and take-profit prices. With an ATR the
// distances are multiples of it; without one they are fixed percentages
// of entry.
func ComputeLevels(cfg Config, side common.PositionSide, entry, atr float64) (sl, tp float64) {
	if atr > 0 {
		slDist := atr * cfg.StopATRMultiplier
		tpDist := atr * cfg.TargetATRMultiplier
		if side == common.Short {
			return entry + slDist, entry - tpDist
		}
		return entry - slDist, entry + tpDist
	}
	if side == common.Short {
		return entry * (1 + cfg.FallbackSLPercent), entry * (1 - cfg.FallbackTPPercent)
	}
	return entry * (1 - cfg.FallbackSLPercent), entry * (1 + cfg.FallbackTPPercent)
}

// InstallSafetyOrders places a closing stop-market and take-profit-market
// for pos and marks the symbol SECURED. Calls are serialized process-wide
// and a symbol that is already SECURED is left alone.
func (m *Monitor) InstallSafetyOrders(ctx context.Context, pos common.Position) error {
	m.orderMu.Lock()
	defer m.orderMu.Unlock()

	symbol := pos.Symbol
	entry, tracked := m.table.Get(symbol)
	if tracked && entry.Status == StatusSecured {
		return nil
	}
	if pos.Contracts <= 0 || pos.EntryPrice <= 0 {
		return ErrNoPosition
	}

	if err := m.ex.CancelAllOpenOrders(ctx, symbol); err != nil {
		m.log.Debug("cancel stale orders failed", zap.String("symbol", symbol), zap.Error(err))
	}

	sl, tp := ComputeLevels(m.cfg, pos.Side, pos.EntryPrice, entry.ATR)
	closeSide := pos.Side.CloseSide()

	if _, err := m.placeWithRetry(ctx, common.OrderRequest{
		Symbol:        symbol,
		Side:          closeSide,
		Type:          common.OrderTypeStopMarket,
		StopPrice:     sl,
		ClosePosition: true,
		WorkingType:   common.WorkingTypeMark,
	}); err != nil {
		return m.installFailed(ctx, symbol, "stop loss", err)
	}
	if _, err := m.placeWithRetry(ctx, common.OrderRequest{
		Symbol:        symbol,
		Side:          closeSide,
		Type:          common.OrderTypeTakeProfitMarket,
		StopPrice:     tp,
		ClosePosition: true,
		WorkingType:   common.WorkingTypeContract,
	}); err != nil {
		return m.installFailed(ctx, symbol, "take profit", err)
	}

	m.table.Upsert(symbol, func(e *TrackerEntry) {
		if e.CreatedAt.IsZero() {
			e.CreatedAt = m.now()
		}
		e.Secure(pos.Side, pos.EntryPrice, sl, tp)
	})
	m.metrics.SafetyInstall("secured")
	m.log.Info("safety orders installed", zap.String("symbol", symbol), zap.Float64("sl", sl), zap.Float64("tp", tp))
	m.notifier.Notify(ctx, msgSecured(symbol, pos.Side, pos.EntryPrice, sl, tp))
	return nil
}

func (m *Monitor) placeWithRetry(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	return backoff.Retry(ctx, func() (common.OrderResult, error) {
		res, err := m.ex.SubmitOrder(ctx, req)
		if err != nil {
			m.log.Warn("protective order rejected", zap.String("symbol", req.Symbol), zap.String("type", string(req.Type)), zap.Error(err))
		}
		return res, err
	}, backoff.WithBackOff(backoff.NewConstantBackOff(m.cfg.RetryDelay)), backoff.WithMaxTries(uint(m.cfg.Retries)))
}

// AmendStop moves the closing stop-market of a secured position to sl. The
// old stop is cancelled first and the new one placed with the same bounded
// retry as installation. If placement still fails the entry drops back to
// PENDING and a poll is requested, so the next cycle reinstalls both legs.
func (m *Monitor) AmendStop(ctx context.Context, symbol string, side common.PositionSide, sl float64) error {
	m.orderMu.Lock()
	defer m.orderMu.Unlock()

	if e, ok := m.table.Get(symbol); !ok || e.Status != StatusSecured || e.Side != side {
		return fmt.Errorf("%w: %s", ErrNotSecured, symbol)
	}
	open, err := m.ex.GetOpenOrders(ctx, symbol)
	if err != nil {
		return fmt.Errorf("fetch open orders: %w", err)
	}
	for _, o := range open {
		if o.Type != common.OrderTypeStopMarket {
			continue
		}
		if err := m.ex.CancelOrder(ctx, symbol, o.ID); err != nil {
			return fmt.Errorf("cancel stop %s: %w", o.ID, err)
		}
	}

	_, err = m.placeWithRetry(ctx, common.OrderRequest{
		Symbol:        symbol,
		Side:          side.CloseSide(),
		Type:          common.OrderTypeStopMarket,
		StopPrice:     sl,
		ClosePosition: true,
		WorkingType:   common.WorkingTypeMark,
	})
	if err == nil {
		return nil
	}
	m.table.Update(symbol, func(e *TrackerEntry) bool {
		if e.Status != StatusSecured {
			return false
		}
		e.Status = StatusPending
		e.Trailing = Trailing{}
		return true
	})
	m.log.Error("stop amendment failed, protection will be reinstalled", zap.String("symbol", symbol), zap.Error(err))
	m.Kick()
	return m.installFailed(ctx, symbol, "trailing stop", err)
}

func (m *Monitor) installFailed(ctx context.Context, symbol, leg string, err error) error {
	m.metrics.SafetyInstall("failed")
	m.notifier.Notify(ctx, msgSafetyFailed(symbol, leg, err))
	return fmt.Errorf("place %s for %s: %w", leg, symbol, err)
}

// HandleOrderUpdate applies one pushed order event.
func (m *Monitor) HandleOrderUpdate(ctx context.Context, upd events.OrderUpdate) {
	symbol := upd.Symbol
	switch common.OrderStatus(upd.Status) {
	case common.StatusCanceled, common.StatusExpired:
		if m.table.RemoveIf(symbol, sameWaitingOrder(upd.OrderID)) {
			m.log.Info("entry order closed by exchange", zap.String("symbol", symbol), zap.String("status", upd.Status))
			m.notifier.Notify(ctx, msgOrderClosed(symbol, upd.Status))
			return
		}
		m.log.Debug("non-entry order closed", zap.String("symbol", symbol), zap.String("order_id", upd.OrderID))

	case common.StatusFilled:
		if upd.RealizedPnL != 0 {
			m.handleCloseFill(ctx, upd)
			return
		}
		m.handleEntryFill(ctx, upd)
	}
}

func (m *Monitor) handleCloseFill(ctx context.Context, upd events.OrderUpdate) {
	symbol := upd.Symbol
	d := m.cfg.CooldownLoss
	if upd.RealizedPnL > 0 {
		d = m.cfg.CooldownProfit
	}
	until := m.cooldowns.Set(symbol, d)
	m.log.Info("position closed", zap.String("symbol", symbol), zap.Float64("pnl", upd.RealizedPnL), zap.Time("cooldown_until", until))

	leverage := 1
	if c, ok := m.coins[symbol]; ok && c.Leverage > 0 {
		leverage = c.Leverage
	}
	m.notifier.Notify(ctx, msgCloseFill(upd, leverage))

	m.table.Remove(symbol)
	m.positions.Remove(symbol)

	// The sibling closing order is now orphaned.
	m.orderMu.Lock()
	if err := m.ex.CancelAllOpenOrders(ctx, symbol); err != nil {
		m.log.Debug("cancel leftover orders failed", zap.String("symbol", symbol), zap.Error(err))
	}
	m.orderMu.Unlock()
}

func (m *Monitor) handleEntryFill(ctx context.Context, upd events.OrderUpdate) {
	symbol := upd.Symbol
	entry, promoted := m.table.Update(symbol, func(e *TrackerEntry) bool {
		return e.EntryOrderID == upd.OrderID && e.Promote()
	})
	if promoted {
		m.log.Info("limit entry filled", zap.String("symbol", symbol), zap.Float64("price", upd.AvgPrice))
		m.notifier.Notify(ctx, msgLimitFilled(upd, entry))
	}
	m.Kick()
}

// HandleAccountUpdate drops flattened positions from the cache and asks
// for an immediate poll.
func (m *Monitor) HandleAccountUpdate(_ context.Context, upd events.AccountUpdate) {
	for _, p := range upd.Positions {
		if p.Amount == 0 {
			m.positions.Remove(p.Symbol)
		}
	}
	m.Kick()
}

// HasActiveOrPendingTrade reports whether symbol has a live position or
// an entry that is not yet protected.
func (m *Monitor) HasActiveOrPendingTrade(symbol string) bool {
	if m.positions.Has(symbol) {
		return true
	}
	switch m.table.Status(symbol) {
	case StatusWaitingEntry, StatusPending:
		return true
	}
	return false
}

// InCooldown reports whether new entries on symbol are still blocked.
func (m *Monitor) InCooldown(symbol string) bool {
	return m.cooldowns.Active(symbol)
}

// OpenPositionsInCategory counts live positions whose coin is in category.
func (m *Monitor) OpenPositionsInCategory(category string) int {
	n := 0
	for _, p := range m.positions.Positions() {
		if c, ok := m.coins[p.Symbol]; ok && c.Category == category {
			n++
		}
	}
	return n
}
