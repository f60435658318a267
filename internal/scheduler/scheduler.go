package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"execution-core/internal/decision"
	"execution-core/internal/marketdata"
	"execution-core/internal/monitor"
	"execution-core/internal/notify"
	"execution-core/internal/safety"
	"execution-core/pkg/config"
	"execution-core/pkg/exchanges/common"
)

// Outcome names what one scheduler step did with its symbol.
type Outcome string

const (
	OutcomeActive        Outcome = "active"
	OutcomeCooldown      Outcome = "cooldown"
	OutcomeCategoryFull  Outcome = "category_full"
	OutcomeSameCandle    Outcome = "same_candle"
	OutcomeNoData        Outcome = "no_data"
	OutcomeDecisionError Outcome = "decision_error"
	OutcomeWait          Outcome = "wait"
	OutcomeRejected      Outcome = "rejected"
	OutcomeEntered       Outcome = "entered"
	OutcomeEntryFailed   Outcome = "entry_failed"
)

// Market is the read side the scheduler analyses.
type Market interface {
	CandleID(symbol string) (int64, bool)
	TechnicalData(ctx context.Context, symbol string) (marketdata.TechData, error)
	OrderBookImbalance(ctx context.Context, symbol string) (marketdata.Imbalance, error)
	BTCCorrelation(symbol string) float64
}

// Trader gates and places entries.
type Trader interface {
	HasActiveOrPendingTrade(symbol string) bool
	InCooldown(symbol string) bool
	OpenPositionsInCategory(category string) int
	ExecuteEntry(ctx context.Context, req safety.EntryRequest) error
}

type Config struct {
	Coins                   []config.Coin
	ExecTimeframe           string
	BTCSymbol               string
	MaxPositionsPerCategory int
	CorrelationThreshold    float64
	Rules                   decision.Rules

	SleepDelay time.Duration // after a gate skip
	SkipDelay  time.Duration // when data is missing
	ErrorDelay time.Duration // after a decision round trip
}

func ConfigFrom(c *config.Config) Config {
	return Config{
		Coins:                   c.Coins,
		ExecTimeframe:           c.ExecTF.Interval,
		BTCSymbol:               c.BTCSymbol,
		MaxPositionsPerCategory: c.MaxPositionsPerCategory,
		CorrelationThreshold:    c.CorrelationThresholdBTC,
		Rules:                   decision.RulesFrom(c.Decision),
		SleepDelay:              c.LoopSleepDelay,
		SkipDelay:               c.LoopSkipDelay,
		ErrorDelay:              c.ErrorSleepDelay,
	}
}

// Scheduler scans one symbol per step, round robin, and asks the decision
// service only when a new execution candle has closed.
type Scheduler struct {
	cfg      Config
	market   Market
	trader   Trader
	decider  decision.Client
	notifier notify.Notifier
	metrics  *monitor.Metrics
	log      *zap.Logger

	mu       sync.Mutex
	next     int
	analyzed map[string]int64
}

func New(cfg Config, market Market, trader Trader, decider decision.Client, notifier notify.Notifier, metrics *monitor.Metrics, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Scheduler{
		cfg:      cfg,
		market:   market,
		trader:   trader,
		decider:  decider,
		notifier: notifier,
		metrics:  metrics,
		log:      log,
		analyzed: make(map[string]int64),
	}
}

// Run steps until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if len(s.cfg.Coins) == 0 {
		return errors.New("scheduler: no coins")
	}
	s.log.Info("scheduler started", zap.Int("coins", len(s.cfg.Coins)))
	for {
		_, delay := s.Step(ctx)
		if delay <= 0 {
			delay = time.Second
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Step processes the next coin and returns what happened and how long to
// wait before the following step.
func (s *Scheduler) Step(ctx context.Context) (Outcome, time.Duration) {
	coin := s.advance()
	symbol := coin.Symbol

	if s.trader.HasActiveOrPendingTrade(symbol) {
		return OutcomeActive, s.cfg.SleepDelay
	}
	if s.trader.InCooldown(symbol) {
		return OutcomeCooldown, s.cfg.SleepDelay
	}
	if limit := s.cfg.MaxPositionsPerCategory; limit > 0 && s.trader.OpenPositionsInCategory(coin.Category) >= limit {
		return OutcomeCategoryFull, s.cfg.SleepDelay
	}

	candle, ok := s.market.CandleID(symbol)
	if !ok {
		s.log.Warn("no closed candle yet", zap.String("symbol", symbol))
		return OutcomeNoData, s.cfg.SkipDelay
	}
	if candle <= s.lastAnalyzed(symbol) {
		return OutcomeSameCandle, s.cfg.SleepDelay
	}

	tech, err := s.market.TechnicalData(ctx, symbol)
	if err != nil {
		s.log.Warn("no tech data", zap.String("symbol", symbol), zap.Error(err))
		return OutcomeNoData, s.cfg.SkipDelay
	}

	snap := s.snapshot(ctx, coin, tech)
	s.log.Info("requesting decision",
		zap.String("symbol", symbol),
		zap.Float64("btc_corr", snap.BTCCorrelation),
		zap.Int64("candle", tech.CandleTimestamp))
	verdict, err := s.decider.Decide(ctx, snap)
	if err != nil {
		s.log.Error("decision failed", zap.String("symbol", symbol), zap.Error(err))
		return OutcomeDecisionError, s.cfg.ErrorDelay
	}
	s.markAnalyzed(symbol, tech.CandleTimestamp)

	if !verdict.Actionable() {
		s.log.Info("decision wait", zap.String("symbol", symbol), zap.String("reason", verdict.Reason))
		return OutcomeWait, s.cfg.ErrorDelay
	}

	v := decision.Validate(verdict, s.cfg.Rules)
	if !v.Valid {
		s.metrics.Decision("REJECTED")
		s.log.Warn("verdict rejected", zap.String("symbol", symbol), zap.Strings("errors", v.Errors))
		s.notifier.Notify(ctx, msgRejected(symbol, v.Errors))
		return OutcomeRejected, s.cfg.ErrorDelay
	}
	for _, w := range v.Warnings {
		s.log.Warn("verdict warning", zap.String("symbol", symbol), zap.String("warning", w))
	}

	req := safety.EntryRequest{
		Symbol:     symbol,
		Side:       sideOf(verdict.Decision),
		Mode:       verdict.ExecutionMode,
		Price:      verdict.EntryPrice,
		AmountUSDT: coin.Amount,
		Leverage:   coin.Leverage,
		MarginType: coin.MarginType,
		Strategy:   verdict.Strategy,
		ATR:        tech.ATR,
		DecisionTP: verdict.TPPrice,
		DecisionSL: verdict.SLPrice,
	}
	if err := s.trader.ExecuteEntry(ctx, req); err != nil {
		return OutcomeEntryFailed, s.cfg.ErrorDelay
	}
	pnl := decision.EstimatePnL(verdict.EntryPrice, verdict.TPPrice, verdict.SLPrice, verdict.Decision, coin.Amount, coin.Leverage)
	s.notifier.Notify(ctx, msgSignal(snap, verdict, v, pnl, coin))
	return OutcomeEntered, s.cfg.ErrorDelay
}

func (s *Scheduler) snapshot(ctx context.Context, coin config.Coin, tech marketdata.TechData) decision.Snapshot {
	snap := decision.Snapshot{
		Symbol:    coin.Symbol,
		Category:  coin.Category,
		Timeframe: s.cfg.ExecTimeframe,
		Tech:      tech,
	}
	if coin.Symbol == s.cfg.BTCSymbol {
		snap.BTCCorrelation = 1
	} else {
		snap.BTCCorrelation = s.market.BTCCorrelation(coin.Symbol)
		snap.ShowBTCContext = coin.FollowsBTC() && snap.BTCCorrelation >= s.cfg.CorrelationThreshold
	}
	if ob, err := s.market.OrderBookImbalance(ctx, coin.Symbol); err == nil {
		snap.OrderBook = &ob
	} else {
		s.log.Debug("order book unavailable", zap.String("symbol", coin.Symbol), zap.Error(err))
	}
	return snap
}

func (s *Scheduler) advance() config.Coin {
	s.mu.Lock()
	defer s.mu.Unlock()
	coin := s.cfg.Coins[s.next%len(s.cfg.Coins)]
	s.next = (s.next + 1) % len(s.cfg.Coins)
	return coin
}

func (s *Scheduler) lastAnalyzed(symbol string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.analyzed[symbol]
}

func (s *Scheduler) markAnalyzed(symbol string, candle int64) {
	s.mu.Lock()
	s.analyzed[symbol] = candle
	s.mu.Unlock()
}

func sideOf(a decision.Action) common.Side {
	if a == decision.Sell {
		return common.SideSell
	}
	return common.SideBuy
}

func msgRejected(symbol string, errs []string) string {
	return fmt.Sprintf("❌ <b>SETUP REJECTED</b>\n%s\n\n• %s\n\nNo order placed.", symbol, strings.Join(errs, "\n• "))
}

func msgSignal(s decision.Snapshot, v decision.Verdict, val decision.Validation, pnl decision.PnLEstimate, coin config.Coin) string {
	icon := "🟢"
	if v.Decision == decision.Sell {
		icon = "🔴"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🧠 <b>SIGNAL EXECUTED</b> (%s)\n\n", v.ExecutionMode)
	fmt.Fprintf(&b, "Coin: %s\nSignal: %s %s (%.0f%%)\nTimeframe: %s\n", s.Symbol, icon, v.Decision, v.Confidence, s.Timeframe)
	if s.ShowBTCContext {
		fmt.Fprintf(&b, "BTC Corr: %.2f\n", s.BTCCorrelation)
	}
	fmt.Fprintf(&b, "Strategy: %s\n\n", v.Strategy)
	fmt.Fprintf(&b, "• Entry: %.4f\n• TP: %.4f\n• SL: %.4f\n• R:R: 1:%.2f\n\n", v.EntryPrice, v.TPPrice, v.SLPrice, val.RiskReward)
	fmt.Fprintf(&b, "If TP: <b>+$%.2f</b> (+%.2f%%)\nIf SL: <b>-$%.2f</b> (-%.2f%%)\n", pnl.ProfitUSDT, pnl.ProfitPercent, pnl.LossUSDT, pnl.LossPercent)
	fmt.Fprintf(&b, "Size: $%.2f (x%d)\n\n📝 %s", coin.Amount, coin.Leverage, v.Reason)
	return b.String()
}
