package main

import (
	"context"
	"os"
	"os/signal"
	"time"

	"go.uber.org/zap"

	"execution-core/internal/events"
	"execution-core/internal/marketdata"
	"execution-core/internal/monitor"
	"execution-core/pkg/config"
	exfutusdt "execution-core/pkg/exchanges/binance/futures_usdt"
	"execution-core/pkg/logger"
)

// stream_check runs the stream ingestor on its own and logs what reaches the
// bus and the store. With API keys set the user data stream is included, so
// order and account updates show up when orders are placed by hand.
//
// Usage:
//
//	go run ./scripts/stream_check
//
// STREAM_CHECK_DURATION (default 2m) bounds the run.
func main() {
	log, err := logger.New("stream-check", "info", "console")
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}
	duration := 2 * time.Minute
	if v := os.Getenv("STREAM_CHECK_DURATION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			duration = d
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	client := exfutusdt.NewClient(exfutusdt.Config{
		APIKey:     cfg.APIKey,
		APISecret:  cfg.APISecret,
		Testnet:    cfg.Testnet,
		RecvWindow: cfg.RecvWindow,
		Timeout:    cfg.APITimeout,
	}, log)
	var keys marketdata.ListenKeySource
	if cfg.APIKey != "" {
		keys = client
	}

	timeframes := []string{cfg.ExecTF.Interval, cfg.TrendTF.Interval}
	store := marketdata.NewStore(nil, 100)
	bus := events.NewBus()
	metrics := monitor.NewMetrics()
	in := marketdata.NewIngestor(marketdata.IngestorConfig{
		Symbols:        cfg.Symbols(),
		Timeframes:     timeframes,
		BTCSymbol:      cfg.BTCSymbol,
		TrendTimeframe: cfg.TrendTF.Interval,
		Testnet:        cfg.Testnet,
		ReconnectDelay: cfg.WSReconnectDelay,
		WhaleThreshold: cfg.WhaleThresholdUSDT,
	}, store, keys, bus, metrics, logger.Component(log, "ingestor"))

	ticks, unsubTicks := bus.Subscribe(events.EventPriceTick, 256)
	defer unsubTicks()
	whales, unsubWhales := bus.Subscribe(events.EventWhaleTrade, 64)
	defer unsubWhales()
	orders, unsubOrders := bus.Subscribe(events.EventOrderUpdate, 64)
	defer unsubOrders()
	accounts, unsubAccounts := bus.Subscribe(events.EventAccountUpdate, 64)
	defer unsubAccounts()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := in.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("ingestor stopped", zap.Error(err))
		}
	}()

	report := time.NewTicker(15 * time.Second)
	defer report.Stop()
	var nTicks int
	for {
		select {
		case <-ctx.Done():
			<-done
			summarize(log, store, cfg, timeframes, nTicks)
			return
		case <-ticks:
			nTicks++
		case msg := <-whales:
			w := msg.(events.WhaleTrade)
			log.Info("whale", zap.String("text", monitor.FormatWhale(w)))
		case msg := <-orders:
			u := msg.(events.OrderUpdate)
			log.Info("order update", zap.String("symbol", u.Symbol), zap.String("order_id", u.OrderID),
				zap.String("type", u.OrderType), zap.String("status", u.Status), zap.Float64("avg_price", u.AvgPrice))
		case msg := <-accounts:
			a := msg.(events.AccountUpdate)
			log.Info("account update", zap.String("reason", a.Reason), zap.Int("positions", len(a.Positions)))
		case <-report.C:
			summarize(log, store, cfg, timeframes, nTicks)
		}
	}
}

func summarize(log *zap.Logger, store *marketdata.Store, cfg *config.Config, timeframes []string, ticks int) {
	log.Info("progress", zap.Int("ticks", ticks), zap.String("btc_trend", store.BTCTrend()))
	for _, sym := range cfg.Symbols() {
		fields := []zap.Field{zap.String("symbol", sym)}
		for _, tf := range timeframes {
			fields = append(fields, zap.Int(tf, store.Len(marketdata.SeriesKey{Symbol: sym, Timeframe: tf})))
		}
		if t, ok := store.Ticker(sym); ok {
			fields = append(fields, zap.Float64("last", t.Price))
		}
		if ob, ok := store.OrderBook(sym); ok {
			fields = append(fields, zap.Int("bids", len(ob.Bids)), zap.Int("asks", len(ob.Asks)))
		}
		log.Info("series", fields...)
	}
}
