package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"execution-core/internal/api"
	"execution-core/internal/decision"
	"execution-core/internal/events"
	"execution-core/internal/marketdata"
	"execution-core/internal/monitor"
	"execution-core/internal/notify"
	"execution-core/internal/persistence"
	"execution-core/internal/safety"
	"execution-core/internal/scheduler"
	"execution-core/internal/state"
	"execution-core/internal/supervisor"
	"execution-core/internal/trailing"
	"execution-core/pkg/config"
	"execution-core/pkg/db"
	exfutusdt "execution-core/pkg/exchanges/binance/futures_usdt"
	"execution-core/pkg/logger"
)

const version = "0.4.0"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := issueToken(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}
	zl, err := logger.New("execution-core", cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = zl.Sync() }()

	if err := run(cfg, zl); err != nil {
		zl.Fatal("engine stopped", zap.Error(err))
	}
}

// issueToken prints a bearer token for the status API:
//
//	execution-core token [subject] [ttl]
func issueToken(args []string) error {
	secret := os.Getenv("STATUS_API_SECRET")
	if secret == "" {
		return errors.New("STATUS_API_SECRET is not set")
	}
	subject, ttl := "operator", 24*time.Hour
	if len(args) > 0 {
		subject = args[0]
	}
	if len(args) > 1 {
		d, err := time.ParseDuration(args[1])
		if err != nil {
			return fmt.Errorf("parse ttl: %w", err)
		}
		ttl = d
	}
	tok, err := api.IssueToken(subject, secret, ttl)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}

func run(cfg *config.Config, zl *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	zl.Info("starting execution core",
		zap.String("version", version),
		zap.Bool("testnet", cfg.Testnet),
		zap.Strings("symbols", cfg.Symbols()),
		zap.String("exec_tf", cfg.ExecTF.Interval),
		zap.String("decision_backend", cfg.Decision.Backend))

	metrics := monitor.NewMetrics()
	bus := events.NewBus()

	// Tracker persistence
	database, err := db.New(cfg.TrackerDBPath)
	if err != nil {
		return fmt.Errorf("open tracker db: %w", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	queries := database.Queries()

	writer := persistence.NewSnapshotWriter(queries.ReplaceTrackers, 5*time.Second, logger.Component(zl, "persistence"))
	writer.OnFailure(func(error) { metrics.PersistError() })
	defer func() {
		if err := writer.Close(); err != nil {
			zl.Error("final tracker flush failed", zap.Error(err))
		}
	}()

	table := safety.NewTable(writer)
	table.OnChange(metrics.SetTrackerCounts)
	if err := table.Load(ctx, queries); err != nil {
		return err
	}
	zl.Info("trackers restored", zap.Int("count", len(table.Entries())))

	// Exchange
	client := exfutusdt.NewClient(exfutusdt.Config{
		APIKey:     cfg.APIKey,
		APISecret:  cfg.APISecret,
		Testnet:    cfg.Testnet,
		RecvWindow: cfg.RecvWindow,
		Timeout:    cfg.APITimeout,
	}, logger.Component(zl, "exchange"))
	if err := client.TimeSync().Sync(ctx); err != nil {
		zl.Warn("initial time sync failed", zap.Error(err))
	}
	if err := client.LoadMarkets(ctx); err != nil {
		return fmt.Errorf("load markets: %w", err)
	}
	var ratios marketdata.RatioSource = client
	if cfg.Testnet {
		ratios = exfutusdt.NewPublicClient(cfg.APITimeout, logger.Component(zl, "exchange_public"))
	}

	// Notifications
	var notifier notify.Notifier = notify.NewLog(logger.Component(zl, "notify"))
	if cfg.TelegramToken != "" && cfg.TelegramChatID != 0 {
		tg, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID, 100, logger.Component(zl, "telegram"))
		if err != nil {
			zl.Warn("telegram disabled", zap.Error(err))
		} else {
			defer tg.Close()
			notifier = tg
		}
	}

	// Market data
	capacity := make(map[string]int, 3)
	for _, tf := range cfg.Timeframes() {
		if tf.Limit > capacity[tf.Interval] {
			capacity[tf.Interval] = tf.Limit
		}
	}
	store := marketdata.NewStore(capacity, cfg.ExecTF.Limit)

	symbols := cfg.Symbols()
	dataSymbols := withSymbol(symbols, cfg.BTCSymbol)
	timeframes := make([]string, 0, 3)
	specs := make([]marketdata.SeriesSpec, 0, 3)
	for _, tf := range cfg.Timeframes() {
		timeframes = append(timeframes, tf.Interval)
		specs = append(specs, marketdata.SeriesSpec{Timeframe: tf.Interval, Limit: tf.Limit})
	}

	refresher := marketdata.NewRefresher(symbols, cfg.ExecTF.Interval, client, ratios, store,
		cfg.Safety.ConcurrencyLimit, metrics, logger.Component(zl, "refresher"))

	acfg := marketdata.DefaultAnalyzerConfig(cfg.ExecTF.Interval, cfg.TrendTF.Interval, cfg.BTCSymbol)
	acfg.OrderBookRange = cfg.OrderBookRange
	analyzer := marketdata.NewAnalyzer(acfg, store, client, logger.Component(zl, "analyzer"))

	ingestor := marketdata.NewIngestor(marketdata.IngestorConfig{
		Symbols:           dataSymbols,
		Timeframes:        timeframes,
		BTCSymbol:         cfg.BTCSymbol,
		TrendTimeframe:    cfg.TrendTF.Interval,
		BTCEMAPeriod:      cfg.BTCEMAPeriod,
		Testnet:           cfg.Testnet,
		ReconnectDelay:    cfg.WSReconnectDelay,
		KeepAliveInterval: cfg.WSKeepAliveInterval,
		WhaleThreshold:    cfg.WhaleThresholdUSDT,
	}, store, listenKeys(cfg, client), bus, metrics, logger.Component(zl, "ingestor"))

	zl.Info("loading history", zap.Int("symbols", len(dataSymbols)))
	marketdata.Bootstrap(ctx, dataSymbols, specs, client, refresher, store, logger.Component(zl, "bootstrap"))

	// Safety
	positions := state.NewPositionCache()
	safetyMon := safety.NewMonitor(safety.ConfigFrom(cfg.Safety), safety.Deps{
		Exchange:  client,
		Table:     table,
		Positions: positions,
		Cooldowns: safety.NewCooldowns(nil),
		Coins:     cfg.Coins,
		Notifier:  notifier,
		Metrics:   metrics,
		Log:       logger.Component(zl, "safety"),
	})

	// Decisions
	decider, closeDecider, err := newDecider(cfg.Decision, logger.Component(zl, "decision"))
	if err != nil {
		return err
	}
	defer closeDecider()
	limited := decision.NewLimited(decider, cfg.Decision.RatePerMinute, metrics)

	sched := scheduler.New(scheduler.ConfigFrom(cfg), analyzer, safetyMon, limited, notifier, metrics,
		logger.Component(zl, "scheduler"))

	// Background tasks
	sup := supervisor.New(cfg.TaskRestartDelay, logger.Component(zl, "supervisor"))
	sup.Go(ctx, "timesync", client.TimeSync().Run)
	sup.Go(ctx, "ingestor", ingestor.Run)
	sup.Go(ctx, "safety", func(ctx context.Context) error { return safetyMon.Run(ctx, bus) })
	if cfg.Trailing.Enabled {
		ctl := trailing.NewController(trailing.ConfigFrom(cfg.Trailing), table, safetyMon,
			notifier, metrics, logger.Component(zl, "trailing"))
		sup.Go(ctx, "trailing", func(ctx context.Context) error { return ctl.Run(ctx, bus) })
	}
	whales := &monitor.Monitor{
		Bus:         bus,
		AlertFn:     notifier.Notify,
		Log:         logger.Component(zl, "whale"),
		MinInterval: 5 * time.Minute,
	}
	sup.Go(ctx, "whales", whales.Run)
	sup.Go(ctx, "refresh", func(ctx context.Context) error {
		return scheduler.RunAligned(ctx, "refresh", cfg.RefreshInterval, func(ctx context.Context) error {
			refresher.Refresh(ctx)
			return nil
		}, logger.Component(zl, "refresh"))
	})
	sup.Go(ctx, "scheduler", sched.Run)

	if cfg.EnableStatusAPI {
		srv := api.NewServer(api.Deps{
			Bus:       bus,
			Trackers:  table,
			Positions: positions,
			Cooldowns: safetyMon.Cooldowns(),
			Metrics:   metrics,
			Log:       logger.Component(zl, "api"),
		}, api.SystemMeta{
			Testnet:  cfg.Testnet,
			Symbols:  symbols,
			ExecTF:   cfg.ExecTF.Interval,
			Decision: cfg.Decision.Backend,
			Version:  version,
		}, cfg.StatusAPISecret)
		sup.Go(ctx, "status_api", func(ctx context.Context) error { return srv.Serve(ctx, cfg.StatusAddr) })
	}

	notifier.Notify(ctx, fmt.Sprintf("🚀 execution core started (%d symbols, %s)", len(symbols), cfg.ExecTF.Interval))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	zl.Info("shutting down", zap.String("signal", sig.String()))

	cancel()
	sup.Wait()
	return nil
}

// newDecider builds the configured decision backend.
func newDecider(cfg config.Decision, log *zap.Logger) (decision.Client, func(), error) {
	switch cfg.Backend {
	case "grpc":
		c, err := decision.NewGRPCClient(cfg.GRPCAddr, cfg.Timeout)
		if err != nil {
			return nil, nil, fmt.Errorf("decision grpc client: %w", err)
		}
		return c, func() { _ = c.Close() }, nil
	case "none":
		return decision.Nop{}, func() {}, nil
	default:
		c := decision.NewChatClient(decision.ChatConfig{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
			AppURL:      cfg.AppURL,
			AppTitle:    cfg.AppTitle,
		}, log)
		return c, func() {}, nil
	}
}

// listenKeys returns nil without credentials so the ingestor runs market
// data only.
func listenKeys(cfg *config.Config, client *exfutusdt.Client) marketdata.ListenKeySource {
	if cfg.APIKey == "" {
		return nil
	}
	return client
}

func withSymbol(symbols []string, extra string) []string {
	out := append([]string(nil), symbols...)
	if extra == "" {
		return out
	}
	for _, s := range out {
		if s == extra {
			return out
		}
	}
	return append(out, extra)
}
