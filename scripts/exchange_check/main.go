package main

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"execution-core/pkg/config"
	exfutusdt "execution-core/pkg/exchanges/binance/futures_usdt"
	"execution-core/pkg/logger"
)

// exchange_check exercises every read-only REST call the engine depends on
// against the configured USDT-M futures account.
//
// Usage:
//
//	go run ./scripts/exchange_check
//
// CHECK_SYMBOL (default BTC/USDT) selects the symbol to query. Signed calls
// are skipped when BINANCE_API_KEY is empty. No orders are placed.
func main() {
	log, err := logger.New("exchange-check", "info", "console")
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}
	symbol := os.Getenv("CHECK_SYMBOL")
	if symbol == "" {
		symbol = "BTC/USDT"
	}

	c := exfutusdt.NewClient(exfutusdt.Config{
		APIKey:     cfg.APIKey,
		APISecret:  cfg.APISecret,
		Testnet:    cfg.Testnet,
		RecvWindow: cfg.RecvWindow,
		Timeout:    cfg.APITimeout,
	}, log)
	log.Info("checking exchange", zap.Bool("testnet", cfg.Testnet), zap.String("symbol", symbol))

	step(log, "time sync", func(ctx context.Context) error {
		if err := c.TimeSync().Sync(ctx); err != nil {
			return err
		}
		log.Info("clock offset", zap.Int64("ms", c.TimeSync().Offset()))
		return nil
	})
	step(log, "load markets", func(ctx context.Context) error {
		if err := c.LoadMarkets(ctx); err != nil {
			return err
		}
		f, ok := c.Filters(symbol)
		log.Info("filters", zap.Bool("found", ok), zap.Float64("tick", f.TickSize), zap.Float64("step", f.StepSize),
			zap.Float64("min_qty", f.MinQty))
		return nil
	})
	step(log, "ticker", func(ctx context.Context) error {
		p, err := c.TickerPrice(ctx, symbol)
		if err != nil {
			return err
		}
		log.Info("last price", zap.Float64("price", p), zap.String("formatted", c.PriceString(symbol, p)))
		return nil
	})
	step(log, "klines", func(ctx context.Context) error {
		ks, err := c.Klines(ctx, symbol, cfg.ExecTF.Interval, 5)
		if err != nil {
			return err
		}
		log.Info("klines", zap.Int("count", len(ks)))
		return nil
	})
	step(log, "order book", func(ctx context.Context) error {
		ob, err := c.OrderBook(ctx, symbol, 20)
		if err != nil {
			return err
		}
		log.Info("order book", zap.Int("bids", len(ob.Bids)), zap.Int("asks", len(ob.Asks)))
		return nil
	})
	step(log, "funding", func(ctx context.Context) error {
		rates, err := c.FundingRates(ctx)
		if err != nil {
			return err
		}
		log.Info("funding", zap.Int("symbols", len(rates)), zap.Float64("rate", rates[symbol]))
		return nil
	})
	step(log, "open interest", func(ctx context.Context) error {
		oi, err := c.OpenInterest(ctx, symbol)
		if err != nil {
			return err
		}
		log.Info("open interest", zap.Float64("oi", oi))
		return nil
	})
	step(log, "long/short ratio", func(ctx context.Context) error {
		ratios := c
		if cfg.Testnet {
			ratios = exfutusdt.NewPublicClient(cfg.APITimeout, log)
		}
		lsr, err := ratios.LongShortRatio(ctx, symbol, cfg.ExecTF.Interval)
		if err != nil {
			return err
		}
		log.Info("long/short", zap.Float64("ratio", lsr.Ratio), zap.Float64("long_pct", lsr.LongPct))
		return nil
	})

	if cfg.APIKey == "" {
		log.Warn("BINANCE_API_KEY empty, skipping signed checks")
		return
	}
	step(log, "positions", func(ctx context.Context) error {
		ps, err := c.GetPositions(ctx)
		if err != nil {
			return err
		}
		for _, p := range ps {
			log.Info("position", zap.String("symbol", p.Symbol), zap.String("side", string(p.Side)),
				zap.Float64("contracts", p.Contracts), zap.Float64("entry", p.EntryPrice))
		}
		return nil
	})
	step(log, "open orders", func(ctx context.Context) error {
		orders, err := c.GetOpenOrders(ctx, symbol)
		if err != nil {
			return err
		}
		for _, o := range orders {
			log.Info("open order", zap.String("id", o.ID), zap.String("type", string(o.Type)),
				zap.Float64("price", o.Price), zap.Float64("stop", o.StopPrice))
		}
		return nil
	})
	step(log, "listen key", func(ctx context.Context) error {
		key, err := c.CreateListenKey(ctx)
		if err != nil {
			return err
		}
		return c.KeepAliveListenKey(ctx, key)
	})
}

func step(log *zap.Logger, name string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	start := time.Now()
	if err := fn(ctx); err != nil {
		log.Error("check failed", zap.String("check", name), zap.Error(err))
		return
	}
	log.Info("check ok", zap.String("check", name), zap.Duration("took", time.Since(start)))
}
