package marketdata

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"execution-core/internal/monitor"
	"execution-core/internal/supervisor"
	"execution-core/pkg/exchanges/common"
)

// SlowDataSource serves the derivatives endpoints that have no stream.
type SlowDataSource interface {
	FundingRates(ctx context.Context) (map[string]float64, error)
	OpenInterest(ctx context.Context, symbol string) (float64, error)
}

// RatioSource serves the long/short account ratio. On the testnet this is
// a separate public client against the live host.
type RatioSource interface {
	LongShortRatio(ctx context.Context, symbol, period string) (common.LongShortRatio, error)
}

// Refresher pulls funding, open interest and long/short ratio on a timer.
type Refresher struct {
	symbols []string
	period  string
	src     SlowDataSource
	ratios  RatioSource
	store   *Store
	sem     *semaphore.Weighted
	metrics *monitor.Metrics
	log     *zap.Logger
}

// NewRefresher builds a refresher bounded to limit concurrent requests.
// period is the ratio sampling period (the execution timeframe).
func NewRefresher(symbols []string, period string, src SlowDataSource, ratios RatioSource, store *Store, limit int, metrics *monitor.Metrics, log *zap.Logger) *Refresher {
	if log == nil {
		log = zap.NewNop()
	}
	if limit <= 0 {
		limit = 1
	}
	return &Refresher{
		symbols: symbols,
		period:  period,
		src:     src,
		ratios:  ratios,
		store:   store,
		sem:     semaphore.NewWeighted(int64(limit)),
		metrics: metrics,
		log:     log,
	}
}

// Refresh runs one cycle: one bulk funding call, then per-symbol open
// interest and ratio fetches. A failing symbol never affects the others.
func (r *Refresher) Refresh(ctx context.Context) {
	r.refreshFunding(ctx)

	var wg sync.WaitGroup
	for _, sym := range r.symbols {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			defer r.sem.Release(1)
			err := supervisor.Catch(func() error {
				r.refreshSymbol(ctx, symbol)
				return nil
			})
			if err != nil {
				r.metrics.RefreshFailure("panic")
				r.log.Error("symbol refresh panicked", zap.String("symbol", symbol), zap.Error(err))
			}
		}(sym)
	}
	wg.Wait()
}

func (r *Refresher) refreshFunding(ctx context.Context) {
	all, err := r.src.FundingRates(ctx)
	if err != nil {
		r.metrics.RefreshFailure("funding")
		r.log.Warn("bulk funding refresh failed", zap.Error(err))
		return
	}
	tracked := make(map[string]float64, len(r.symbols))
	for _, sym := range r.symbols {
		if rate, ok := all[sym]; ok {
			tracked[sym] = rate
		}
	}
	r.store.SetFundingRates(tracked)
}

func (r *Refresher) refreshSymbol(ctx context.Context, symbol string) {
	var wg sync.WaitGroup
	defer wg.Wait()
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := supervisor.Catch(func() error {
			oi, err := r.src.OpenInterest(ctx, symbol)
			if err != nil {
				return err
			}
			r.store.SetOpenInterest(symbol, oi)
			return nil
		})
		if err != nil {
			r.metrics.RefreshFailure("oi")
			r.log.Debug("open interest refresh failed", zap.String("symbol", symbol), zap.Error(err))
		}
	}()

	if r.ratios != nil {
		lsr, err := r.ratios.LongShortRatio(ctx, symbol, r.period)
		if err != nil {
			r.metrics.RefreshFailure("lsr")
			r.log.Debug("long/short ratio refresh failed", zap.String("symbol", symbol), zap.Error(err))
		} else {
			r.store.SetLongShortRatio(symbol, lsr)
		}
	}
}
