package marketdata

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"execution-core/pkg/exchanges/common"
)

// HistorySource serves REST candles.
type HistorySource interface {
	Klines(ctx context.Context, symbol, interval string, limit int) ([]common.Kline, error)
}

// SeriesSpec is one timeframe to seed with its depth.
type SeriesSpec struct {
	Timeframe string
	Limit     int
}

// Bootstrap seeds every (symbol, timeframe) series from REST and takes the
// first derivatives sample. Failures are per symbol and only logged.
func Bootstrap(ctx context.Context, symbols []string, specs []SeriesSpec, history HistorySource, refresher *Refresher, store *Store, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	var wg sync.WaitGroup
	for _, sym := range symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			for _, spec := range specs {
				ks, err := history.Klines(ctx, symbol, spec.Timeframe, spec.Limit)
				if err != nil {
					log.Error("history load failed", zap.String("symbol", symbol), zap.String("timeframe", spec.Timeframe), zap.Error(err))
					return
				}
				bars := make([]Bar, len(ks))
				for i, k := range ks {
					bars[i] = BarFromKline(k)
				}
				store.Seed(SeriesKey{Symbol: symbol, Timeframe: spec.Timeframe}, bars)
			}
			log.Info("history loaded", zap.String("symbol", symbol))
		}(sym)
	}
	wg.Wait()

	if refresher != nil {
		refresher.Refresh(ctx)
	}
}
