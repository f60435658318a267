package main

import (
	"context"
	"path/filepath"
	"reflect"
	"strconv"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"execution-core/internal/monitor"
	"execution-core/internal/persistence"
	"execution-core/internal/safety"
	"execution-core/internal/state"
	"execution-core/pkg/config"
	"execution-core/pkg/db"
	"execution-core/pkg/exchanges/common"
)

// venue fills every market order immediately at a fixed price.
type venue struct {
	mu        sync.Mutex
	price     float64
	positions []common.Position
	orders    []common.OrderRequest
}

func (v *venue) SubmitOrder(_ context.Context, req common.OrderRequest) (common.OrderResult, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.orders = append(v.orders, req)
	if req.Type == common.OrderTypeMarket {
		side := common.Long
		if req.Side == common.SideSell {
			side = common.Short
		}
		v.positions = append(v.positions, common.Position{Symbol: req.Symbol, Side: side, Contracts: req.Qty, EntryPrice: v.price})
	}
	return common.OrderResult{ExchangeOrderID: strconv.Itoa(len(v.orders)), Status: common.StatusNew}, nil
}

func (v *venue) CancelOrder(context.Context, string, string) error { return nil }

func (v *venue) CancelAllOpenOrders(context.Context, string) error { return nil }

func (v *venue) GetOpenOrders(context.Context, string) ([]common.OpenOrder, error) { return nil, nil }

func (v *venue) GetPositions(context.Context) ([]common.Position, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]common.Position(nil), v.positions...), nil
}

func (v *venue) SetLeverage(context.Context, string, int) error { return nil }

func (v *venue) SetMarginType(context.Context, string, string) error { return nil }

func (v *venue) TickerPrice(context.Context, string) (float64, error) { return v.price, nil }

func (v *venue) ordersOfType(t common.OrderType) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for _, o := range v.orders {
		if o.Type == t {
			n++
		}
	}
	return n
}

func TestEntryIsProtectedAndSurvivesRestart(t *testing.T) {
	ctx := context.Background()

	database, err := db.New(filepath.Join(t.TempDir(), "trackers.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	queries := database.Queries()

	metrics := monitor.NewMetrics()
	writer := persistence.NewSnapshotWriter(queries.ReplaceTrackers, time.Second, zap.NewNop())
	writer.OnFailure(func(error) { metrics.PersistError() })
	table := safety.NewTable(writer)
	table.OnChange(metrics.SetTrackerCounts)

	ex := &venue{price: 100}
	coins := []config.Coin{{Symbol: "ETH/USDT", Category: "L1", Leverage: 10, Amount: 20}}
	mon := safety.NewMonitor(safety.Config{
		StopATRMultiplier:   2,
		TargetATRMultiplier: 3,
		FallbackSLPercent:   0.015,
		FallbackTPPercent:   0.025,
		Retries:             2,
		RetryDelay:          time.Millisecond,
		Interval:            time.Hour,
		LimitExpiry:         time.Hour,
		ConcurrencyLimit:    2,
	}, safety.Deps{
		Exchange:  ex,
		Table:     table,
		Positions: state.NewPositionCache(),
		Coins:     coins,
		Metrics:   metrics,
		Log:       zap.NewNop(),
	})

	err = mon.ExecuteEntry(ctx, safety.EntryRequest{
		Symbol:     "ETH/USDT",
		Side:       common.SideBuy,
		Mode:       "MARKET",
		AmountUSDT: 20,
		Leverage:   10,
		Strategy:   "TREND",
		ATR:        1.5,
	})
	if err != nil {
		t.Fatalf("entry: %v", err)
	}
	if got := table.Status("ETH/USDT"); got != safety.StatusPending {
		t.Fatalf("status after entry=%s", got)
	}
	if !mon.HasActiveOrPendingTrade("ETH/USDT") {
		t.Fatal("pending entry must block a second entry")
	}

	mon.Reconcile(ctx)
	if got := table.Status("ETH/USDT"); got != safety.StatusSecured {
		t.Fatalf("status after reconcile=%s", got)
	}
	if ex.ordersOfType(common.OrderTypeStopMarket) != 1 || ex.ordersOfType(common.OrderTypeTakeProfitMarket) != 1 {
		t.Fatalf("protective orders=%+v", ex.orders)
	}
	if n := mon.OpenPositionsInCategory("L1"); n != 1 {
		t.Fatalf("L1 positions=%d", n)
	}

	// A second poll must not place another pair.
	mon.Reconcile(ctx)
	if ex.ordersOfType(common.OrderTypeStopMarket) != 1 {
		t.Fatal("secured symbol was protected twice")
	}

	// Close drains the background writer so the last snapshot is on disk.
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	if w := writer.GetMetrics(); w.Errors != 0 {
		t.Fatalf("persist errors=%d", w.Errors)
	}

	restored := safety.NewTable(nil)
	if err := restored.Load(ctx, queries); err != nil {
		t.Fatalf("load: %v", err)
	}
	e, ok := restored.Get("ETH/USDT")
	if !ok {
		t.Fatal("tracker lost across restart")
	}
	if e.Status != safety.StatusSecured || e.SLPrice != 97 || e.TPPrice != 104.5 || e.Strategy != "TREND" {
		t.Fatalf("restored=%+v", e)
	}
}

func TestWithSymbol(t *testing.T) {
	tests := []struct {
		name  string
		in    []string
		extra string
		want  []string
	}{
		{"appends", []string{"ETH/USDT"}, "BTC/USDT", []string{"ETH/USDT", "BTC/USDT"}},
		{"already present", []string{"BTC/USDT", "ETH/USDT"}, "BTC/USDT", []string{"BTC/USDT", "ETH/USDT"}},
		{"empty extra", []string{"ETH/USDT"}, "", []string{"ETH/USDT"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := append([]string(nil), tt.in...)
			got := withSymbol(in, tt.extra)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("got %v want %v", got, tt.want)
			}
			if !reflect.DeepEqual(in, tt.in) {
				t.Fatalf("input mutated: %v", in)
			}
		})
	}
}
