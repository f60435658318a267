package safety

import (
	"context"
	"errors"
	"testing"
	"time"

	"execution-core/pkg/exchanges/common"
)

func TestExecuteEntryLimitWritesWaitingEntry(t *testing.T) {
	ex := newFakeExchange()
	m, _ := newTestMonitor(ex, &fakeClock{t: t0})
	err := m.ExecuteEntry(context.Background(), EntryRequest{
		Symbol: "ETH/USDT", Side: common.SideBuy, Mode: "limit", Price: 2000,
		AmountUSDT: 20, Leverage: 10, Strategy: "pullback", ATR: 15, DecisionTP: 2100, DecisionSL: 1950,
	})
	if err != nil {
		t.Fatalf("entry: %v", err)
	}
	e, ok := m.table.Get("ETH/USDT")
	if !ok || e.Status != StatusWaitingEntry || e.EntryOrderID != "1" {
		t.Fatalf("entry=%+v", e)
	}
	if !e.ExpiresAt.Equal(t0.Add(7200 * time.Second)) {
		t.Fatalf("expires=%v", e.ExpiresAt)
	}
	orders := ex.ordersOfType(common.OrderTypeLimit)
	if len(orders) != 1 || orders[0].Qty != 0.1 || orders[0].Price != 2000 {
		t.Fatalf("orders=%+v", orders)
	}
}

func TestExecuteEntryMarket(t *testing.T) {
	t.Run("success leaves PENDING", func(t *testing.T) {
		ex := newFakeExchange()
		m, _ := newTestMonitor(ex, &fakeClock{t: t0})
		err := m.ExecuteEntry(context.Background(), EntryRequest{
			Symbol: "BTC/USDT", Side: common.SideSell, Mode: ModeMarket, AmountUSDT: 20, Leverage: 5, ATR: 300,
		})
		if err != nil {
			t.Fatal(err)
		}
		if e, _ := m.table.Get("BTC/USDT"); e.Status != StatusPending || e.ATR != 300 {
			t.Fatalf("entry=%+v", e)
		}
	})

	t.Run("failure rolls back", func(t *testing.T) {
		ex := newFakeExchange()
		ex.failTypes[common.OrderTypeMarket] = 1
		m, n := newTestMonitor(ex, &fakeClock{t: t0})
		err := m.ExecuteEntry(context.Background(), EntryRequest{
			Symbol: "BTC/USDT", Side: common.SideBuy, Mode: ModeMarket, AmountUSDT: 20, Leverage: 5,
		})
		if err == nil {
			t.Fatal("expected error")
		}
		if _, ok := m.table.Get("BTC/USDT"); ok {
			t.Fatal("pending entry left behind")
		}
		if len(n.msgs) != 1 {
			t.Fatalf("notifications=%v", n.msgs)
		}
	})
}

func TestExecuteEntryGuards(t *testing.T) {
	ex := newFakeExchange()
	m, _ := newTestMonitor(ex, &fakeClock{t: t0})
	m.cooldowns.Set("SOL/USDT", time.Minute)
	m.table.Put(NewPending("ETH/USDT", "s", 0, t0))

	tests := []struct {
		name string
		req  EntryRequest
		want error
	}{
		{"cooldown", EntryRequest{Symbol: "SOL/USDT", Side: common.SideBuy, Mode: ModeMarket, AmountUSDT: 1, Leverage: 1}, ErrCooldown},
		{"active", EntryRequest{Symbol: "ETH/USDT", Side: common.SideBuy, Mode: ModeMarket, AmountUSDT: 1, Leverage: 1}, ErrActiveTrade},
		{"bad mode", EntryRequest{Symbol: "XRP/USDT", Side: common.SideBuy, Mode: "STOP", AmountUSDT: 1, Leverage: 1}, ErrBadEntry},
		{"bad side", EntryRequest{Symbol: "XRP/USDT", Side: "HOLD", Mode: ModeMarket, AmountUSDT: 1, Leverage: 1}, ErrBadEntry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := m.ExecuteEntry(context.Background(), tt.req); !errors.Is(err, tt.want) {
				t.Fatalf("err=%v want %v", err, tt.want)
			}
		})
	}
	if len(ex.submitted) != 0 {
		t.Fatalf("orders placed: %+v", ex.submitted)
	}
}
