package safety

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"execution-core/internal/state"
	"execution-core/pkg/config"
	"execution-core/pkg/exchanges/common"
)

type fakeExchange struct {
	mu         sync.Mutex
	positions  []common.Position
	openOrders map[string][]common.OpenOrder
	submitted  []common.OrderRequest
	cancelled  []string
	cancelAll  []string
	nextID     int
	failTypes  map[common.OrderType]int // remaining failures per type
	posErr     error
	panicOn    string // method name that panics
	price      float64
	delay      time.Duration
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{openOrders: map[string][]common.OpenOrder{}, failTypes: map[common.OrderType]int{}, price: 100}
}

func (f *fakeExchange) SubmitOrder(ctx context.Context, req common.OrderRequest) (common.OrderResult, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if n := f.failTypes[req.Type]; n > 0 {
		f.failTypes[req.Type] = n - 1
		return common.OrderResult{}, errors.New("exchange rejected")
	}
	f.nextID++
	f.submitted = append(f.submitted, req)
	return common.OrderResult{ExchangeOrderID: strconv.Itoa(f.nextID), Status: common.StatusNew}, nil
}

func (f *fakeExchange) CancelOrder(ctx context.Context, symbol, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, symbol+":"+id)
	return nil
}

func (f *fakeExchange) CancelAllOpenOrders(ctx context.Context, symbol string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelAll = append(f.cancelAll, symbol)
	return nil
}

func (f *fakeExchange) GetOpenOrders(ctx context.Context, symbol string) ([]common.OpenOrder, error) {
	if f.panicOn == "GetOpenOrders" {
		panic("unexpected nil in order decode")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]common.OpenOrder(nil), f.openOrders[symbol]...), nil
}

func (f *fakeExchange) GetPositions(ctx context.Context) ([]common.Position, error) {
	if f.panicOn == "GetPositions" {
		panic("unexpected nil in position decode")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.posErr != nil {
		return nil, f.posErr
	}
	return append([]common.Position(nil), f.positions...), nil
}

func (f *fakeExchange) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return nil
}

func (f *fakeExchange) SetMarginType(ctx context.Context, symbol, marginType string) error {
	return nil
}

func (f *fakeExchange) TickerPrice(ctx context.Context, symbol string) (float64, error) {
	return f.price, nil
}

func (f *fakeExchange) ordersOfType(t common.OrderType) []common.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []common.OrderRequest
	for _, o := range f.submitted {
		if o.Type == t {
			out = append(out, o)
		}
	}
	return out
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordingNotifier) Notify(_ context.Context, msg string) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
}

func testConfig() Config {
	return Config{
		StopATRMultiplier:   2.0,
		TargetATRMultiplier: 3.0,
		FallbackSLPercent:   0.015,
		FallbackTPPercent:   0.025,
		Retries:             3,
		RetryDelay:          time.Millisecond,
		Interval:            time.Hour,
		LimitExpiry:         7200 * time.Second,
		MarginType:          "ISOLATED",
		CooldownProfit:      time.Hour,
		CooldownLoss:        2 * time.Hour,
		ConcurrencyLimit:    4,
	}
}

func newTestMonitor(ex *fakeExchange, clock *fakeClock) (*Monitor, *recordingNotifier) {
	n := &recordingNotifier{}
	m := NewMonitor(testConfig(), Deps{
		Exchange:  ex,
		Table:     NewTable(nil),
		Positions: state.NewPositionCache(),
		Coins: []config.Coin{
			{Symbol: "BTC/USDT", Category: "MAJOR", Leverage: 10},
			{Symbol: "ETH/USDT", Category: "MAJOR", Leverage: 10},
			{Symbol: "SOL/USDT", Category: "L1", Leverage: 5},
		},
		Notifier: n,
		Now:      clock.Now,
	})
	return m, n
}
