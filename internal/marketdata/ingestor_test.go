package marketdata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"execution-core/internal/events"
)

func newTestIngestor(bus *events.Bus) (*Ingestor, *Store) {
	store := NewStore(nil, 10)
	in := NewIngestor(IngestorConfig{
		Symbols:        []string{"ETH/USDT"},
		Timeframes:     []string{"15m", "1h"},
		BTCSymbol:      "BTC/USDT",
		TrendTimeframe: "1h",
		WhaleThreshold: 100000,
	}, store, nil, bus, nil, nil)
	return in, store
}

func TestStreamsIncludeEverySubscription(t *testing.T) {
	in, _ := newTestIngestor(nil)
	got := in.Streams("abc123")
	want := []string{
		"ethusdt@kline_15m", "ethusdt@kline_1h", "ethusdt@depth20@500ms",
		"ethusdt@aggTrade", "ethusdt@miniTicker", "btcusdt@kline_1h", "abc123",
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("streams=%v want %v", got, want)
	}
	url := in.StreamURL(got)
	if !strings.HasPrefix(url, liveStreamURL) || !strings.HasSuffix(url, "/abc123") {
		t.Fatalf("url=%s", url)
	}
}

func TestHandleKlineUpsertsStore(t *testing.T) {
	in, store := newTestIngestor(nil)
	frame := `{"stream":"ethusdt@kline_15m","data":{"e":"kline","E":1700000000100,"s":"ETHUSDT",` +
		`"k":{"t":1700000000000,"T":1700000899999,"s":"ETHUSDT","i":"15m","o":"2000.1","c":"2010.5","h":"2012","l":"1999","v":"150.5","x":false}}}`
	if err := in.Handle(context.Background(), []byte(frame)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	got := store.Snapshot(SeriesKey{"ETH/USDT", "15m"})
	if len(got) != 1 {
		t.Fatalf("len=%d want 1", len(got))
	}
	if got[0].Timestamp != 1700000000000 || got[0].Close != 2010.5 || got[0].High != 2012 {
		t.Fatalf("bar=%+v", got[0])
	}
}

func TestHandleDepthReplacesBook(t *testing.T) {
	in, store := newTestIngestor(nil)
	frame := `{"stream":"ethusdt@depth20@500ms","data":{"e":"depthUpdate","E":1700000000000,"T":1700000000000,"s":"ETHUSDT",` +
		`"b":[["2000.0","1.5"],["1999.5","2"]],"a":[["2000.5","1"]]}}`
	if err := in.Handle(context.Background(), []byte(frame)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	book, ok := store.OrderBook("ETH/USDT")
	if !ok {
		t.Fatal("book missing")
	}
	if len(book.Bids) != 2 || book.Bids[0].Price != 2000 || book.Asks[0].Qty != 1 {
		t.Fatalf("book=%+v", book)
	}
}

func TestHandleWhaleAndTickPublish(t *testing.T) {
	bus := events.NewBus()
	whales, unsubW := bus.Subscribe(events.EventWhaleTrade, 4)
	defer unsubW()
	ticks, unsubT := bus.Subscribe(events.EventPriceTick, 4)
	defer unsubT()
	in, store := newTestIngestor(bus)

	small := `{"stream":"ethusdt@aggTrade","data":{"e":"aggTrade","E":1,"s":"ETHUSDT","p":"2000","q":"1","T":1,"m":false}}`
	big := `{"stream":"ethusdt@aggTrade","data":{"e":"aggTrade","E":2,"s":"ETHUSDT","p":"2000","q":"100","T":2,"m":true}}`
	tick := `{"stream":"ethusdt@miniTicker","data":{"e":"24hrMiniTicker","E":3,"s":"ETHUSDT","c":"2001.25"}}`
	for _, f := range []string{small, big, tick} {
		if err := in.Handle(context.Background(), []byte(f)); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}

	select {
	case p := <-whales:
		w := p.(events.WhaleTrade)
		if w.Side != "SELL" || w.Notional != 200000 {
			t.Fatalf("whale=%+v", w)
		}
	case <-time.After(time.Second):
		t.Fatal("no whale published")
	}
	if len(whales) != 0 {
		t.Fatal("small trade published as whale")
	}

	select {
	case p := <-ticks:
		if p.(events.Tick).Price != 2001.25 {
			t.Fatalf("tick=%+v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("no tick published")
	}
	if tk, ok := store.Ticker("ETH/USDT"); !ok || tk.Price != 2001.25 {
		t.Fatalf("ticker=%+v ok=%v", tk, ok)
	}
}

func TestHandleOrderUpdateDeliversExactKeys(t *testing.T) {
	bus := events.NewBus()
	orders, unsub := bus.Subscribe(events.EventOrderUpdate, 1)
	defer unsub()
	in, _ := newTestIngestor(bus)

	frame := `{"stream":"key","data":{"e":"ORDER_TRADE_UPDATE","E":1700000000500,"T":1700000000499,"o":{` +
		`"s":"ETHUSDT","c":"entry-1","S":"BUY","o":"LIMIT","x":"TRADE","X":"FILLED","i":8886774,` +
		`"ap":"2000.5","AP":"0","sp":"0","q":"0.5","z":"0.5","l":"0.5","L":"2000.5","rp":"0","T":1700000000499,"t":12}}}`
	if err := in.Handle(context.Background(), []byte(frame)); err != nil {
		t.Fatalf("handle: %v", err)
	}
	upd := (<-orders).(events.OrderUpdate)
	if upd.Symbol != "ETH/USDT" || upd.Status != "FILLED" || upd.ExecType != "TRADE" {
		t.Fatalf("update=%+v", upd)
	}
	if upd.OrderID != "8886774" || upd.AvgPrice != 2000.5 || upd.FilledQty != 0.5 {
		t.Fatalf("update=%+v", upd)
	}
}

func TestHandleListenKeyExpiredEndsSession(t *testing.T) {
	in, _ := newTestIngestor(nil)
	frame := `{"stream":"key","data":{"e":"listenKeyExpired","E":1}}`
	if err := in.Handle(context.Background(), []byte(frame)); !errors.Is(err, errSessionExpired) {
		t.Fatalf("err=%v want session expired", err)
	}
}

func TestHandleSkipsMalformedFrames(t *testing.T) {
	in, _ := newTestIngestor(nil)
	for _, f := range []string{`not json`, `{"stream":"x","data":{"e":"kline","k":"bad"}}`} {
		if err := in.Handle(context.Background(), []byte(f)); err != nil {
			t.Fatalf("frame %q: err=%v", f, err)
		}
	}
}

type fakeListenKeys struct {
	mu         sync.Mutex
	created    int
	keepAlives map[string]int
}

func (f *fakeListenKeys) CreateListenKey(ctx context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	return fmt.Sprintf("key-%d", f.created), nil
}

func (f *fakeListenKeys) KeepAliveListenKey(ctx context.Context, listenKey string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keepAlives[listenKey]++
	return nil
}

func (f *fakeListenKeys) renewals(listenKey string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.keepAlives[listenKey]
}

// streamServer accepts websocket sessions, drops the first one right away
// and holds later ones open until the client leaves.
type streamServer struct {
	mu    sync.Mutex
	dials []string
}

func (s *streamServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.mu.Lock()
	s.dials = append(s.dials, r.URL.Query().Get("streams"))
	first := len(s.dials) == 1
	s.mu.Unlock()
	if first {
		return
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *streamServer) dialed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.dials...)
}

func TestRunReconnectsWithFreshListenKey(t *testing.T) {
	server := &streamServer{}
	srv := httptest.NewServer(server)
	defer srv.Close()

	keys := &fakeListenKeys{keepAlives: map[string]int{}}
	in := NewIngestor(IngestorConfig{
		Symbols:           []string{"ETH/USDT"},
		Timeframes:        []string{"15m"},
		URL:               "ws://" + srv.Listener.Addr().String() + "/stream?streams=",
		ReconnectDelay:    10 * time.Millisecond,
		KeepAliveInterval: 20 * time.Millisecond,
	}, NewStore(nil, 10), keys, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- in.Run(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for len(server.dialed()) < 2 || keys.renewals("key-2") < 2 {
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("dials=%v renewals=%d", server.dialed(), keys.renewals("key-2"))
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("run err=%v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}

	dials := server.dialed()
	if len(dials) != 2 {
		t.Fatalf("dials=%v", dials)
	}
	for i, key := range []string{"key-1", "key-2"} {
		if want := strings.Join(in.Streams(key), "/"); dials[i] != want {
			t.Fatalf("dial %d streams=%q want %q", i, dials[i], want)
		}
	}
}
