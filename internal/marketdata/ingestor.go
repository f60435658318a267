package marketdata

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"execution-core/internal/events"
	"execution-core/internal/monitor"
	"execution-core/internal/supervisor"
	"execution-core/pkg/exchanges/common"
)

const (
	liveStreamURL    = "wss://fstream.binance.com/stream?streams="
	testnetStreamURL = "wss://stream.binancefuture.com/stream?streams="

	// Binance pings every 3 minutes; a silent socket past this is dead.
	readTimeout = 10 * time.Minute
)

// ListenKeySource creates and renews the user data stream session.
type ListenKeySource interface {
	CreateListenKey(ctx context.Context) (string, error)
	KeepAliveListenKey(ctx context.Context, listenKey string) error
}

// IngestorConfig selects the streams of one session.
type IngestorConfig struct {
	Symbols        []string // unified symbols
	Timeframes     []string
	BTCSymbol      string
	TrendTimeframe string
	BTCEMAPeriod   int

	Testnet           bool
	URL               string // overrides the Testnet switch when set
	ReconnectDelay    time.Duration
	KeepAliveInterval time.Duration
	WhaleThreshold    float64
}

// Ingestor owns the single multiplexed websocket session of the process.
type Ingestor struct {
	cfg     IngestorConfig
	store   *Store
	keys    ListenKeySource
	bus     *events.Bus
	metrics *monitor.Metrics
	log     *zap.Logger
	dialer  *websocket.Dialer
	now     func() time.Time
}

// NewIngestor wires an ingestor. keys may be nil to run without the user
// data stream (market data only).
func NewIngestor(cfg IngestorConfig, store *Store, keys ListenKeySource, bus *events.Bus, metrics *monitor.Metrics, log *zap.Logger) *Ingestor {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.KeepAliveInterval <= 0 {
		cfg.KeepAliveInterval = 30 * time.Minute
	}
	if cfg.BTCEMAPeriod <= 0 {
		cfg.BTCEMAPeriod = 50
	}
	return &Ingestor{
		cfg:     cfg,
		store:   store,
		keys:    keys,
		bus:     bus,
		metrics: metrics,
		log:     log,
		dialer:  websocket.DefaultDialer,
		now:     time.Now,
	}
}

// Streams returns the stream names for one session. listenKey may be empty.
func (in *Ingestor) Streams(listenKey string) []string {
	var streams []string
	for _, sym := range in.cfg.Symbols {
		id := common.StreamName(sym)
		for _, tf := range in.cfg.Timeframes {
			streams = append(streams, id+"@kline_"+tf)
		}
		streams = append(streams, id+"@depth20@500ms", id+"@aggTrade", id+"@miniTicker")
	}
	if in.cfg.BTCSymbol != "" && in.cfg.TrendTimeframe != "" {
		btc := common.StreamName(in.cfg.BTCSymbol) + "@kline_" + in.cfg.TrendTimeframe
		if !contains(streams, btc) {
			streams = append(streams, btc)
		}
	}
	if listenKey != "" {
		streams = append(streams, listenKey)
	}
	return streams
}

// StreamURL builds the combined-stream URL.
func (in *Ingestor) StreamURL(streams []string) string {
	base := liveStreamURL
	if in.cfg.Testnet {
		base = testnetStreamURL
	}
	if in.cfg.URL != "" {
		base = in.cfg.URL
	}
	return base + strings.Join(streams, "/")
}

// Run keeps a session alive until ctx is done. Every session failure is
// followed by a fixed delay and a full reconnect and resubscribe.
func (in *Ingestor) Run(ctx context.Context) error {
	delay := backoff.NewConstantBackOff(in.cfg.ReconnectDelay)
	for {
		err := in.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		in.metrics.StreamReconnect()
		in.log.Warn("stream session ended, reconnecting", zap.Error(err), zap.Duration("delay", in.cfg.ReconnectDelay))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay.NextBackOff()):
		}
	}
}

func (in *Ingestor) session(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var listenKey string
	if in.keys != nil {
		key, err := in.keys.CreateListenKey(ctx)
		if err != nil {
			return fmt.Errorf("create listen key: %w", err)
		}
		listenKey = key
		go func() {
			err := supervisor.Catch(func() error {
				in.keepAlive(ctx, listenKey)
				return nil
			})
			if err != nil {
				in.log.Error("listen key keepalive crashed, ending session", zap.Error(err))
				cancel()
			}
		}()
	}

	streams := in.Streams(listenKey)
	conn, _, err := in.dialer.DialContext(ctx, in.StreamURL(streams), nil)
	if err != nil {
		return fmt.Errorf("dial stream: %w", err)
	}
	defer conn.Close()
	in.log.Info("stream connected", zap.Int("streams", len(streams)), zap.Bool("user_stream", listenKey != ""))

	_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	// Unblock ReadMessage on shutdown.
	go func() {
		<-ctx.Done()
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read stream: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
		if err := in.Handle(ctx, msg); err != nil {
			return err
		}
	}
}

func (in *Ingestor) keepAlive(ctx context.Context, listenKey string) {
	ticker := time.NewTicker(in.cfg.KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := in.keys.KeepAliveListenKey(ctx, listenKey); err != nil {
				in.log.Warn("listen key keepalive failed", zap.Error(err))
				continue
			}
			in.log.Debug("listen key renewed")
		}
	}
}

// Handle decodes one frame and routes it. Decode failures of a single
// frame are logged and skipped; an expired session is returned as an error.
func (in *Ingestor) Handle(ctx context.Context, msg []byte) error {
	event, data, err := decodeEnvelope(msg)
	if err != nil {
		in.log.Warn("stream decode failed", zap.Error(err))
		return nil
	}
	in.metrics.StreamMessage(event)

	switch event {
	case eventKline:
		symbol, interval, b, err := decodeKline(data)
		if err != nil {
			in.log.Warn("stream decode failed", zap.String("event", event), zap.Error(err))
			return nil
		}
		in.store.Upsert(SeriesKey{Symbol: symbol, Timeframe: interval}, b)
		if symbol == in.cfg.BTCSymbol && interval == in.cfg.TrendTimeframe {
			in.updateBTCTrend()
		}

	case eventDepth:
		book, eventTime, err := decodeDepth(data)
		if err != nil {
			in.log.Warn("stream decode failed", zap.String("event", event), zap.Error(err))
			return nil
		}
		book.ObservedAt = time.UnixMilli(eventTime)
		if eventTime == 0 {
			book.ObservedAt = in.now()
		}
		in.store.SetOrderBook(book)

	case eventAggTrade:
		trade, err := decodeAggTrade(data)
		if err != nil {
			in.log.Warn("stream decode failed", zap.String("event", event), zap.Error(err))
			return nil
		}
		if in.cfg.WhaleThreshold > 0 && trade.Notional >= in.cfg.WhaleThreshold && in.bus != nil {
			in.bus.Publish(events.EventWhaleTrade, trade)
		}

	case eventMiniTicker:
		tick, err := decodeMiniTicker(data)
		if err != nil {
			in.log.Warn("stream decode failed", zap.String("event", event), zap.Error(err))
			return nil
		}
		in.store.SetTicker(tick.Symbol, tick.Price, in.now())
		if in.bus != nil {
			in.bus.Publish(events.EventPriceTick, tick)
		}

	case eventOrderTradeUpdate:
		upd, err := decodeOrderUpdate(data)
		if err != nil {
			in.log.Warn("stream decode failed", zap.String("event", event), zap.Error(err))
			return nil
		}
		if in.bus != nil {
			return in.bus.Deliver(ctx, events.EventOrderUpdate, upd)
		}

	case eventAccountUpdate:
		upd, err := decodeAccountUpdate(data)
		if err != nil {
			in.log.Warn("stream decode failed", zap.String("event", event), zap.Error(err))
			return nil
		}
		if in.bus != nil {
			return in.bus.Deliver(ctx, events.EventAccountUpdate, upd)
		}

	case eventListenKeyExpired:
		return errSessionExpired
	}
	return nil
}

func (in *Ingestor) updateBTCTrend() {
	bars := in.store.Snapshot(SeriesKey{Symbol: in.cfg.BTCSymbol, Timeframe: in.cfg.TrendTimeframe})
	trend, err := BTCTrend(bars, in.cfg.BTCEMAPeriod)
	if err != nil {
		if !errors.Is(err, ErrInsufficientData) {
			in.log.Warn("btc trend failed", zap.Error(err))
		}
		return
	}
	in.store.SetBTCTrend(trend)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
