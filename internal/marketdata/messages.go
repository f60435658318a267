package marketdata

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"

	"execution-core/internal/events"
	"execution-core/pkg/exchanges/common"
)

// Event type tags carried in the "e" field of stream payloads.
const (
	eventKline            = "kline"
	eventDepth            = "depthUpdate"
	eventAggTrade         = "aggTrade"
	eventMiniTicker       = "24hrMiniTicker"
	eventOrderTradeUpdate = "ORDER_TRADE_UPDATE"
	eventAccountUpdate    = "ACCOUNT_UPDATE"
	eventListenKeyExpired = "listenKeyExpired"
)

// errSessionExpired ends the session so the supervisor reconnects with a
// fresh listen key.
var errSessionExpired = errors.New("listen key expired")

type envelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// Binance payloads reuse keys that differ only in case ("t"/"T", "x"/"X").
// Every such key gets an exact-match field below so case-insensitive
// decoding never folds one into the other.

type eventHeader struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
}

type klineMsg struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	K         struct {
		Start       int64  `json:"t"`
		CloseTime   int64  `json:"T"`
		Interval    string `json:"i"`
		FirstID     int64  `json:"f"`
		LastID      int64  `json:"L"`
		Open        string `json:"o"`
		High        string `json:"h"`
		Low         string `json:"l"`
		Close       string `json:"c"`
		Volume      string `json:"v"`
		TakerVolume string `json:"V"`
		QuoteVolume string `json:"q"`
		TakerQuote  string `json:"Q"`
		Trades      int64  `json:"n"`
		Closed      bool   `json:"x"`
	} `json:"k"`
}

type depthMsg struct {
	Event       string      `json:"e"`
	EventTime   int64       `json:"E"`
	TxTime      int64       `json:"T"`
	Symbol      string      `json:"s"`
	FirstUpdate int64       `json:"U"`
	FinalUpdate int64       `json:"u"`
	Bids        [][2]string `json:"b"`
	Asks        [][2]string `json:"a"`
}

type aggTradeMsg struct {
	Event        string `json:"e"`
	EventTime    int64  `json:"E"`
	Symbol       string `json:"s"`
	Price        string `json:"p"`
	Qty          string `json:"q"`
	TradeTime    int64  `json:"T"`
	BuyerIsMaker bool   `json:"m"`
}

type miniTickerMsg struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`
	Close     string `json:"c"`
}

type orderTradeUpdateMsg struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	TxTime    int64  `json:"T"`
	O         struct {
		Symbol          string `json:"s"`
		ClientOrderID   string `json:"c"`
		Side            string `json:"S"`
		OrderType       string `json:"o"`
		Status          string `json:"X"`
		ExecType        string `json:"x"`
		OrderID         int64  `json:"i"`
		AvgPrice        string `json:"ap"`
		ActivationPrice string `json:"AP"`
		StopPrice       string `json:"sp"`
		RealizedPnL     string `json:"rp"`
		FilledQty       string `json:"z"`
		Qty             string `json:"q"`
		LastQty         string `json:"l"`
		LastPrice       string `json:"L"`
		Commission      string `json:"n"`
		CommissionAsset string `json:"N"`
		TradeTime       int64  `json:"T"`
		TradeID         int64  `json:"t"`
	} `json:"o"`
}

type accountUpdateMsg struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	TxTime    int64  `json:"T"`
	A         struct {
		Reason    string `json:"m"`
		Positions []struct {
			Symbol     string `json:"s"`
			Amount     string `json:"pa"`
			EntryPrice string `json:"ep"`
		} `json:"P"`
	} `json:"a"`
}

// decodeEnvelope splits a combined-stream frame into its event type and payload.
func decodeEnvelope(msg []byte) (string, []byte, error) {
	var env envelope
	if err := sonic.Unmarshal(msg, &env); err != nil {
		return "", nil, fmt.Errorf("decode envelope: %w", err)
	}
	data := []byte(env.Data)
	if len(data) == 0 {
		// Raw single-stream frames carry the event at the top level.
		data = msg
	}
	var h eventHeader
	if err := sonic.Unmarshal(data, &h); err != nil {
		return "", nil, fmt.Errorf("decode event header: %w", err)
	}
	return h.Event, data, nil
}

func decodeKline(data []byte) (symbol, interval string, b Bar, err error) {
	var m klineMsg
	if err = sonic.Unmarshal(data, &m); err != nil {
		return "", "", Bar{}, fmt.Errorf("decode kline: %w", err)
	}
	return common.FromExchange(m.Symbol), m.K.Interval, Bar{
		Timestamp: m.K.Start,
		Open:      toFloat(m.K.Open),
		High:      toFloat(m.K.High),
		Low:       toFloat(m.K.Low),
		Close:     toFloat(m.K.Close),
		Volume:    toFloat(m.K.Volume),
	}, nil
}

func decodeDepth(data []byte) (OrderBookSnapshot, int64, error) {
	var m depthMsg
	if err := sonic.Unmarshal(data, &m); err != nil {
		return OrderBookSnapshot{}, 0, fmt.Errorf("decode depth: %w", err)
	}
	return OrderBookSnapshot{
		Symbol: common.FromExchange(m.Symbol),
		Bids:   levels(m.Bids),
		Asks:   levels(m.Asks),
	}, m.EventTime, nil
}

func decodeAggTrade(data []byte) (events.WhaleTrade, error) {
	var m aggTradeMsg
	if err := sonic.Unmarshal(data, &m); err != nil {
		return events.WhaleTrade{}, fmt.Errorf("decode aggTrade: %w", err)
	}
	price, qty := toFloat(m.Price), toFloat(m.Qty)
	side := "BUY"
	if m.BuyerIsMaker {
		side = "SELL"
	}
	return events.WhaleTrade{
		Symbol:    common.FromExchange(m.Symbol),
		Side:      side,
		Price:     price,
		Qty:       qty,
		Notional:  price * qty,
		TradeTime: m.TradeTime,
	}, nil
}

func decodeMiniTicker(data []byte) (events.Tick, error) {
	var m miniTickerMsg
	if err := sonic.Unmarshal(data, &m); err != nil {
		return events.Tick{}, fmt.Errorf("decode miniTicker: %w", err)
	}
	return events.Tick{Symbol: common.FromExchange(m.Symbol), Price: toFloat(m.Close), EventTime: m.EventTime}, nil
}

func decodeOrderUpdate(data []byte) (events.OrderUpdate, error) {
	var m orderTradeUpdateMsg
	if err := sonic.Unmarshal(data, &m); err != nil {
		return events.OrderUpdate{}, fmt.Errorf("decode order update: %w", err)
	}
	o := m.O
	return events.OrderUpdate{
		Symbol:        common.FromExchange(o.Symbol),
		ClientOrderID: o.ClientOrderID,
		OrderID:       strconv.FormatInt(o.OrderID, 10),
		Side:          strings.ToUpper(o.Side),
		OrderType:     strings.ToUpper(o.OrderType),
		ExecType:      strings.ToUpper(o.ExecType),
		Status:        strings.ToUpper(o.Status),
		AvgPrice:      toFloat(o.AvgPrice),
		StopPrice:     toFloat(o.StopPrice),
		Qty:           toFloat(o.Qty),
		FilledQty:     toFloat(o.FilledQty),
		RealizedPnL:   toFloat(o.RealizedPnL),
		EventTime:     m.EventTime,
	}, nil
}

func decodeAccountUpdate(data []byte) (events.AccountUpdate, error) {
	var m accountUpdateMsg
	if err := sonic.Unmarshal(data, &m); err != nil {
		return events.AccountUpdate{}, fmt.Errorf("decode account update: %w", err)
	}
	out := events.AccountUpdate{Reason: m.A.Reason, EventTime: m.EventTime}
	for _, p := range m.A.Positions {
		out.Positions = append(out.Positions, events.PositionDelta{
			Symbol:     common.FromExchange(p.Symbol),
			Amount:     toFloat(p.Amount),
			EntryPrice: toFloat(p.EntryPrice),
		})
	}
	return out, nil
}

func levels(raw [][2]string) []Level {
	out := make([]Level, 0, len(raw))
	for _, lv := range raw {
		out = append(out, Level{Price: toFloat(lv[0]), Qty: toFloat(lv[1])})
	}
	return out
}

func toFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
