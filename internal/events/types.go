package events

// Event enumerates the topics published by the stream ingestor.
type Event string

const (
	EventPriceTick     Event = "price_tick"
	EventOrderUpdate   Event = "order_update"
	EventAccountUpdate Event = "account_update"
	EventWhaleTrade    Event = "whale_trade"
)

// Tick is a last-price observation from the mini ticker stream.
type Tick struct {
	Symbol    string
	Price     float64
	EventTime int64 // unix millis
}

// OrderUpdate is one ORDER_TRADE_UPDATE from the user data stream.
type OrderUpdate struct {
	Symbol        string
	ClientOrderID string
	OrderID       string
	Side          string
	OrderType     string
	ExecType      string
	Status        string
	AvgPrice      float64
	StopPrice     float64
	Qty           float64
	FilledQty     float64
	RealizedPnL   float64
	EventTime     int64
}

// PositionDelta is one position entry of an ACCOUNT_UPDATE.
type PositionDelta struct {
	Symbol     string
	Amount     float64
	EntryPrice float64
}

// AccountUpdate is one ACCOUNT_UPDATE from the user data stream.
type AccountUpdate struct {
	Reason    string
	Positions []PositionDelta
	EventTime int64
}

// WhaleTrade is an aggregated trade whose notional crossed the whale threshold.
type WhaleTrade struct {
	Symbol    string
	Side      string // BUY or SELL (taker side)
	Price     float64
	Qty       float64
	Notional  float64
	TradeTime int64
}
