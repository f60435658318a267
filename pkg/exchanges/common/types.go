package common

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the side that closes a position opened with s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// PositionSide is the direction of an open position.
type PositionSide string

const (
	Long  PositionSide = "LONG"
	Short PositionSide = "SHORT"
)

// CloseSide is the order side that reduces a position of this direction.
func (p PositionSide) CloseSide() Side {
	if p == Short {
		return SideBuy
	}
	return SideSell
}

// OrderType denotes the futures order types the engine places.
type OrderType string

const (
	OrderTypeMarket           OrderType = "MARKET"
	OrderTypeLimit            OrderType = "LIMIT"
	OrderTypeStopMarket       OrderType = "STOP_MARKET"
	OrderTypeTakeProfitMarket OrderType = "TAKE_PROFIT_MARKET"
)

// TimeInForce captures TIF semantics.
type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC" // Good Till Cancelled
	TIFIOC TimeInForce = "IOC" // Immediate Or Cancel
	TIFGTX TimeInForce = "GTX" // Post Only
)

// Trigger price sources for conditional orders.
const (
	WorkingTypeMark     = "MARK_PRICE"
	WorkingTypeContract = "CONTRACT_PRICE"
)

// OrderStatus normalizes exchange status into a small set.
type OrderStatus string

const (
	StatusNew      OrderStatus = "NEW"
	StatusPartial  OrderStatus = "PARTIAL"
	StatusFilled   OrderStatus = "FILLED"
	StatusCanceled OrderStatus = "CANCELED"
	StatusRejected OrderStatus = "REJECTED"
	StatusExpired  OrderStatus = "EXPIRED"
	StatusUnknown  OrderStatus = "UNKNOWN"
)

// OrderRequest captures an order intent. Symbols are unified ("BTC/USDT").
type OrderRequest struct {
	Symbol      string
	Side        Side
	Type        OrderType
	Qty         float64 // ignored when ClosePosition is set
	Price       float64 // LIMIT only
	StopPrice   float64 // STOP_MARKET / TAKE_PROFIT_MARKET
	TimeInForce TimeInForce
	ClientID    string
	ReduceOnly  bool

	ClosePosition bool
	WorkingType   string // MARK_PRICE or CONTRACT_PRICE
}

// OrderResult returns the exchange ack.
type OrderResult struct {
	ExchangeOrderID string
	Status          OrderStatus
	ClientID        string
}

// OpenOrder is a resting order as reported by the exchange.
type OpenOrder struct {
	ID        string
	ClientID  string
	Symbol    string
	Side      Side
	Type      OrderType
	Price     float64
	StopPrice float64
	Qty       float64
	Status    OrderStatus
}

// Position is a non-zero exchange position.
type Position struct {
	Symbol     string
	Side       PositionSide
	Contracts  float64 // always positive
	EntryPrice float64
}

// Kline is one OHLCV candle from the REST API.
type Kline struct {
	OpenTime int64
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// PriceLevel is one order-book level.
type PriceLevel struct {
	Price float64
	Qty   float64
}

// OrderBook is a REST depth snapshot.
type OrderBook struct {
	Symbol string
	Bids   []PriceLevel
	Asks   []PriceLevel
}

// LongShortRatio is the latest top-trader account ratio sample.
type LongShortRatio struct {
	Ratio     float64
	LongPct   float64
	ShortPct  float64
	Timestamp int64
}
