package model

import "time"

// Side is the direction of an order or fill.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Sign returns +1 for buys and -1 for sells.
func (s Side) Sign() float64 {
	if s == Buy {
		return 1
	}
	return -1
}

// OrderKind selects how a resting order is triggered.
type OrderKind string

const (
	KindLimit  OrderKind = "LIMIT"  // buy at or below / sell at or above Price
	KindMarket OrderKind = "MARKET" // fills at the next bar's open
	KindStop   OrderKind = "STOP"   // buy at or above / sell at or below Price
)

// Purpose records why an order was placed.
type Purpose string

const (
	PurposeEntry      Purpose = "ENTRY"
	PurposeExit       Purpose = "EXIT"
	PurposeStopLoss   Purpose = "STOP_LOSS"
	PurposeTakeProfit Purpose = "TAKE_PROFIT"
	PurposeForceClose Purpose = "FORCE_CLOSE"
)

// Opens reports whether the order can increase exposure.
func (p Purpose) Opens() bool {
	return p == PurposeEntry
}

// RestingOrder is an order owned by the simulator between placement and
// fill or cancel.
type RestingOrder struct {
	ID       string    `json:"id"`
	Side     Side      `json:"side"`
	Kind     OrderKind `json:"kind"`
	Price    float64   `json:"price"` // ignored for market orders
	Qty      float64   `json:"qty"`   // remaining quantity
	IsMaker  bool      `json:"is_maker"`
	Purpose  Purpose   `json:"purpose"`
	PlacedAt int64     `json:"placed_at"` // OpenTime of the bar that placed it
}

// Fill is an immutable execution record appended to the fill ledger.
type Fill struct {
	Timestamp int64   `json:"timestamp" csv:"timestamp" parquet:"timestamp"`
	OrderID   string  `json:"order_id" csv:"order_id" parquet:"order_id"`
	Side      Side    `json:"side" csv:"side" parquet:"side"`
	Price     float64 `json:"price" csv:"price" parquet:"price"`
	Qty       float64 `json:"qty" csv:"qty" parquet:"qty"`
	Fee       float64 `json:"fee" csv:"fee" parquet:"fee"`
	IsMaker   bool    `json:"is_maker" csv:"is_maker" parquet:"is_maker"`
	Purpose   Purpose `json:"purpose" csv:"purpose" parquet:"purpose"`
}

// Notional returns price * qty.
func (f Fill) Notional() float64 {
	return f.Price * f.Qty
}

// EquityPoint is one step of the equity curve.
type EquityPoint struct {
	Timestamp  int64   `json:"timestamp" csv:"timestamp" parquet:"timestamp"`
	Equity     float64 `json:"equity" csv:"equity" parquet:"equity"`
	Position   float64 `json:"position" csv:"position" parquet:"position"` // signed quantity
	MarkPrice  float64 `json:"mark_price" csv:"mark_price" parquet:"mark_price"`
	Realized   float64 `json:"realized" csv:"realized" parquet:"realized"`
	Fees       float64 `json:"fees" csv:"fees" parquet:"fees"`
	Unrealized float64 `json:"unrealized" csv:"unrealized" parquet:"unrealized"`
	Drawdown   float64 `json:"drawdown" csv:"drawdown" parquet:"drawdown"`
	Halted     bool    `json:"halted" csv:"halted" parquet:"halted"`
}

// Time returns Timestamp as a UTC time.Time.
func (p EquityPoint) Time() time.Time {
	return time.UnixMilli(p.Timestamp).UTC()
}

// Trade is a completed round trip: from flat to flat, or up to a flip.
type Trade struct {
	Side       Side    `json:"side" csv:"side" parquet:"side"` // Buy = long, Sell = short
	EntryTime  int64   `json:"entry_time" csv:"entry_time" parquet:"entry_time"`
	ExitTime   int64   `json:"exit_time" csv:"exit_time" parquet:"exit_time"`
	Qty        float64 `json:"qty" csv:"qty" parquet:"qty"` // peak quantity held
	EntryPrice float64 `json:"entry_price" csv:"entry_price" parquet:"entry_price"`
	ExitPrice  float64 `json:"exit_price" csv:"exit_price" parquet:"exit_price"`
	GrossPnL   float64 `json:"gross_pnl" csv:"gross_pnl" parquet:"gross_pnl"`
	Fees       float64 `json:"fees" csv:"fees" parquet:"fees"`
	NetPnL     float64 `json:"net_pnl" csv:"net_pnl" parquet:"net_pnl"`
}

// Won reports whether the trade made money after fees.
func (t Trade) Won() bool {
	return t.NetPnL > 0
}
