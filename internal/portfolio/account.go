package portfolio

import (
	"math"

	"trading-backtestv1/internal/model"
)

// Account tracks realized and unrealized P&L for one run.
//
// Equity = initial capital + realized P&L − fees + unrealized P&L.
type Account struct {
	initial  float64
	pos      Position
	realized float64
	fees     float64

	fills  []model.Fill
	trades []model.Trade
	open   *openTrade
}

// openTrade accumulates a round trip until the position returns to flat or
// flips.
type openTrade struct {
	side      model.Side
	entryTime int64
	peakQty   float64
	exitValue float64 // Σ price × qty of reducing fills
	exitQty   float64
	gross     float64
	fees      float64
}

// NewAccount creates an account holding initialCapital in cash.
func NewAccount(initialCapital float64) *Account {
	return &Account{
		initial: initialCapital,
		pos:     Position{Side: Flat},
		fills:   make([]model.Fill, 0, 64),
	}
}

// Apply records a fill and returns the P&L it realized, before fees.
// A fill that flips the position closes the current trade and opens a new
// one; its fee is split between them by quantity.
func (a *Account) Apply(f model.Fill) float64 {
	before := a.pos
	realized := a.pos.ApplyFill(f.Side, f.Price, f.Qty)

	a.fills = append(a.fills, f)
	a.realized += realized
	a.fees += f.Fee

	closing := 0.0
	if !before.IsFlat() && sideOf(before.Side) != f.Side {
		closing = math.Min(f.Qty, before.Qty)
	}
	opening := f.Qty - closing

	if closing > 0 && a.open != nil {
		t := a.open
		t.exitValue += f.Price * closing
		t.exitQty += closing
		t.gross += realized
		t.fees += f.Fee * closing / f.Qty
		if a.pos.IsFlat() || a.pos.Side != before.Side {
			a.trades = append(a.trades, model.Trade{
				Side:       t.side,
				EntryTime:  t.entryTime,
				ExitTime:   f.Timestamp,
				Qty:        t.peakQty,
				EntryPrice: before.AvgEntry.Value,
				ExitPrice:  t.exitValue / t.exitQty,
				GrossPnL:   t.gross,
				Fees:       t.fees,
				NetPnL:     t.gross - t.fees,
			})
			a.open = nil
		}
	}

	if opening > qtyEpsilon {
		if a.open == nil {
			a.open = &openTrade{side: f.Side, entryTime: f.Timestamp}
		}
		a.open.fees += f.Fee * opening / f.Qty
		if a.pos.Qty > a.open.peakQty {
			a.open.peakQty = a.pos.Qty
		}
	}
	return realized
}

func sideOf(s PositionSide) model.Side {
	if s == Short {
		return model.Sell
	}
	return model.Buy
}

// Position returns the current position.
func (a *Account) Position() Position {
	return a.pos
}

// InitialCapital returns the starting cash.
func (a *Account) InitialCapital() float64 {
	return a.initial
}

// Realized returns the total realized P&L before fees.
func (a *Account) Realized() float64 {
	return a.realized
}

// Fees returns the total fees paid.
func (a *Account) Fees() float64 {
	return a.fees
}

// Unrealized returns the open position's P&L at mark.
func (a *Account) Unrealized(mark float64) float64 {
	return a.pos.Unrealized(mark)
}

// Equity returns the account value at mark.
func (a *Account) Equity(mark float64) float64 {
	return a.initial + a.realized - a.fees + a.pos.Unrealized(mark)
}

// Fills returns a snapshot of the fill ledger.
func (a *Account) Fills() []model.Fill {
	cp := make([]model.Fill, len(a.fills))
	copy(cp, a.fills)
	return cp
}

// Trades returns a snapshot of completed round trips.
func (a *Account) Trades() []model.Trade {
	cp := make([]model.Trade, len(a.trades))
	copy(cp, a.trades)
	return cp
}

// PnLSummary is a point-in-time view of the account.
type PnLSummary struct {
	RealizedPnL   float64 `json:"realized_pnl"`
	Fees          float64 `json:"fees"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
	TotalPnL      float64 `json:"total_pnl"`
	TotalTrades   int     `json:"total_trades"`
	TotalFills    int     `json:"total_fills"`
	OpenQty       float64 `json:"open_qty"`
}

// Summary returns the current P&L summary at mark.
func (a *Account) Summary(mark float64) PnLSummary {
	unrealized := a.pos.Unrealized(mark)
	return PnLSummary{
		RealizedPnL:   a.realized,
		Fees:          a.fees,
		UnrealizedPnL: unrealized,
		TotalPnL:      a.realized - a.fees + unrealized,
		TotalTrades:   len(a.trades),
		TotalFills:    len(a.fills),
		OpenQty:       a.pos.Signed(),
	}
}
