// Package portfolio tracks the position, realized P&L, fees and round-trip
// trades of a single backtest run, and gates new exposure on risk limits.
package portfolio

import (
	"math"

	"trading-backtestv1/internal/model"
)

// qtyEpsilon absorbs float residue when a fill closes a position exactly.
const qtyEpsilon = 1e-12

// PositionSide is the direction of the open position.
type PositionSide string

const (
	Flat  PositionSide = "FLAT"
	Long  PositionSide = "LONG"
	Short PositionSide = "SHORT"
)

// Position is a single-instrument position. Qty is never negative; the
// direction lives in Side. AvgEntry is absent whenever Side is Flat.
type Position struct {
	Side     PositionSide            `json:"side"`
	Qty      float64                 `json:"qty"`
	AvgEntry model.Optional[float64] `json:"avg_entry"`
}

// Signed returns +Qty for long, -Qty for short and 0 when flat.
func (p Position) Signed() float64 {
	switch p.Side {
	case Long:
		return p.Qty
	case Short:
		return -p.Qty
	}
	return 0
}

// IsFlat reports whether no position is held.
func (p Position) IsFlat() bool {
	return p.Side == Flat || p.Side == ""
}

// Unrealized returns the mark-to-market P&L at mark.
func (p Position) Unrealized(mark float64) float64 {
	if p.IsFlat() || !p.AvgEntry.Valid {
		return 0
	}
	return (mark - p.AvgEntry.Value) * p.Signed()
}

// ApplyFill mutates the position by one fill and returns the P&L realized
// by the portion that reduced exposure. Same-direction fills average in;
// opposite fills realize against AvgEntry and flip when they exceed Qty.
func (p *Position) ApplyFill(side model.Side, price, qty float64) float64 {
	if qty <= 0 {
		return 0
	}
	incoming := Long
	if side == model.Sell {
		incoming = Short
	}

	if p.IsFlat() {
		p.open(incoming, price, qty)
		return 0
	}

	if p.Side == incoming {
		total := p.Qty + qty
		avg := (p.AvgEntry.Value*p.Qty + price*qty) / total
		p.Qty = total
		p.AvgEntry = model.Some(avg)
		return 0
	}

	closing := math.Min(qty, p.Qty)
	dir := 1.0
	if p.Side == Short {
		dir = -1
	}
	realized := (price - p.AvgEntry.Value) * closing * dir

	remaining := p.Qty - closing
	leftover := qty - closing
	switch {
	case remaining > qtyEpsilon:
		p.Qty = remaining
	case leftover > qtyEpsilon:
		p.open(incoming, price, leftover)
	default:
		*p = Position{Side: Flat}
	}
	return realized
}

func (p *Position) open(side PositionSide, price, qty float64) {
	p.Side = side
	p.Qty = qty
	p.AvgEntry = model.Some(price)
}
