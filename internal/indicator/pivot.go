package indicator

import "trading-backtestv1/internal/model"

// PivotKind is a local high or local low.
type PivotKind int

const (
	PivotHigh PivotKind = iota + 1
	PivotLow
)

// Pivot is a local extreme of a series.
type Pivot struct {
	Index int
	Value float64
	Kind  PivotKind
}

// Pivots finds strict local extremes: index i is a pivot high iff src[i]
// exceeds every value within ±window, and a pivot low iff it is below all of
// them. Indexes closer than window to either end are never pivots.
func Pivots(src model.Series[float64], window int) []Pivot {
	if window < 1 {
		return nil
	}
	var out []Pivot
	for i := window; i < len(src)-window; i++ {
		if !src[i].Valid {
			continue
		}
		v := src[i].Value
		isHigh, isLow := true, true
		for j := i - window; j <= i+window; j++ {
			if j == i {
				continue
			}
			if !src[j].Valid {
				isHigh, isLow = false, false
				break
			}
			if src[j].Value >= v {
				isHigh = false
			}
			if src[j].Value <= v {
				isLow = false
			}
		}
		switch {
		case isHigh:
			out = append(out, Pivot{Index: i, Value: v, Kind: PivotHigh})
		case isLow:
			out = append(out, Pivot{Index: i, Value: v, Kind: PivotLow})
		}
	}
	return out
}

// DivergenceKind classifies a regular divergence.
type DivergenceKind int

const (
	NoDivergence DivergenceKind = iota
	BullishDivergence
	BearishDivergence
)

// Divergence describes a price/oscillator mismatch detected at bar Index.
type Divergence struct {
	Kind  DivergenceKind
	Index int
	Price [2]Pivot // older, newer
	Osc   [2]Pivot // older, newer
}

// DetectDivergence looks for a regular divergence visible at bar at. Only
// pivots already confirmed by bar at (pivot index + window <= at) and no older
// than lookback bars count. Bearish: price makes a higher high while the
// oscillator makes a lower high. Bullish: price makes a lower low while the
// oscillator makes a higher low.
func DetectDivergence(price, osc model.Series[float64], at, window, lookback int) (Divergence, bool) {
	return divergenceAt(Pivots(price, window), Pivots(osc, window), at, window, lookback)
}

// DivergenceSeries evaluates DetectDivergence at every bar, computing pivots
// once. The result at i only depends on data up to i.
func DivergenceSeries(price, osc model.Series[float64], window, lookback int) []DivergenceKind {
	out := make([]DivergenceKind, len(price))
	pp, op := Pivots(price, window), Pivots(osc, window)
	for i := range out {
		if d, ok := divergenceAt(pp, op, i, window, lookback); ok {
			out[i] = d.Kind
		}
	}
	return out
}

func divergenceAt(pricePivots, oscPivots []Pivot, at, window, lookback int) (Divergence, bool) {
	from, to := at-lookback, at-window

	bear, bearOK := matchDivergence(pricePivots, oscPivots, PivotHigh, from, to, func(p, o [2]Pivot) bool {
		return p[1].Value > p[0].Value && o[1].Value < o[0].Value
	})
	bull, bullOK := matchDivergence(pricePivots, oscPivots, PivotLow, from, to, func(p, o [2]Pivot) bool {
		return p[1].Value < p[0].Value && o[1].Value > o[0].Value
	})

	switch {
	case bearOK && bullOK:
		if bull.Price[1].Index > bear.Price[1].Index {
			bull.Index = at
			return bull, true
		}
		bear.Index = at
		return bear, true
	case bearOK:
		bear.Index = at
		return bear, true
	case bullOK:
		bull.Index = at
		return bull, true
	}
	return Divergence{}, false
}

func matchDivergence(pricePivots, oscPivots []Pivot, kind PivotKind, from, to int, cond func(p, o [2]Pivot) bool) (Divergence, bool) {
	p, ok := lastTwo(pricePivots, kind, from, to)
	if !ok {
		return Divergence{}, false
	}
	o, ok := lastTwo(oscPivots, kind, from, to)
	if !ok {
		return Divergence{}, false
	}
	if !cond(p, o) {
		return Divergence{}, false
	}
	k := BearishDivergence
	if kind == PivotLow {
		k = BullishDivergence
	}
	return Divergence{Kind: k, Price: p, Osc: o}, true
}

// lastTwo returns the two most recent pivots of kind with index in [from, to].
func lastTwo(pivots []Pivot, kind PivotKind, from, to int) ([2]Pivot, bool) {
	var found []Pivot
	for k := len(pivots) - 1; k >= 0 && len(found) < 2; k-- {
		p := pivots[k]
		if p.Index > to {
			continue
		}
		if p.Index < from {
			break
		}
		if p.Kind == kind {
			found = append(found, p)
		}
	}
	if len(found) < 2 {
		return [2]Pivot{}, false
	}
	return [2]Pivot{found[1], found[0]}, true
}
