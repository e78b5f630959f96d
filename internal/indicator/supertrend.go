package indicator

import "trading-backtestv1/internal/model"

// TrendState is the SuperTrend regime.
type TrendState int

const (
	TrendUnknown TrendState = iota // warm-up, no ATR yet
	Bearish
	Bullish
)

func (s TrendState) String() string {
	switch s {
	case Bullish:
		return "bullish"
	case Bearish:
		return "bearish"
	default:
		return "unknown"
	}
}

// SuperTrendResult holds the trend line, the ratcheted bands and the state
// per bar.
type SuperTrendResult struct {
	Line  model.Series[float64]
	Upper model.Series[float64] // final upper band
	Lower model.Series[float64] // final lower band
	State []TrendState
}

// SuperTrend runs the two-state machine over candles.
//
// Basic bands are mid ± mult*ATR. The final upper band only moves down while
// the previous close stayed below it, the final lower band only moves up while
// the previous close stayed above it. The first bar with an ATR starts
// Bearish. Bearish flips to Bullish when close > previous final upper;
// Bullish flips to Bearish when close < previous final lower.
func SuperTrend(candles []model.Candle, period int, mult float64) SuperTrendResult {
	n := len(candles)
	atr := ATR(candles, period)
	res := SuperTrendResult{
		Line:  model.NewSeries[float64](n),
		Upper: model.NewSeries[float64](n),
		Lower: model.NewSeries[float64](n),
		State: make([]TrendState, n),
	}

	state := TrendUnknown
	var prevUpper, prevLower, prevClose float64
	for i, c := range candles {
		if !atr[i].Valid {
			state = TrendUnknown
			continue
		}
		basicUpper := c.Mid() + mult*atr[i].Value
		basicLower := c.Mid() - mult*atr[i].Value

		if state == TrendUnknown {
			state = Bearish
			prevUpper, prevLower = basicUpper, basicLower
			res.record(i, state, basicUpper, basicLower)
			prevClose = c.Close
			continue
		}

		upper := prevUpper
		if basicUpper < prevUpper || prevClose > prevUpper {
			upper = basicUpper
		}
		lower := prevLower
		if basicLower > prevLower || prevClose < prevLower {
			lower = basicLower
		}

		switch state {
		case Bearish:
			if c.Close > prevUpper {
				state = Bullish
			}
		case Bullish:
			if c.Close < prevLower {
				state = Bearish
			}
		}

		res.record(i, state, upper, lower)
		prevUpper, prevLower, prevClose = upper, lower, c.Close
	}
	return res
}

func (r *SuperTrendResult) record(i int, state TrendState, upper, lower float64) {
	r.State[i] = state
	r.Upper[i] = model.Some(upper)
	r.Lower[i] = model.Some(lower)
	if state == Bullish {
		r.Line[i] = model.Some(lower)
	} else {
		r.Line[i] = model.Some(upper)
	}
}
