package indicator

import "trading-backtestv1/internal/model"

// VWAP returns the cumulative volume-weighted typical price from the start of
// candles. Session resets are the caller's concern: pass one session at a
// time. Absent until some volume has traded.
func VWAP(candles []model.Candle) model.Series[float64] {
	out := model.NewSeries[float64](len(candles))
	var pv, vol float64
	for i, c := range candles {
		pv += c.Typical() * c.Volume
		vol += c.Volume
		if vol > 0 {
			out[i] = model.Some(pv / vol)
		}
	}
	return out
}

// OBV returns On-Balance Volume, starting at 0 on the first bar.
func OBV(candles []model.Candle) model.Series[float64] {
	out := model.NewSeries[float64](len(candles))
	obv := 0.0
	for i, c := range candles {
		if i > 0 {
			switch prev := candles[i-1].Close; {
			case c.Close > prev:
				obv += c.Volume
			case c.Close < prev:
				obv -= c.Volume
			}
		}
		out[i] = model.Some(obv)
	}
	return out
}

// ADI returns the Accumulation/Distribution line: the running sum of
// volume weighted by where the close sits in the bar's range. A bar with
// no range adds nothing.
func ADI(candles []model.Candle) model.Series[float64] {
	out := model.NewSeries[float64](len(candles))
	adi := 0.0
	for i, c := range candles {
		if rng := c.High - c.Low; rng > 0 {
			adi += ((c.Close - c.Low) - (c.High - c.Close)) / rng * c.Volume
		}
		out[i] = model.Some(adi)
	}
	return out
}
