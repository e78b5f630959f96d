package indicator

import (
	"math"

	"trading-backtestv1/internal/model"
)

// PSARResult holds the Parabolic SAR line and its trend per bar.
type PSARResult struct {
	SAR   model.Series[float64]
	State []TrendState
}

// PSAR computes the Parabolic Stop and Reverse. The first bar seeds the
// SAR at its low in an uptrend with the high as extreme point. Each bar the
// SAR moves accel of the way to the extreme point; a new extreme raises the
// factor by accel up to maxAccel. When price crosses the SAR the trend
// flips, the SAR jumps to the old extreme point and the factor resets.
func PSAR(candles []model.Candle, accel, maxAccel float64) PSARResult {
	n := len(candles)
	res := PSARResult{SAR: model.NewSeries[float64](n), State: make([]TrendState, n)}
	if n == 0 || accel <= 0 {
		return res
	}

	sar := candles[0].Low
	ep := candles[0].High
	af := accel
	state := Bullish
	res.SAR[0] = model.Some(sar)
	res.State[0] = state

	for i := 1; i < n; i++ {
		c := candles[i]
		sar += af * (ep - sar)
		if state == Bullish {
			if c.High > ep {
				ep = c.High
				af = math.Min(af+accel, maxAccel)
			}
			if c.Low < sar {
				state, sar, ep, af = Bearish, ep, c.Low, accel
			}
		} else {
			if c.Low < ep {
				ep = c.Low
				af = math.Min(af+accel, maxAccel)
			}
			if c.High > sar {
				state, sar, ep, af = Bullish, ep, c.High, accel
			}
		}
		res.SAR[i] = model.Some(sar)
		res.State[i] = state
	}
	return res
}
