package indicator

import "trading-backtestv1/internal/model"

// Bands is an upper/middle/lower envelope.
type Bands struct {
	Upper  model.Series[float64]
	Middle model.Series[float64]
	Lower  model.Series[float64]
}

// Bollinger returns SMA(period) ± stdMult * population standard deviation.
// Absent wherever the window holds an absent value.
func Bollinger(closes model.Series[float64], period int, stdMult float64) Bands {
	mid := SMASeries(closes, period)
	std := StdDev(closes, period)
	return Bands{
		Upper:  combine(mid, std, func(m, s float64) float64 { return m + stdMult*s }),
		Middle: mid,
		Lower:  combine(mid, std, func(m, s float64) float64 { return m - stdMult*s }),
	}
}

// Keltner returns EMA(close, emaPeriod) ± atrMult * ATR(atrPeriod).
func Keltner(candles []model.Candle, emaPeriod, atrPeriod int, atrMult float64) Bands {
	mid := EMASeries(model.Closes(candles), emaPeriod)
	atr := ATR(candles, atrPeriod)
	return Bands{
		Upper:  combine(mid, atr, func(m, a float64) float64 { return m + atrMult*a }),
		Middle: mid,
		Lower:  combine(mid, atr, func(m, a float64) float64 { return m - atrMult*a }),
	}
}

// ChandelierResult holds the long and short exit levels.
type ChandelierResult struct {
	LongExit  model.Series[float64]
	ShortExit model.Series[float64]
}

// Chandelier computes highest-high - mult*ATR and lowest-low + mult*ATR.
func Chandelier(candles []model.Candle, period, atrPeriod int, mult float64) ChandelierResult {
	hh := Highest(model.Highs(candles), period)
	ll := Lowest(model.Lows(candles), period)
	atr := ATR(candles, atrPeriod)
	return ChandelierResult{
		LongExit:  combine(hh, atr, func(h, a float64) float64 { return h - mult*a }),
		ShortExit: combine(ll, atr, func(l, a float64) float64 { return l + mult*a }),
	}
}
