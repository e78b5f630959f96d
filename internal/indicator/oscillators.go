package indicator

import (
	"math"

	"trading-backtestv1/internal/model"
)

// cciConstant scales mean deviation so ~70-80% of CCI values fall in ±100.
const cciConstant = 0.015

// StochResult holds the smoothed %K and %D lines.
type StochResult struct {
	K model.Series[float64]
	D model.Series[float64]
}

// Stochastic computes the stochastic oscillator over candles.
// Raw %K is 0 when the lookback range is flat.
func Stochastic(candles []model.Candle, period, smoothK, smoothD int) StochResult {
	hh := Highest(model.Highs(candles), period)
	ll := Lowest(model.Lows(candles), period)
	raw := model.NewSeries[float64](len(candles))
	for i, c := range candles {
		if !hh[i].Valid || !ll[i].Valid {
			continue
		}
		raw[i] = model.Some(stochValue(c.Close, hh[i].Value, ll[i].Value))
	}
	return smoothStoch(raw, smoothK, smoothD)
}

// StochRSI applies the stochastic formula to an RSI series.
func StochRSI(closes model.Series[float64], rsiPeriod, stochPeriod, smoothK, smoothD int) StochResult {
	rsi := RSISeries(closes, rsiPeriod)
	hh := Highest(rsi, stochPeriod)
	ll := Lowest(rsi, stochPeriod)
	raw := model.NewSeries[float64](len(closes))
	for i := range rsi {
		if !rsi[i].Valid || !hh[i].Valid || !ll[i].Valid {
			continue
		}
		raw[i] = model.Some(stochValue(rsi[i].Value, hh[i].Value, ll[i].Value))
	}
	return smoothStoch(raw, smoothK, smoothD)
}

func stochValue(v, hi, lo float64) float64 {
	if hi == lo {
		return 0
	}
	return 100 * (v - lo) / (hi - lo)
}

func smoothStoch(raw model.Series[float64], smoothK, smoothD int) StochResult {
	k := raw
	if smoothK > 1 {
		k = clampSeries(SMASeries(raw, smoothK), 0, 100)
	}
	d := k
	if smoothD > 1 {
		d = clampSeries(SMASeries(k, smoothD), 0, 100)
	}
	return StochResult{K: k, D: d}
}

func clampSeries(src model.Series[float64], lo, hi float64) model.Series[float64] {
	for i, o := range src {
		if o.Valid {
			src[i].Value = math.Max(lo, math.Min(hi, o.Value))
		}
	}
	return src
}

// MFI computes the Money Flow Index. The first value needs period flows,
// so it appears at index period. A window with no negative flow reads 100.
func MFI(candles []model.Candle, period int) model.Series[float64] {
	out := model.NewSeries[float64](len(candles))
	if period <= 0 {
		return out
	}
	pos := make([]float64, len(candles))
	neg := make([]float64, len(candles))
	for i := 1; i < len(candles); i++ {
		tp, prev := candles[i].Typical(), candles[i-1].Typical()
		flow := tp * candles[i].Volume
		switch {
		case tp > prev:
			pos[i] = flow
		case tp < prev:
			neg[i] = flow
		}
	}
	for i := period; i < len(candles); i++ {
		var p, n float64
		for j := i - period + 1; j <= i; j++ {
			p += pos[j]
			n += neg[j]
		}
		if n == 0 {
			out[i] = model.Some(100.0)
			continue
		}
		out[i] = model.Some(100 - 100/(1+p/n))
	}
	return out
}

// CCI computes the Commodity Channel Index. Absent when the mean absolute
// deviation of the window is zero.
func CCI(candles []model.Candle, period int) model.Series[float64] {
	tp := model.TypicalPrices(candles)
	sma := SMASeries(tp, period)
	out := model.NewSeries[float64](len(candles))
	for i := range tp {
		if !sma[i].Valid {
			continue
		}
		vals, ok := window(tp, i, period)
		if !ok {
			continue
		}
		md := 0.0
		for _, v := range vals {
			md += math.Abs(v - sma[i].Value)
		}
		md /= float64(period)
		if md == 0 {
			continue
		}
		out[i] = model.Some((tp[i].Value - sma[i].Value) / (cciConstant * md))
	}
	return out
}

// Choppiness computes the Choppiness Index: high readings mean a ranging
// market, low readings a trending one. Absent when the window range is flat.
func Choppiness(candles []model.Candle, period int) model.Series[float64] {
	out := model.NewSeries[float64](len(candles))
	if period < 2 {
		return out
	}
	tr := TrueRange(candles)
	hh := Highest(model.Highs(candles), period)
	ll := Lowest(model.Lows(candles), period)
	norm := math.Log10(float64(period))
	for i := range candles {
		vals, ok := window(tr, i, period)
		if !ok || !hh[i].Valid || !ll[i].Valid {
			continue
		}
		rng := hh[i].Value - ll[i].Value
		if rng <= 0 {
			continue
		}
		sum := 0.0
		for _, v := range vals {
			sum += v
		}
		out[i] = model.Some(100 * math.Log10(sum/rng) / norm)
	}
	return out
}

// WilliamsR computes Williams %R in [-100, 0]; -50 when the range is flat.
func WilliamsR(candles []model.Candle, period int) model.Series[float64] {
	hh := Highest(model.Highs(candles), period)
	ll := Lowest(model.Lows(candles), period)
	out := model.NewSeries[float64](len(candles))
	for i, c := range candles {
		if !hh[i].Valid || !ll[i].Valid {
			continue
		}
		if hh[i].Value == ll[i].Value {
			out[i] = model.Some(-50.0)
			continue
		}
		out[i] = model.Some(-100 * (hh[i].Value - c.Close) / (hh[i].Value - ll[i].Value))
	}
	return out
}

// Momentum returns close[i] - close[i-period].
func Momentum(closes model.Series[float64], period int) model.Series[float64] {
	out := model.NewSeries[float64](len(closes))
	if period <= 0 {
		return out
	}
	for i := period; i < len(closes); i++ {
		if closes[i].Valid && closes[i-period].Valid {
			out[i] = model.Some(closes[i].Value - closes[i-period].Value)
		}
	}
	return out
}
