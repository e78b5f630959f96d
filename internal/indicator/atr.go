package indicator

import (
	"math"

	"trading-backtestv1/internal/model"
)

// TrueRange returns max(h-l, |h-prevClose|, |l-prevClose|) per bar.
// The first bar has no previous close and uses h-l.
func TrueRange(candles []model.Candle) model.Series[float64] {
	out := model.NewSeries[float64](len(candles))
	for i, c := range candles {
		if i == 0 {
			out[i] = model.Some(c.High - c.Low)
			continue
		}
		out[i] = model.Some(trueRange(c, candles[i-1].Close))
	}
	return out
}

func trueRange(c model.Candle, prevClose float64) float64 {
	return math.Max(c.High-c.Low, math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
}

// ATR returns the Wilder-smoothed average true range.
func ATR(candles []model.Candle, period int) model.Series[float64] {
	return SMMASeries(TrueRange(candles), period)
}

// MACDResult holds the MACD line, its signal line and the histogram.
type MACDResult struct {
	Line   model.Series[float64]
	Signal model.Series[float64]
	Hist   model.Series[float64]
}

// MACD computes EMA(fast) - EMA(slow), its EMA(signal), and the difference.
func MACD(closes model.Series[float64], fast, slow, signal int) MACDResult {
	line := combine(EMASeries(closes, fast), EMASeries(closes, slow), func(f, s float64) float64 { return f - s })
	sig := EMASeries(line, signal)
	hist := combine(line, sig, func(l, s float64) float64 { return l - s })
	return MACDResult{Line: line, Signal: sig, Hist: hist}
}

// ADXResult holds the directional indicators and the ADX line.
type ADXResult struct {
	PlusDI  model.Series[float64]
	MinusDI model.Series[float64]
	ADX     model.Series[float64]
}

// ADX computes Wilder's Average Directional Index. Directional movement
// starts at bar 1, so DI values begin at index period and ADX at 2*period-1.
func ADX(candles []model.Candle, period int) ADXResult {
	n := len(candles)
	plusDM := model.NewSeries[float64](n)
	minusDM := model.NewSeries[float64](n)
	tr := model.NewSeries[float64](n)
	for i := 1; i < n; i++ {
		up := candles[i].High - candles[i-1].High
		down := candles[i-1].Low - candles[i].Low
		p, m := 0.0, 0.0
		if up > down && up > 0 {
			p = up
		}
		if down > up && down > 0 {
			m = down
		}
		plusDM[i] = model.Some(p)
		minusDM[i] = model.Some(m)
		tr[i] = model.Some(trueRange(candles[i], candles[i-1].Close))
	}

	sTR := SMMASeries(tr, period)
	sPlus := SMMASeries(plusDM, period)
	sMinus := SMMASeries(minusDM, period)

	res := ADXResult{
		PlusDI:  model.NewSeries[float64](n),
		MinusDI: model.NewSeries[float64](n),
	}
	dx := model.NewSeries[float64](n)
	for i := 0; i < n; i++ {
		if !sTR[i].Valid || !sPlus[i].Valid || !sMinus[i].Valid {
			continue
		}
		pdi, mdi := 0.0, 0.0
		if sTR[i].Value > 0 {
			pdi = 100 * sPlus[i].Value / sTR[i].Value
			mdi = 100 * sMinus[i].Value / sTR[i].Value
		}
		res.PlusDI[i] = model.Some(pdi)
		res.MinusDI[i] = model.Some(mdi)
		if sum := pdi + mdi; sum > 0 {
			dx[i] = model.Some(100 * math.Abs(pdi-mdi) / sum)
		} else {
			dx[i] = model.Some(0.0)
		}
	}
	res.ADX = SMMASeries(dx, period)
	return res
}
