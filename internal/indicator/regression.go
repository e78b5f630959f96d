package indicator

import (
	"math"

	"trading-backtestv1/internal/model"
)

// LinRegResult holds the fitted value at the newest index and the slope.
type LinRegResult struct {
	Value model.Series[float64]
	Slope model.Series[float64]
}

// LinReg fits an ordinary least-squares line to the trailing window of src.
func LinReg(src model.Series[float64], period int) LinRegResult {
	res := LinRegResult{
		Value: model.NewSeries[float64](len(src)),
		Slope: model.NewSeries[float64](len(src)),
	}
	if period < 1 {
		return res
	}
	// x = 0..period-1, constant per window
	n := float64(period)
	sumX := n * (n - 1) / 2
	sumXX := (n - 1) * n * (2*n - 1) / 6
	denom := n*sumXX - sumX*sumX

	for i := range src {
		vals, ok := window(src, i, period)
		if !ok {
			continue
		}
		var sumY, sumXY float64
		for x, y := range vals {
			sumY += y
			sumXY += float64(x) * y
		}
		slope := 0.0
		if denom != 0 {
			slope = (n*sumXY - sumX*sumY) / denom
		}
		intercept := (sumY - slope*sumX) / n
		res.Value[i] = model.Some(intercept + slope*(n-1))
		res.Slope[i] = model.Some(slope)
	}
	return res
}

// HistVol returns the sample standard deviation of log returns over period
// returns. Not annualized. Absent when any close in the window is non-positive.
func HistVol(closes model.Series[float64], period int) model.Series[float64] {
	out := model.NewSeries[float64](len(closes))
	if period < 2 {
		return out
	}
	rets := model.NewSeries[float64](len(closes))
	for i := 1; i < len(closes); i++ {
		a, b := closes[i-1], closes[i]
		if a.Valid && b.Valid && a.Value > 0 && b.Value > 0 {
			rets[i] = model.Some(math.Log(b.Value / a.Value))
		}
	}
	for i := range rets {
		vals, ok := window(rets, i, period)
		if !ok {
			continue
		}
		out[i] = model.Some(sampleStd(vals))
	}
	return out
}
