package indicator

import (
	"math"

	"trading-backtestv1/internal/model"
)

// window returns src[i-period+1 : i+1] as plain values, or false if the
// window is short or holds an absent entry.
func window(src model.Series[float64], i, period int) ([]float64, bool) {
	start := i - period + 1
	if period <= 0 || start < 0 || i >= len(src) {
		return nil, false
	}
	out := make([]float64, period)
	for j := start; j <= i; j++ {
		if !src[j].Valid {
			return nil, false
		}
		out[j-start] = src[j].Value
	}
	return out, true
}

// Highest returns the rolling maximum of src over period.
func Highest(src model.Series[float64], period int) model.Series[float64] {
	out := model.NewSeries[float64](len(src))
	for i := range src {
		vals, ok := window(src, i, period)
		if !ok {
			continue
		}
		hi := vals[0]
		for _, v := range vals[1:] {
			hi = math.Max(hi, v)
		}
		out[i] = model.Some(hi)
	}
	return out
}

// Lowest returns the rolling minimum of src over period.
func Lowest(src model.Series[float64], period int) model.Series[float64] {
	out := model.NewSeries[float64](len(src))
	for i := range src {
		vals, ok := window(src, i, period)
		if !ok {
			continue
		}
		lo := vals[0]
		for _, v := range vals[1:] {
			lo = math.Min(lo, v)
		}
		out[i] = model.Some(lo)
	}
	return out
}

// StdDev returns the rolling population standard deviation of src.
func StdDev(src model.Series[float64], period int) model.Series[float64] {
	out := model.NewSeries[float64](len(src))
	for i := range src {
		vals, ok := window(src, i, period)
		if !ok {
			continue
		}
		out[i] = model.Some(populationStd(vals))
	}
	return out
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func populationStd(vals []float64) float64 {
	m := mean(vals)
	ss := 0.0
	for _, v := range vals {
		d := v - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(vals)))
}

func sampleStd(vals []float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	m := mean(vals)
	ss := 0.0
	for _, v := range vals {
		d := v - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(vals)-1))
}

// combine applies fn where both a and b are present.
func combine(a, b model.Series[float64], fn func(x, y float64) float64) model.Series[float64] {
	out := model.NewSeries[float64](len(a))
	for i := range a {
		if i >= len(b) || !a[i].Valid || !b[i].Valid {
			continue
		}
		out[i] = model.Some(fn(a[i].Value, b[i].Value))
	}
	return out
}
