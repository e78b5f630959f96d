package indicator

import (
	"math"
	"sort"

	"trading-backtestv1/internal/model"
)

// Fibonacci retracement ratios used for floor pivots.
var fibRatios = [3]float64{0.382, 0.618, 1.0}

// FibLevels are classic floor-trader pivots with Fibonacci spacing.
type FibLevels struct {
	P  float64
	R1 float64
	R2 float64
	R3 float64
	S1 float64
	S2 float64
	S3 float64
}

// FibonacciPivots computes P = (H+L+C)/3 and P ± {0.382, 0.618, 1.0}·(H−L).
func FibonacciPivots(high, low, close float64) FibLevels {
	p := (high + low + close) / 3
	r := high - low
	return FibLevels{
		P:  p,
		R1: p + fibRatios[0]*r,
		R2: p + fibRatios[1]*r,
		R3: p + fibRatios[2]*r,
		S1: p - fibRatios[0]*r,
		S2: p - fibRatios[1]*r,
		S3: p - fibRatios[2]*r,
	}
}

// Levels returns all seven levels in ascending order.
func (f FibLevels) Levels() []float64 {
	return []float64{f.S3, f.S2, f.S1, f.P, f.R1, f.R2, f.R3}
}

// ClusterLevels merges nearby price levels. Levels are sorted and grouped
// greedily while each level stays within tolPct (percent) of the group's
// first level; each group collapses to its mean. Grouping repeats until no
// two adjacent results are within tolerance, so the output is a fixpoint:
// ClusterLevels(ClusterLevels(x, t), t) == ClusterLevels(x, t).
func ClusterLevels(levels []float64, tolPct float64) []float64 {
	cur := make([]float64, 0, len(levels))
	for _, l := range levels {
		if !math.IsNaN(l) && !math.IsInf(l, 0) {
			cur = append(cur, l)
		}
	}
	sort.Float64s(cur)
	tol := tolPct / 100
	for {
		next := clusterOnce(cur, tol)
		if len(next) == len(cur) {
			return next
		}
		cur = next
	}
}

func clusterOnce(sorted []float64, tol float64) []float64 {
	var out []float64
	for i := 0; i < len(sorted); {
		start := sorted[i]
		sum := start
		j := i + 1
		for j < len(sorted) && withinTol(start, sorted[j], tol) {
			sum += sorted[j]
			j++
		}
		out = append(out, sum/float64(j-i))
		i = j
	}
	return out
}

func withinTol(a, b, tol float64) bool {
	if a == b {
		return true
	}
	if a == 0 {
		return false
	}
	return math.Abs(b-a)/math.Abs(a) <= tol
}

// SupportResistance builds candidate levels from the window of candles
// before bar at (Fibonacci pivots of the window's high/low/last close, plus
// the window's highest high and lowest low) and clusters them. Returns nil
// until window candles precede at.
func SupportResistance(candles []model.Candle, at, window int, tolPct float64) []float64 {
	if window < 1 || at < window || at > len(candles) {
		return nil
	}
	span := candles[at-window : at]
	hi, lo := span[0].High, span[0].Low
	for _, c := range span[1:] {
		hi = math.Max(hi, c.High)
		lo = math.Min(lo, c.Low)
	}
	fib := FibonacciPivots(hi, lo, span[len(span)-1].Close)
	return ClusterLevels(append(fib.Levels(), hi, lo), tolPct)
}

// NearestLevels returns the closest level at or below price (support) and
// the closest level above it (resistance).
func NearestLevels(levels []float64, price float64) (support, resistance model.Optional[float64]) {
	for _, l := range levels {
		if l <= price {
			if !support.Valid || l > support.Value {
				support = model.Some(l)
			}
		} else if !resistance.Valid || l < resistance.Value {
			resistance = model.Some(l)
		}
	}
	return support, resistance
}
