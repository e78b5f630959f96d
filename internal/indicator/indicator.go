// Package indicator provides technical indicator calculations over candle data.
//
// Smoothing primitives exist in two forms: streaming kernels (SMA, EMA,
// SMMA, RSI) that update in O(1) per value, and series functions that drive
// a kernel across a model.Series. Every series function returns a series of
// the same length as its input; entries without enough history are absent.
package indicator

import "trading-backtestv1/internal/model"

// Indicator is the interface for streaming smoothing kernels.
type Indicator interface {
	// Name returns the indicator name (e.g., "SMA_20", "EMA_9").
	Name() string

	// Update feeds the next value and recalculates.
	Update(v float64)

	// Value returns the current calculated value. Returns 0 if not enough data.
	Value() float64

	// Ready returns true when enough data has been accumulated.
	Ready() bool

	// Peek computes what Value() would be if v were added next,
	// WITHOUT mutating internal state.
	Peek(v float64) float64

	// Reset clears all state so the kernel must warm up again.
	Reset()
}

// drive feeds src through k. An absent input produces an absent output
// and resets the kernel.
func drive(src model.Series[float64], k Indicator) model.Series[float64] {
	out := model.NewSeries[float64](len(src))
	for i, o := range src {
		if !o.Valid {
			k.Reset()
			continue
		}
		k.Update(o.Value)
		if k.Ready() {
			out[i] = model.Some(k.Value())
		}
	}
	return out
}

// SMASeries returns the simple moving average of src.
func SMASeries(src model.Series[float64], period int) model.Series[float64] {
	if period <= 0 {
		return model.NewSeries[float64](len(src))
	}
	return drive(src, NewSMA(period))
}

// EMASeries returns the exponential moving average of src, seeded by the SMA
// of the first period values.
func EMASeries(src model.Series[float64], period int) model.Series[float64] {
	if period <= 0 {
		return model.NewSeries[float64](len(src))
	}
	return drive(src, NewEMA(period))
}

// SMMASeries returns Wilder smoothing of src (EMA recursion with k = 1/period).
func SMMASeries(src model.Series[float64], period int) model.Series[float64] {
	if period <= 0 {
		return model.NewSeries[float64](len(src))
	}
	return drive(src, NewSMMA(period))
}

// RSISeries returns the Relative Strength Index of closes. The first value
// appears at index period, once period deltas are available.
func RSISeries(closes model.Series[float64], period int) model.Series[float64] {
	if period <= 0 {
		return model.NewSeries[float64](len(closes))
	}
	return drive(closes, NewRSI(period))
}
