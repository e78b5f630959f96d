package model

// Optional holds a value that may be absent. The zero value is absent.
type Optional[T any] struct {
	Value T
	Valid bool
}

// Some wraps a present value.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Value: v, Valid: true}
}

// None returns an absent value.
func None[T any]() Optional[T] {
	return Optional[T]{}
}

// Get returns the value and whether it is present.
func (o Optional[T]) Get() (T, bool) {
	return o.Value, o.Valid
}

// Or returns the value if present, otherwise fallback.
func (o Optional[T]) Or(fallback T) T {
	if o.Valid {
		return o.Value
	}
	return fallback
}

// Series is an ordered sequence aligned 1:1 by index with a candle sequence.
// Entries before an indicator's warm-up length are absent, never zero.
type Series[T any] []Optional[T]

// NewSeries returns a series of n absent entries.
func NewSeries[T any](n int) Series[T] {
	return make(Series[T], n)
}

// At returns the entry at i, or absent when i is out of range.
func (s Series[T]) At(i int) Optional[T] {
	if i < 0 || i >= len(s) {
		return Optional[T]{}
	}
	return s[i]
}

// Last returns the final entry, or absent for an empty series.
func (s Series[T]) Last() Optional[T] {
	return s.At(len(s) - 1)
}

// Present counts the entries that hold a value.
func (s Series[T]) Present() int {
	n := 0
	for _, o := range s {
		if o.Valid {
			n++
		}
	}
	return n
}

// FirstValid returns the index of the first present entry, or -1.
func (s Series[T]) FirstValid() int {
	for i, o := range s {
		if o.Valid {
			return i
		}
	}
	return -1
}

// Values converts the series into a plain slice, substituting fallback for
// absent entries. Meant for reporting and reference comparisons only.
func (s Series[T]) Values(fallback T) []T {
	out := make([]T, len(s))
	for i, o := range s {
		out[i] = o.Or(fallback)
	}
	return out
}

// FromValues builds a fully present series.
func FromValues[T any](vals []T) Series[T] {
	out := make(Series[T], len(vals))
	for i, v := range vals {
		out[i] = Some(v)
	}
	return out
}
