package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNonMonotonic marks a candle whose OpenTime is earlier than its predecessor.
	ErrNonMonotonic = errors.New("candle timestamps not increasing")
	// ErrDuplicateTimestamp marks two candles sharing an OpenTime.
	ErrDuplicateTimestamp = errors.New("duplicate candle timestamp")
)

// SequenceError reports the first ordering violation in a candle sequence.
type SequenceError struct {
	Index int   // index of the offending candle
	Prev  int64 // OpenTime of the candle before it
	Got   int64 // OpenTime of the offending candle
}

func (e *SequenceError) Error() string {
	kind := "non-monotonic"
	if e.Prev == e.Got {
		kind = "duplicate"
	}
	return fmt.Sprintf("%s candle timestamp at index %d: prev=%d got=%d", kind, e.Index, e.Prev, e.Got)
}

// Unwrap lets errors.Is match ErrNonMonotonic or ErrDuplicateTimestamp.
func (e *SequenceError) Unwrap() error {
	if e.Prev == e.Got {
		return ErrDuplicateTimestamp
	}
	return ErrNonMonotonic
}

// ValidateSequence checks that OpenTime is strictly increasing.
// Gaps are allowed.
func ValidateSequence(candles []Candle) error {
	for i := 1; i < len(candles); i++ {
		if candles[i].OpenTime <= candles[i-1].OpenTime {
			return &SequenceError{Index: i, Prev: candles[i-1].OpenTime, Got: candles[i].OpenTime}
		}
	}
	return nil
}
