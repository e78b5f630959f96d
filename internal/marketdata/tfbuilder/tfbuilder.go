// Package tfbuilder resamples candles into a coarser timeframe. Each input
// candle is merged into the forming bucket in O(1); when a candle lands in
// a later bucket the forming candle is finalized and emitted.
package tfbuilder

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"trading-backtestv1/internal/model"
)

// Builder resamples one ordered candle series. Not safe for concurrent use.
type Builder struct {
	intervalMs int64
	offsetMs   int64

	bucket  int64
	forming model.Candle
	count   int
	started bool
	lastIn  int64
}

// New creates a builder for interval. Buckets start at multiples of
// interval shifted by offset, so an offset of +5h30m aligns daily buckets
// to IST midnight.
func New(interval, offset time.Duration) (*Builder, error) {
	if interval < time.Millisecond {
		return nil, fmt.Errorf("tfbuilder: interval must be >= 1ms, got %v", interval)
	}
	return &Builder{
		intervalMs: interval.Milliseconds(),
		offsetMs:   offset.Milliseconds(),
	}, nil
}

// bucketOf returns the bucket start for a candle open time.
func (b *Builder) bucketOf(openTime int64) int64 {
	t := openTime + b.offsetMs
	q := t / b.intervalMs
	if t%b.intervalMs < 0 {
		q--
	}
	return q*b.intervalMs - b.offsetMs
}

// Add merges c into the forming bucket. When c starts a new bucket the
// previous candle is returned with ok=true. Candles must arrive in strictly
// increasing OpenTime order.
func (b *Builder) Add(c model.Candle) (closed model.Candle, ok bool, err error) {
	if b.started && c.OpenTime <= b.lastIn {
		return closed, false, &model.SequenceError{Index: -1, Prev: b.lastIn, Got: c.OpenTime}
	}
	b.lastIn = c.OpenTime
	bucket := b.bucketOf(c.OpenTime)

	if b.started && bucket > b.bucket {
		closed, ok = b.forming, true
		b.started = false
	}

	if !b.started {
		b.bucket = bucket
		b.forming = model.Candle{
			OpenTime: bucket,
			Open:     c.Open,
			High:     c.High,
			Low:      c.Low,
			Close:    c.Close,
			Volume:   c.Volume,
		}
		b.count = 1
		b.started = true
		return closed, ok, nil
	}

	fc := &b.forming
	if c.High > fc.High {
		fc.High = c.High
	}
	if c.Low < fc.Low {
		fc.Low = c.Low
	}
	fc.Close = c.Close
	fc.Volume += c.Volume
	b.count++
	return closed, ok, nil
}

// Forming returns the in-progress candle and how many inputs it merged.
func (b *Builder) Forming() (model.Candle, int, bool) {
	return b.forming, b.count, b.started
}

// Flush finalizes the forming candle, if any.
func (b *Builder) Flush() (model.Candle, bool) {
	if !b.started {
		return model.Candle{}, false
	}
	b.started = false
	return b.forming, true
}

// Resample converts an ordered series into interval candles. A trailing
// partial bucket is kept.
func Resample(candles []model.Candle, interval, offset time.Duration) ([]model.Candle, error) {
	b, err := New(interval, offset)
	if err != nil {
		return nil, err
	}
	out := make([]model.Candle, 0, len(candles)/int(max(1, b.intervalMs/60_000))+1)
	for i, c := range candles {
		closed, ok, err := b.Add(c)
		if err != nil {
			if se, isSeq := err.(*model.SequenceError); isSeq {
				se.Index = i
			}
			return nil, fmt.Errorf("tfbuilder: %w", err)
		}
		if ok {
			out = append(out, closed)
		}
	}
	if last, ok := b.Flush(); ok {
		out = append(out, last)
	}
	return out, nil
}

// ParseInterval parses bar labels such as "30s", "5m", "1h", "1d" or "1w".
func ParseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, fmt.Errorf("empty interval")
	}
	unit := s[len(s)-1]
	if unit == 'd' || unit == 'w' {
		n, err := strconv.Atoi(s[:len(s)-1])
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid interval %q", s)
		}
		d := time.Duration(n) * 24 * time.Hour
		if unit == 'w' {
			d *= 7
		}
		return d, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid interval %q", s)
	}
	return d, nil
}
