// Package replay loads historical candles from a model.CandleSource page by
// page and hands them to the backtest in strict OpenTime order.
package replay

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"trading-backtestv1/internal/markethours"
	"trading-backtestv1/internal/model"
)

// DefaultPageSize is the number of candles requested per source read.
const DefaultPageSize = 5000

// Loader pages candles out of a source.
type Loader struct {
	src      model.CandleSource
	pageSize int
	session  *markethours.Calendar
	log      *zap.Logger
}

// Option customizes a Loader.
type Option func(*Loader)

// WithPageSize sets the page size; n <= 0 keeps the default.
func WithPageSize(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.pageSize = n
		}
	}
}

// WithSession keeps only candles whose OpenTime falls inside the
// calendar's trading session.
func WithSession(cal markethours.Calendar) Option {
	return func(l *Loader) { l.session = &cal }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(l *Loader) {
		if log != nil {
			l.log = log
		}
	}
}

// New creates a Loader over src.
func New(src model.CandleSource, opts ...Option) *Loader {
	l := &Loader{src: src, pageSize: DefaultPageSize, log: zap.NewNop()}
	for _, o := range opts {
		o(l)
	}
	l.log = l.log.Named("replay")
	return l
}

// startCursor returns the "after" cursor for the first page of q.
func startCursor(q model.CandleQuery) int64 {
	if q.From > math.MinInt64 && q.From != 0 {
		return q.From - 1
	}
	return math.MinInt64
}

// Load reads every candle matching q. Pages are requested until the source
// returns an empty page; ctx is checked between pages. The result is
// validated with model.ValidateSequence.
func (l *Loader) Load(ctx context.Context, q model.CandleQuery) ([]model.Candle, error) {
	start := time.Now()
	var out []model.Candle
	err := l.each(ctx, q, func(page []model.Candle) error {
		out = append(out, page...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := model.ValidateSequence(out); err != nil {
		return nil, fmt.Errorf("replay %s %s: %w", q.Symbol, q.Interval, err)
	}
	if len(out) == 0 {
		l.log.Warn("no candles found", zap.String("symbol", q.Symbol), zap.String("interval", q.Interval))
		return out, nil
	}
	l.log.Info("loaded candles",
		zap.String("symbol", q.Symbol),
		zap.String("interval", q.Interval),
		zap.Int("count", len(out)),
		zap.Time("first", out[0].Time()),
		zap.Time("last", out[len(out)-1].Time()),
		zap.Duration("elapsed", time.Since(start)))
	return out, nil
}

// Stream sends every candle matching q to out in order and returns when the
// source is exhausted or ctx is cancelled. out is not closed.
func (l *Loader) Stream(ctx context.Context, q model.CandleQuery, out chan<- model.Candle) (int, error) {
	emitted := 0
	prev := int64(math.MinInt64)
	err := l.each(ctx, q, func(page []model.Candle) error {
		for i, c := range page {
			if emitted+i > 0 && c.OpenTime <= prev {
				return fmt.Errorf("replay %s %s: %w", q.Symbol, q.Interval,
					&model.SequenceError{Index: emitted + i, Prev: prev, Got: c.OpenTime})
			}
			prev = c.OpenTime
			select {
			case <-ctx.Done():
				return ctx.Err()
			case out <- c:
			}
		}
		emitted += len(page)
		return nil
	})
	if err != nil {
		l.log.Warn("stream stopped", zap.Int("emitted", emitted), zap.Error(err))
		return emitted, err
	}
	l.log.Info("stream completed", zap.Int("emitted", emitted))
	return emitted, nil
}

// each walks q page by page. The session filter runs after pagination so
// the cursor always advances over raw source rows.
func (l *Loader) each(ctx context.Context, q model.CandleQuery, fn func([]model.Candle) error) error {
	after := startCursor(q)
	for pages := 0; ; pages++ {
		select {
		case <-ctx.Done():
			l.log.Warn("load cancelled", zap.Int("pages", pages))
			return ctx.Err()
		default:
		}

		page, err := l.src.ReadCandles(ctx, q, after, l.pageSize)
		if err != nil {
			return fmt.Errorf("replay read page %d: %w", pages, err)
		}
		if len(page) == 0 {
			return nil
		}
		last := page[len(page)-1].OpenTime
		if last <= after {
			return fmt.Errorf("replay page %d: cursor did not advance past %d", pages, after)
		}
		after = last

		if l.session != nil {
			page = l.inSession(page)
		}
		if err := fn(page); err != nil {
			return err
		}
	}
}

func (l *Loader) inSession(page []model.Candle) []model.Candle {
	kept := make([]model.Candle, 0, len(page))
	for _, c := range page {
		if l.session.IsOpen(c.Time()) {
			kept = append(kept, c)
		}
	}
	return kept
}
