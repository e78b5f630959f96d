package model

import "context"

// ── Port Interfaces ──
// These interfaces decouple the replay core from concrete storage
// implementations (SQLite, CSV, Parquet, Redis).

// CandleQuery selects a range of candles from a source.
type CandleQuery struct {
	Symbol   string
	Interval string
	From     int64 // inclusive OpenTime in unix ms (0 = no lower bound)
	To       int64 // exclusive OpenTime in unix ms (0 = no upper bound)
}

// CandleSource pages historical candles in OpenTime order.
type CandleSource interface {
	// ReadCandles returns at most limit candles with OpenTime > after that
	// match q. An empty result means the source is exhausted.
	ReadCandles(ctx context.Context, q CandleQuery, after int64, limit int) ([]Candle, error)

	// Close releases underlying resources.
	Close() error
}

// FillRecorder persists fills as they happen.
type FillRecorder interface {
	RecordFill(ctx context.Context, runID string, fill Fill) error
}
