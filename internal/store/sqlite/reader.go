package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"trading-backtestv1/internal/model"
)

// Reader provides read-only paged access to the candles table.
type Reader struct {
	db  *sql.DB
	log *zap.Logger
}

// NewReader opens a SQLite connection for reading.
func NewReader(dbPath string, log *zap.Logger) (*Reader, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := sql.Open("sqlite3", dbPath+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log = log.Named("sqlite-reader")
	log.Info("opened database", zap.String("path", dbPath))
	return &Reader{db: db, log: log}, nil
}

// DB returns the underlying sql.DB for health checks.
func (r *Reader) DB() *sql.DB { return r.db }

// ReadCandles returns up to limit candles for q.Symbol and q.Interval with
// open_time > after, ordered by open_time ascending. limit <= 0 reads
// everything.
func (r *Reader) ReadCandles(ctx context.Context, q model.CandleQuery, after int64, limit int) ([]model.Candle, error) {
	hint := limit
	if limit <= 0 {
		limit, hint = -1, 0
	}
	var (
		where strings.Builder
		args  = []interface{}{q.Symbol, q.Interval, after}
	)
	where.WriteString("symbol = ? AND interval = ? AND open_time > ?")
	if q.From != 0 {
		where.WriteString(" AND open_time >= ?")
		args = append(args, q.From)
	}
	if q.To != 0 {
		where.WriteString(" AND open_time < ?")
		args = append(args, q.To)
	}
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, `
		SELECT open_time, open, high, low, close, volume
		FROM candles
		WHERE `+where.String()+`
		ORDER BY open_time ASC
		LIMIT ?
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()

	candles := make([]model.Candle, 0, hint)
	for rows.Next() {
		var c model.Candle
		if err := rows.Scan(&c.OpenTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("sqlite scan candles: %w", err)
		}
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// Series lists the stored (symbol, interval) pairs.
func (r *Reader) Series(ctx context.Context) ([][2]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT DISTINCT symbol, interval FROM candles ORDER BY symbol, interval`)
	if err != nil {
		return nil, fmt.Errorf("sqlite query series: %w", err)
	}
	defer rows.Close()

	var out [][2]string
	for rows.Next() {
		var s [2]string
		if err := rows.Scan(&s[0], &s[1]); err != nil {
			return nil, fmt.Errorf("sqlite scan series: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Close closes the reader.
func (r *Reader) Close() error {
	return r.db.Close()
}

var _ model.CandleSource = (*Reader)(nil)
