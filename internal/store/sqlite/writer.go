// Package sqlite stores historical candles in a single SQLite table keyed
// by (symbol, interval, open_time).
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"trading-backtestv1/internal/model"
)

const (
	defaultBatchSize  = 500
	defaultFlushDelay = 200 * time.Millisecond
)

const dsnParams = "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath    string // path to SQLite database file, e.g. "data/candles.db"
	BatchSize int    // candles per transaction in Run, 0 = default
}

// Writer is a single-connection SQLite writer with transaction batching.
type Writer struct {
	db    *sql.DB
	batch int
	log   *zap.Logger
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New creates a new SQLite Writer, initializing the database with WAL mode and schema.
func New(cfg WriterConfig, log *zap.Logger) (*Writer, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := sql.Open("sqlite3", cfg.DBPath+dsnParams)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	log = log.Named("sqlite")
	log.Info("opened database", zap.String("path", cfg.DBPath))
	return &Writer{db: db, batch: batch, log: log}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			symbol     TEXT    NOT NULL,
			interval   TEXT    NOT NULL,
			open_time  INTEGER NOT NULL,
			open       REAL    NOT NULL,
			high       REAL    NOT NULL,
			low        REAL    NOT NULL,
			close      REAL    NOT NULL,
			volume     REAL    NOT NULL DEFAULT 0,
			PRIMARY KEY (symbol, interval, open_time)
		);
	`)
	return err
}

// WriteBatch upserts candles in a single transaction. A later candle with
// the same open_time replaces the stored one.
func (w *Writer) WriteBatch(ctx context.Context, symbol, interval string, candles []model.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO candles (symbol, interval, open_time, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite prepare: %w", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.ExecContext(ctx, symbol, interval, c.OpenTime, c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite insert %d: %w", c.OpenTime, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite commit: %w", err)
	}
	return nil
}

// Run reads candles from candleCh and inserts them in batched transactions.
// Flushes every BatchSize candles OR every flush delay, whichever first.
// Blocks until candleCh is closed or ctx is cancelled and returns the
// number of candles written along with the first write error.
func (w *Writer) Run(ctx context.Context, symbol, interval string, candleCh <-chan model.Candle) (int, error) {
	batch := make([]model.Candle, 0, w.batch)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	written := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		start := time.Now()
		// Flush on a background context so a cancelled run still commits.
		if err := w.WriteBatch(context.Background(), symbol, interval, batch); err != nil {
			return err
		}
		written += len(batch)
		w.log.Debug("committed candles",
			zap.Int("count", len(batch)),
			zap.Duration("elapsed", time.Since(start)))
		batch = batch[:0]
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			if err := flush(); err != nil {
				return written, err
			}
			return written, ctx.Err()

		case candle, ok := <-candleCh:
			if !ok {
				return written, flush()
			}
			batch = append(batch, candle)
			if len(batch) >= w.batch {
				if err := flush(); err != nil {
					return written, err
				}
				timer.Reset(defaultFlushDelay)
			}

		case <-timer.C:
			if err := flush(); err != nil {
				return written, err
			}
			timer.Reset(defaultFlushDelay)
		}
	}
}

// Count returns the number of stored candles for symbol and interval.
func (w *Writer) Count(ctx context.Context, symbol, interval string) (int, error) {
	var n int
	err := w.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM candles WHERE symbol = ? AND interval = ?`, symbol, interval).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite count: %w", err)
	}
	return n, nil
}

// Close closes the writer.
func (w *Writer) Close() error {
	return w.db.Close()
}
