// cmd/candleimport loads a CSV or Parquet candle file into the SQLite
// candle store read by cmd/backtest.
//
// Usage:
//
//	go run ./cmd/candleimport -in nifty_1m.csv -symbol NIFTY -interval 1m -db data/candles.db
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	ossignal "os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trading-backtestv1/internal/logger"
	"trading-backtestv1/internal/marketdata/replay"
	"trading-backtestv1/internal/model"
	sqlitestore "trading-backtestv1/internal/store/sqlite"
)

func main() {
	in := flag.String("in", "", "Input file (.csv or .parquet)")
	symbol := flag.String("symbol", "", "Symbol to store the candles under")
	interval := flag.String("interval", "1m", "Bar interval label")
	dbPath := flag.String("db", "data/candles.db", "Path to SQLite database")
	batch := flag.Int("batch", 500, "Rows per insert transaction")
	level := flag.String("log-level", "info", "Log level")
	flag.Parse()

	log, err := logger.New("candleimport", *level, "console")
	if err != nil {
		fmt.Fprintf(os.Stderr, "[candleimport] %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if *in == "" || *symbol == "" {
		log.Fatal("-in and -symbol are required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	n, err := importFile(ctx, *in, *symbol, *interval, *dbPath, *batch, log)
	if err != nil {
		log.Fatal("import failed", zap.Error(err))
	}
	fmt.Printf("imported %d candles for %s %s into %s\n", n, *symbol, *interval, *dbPath)
}

// importFile streams the file into the store: the loader validates order
// while the writer batches inserts.
func importFile(ctx context.Context, path, symbol, interval, dbPath string, batch int, log *zap.Logger) (int, error) {
	var (
		src *replay.MemorySource
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".parquet":
		src, err = replay.NewParquetSource(path)
	default:
		src, err = replay.NewCSVSource(path)
	}
	if err != nil {
		return 0, err
	}

	w, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: dbPath, BatchSize: batch}, log)
	if err != nil {
		return 0, err
	}
	defer w.Close()

	start := time.Now()
	ch := make(chan model.Candle, batch)
	var written int

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(ch)
		_, err := replay.New(src, replay.WithLogger(log)).Stream(gctx, model.CandleQuery{Symbol: symbol, Interval: interval}, ch)
		return err
	})
	g.Go(func() error {
		var err error
		written, err = w.Run(gctx, symbol, interval, ch)
		return err
	})
	if err := g.Wait(); err != nil {
		return written, err
	}

	total, err := w.Count(ctx, symbol, interval)
	if err != nil {
		return written, err
	}
	log.Info("import complete",
		zap.String("symbol", symbol),
		zap.Int("written", written),
		zap.Int("stored", total),
		zap.Duration("elapsed", time.Since(start)))
	return written, nil
}
