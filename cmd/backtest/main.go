// cmd/backtest replays historical candles through a strategy, the paper
// fill simulator and the risk gate, then writes the equity curve, fills,
// trades and summary to the report directory.
//
// Usage:
//
//	go run ./cmd/backtest -config backtest.yaml
//	go run ./cmd/backtest -config sweep.yaml -sweep
//
// Every config key can be overridden with BACKTEST_<SECTION>_<KEY>, e.g.
// BACKTEST_DATA_SYMBOL=BANKNIFTY.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"
	ossignal "os/signal"
	"path/filepath"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"trading-backtestv1/config"
	"trading-backtestv1/internal/api"
	"trading-backtestv1/internal/backtest"
	"trading-backtestv1/internal/execution"
	"trading-backtestv1/internal/gateway"
	"trading-backtestv1/internal/logger"
	"trading-backtestv1/internal/marketdata/replay"
	"trading-backtestv1/internal/marketdata/tfbuilder"
	"trading-backtestv1/internal/markethours"
	"trading-backtestv1/internal/metrics"
	"trading-backtestv1/internal/model"
	"trading-backtestv1/internal/notification"
	"trading-backtestv1/internal/report"
	redisstore "trading-backtestv1/internal/store/redis"
	sqlitestore "trading-backtestv1/internal/store/sqlite"
	"trading-backtestv1/internal/strategy"
	"trading-backtestv1/internal/trace"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file (optional)")
	envFile := flag.String("env", ".env", "Dotenv file loaded before reading BACKTEST_* variables")
	sweep := flag.Bool("sweep", false, "Run every sweep.variants entry instead of the single strategy")
	runID := flag.String("run-id", "", "Override the generated run ID (single runs only)")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[backtest] %v\n", err)
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "[backtest] invalid config:\n%v\n", err)
		os.Exit(2)
	}

	log, err := logger.New("backtest", cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[backtest] %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	notifier := notification.Multi{notification.NewLogNotifier(log)}
	if cfg.Notify.WebhookURL != "" {
		notifier = append(notifier, notification.NewWebhookNotifier(cfg.Notify.WebhookURL, cfg.Notify.Timeout, log))
	}

	if err := run(cfg, *sweep, *runID, notifier, log); err != nil {
		log.Error("backtest failed", zap.Error(err))
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Notify.Timeout)
		notifier.Send(ctx, notification.FailureAlert(cfg.Strategy.DisplayName(), err))
		cancel()
		log.Sync()
		os.Exit(1)
	}
}

func run(cfg config.Config, sweep bool, runID string, notifier notification.Notifier, log *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warn("signal received, stopping", zap.String("signal", sig.String()))
		cancel()
	}()

	shutdownTrace, err := initTrace(cfg.Trace)
	if err != nil {
		return fmt.Errorf("trace init: %w", err)
	}
	defer shutdownTrace(context.Background())

	// ---- Candles ----
	src, sqlDB, err := openSource(cfg.Data, log)
	if err != nil {
		return err
	}
	defer src.Close()

	loaderOpts := []replay.Option{replay.WithPageSize(cfg.Data.PageSize), replay.WithLogger(log)}
	if cfg.Data.Session != "" {
		cal, err := markethours.Named(cfg.Data.Session)
		if err != nil {
			return fmt.Errorf("data.session: %w", err)
		}
		loaderOpts = append(loaderOpts, replay.WithSession(cal))
	}
	q, err := cfg.Query()
	if err != nil {
		return err
	}
	candles, err := replay.New(src, loaderOpts...).Load(ctx, q)
	if err != nil {
		return err
	}
	if len(candles) == 0 {
		return fmt.Errorf("no candles for %s %s in %s", q.Symbol, q.Interval, cfg.Data.Path)
	}
	bc, err := cfg.Backtest()
	if err != nil {
		return err
	}
	if cfg.Data.Resample != "" {
		iv, err := tfbuilder.ParseInterval(cfg.Data.Resample)
		if err != nil {
			return fmt.Errorf("data.resample: %w", err)
		}
		// align buckets to the run calendar's local day
		_, off := candles[0].Time().In(bc.Calendar.Location).Zone()
		n := len(candles)
		if candles, err = tfbuilder.Resample(candles, iv, time.Duration(off)*time.Second); err != nil {
			return err
		}
		q.Interval = cfg.Data.Resample
		log.Info("resampled candles", zap.Int("in", n), zap.Int("out", len(candles)), zap.String("interval", q.Interval))
	}

	var journal *execution.Journal
	if cfg.Journal.Path != "" {
		if journal, err = execution.NewJournal(cfg.Journal.Path, log); err != nil {
			return err
		}
		defer journal.Close()
	}

	// ---- Observability ----
	registry := api.NewResults()
	health := metrics.NewHealthStatus()
	reg := prometheus.NewRegistry()
	recorders := backtest.Recorders{metrics.NewRecorder(reg, health)}

	var srv *metrics.Server
	if cfg.Metrics.Addr != "" {
		hub := gateway.NewHub(cfg.Metrics.EquityEvery, cfg.Metrics.ReplaySize, log)
		defer hub.Close()
		recorders = append(recorders, hub)

		srv = metrics.NewServer(cfg.Metrics.Addr, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), health, log)
		srv.Handle("/ws", hub)
		var fills api.FillStore
		if journal != nil {
			fills = journal
		}
		srv.Handle("/api/v1/", api.NewRouter(registry, fills, log))
		srv.Start()
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer stopCancel()
			srv.Stop(stopCtx)
		}()
	}

	var pub *redisstore.Publisher
	var rdb *goredis.Client
	if cfg.Redis.Enabled {
		health.RedisEnabled = true
		pub, err = redisstore.New(ctx, redisstore.Config{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			StreamMaxLen: cfg.Redis.StreamMaxLen,
			EquityEvery:  cfg.Redis.EquityEvery,
			ResultTTL:    cfg.Redis.ResultTTL,
			MaxFailures:  cfg.Redis.MaxFailures,
			ResetTimeout: cfg.Redis.ResetTimeout,
		}, log)
		if err != nil {
			// results still land on disk; redis is best effort
			log.Warn("redis unavailable, publishing disabled", zap.Error(err))
		} else {
			defer pub.Close()
			rdb = pub.Client()
			recorders = append(recorders, pub)
		}
	}
	health.StartLivenessChecker(ctx, rdb, sqlDB, 15*time.Second)

	opts := []backtest.Option{backtest.WithLogger(log), backtest.WithRecorder(recorders)}
	if journal != nil {
		opts = append(opts, backtest.WithJournal(journal))
	}

	// ---- Run ----
	formats, err := report.ParseFormats(cfg.Report.Formats)
	if err != nil {
		return err
	}

	var results []*backtest.Result
	if sweep && len(cfg.Sweep.Variants) > 0 {
		variants, err := buildVariants(cfg, bc, log)
		if err != nil {
			return err
		}
		if results, err = backtest.Sweep(ctx, candles, variants, cfg.Sweep.Concurrency, opts...); err != nil {
			return err
		}
	} else {
		dec, err := cfg.Strategy.NewDecider(log)
		if err != nil {
			return err
		}
		sim, err := backtest.New(bc, dec, append(opts, backtest.WithRunID(runID))...)
		if err != nil {
			return err
		}
		res, err := sim.Run(ctx, candles)
		if err != nil {
			return err
		}
		results = []*backtest.Result{res}
	}

	// ---- Output ----
	for _, res := range results {
		dir := filepath.Join(cfg.Report.Dir, res.Strategy+"_"+shortID(res.RunID))
		paths, err := report.WriteAll(dir, res, formats)
		if err != nil {
			return err
		}
		registry.Add(res)
		log.Info("report written", zap.String("strategy", res.Strategy), zap.String("dir", dir), zap.Int("files", len(paths)))
		if pub != nil {
			if err := pub.PublishResult(res); err != nil {
				log.Warn("publish result failed", zap.Error(err))
			}
		}
		if err := notifier.Send(ctx, notification.RunAlert(res)); err != nil {
			log.Warn("notify failed", zap.Error(err))
		}
		printSummary(os.Stdout, q, res.Summary)
	}
	if len(results) > 1 {
		if err := writeSweepTable(cfg.Report.Dir, results); err != nil {
			return err
		}
	}

	if srv != nil && cfg.Metrics.Linger > 0 {
		log.Info("serving metrics after run", zap.Duration("linger", cfg.Metrics.Linger))
		select {
		case <-ctx.Done():
		case <-time.After(cfg.Metrics.Linger):
		}
	}
	return nil
}

// openSource opens the configured candle source. The *sql.DB is non-nil
// for the sqlite source so health checks can ping it.
func openSource(d config.DataConfig, log *zap.Logger) (model.CandleSource, *sql.DB, error) {
	switch d.Source {
	case "csv":
		src, err := replay.NewCSVSource(d.Path)
		return src, nil, err
	case "parquet":
		src, err := replay.NewParquetSource(d.Path)
		return src, nil, err
	default:
		r, err := sqlitestore.NewReader(d.Path, log)
		if err != nil {
			return nil, nil, err
		}
		return r, r.DB(), nil
	}
}

func buildVariants(cfg config.Config, bc backtest.Config, log *zap.Logger) ([]backtest.Variant, error) {
	variants := make([]backtest.Variant, 0, len(cfg.Sweep.Variants))
	for i := range cfg.Sweep.Variants {
		vc, err := cfg.Variant(i)
		if err != nil {
			return nil, fmt.Errorf("variant %d: %w", i, err)
		}
		// fail before any run starts if a decider cannot be built
		if _, err := vc.NewDecider(log); err != nil {
			return nil, fmt.Errorf("variant %s: %w", vc.DisplayName(), err)
		}
		variants = append(variants, backtest.Variant{
			Name:   vc.DisplayName(),
			Config: vc.Backtest(bc),
			NewDecider: func() strategy.Decider {
				// built once above, so this cannot fail
				d, _ := vc.NewDecider(log)
				return d
			},
		})
	}
	return variants, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func writeSweepTable(dir string, results []*backtest.Result) error {
	f, err := os.Create(filepath.Join(dir, "sweep.csv"))
	if err != nil {
		return fmt.Errorf("sweep table: %w", err)
	}
	defer f.Close()
	return report.WriteCSV(f, report.SweepRows(results))
}

func initTrace(tc config.TraceConfig) (func(context.Context) error, error) {
	if !tc.Enabled {
		return trace.Init("backtest", nil)
	}
	var w io.Writer = os.Stderr
	if tc.Output != "" {
		f, err := os.Create(tc.Output)
		if err != nil {
			return nil, err
		}
		w = f
	}
	return trace.Init("backtest", w)
}

func printSummary(w io.Writer, q model.CandleQuery, s backtest.Summary) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "╔══════════════════════════════════════╗")
	fmt.Fprintln(w, "║        BACKTEST COMPLETE             ║")
	fmt.Fprintln(w, "╠══════════════════════════════════════╣")
	fmt.Fprintf(w, "║  Strategy:     %-21s ║\n", s.Strategy)
	fmt.Fprintf(w, "║  Series:       %-21s ║\n", q.Symbol+" "+q.Interval)
	fmt.Fprintf(w, "║  Bars:         %-21d ║\n", s.Bars)
	fmt.Fprintf(w, "║  Trades:       %-21d ║\n", s.Trades)
	fmt.Fprintf(w, "║  Win rate:     %-21s ║\n", fmt.Sprintf("%.1f%%", s.WinRate*100))
	fmt.Fprintf(w, "║  Net P&L:      %-21.2f ║\n", s.NetPnL)
	fmt.Fprintf(w, "║  Fees:         %-21.2f ║\n", s.Fees)
	fmt.Fprintf(w, "║  Max drawdown: %-21s ║\n", fmt.Sprintf("%.2f%%", s.MaxDrawdown*100))
	fmt.Fprintf(w, "║  Sharpe:       %-21.3f ║\n", s.Sharpe)
	fmt.Fprintf(w, "║  Risk halts:   %-21d ║\n", s.Halts)
	fmt.Fprintln(w, "╚══════════════════════════════════════╝")
}
