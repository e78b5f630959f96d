package backtest

import (
	"context"
	"errors"
	"math"
	"reflect"
	"testing"

	"trading-backtestv1/internal/execution"
	"trading-backtestv1/internal/model"
	"trading-backtestv1/internal/portfolio"
	"trading-backtestv1/internal/strategy"
)

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.8f, want %.8f (tol=%.8f)", label, got, want, tol)
	}
}

const minute = int64(60_000)

func bars(ohlc ...[4]float64) []model.Candle {
	out := make([]model.Candle, len(ohlc))
	for i, b := range ohlc {
		out[i] = model.Candle{OpenTime: int64(i) * minute, Open: b[0], High: b[1], Low: b[2], Close: b[3], Volume: 1000}
	}
	return out
}

// wave builds n bars of a drifting sine so crossover strategies trade.
func wave(n int) []model.Candle {
	out := make([]model.Candle, n)
	prev := 100.0
	for i := range out {
		c := 100 + 10*math.Sin(float64(i)/8) + 0.05*float64(i)
		out[i] = model.Candle{
			OpenTime: int64(i) * minute,
			Open:     prev,
			High:     math.Max(prev, c) + 0.5,
			Low:      math.Min(prev, c) - 0.5,
			Close:    c,
			Volume:   500 + float64(i%7)*100,
		}
		prev = c
	}
	return out
}

func quietConfig() Config {
	cfg := DefaultConfig()
	cfg.Fill = execution.FillConfig{}
	cfg.Risk = portfolio.Limits{}
	return cfg
}

func runScript(t *testing.T, cfg Config, candles []model.Candle, steps map[int64]strategy.Decision) *Result {
	t.Helper()
	sim, err := New(cfg, strategy.NewScripted("script", steps))
	if err != nil {
		t.Fatal(err)
	}
	res, err := sim.Run(context.Background(), candles)
	if err != nil {
		t.Fatal(err)
	}
	return res
}

// ────────────────────────────────────────────────────────────
// End-to-end
// ────────────────────────────────────────────────────────────

func TestRun_LimitEntryTakeProfitNetOfFees(t *testing.T) {
	// Buy 1 @ 100 (maker 0.01%), take profit @ 110 (maker 0.01%):
	// (110 − 100)×1 − 100×0.0001 − 110×0.0001 = 9.979
	cfg := quietConfig()
	cfg.InitialCapital = 0
	cfg.FixedQty = 1
	cfg.Fill.MakerFee = 0.0001
	cfg.Fill.TakerFee = 0.0001

	candles := bars(
		[4]float64{100, 101, 99, 100},
		[4]float64{101, 102, 99, 101},  // entry fills at 100
		[4]float64{105, 111, 104, 108}, // target fills at 110
		[4]float64{108, 109, 107, 108},
	)
	res := runScript(t, cfg, candles, map[int64]strategy.Decision{
		0: {Action: strategy.ActionBuy, Entry: model.Some(100.0), Target: model.Some(110.0), Confidence: 1},
	})

	if len(res.Fills) != 2 {
		t.Fatalf("fills = %+v", res.Fills)
	}
	entry, exit := res.Fills[0], res.Fills[1]
	if entry.Timestamp != minute || entry.Purpose != model.PurposeEntry || !entry.IsMaker {
		t.Errorf("entry %+v", entry)
	}
	assertClose(t, "entry price", entry.Price, 100, 0)
	assertClose(t, "entry fee", entry.Fee, 0.01, 1e-12)
	if exit.Timestamp != 2*minute || exit.Purpose != model.PurposeTakeProfit {
		t.Errorf("exit %+v", exit)
	}
	assertClose(t, "exit price", exit.Price, 110, 0)
	assertClose(t, "exit fee", exit.Fee, 0.011, 1e-12)

	assertClose(t, "net pnl", res.Summary.NetPnL, 9.979, 1e-9)
	assertClose(t, "final equity", res.Summary.FinalEquity, 9.979, 1e-9)
	if len(res.Trades) != 1 || !res.Trades[0].Won() || res.Summary.WinRate != 1 {
		t.Errorf("trades %+v win rate %v", res.Trades, res.Summary.WinRate)
	}
	assertClose(t, "trade net", res.Trades[0].NetPnL, 9.979, 1e-9)
	if res.Equity[3].Position != 0 {
		t.Errorf("position should be flat after target, got %v", res.Equity[3].Position)
	}
}

func TestRun_EquityIdentityEveryBar(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialCapital = 0
	cfg.FixedQty = 2
	cfg.Risk = portfolio.Limits{}
	sim, err := New(cfg, strategy.NewSMACrossover(3, 8, 0, true, nil))
	if err != nil {
		t.Fatal(err)
	}
	res, err := sim.Run(context.Background(), wave(200))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Fills) == 0 {
		t.Fatal("expected the crossover to trade")
	}
	for i, p := range res.Equity {
		assertClose(t, "identity", p.Equity, p.Realized-p.Fees+p.Unrealized, 1e-9)
		if i > 0 && p.Timestamp <= res.Equity[i-1].Timestamp {
			t.Fatalf("equity curve out of order at %d", i)
		}
	}
	if len(res.Equity) != 200 {
		t.Errorf("equity points = %d", len(res.Equity))
	}
}

func TestRun_DecisionFillsOnNextBar(t *testing.T) {
	candles := bars(
		[4]float64{100, 101, 99, 100},
		[4]float64{102, 103, 101, 102},
		[4]float64{103, 104, 102, 103},
		[4]float64{99, 100, 98, 99},
	)
	cfg := quietConfig()
	cfg.FixedQty = 1
	res := runScript(t, cfg, candles, map[int64]strategy.Decision{
		0:          {Action: strategy.ActionBuy, Confidence: 1},
		2 * minute: {Action: strategy.ActionClose, Confidence: 1},
	})
	if len(res.Fills) != 2 {
		t.Fatalf("fills %+v", res.Fills)
	}
	// market orders fill at the next bar's open
	assertClose(t, "entry", res.Fills[0].Price, 102, 0)
	assertClose(t, "exit", res.Fills[1].Price, 99, 0)
	if res.Fills[1].Purpose != model.PurposeExit || res.Fills[1].Timestamp != 3*minute {
		t.Errorf("exit %+v", res.Fills[1])
	}
	assertClose(t, "net", res.Summary.NetPnL, -3, 1e-12)
}

func TestRun_OppositeDecisionFlips(t *testing.T) {
	candles := bars(
		[4]float64{100, 101, 99, 100},
		[4]float64{100, 101, 99, 100},
		[4]float64{100, 101, 99, 100},
		[4]float64{100, 101, 99, 100},
	)
	cfg := quietConfig()
	cfg.FixedQty = 1
	res := runScript(t, cfg, candles, map[int64]strategy.Decision{
		0:          {Action: strategy.ActionBuy, Confidence: 1},
		minute:     {Action: strategy.ActionBuy, Confidence: 1}, // already long
		2 * minute: {Action: strategy.ActionSell, Confidence: 1},
	})
	if len(res.Fills) != 3 {
		t.Fatalf("fills %+v", res.Fills)
	}
	if res.Fills[1].Purpose != model.PurposeExit || res.Fills[2].Purpose != model.PurposeEntry {
		t.Errorf("flip should exit then enter: %+v", res.Fills)
	}
	if got := res.Equity[3].Position; got != -1 {
		t.Errorf("position = %v, want -1", got)
	}
	if len(res.Trades) != 1 {
		t.Errorf("trades = %d", len(res.Trades))
	}
}

func TestRun_RiskSizing(t *testing.T) {
	candles := bars(
		[4]float64{100, 101, 99, 100},
		[4]float64{100, 101, 99, 100},
	)
	cfg := quietConfig()
	cfg.InitialCapital = 10_000
	cfg.Risk = portfolio.Limits{RiskPct: 0.01, LeverageCap: 1}
	res := runScript(t, cfg, candles, map[int64]strategy.Decision{
		0: {Action: strategy.ActionBuy, Stop: model.Some(95.0), Confidence: 1},
	})
	// 10000 × 0.01 / |100 − 95| = 20
	if len(res.Fills) != 1 {
		t.Fatalf("fills %+v", res.Fills)
	}
	assertClose(t, "qty", res.Fills[0].Qty, 20, 1e-9)
}

// ────────────────────────────────────────────────────────────
// Risk gate
// ────────────────────────────────────────────────────────────

func TestRun_RestingLimitEntryKeepsItsStop(t *testing.T) {
	cfg := quietConfig()
	cfg.InitialCapital = 0
	cfg.FixedQty = 1
	candles := bars(
		[4]float64{104, 105, 103, 104},
		[4]float64{104, 105, 102, 103}, // limit 100 not reached
		[4]float64{102, 103, 99, 101},  // entry fills @ 100
		[4]float64{100, 100, 90, 91},   // stop fires @ 95
		[4]float64{91, 92, 90, 91},
	)
	res := runScript(t, cfg, candles, map[int64]strategy.Decision{
		0: {Action: strategy.ActionBuy, Entry: model.Some(100.0), Stop: model.Some(95.0), Target: model.Some(120.0), Confidence: 1},
	})

	if len(res.Fills) != 2 {
		t.Fatalf("expected entry and stop fills, got %+v", res.Fills)
	}
	if f := res.Fills[0]; f.Purpose != model.PurposeEntry || f.Timestamp != 2*minute {
		t.Errorf("entry %+v", f)
	}
	stop := res.Fills[1]
	if stop.Purpose != model.PurposeStopLoss || stop.Timestamp != 3*minute {
		t.Errorf("stop %+v", stop)
	}
	assertClose(t, "stop price", stop.Price, 95, 0)
	if res.Equity[4].Position != 0 {
		t.Errorf("final position %v", res.Equity[4].Position)
	}
	assertClose(t, "net", res.Summary.NetPnL, -5, 1e-9)
}

func TestRun_DrawdownForcesClose(t *testing.T) {
	candles := bars(
		[4]float64{100, 101, 99, 100},
		[4]float64{100, 101, 99, 100}, // entry @ 100
		[4]float64{100, 100, 89, 90},  // equity 900: drawdown 10%
		[4]float64{90, 91, 88, 89},    // force close @ 90
		[4]float64{89, 95, 88, 94},
	)
	cfg := quietConfig()
	cfg.InitialCapital = 1000
	cfg.FixedQty = 10
	cfg.Risk = portfolio.Limits{MaxDrawdownPct: 0.05}
	res := runScript(t, cfg, candles, map[int64]strategy.Decision{
		0:          {Action: strategy.ActionBuy, Confidence: 1},
		3 * minute: {Action: strategy.ActionBuy, Confidence: 1},
	})

	if len(res.Fills) != 2 {
		t.Fatalf("fills %+v", res.Fills)
	}
	fc := res.Fills[1]
	if fc.Purpose != model.PurposeForceClose || fc.Side != model.Sell || fc.Timestamp != 3*minute {
		t.Errorf("force close %+v", fc)
	}
	assertClose(t, "force close price", fc.Price, 90, 0)
	if len(res.Halts) != 1 || res.Halts[0].Reason != portfolio.ReasonDrawdown || res.Halts[0].Timestamp != 2*minute {
		t.Errorf("halts %+v", res.Halts)
	}
	for i, p := range res.Equity {
		if want := i >= 2; p.Halted != want {
			t.Errorf("bar %d halted = %v", i, p.Halted)
		}
	}
	if res.Equity[4].Position != 0 {
		t.Error("entries after the halt must be blocked")
	}
	assertClose(t, "net", res.Summary.NetPnL, -100, 1e-9)
}

func TestRun_DailyLossHaltClearsNextDay(t *testing.T) {
	const day = int64(86_400_000)
	candles := bars(
		[4]float64{100, 101, 99, 100},
		[4]float64{100, 101, 99, 100}, // entry @ 100
		[4]float64{100, 100, 93, 94},  // equity 940: day loss 6%
		[4]float64{94, 95, 93, 94},    // force close @ 94
		[4]float64{94, 95, 93, 94},    // midnight: halt cleared
		[4]float64{95, 96, 94, 95},    // entry @ 95
	)
	// last four minutes of day one, then the first two of day two
	start := day - 4*minute
	for i := range candles {
		candles[i].OpenTime = start + int64(i)*minute
	}
	cfg := quietConfig()
	cfg.InitialCapital = 1000
	cfg.FixedQty = 10
	cfg.Risk = portfolio.Limits{MaxDailyLossPct: 0.05}
	buy := strategy.Decision{Action: strategy.ActionBuy, Confidence: 1}
	res := runScript(t, cfg, candles, map[int64]strategy.Decision{
		start:            buy,
		start + 3*minute: buy, // blocked
		day:              buy,
	})

	if len(res.Fills) != 3 {
		t.Fatalf("fills %+v", res.Fills)
	}
	fc := res.Fills[1]
	if fc.Purpose != model.PurposeForceClose || fc.Timestamp != start+3*minute {
		t.Errorf("force close %+v", fc)
	}
	assertClose(t, "force close price", fc.Price, 94, 0)
	if f := res.Fills[2]; f.Purpose != model.PurposeEntry || f.Timestamp != day+minute {
		t.Errorf("next day entry %+v", f)
	}
	assertClose(t, "next day entry price", res.Fills[2].Price, 95, 0)

	if len(res.Halts) != 1 || res.Halts[0].Reason != portfolio.ReasonDailyLoss || res.Halts[0].Timestamp != start+2*minute {
		t.Errorf("halts %+v", res.Halts)
	}
	for i, p := range res.Equity {
		if want := i == 2 || i == 3; p.Halted != want {
			t.Errorf("bar %d halted = %v", i, p.Halted)
		}
	}
	if res.Equity[5].Position != 10 {
		t.Errorf("position %v, want 10", res.Equity[5].Position)
	}
}

// ────────────────────────────────────────────────────────────
// Determinism and errors
// ────────────────────────────────────────────────────────────

func TestRun_Deterministic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Fill.Seed = 7
	cfg.Fill.LiquidityCap = 0.01
	candles := wave(400)

	var prev *Result
	for i := 0; i < 2; i++ {
		sim, err := New(cfg, strategy.NewSignalStrategy(strategy.DefaultSignalConfig(), nil))
		if err != nil {
			t.Fatal(err)
		}
		res, err := sim.Run(context.Background(), candles)
		if err != nil {
			t.Fatal(err)
		}
		if prev != nil {
			if !reflect.DeepEqual(prev.Fills, res.Fills) {
				t.Error("fills differ between identical runs")
			}
			if !reflect.DeepEqual(prev.Equity, res.Equity) {
				t.Error("equity differs between identical runs")
			}
			if prev.RunID == res.RunID {
				t.Error("run ids should be unique")
			}
		}
		prev = res
	}
}

func TestRun_SequenceError(t *testing.T) {
	candles := bars(
		[4]float64{100, 101, 99, 100},
		[4]float64{100, 101, 99, 100},
	)
	candles[1].OpenTime = candles[0].OpenTime

	sim, err := New(quietConfig(), strategy.NewScripted("s", nil))
	if err != nil {
		t.Fatal(err)
	}
	_, err = sim.Run(context.Background(), candles)
	var seq *model.SequenceError
	if !errors.As(err, &seq) || seq.Index != 1 {
		t.Fatalf("expected SequenceError at index 1, got %v", err)
	}
	if !errors.Is(err, model.ErrDuplicateTimestamp) {
		t.Errorf("expected ErrDuplicateTimestamp, got %v", err)
	}
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sim, err := New(quietConfig(), strategy.NewScripted("s", nil))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sim.Run(ctx, wave(10)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNew_RejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Fill.MakerFee = -1
	if _, err := New(cfg, strategy.NewScripted("s", nil)); err == nil {
		t.Error("expected error for negative fee")
	}
	if _, err := New(DefaultConfig(), nil); err == nil {
		t.Error("expected error for nil decider")
	}
}

// ────────────────────────────────────────────────────────────
// Statistics
// ────────────────────────────────────────────────────────────

func points(eq ...float64) []model.EquityPoint {
	out := make([]model.EquityPoint, len(eq))
	for i, e := range eq {
		out[i] = model.EquityPoint{Timestamp: int64(i), Equity: e}
	}
	return out
}

func TestMaxDrawdown(t *testing.T) {
	// peaks 110 then 120: (110−99)/110 = 0.1, (120−108)/120 = 0.1
	assertClose(t, "dd", MaxDrawdown(100, points(110, 99, 120, 108)), 0.1, 1e-12)
	assertClose(t, "rising", MaxDrawdown(100, points(101, 102, 103)), 0, 0)
	assertClose(t, "zero peak", MaxDrawdown(0, points(0, -1, -2)), 0, 0)
}

func TestSharpe(t *testing.T) {
	// steps 1, 3: mean 2, population std 1
	assertClose(t, "sharpe", Sharpe([]float64{1, 3}), 2, 1e-12)
	assertClose(t, "no variation", Sharpe([]float64{1, 1, 1}), 0, 0)
	assertClose(t, "empty", Sharpe(nil), 0, 0)
	assertClose(t, "symmetric", Sharpe([]float64{1, -1, 1, -1}), 0, 1e-12)
}

func TestSummarize(t *testing.T) {
	trades := []model.Trade{{NetPnL: 5}, {NetPnL: -1}, {NetPnL: 0}, {NetPnL: 2}}
	s := Summarize(100, points(101, 99, 104), trades, 8, 1)
	assertClose(t, "net", s.NetPnL, 4, 1e-12)
	assertClose(t, "win rate", s.WinRate, 0.5, 1e-12)
	if s.Wins != 2 || s.Trades != 4 || s.Fills != 8 || s.Halts != 1 || s.Bars != 3 {
		t.Errorf("summary %+v", s)
	}
	// steps 1, −2, 5
	steps := StepPnL(100, points(101, 99, 104))
	if !reflect.DeepEqual(steps, []float64{1, -2, 5}) {
		t.Errorf("steps %v", steps)
	}
}

// ────────────────────────────────────────────────────────────
// Sweep
// ────────────────────────────────────────────────────────────

func TestSweep_MatchesSequentialRuns(t *testing.T) {
	candles := wave(300)
	cfg := DefaultConfig()
	cfg.Fill.Seed = 3

	var variants []Variant
	for _, fast := range []int{3, 5, 8, 13} {
		fast := fast
		variants = append(variants, Variant{
			Name:       "sma",
			Config:     cfg,
			NewDecider: func() strategy.Decider { return strategy.NewSMACrossover(fast, 21, 14, true, nil) },
		})
	}

	got, err := Sweep(context.Background(), candles, variants, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(variants) {
		t.Fatalf("results = %d", len(got))
	}
	for i, v := range variants {
		sim, err := New(v.Config, v.NewDecider())
		if err != nil {
			t.Fatal(err)
		}
		want, err := sim.Run(context.Background(), candles)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(got[i].Fills, want.Fills) || !reflect.DeepEqual(got[i].Equity, want.Equity) {
			t.Errorf("variant %d differs from a sequential run", i)
		}
	}
}

func TestSweep_PropagatesErrors(t *testing.T) {
	bad := DefaultConfig()
	bad.Risk.MaxDrawdownPct = 2
	_, err := Sweep(context.Background(), wave(50), []Variant{
		{Name: "ok", Config: DefaultConfig(), NewDecider: func() strategy.Decider { return strategy.NewScripted("s", nil) }},
		{Name: "bad", Config: bad, NewDecider: func() strategy.Decider { return strategy.NewScripted("s", nil) }},
	}, 4)
	if err == nil {
		t.Fatal("expected error from invalid variant")
	}
}
