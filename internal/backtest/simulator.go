// Package backtest replays ordered candles through a Decider, simulating
// fills, position accounting and risk limits bar by bar.
//
// Each bar is processed in a fixed order:
//
//  1. resting orders placed on earlier bars are matched against the bar;
//  2. fills update the position, realized P&L and fees;
//  3. the position is marked to the bar's close;
//  4. the risk gate sees the new equity and may halt entries and queue a
//     force-close for the next bar;
//  5. the equity point is recorded;
//  6. the decider runs on the closed bar and its decision becomes orders
//     that can first fill on the next bar.
//
// Runs are deterministic: the same candles, configuration and path seed
// produce the same fills and equity curve.
package backtest

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"trading-backtestv1/internal/execution"
	"trading-backtestv1/internal/indicator"
	"trading-backtestv1/internal/logger"
	"trading-backtestv1/internal/markethours"
	"trading-backtestv1/internal/model"
	"trading-backtestv1/internal/portfolio"
	"trading-backtestv1/internal/strategy"
	"trading-backtestv1/internal/trace"
)

// Config is the immutable run configuration.
type Config struct {
	InitialCapital float64              `json:"initial_capital" yaml:"initial_capital"`
	FixedQty       float64              `json:"fixed_qty" yaml:"fixed_qty"` // > 0 bypasses risk sizing
	Fill           execution.FillConfig `json:"fill" yaml:"fill"`
	Risk           portfolio.Limits     `json:"risk" yaml:"risk"`
	Indicators     indicator.Params     `json:"-" yaml:"-"`
	Calendar       markethours.Calendar `json:"-" yaml:"-"`
}

// DefaultConfig returns a configuration with default indicators, risk
// limits and a UTC calendar.
func DefaultConfig() Config {
	return Config{
		InitialCapital: 10_000,
		Fill: execution.FillConfig{
			MakerFee: 0.0002,
			TakerFee: 0.0005,
			Slippage: 0.0005,
		},
		Risk:       portfolio.DefaultLimits(),
		Indicators: indicator.DefaultParams(),
		Calendar:   markethours.UTC(),
	}
}

// Validate checks every sub-configuration.
func (c Config) Validate() error {
	if c.InitialCapital < 0 || math.IsNaN(c.InitialCapital) {
		return fmt.Errorf("backtest: initial_capital must be >= 0, got %v", c.InitialCapital)
	}
	if c.FixedQty < 0 || math.IsNaN(c.FixedQty) {
		return fmt.Errorf("backtest: fixed_qty must be >= 0, got %v", c.FixedQty)
	}
	if err := c.Fill.Validate(); err != nil {
		return err
	}
	if err := c.Risk.Validate(); err != nil {
		return err
	}
	return c.Indicators.Validate()
}

// Recorder observes a run as it progresses. Implementations must be safe
// for concurrent use when shared across a sweep.
type Recorder interface {
	ObserveFill(strategy string, f model.Fill)
	ObserveEquity(strategy string, p model.EquityPoint)
	ObserveHalt(strategy, reason string)
	ObserveRun(strategy string, bars int, elapsed time.Duration, err error)
}

type nopRecorder struct{}

func (nopRecorder) ObserveFill(string, model.Fill)               {}
func (nopRecorder) ObserveEquity(string, model.EquityPoint)      {}
func (nopRecorder) ObserveHalt(string, string)                   {}
func (nopRecorder) ObserveRun(string, int, time.Duration, error) {}

// Recorders fans every observation out to rs in order.
type Recorders []Recorder

func (rs Recorders) ObserveFill(strategy string, f model.Fill) {
	for _, r := range rs {
		r.ObserveFill(strategy, f)
	}
}

func (rs Recorders) ObserveEquity(strategy string, p model.EquityPoint) {
	for _, r := range rs {
		r.ObserveEquity(strategy, p)
	}
}

func (rs Recorders) ObserveHalt(strategy, reason string) {
	for _, r := range rs {
		r.ObserveHalt(strategy, reason)
	}
}

func (rs Recorders) ObserveRun(strategy string, bars int, elapsed time.Duration, err error) {
	for _, r := range rs {
		r.ObserveRun(strategy, bars, elapsed, err)
	}
}

// Halt records a risk limit breach.
type Halt struct {
	Timestamp int64   `json:"timestamp" yaml:"timestamp"`
	Reason    string  `json:"reason" yaml:"reason"`
	Equity    float64 `json:"equity" yaml:"equity"`
}

// Result is the full output of one run.
type Result struct {
	RunID    string              `json:"run_id"`
	Strategy string              `json:"strategy"`
	Summary  Summary             `json:"summary"`
	Equity   []model.EquityPoint `json:"equity"`
	Fills    []model.Fill        `json:"fills"`
	Trades   []model.Trade       `json:"trades"`
	Halts    []Halt              `json:"halts"`
}

// Option customizes a Simulator.
type Option func(*Simulator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Simulator) {
		if l != nil {
			s.log = l
		}
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Simulator) {
		if r != nil {
			s.rec = r
		}
	}
}

// WithJournal persists every fill as it happens.
func WithJournal(j model.FillRecorder) Option {
	return func(s *Simulator) { s.journal = j }
}

// WithRunID overrides the generated run ID.
func WithRunID(id string) Option {
	return func(s *Simulator) {
		if id != "" {
			s.runID = id
		}
	}
}

// Simulator runs one backtest. It is single use and not safe for
// concurrent use; build one per run.
type Simulator struct {
	cfg     Config
	decider strategy.Decider
	runID   string
	log     *zap.Logger
	rec     Recorder
	journal model.FillRecorder
}

// New validates cfg and builds a simulator around decider.
func New(cfg Config, decider strategy.Decider, opts ...Option) (*Simulator, error) {
	if decider == nil {
		return nil, fmt.Errorf("backtest: nil decider")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Simulator{
		cfg:     cfg,
		decider: decider,
		runID:   uuid.NewString(),
		log:     zap.NewNop(),
		rec:     nopRecorder{},
	}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.Named("simulator").With(
		zap.String("run_id", s.runID),
		zap.String("strategy", decider.Name()))
	return s, nil
}

// RunID returns the run's identifier.
func (s *Simulator) RunID() string {
	return s.runID
}

// run holds the mutable state of one replay.
type run struct {
	*Simulator
	ctx    context.Context
	acct   *portfolio.Account
	gate   *portfolio.RiskGate
	book   *execution.Book
	match  *execution.Matcher
	halts  []Halt
	equity []model.EquityPoint
}

// Run replays candles and returns the result. Candles must be strictly
// increasing in OpenTime; otherwise a *model.SequenceError is returned
// and nothing is simulated. Cancelling ctx stops the replay between bars.
func (s *Simulator) Run(ctx context.Context, candles []model.Candle) (res *Result, err error) {
	start := time.Now()
	ctx = logger.WithTraceID(ctx, s.runID)
	ctx, span := trace.StartSpan(ctx, "backtest.run",
		attribute.String("run_id", s.runID),
		attribute.String("strategy", s.decider.Name()),
		attribute.Int("bars", len(candles)))
	defer func() {
		trace.End(span, err)
		s.rec.ObserveRun(s.decider.Name(), len(candles), time.Since(start), err)
	}()

	if err := model.ValidateSequence(candles); err != nil {
		return nil, fmt.Errorf("backtest: %w", err)
	}

	r := &run{
		Simulator: s,
		ctx:       ctx,
		acct:      portfolio.NewAccount(s.cfg.InitialCapital),
		gate:      portfolio.NewRiskGate(s.cfg.Risk, s.cfg.Calendar, s.log),
		book:      execution.NewBook("ORD"),
		match:     execution.NewMatcher(s.cfg.Fill, s.log),
		equity:    make([]model.EquityPoint, 0, len(candles)),
	}

	frame := indicator.NewEngine(s.cfg.Indicators).Compute(candles)
	s.log.Info("replay started",
		zap.Int("bars", len(candles)),
		zap.Float64("initial_capital", s.cfg.InitialCapital))

	for i, bar := range candles {
		select {
		case <-ctx.Done():
			s.log.Warn("replay cancelled", zap.Int("bar", i))
			return nil, ctx.Err()
		default:
		}
		if err := r.step(i, bar, frame); err != nil {
			return nil, err
		}
	}

	res = &Result{
		RunID:    s.runID,
		Strategy: s.decider.Name(),
		Equity:   r.equity,
		Fills:    r.acct.Fills(),
		Trades:   r.acct.Trades(),
		Halts:    r.halts,
	}
	res.Summary = Summarize(s.cfg.InitialCapital, res.Equity, res.Trades, len(res.Fills), len(res.Halts))
	res.Summary.RunID = s.runID
	res.Summary.Strategy = s.decider.Name()
	res.Summary.RealizedPnL = r.acct.Realized()
	res.Summary.Fees = r.acct.Fees()

	s.log.Info("replay complete",
		zap.Int("bars", len(candles)),
		zap.Int("fills", len(res.Fills)),
		zap.Int("trades", len(res.Trades)),
		zap.Float64("net_pnl", res.Summary.NetPnL),
		zap.Float64("max_drawdown", res.Summary.MaxDrawdown),
		zap.Duration("elapsed", time.Since(start)))
	return res, nil
}

func (r *run) step(i int, bar model.Candle, frame *indicator.Frame) error {
	name := r.decider.Name()

	for _, f := range r.match.Match(bar, r.book) {
		r.acct.Apply(f)
		r.rec.ObserveFill(name, f)
		if r.journal != nil {
			if err := r.journal.RecordFill(r.ctx, r.runID, f); err != nil {
				return fmt.Errorf("backtest: journal fill: %w", err)
			}
		}
	}
	pos := r.acct.Position()
	if pos.IsFlat() {
		r.book.CancelOrphanExits()
	}

	equity := r.acct.Equity(bar.Close)
	st := r.gate.Update(bar.OpenTime, equity)
	if st.Breached {
		r.halts = append(r.halts, Halt{Timestamp: bar.OpenTime, Reason: st.Reason, Equity: equity})
		r.rec.ObserveHalt(name, st.Reason)
	}
	if st.Halted {
		r.book.CancelWhere(func(o model.RestingOrder) bool { return o.Purpose.Opens() })
		if !pos.IsFlat() && !r.book.Has(model.PurposeForceClose) {
			r.book.CancelAll()
			r.placeFlatten(pos, bar, model.PurposeForceClose)
			r.log.Warn("force close queued",
				zap.Int64("bar", bar.OpenTime),
				zap.String("reason", st.Reason),
				zap.Float64("qty", pos.Signed()))
		}
	}

	point := model.EquityPoint{
		Timestamp:  bar.OpenTime,
		Equity:     equity,
		Position:   pos.Signed(),
		MarkPrice:  bar.Close,
		Realized:   r.acct.Realized(),
		Fees:       r.acct.Fees(),
		Unrealized: r.acct.Unrealized(bar.Close),
		Drawdown:   st.Drawdown,
		Halted:     st.Halted,
	}
	r.equity = append(r.equity, point)
	r.rec.ObserveEquity(name, point)

	d := r.decider.Decide(strategy.StepContext{
		Index:    i,
		Candle:   bar,
		Frame:    frame,
		Position: pos.Signed(),
		Equity:   equity,
		Halted:   st.Halted,
	}).Normalize()
	r.apply(d, bar, pos, equity, st.Halted)
	return nil
}

// apply turns a decision on bar into orders for the next bar.
func (r *run) apply(d strategy.Decision, bar model.Candle, pos portfolio.Position, equity float64, halted bool) {
	switch d.Action {
	case strategy.ActionHold:
		return

	case strategy.ActionClose:
		if halted && r.book.Has(model.PurposeForceClose) {
			return
		}
		r.book.CancelAll()
		if !pos.IsFlat() {
			r.placeFlatten(pos, bar, model.PurposeExit)
		}
		return
	}

	side := model.Buy
	if d.Action == strategy.ActionSell {
		side = model.Sell
	}
	if halted {
		r.log.Debug("entry blocked by risk gate", zap.Int64("bar", bar.OpenTime), zap.String("side", string(side)))
		return
	}
	cur := pos.Signed()
	if cur*side.Sign() > 0 {
		return
	}

	ref := d.Entry.Or(bar.Close)
	stop := d.Stop.Or(r.gate.DefaultStop(side, ref))
	qty := r.cfg.FixedQty
	if qty <= 0 {
		qty = r.gate.Size(equity, ref, stop, ref)
	}
	if qty <= 0 {
		r.log.Debug("entry sized to zero",
			zap.Int64("bar", bar.OpenTime),
			zap.Float64("equity", equity),
			zap.Float64("entry", ref),
			zap.Float64("stop", stop))
		return
	}

	r.book.CancelAll()
	if !pos.IsFlat() {
		r.placeFlatten(pos, bar, model.PurposeExit)
	}

	entry := model.RestingOrder{
		Side:     side,
		Kind:     model.KindMarket,
		Qty:      qty,
		Purpose:  model.PurposeEntry,
		PlacedAt: bar.OpenTime,
	}
	if d.Entry.Valid {
		entry.Kind = model.KindLimit
		entry.Price = d.Entry.Value
		entry.IsMaker = true
	}

	var children []model.RestingOrder
	if d.Stop.Valid {
		children = append(children, model.RestingOrder{
			Side:     side.Opposite(),
			Kind:     model.KindStop,
			Price:    d.Stop.Value,
			Purpose:  model.PurposeStopLoss,
			PlacedAt: bar.OpenTime,
		})
	}
	if d.Target.Valid {
		children = append(children, model.RestingOrder{
			Side:     side.Opposite(),
			Kind:     model.KindLimit,
			Price:    d.Target.Value,
			IsMaker:  true,
			Purpose:  model.PurposeTakeProfit,
			PlacedAt: bar.OpenTime,
		})
	}
	id := r.book.PlaceBracket(entry, children...)

	r.log.Debug("order placed",
		zap.Int64("bar", bar.OpenTime),
		zap.String("order", id),
		zap.String("side", string(side)),
		zap.String("kind", string(entry.Kind)),
		zap.Float64("qty", qty),
		zap.String("reason", d.Reason))
}

// placeFlatten queues a market order that closes pos on the next bar.
func (r *run) placeFlatten(pos portfolio.Position, bar model.Candle, purpose model.Purpose) {
	side := model.Sell
	if pos.Side == portfolio.Short {
		side = model.Buy
	}
	r.book.Place(model.RestingOrder{
		Side:     side,
		Kind:     model.KindMarket,
		Qty:      pos.Qty,
		Purpose:  purpose,
		PlacedAt: bar.OpenTime,
	})
}
