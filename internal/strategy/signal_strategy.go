package strategy

import (
	"go.uber.org/zap"

	"trading-backtestv1/internal/signal"
)

// SignalConfig configures SignalStrategy.
type SignalConfig struct {
	Signal            signal.Config
	StopATRMultiple   float64 // stop distance in ATRs; 0 disables the stop
	TargetATRMultiple float64 // target distance in ATRs; 0 disables the target
	AllowShort        bool    // when false a short signal only closes longs
	LimitEntry        bool    // rest the entry at the signal bar's close instead of a market order
	MinConfidence     float64
}

// DefaultSignalConfig returns the default combiner with a 1.5 ATR stop and
// a 1 ATR target.
func DefaultSignalConfig() SignalConfig {
	return SignalConfig{
		Signal:            signal.DefaultConfig(),
		StopATRMultiple:   1.5,
		TargetATRMultiple: 1.0,
		AllowShort:        true,
	}
}

// SignalStrategy trades direction changes of the signal combiner.
//
// Long: buy, with stop and target placed ATR multiples from the close.
// Short: sell (or close an open long when shorting is disabled).
type SignalStrategy struct {
	cfg      SignalConfig
	combiner *signal.Combiner
	log      *zap.Logger
	last     signal.Signal
}

// NewSignalStrategy creates a combiner-driven strategy.
func NewSignalStrategy(cfg SignalConfig, log *zap.Logger) *SignalStrategy {
	if log == nil {
		log = zap.NewNop()
	}
	return &SignalStrategy{
		cfg:      cfg,
		combiner: signal.NewCombiner(cfg.Signal),
		log:      log.Named("strategy").With(zap.String("strategy", "signal_combiner")),
	}
}

func (s *SignalStrategy) Name() string { return "signal_combiner" }

// LastSignal returns the combiner output of the most recent Decide call.
func (s *SignalStrategy) LastSignal() signal.Signal { return s.last }

func (s *SignalStrategy) Decide(ctx StepContext) Decision {
	sig := s.combiner.Evaluate(ctx.Frame, ctx.Index)
	s.last = sig
	if !sig.Changed {
		return Hold("")
	}
	if sig.Confidence < s.cfg.MinConfidence {
		s.log.Debug("direction change below confidence floor",
			zap.Int("bar", ctx.Index),
			zap.Stringer("direction", sig.Direction),
			zap.Float64("confidence", sig.Confidence))
		return Hold("low_confidence")
	}

	price := ctx.Candle.Close
	atr := ctx.Frame.ATR.At(ctx.Index)
	d := Decision{Confidence: sig.Confidence}

	switch sig.Direction {
	case signal.Long:
		d.Action = ActionBuy
		d.Reason = "combiner turned long"
	case signal.Short:
		if !s.cfg.AllowShort {
			if ctx.Position > 0 {
				return Decision{Action: ActionClose, Confidence: sig.Confidence, Reason: "combiner turned short"}
			}
			return Hold("short_disabled")
		}
		d.Action = ActionSell
		d.Reason = "combiner turned short"
	default:
		return Hold("")
	}

	dir := 1.0
	if d.Action == ActionSell {
		dir = -1
	}
	if atr.Valid {
		if m := s.cfg.StopATRMultiple; m > 0 {
			d.Stop.Value, d.Stop.Valid = price-dir*m*atr.Value, true
		}
		if m := s.cfg.TargetATRMultiple; m > 0 {
			d.Target.Value, d.Target.Valid = price+dir*m*atr.Value, true
		}
	}
	if s.cfg.LimitEntry {
		d.Entry.Value, d.Entry.Valid = price, true
	}

	s.log.Debug("decision",
		zap.Int("bar", ctx.Index),
		zap.String("action", string(d.Action)),
		zap.Float64("score", sig.Score),
		zap.Float64("confidence", sig.Confidence))
	return d
}
