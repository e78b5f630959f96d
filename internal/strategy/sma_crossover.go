package strategy

import (
	"go.uber.org/zap"

	"trading-backtestv1/internal/indicator"
)

// SMACrossover implements a simple SMA crossover strategy.
//
// Buy signal: fast SMA crosses above slow SMA (golden cross)
// Sell signal: fast SMA crosses below slow SMA (death cross)
//
// Optional RSI filter prevents buying when overbought (>70)
// or selling when oversold (<30).
type SMACrossover struct {
	name       string
	allowShort bool
	log        *zap.Logger

	fast *indicator.SMA
	slow *indicator.SMA
	rsi  *indicator.RSI // nil when the filter is off

	// Previous SMA values for crossover detection
	prevFast float64
	prevSlow float64
	ready    bool
}

// NewSMACrossover creates a new SMA crossover strategy.
// fastPeriod < slowPeriod (e.g., 9 and 21). rsiPeriod <= 0 disables
// the RSI filter.
func NewSMACrossover(fastPeriod, slowPeriod, rsiPeriod int, allowShort bool, log *zap.Logger) *SMACrossover {
	if log == nil {
		log = zap.NewNop()
	}
	s := &SMACrossover{
		name:       "sma_crossover",
		allowShort: allowShort,
		log:        log.Named("strategy").With(zap.String("strategy", "sma_crossover")),
		fast:       indicator.NewSMA(fastPeriod),
		slow:       indicator.NewSMA(slowPeriod),
	}
	if rsiPeriod > 0 {
		s.rsi = indicator.NewRSI(rsiPeriod)
	}
	return s
}

func (s *SMACrossover) Name() string {
	return s.name
}

// Decide consumes one close per call, so it must see every bar in order.
func (s *SMACrossover) Decide(ctx StepContext) Decision {
	price := ctx.Candle.Close
	s.fast.Update(price)
	s.slow.Update(price)
	if s.rsi != nil {
		s.rsi.Update(price)
	}

	// Need enough data for both SMAs
	if !s.fast.Ready() || !s.slow.Ready() {
		return Hold("")
	}

	fastSMA, slowSMA := s.fast.Value(), s.slow.Value()
	defer func() {
		s.prevFast = fastSMA
		s.prevSlow = slowSMA
		s.ready = true
	}()

	if !s.ready {
		return Hold("")
	}

	rsiReady := s.rsi != nil && s.rsi.Ready()

	// Golden cross: fast crosses above slow
	if s.prevFast <= s.prevSlow && fastSMA > slowSMA {
		if rsiReady && s.rsi.Value() > 70 {
			s.log.Debug("golden cross filtered by RSI", zap.Int("bar", ctx.Index), zap.Float64("rsi", s.rsi.Value()))
			return Hold("rsi_overbought")
		}
		return Decision{Action: ActionBuy, Confidence: 1, Reason: "SMA golden cross (fast > slow)"}
	}

	// Death cross: fast crosses below slow
	if s.prevFast >= s.prevSlow && fastSMA < slowSMA {
		if rsiReady && s.rsi.Value() < 30 {
			s.log.Debug("death cross filtered by RSI", zap.Int("bar", ctx.Index), zap.Float64("rsi", s.rsi.Value()))
			return Hold("rsi_oversold")
		}
		if !s.allowShort {
			if ctx.Position > 0 {
				return Decision{Action: ActionClose, Confidence: 1, Reason: "SMA death cross (fast < slow)"}
			}
			return Hold("short_disabled")
		}
		return Decision{Action: ActionSell, Confidence: 1, Reason: "SMA death cross (fast < slow)"}
	}

	return Hold("")
}
