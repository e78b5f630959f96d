package signal

import (
	"math"

	"trading-backtestv1/internal/indicator"
)

// Combiner turns per-bar votes into a direction with hysteresis.
// It holds the previous direction, so use one Combiner per run and feed
// bars in order.
type Combiner struct {
	cfg  Config
	prev Direction
}

// NewCombiner creates a combiner starting from Neutral.
func NewCombiner(cfg Config) *Combiner {
	return &Combiner{cfg: cfg}
}

// Config returns the combiner configuration.
func (c *Combiner) Config() Config { return c.cfg }

// Direction returns the last emitted direction.
func (c *Combiner) Direction() Direction { return c.prev }

// Reset returns the combiner to Neutral.
func (c *Combiner) Reset() { c.prev = Neutral }

// Evaluate scores bar i of the frame.
func (c *Combiner) Evaluate(f *indicator.Frame, i int) Signal {
	hv := highVolatility(f, i, c.cfg.VolatilityThreshold)
	sig := c.apply(Votes(f, i, c.cfg), hv)
	sig.Index = i
	return sig
}

func (c *Combiner) weights(high bool) Weights {
	if high && len(c.cfg.HighVolatility) > 0 {
		return c.cfg.HighVolatility
	}
	return c.cfg.LowVolatility
}

func (c *Combiner) apply(votes map[Rule]int, high bool) Signal {
	w := c.weights(high)
	sig := Signal{HighVolatility: high && len(c.cfg.HighVolatility) > 0}
	for _, r := range Rules {
		v := votes[r]
		sig.Votes = append(sig.Votes, Vote{Rule: r, Score: v, Weight: w[r]})
		sig.Score += float64(v) * w[r]
	}

	dir := c.prev
	switch {
	case sig.Score > c.cfg.BuyThreshold:
		dir = Long
	case sig.Score < c.cfg.SellThreshold:
		dir = Short
	}
	sig.Direction = dir
	sig.Changed = dir != c.prev
	c.prev = dir

	if total := w.Total(); total > 0 {
		sig.Confidence = math.Min(1, math.Abs(sig.Score)/total)
	}
	return sig
}

// Run evaluates every bar of the frame with a fresh combiner.
func Run(cfg Config, f *indicator.Frame) []Signal {
	c := NewCombiner(cfg)
	out := make([]Signal, f.Len())
	for i := range out {
		out[i] = c.Evaluate(f, i)
	}
	return out
}
