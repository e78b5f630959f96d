// Package signal reduces indicator readings to one directional score per bar.
//
// Each rule votes -1, 0 or +1. Votes are weighted and summed; the sum is
// compared against a buy and a sell threshold, and inside the dead zone
// between them the previous direction is carried forward.
package signal

import (
	"fmt"
	"math"
)

// Rule names a sub-indicator vote.
type Rule string

const (
	RuleEMACross   Rule = "ema_cross"
	RuleRSI        Rule = "rsi"
	RuleMACD       Rule = "macd"
	RuleStochRSI   Rule = "stoch_rsi"
	RuleBollinger  Rule = "bollinger"
	RuleSuperTrend Rule = "supertrend"
	RuleADX        Rule = "adx"
	RuleMFI        Rule = "mfi"
	RuleCCI        Rule = "cci"
	RuleWilliamsR  Rule = "wr"
	RuleVWAP       Rule = "vwap"
	RuleMomentum   Rule = "momentum"
	RuleDivergence Rule = "divergence"
	RuleFVG        Rule = "fvg"
	RuleSRLevels   Rule = "sr_levels"
	RuleOBV        Rule = "obv"
	RuleADI        Rule = "adi"
	RulePSAR       Rule = "psar"
)

// Rules lists every rule in evaluation order.
var Rules = []Rule{
	RuleEMACross, RuleRSI, RuleMACD, RuleStochRSI, RuleBollinger, RuleSuperTrend,
	RuleADX, RuleMFI, RuleCCI, RuleWilliamsR, RuleVWAP, RuleMomentum,
	RuleDivergence, RuleFVG, RuleSRLevels, RuleOBV, RuleADI, RulePSAR,
}

// Weights maps a rule to its multiplier. Missing rules weigh zero.
type Weights map[Rule]float64

// Total returns the sum of absolute weights.
func (w Weights) Total() float64 {
	sum := 0.0
	for _, v := range w {
		sum += math.Abs(v)
	}
	return sum
}

// Direction is the combiner's output state.
type Direction int

const (
	Short   Direction = -1
	Neutral Direction = 0
	Long    Direction = 1
)

func (d Direction) String() string {
	switch d {
	case Long:
		return "long"
	case Short:
		return "short"
	default:
		return "neutral"
	}
}

// Config holds weights, thresholds and the per-rule oscillator bands.
type Config struct {
	LowVolatility  Weights
	HighVolatility Weights
	// VolatilityThreshold selects HighVolatility when ATR/close exceeds it.
	// Zero always uses LowVolatility.
	VolatilityThreshold float64

	BuyThreshold  float64 // > 0
	SellThreshold float64 // < 0

	RSIOversold        float64
	RSIOverbought      float64
	StochRSIOversold   float64
	StochRSIOverbought float64
	MFIOversold        float64
	MFIOverbought      float64
	CCILevel           float64 // votes beyond ±CCILevel
	WROversold         float64
	WROverbought       float64
	ADXTrend           float64 // directional votes only above this ADX
	SRProximityPct     float64 // percent distance that counts as "at" a level
}

// DefaultConfig returns the weight sets and bands used by the reference bot.
func DefaultConfig() Config {
	return Config{
		LowVolatility: Weights{
			RuleEMACross: 0.3, RuleMomentum: 0.2, RuleDivergence: 0.1, RuleStochRSI: 0.5,
			RuleRSI: 0.3, RuleMACD: 0.3, RuleVWAP: 0, RuleOBV: 0.1, RuleCCI: 0.1,
			RuleWilliamsR: 0.1, RuleADX: 0.1, RuleFVG: 0.2, RuleBollinger: 0.2,
			RuleSuperTrend: 0.3, RuleMFI: 0.2, RuleSRLevels: 0.1, RuleADI: 0.1,
			RulePSAR: 0.1,
		},
		HighVolatility: Weights{
			RuleEMACross: 0.1, RuleMomentum: 0.4, RuleDivergence: 0.2, RuleStochRSI: 0.4,
			RuleRSI: 0.4, RuleMACD: 0.4, RuleVWAP: 0, RuleOBV: 0.1, RuleCCI: 0.1,
			RuleWilliamsR: 0.1, RuleADX: 0.1, RuleFVG: 0.3, RuleBollinger: 0.2,
			RuleSuperTrend: 0.3, RuleMFI: 0.2, RuleSRLevels: 0.1, RuleADI: 0.1,
			RulePSAR: 0.1,
		},
		VolatilityThreshold: 0.01,
		BuyThreshold:        1.0,
		SellThreshold:       -1.0,
		RSIOversold:         30,
		RSIOverbought:       70,
		StochRSIOversold:    20,
		StochRSIOverbought:  80,
		MFIOversold:         20,
		MFIOverbought:       80,
		CCILevel:            100,
		WROversold:          -80,
		WROverbought:        -20,
		ADXTrend:            25,
		SRProximityPct:      0.3,
	}
}

// Validate checks threshold signs and that every weight is finite and
// names a known rule.
func (c Config) Validate() error {
	if !(c.BuyThreshold > 0) {
		return fmt.Errorf("buy threshold must be > 0, got %f", c.BuyThreshold)
	}
	if !(c.SellThreshold < 0) {
		return fmt.Errorf("sell threshold must be < 0, got %f", c.SellThreshold)
	}
	if c.VolatilityThreshold < 0 {
		return fmt.Errorf("volatility threshold must be non-negative, got %f", c.VolatilityThreshold)
	}
	known := make(map[Rule]bool, len(Rules))
	for _, r := range Rules {
		known[r] = true
	}
	for set, w := range map[string]Weights{"low_volatility": c.LowVolatility, "high_volatility": c.HighVolatility} {
		for r, v := range w {
			if !known[r] {
				return fmt.Errorf("%s: unknown rule %q", set, r)
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%s: weight for %s is not finite", set, r)
			}
		}
	}
	return nil
}

// Vote is one rule's weighted contribution at a bar.
type Vote struct {
	Rule   Rule
	Score  int // -1, 0, +1
	Weight float64
}

// Signal is the combiner output for one bar.
type Signal struct {
	Index          int
	Score          float64 // weighted sum of votes
	Direction      Direction
	Changed        bool // direction differs from the previous bar
	HighVolatility bool
	Confidence     float64 // |Score| / total weight, in [0, 1]
	Votes          []Vote
}
