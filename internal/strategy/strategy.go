// Package strategy turns indicator frames into per-bar decisions.
//
// A Decider is consulted once per bar, on the bar's close, and returns a
// Decision from the closed set {Buy, Sell, Hold, Close}. The simulator
// normalizes every decision before acting on it, so a Decider that returns
// garbage only ever produces Hold.
package strategy

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"

	"trading-backtestv1/internal/indicator"
	"trading-backtestv1/internal/model"
)

// StepContext is what a Decider may look at for bar Index.
type StepContext struct {
	Index  int
	Candle model.Candle
	// Frame covers the whole run. Every series is causal, so reading
	// index Index or earlier never leaks future bars.
	Frame    *indicator.Frame
	Position float64 // signed quantity held after this bar's fills
	Equity   float64
	Halted   bool // risk gate is blocking new entries
}

// Decider is the interface every strategy implements. Deciders may keep
// state between calls; the simulator calls Decide once per bar in order.
type Decider interface {
	// Name returns the unique name of the strategy.
	Name() string

	// Decide returns the decision for the bar in ctx.
	Decide(ctx StepContext) Decision
}

// Scripted replays fixed decisions keyed by candle OpenTime. Bars without an
// entry Hold.
type Scripted struct {
	name  string
	steps map[int64]Decision
}

// NewScripted creates a scripted decider.
func NewScripted(name string, steps map[int64]Decision) *Scripted {
	if steps == nil {
		steps = map[int64]Decision{}
	}
	return &Scripted{name: name, steps: steps}
}

func (s *Scripted) Name() string { return s.name }

func (s *Scripted) Decide(ctx StepContext) Decision {
	if d, ok := s.steps[ctx.Candle.OpenTime]; ok {
		return d
	}
	return Hold("")
}

// Len returns the number of scripted bars.
func (s *Scripted) Len() int { return len(s.steps) }

// LoadScript reads one JSON decision per line, each carrying the OpenTime it
// applies to: {"open_time": 1700000000000, "action": "BUY", "take_profit": 110}.
// Blank lines are skipped. Decision fields that fail validation become Hold;
// a line that is not JSON or lacks open_time is an error.
func LoadScript(name string, r io.Reader) (*Scripted, error) {
	steps := make(map[int64]Decision)
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		b := sc.Bytes()
		if len(b) == 0 {
			continue
		}
		var key struct {
			OpenTime *int64 `json:"open_time"`
		}
		if err := json.Unmarshal(b, &key); err != nil {
			return nil, fmt.Errorf("script line %d: %w", line, err)
		}
		if key.OpenTime == nil {
			return nil, fmt.Errorf("script line %d: missing open_time", line)
		}
		steps[*key.OpenTime] = ParseDecision(b)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return NewScripted(name, steps), nil
}

// labeled renames a decider. Sweep variants that share a strategy need
// distinct names so their metrics and streams stay apart.
type labeled struct {
	Decider
	name string
}

func (l labeled) Name() string { return l.name }

// WithName returns d reporting name instead of its own.
func WithName(name string, d Decider) Decider {
	if name == "" || name == d.Name() {
		return d
	}
	return labeled{Decider: d, name: name}
}
