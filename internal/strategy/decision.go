package strategy

import (
	"encoding/json"
	"math"
	"strings"

	"trading-backtestv1/internal/model"
)

// Action is the closed set of decisions a strategy can hand to the simulator.
type Action string

const (
	ActionBuy   Action = "BUY"
	ActionSell  Action = "SELL"
	ActionHold  Action = "HOLD"
	ActionClose Action = "CLOSE"
)

// Valid reports whether a is one of the four known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionBuy, ActionSell, ActionHold, ActionClose:
		return true
	}
	return false
}

// Decision is one bar's instruction. Entry absent means a market order at
// the next open; Stop and Target absent mean no protective orders.
type Decision struct {
	Action     Action
	Entry      model.Optional[float64]
	Stop       model.Optional[float64]
	Target     model.Optional[float64]
	Confidence float64
	Reason     string
}

// Hold returns the do-nothing decision.
func Hold(reason string) Decision {
	return Decision{Action: ActionHold, Reason: reason}
}

// Normalize returns d if it is well formed, otherwise Hold with zero
// confidence. Hold and Close drop any prices.
func (d Decision) Normalize() Decision {
	if !d.Action.Valid() {
		return Hold("unknown_action")
	}
	if math.IsNaN(d.Confidence) || d.Confidence < 0 || d.Confidence > 1 {
		return Hold("confidence_out_of_range")
	}
	if d.Action == ActionHold || d.Action == ActionClose {
		return Decision{Action: d.Action, Confidence: d.Confidence, Reason: d.Reason}
	}
	for _, p := range []model.Optional[float64]{d.Entry, d.Stop, d.Target} {
		if p.Valid && !validPrice(p.Value) {
			return Hold("invalid_price")
		}
	}
	if d.Entry.Valid && !protectiveSide(d, d.Entry.Value) {
		return Hold("stop_or_target_on_wrong_side")
	}
	return d
}

func validPrice(p float64) bool {
	return !math.IsNaN(p) && !math.IsInf(p, 0) && p > 0
}

// protectiveSide checks that a buy's stop is below and its target above the
// reference price, and the reverse for a sell.
func protectiveSide(d Decision, ref float64) bool {
	long := d.Action == ActionBuy
	if d.Stop.Valid && (long && d.Stop.Value >= ref || !long && d.Stop.Value <= ref) {
		return false
	}
	if d.Target.Valid && (long && d.Target.Value <= ref || !long && d.Target.Value >= ref) {
		return false
	}
	return true
}

// rawDecision is the wire form accepted from external decision makers.
type rawDecision struct {
	Action     string   `json:"action"`
	Entry      *float64 `json:"entry_price"`
	Stop       *float64 `json:"stop_loss"`
	Target     *float64 `json:"take_profit"`
	Confidence *float64 `json:"confidence"`
	Reason     string   `json:"reason"`
}

func (r rawDecision) decision() Decision {
	d := Decision{
		Action: Action(strings.ToUpper(strings.TrimSpace(r.Action))),
		Entry:  optional(r.Entry),
		Stop:   optional(r.Stop),
		Target: optional(r.Target),
		Reason: r.Reason,
	}
	if r.Confidence != nil {
		d.Confidence = *r.Confidence
	}
	return d.Normalize()
}

func optional(p *float64) model.Optional[float64] {
	if p == nil {
		return model.None[float64]()
	}
	return model.Some(*p)
}

// ParseDecision reads a JSON decision, optionally embedded in surrounding
// text. It never fails: anything unparseable becomes Hold.
func ParseDecision(raw []byte) Decision {
	t := strings.TrimSpace(string(raw))
	var r rawDecision
	if strings.HasPrefix(t, "{") {
		if err := json.Unmarshal([]byte(t), &r); err == nil {
			return r.decision()
		}
	}
	start, end := strings.Index(t, "{"), strings.LastIndex(t, "}")
	if start >= 0 && end > start {
		r = rawDecision{}
		if err := json.Unmarshal([]byte(t[start:end+1]), &r); err == nil {
			return r.decision()
		}
	}
	return Hold("unable_to_parse")
}

// MarshalJSON writes the wire form, omitting absent prices.
func (d Decision) MarshalJSON() ([]byte, error) {
	r := rawDecision{Action: string(d.Action), Reason: d.Reason, Confidence: &d.Confidence}
	if v, ok := d.Entry.Get(); ok {
		r.Entry = &v
	}
	if v, ok := d.Stop.Get(); ok {
		r.Stop = &v
	}
	if v, ok := d.Target.Get(); ok {
		r.Target = &v
	}
	return json.Marshal(struct {
		Action     string   `json:"action"`
		Entry      *float64 `json:"entry_price,omitempty"`
		Stop       *float64 `json:"stop_loss,omitempty"`
		Target     *float64 `json:"take_profit,omitempty"`
		Confidence *float64 `json:"confidence"`
		Reason     string   `json:"reason,omitempty"`
	}(r))
}

// UnmarshalJSON accepts the wire form. Malformed input yields Hold.
func (d *Decision) UnmarshalJSON(b []byte) error {
	*d = ParseDecision(b)
	return nil
}
