package strategy

import (
	"encoding/json"
	"math"
	"strings"
	"testing"

	"trading-backtestv1/internal/indicator"
	"trading-backtestv1/internal/model"
	"trading-backtestv1/internal/signal"
)

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.6f, want %.6f (tol=%.6f)", label, got, want, tol)
	}
}

func candlesFromCloses(closes []float64) []model.Candle {
	out := make([]model.Candle, len(closes))
	for i, c := range closes {
		open := c
		if i > 0 {
			open = closes[i-1]
		}
		out[i] = model.Candle{
			OpenTime: int64(i) * 60_000,
			Open:     open,
			High:     math.Max(open, c) + 1,
			Low:      math.Min(open, c) - 1,
			Close:    c,
			Volume:   1000,
		}
	}
	return out
}

// ────────────────────────────────────────────────────────────
// Decision normalization
// ────────────────────────────────────────────────────────────

func TestNormalize(t *testing.T) {
	some := model.Some[float64]
	cases := []struct {
		name string
		in   Decision
		want Action
	}{
		{"valid buy", Decision{Action: ActionBuy, Entry: some(100), Stop: some(95), Target: some(110), Confidence: 0.7}, ActionBuy},
		{"market sell", Decision{Action: ActionSell, Confidence: 1}, ActionSell},
		{"unknown action", Decision{Action: "YOLO", Confidence: 0.5}, ActionHold},
		{"confidence above one", Decision{Action: ActionBuy, Confidence: 1.2}, ActionHold},
		{"negative confidence", Decision{Action: ActionSell, Confidence: -0.1}, ActionHold},
		{"nan confidence", Decision{Action: ActionBuy, Confidence: math.NaN()}, ActionHold},
		{"negative price", Decision{Action: ActionBuy, Entry: some(-5)}, ActionHold},
		{"infinite stop", Decision{Action: ActionBuy, Stop: some(math.Inf(1))}, ActionHold},
		{"buy stop above entry", Decision{Action: ActionBuy, Entry: some(100), Stop: some(101)}, ActionHold},
		{"sell target above entry", Decision{Action: ActionSell, Entry: some(100), Target: some(105)}, ActionHold},
		{"close", Decision{Action: ActionClose, Entry: some(-1), Confidence: 0.3}, ActionClose},
	}
	for _, tc := range cases {
		got := tc.in.Normalize()
		if got.Action != tc.want {
			t.Errorf("%s: action %s, want %s", tc.name, got.Action, tc.want)
		}
		if tc.want == ActionHold && tc.in.Action != ActionHold && got.Confidence != 0 {
			t.Errorf("%s: normalized hold must carry zero confidence, got %f", tc.name, got.Confidence)
		}
	}

	c := Decision{Action: ActionClose, Entry: some(100), Stop: some(90)}.Normalize()
	if c.Entry.Valid || c.Stop.Valid {
		t.Error("close should drop prices")
	}
}

func TestParseDecision(t *testing.T) {
	cases := []struct {
		name   string
		raw    string
		action Action
		conf   float64
	}{
		{"plain", `{"action":"buy","entry_price":100,"stop_loss":95,"take_profit":110,"confidence":0.8}`, ActionBuy, 0.8},
		{"embedded", "Sure, here you go:\n```json\n{\"action\": \" SELL \", \"confidence\": 0.4}\n```", ActionSell, 0.4},
		{"close", `{"action":"close"}`, ActionClose, 0},
		{"not json", "I think you should buy", ActionHold, 0},
		{"bad price type", `{"action":"BUY","entry_price":"cheap","confidence":0.9}`, ActionHold, 0},
		{"out of range", `{"action":"BUY","confidence":7}`, ActionHold, 0},
		{"empty", ``, ActionHold, 0},
	}
	for _, tc := range cases {
		d := ParseDecision([]byte(tc.raw))
		if d.Action != tc.action {
			t.Errorf("%s: action %s, want %s", tc.name, d.Action, tc.action)
		}
		assertClose(t, tc.name+" confidence", d.Confidence, tc.conf, 1e-12)
	}

	d := ParseDecision([]byte(`{"action":"buy","entry_price":100,"stop_loss":95,"take_profit":110,"confidence":0.8}`))
	if !d.Entry.Valid || d.Entry.Value != 100 || d.Stop.Value != 95 || d.Target.Value != 110 {
		t.Errorf("prices not carried: %+v", d)
	}
}

func TestDecisionJSON(t *testing.T) {
	in := Decision{Action: ActionBuy, Target: model.Some(110.0), Confidence: 0.5}
	b, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(b), "entry_price") {
		t.Errorf("absent entry should be omitted: %s", b)
	}
	var out Decision
	if err := json.Unmarshal(b, &out); err != nil {
		t.Fatal(err)
	}
	if out.Action != ActionBuy || out.Entry.Valid || !out.Target.Valid || out.Target.Value != 110 {
		t.Errorf("decoded %+v", out)
	}
}

// ────────────────────────────────────────────────────────────
// Scripted
// ────────────────────────────────────────────────────────────

func TestLoadScript(t *testing.T) {
	src := `{"open_time": 60000, "action": "BUY", "entry_price": 100, "take_profit": 110, "confidence": 1}

{"open_time": 120000, "action": "teleport"}
`
	s, err := LoadScript("script", strings.NewReader(src))
	if err != nil {
		t.Fatal(err)
	}
	if s.Len() != 2 {
		t.Fatalf("Len = %d", s.Len())
	}
	if d := s.Decide(StepContext{Candle: model.Candle{OpenTime: 60000}}); d.Action != ActionBuy {
		t.Errorf("bar 60000: %s", d.Action)
	}
	if d := s.Decide(StepContext{Candle: model.Candle{OpenTime: 120000}}); d.Action != ActionHold {
		t.Errorf("malformed action should load as hold, got %s", d.Action)
	}
	if d := s.Decide(StepContext{Candle: model.Candle{OpenTime: 5}}); d.Action != ActionHold {
		t.Errorf("unscripted bar: %s", d.Action)
	}

	if _, err := LoadScript("bad", strings.NewReader(`{"action":"BUY"}`)); err == nil {
		t.Error("expected error for missing open_time")
	}
	if _, err := LoadScript("bad", strings.NewReader(`not json`)); err == nil {
		t.Error("expected error for non-JSON line")
	}
}

// ────────────────────────────────────────────────────────────
// SMA crossover
// ────────────────────────────────────────────────────────────

func run(d Decider, closes []float64, position float64) []Decision {
	candles := candlesFromCloses(closes)
	out := make([]Decision, len(candles))
	for i, c := range candles {
		out[i] = d.Decide(StepContext{Index: i, Candle: c, Position: position})
	}
	return out
}

func TestSMACrossover_GoldenAndDeathCross(t *testing.T) {
	// fast(2) / slow(3):
	// bar 4: fast 7.5  <= slow 7.667
	// bar 5: fast 9.5  >  slow 8.667 → golden cross
	// bar 7: fast 11   == slow 11
	// bar 8: fast 6    <  slow 8.667 → death cross
	closes := []float64{10, 9, 8, 7, 8, 11, 14, 8, 4}
	got := run(NewSMACrossover(2, 3, 0, false, nil), closes, 1)

	for i, d := range got {
		switch i {
		case 5:
			if d.Action != ActionBuy {
				t.Errorf("bar 5: %s, want BUY", d.Action)
			}
		case 8:
			if d.Action != ActionClose {
				t.Errorf("bar 8: %s, want CLOSE (shorting disabled, long held)", d.Action)
			}
		default:
			if d.Action != ActionHold {
				t.Errorf("bar %d: %s, want HOLD", i, d.Action)
			}
		}
	}

	short := run(NewSMACrossover(2, 3, 0, true, nil), closes, 0)
	if short[8].Action != ActionSell {
		t.Errorf("with shorting enabled bar 8 should SELL, got %s", short[8].Action)
	}
}

func TestSMACrossover_RSIFilter(t *testing.T) {
	// RSI(2) at bar 5: avgGain 1.75, avgLoss 0.25 → RSI 87.5 > 70
	closes := []float64{10, 9, 8, 7, 8, 11}
	got := run(NewSMACrossover(2, 3, 2, false, nil), closes, 0)
	if got[5].Action != ActionHold || got[5].Reason != "rsi_overbought" {
		t.Fatalf("golden cross should be filtered, got %+v", got[5])
	}
}

// ────────────────────────────────────────────────────────────
// Signal strategy
// ────────────────────────────────────────────────────────────

func TestSignalStrategy_BuyWithATRBrackets(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	params := indicator.DefaultParams()
	params.ATRPeriod = 5
	frame := indicator.NewEngine(params).Compute(candlesFromCloses(closes))

	cfg := DefaultSignalConfig()
	cfg.Signal.LowVolatility = signal.Weights{signal.RuleMomentum: 2}
	cfg.Signal.HighVolatility = nil
	s := NewSignalStrategy(cfg, nil)

	first := -1
	var buy Decision
	for i := range closes {
		d := s.Decide(StepContext{Index: i, Candle: frame.Candles[i], Frame: frame})
		if d.Action != ActionHold && first == -1 {
			first, buy = i, d
		} else if d.Action != ActionHold {
			t.Fatalf("bar %d: second decision %s without a direction change", i, d.Action)
		}
	}
	// Momentum(10) first votes at bar 10.
	if first != 10 || buy.Action != ActionBuy {
		t.Fatalf("first decision at bar %d: %+v", first, buy)
	}
	atr := frame.ATR[10].Value
	assertClose(t, "stop", buy.Stop.Value, closes[10]-1.5*atr, 1e-9)
	assertClose(t, "target", buy.Target.Value, closes[10]+1.0*atr, 1e-9)
	if buy.Entry.Valid {
		t.Error("market entry expected by default")
	}
	if n := buy.Normalize(); n.Action != ActionBuy {
		t.Errorf("strategy output should survive normalization, got %s", n.Action)
	}
	if s.LastSignal().Direction != signal.Long {
		t.Errorf("LastSignal direction = %v", s.LastSignal().Direction)
	}
}

func TestWithName(t *testing.T) {
	base := NewScripted("scripted", map[int64]Decision{5: {Action: ActionBuy}})
	if WithName("", base) != Decider(base) || WithName("scripted", base) != Decider(base) {
		t.Error("expected the original decider back")
	}
	d := WithName("scripted_fast", base)
	if d.Name() != "scripted_fast" {
		t.Errorf("name = %q", d.Name())
	}
	if got := d.Decide(StepContext{Candle: model.Candle{OpenTime: 5}}); got.Action != ActionBuy {
		t.Errorf("decision = %+v", got)
	}
}
