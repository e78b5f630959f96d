package portfolio

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"trading-backtestv1/internal/markethours"
	"trading-backtestv1/internal/model"
)

// Halt reasons reported in Status.Reason.
const (
	ReasonDailyLoss = "max daily loss reached"
	ReasonDrawdown  = "max drawdown exceeded"
)

// Limits defines configurable risk management thresholds. Percentages are
// fractions (0.05 = 5%); a zero limit disables that check.
type Limits struct {
	MaxDrawdownPct  float64 `json:"max_drawdown_pct" yaml:"max_drawdown_pct"`
	MaxDailyLossPct float64 `json:"max_daily_loss_pct" yaml:"max_daily_loss_pct"`
	RiskPct         float64 `json:"risk_pct" yaml:"risk_pct"`                 // equity fraction risked per trade
	LeverageCap     float64 `json:"leverage_cap" yaml:"leverage_cap"`         // max notional / equity, 0 = uncapped
	DefaultStopPct  float64 `json:"default_stop_pct" yaml:"default_stop_pct"` // stop distance when a decision carries none
}

// DefaultLimits returns conservative default limits.
func DefaultLimits() Limits {
	return Limits{
		MaxDrawdownPct:  0.20,
		MaxDailyLossPct: 0.05,
		RiskPct:         0.01,
		LeverageCap:     1,
		DefaultStopPct:  0.02,
	}
}

// Validate rejects negative or out-of-range limits.
func (l Limits) Validate() error {
	for name, v := range map[string]float64{
		"max_drawdown_pct":   l.MaxDrawdownPct,
		"max_daily_loss_pct": l.MaxDailyLossPct,
		"risk_pct":           l.RiskPct,
		"default_stop_pct":   l.DefaultStopPct,
	} {
		if v < 0 || v >= 1 || math.IsNaN(v) {
			return fmt.Errorf("risk: %s must be in [0, 1), got %v", name, v)
		}
	}
	if l.LeverageCap < 0 || math.IsNaN(l.LeverageCap) {
		return fmt.Errorf("risk: leverage_cap must be >= 0, got %v", l.LeverageCap)
	}
	return nil
}

// Status is the gate's verdict after an equity update.
type Status struct {
	Halted    bool    `json:"halted"`
	Reason    string  `json:"reason,omitempty"`
	Breached  bool    `json:"breached"` // a limit was crossed on this update
	Drawdown  float64 `json:"drawdown"`
	DailyLoss float64 `json:"daily_loss"`
	Peak      float64 `json:"peak_equity"`
}

// RiskGate tracks peak and start-of-day equity and halts new entries when
// a limit is crossed. A drawdown halt lasts for the rest of the run; a daily
// loss halt clears when the calendar day changes.
type RiskGate struct {
	limits Limits
	cal    markethours.Calendar
	log    *zap.Logger

	started  bool
	day      string
	last     float64
	peak     float64
	sod      float64
	ddHalt   bool
	dayHalt  bool
	drawdown float64
}

// NewRiskGate creates a gate that splits trading days with cal.
func NewRiskGate(limits Limits, cal markethours.Calendar, log *zap.Logger) *RiskGate {
	if log == nil {
		log = zap.NewNop()
	}
	return &RiskGate{limits: limits, cal: cal, log: log.Named("risk")}
}

// Limits returns the configured limits.
func (g *RiskGate) Limits() Limits {
	return g.limits
}

// Update records the equity at bar ts (unix ms) and returns the gate status.
func (g *RiskGate) Update(ts int64, equity float64) Status {
	day := g.cal.DayKey(time.UnixMilli(ts))
	if !g.started {
		g.started = true
		g.day = day
		g.peak = equity
		g.sod = equity
		g.last = equity
	}
	if day != g.day {
		// The day opens at the previous bar's closing equity.
		g.day = day
		g.sod = g.last
		if g.dayHalt {
			g.log.Info("daily loss halt cleared", zap.String("day", day))
		}
		g.dayHalt = false
	}
	g.last = equity
	if equity > g.peak {
		g.peak = equity
	}

	st := Status{Peak: g.peak}
	if g.peak > 0 {
		st.Drawdown = (g.peak - equity) / g.peak
	}
	if g.sod > 0 {
		st.DailyLoss = (g.sod - equity) / g.sod
	}
	if st.Drawdown > g.drawdown {
		g.drawdown = st.Drawdown
	}

	if !g.ddHalt && g.limits.MaxDrawdownPct > 0 && st.Drawdown > g.limits.MaxDrawdownPct {
		g.ddHalt = true
		st.Breached = true
		g.log.Warn(ReasonDrawdown,
			zap.Float64("equity", equity),
			zap.Float64("peak", g.peak),
			zap.Float64("drawdown", st.Drawdown))
	}
	if !g.dayHalt && g.limits.MaxDailyLossPct > 0 && st.DailyLoss > g.limits.MaxDailyLossPct {
		g.dayHalt = true
		st.Breached = true
		g.log.Warn(ReasonDailyLoss,
			zap.String("day", day),
			zap.Float64("equity", equity),
			zap.Float64("start_of_day", g.sod),
			zap.Float64("daily_loss", st.DailyLoss))
	}

	st.Halted = g.ddHalt || g.dayHalt
	switch {
	case g.ddHalt:
		st.Reason = ReasonDrawdown
	case g.dayHalt:
		st.Reason = ReasonDailyLoss
	}
	return st
}

// Halted reports whether new entries are currently blocked.
func (g *RiskGate) Halted() bool {
	return g.ddHalt || g.dayHalt
}

// MaxDrawdown returns the largest drawdown observed so far.
func (g *RiskGate) MaxDrawdown() float64 {
	return g.drawdown
}

// Size returns the fixed-fractional quantity for an entry at entry with a
// protective stop at stop: equity × RiskPct / |entry − stop|, capped at
// LeverageCap × equity / price. A stop equal to the entry sizes to zero.
func (g *RiskGate) Size(equity, entry, stop, price float64) float64 {
	if equity <= 0 || entry <= 0 || price <= 0 {
		return 0
	}
	dist := math.Abs(entry - stop)
	if dist < qtyEpsilon {
		return 0
	}
	qty := equity * g.limits.RiskPct / dist
	if g.limits.LeverageCap > 0 {
		qty = math.Min(qty, g.limits.LeverageCap*equity/price)
	}
	return qty
}

// DefaultStop places a protective stop DefaultStopPct away from entry on
// the losing side of a position opened by side.
func (g *RiskGate) DefaultStop(side model.Side, entry float64) float64 {
	return entry * (1 - side.Sign()*g.limits.DefaultStopPct)
}
