package backtest

import (
	"math"

	"trading-backtestv1/internal/model"
)

// Summary is the end-of-run scorecard.
type Summary struct {
	RunID       string  `json:"run_id" yaml:"run_id"`
	Strategy    string  `json:"strategy" yaml:"strategy"`
	Bars        int     `json:"bars" yaml:"bars"`
	StartTime   int64   `json:"start_time" yaml:"start_time"`
	EndTime     int64   `json:"end_time" yaml:"end_time"`
	Fills       int     `json:"fills" yaml:"fills"`
	Trades      int     `json:"trades" yaml:"trades"`
	Wins        int     `json:"wins" yaml:"wins"`
	WinRate     float64 `json:"win_rate" yaml:"win_rate"`
	NetPnL      float64 `json:"net_pnl" yaml:"net_pnl"`
	RealizedPnL float64 `json:"realized_pnl" yaml:"realized_pnl"`
	Fees        float64 `json:"fees" yaml:"fees"`
	FinalEquity float64 `json:"final_equity" yaml:"final_equity"`
	MaxDrawdown float64 `json:"max_drawdown" yaml:"max_drawdown"`
	Sharpe      float64 `json:"sharpe" yaml:"sharpe"`
	Halts       int     `json:"halts" yaml:"halts"`
}

// Summarize computes the scorecard from an equity curve and the completed
// trades. The first step's P&L is measured against initialCapital.
func Summarize(initialCapital float64, equity []model.EquityPoint, trades []model.Trade, fills, halts int) Summary {
	s := Summary{
		Bars:        len(equity),
		Fills:       fills,
		Trades:      len(trades),
		Halts:       halts,
		FinalEquity: initialCapital,
	}
	if len(equity) > 0 {
		s.StartTime = equity[0].Timestamp
		s.EndTime = equity[len(equity)-1].Timestamp
		s.FinalEquity = equity[len(equity)-1].Equity
	}
	s.NetPnL = s.FinalEquity - initialCapital

	for _, t := range trades {
		if t.Won() {
			s.Wins++
		}
	}
	if len(trades) > 0 {
		s.WinRate = float64(s.Wins) / float64(len(trades))
	}

	s.MaxDrawdown = MaxDrawdown(initialCapital, equity)
	s.Sharpe = Sharpe(StepPnL(initialCapital, equity))
	return s
}

// StepPnL returns the per-bar change in equity.
func StepPnL(initialCapital float64, equity []model.EquityPoint) []float64 {
	out := make([]float64, len(equity))
	prev := initialCapital
	for i, p := range equity {
		out[i] = p.Equity - prev
		prev = p.Equity
	}
	return out
}

// MaxDrawdown returns max over time of (runningPeak − equity)/runningPeak.
// Bars where the running peak is not positive contribute nothing.
func MaxDrawdown(initialCapital float64, equity []model.EquityPoint) float64 {
	peak := initialCapital
	worst := 0.0
	for _, p := range equity {
		if p.Equity > peak {
			peak = p.Equity
		}
		if peak <= 0 {
			continue
		}
		if dd := (peak - p.Equity) / peak; dd > worst {
			worst = dd
		}
	}
	return worst
}

// Sharpe returns mean/stddev of steps using the population standard
// deviation, not annualized. Zero when there is no variation.
func Sharpe(steps []float64) float64 {
	if len(steps) == 0 {
		return 0
	}
	var sum float64
	for _, v := range steps {
		sum += v
	}
	mean := sum / float64(len(steps))

	var ss float64
	for _, v := range steps {
		d := v - mean
		ss += d * d
	}
	std := math.Sqrt(ss / float64(len(steps)))
	if std < 1e-12 {
		return 0
	}
	return mean / std
}
