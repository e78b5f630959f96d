package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"trading-backtestv1/internal/model"
)

// Recorder exports backtest progress as Prometheus metrics. It satisfies
// backtest.Recorder and is safe for concurrent use across a sweep.
type Recorder struct {
	FillsTotal  *prometheus.CounterVec   // labels: strategy, purpose
	FeesTotal   *prometheus.CounterVec   // labels: strategy
	BarsTotal   *prometheus.CounterVec   // labels: strategy
	Equity      *prometheus.GaugeVec     // labels: strategy
	Drawdown    *prometheus.GaugeVec     // labels: strategy
	Position    *prometheus.GaugeVec     // labels: strategy
	HaltsTotal  *prometheus.CounterVec   // labels: strategy, reason
	RunsTotal   *prometheus.CounterVec   // labels: strategy, status=ok|error
	RunDuration *prometheus.HistogramVec // labels: strategy

	health *HealthStatus
}

// NewRecorder registers the backtest metrics on reg. A nil reg uses the
// default registerer. health may be nil.
func NewRecorder(reg prometheus.Registerer, health *HealthStatus) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	r := &Recorder{
		FillsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backtest_fills_total",
			Help: "Simulated fills by order purpose",
		}, []string{"strategy", "purpose"}),
		FeesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backtest_fees_total",
			Help: "Fees paid on simulated fills, in quote currency",
		}, []string{"strategy"}),
		BarsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backtest_bars_total",
			Help: "Bars replayed",
		}, []string{"strategy"}),
		Equity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "backtest_equity",
			Help: "Equity marked at the latest replayed close",
		}, []string{"strategy"}),
		Drawdown: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "backtest_drawdown_ratio",
			Help: "Current drawdown from peak equity (0..1)",
		}, []string{"strategy"}),
		Position: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "backtest_position",
			Help: "Signed position quantity",
		}, []string{"strategy"}),
		HaltsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backtest_risk_halts_total",
			Help: "Risk gate breaches",
		}, []string{"strategy", "reason"}),
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "backtest_runs_total",
			Help: "Completed backtest runs",
		}, []string{"strategy", "status"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "backtest_run_duration_seconds",
			Help:    "Wall-clock time per backtest run",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"strategy"}),
		health: health,
	}

	reg.MustRegister(
		r.FillsTotal,
		r.FeesTotal,
		r.BarsTotal,
		r.Equity,
		r.Drawdown,
		r.Position,
		r.HaltsTotal,
		r.RunsTotal,
		r.RunDuration,
	)
	return r
}

func (r *Recorder) ObserveFill(strategy string, f model.Fill) {
	r.FillsTotal.WithLabelValues(strategy, string(f.Purpose)).Inc()
	r.FeesTotal.WithLabelValues(strategy).Add(f.Fee)
}

func (r *Recorder) ObserveEquity(strategy string, p model.EquityPoint) {
	r.BarsTotal.WithLabelValues(strategy).Inc()
	r.Equity.WithLabelValues(strategy).Set(p.Equity)
	r.Drawdown.WithLabelValues(strategy).Set(p.Drawdown)
	r.Position.WithLabelValues(strategy).Set(p.Position)
}

func (r *Recorder) ObserveHalt(strategy, reason string) {
	r.HaltsTotal.WithLabelValues(strategy, reason).Inc()
}

func (r *Recorder) ObserveRun(strategy string, bars int, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.RunsTotal.WithLabelValues(strategy, status).Inc()
	r.RunDuration.WithLabelValues(strategy).Observe(elapsed.Seconds())
	if r.health != nil {
		r.health.RunFinished(strategy, bars, err)
	}
}
