// Package notification delivers run alerts to external channels.
package notification

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"trading-backtestv1/internal/backtest"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
	RunID   string     `json:"run_id,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to a logger.
type LogNotifier struct {
	log *zap.Logger
}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier(log *zap.Logger) *LogNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogNotifier{log: log.Named("notify")}
}

func (n *LogNotifier) Send(_ context.Context, alert Alert) error {
	fields := []zap.Field{zap.String("title", alert.Title), zap.String("message", alert.Message)}
	if alert.RunID != "" {
		fields = append(fields, zap.String("run_id", alert.RunID))
	}
	switch alert.Level {
	case AlertCritical:
		n.log.Error("alert", fields...)
	case AlertWarning:
		n.log.Warn("alert", fields...)
	default:
		n.log.Info("alert", fields...)
	}
	return nil
}

// Multi sends every alert to each notifier and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RunAlert summarizes a finished run. Runs that hit a risk halt are
// warnings.
func RunAlert(res *backtest.Result) Alert {
	s := res.Summary
	a := Alert{
		Level: AlertInfo,
		Title: fmt.Sprintf("backtest %s complete", s.Strategy),
		Message: fmt.Sprintf("bars=%d trades=%d win_rate=%.1f%% net_pnl=%.2f max_dd=%.2f%% sharpe=%.3f",
			s.Bars, s.Trades, s.WinRate*100, s.NetPnL, s.MaxDrawdown*100, s.Sharpe),
		RunID: res.RunID,
	}
	if len(res.Halts) > 0 {
		a.Level = AlertWarning
		a.Title = fmt.Sprintf("backtest %s halted by risk gate", s.Strategy)
		a.Message += fmt.Sprintf(" halt=%q", res.Halts[0].Reason)
	}
	return a
}

// FailureAlert reports a run that did not complete.
func FailureAlert(strategy string, err error) Alert {
	return Alert{
		Level:   AlertCritical,
		Title:   fmt.Sprintf("backtest %s failed", strategy),
		Message: err.Error(),
	}
}
