package backtest

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"trading-backtestv1/internal/model"
	"trading-backtestv1/internal/strategy"
)

// Variant is one configuration in a parameter sweep. NewDecider must
// return a fresh decider on every call.
type Variant struct {
	Name       string
	Config     Config
	NewDecider func() strategy.Decider
}

// Sweep runs every variant over the same candles with at most concurrency
// runs in flight. Each run owns its own simulator state. Results keep the
// order of variants; the first error cancels the remaining runs.
func Sweep(ctx context.Context, candles []model.Candle, variants []Variant, concurrency int, opts ...Option) ([]*Result, error) {
	if err := model.ValidateSequence(candles); err != nil {
		return nil, fmt.Errorf("backtest: %w", err)
	}
	if concurrency <= 0 {
		concurrency = 1
	}

	results := make([]*Result, len(variants))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for i, v := range variants {
		i, v := i, v
		g.Go(func() error {
			if v.NewDecider == nil {
				return fmt.Errorf("backtest: variant %q has no decider", v.Name)
			}
			sim, err := New(v.Config, v.NewDecider(), opts...)
			if err != nil {
				return fmt.Errorf("variant %q: %w", v.Name, err)
			}
			res, err := sim.Run(gctx, candles)
			if err != nil {
				return fmt.Errorf("variant %q: %w", v.Name, err)
			}
			res.Summary.Strategy = v.Name
			res.Strategy = v.Name
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
