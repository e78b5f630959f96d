package indicator

import "trading-backtestv1/internal/model"

// GapType distinguishes bullish from bearish fair value gaps.
type GapType int

const (
	GapBullish GapType = iota + 1
	GapBearish
)

func (g GapType) String() string {
	if g == GapBullish {
		return "bullish"
	}
	return "bearish"
}

// Gap is a three-candle imbalance. From < To always; Index is the candle
// that completes the pattern.
type Gap struct {
	Type  GapType
	From  float64
	To    float64
	Index int
}

// FairValueGaps scans candles for three-candle imbalances. A bullish gap has
// low[i] > high[i-2]; a bearish gap has high[i] < low[i-2].
func FairValueGaps(candles []model.Candle) []Gap {
	var gaps []Gap
	for i := 2; i < len(candles); i++ {
		first, last := candles[i-2], candles[i]
		switch {
		case last.Low > first.High:
			gaps = append(gaps, Gap{Type: GapBullish, From: first.High, To: last.Low, Index: i})
		case last.High < first.Low:
			gaps = append(gaps, Gap{Type: GapBearish, From: last.High, To: first.Low, Index: i})
		}
	}
	return gaps
}

// LatestGap returns the most recent gap completed at or before bar at and no
// older than lookback bars.
func LatestGap(gaps []Gap, at, lookback int) (Gap, bool) {
	for k := len(gaps) - 1; k >= 0; k-- {
		g := gaps[k]
		if g.Index > at {
			continue
		}
		if g.Index < at-lookback {
			break
		}
		return g, true
	}
	return Gap{}, false
}
