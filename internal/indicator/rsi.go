package indicator

import "strconv"

// RSI calculates the Relative Strength Index using Wilder's smoothing method.
// Update is O(1) per value, no history scans.
type RSI struct {
	period    int
	count     int
	prevClose float64
	avgGain   float64
	avgLoss   float64
	current   float64
}

// NewRSI creates a new RSI indicator with the given period (typically 14).
func NewRSI(period int) *RSI {
	return &RSI{period: period}
}

func (r *RSI) Name() string { return "RSI_" + strconv.Itoa(r.period) }

func (r *RSI) Update(price float64) {
	r.count++

	if r.count == 1 {
		// First value: just record price, no delta yet
		r.prevClose = price
		return
	}

	gain, loss := splitDelta(price - r.prevClose)
	r.prevClose = price

	if r.count <= r.period+1 {
		// Accumulation phase: build initial averages
		r.avgGain += gain
		r.avgLoss += loss

		if r.count == r.period+1 {
			r.avgGain /= float64(r.period)
			r.avgLoss /= float64(r.period)
			if r.avgGain == 0 && r.avgLoss == 0 {
				// flat warm-up window
				r.current = 50
			} else {
				r.current = rsiFrom(r.avgGain, r.avgLoss)
			}
		}
		return
	}

	// Wilder's smoothing: avgGain = (prevAvgGain * (period-1) + gain) / period
	p := float64(r.period)
	r.avgGain = (r.avgGain*(p-1) + gain) / p
	r.avgLoss = (r.avgLoss*(p-1) + loss) / p
	r.current = rsiFrom(r.avgGain, r.avgLoss)
}

func (r *RSI) Value() float64 { return r.current }
func (r *RSI) Ready() bool    { return r.count > r.period }

// Peek computes what RSI would be with an additional price without mutating state.
func (r *RSI) Peek(price float64) float64 {
	if r.count <= r.period {
		return r.current
	}
	gain, loss := splitDelta(price - r.prevClose)
	p := float64(r.period)
	return rsiFrom((r.avgGain*(p-1)+gain)/p, (r.avgLoss*(p-1)+loss)/p)
}

// Reset clears the RSI state for reuse.
func (r *RSI) Reset() {
	r.count = 0
	r.prevClose = 0
	r.avgGain = 0
	r.avgLoss = 0
	r.current = 0
}

func splitDelta(delta float64) (gain, loss float64) {
	if delta > 0 {
		return delta, 0
	}
	return 0, -delta
}

func rsiFrom(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}
