package indicator

import (
	"math"
	"strconv"
)

// sumSettle is the running-sum magnitude below which the window is summed
// exactly.
const sumSettle = 1e-9

// SMA calculates Simple Moving Average over a rolling window.
// Uses a preallocated circular buffer for zero-allocation hot path.
type SMA struct {
	period  int
	buf     []float64 // preallocated circular buffer
	idx     int       // current write position
	count   int       // total values received
	sum     float64
	current float64
}

// NewSMA creates a new SMA indicator with the given period.
func NewSMA(period int) *SMA {
	return &SMA{
		period: period,
		buf:    make([]float64, period),
	}
}

func (s *SMA) Name() string { return "SMA_" + strconv.Itoa(s.period) }

func (s *SMA) Update(v float64) {
	if s.count >= s.period {
		// Subtract the oldest value being overwritten
		s.sum -= s.buf[s.idx]
	}

	s.buf[s.idx] = v
	s.sum += v
	s.idx = (s.idx + 1) % s.period
	s.count++

	// Rebuild the running sum once per lap, and whenever it nears zero, so
	// subtraction residue never outlives the window.
	if s.idx == 0 || math.Abs(s.sum) < sumSettle {
		s.resum()
	}

	if s.count >= s.period {
		s.current = s.sum / float64(s.period)
	}
}

func (s *SMA) Value() float64 { return s.current }
func (s *SMA) Ready() bool    { return s.count >= s.period }

// Peek computes what Value() would be with an additional value without mutating state.
func (s *SMA) Peek(v float64) float64 {
	if s.count < s.period {
		// Not fully ready: return partial average including this value
		return (s.sum + v) / float64(s.count+1)
	}
	// Preview: replace the oldest value (at idx) with v
	return (s.sum - s.buf[s.idx] + v) / float64(s.period)
}

func (s *SMA) resum() {
	n := s.period
	if s.count < n {
		n = s.count
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += s.buf[i]
	}
	s.sum = sum
}

// Reset clears the SMA state for reuse.
func (s *SMA) Reset() {
	s.idx = 0
	s.count = 0
	s.sum = 0
	s.current = 0
	for i := range s.buf {
		s.buf[i] = 0
	}
}
