package execution

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"math"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"trading-backtestv1/internal/model"
)

// feeScale is the number of decimal places fees are rounded to.
const feeScale = 8

// FillConfig controls the simulated venue.
type FillConfig struct {
	MakerFee     float64 `json:"maker_fee" yaml:"maker_fee"`         // fraction of notional for resting fills
	TakerFee     float64 `json:"taker_fee" yaml:"taker_fee"`         // fraction of notional for market/stop fills
	Slippage     float64 `json:"slippage" yaml:"slippage"`           // adverse price fraction on taker fills
	LiquidityCap float64 `json:"liquidity_cap" yaml:"liquidity_cap"` // max fraction of bar volume filled per bar, 0 = unlimited
	Seed         uint64  `json:"seed" yaml:"seed"`                   // intrabar path seed
}

// Validate rejects negative rates.
func (c FillConfig) Validate() error {
	for name, v := range map[string]float64{
		"maker_fee":     c.MakerFee,
		"taker_fee":     c.TakerFee,
		"slippage":      c.Slippage,
		"liquidity_cap": c.LiquidityCap,
	} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("execution: %s must be >= 0, got %v", name, v)
		}
	}
	if c.Slippage >= 1 {
		return fmt.Errorf("execution: slippage must be < 1, got %v", c.Slippage)
	}
	return nil
}

// UpFirst reports whether the intrabar path for bar visits the high before
// the low. The choice is a pure function of seed and the bar's OpenTime.
func UpFirst(seed uint64, bar model.Candle) bool {
	h := fnv.New64a()
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], seed)
	binary.LittleEndian.PutUint64(buf[8:], uint64(bar.OpenTime))
	h.Write(buf[:])
	return h.Sum64()>>63 == 0
}

// Path returns the intrabar zigzag O→H→L→C or O→L→H→C.
func Path(seed uint64, bar model.Candle) [4]float64 {
	if UpFirst(seed, bar) {
		return [4]float64{bar.Open, bar.High, bar.Low, bar.Close}
	}
	return [4]float64{bar.Open, bar.Low, bar.High, bar.Close}
}

// touch returns how far along path price travels before first reaching
// level, or -1 when the path never reaches it.
func touch(path [4]float64, level float64) float64 {
	dist := 0.0
	for i := 0; i < len(path)-1; i++ {
		a, b := path[i], path[i+1]
		if level >= math.Min(a, b) && level <= math.Max(a, b) {
			return dist + math.Abs(level-a)
		}
		dist += math.Abs(b - a)
	}
	return -1
}

// trigger decides whether o executes on bar and returns the path distance
// at which it does and its pre-slippage price.
func trigger(o model.RestingOrder, bar model.Candle, path [4]float64) (float64, float64, bool) {
	switch o.Kind {
	case model.KindMarket:
		return 0, bar.Open, true

	case model.KindLimit:
		if o.Side == model.Buy {
			if bar.Open <= o.Price {
				return 0, bar.Open, true
			}
			if bar.Low > o.Price {
				return 0, 0, false
			}
		} else {
			if bar.Open >= o.Price {
				return 0, bar.Open, true
			}
			if bar.High < o.Price {
				return 0, 0, false
			}
		}
		return touch(path, o.Price), o.Price, true

	case model.KindStop:
		if o.Side == model.Buy {
			if bar.Open >= o.Price {
				return 0, bar.Open, true
			}
			if bar.High < o.Price {
				return 0, 0, false
			}
		} else {
			if bar.Open <= o.Price {
				return 0, bar.Open, true
			}
			if bar.Low > o.Price {
				return 0, 0, false
			}
		}
		return touch(path, o.Price), o.Price, true
	}
	return 0, 0, false
}

// Fee returns notional × rate rounded to eight decimal places.
func Fee(price, qty, rate float64) float64 {
	if rate == 0 {
		return 0
	}
	f := decimal.NewFromFloat(price).
		Mul(decimal.NewFromFloat(qty)).
		Mul(decimal.NewFromFloat(rate)).
		Round(feeScale)
	v, _ := f.Float64()
	return v
}

// Matcher fills resting orders against replayed bars. It keeps no state
// between bars besides its configuration.
type Matcher struct {
	cfg FillConfig
	log *zap.Logger
}

// NewMatcher creates a matcher for cfg.
func NewMatcher(cfg FillConfig, log *zap.Logger) *Matcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Matcher{cfg: cfg, log: log.Named("paper")}
}

// Config returns the matcher's configuration.
func (m *Matcher) Config() FillConfig {
	return m.cfg
}

type candidate struct {
	e     *entry
	dist  float64
	price float64
}

// Match executes every order in book that bar reaches, in intrabar path
// order with placement order breaking ties, and returns the fills. Total
// filled quantity is capped at LiquidityCap × bar volume; orders that do
// not fit keep their remaining quantity for later bars.
func (m *Matcher) Match(bar model.Candle, book *Book) []model.Fill {
	book.arm()
	path := Path(m.cfg.Seed, bar)

	var cands []candidate
	for _, e := range book.eligible() {
		if d, px, ok := trigger(e.order, bar, path); ok {
			cands = append(cands, candidate{e: e, dist: d, price: px})
		}
	}
	if len(cands) == 0 {
		return nil
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].dist != cands[j].dist {
			return cands[i].dist < cands[j].dist
		}
		return cands[i].e.seq < cands[j].e.seq
	})

	liquidity := math.Inf(1)
	if m.cfg.LiquidityCap > 0 {
		liquidity = m.cfg.LiquidityCap * bar.Volume
	}

	fills := make([]model.Fill, 0, len(cands))
	for _, c := range cands {
		// An OCO sibling may have consumed this order earlier in the loop.
		cur := book.find(c.e.order.ID)
		if cur == nil || cur.order.Qty <= qtyEpsilon {
			continue
		}
		o := cur.order
		qty := math.Min(o.Qty, liquidity)
		if qty <= qtyEpsilon {
			m.log.Debug("liquidity exhausted",
				zap.Int64("bar", bar.OpenTime),
				zap.String("order", o.ID),
				zap.Float64("remaining", o.Qty))
			continue
		}
		liquidity -= qty

		price := c.price
		rate := m.cfg.MakerFee
		if !o.IsMaker {
			rate = m.cfg.TakerFee
			price *= 1 + o.Side.Sign()*m.cfg.Slippage
		}
		f := model.Fill{
			Timestamp: bar.OpenTime,
			OrderID:   o.ID,
			Side:      o.Side,
			Price:     price,
			Qty:       qty,
			Fee:       Fee(price, qty, rate),
			IsMaker:   o.IsMaker,
			Purpose:   o.Purpose,
		}
		book.executed(c.e, qty)
		fills = append(fills, f)

		m.log.Debug("filled",
			zap.Int64("bar", bar.OpenTime),
			zap.String("order", f.OrderID),
			zap.String("side", string(f.Side)),
			zap.String("purpose", string(f.Purpose)),
			zap.Float64("price", f.Price),
			zap.Float64("qty", f.Qty),
			zap.Float64("fee", f.Fee))
	}
	return fills
}
