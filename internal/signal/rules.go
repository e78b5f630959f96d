package signal

import (
	"math"

	"trading-backtestv1/internal/indicator"
	"trading-backtestv1/internal/model"
)

type ruleFunc func(f *indicator.Frame, i int, c *Config) int

var ruleFuncs = map[Rule]ruleFunc{
	RuleEMACross:   emaCross,
	RuleRSI:        rsiBands,
	RuleMACD:       macdCross,
	RuleStochRSI:   stochRSI,
	RuleBollinger:  bollinger,
	RuleSuperTrend: superTrend,
	RuleADX:        adxTrend,
	RuleMFI:        mfiBands,
	RuleCCI:        cciBands,
	RuleWilliamsR:  williamsR,
	RuleVWAP:       vwap,
	RuleMomentum:   momentum,
	RuleDivergence: divergence,
	RuleFVG:        fvg,
	RuleSRLevels:   srLevels,
	RuleOBV:        obv,
	RuleADI:        adi,
	RulePSAR:       psar,
}

// Votes evaluates every rule at bar i. Rules whose inputs are absent vote 0.
func Votes(f *indicator.Frame, i int, c Config) map[Rule]int {
	out := make(map[Rule]int, len(Rules))
	if i < 0 || i >= f.Len() {
		return out
	}
	for _, r := range Rules {
		out[r] = ruleFuncs[r](f, i, &c)
	}
	return out
}

// sign maps a difference to -1, 0 or +1.
func sign(d float64) int {
	switch {
	case d > 0:
		return 1
	case d < 0:
		return -1
	}
	return 0
}

// bands votes +1 below lo and -1 above hi.
func bands(v model.Optional[float64], lo, hi float64) int {
	if !v.Valid {
		return 0
	}
	switch {
	case v.Value < lo:
		return 1
	case v.Value > hi:
		return -1
	}
	return 0
}

func both(a, b model.Optional[float64]) bool { return a.Valid && b.Valid }

func emaCross(f *indicator.Frame, i int, _ *Config) int {
	fast, slow := f.EMAFast.At(i), f.EMASlow.At(i)
	if !both(fast, slow) {
		return 0
	}
	return sign(fast.Value - slow.Value)
}

func rsiBands(f *indicator.Frame, i int, c *Config) int {
	return bands(f.RSI.At(i), c.RSIOversold, c.RSIOverbought)
}

// macdCross votes only on the bar where the line crosses its signal.
func macdCross(f *indicator.Frame, i int, _ *Config) int {
	line, sig := f.MACD.Line.At(i), f.MACD.Signal.At(i)
	pl, ps := f.MACD.Line.At(i-1), f.MACD.Signal.At(i-1)
	if !both(line, sig) || !both(pl, ps) {
		return 0
	}
	switch {
	case line.Value > sig.Value && pl.Value <= ps.Value:
		return 1
	case line.Value < sig.Value && pl.Value >= ps.Value:
		return -1
	}
	return 0
}

// stochRSI needs both an extreme reading and %K on the turning side of %D.
func stochRSI(f *indicator.Frame, i int, c *Config) int {
	k, d := f.StochRSI.K.At(i), f.StochRSI.D.At(i)
	if !both(k, d) {
		return 0
	}
	switch {
	case k.Value < c.StochRSIOversold && k.Value > d.Value:
		return 1
	case k.Value > c.StochRSIOverbought && k.Value < d.Value:
		return -1
	}
	return 0
}

func bollinger(f *indicator.Frame, i int, _ *Config) int {
	up, lo := f.Bollinger.Upper.At(i), f.Bollinger.Lower.At(i)
	if !both(up, lo) {
		return 0
	}
	switch cl := f.Candles[i].Close; {
	case cl < lo.Value:
		return 1
	case cl > up.Value:
		return -1
	}
	return 0
}

func superTrend(f *indicator.Frame, i int, _ *Config) int {
	switch f.SuperTrend.State[i] {
	case indicator.Bullish:
		return 1
	case indicator.Bearish:
		return -1
	}
	return 0
}

func adxTrend(f *indicator.Frame, i int, c *Config) int {
	adx, plus, minus := f.ADX.ADX.At(i), f.ADX.PlusDI.At(i), f.ADX.MinusDI.At(i)
	if !adx.Valid || !both(plus, minus) || adx.Value <= c.ADXTrend {
		return 0
	}
	return sign(plus.Value - minus.Value)
}

func mfiBands(f *indicator.Frame, i int, c *Config) int {
	return bands(f.MFI.At(i), c.MFIOversold, c.MFIOverbought)
}

func cciBands(f *indicator.Frame, i int, c *Config) int {
	return bands(f.CCI.At(i), -c.CCILevel, c.CCILevel)
}

func williamsR(f *indicator.Frame, i int, c *Config) int {
	return bands(f.WilliamsR.At(i), c.WROversold, c.WROverbought)
}

func vwap(f *indicator.Frame, i int, _ *Config) int {
	v := f.VWAP.At(i)
	if !v.Valid {
		return 0
	}
	return sign(f.Candles[i].Close - v.Value)
}

func momentum(f *indicator.Frame, i int, _ *Config) int {
	m := f.Momentum.At(i)
	if !m.Valid {
		return 0
	}
	return sign(m.Value)
}

func divergence(f *indicator.Frame, i int, _ *Config) int {
	switch f.Divergence[i] {
	case indicator.BullishDivergence:
		return 1
	case indicator.BearishDivergence:
		return -1
	}
	return 0
}

func fvg(f *indicator.Frame, i int, _ *Config) int {
	g, ok := f.Gap(i)
	if !ok {
		return 0
	}
	if g.Type == indicator.GapBullish {
		return 1
	}
	return -1
}

// srLevels votes +1 when price sits on support and -1 when it sits under
// resistance. A price close to both is left neutral.
func srLevels(f *indicator.Frame, i int, c *Config) int {
	price := f.Candles[i].Close
	if price <= 0 {
		return 0
	}
	sup, res := indicator.NearestLevels(f.Levels(i), price)
	tol := c.SRProximityPct / 100
	nearSup := sup.Valid && (price-sup.Value)/price <= tol
	nearRes := res.Valid && (res.Value-price)/price <= tol
	switch {
	case nearSup && !nearRes:
		return 1
	case nearRes && !nearSup:
		return -1
	}
	return 0
}

func obv(f *indicator.Frame, i int, _ *Config) int {
	cur, prev := f.OBV.At(i), f.OBV.At(i-1)
	if !both(cur, prev) {
		return 0
	}
	return sign(cur.Value - prev.Value)
}

func adi(f *indicator.Frame, i int, _ *Config) int {
	cur, prev := f.ADI.At(i), f.ADI.At(i-1)
	if !both(cur, prev) {
		return 0
	}
	return sign(cur.Value - prev.Value)
}

// psar votes with the side of the SAR the close is on.
func psar(f *indicator.Frame, i int, _ *Config) int {
	sar := f.PSAR.SAR.At(i)
	if !sar.Valid {
		return 0
	}
	return sign(f.Candles[i].Close - sar.Value)
}

// highVolatility reports whether ATR/close at bar i exceeds threshold.
func highVolatility(f *indicator.Frame, i int, threshold float64) bool {
	atr := f.ATR.At(i)
	if threshold <= 0 || !atr.Valid || i >= f.Len() {
		return false
	}
	cl := f.Candles[i].Close
	if cl == 0 || math.IsNaN(atr.Value) {
		return false
	}
	return atr.Value/math.Abs(cl) > threshold
}
