package indicator

import (
	"fmt"

	"trading-backtestv1/internal/model"
)

// Params configures every lookback independently. No period is shared
// between unrelated computations.
type Params struct {
	EMAFast int
	EMASlow int

	RSIPeriod int

	StochPeriod int
	StochK      int
	StochD      int

	StochRSIPeriod int // RSI lookback feeding StochRSI
	StochRSIStoch  int
	StochRSIK      int
	StochRSID      int

	MFIPeriod       int
	CCIPeriod       int
	ChopPeriod      int
	WilliamsRPeriod int
	MomentumPeriod  int
	ATRPeriod       int

	MACDFast   int
	MACDSlow   int
	MACDSignal int

	ADXPeriod int

	BollingerPeriod  int
	BollingerStdMult float64

	KeltnerPeriod    int
	KeltnerATRPeriod int
	KeltnerMult      float64

	SuperTrendPeriod int
	SuperTrendMult   float64

	PSARAccel    float64
	PSARMaxAccel float64

	ChandelierPeriod int
	ChandelierATR    int
	ChandelierMult   float64

	LinRegPeriod  int
	HistVolPeriod int

	PivotWindow        int
	DivergenceLookback int
	FVGLookback        int
	SRWindow           int
	SRTolerancePct     float64
}

// DefaultParams returns commonly used lookbacks.
func DefaultParams() Params {
	return Params{
		EMAFast:            12,
		EMASlow:            26,
		RSIPeriod:          14,
		StochPeriod:        14,
		StochK:             3,
		StochD:             3,
		StochRSIPeriod:     14,
		StochRSIStoch:      14,
		StochRSIK:          3,
		StochRSID:          3,
		MFIPeriod:          14,
		CCIPeriod:          20,
		ChopPeriod:         14,
		WilliamsRPeriod:    14,
		MomentumPeriod:     10,
		ATRPeriod:          14,
		MACDFast:           12,
		MACDSlow:           26,
		MACDSignal:         9,
		ADXPeriod:          14,
		BollingerPeriod:    20,
		BollingerStdMult:   2,
		KeltnerPeriod:      20,
		KeltnerATRPeriod:   10,
		KeltnerMult:        2,
		SuperTrendPeriod:   10,
		SuperTrendMult:     3,
		PSARAccel:          0.02,
		PSARMaxAccel:       0.2,
		ChandelierPeriod:   22,
		ChandelierATR:      22,
		ChandelierMult:     3,
		LinRegPeriod:       20,
		HistVolPeriod:      20,
		PivotWindow:        3,
		DivergenceLookback: 50,
		FVGLookback:        10,
		SRWindow:           50,
		SRTolerancePct:     0.5,
	}
}

// Validate rejects non-positive lookbacks.
func (p Params) Validate() error {
	periods := map[string]int{
		"ema_fast": p.EMAFast, "ema_slow": p.EMASlow, "rsi": p.RSIPeriod,
		"stoch": p.StochPeriod, "stoch_k": p.StochK, "stoch_d": p.StochD,
		"stoch_rsi": p.StochRSIPeriod, "stoch_rsi_stoch": p.StochRSIStoch,
		"stoch_rsi_k": p.StochRSIK, "stoch_rsi_d": p.StochRSID,
		"mfi": p.MFIPeriod, "cci": p.CCIPeriod, "chop": p.ChopPeriod,
		"williams_r": p.WilliamsRPeriod, "momentum": p.MomentumPeriod, "atr": p.ATRPeriod,
		"macd_fast": p.MACDFast, "macd_slow": p.MACDSlow, "macd_signal": p.MACDSignal,
		"adx": p.ADXPeriod, "bollinger": p.BollingerPeriod,
		"keltner": p.KeltnerPeriod, "keltner_atr": p.KeltnerATRPeriod,
		"supertrend": p.SuperTrendPeriod, "chandelier": p.ChandelierPeriod,
		"chandelier_atr": p.ChandelierATR, "linreg": p.LinRegPeriod,
		"hist_vol": p.HistVolPeriod, "pivot_window": p.PivotWindow,
		"divergence_lookback": p.DivergenceLookback, "fvg_lookback": p.FVGLookback,
		"sr_window": p.SRWindow,
	}
	for name, v := range periods {
		if v <= 0 {
			return fmt.Errorf("indicator period %s must be positive, got %d", name, v)
		}
	}
	if p.ChopPeriod < 2 {
		return fmt.Errorf("indicator period chop must be at least 2, got %d", p.ChopPeriod)
	}
	if p.HistVolPeriod < 2 {
		return fmt.Errorf("indicator period hist_vol must be at least 2, got %d", p.HistVolPeriod)
	}
	if p.PSARAccel <= 0 || p.PSARMaxAccel < p.PSARAccel {
		return fmt.Errorf("psar acceleration must satisfy 0 < accel <= max, got %f/%f", p.PSARAccel, p.PSARMaxAccel)
	}
	if p.SRTolerancePct < 0 {
		return fmt.Errorf("sr tolerance must be non-negative, got %f", p.SRTolerancePct)
	}
	return nil
}

// Frame holds every configured series for one candle sequence. All values
// at index i depend only on candles[0..i].
type Frame struct {
	Params  Params
	Candles []model.Candle
	Closes  model.Series[float64]

	EMAFast    model.Series[float64]
	EMASlow    model.Series[float64]
	RSI        model.Series[float64]
	Stoch      StochResult
	StochRSI   StochResult
	MFI        model.Series[float64]
	CCI        model.Series[float64]
	Chop       model.Series[float64]
	WilliamsR  model.Series[float64]
	Momentum   model.Series[float64]
	ATR        model.Series[float64]
	MACD       MACDResult
	ADX        ADXResult
	Bollinger  Bands
	Keltner    Bands
	SuperTrend SuperTrendResult
	Chandelier ChandelierResult
	VWAP       model.Series[float64]
	OBV        model.Series[float64]
	ADI        model.Series[float64]
	PSAR       PSARResult
	LinReg     LinRegResult
	HistVol    model.Series[float64]
	Divergence []DivergenceKind
	Gaps       []Gap
}

// Len returns the number of bars in the frame.
func (f *Frame) Len() int { return len(f.Candles) }

// Levels returns the clustered support/resistance levels visible at bar i.
// Recomputed per call from the candle window; nothing is cached across steps.
func (f *Frame) Levels(i int) []float64 {
	return SupportResistance(f.Candles, i, f.Params.SRWindow, f.Params.SRTolerancePct)
}

// Gap returns the latest fair value gap visible at bar i.
func (f *Frame) Gap(i int) (Gap, bool) {
	return LatestGap(f.Gaps, i, f.Params.FVGLookback)
}

// Value is a named indicator reading at one bar.
type Value struct {
	Name  string
	Value model.Optional[float64]
}

// Row returns the headline readings at bar i, for logging and inspection.
func (f *Frame) Row(i int) []Value {
	p := f.Params
	return []Value{
		{fmt.Sprintf("EMA_%d", p.EMAFast), f.EMAFast.At(i)},
		{fmt.Sprintf("EMA_%d", p.EMASlow), f.EMASlow.At(i)},
		{fmt.Sprintf("RSI_%d", p.RSIPeriod), f.RSI.At(i)},
		{fmt.Sprintf("ATR_%d", p.ATRPeriod), f.ATR.At(i)},
		{"MACD", f.MACD.Line.At(i)},
		{"MACD_SIGNAL", f.MACD.Signal.At(i)},
		{fmt.Sprintf("ADX_%d", p.ADXPeriod), f.ADX.ADX.At(i)},
		{"BB_UPPER", f.Bollinger.Upper.At(i)},
		{"BB_LOWER", f.Bollinger.Lower.At(i)},
		{"SUPERTREND", f.SuperTrend.Line.At(i)},
		{"PSAR", f.PSAR.SAR.At(i)},
		{"VWAP", f.VWAP.At(i)},
		{fmt.Sprintf("CHOP_%d", p.ChopPeriod), f.Chop.At(i)},
	}
}

// Engine computes a Frame from configured Params.
// Designed for single-goroutine usage per run; Engines hold no mutable state.
type Engine struct {
	params Params
}

// NewEngine creates an indicator engine with the given params.
func NewEngine(p Params) *Engine {
	return &Engine{params: p}
}

// Params returns the engine's configuration.
func (e *Engine) Params() Params { return e.params }

// Compute runs every indicator over candles.
func (e *Engine) Compute(candles []model.Candle) *Frame {
	p := e.params
	closes := model.Closes(candles)
	rsi := RSISeries(closes, p.RSIPeriod)
	return &Frame{
		Params:     p,
		Candles:    candles,
		Closes:     closes,
		EMAFast:    EMASeries(closes, p.EMAFast),
		EMASlow:    EMASeries(closes, p.EMASlow),
		RSI:        rsi,
		Stoch:      Stochastic(candles, p.StochPeriod, p.StochK, p.StochD),
		StochRSI:   StochRSI(closes, p.StochRSIPeriod, p.StochRSIStoch, p.StochRSIK, p.StochRSID),
		MFI:        MFI(candles, p.MFIPeriod),
		CCI:        CCI(candles, p.CCIPeriod),
		Chop:       Choppiness(candles, p.ChopPeriod),
		WilliamsR:  WilliamsR(candles, p.WilliamsRPeriod),
		Momentum:   Momentum(closes, p.MomentumPeriod),
		ATR:        ATR(candles, p.ATRPeriod),
		MACD:       MACD(closes, p.MACDFast, p.MACDSlow, p.MACDSignal),
		ADX:        ADX(candles, p.ADXPeriod),
		Bollinger:  Bollinger(closes, p.BollingerPeriod, p.BollingerStdMult),
		Keltner:    Keltner(candles, p.KeltnerPeriod, p.KeltnerATRPeriod, p.KeltnerMult),
		SuperTrend: SuperTrend(candles, p.SuperTrendPeriod, p.SuperTrendMult),
		Chandelier: Chandelier(candles, p.ChandelierPeriod, p.ChandelierATR, p.ChandelierMult),
		VWAP:       VWAP(candles),
		OBV:        OBV(candles),
		ADI:        ADI(candles),
		PSAR:       PSAR(candles, p.PSARAccel, p.PSARMaxAccel),
		LinReg:     LinReg(closes, p.LinRegPeriod),
		HistVol:    HistVol(closes, p.HistVolPeriod),
		Divergence: DivergenceSeries(closes, rsi, p.PivotWindow, p.DivergenceLookback),
		Gaps:       FairValueGaps(candles),
	}
}
