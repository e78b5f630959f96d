// Package config holds the immutable configuration of a backtest run and
// converts it into the typed sub-configs each component takes by value.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"go.uber.org/zap"

	"trading-backtestv1/internal/backtest"
	"trading-backtestv1/internal/execution"
	"trading-backtestv1/internal/indicator"
	"trading-backtestv1/internal/marketdata/replay"
	"trading-backtestv1/internal/marketdata/tfbuilder"
	"trading-backtestv1/internal/markethours"
	"trading-backtestv1/internal/model"
	"trading-backtestv1/internal/portfolio"
	"trading-backtestv1/internal/report"
	"trading-backtestv1/internal/signal"
	"trading-backtestv1/internal/strategy"
)

// Config is the root configuration.
type Config struct {
	Data     DataConfig     `mapstructure:"data"`
	Run      RunConfig      `mapstructure:"run"`
	Fill     FillConfig     `mapstructure:"fill"`
	Risk     RiskConfig     `mapstructure:"risk"`
	Strategy StrategyConfig `mapstructure:"strategy"`
	// Indicators sets the engine lookbacks shared by every run unless a
	// sweep variant overrides them.
	Indicators IndicatorsConfig `mapstructure:"indicators"`
	Sweep      SweepConfig      `mapstructure:"sweep"`
	Report   ReportConfig   `mapstructure:"report"`
	Journal  JournalConfig  `mapstructure:"journal"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Log      LogConfig      `mapstructure:"log"`
	Trace    TraceConfig    `mapstructure:"trace"`
	Notify   NotifyConfig   `mapstructure:"notify"`
}

// DataConfig selects the candle source and the replay range.
type DataConfig struct {
	Source   string `mapstructure:"source"` // sqlite, csv or parquet
	Path     string `mapstructure:"path"`
	Symbol   string `mapstructure:"symbol"`
	Interval string `mapstructure:"interval"`
	From     string `mapstructure:"from"` // inclusive; unix ms or a date/time layout
	To       string `mapstructure:"to"`   // exclusive
	PageSize int    `mapstructure:"page_size"`
	Session  string `mapstructure:"session"` // calendar whose open hours filter bars; empty keeps all
	Resample string `mapstructure:"resample"` // coarser bar interval such as "5m"; empty replays as stored
}

// RunConfig carries account-level settings.
type RunConfig struct {
	InitialCapital float64 `mapstructure:"initial_capital"`
	FixedQty       float64 `mapstructure:"fixed_qty"`
	Calendar       string  `mapstructure:"calendar"` // day boundary for the daily loss limit
}

type FillConfig struct {
	MakerFee     float64 `mapstructure:"maker_fee"`
	TakerFee     float64 `mapstructure:"taker_fee"`
	Slippage     float64 `mapstructure:"slippage"`
	LiquidityCap float64 `mapstructure:"liquidity_cap"`
	Seed         uint64  `mapstructure:"seed"`
}

type RiskConfig struct {
	MaxDrawdownPct  float64 `mapstructure:"max_drawdown_pct"`
	MaxDailyLossPct float64 `mapstructure:"max_daily_loss_pct"`
	RiskPct         float64 `mapstructure:"risk_pct"`
	LeverageCap     float64 `mapstructure:"leverage_cap"`
	DefaultStopPct  float64 `mapstructure:"default_stop_pct"`
}

// StrategyConfig selects and parameterizes a Decider.
type StrategyConfig struct {
	Label string `mapstructure:"label"` // sweep variant name; defaults to Name
	Name  string `mapstructure:"name"`  // sma_crossover, signal_combiner or scripted

	ScriptPath string `mapstructure:"script_path"` // JSON-lines decisions for scripted

	FastPeriod int  `mapstructure:"fast_period"`
	SlowPeriod int  `mapstructure:"slow_period"`
	RSIPeriod  int  `mapstructure:"rsi_period"`
	AllowShort bool `mapstructure:"allow_short"`

	BuyThreshold      float64 `mapstructure:"buy_threshold"`
	SellThreshold     float64 `mapstructure:"sell_threshold"`
	StopATRMultiple   float64 `mapstructure:"stop_atr_multiple"`
	TargetATRMultiple float64 `mapstructure:"target_atr_multiple"`
	LimitEntry        bool    `mapstructure:"limit_entry"`
	MinConfidence     float64 `mapstructure:"min_confidence"`

	Signal CombinerConfig `mapstructure:"signal"`
}

// CombinerConfig tunes the signal combiner. Weight maps are keyed by rule
// name and override the default weight of each listed rule only.
type CombinerConfig struct {
	LowVolatility       map[string]float64 `mapstructure:"low_volatility"`
	HighVolatility      map[string]float64 `mapstructure:"high_volatility"`
	VolatilityThreshold float64            `mapstructure:"volatility_threshold"`

	RSIOversold        float64 `mapstructure:"rsi_oversold"`
	RSIOverbought      float64 `mapstructure:"rsi_overbought"`
	StochRSIOversold   float64 `mapstructure:"stoch_rsi_oversold"`
	StochRSIOverbought float64 `mapstructure:"stoch_rsi_overbought"`
	MFIOversold        float64 `mapstructure:"mfi_oversold"`
	MFIOverbought      float64 `mapstructure:"mfi_overbought"`
	CCILevel           float64 `mapstructure:"cci_level"`
	WROversold         float64 `mapstructure:"wr_oversold"`
	WROverbought       float64 `mapstructure:"wr_overbought"`
	ADXTrend           float64 `mapstructure:"adx_trend"`
	SRProximityPct     float64 `mapstructure:"sr_proximity_pct"`
}

// IndicatorsConfig mirrors indicator.Params field for field.
type IndicatorsConfig struct {
	EMAFast int `mapstructure:"ema_fast"`
	EMASlow int `mapstructure:"ema_slow"`

	RSIPeriod int `mapstructure:"rsi_period"`

	StochPeriod int `mapstructure:"stoch_period"`
	StochK      int `mapstructure:"stoch_k"`
	StochD      int `mapstructure:"stoch_d"`

	StochRSIPeriod int `mapstructure:"stoch_rsi_period"`
	StochRSIStoch  int `mapstructure:"stoch_rsi_stoch"`
	StochRSIK      int `mapstructure:"stoch_rsi_k"`
	StochRSID      int `mapstructure:"stoch_rsi_d"`

	MFIPeriod       int `mapstructure:"mfi_period"`
	CCIPeriod       int `mapstructure:"cci_period"`
	ChopPeriod      int `mapstructure:"chop_period"`
	WilliamsRPeriod int `mapstructure:"williams_r_period"`
	MomentumPeriod  int `mapstructure:"momentum_period"`
	ATRPeriod       int `mapstructure:"atr_period"`

	MACDFast   int `mapstructure:"macd_fast"`
	MACDSlow   int `mapstructure:"macd_slow"`
	MACDSignal int `mapstructure:"macd_signal"`

	ADXPeriod int `mapstructure:"adx_period"`

	BollingerPeriod  int     `mapstructure:"bollinger_period"`
	BollingerStdMult float64 `mapstructure:"bollinger_std_mult"`

	KeltnerPeriod    int     `mapstructure:"keltner_period"`
	KeltnerATRPeriod int     `mapstructure:"keltner_atr_period"`
	KeltnerMult      float64 `mapstructure:"keltner_mult"`

	SuperTrendPeriod int     `mapstructure:"supertrend_period"`
	SuperTrendMult   float64 `mapstructure:"supertrend_mult"`

	PSARAccel    float64 `mapstructure:"psar_accel"`
	PSARMaxAccel float64 `mapstructure:"psar_max_accel"`

	ChandelierPeriod int     `mapstructure:"chandelier_period"`
	ChandelierATR    int     `mapstructure:"chandelier_atr"`
	ChandelierMult   float64 `mapstructure:"chandelier_mult"`

	LinRegPeriod  int `mapstructure:"linreg_period"`
	HistVolPeriod int `mapstructure:"hist_vol_period"`

	PivotWindow        int     `mapstructure:"pivot_window"`
	DivergenceLookback int     `mapstructure:"divergence_lookback"`
	FVGLookback        int     `mapstructure:"fvg_lookback"`
	SRWindow           int     `mapstructure:"sr_window"`
	SRTolerancePct     float64 `mapstructure:"sr_tolerance_pct"`
}

// Params converts to the engine's parameter set.
func (ic IndicatorsConfig) Params() indicator.Params {
	return indicator.Params(ic)
}

// SweepConfig lists strategy variants run side by side over one dataset.
// Each variant is a set of strategy keys, plus optional "indicators" and
// "signal" maps, laid over the base sections. Keys a variant leaves out
// are inherited, so an explicit 0 or false overrides the base.
type SweepConfig struct {
	Concurrency int                      `mapstructure:"concurrency"`
	Variants    []map[string]interface{} `mapstructure:"variants"`
}

// Variant is one fully resolved strategy run.
type Variant struct {
	StrategyConfig `mapstructure:",squash"`
	Indicators     IndicatorsConfig `mapstructure:"indicators"`
}

type ReportConfig struct {
	Dir     string `mapstructure:"dir"`
	Formats string `mapstructure:"formats"` // comma separated: csv,parquet,json,yaml
}

type JournalConfig struct {
	Path string `mapstructure:"path"` // SQLite fill journal; empty disables it
}

type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	StreamMaxLen int64         `mapstructure:"stream_max_len"`
	EquityEvery  int           `mapstructure:"equity_every"`
	ResultTTL    time.Duration `mapstructure:"result_ttl"`
	MaxFailures  int           `mapstructure:"max_failures"`
	ResetTimeout time.Duration `mapstructure:"reset_timeout"`
}

type MetricsConfig struct {
	Addr        string        `mapstructure:"addr"` // empty disables the HTTP server
	EquityEvery int           `mapstructure:"equity_every"`
	ReplaySize  int           `mapstructure:"replay_size"`
	Linger      time.Duration `mapstructure:"linger"` // keep serving after the run
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

type TraceConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Output  string `mapstructure:"output"` // file path; empty writes to stderr
}

type NotifyConfig struct {
	WebhookURL string        `mapstructure:"webhook_url"` // empty only logs alerts
	Timeout    time.Duration `mapstructure:"timeout"`
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() Config {
	bt := backtest.DefaultConfig()
	sig := strategy.DefaultSignalConfig()
	bands := sig.Signal
	return Config{
		Data: DataConfig{
			Source:   "sqlite",
			Path:     "data/candles.db",
			Symbol:   "NIFTY",
			Interval: "1m",
			PageSize: replay.DefaultPageSize,
		},
		Run: RunConfig{
			InitialCapital: bt.InitialCapital,
			Calendar:       "utc",
		},
		Fill: FillConfig{
			MakerFee: bt.Fill.MakerFee,
			TakerFee: bt.Fill.TakerFee,
			Slippage: bt.Fill.Slippage,
			Seed:     1,
		},
		Risk: RiskConfig(bt.Risk),
		Strategy: StrategyConfig{
			Name:              "sma_crossover",
			FastPeriod:        9,
			SlowPeriod:        21,
			RSIPeriod:         14,
			AllowShort:        true,
			BuyThreshold:      sig.Signal.BuyThreshold,
			SellThreshold:     sig.Signal.SellThreshold,
			StopATRMultiple:   sig.StopATRMultiple,
			TargetATRMultiple: sig.TargetATRMultiple,
			Signal: CombinerConfig{
				VolatilityThreshold: bands.VolatilityThreshold,
				RSIOversold:         bands.RSIOversold,
				RSIOverbought:       bands.RSIOverbought,
				StochRSIOversold:    bands.StochRSIOversold,
				StochRSIOverbought:  bands.StochRSIOverbought,
				MFIOversold:         bands.MFIOversold,
				MFIOverbought:       bands.MFIOverbought,
				CCILevel:            bands.CCILevel,
				WROversold:          bands.WROversold,
				WROverbought:        bands.WROverbought,
				ADXTrend:            bands.ADXTrend,
				SRProximityPct:      bands.SRProximityPct,
			},
		},
		Indicators: IndicatorsConfig(bt.Indicators),
		Sweep:      SweepConfig{Concurrency: 4},
		Report: ReportConfig{Dir: "reports", Formats: "csv,json"},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			StreamMaxLen: 10000,
			EquityEvery:  1,
			ResultTTL:    7 * 24 * time.Hour,
			MaxFailures:  5,
			ResetTimeout: 10 * time.Second,
		},
		Metrics: MetricsConfig{EquityEvery: 10, ReplaySize: 1000},
		Log:     LogConfig{Level: "info", Format: "json"},
		Notify:  NotifyConfig{Timeout: 10 * time.Second},
	}
}

// Validate checks the configuration. Component-level checks run through
// Backtest.
func (c Config) Validate() error {
	var errs []error
	switch c.Data.Source {
	case "sqlite", "csv", "parquet":
	default:
		errs = append(errs, fmt.Errorf("data.source must be sqlite, csv or parquet, got %q", c.Data.Source))
	}
	if c.Data.Path == "" {
		errs = append(errs, errors.New("data.path is required"))
	}
	if c.Data.Source == "sqlite" && c.Data.Symbol == "" {
		errs = append(errs, errors.New("data.symbol is required for the sqlite source"))
	}
	if _, err := c.Query(); err != nil {
		errs = append(errs, err)
	}
	if c.Data.Session != "" {
		if _, err := markethours.Named(c.Data.Session); err != nil {
			errs = append(errs, fmt.Errorf("data.session: %w", err))
		}
	}
	if c.Data.Resample != "" {
		if _, err := tfbuilder.ParseInterval(c.Data.Resample); err != nil {
			errs = append(errs, fmt.Errorf("data.resample: %w", err))
		}
	}
	if _, err := c.Backtest(); err != nil {
		errs = append(errs, err)
	}
	if _, err := report.ParseFormats(c.Report.Formats); err != nil {
		errs = append(errs, err)
	}
	if err := c.Strategy.validate(); err != nil {
		errs = append(errs, fmt.Errorf("strategy: %w", err))
	}
	for i := range c.Sweep.Variants {
		v, err := c.Variant(i)
		if err == nil {
			err = v.validate()
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("sweep.variants[%d] %s: %w", i, v.Label, err))
		}
	}
	if c.Sweep.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("sweep.concurrency must be >= 0, got %d", c.Sweep.Concurrency))
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required when redis is enabled"))
	}
	return errors.Join(errs...)
}

// Query builds the candle query for the data section.
func (c Config) Query() (model.CandleQuery, error) {
	q := model.CandleQuery{Symbol: c.Data.Symbol, Interval: c.Data.Interval}
	var err error
	if s := strings.TrimSpace(c.Data.From); s != "" {
		if q.From, err = replay.ParseOpenTime(s); err != nil {
			return q, fmt.Errorf("data.from: %w", err)
		}
	}
	if s := strings.TrimSpace(c.Data.To); s != "" {
		if q.To, err = replay.ParseOpenTime(s); err != nil {
			return q, fmt.Errorf("data.to: %w", err)
		}
	}
	if q.From != 0 && q.To != 0 && q.To <= q.From {
		return q, fmt.Errorf("data.to (%d) must be after data.from (%d)", q.To, q.From)
	}
	return q, nil
}

// Backtest converts the run, fill and risk sections into a validated
// simulator config.
func (c Config) Backtest() (backtest.Config, error) {
	bc := backtest.DefaultConfig()
	bc.InitialCapital = c.Run.InitialCapital
	bc.FixedQty = c.Run.FixedQty
	bc.Fill = execution.FillConfig(c.Fill)
	bc.Risk = portfolio.Limits(c.Risk)
	cal, err := markethours.Named(c.Run.Calendar)
	if err != nil {
		return bc, fmt.Errorf("run.calendar: %w", err)
	}
	bc.Calendar = cal
	bc.Indicators = c.Indicators.Params()
	if err := bc.Validate(); err != nil {
		return bc, err
	}
	return bc, nil
}

// Base returns the base strategy and indicator sections as a Variant.
func (c Config) Base() Variant {
	return Variant{StrategyConfig: c.Strategy.clone(), Indicators: c.Indicators}
}

// Variant resolves sweep variant i over the base sections. Its label
// defaults to name_i.
func (c Config) Variant(i int) (Variant, error) {
	v := c.Base()
	v.Label = ""
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &v,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return v, err
	}
	if err := dec.Decode(c.Sweep.Variants[i]); err != nil {
		return v, err
	}
	if v.Label == "" {
		v.Label = fmt.Sprintf("%s_%d", v.Name, i)
	}
	return v, nil
}

func (v Variant) validate() error {
	if err := v.StrategyConfig.validate(); err != nil {
		return err
	}
	return v.Indicators.Params().Validate()
}

// Backtest returns bc running with the variant's indicator lookbacks.
func (v Variant) Backtest(bc backtest.Config) backtest.Config {
	bc.Indicators = v.Indicators.Params()
	return bc
}

// clone copies the weight maps so overlays never write through to s.
func (s StrategyConfig) clone() StrategyConfig {
	s.Signal.LowVolatility = cloneWeights(s.Signal.LowVolatility)
	s.Signal.HighVolatility = cloneWeights(s.Signal.HighVolatility)
	return s
}

func cloneWeights(w map[string]float64) map[string]float64 {
	if w == nil {
		return nil
	}
	out := make(map[string]float64, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

func (s StrategyConfig) validate() error {
	switch s.Name {
	case "sma_crossover":
		if s.FastPeriod <= 0 || s.SlowPeriod <= 0 {
			return fmt.Errorf("periods must be > 0, got fast=%d slow=%d", s.FastPeriod, s.SlowPeriod)
		}
		if s.FastPeriod >= s.SlowPeriod {
			return fmt.Errorf("fast_period %d must be below slow_period %d", s.FastPeriod, s.SlowPeriod)
		}
		if s.RSIPeriod < 0 {
			return fmt.Errorf("rsi_period must be >= 0, got %d", s.RSIPeriod)
		}
	case "signal_combiner":
		return s.signalConfig().Signal.Validate()
	case "scripted":
		if s.ScriptPath == "" {
			return errors.New("script_path is required for the scripted strategy")
		}
	default:
		return fmt.Errorf("unknown strategy %q", s.Name)
	}
	return nil
}

func (s StrategyConfig) signalConfig() strategy.SignalConfig {
	sc := strategy.DefaultSignalConfig()
	s.Signal.apply(&sc.Signal)
	sc.Signal.BuyThreshold = s.BuyThreshold
	sc.Signal.SellThreshold = s.SellThreshold
	sc.StopATRMultiple = s.StopATRMultiple
	sc.TargetATRMultiple = s.TargetATRMultiple
	sc.AllowShort = s.AllowShort
	sc.LimitEntry = s.LimitEntry
	sc.MinConfidence = s.MinConfidence
	return sc
}

func (cc CombinerConfig) apply(sc *signal.Config) {
	for r, w := range cc.LowVolatility {
		sc.LowVolatility[signal.Rule(r)] = w
	}
	for r, w := range cc.HighVolatility {
		sc.HighVolatility[signal.Rule(r)] = w
	}
	sc.VolatilityThreshold = cc.VolatilityThreshold
	sc.RSIOversold = cc.RSIOversold
	sc.RSIOverbought = cc.RSIOverbought
	sc.StochRSIOversold = cc.StochRSIOversold
	sc.StochRSIOverbought = cc.StochRSIOverbought
	sc.MFIOversold = cc.MFIOversold
	sc.MFIOverbought = cc.MFIOverbought
	sc.CCILevel = cc.CCILevel
	sc.WROversold = cc.WROversold
	sc.WROverbought = cc.WROverbought
	sc.ADXTrend = cc.ADXTrend
	sc.SRProximityPct = cc.SRProximityPct
}

// DisplayName is the sweep label, or the strategy name when unlabelled.
func (s StrategyConfig) DisplayName() string {
	if s.Label != "" {
		return s.Label
	}
	return s.Name
}

// NewDecider builds a fresh Decider. Deciders are stateful, so every run
// needs its own.
func (s StrategyConfig) NewDecider(log *zap.Logger) (strategy.Decider, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	var d strategy.Decider
	switch s.Name {
	case "sma_crossover":
		d = strategy.NewSMACrossover(s.FastPeriod, s.SlowPeriod, s.RSIPeriod, s.AllowShort, log)
	case "scripted":
		f, err := os.Open(s.ScriptPath)
		if err != nil {
			return nil, fmt.Errorf("open script: %w", err)
		}
		defer f.Close()
		sc, err := strategy.LoadScript("scripted", f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.ScriptPath, err)
		}
		d = sc
	default:
		d = strategy.NewSignalStrategy(s.signalConfig(), log)
	}
	return strategy.WithName(s.Label, d), nil
}
