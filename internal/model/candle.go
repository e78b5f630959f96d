package model

import (
	"encoding/json"
	"time"
)

// Candle is one OHLCV bar. OpenTime is the bucket start in unix milliseconds.
// Candles are immutable values once produced by a market-data source.
type Candle struct {
	OpenTime int64   `json:"open_time" csv:"open_time" parquet:"open_time"`
	Open     float64 `json:"open" csv:"open" parquet:"open"`
	High     float64 `json:"high" csv:"high" parquet:"high"`
	Low      float64 `json:"low" csv:"low" parquet:"low"`
	Close    float64 `json:"close" csv:"close" parquet:"close"`
	Volume   float64 `json:"volume" csv:"volume" parquet:"volume"`
}

// Time returns OpenTime as a UTC time.Time.
func (c Candle) Time() time.Time {
	return time.UnixMilli(c.OpenTime).UTC()
}

// Typical returns (high + low + close) / 3.
func (c Candle) Typical() float64 {
	return (c.High + c.Low + c.Close) / 3
}

// Mid returns (high + low) / 2.
func (c Candle) Mid() float64 {
	return (c.High + c.Low) / 2
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// Closes extracts the close prices as a fully present series.
func Closes(candles []Candle) Series[float64] {
	out := make(Series[float64], len(candles))
	for i, c := range candles {
		out[i] = Some(c.Close)
	}
	return out
}

// Highs extracts the high prices as a fully present series.
func Highs(candles []Candle) Series[float64] {
	out := make(Series[float64], len(candles))
	for i, c := range candles {
		out[i] = Some(c.High)
	}
	return out
}

// Lows extracts the low prices as a fully present series.
func Lows(candles []Candle) Series[float64] {
	out := make(Series[float64], len(candles))
	for i, c := range candles {
		out[i] = Some(c.Low)
	}
	return out
}

// TypicalPrices extracts (h+l+c)/3 per candle.
func TypicalPrices(candles []Candle) Series[float64] {
	out := make(Series[float64], len(candles))
	for i, c := range candles {
		out[i] = Some(c.Typical())
	}
	return out
}
