package replay

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/parquet-go/parquet-go"
	"github.com/shopspring/decimal"

	"trading-backtestv1/internal/model"
)

// MemorySource serves an ordered candle slice. Symbol and Interval in the
// query are ignored: one source holds one series.
type MemorySource struct {
	candles []model.Candle
}

// NewMemorySource validates candles and wraps them as a source.
func NewMemorySource(candles []model.Candle) (*MemorySource, error) {
	if err := model.ValidateSequence(candles); err != nil {
		return nil, err
	}
	return &MemorySource{candles: candles}, nil
}

// Len returns the number of candles held.
func (m *MemorySource) Len() int { return len(m.candles) }

func (m *MemorySource) ReadCandles(ctx context.Context, q model.CandleQuery, after int64, limit int) ([]model.Candle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	i := sort.Search(len(m.candles), func(i int) bool { return m.candles[i].OpenTime > after })
	if q.From != 0 {
		if j := sort.Search(len(m.candles), func(i int) bool { return m.candles[i].OpenTime >= q.From }); j > i {
			i = j
		}
	}
	end := len(m.candles)
	if q.To != 0 {
		end = sort.Search(len(m.candles), func(i int) bool { return m.candles[i].OpenTime >= q.To })
	}
	if i >= end {
		return nil, nil
	}
	if limit > 0 && end-i > limit {
		end = i + limit
	}
	out := make([]model.Candle, end-i)
	copy(out, m.candles[i:end])
	return out, nil
}

func (m *MemorySource) Close() error { return nil }

// csvRow is the on-disk CSV schema. Prices stay strings so they can be
// parsed exactly with decimal before conversion.
type csvRow struct {
	OpenTime string `csv:"open_time"`
	Open     string `csv:"open"`
	High     string `csv:"high"`
	Low      string `csv:"low"`
	Close    string `csv:"close"`
	Volume   string `csv:"volume"`
}

// timeLayouts are the accepted non-numeric open_time formats.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseOpenTime accepts unix milliseconds or one of the layouts above
// (interpreted as UTC when no zone is given).
func ParseOpenTime(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UnixMilli(), nil
		}
	}
	return 0, fmt.Errorf("unrecognized open_time %q", s)
}

func parsePrice(field, s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%s is empty", field)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", field, err)
	}
	v, _ := d.Float64()
	return v, nil
}

func (r csvRow) candle() (model.Candle, error) {
	var (
		c   model.Candle
		err error
	)
	if c.OpenTime, err = ParseOpenTime(r.OpenTime); err != nil {
		return c, err
	}
	for _, f := range []struct {
		name string
		raw  string
		dst  *float64
	}{
		{"open", r.Open, &c.Open},
		{"high", r.High, &c.High},
		{"low", r.Low, &c.Low},
		{"close", r.Close, &c.Close},
	} {
		if *f.dst, err = parsePrice(f.name, f.raw); err != nil {
			return c, err
		}
	}
	if strings.TrimSpace(r.Volume) != "" {
		if c.Volume, err = parsePrice("volume", r.Volume); err != nil {
			return c, err
		}
	}
	if c.High < c.Low {
		return c, fmt.Errorf("high %v below low %v", c.High, c.Low)
	}
	return c, nil
}

// ReadCSV parses candles with header open_time,open,high,low,close[,volume].
func ReadCSV(r io.Reader) ([]model.Candle, error) {
	var rows []csvRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("csv decode: %w", err)
	}
	candles := make([]model.Candle, 0, len(rows))
	for i, row := range rows {
		c, err := row.candle()
		if err != nil {
			// +2: header line and 1-based numbering
			return nil, fmt.Errorf("csv line %d: %w", i+2, err)
		}
		candles = append(candles, c)
	}
	return candles, nil
}

// NewCSVSource reads a whole CSV file into a MemorySource.
func NewCSVSource(path string) (*MemorySource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("csv open: %w", err)
	}
	defer f.Close()

	candles, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	src, err := NewMemorySource(candles)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return src, nil
}

// NewParquetSource reads a Parquet file of model.Candle rows into a
// MemorySource.
func NewParquetSource(path string) (*MemorySource, error) {
	candles, err := parquet.ReadFile[model.Candle](path)
	if err != nil {
		return nil, fmt.Errorf("parquet read %s: %w", path, err)
	}
	src, err := NewMemorySource(candles)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return src, nil
}

// WriteParquet writes candles as a Parquet file readable by NewParquetSource.
func WriteParquet(path string, candles []model.Candle) error {
	if err := parquet.WriteFile(path, candles); err != nil {
		return fmt.Errorf("parquet write %s: %w", path, err)
	}
	return nil
}

var _ model.CandleSource = (*MemorySource)(nil)
