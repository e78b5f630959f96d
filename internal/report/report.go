// Package report writes backtest results to disk: the equity curve, fills
// and trades as CSV or Parquet, and the summary as JSON or YAML.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/gocarina/gocsv"
	"github.com/parquet-go/parquet-go"
	"gopkg.in/yaml.v3"

	"trading-backtestv1/internal/backtest"
)

// Format names an output encoding.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
	FormatJSON    Format = "json"
	FormatYAML    Format = "yaml"
)

// ParseFormats parses a comma-separated list such as "csv,json".
func ParseFormats(s string) ([]Format, error) {
	var out []Format
	seen := map[Format]bool{}
	for _, p := range strings.Split(s, ",") {
		f := Format(strings.ToLower(strings.TrimSpace(p)))
		if f == "" || seen[f] {
			continue
		}
		switch f {
		case FormatCSV, FormatParquet, FormatJSON, FormatYAML:
		default:
			return nil, fmt.Errorf("report: unknown format %q", f)
		}
		seen[f] = true
		out = append(out, f)
	}
	return out, nil
}

// WriteCSV encodes rows (a slice of csv-tagged structs) with a header
// line. An empty slice writes only the header.
func WriteCSV[T any](w io.Writer, rows []T) error {
	if rows == nil {
		rows = []T{}
	}
	if err := gocsv.Marshal(rows, w); err != nil {
		return fmt.Errorf("report csv: %w", err)
	}
	return nil
}

// ReadCSV decodes rows written by WriteCSV.
func ReadCSV[T any](r io.Reader) ([]T, error) {
	var rows []T
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, fmt.Errorf("report csv decode: %w", err)
	}
	return rows, nil
}

// WriteParquet writes rows to path.
func WriteParquet[T any](path string, rows []T) error {
	if err := parquet.WriteFile(path, rows); err != nil {
		return fmt.Errorf("report parquet %s: %w", path, err)
	}
	return nil
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteYAML writes v as YAML.
func WriteYAML(w io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// summaryDoc is the summary file layout.
type summaryDoc struct {
	Summary backtest.Summary `json:"summary" yaml:"summary"`
	Halts   []backtest.Halt  `json:"halts,omitempty" yaml:"halts,omitempty"`
}

// WriteAll writes res under dir in each requested format and returns the
// paths written. Tabular formats produce equity, fills and trades files;
// document formats produce a summary.
func WriteAll(dir string, res *backtest.Result, formats []Format) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("report mkdir: %w", err)
	}
	w := &writer{dir: dir}
	doc := summaryDoc{Summary: res.Summary, Halts: res.Halts}

	for _, f := range formats {
		switch f {
		case FormatCSV:
			w.file("equity.csv", func(out io.Writer) error { return WriteCSV(out, res.Equity) })
			w.file("fills.csv", func(out io.Writer) error { return WriteCSV(out, res.Fills) })
			w.file("trades.csv", func(out io.Writer) error { return WriteCSV(out, res.Trades) })
		case FormatParquet:
			writeParquetTo(w, "equity.parquet", res.Equity)
			writeParquetTo(w, "fills.parquet", res.Fills)
			writeParquetTo(w, "trades.parquet", res.Trades)
		case FormatJSON:
			w.file("summary.json", func(out io.Writer) error { return WriteJSON(out, doc) })
		case FormatYAML:
			w.file("summary.yaml", func(out io.Writer) error { return WriteYAML(out, doc) })
		default:
			w.err = fmt.Errorf("report: unknown format %q", f)
		}
		if w.err != nil {
			return w.paths, w.err
		}
	}
	return w.paths, nil
}

// writer collects written paths and stops at the first error.
type writer struct {
	dir   string
	paths []string
	err   error
}

func (w *writer) file(name string, write func(io.Writer) error) {
	if w.err != nil {
		return
	}
	p := filepath.Join(w.dir, name)
	f, err := os.Create(p)
	if err != nil {
		w.err = fmt.Errorf("report create: %w", err)
		return
	}
	if err := write(f); err != nil {
		f.Close()
		w.err = fmt.Errorf("report %s: %w", name, err)
		return
	}
	if err := f.Close(); err != nil {
		w.err = fmt.Errorf("report close %s: %w", name, err)
		return
	}
	w.paths = append(w.paths, p)
}

func writeParquetTo[T any](w *writer, name string, rows []T) {
	if w.err != nil {
		return
	}
	p := filepath.Join(w.dir, name)
	if err := WriteParquet(p, rows); err != nil {
		w.err = err
		return
	}
	w.paths = append(w.paths, p)
}

// SweepRow is one line of a sweep comparison table.
type SweepRow struct {
	Strategy    string  `csv:"strategy" json:"strategy" yaml:"strategy"`
	RunID       string  `csv:"run_id" json:"run_id" yaml:"run_id"`
	Bars        int     `csv:"bars" json:"bars" yaml:"bars"`
	Trades      int     `csv:"trades" json:"trades" yaml:"trades"`
	WinRate     float64 `csv:"win_rate" json:"win_rate" yaml:"win_rate"`
	NetPnL      float64 `csv:"net_pnl" json:"net_pnl" yaml:"net_pnl"`
	Fees        float64 `csv:"fees" json:"fees" yaml:"fees"`
	MaxDrawdown float64 `csv:"max_drawdown" json:"max_drawdown" yaml:"max_drawdown"`
	Sharpe      float64 `csv:"sharpe" json:"sharpe" yaml:"sharpe"`
	Halts       int     `csv:"halts" json:"halts" yaml:"halts"`
}

// SweepRows flattens sweep results in their input order.
func SweepRows(results []*backtest.Result) []SweepRow {
	rows := make([]SweepRow, 0, len(results))
	for _, r := range results {
		s := r.Summary
		rows = append(rows, SweepRow{
			Strategy:    r.Strategy,
			RunID:       r.RunID,
			Bars:        s.Bars,
			Trades:      s.Trades,
			WinRate:     s.WinRate,
			NetPnL:      s.NetPnL,
			Fees:        s.Fees,
			MaxDrawdown: s.MaxDrawdown,
			Sharpe:      s.Sharpe,
			Halts:       s.Halts,
		})
	}
	return rows
}
