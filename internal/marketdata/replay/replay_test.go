package replay

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"trading-backtestv1/internal/markethours"
	"trading-backtestv1/internal/model"
)

func series(n int, step int64) []model.Candle {
	out := make([]model.Candle, n)
	for i := range out {
		p := 100 + float64(i)
		out[i] = model.Candle{OpenTime: int64(i) * step, Open: p, High: p + 1, Low: p - 1, Close: p, Volume: 1}
	}
	return out
}

// countingSource records how many pages were requested.
type countingSource struct {
	*MemorySource
	reads int
}

func (c *countingSource) ReadCandles(ctx context.Context, q model.CandleQuery, after int64, limit int) ([]model.Candle, error) {
	c.reads++
	return c.MemorySource.ReadCandles(ctx, q, after, limit)
}

func TestLoader_PagesUntilEmpty(t *testing.T) {
	mem, err := NewMemorySource(series(10, 1000))
	if err != nil {
		t.Fatal(err)
	}
	src := &countingSource{MemorySource: mem}
	got, err := New(src, WithPageSize(3)).Load(context.Background(), model.CandleQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, series(10, 1000)) {
		t.Errorf("loaded %d candles, mismatch", len(got))
	}
	// 3+3+3+1, then an empty page
	if src.reads != 5 {
		t.Errorf("reads = %d, want 5", src.reads)
	}
}

func TestLoader_Range(t *testing.T) {
	src, _ := NewMemorySource(series(10, 1000))
	got, err := New(src, WithPageSize(2)).Load(context.Background(), model.CandleQuery{From: 3000, To: 7000})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 || got[0].OpenTime != 3000 || got[3].OpenTime != 6000 {
		t.Errorf("range = %+v", got)
	}
}

// badSource returns pages out of order.
type badSource struct{ pages [][]model.Candle }

func (b *badSource) ReadCandles(_ context.Context, _ model.CandleQuery, _ int64, _ int) ([]model.Candle, error) {
	if len(b.pages) == 0 {
		return nil, nil
	}
	p := b.pages[0]
	b.pages = b.pages[1:]
	return p, nil
}

func (b *badSource) Close() error { return nil }

func TestLoader_RejectsDuplicateAcrossPages(t *testing.T) {
	src := &badSource{pages: [][]model.Candle{
		{{OpenTime: 1}, {OpenTime: 2}},
		{{OpenTime: 2}, {OpenTime: 3}},
	}}
	_, err := New(src).Load(context.Background(), model.CandleQuery{Symbol: "X"})
	if err == nil {
		t.Fatal("expected error")
	}
	// the second page ends at 3 > 2, so the cursor advanced and
	// sequence validation catches the duplicate
	var seq *model.SequenceError
	if !errors.As(err, &seq) || seq.Index != 2 || !errors.Is(err, model.ErrDuplicateTimestamp) {
		t.Errorf("err = %v", err)
	}
}

func TestLoader_StalledCursor(t *testing.T) {
	src := &badSource{pages: [][]model.Candle{
		{{OpenTime: 5}},
		{{OpenTime: 5}},
	}}
	if _, err := New(src).Load(context.Background(), model.CandleQuery{}); err == nil || !strings.Contains(err.Error(), "did not advance") {
		t.Errorf("err = %v", err)
	}
}

func TestLoader_Cancelled(t *testing.T) {
	src, _ := NewMemorySource(series(10, 1000))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(src).Load(ctx, model.CandleQuery{}); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v", err)
	}
}

func TestLoader_SessionFilter(t *testing.T) {
	// 2026-03-02 is a Monday; NSE is open 09:15–15:30 IST (03:45–10:00 UTC).
	base := time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC).UnixMilli()
	hour := int64(time.Hour / time.Millisecond)
	candles := []model.Candle{
		{OpenTime: base},          // 08:30 IST, closed
		{OpenTime: base + hour},   // 09:30 IST, open
		{OpenTime: base + 5*hour}, // 13:30 IST, open
		{OpenTime: base + 8*hour}, // 16:30 IST, closed
		{OpenTime: base + 9*hour}, // 17:30 IST, closed
	}
	src, _ := NewMemorySource(candles)
	got, err := New(src, WithPageSize(2), WithSession(markethours.NSE())).Load(context.Background(), model.CandleQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].OpenTime != base+hour || got[1].OpenTime != base+5*hour {
		t.Errorf("session filter kept %+v", got)
	}
}

func TestLoader_Stream(t *testing.T) {
	src, _ := NewMemorySource(series(7, 1))
	out := make(chan model.Candle, 7)
	n, err := New(src, WithPageSize(3)).Stream(context.Background(), model.CandleQuery{}, out)
	close(out)
	if err != nil || n != 7 {
		t.Fatalf("stream n=%d err=%v", n, err)
	}
	var prev int64 = -1
	for c := range out {
		if c.OpenTime <= prev {
			t.Fatalf("out of order at %d", c.OpenTime)
		}
		prev = c.OpenTime
	}
}

func TestReadCSV(t *testing.T) {
	in := `open_time,open,high,low,close,volume
1700000000000,100.10,101.25,99.5,100.75,12
2023-11-14 22:14:20,100.75,102,100,101.5,
2023-11-14T22:15:20Z,101.5,103,101,102,3.5
`
	got, err := ReadCSV(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("rows = %d", len(got))
	}
	if got[0].OpenTime != 1700000000000 || got[0].Open != 100.10 || got[0].Volume != 12 {
		t.Errorf("row 0 %+v", got[0])
	}
	// 2023-11-14 22:14:20 UTC = 1700000060000
	if got[1].OpenTime != 1700000060000 || got[1].Volume != 0 {
		t.Errorf("row 1 %+v", got[1])
	}
	if got[2].OpenTime != 1700000120000 || got[2].Volume != 3.5 {
		t.Errorf("row 2 %+v", got[2])
	}
}

func TestReadCSV_Errors(t *testing.T) {
	cases := map[string]string{
		"bad price": "open_time,open,high,low,close\n1,abc,1,1,1\n",
		"bad time":  "open_time,open,high,low,close\nyesterday,1,1,1,1\n",
		"inverted":  "open_time,open,high,low,close\n1,1,1,2,1\n",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(in))
			if err == nil || !strings.Contains(err.Error(), "line 2") {
				t.Errorf("err = %v", err)
			}
		})
	}
}

func TestCSVSource_RejectsUnsortedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.csv")
	writeFile(t, path, "open_time,open,high,low,close\n2,1,1,1,1\n1,1,1,1,1\n")
	_, err := NewCSVSource(path)
	if !errors.Is(err, model.ErrNonMonotonic) {
		t.Errorf("err = %v", err)
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestParquetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.parquet")
	want := series(25, 60_000)
	if err := WriteParquet(path, want); err != nil {
		t.Fatal(err)
	}
	src, err := NewParquetSource(path)
	if err != nil {
		t.Fatal(err)
	}
	got, err := New(src, WithPageSize(10)).Load(context.Background(), model.CandleQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Error("parquet round trip mismatch")
	}
}
