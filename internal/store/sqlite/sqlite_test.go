package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"trading-backtestv1/internal/model"
)

func seed(t *testing.T, n int) (string, *Writer) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "candles.db")
	w, err := New(WriterConfig{DBPath: path, BatchSize: 4}, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { w.Close() })

	ch := make(chan model.Candle)
	go func() {
		defer close(ch)
		for i := 0; i < n; i++ {
			p := 100 + float64(i)
			ch <- model.Candle{OpenTime: int64(i) * 60_000, Open: p, High: p + 1, Low: p - 1, Close: p + 0.5, Volume: 10}
		}
	}()
	written, err := w.Run(context.Background(), "BTCUSDT", "1m", ch)
	if err != nil {
		t.Fatal(err)
	}
	if written != n {
		t.Fatalf("written = %d, want %d", written, n)
	}
	return path, w
}

func TestWriter_RunAndCount(t *testing.T) {
	_, w := seed(t, 10)
	n, err := w.Count(context.Background(), "BTCUSDT", "1m")
	if err != nil {
		t.Fatal(err)
	}
	if n != 10 {
		t.Errorf("count = %d", n)
	}

	// upsert replaces the stored bar
	if err := w.WriteBatch(context.Background(), "BTCUSDT", "1m", []model.Candle{{OpenTime: 0, Open: 1, High: 2, Low: 0.5, Close: 1.5}}); err != nil {
		t.Fatal(err)
	}
	if n, _ := w.Count(context.Background(), "BTCUSDT", "1m"); n != 10 {
		t.Errorf("count after upsert = %d", n)
	}
}

func TestReader_Pages(t *testing.T) {
	path, w := seed(t, 10)
	if err := w.WriteBatch(context.Background(), "ETHUSDT", "1m", []model.Candle{{OpenTime: 0, Open: 1, High: 1, Low: 1, Close: 1}}); err != nil {
		t.Fatal(err)
	}

	r, err := NewReader(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	q := model.CandleQuery{Symbol: "BTCUSDT", Interval: "1m"}
	page, err := r.ReadCandles(context.Background(), q, -1, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 4 || page[0].OpenTime != 0 || page[3].OpenTime != 180_000 {
		t.Fatalf("first page %+v", page)
	}
	if page[1].Close != 101.5 || page[1].Volume != 10 {
		t.Errorf("row values %+v", page[1])
	}

	next, err := r.ReadCandles(context.Background(), q, page[3].OpenTime, 4)
	if err != nil {
		t.Fatal(err)
	}
	if len(next) != 4 || next[0].OpenTime != 240_000 {
		t.Errorf("second page %+v", next)
	}

	// From inclusive, To exclusive
	q.From, q.To = 120_000, 300_000
	ranged, err := r.ReadCandles(context.Background(), q, -1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(ranged) != 3 || ranged[0].OpenTime != 120_000 || ranged[2].OpenTime != 240_000 {
		t.Errorf("ranged %+v", ranged)
	}

	series, err := r.Series(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(series) != 2 || series[0] != [2]string{"BTCUSDT", "1m"} || series[1] != [2]string{"ETHUSDT", "1m"} {
		t.Errorf("series %v", series)
	}
}

func TestWriter_RunCancelledStillFlushes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.db")
	w, err := New(WriterConfig{DBPath: path, BatchSize: 100}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan model.Candle)

	done := make(chan struct{})
	var (
		written int
		runErr  error
	)
	go func() {
		defer close(done)
		written, runErr = w.Run(ctx, "X", "1m", ch)
	}()
	// unbuffered: each send returns once Run has taken the candle
	for i := 0; i < 3; i++ {
		ch <- model.Candle{OpenTime: int64(i), Open: 1, High: 1, Low: 1, Close: 1}
	}
	cancel()
	<-done

	if runErr != context.Canceled {
		t.Errorf("run error = %v", runErr)
	}
	n, _ := w.Count(context.Background(), "X", "1m")
	if n != 3 || written != 3 {
		t.Errorf("count %d written %d, want 3", n, written)
	}
}
