package execution

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"trading-backtestv1/internal/model"
)

func assertClose(t *testing.T, label string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s: got %.8f, want %.8f (tol=%.8f)", label, got, want, tol)
	}
}

func bar(ts int64, o, h, l, c, v float64) model.Candle {
	return model.Candle{OpenTime: ts, Open: o, High: h, Low: l, Close: c, Volume: v}
}

func limit(side model.Side, price, qty float64, p model.Purpose) model.RestingOrder {
	return model.RestingOrder{Side: side, Kind: model.KindLimit, Price: price, Qty: qty, IsMaker: true, Purpose: p}
}

func market(side model.Side, qty float64, p model.Purpose) model.RestingOrder {
	return model.RestingOrder{Side: side, Kind: model.KindMarket, Qty: qty, Purpose: p}
}

// ────────────────────────────────────────────────────────────
// Intrabar path
// ────────────────────────────────────────────────────────────

func TestPath_SeededAndReproducible(t *testing.T) {
	b := bar(0, 100, 110, 90, 105, 1)
	for i := 0; i < 3; i++ {
		if UpFirst(0, b) {
			t.Fatal("seed 0 at t=0 should visit the low first")
		}
		if !UpFirst(1, b) {
			t.Fatal("seed 1 at t=0 should visit the high first")
		}
	}
	if p := Path(1, b); p != [4]float64{100, 110, 90, 105} {
		t.Errorf("up path %v", p)
	}
	if p := Path(0, b); p != [4]float64{100, 90, 110, 105} {
		t.Errorf("down path %v", p)
	}
}

func TestMatch_PathOrdersCompetingFills(t *testing.T) {
	b := bar(0, 100, 106, 94, 100, 0)
	for _, tc := range []struct {
		seed  uint64
		first model.Side
	}{
		{0, model.Buy},  // O→L→H: the 95 bid is reached first
		{1, model.Sell}, // O→H→L: the 105 offer is reached first
	} {
		book := NewBook("T")
		book.Place(limit(model.Buy, 95, 1, model.PurposeEntry))
		book.Place(limit(model.Sell, 105, 1, model.PurposeEntry))
		fills := NewMatcher(FillConfig{Seed: tc.seed}, nil).Match(b, book)
		if len(fills) != 2 {
			t.Fatalf("seed %d: fills = %d", tc.seed, len(fills))
		}
		if fills[0].Side != tc.first {
			t.Errorf("seed %d: first fill %s, want %s", tc.seed, fills[0].Side, tc.first)
		}
		if book.Len() != 0 {
			t.Errorf("seed %d: book should be empty", tc.seed)
		}
	}
}

func TestMatch_TiesBreakByPlacement(t *testing.T) {
	book := NewBook("T")
	a := book.Place(market(model.Buy, 1, model.PurposeEntry))
	b := book.Place(market(model.Sell, 1, model.PurposeExit))
	fills := NewMatcher(FillConfig{}, nil).Match(bar(0, 100, 101, 99, 100, 0), book)
	if len(fills) != 2 || fills[0].OrderID != a || fills[1].OrderID != b {
		t.Fatalf("fills %+v", fills)
	}
}

// ────────────────────────────────────────────────────────────
// Fill prices
// ────────────────────────────────────────────────────────────

func TestMatch_LimitPrice(t *testing.T) {
	m := NewMatcher(FillConfig{MakerFee: 0.0001, Slippage: 0.5}, nil)

	book := NewBook("T")
	book.Place(limit(model.Buy, 100, 1, model.PurposeEntry))
	if f := m.Match(bar(0, 102, 103, 101, 102, 0), book); len(f) != 0 {
		t.Fatalf("low 101 must not fill a 100 bid: %+v", f)
	}
	f := m.Match(bar(60_000, 102, 103, 99, 101, 0), book)
	if len(f) != 1 {
		t.Fatal("expected fill")
	}
	// resting fills carry no slippage
	assertClose(t, "limit price", f[0].Price, 100, 0)
	assertClose(t, "maker fee", f[0].Fee, 0.01, 1e-12)
	if !f[0].IsMaker || f[0].Timestamp != 60_000 {
		t.Errorf("fill %+v", f[0])
	}

	book.Place(limit(model.Buy, 100, 1, model.PurposeEntry))
	f = m.Match(bar(120_000, 98, 99, 97, 98, 0), book)
	assertClose(t, "gap through bid fills at open", f[0].Price, 98, 0)
}

func TestMatch_StopAndMarketSlippage(t *testing.T) {
	m := NewMatcher(FillConfig{TakerFee: 0.001, Slippage: 0.01}, nil)

	book := NewBook("T")
	book.Place(model.RestingOrder{Side: model.Sell, Kind: model.KindStop, Price: 95, Qty: 1, Purpose: model.PurposeStopLoss})
	if f := m.Match(bar(0, 97, 98, 96, 97, 0), book); len(f) != 0 {
		t.Fatal("stop above the low must not trigger")
	}
	f := m.Match(bar(60_000, 97, 98, 94, 96, 0), book)
	// 95 × (1 − 0.01)
	assertClose(t, "stop price", f[0].Price, 94.05, 1e-9)
	assertClose(t, "taker fee", f[0].Fee, 0.09405, 1e-12)

	book.Place(model.RestingOrder{Side: model.Sell, Kind: model.KindStop, Price: 95, Qty: 1, Purpose: model.PurposeStopLoss})
	f = m.Match(bar(120_000, 93, 94, 90, 92, 0), book)
	assertClose(t, "gapped stop fills at open", f[0].Price, 93*0.99, 1e-9)

	book.Place(market(model.Buy, 2, model.PurposeEntry))
	f = m.Match(bar(180_000, 50, 51, 49, 50, 0), book)
	assertClose(t, "market buy", f[0].Price, 50.5, 1e-9)
	if f[0].IsMaker {
		t.Error("market fills are taker")
	}
}

func TestFee_Quantized(t *testing.T) {
	assertClose(t, "round", Fee(100, 1, 0.0001), 0.01, 1e-15)
	assertClose(t, "eight places", Fee(1.0/3, 1, 0.001), 0.00033333, 1e-15)
	assertClose(t, "zero rate", Fee(100, 1, 0), 0, 0)
}

// ────────────────────────────────────────────────────────────
// Liquidity cap
// ────────────────────────────────────────────────────────────

func TestMatch_LiquidityCapPartialFill(t *testing.T) {
	m := NewMatcher(FillConfig{LiquidityCap: 0.5}, nil)
	book := NewBook("T")
	first := book.Place(market(model.Buy, 3, model.PurposeEntry))
	second := book.Place(market(model.Buy, 3, model.PurposeEntry))

	// cap = 0.5 × 10 = 5
	f := m.Match(bar(0, 10, 11, 9, 10, 10), book)
	if len(f) != 2 || f[0].OrderID != first || f[1].OrderID != second {
		t.Fatalf("fills %+v", f)
	}
	assertClose(t, "first qty", f[0].Qty, 3, 0)
	assertClose(t, "second qty", f[1].Qty, 2, 1e-12)
	if book.Len() != 1 {
		t.Fatalf("remaining orders = %d", book.Len())
	}
	assertClose(t, "remaining", book.Orders()[0].Qty, 1, 1e-12)

	f = m.Match(bar(60_000, 10, 11, 9, 10, 10), book)
	if len(f) != 1 || f[0].OrderID != second {
		t.Fatalf("next bar fills %+v", f)
	}
	assertClose(t, "rest", f[0].Qty, 1, 1e-12)

	book.Place(market(model.Buy, 1, model.PurposeEntry))
	var total float64
	for _, x := range m.Match(bar(120_000, 10, 11, 9, 10, 0), book) {
		total += x.Qty
	}
	assertClose(t, "zero volume bar fills nothing", total, 0, 0)
}

// ────────────────────────────────────────────────────────────
// Brackets and OCO
// ────────────────────────────────────────────────────────────

func bracket(book *Book) string {
	return book.PlaceBracket(
		limit(model.Buy, 100, 1, model.PurposeEntry),
		model.RestingOrder{Side: model.Sell, Kind: model.KindStop, Price: 95, IsMaker: false, Purpose: model.PurposeStopLoss},
		limit(model.Sell, 110, 0, model.PurposeTakeProfit),
	)
}

func TestBracket_ChildrenWaitForParent(t *testing.T) {
	m := NewMatcher(FillConfig{}, nil)
	book := NewBook("T")
	bracket(book)

	// bar reaches both the entry and the target; only the entry fills
	f := m.Match(bar(0, 101, 112, 99, 111, 0), book)
	if len(f) != 1 || f[0].Purpose != model.PurposeEntry {
		t.Fatalf("fills %+v", f)
	}
	if book.Len() != 2 {
		t.Fatalf("children should remain, book has %d", book.Len())
	}
	for _, o := range book.Orders() {
		assertClose(t, string(o.Purpose)+" qty", o.Qty, 1, 0)
	}

	f = m.Match(bar(60_000, 105, 111, 104, 109, 0), book)
	if len(f) != 1 || f[0].Purpose != model.PurposeTakeProfit {
		t.Fatalf("fills %+v", f)
	}
	assertClose(t, "target price", f[0].Price, 110, 0)
	if book.Len() != 0 {
		t.Errorf("OCO should remove the stop, book has %+v", book.Orders())
	}
}

func TestBracket_OnlyOneLegFillsInABar(t *testing.T) {
	m := NewMatcher(FillConfig{}, nil)
	book := NewBook("T")
	bracket(book)
	m.Match(bar(0, 100, 101, 99, 100, 0), book)

	// both legs reachable; exactly one executes
	f := m.Match(bar(60_000, 100, 115, 90, 100, 0), book)
	if len(f) != 1 {
		t.Fatalf("fills %+v", f)
	}
	if book.Len() != 0 {
		t.Errorf("book %+v", book.Orders())
	}
}

func TestBook_CancelParentDropsUnfilledChildren(t *testing.T) {
	book := NewBook("T")
	id := bracket(book)
	if book.Len() != 3 {
		t.Fatalf("len %d", book.Len())
	}
	if !book.Cancel(id) {
		t.Fatal("cancel failed")
	}
	if book.Len() != 0 {
		t.Errorf("children should go with the parent: %+v", book.Orders())
	}
	if book.Cancel("missing") {
		t.Error("cancel of unknown id should report false")
	}
}

func TestBook_CancelWhere(t *testing.T) {
	book := NewBook("T")
	book.Place(market(model.Buy, 1, model.PurposeEntry))
	book.Place(market(model.Sell, 1, model.PurposeForceClose))
	n := book.CancelWhere(func(o model.RestingOrder) bool { return o.Purpose.Opens() })
	if n != 1 || book.Len() != 1 || !book.Has(model.PurposeForceClose) {
		t.Errorf("n=%d orders=%+v", n, book.Orders())
	}
	if book.CancelAll() != 1 || book.Len() != 0 {
		t.Error("CancelAll")
	}
}

func TestBook_CancelOrphanExitsKeepsWaitingChildren(t *testing.T) {
	m := NewMatcher(FillConfig{}, nil)
	book := NewBook("T")
	bracket(book)
	book.Place(limit(model.Sell, 120, 1, model.PurposeExit))

	// parent still resting: only the standalone exit goes
	if n := book.CancelOrphanExits(); n != 1 || book.Len() != 3 {
		t.Fatalf("n=%d orders=%+v", n, book.Orders())
	}

	// entry rests another bar, then fills; the stop is still there to fire
	m.Match(bar(0, 103, 104, 102, 103, 0), book)
	m.Match(bar(60_000, 101, 102, 99, 100, 0), book)
	book.CancelOrphanExits()
	f := m.Match(bar(120_000, 98, 99, 90, 91, 0), book)
	if len(f) != 1 || f[0].Purpose != model.PurposeStopLoss {
		t.Fatalf("fills %+v", f)
	}
	assertClose(t, "stop price", f[0].Price, 95, 0)
}

// ────────────────────────────────────────────────────────────
// Journal
// ────────────────────────────────────────────────────────────

func TestJournal_RoundTrip(t *testing.T) {
	j, err := NewJournal(filepath.Join(t.TempDir(), "fills.db"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer j.Close()

	ctx := context.Background()
	a := model.Fill{Timestamp: 1, OrderID: "A-1", Side: model.Buy, Price: 100, Qty: 1, Fee: 0.01, IsMaker: true, Purpose: model.PurposeEntry}
	b := model.Fill{Timestamp: 2, OrderID: "A-2", Side: model.Sell, Price: 110, Qty: 1, Fee: 0.011, IsMaker: true, Purpose: model.PurposeTakeProfit}
	c := model.Fill{Timestamp: 1, OrderID: "B-1", Side: model.Sell, Price: 50, Qty: 2, Purpose: model.PurposeEntry}
	for _, x := range []struct {
		run string
		f   model.Fill
	}{{"run-a", a}, {"run-b", c}, {"run-a", b}} {
		if err := j.RecordFill(ctx, x.run, x.f); err != nil {
			t.Fatal(err)
		}
	}

	got, err := j.Fills(ctx, "run-a")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != a || got[1] != b {
		t.Fatalf("run-a fills %+v", got)
	}
	runs, err := j.Runs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0] != "run-a" || runs[1] != "run-b" {
		t.Errorf("runs %v", runs)
	}
}
