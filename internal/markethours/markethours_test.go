package markethours

import (
	"testing"
	"time"
)

func TestUTC_DayKey(t *testing.T) {
	c := UTC()
	a := time.Date(2026, 3, 2, 23, 59, 0, 0, time.UTC)
	b := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)
	if c.DayKey(a) == c.DayKey(b) {
		t.Fatalf("midnight should split days: %s %s", c.DayKey(a), c.DayKey(b))
	}
	if !c.IsOpen(time.Date(2026, 3, 7, 3, 0, 0, 0, time.UTC)) {
		t.Error("UTC calendar is open on weekends")
	}
}

func TestNSE_DayKeyUsesIST(t *testing.T) {
	c := NSE()
	// 20:00 UTC on Mar 2 is 01:30 IST on Mar 3.
	late := time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC)
	if got := c.DayKey(late); got != "2026-03-03" {
		t.Fatalf("DayKey = %s, want 2026-03-03", got)
	}
	start := c.DayStart(late)
	if start.Hour() != 0 || start.Location() != IST {
		t.Errorf("DayStart = %v", start)
	}
}

func TestNSE_IsOpen(t *testing.T) {
	c := NSE()
	cases := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"monday 10:00", time.Date(2026, 3, 2, 10, 0, 0, 0, IST), true},
		{"before open", time.Date(2026, 3, 2, 9, 14, 0, 0, IST), false},
		{"at open", time.Date(2026, 3, 2, 9, 15, 0, 0, IST), true},
		{"at close", time.Date(2026, 3, 2, 15, 30, 0, 0, IST), false},
		{"saturday", time.Date(2026, 3, 7, 10, 0, 0, 0, IST), false},
		{"republic day", time.Date(2026, 1, 26, 10, 0, 0, 0, IST), false},
	}
	for _, tc := range cases {
		if got := c.IsOpen(tc.t); got != tc.want {
			t.Errorf("%s: IsOpen = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestNSE_NextOpenSkipsWeekend(t *testing.T) {
	c := NSE()
	fri := time.Date(2026, 3, 6, 16, 0, 0, 0, IST)
	next := c.NextOpen(fri)
	want := time.Date(2026, 3, 9, 9, 15, 0, 0, IST)
	if !next.Equal(want) {
		t.Fatalf("NextOpen = %v, want %v", next, want)
	}
}

func TestWithHolidays(t *testing.T) {
	c, err := UTC().WithHolidays("2026-12-31")
	if err != nil {
		t.Fatal(err)
	}
	if !c.IsHoliday(time.Date(2026, 12, 31, 12, 0, 0, 0, time.UTC)) || c.IsOpen(time.Date(2026, 12, 31, 12, 0, 0, 0, time.UTC)) {
		t.Error("added holiday should close the day")
	}
	if UTC().IsHoliday(time.Date(2026, 12, 31, 12, 0, 0, 0, time.UTC)) {
		t.Error("WithHolidays must not mutate the original")
	}
	if _, err := UTC().WithHolidays("31/12/2026"); err == nil {
		t.Error("expected parse error")
	}
}

func TestNamed(t *testing.T) {
	for _, n := range []string{"", "utc", "24x7", "NSE"} {
		if _, err := Named(n); err != nil {
			t.Errorf("Named(%q): %v", n, err)
		}
	}
	if _, err := Named("lse"); err == nil {
		t.Error("expected error for unknown calendar")
	}
}
