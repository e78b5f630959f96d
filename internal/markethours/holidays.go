package markethours

import (
	"fmt"
	"time"
)

// NSE holidays for 2026.
// Source: NSE India official holiday list.
// Format: month, day pairs.
var nseHolidays2026 = []struct {
	month time.Month
	day   int
}{
	{time.January, 26},  // Republic Day
	{time.February, 17}, // Mahashivratri (tentative)
	{time.March, 14},    // Holi
	{time.March, 31},    // Id-ul-Fitr (Eid) (tentative)
	{time.April, 2},     // Ram Navami (tentative)
	{time.April, 6},     // Mahavir Jayanti
	{time.April, 10},    // Good Friday
	{time.April, 14},    // Dr. Ambedkar Jayanti
	{time.May, 1},       // Maharashtra Day
	{time.June, 7},      // Bakrid / Eid ul-Adha (tentative)
	{time.July, 6},      // Muharram (tentative)
	{time.August, 15},   // Independence Day
	{time.August, 16},   // Janmashtami (tentative)
	{time.September, 5}, // Milad-un-Nabi (tentative)
	{time.October, 2},   // Mahatma Gandhi Jayanti
	{time.October, 20},  // Dussehra
	{time.October, 21},  // Dussehra (tentative)
	{time.November, 5},  // Diwali / Lakshmi Puja (tentative)
	{time.November, 6},  // Diwali Balipratipada (tentative)
	{time.November, 7},  // Bhai Dooj (tentative)
	{time.November, 19}, // Guru Nanak Jayanti
	{time.December, 25}, // Christmas
}

func nseHolidays() map[string]bool {
	set := make(map[string]bool, len(nseHolidays2026))
	for _, h := range nseHolidays2026 {
		set[dateKey(2026, h.month, h.day)] = true
	}
	return set
}

// IsHoliday returns true if the local date of t is a listed holiday.
func (c Calendar) IsHoliday(t time.Time) bool {
	return c.holidays[c.DayKey(t)]
}

// WithHolidays returns a copy of c with extra holidays given as YYYY-MM-DD.
func (c Calendar) WithHolidays(dates ...string) (Calendar, error) {
	set := make(map[string]bool, len(c.holidays)+len(dates))
	for k := range c.holidays {
		set[k] = true
	}
	for _, d := range dates {
		if _, err := time.ParseInLocation("2006-01-02", d, c.loc()); err != nil {
			return c, fmt.Errorf("holiday %q: %w", d, err)
		}
		set[d] = true
	}
	c.holidays = set
	return c, nil
}

func dateKey(year int, month time.Month, day int) string {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC).Format("2006-01-02")
}
