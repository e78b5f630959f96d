// Package markethours defines trading calendars: which instants fall inside a
// session and which calendar day an instant belongs to.
package markethours

import (
	"fmt"
	"strings"
	"time"
)

// IST is the Indian Standard Time location (UTC+5:30).
var IST = time.FixedZone("IST", 5*3600+30*60)

// NSE market hours in IST
const (
	OpenHour    = 9
	OpenMinute  = 15
	CloseHour   = 15
	CloseMinute = 30
)

// Calendar describes one venue's sessions. The zero value is not usable;
// construct with UTC, NSE or Named.
type Calendar struct {
	Name     string
	Location *time.Location

	// Session bounds in minutes after local midnight. Open == Close means
	// the session spans the whole day.
	OpenMinute  int
	CloseMinute int

	WeekdaysOnly bool
	holidays     map[string]bool
}

// UTC returns a round-the-clock calendar with days split at UTC midnight.
func UTC() Calendar {
	return Calendar{Name: "utc", Location: time.UTC}
}

// NSE returns the National Stock Exchange calendar: 9:15 AM – 3:30 PM IST,
// Mon–Fri, excluding listed holidays.
func NSE() Calendar {
	return Calendar{
		Name:         "nse",
		Location:     IST,
		OpenMinute:   OpenHour*60 + OpenMinute,
		CloseMinute:  CloseHour*60 + CloseMinute,
		WeekdaysOnly: true,
		holidays:     nseHolidays(),
	}
}

// Named resolves a calendar by name ("utc", "24x7", "nse").
func Named(name string) (Calendar, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "utc", "24x7", "crypto":
		return UTC(), nil
	case "nse", "ist":
		return NSE(), nil
	}
	return Calendar{}, fmt.Errorf("unknown market calendar %q", name)
}

func (c Calendar) loc() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

// DayKey returns the local calendar date of t as YYYY-MM-DD. Two instants
// share a trading day iff their keys are equal.
func (c Calendar) DayKey(t time.Time) string {
	return t.In(c.loc()).Format("2006-01-02")
}

// DayStart returns local midnight of the day containing t.
func (c Calendar) DayStart(t time.Time) time.Time {
	l := t.In(c.loc())
	return time.Date(l.Year(), l.Month(), l.Day(), 0, 0, 0, 0, c.loc())
}

// IsWeekday returns true if t is Mon–Fri in the calendar's location.
func (c Calendar) IsWeekday(t time.Time) bool {
	wd := t.In(c.loc()).Weekday()
	return wd >= time.Monday && wd <= time.Friday
}

// IsTradingDay reports whether the day containing t has a session.
func (c Calendar) IsTradingDay(t time.Time) bool {
	if c.WeekdaysOnly && !c.IsWeekday(t) {
		return false
	}
	return !c.IsHoliday(t)
}

// IsOpen returns true if t falls inside a session.
func (c Calendar) IsOpen(t time.Time) bool {
	if !c.IsTradingDay(t) {
		return false
	}
	if c.OpenMinute == c.CloseMinute {
		return true
	}
	l := t.In(c.loc())
	hm := l.Hour()*60 + l.Minute()
	return hm >= c.OpenMinute && hm < c.CloseMinute
}

// NextOpen returns the first session open strictly after t, searching up to
// ten days ahead (weekends + holidays).
func (c Calendar) NextOpen(t time.Time) time.Time {
	l := t.In(c.loc())
	d := c.DayStart(l)
	for i := 0; i <= 10; i++ {
		open := d.Add(time.Duration(c.OpenMinute) * time.Minute)
		if open.After(l) && c.IsTradingDay(open) {
			return open
		}
		d = d.AddDate(0, 0, 1)
	}
	return c.DayStart(l).AddDate(0, 0, 1).Add(time.Duration(c.OpenMinute) * time.Minute)
}
