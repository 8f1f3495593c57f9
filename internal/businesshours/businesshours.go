// Package businesshours computes SLA-relevant durations restricted to a
// configured working calendar.
package businesshours

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Config describes the working calendar as read from the environment.
type Config struct {
	// Days holds weekday numbers, 0=Sunday .. 6=Saturday.
	Days     []int
	Start    string // "HH:MM"
	End      string // "HH:MM"
	Timezone string
}

// DefaultConfig is Mon-Fri 09:00-18:00 UTC.
func DefaultConfig() Config {
	return Config{
		Days:     []int{1, 2, 3, 4, 5},
		Start:    "09:00",
		End:      "18:00",
		Timezone: "UTC",
	}
}

// Calendar is an immutable business-hours calendar. Construct with New.
type Calendar struct {
	loc      *time.Location
	days     map[time.Weekday]struct{}
	startSec int
	endSec   int
}

// New validates cfg and builds a Calendar. Malformed configuration is
// rejected here so calculations never have to handle it.
func New(cfg Config) (*Calendar, error) {
	if len(cfg.Days) == 0 {
		return nil, fmt.Errorf("businesshours: no business days configured")
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("businesshours: timezone %q: %w", cfg.Timezone, err)
	}
	startSec, err := parseClock(cfg.Start)
	if err != nil {
		return nil, fmt.Errorf("businesshours: start time: %w", err)
	}
	endSec, err := parseClock(cfg.End)
	if err != nil {
		return nil, fmt.Errorf("businesshours: end time: %w", err)
	}
	if endSec <= startSec {
		return nil, fmt.Errorf("businesshours: end %q not after start %q", cfg.End, cfg.Start)
	}
	days := make(map[time.Weekday]struct{}, len(cfg.Days))
	for _, d := range cfg.Days {
		if d < 0 || d > 6 {
			return nil, fmt.Errorf("businesshours: invalid weekday %d", d)
		}
		days[time.Weekday(d)] = struct{}{}
	}
	return &Calendar{loc: loc, days: days, startSec: startSec, endSec: endSec}, nil
}

func parseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("malformed clock value %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("malformed clock value %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("malformed clock value %q", s)
	}
	return h*3600 + m*60, nil
}

// Location returns the calendar's timezone.
func (c *Calendar) Location() *time.Location { return c.loc }

// window returns the business window for the calendar day containing t,
// or ok=false when t falls on a non-business day.
func (c *Calendar) window(t time.Time) (start, end time.Time, ok bool) {
	dayStart := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, c.loc)
	if _, bd := c.days[dayStart.Weekday()]; !bd {
		return time.Time{}, time.Time{}, false
	}
	start = dayStart.Add(time.Duration(c.startSec) * time.Second)
	end = dayStart.Add(time.Duration(c.endSec) * time.Second)
	return start, end, true
}

// Calculate returns the number of business hours between start and end,
// rounded to two decimal places. Returns 0 when start >= end.
func (c *Calendar) Calculate(start, end time.Time) float64 {
	if !start.Before(end) {
		return 0
	}
	start = start.In(c.loc)
	end = end.In(c.loc)
	var total time.Duration
	cur := start
	for cur.Before(end) {
		dayStart := time.Date(cur.Year(), cur.Month(), cur.Day(), 0, 0, 0, 0, c.loc)
		// Calendar-day step: a fixed 24h hop stalls on 25-hour DST
		// fall-back days and never reaches the next day.
		dayEnd := dayStart.AddDate(0, 0, 1)
		bhStart, bhEnd, ok := c.window(cur)
		if !ok {
			cur = dayEnd
			continue
		}
		from := cur
		if from.Before(bhStart) {
			from = bhStart
		}
		to := minTime(end, bhEnd)
		if to.After(from) {
			total += to.Sub(from)
		}
		cur = dayEnd
	}
	mins := total.Minutes()
	return math.Round(mins/60*100) / 100
}

// Contains reports whether t lies within business hours. The window is
// half-open: true at the start boundary, false at the end boundary.
func (c *Calendar) Contains(t time.Time) bool {
	t = t.In(c.loc)
	start, end, ok := c.window(t)
	if !ok {
		return false
	}
	return !t.Before(start) && t.Before(end)
}

// NextStart returns from unchanged when it is already within business
// hours, otherwise the next business window's start boundary.
func (c *Calendar) NextStart(from time.Time) time.Time {
	from = from.In(c.loc)
	if c.Contains(from) {
		return from
	}
	if start, _, ok := c.window(from); ok && from.Before(start) {
		return start
	}
	day := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, c.loc)
	// Construction guarantees at least one business day, so seven
	// iterations always suffice.
	for i := 0; i < 7; i++ {
		day = day.AddDate(0, 0, 1)
		if start, _, ok := c.window(day); ok {
			return start
		}
	}
	return from
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
