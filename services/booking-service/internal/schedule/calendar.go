package schedule

import (
	"fmt"
	"time"
)

// DefaultGranularity is the slot step used when a business has not configured one.
const DefaultGranularity = 30 * time.Minute

// DaySchedule is one weekday entry of a business's working-hours calendar.
// Open and close are minutes since local midnight.
type DaySchedule struct {
	Weekday      time.Weekday
	IsOpen       bool
	OpenMinutes  int
	CloseMinutes int
}

// Calendar is a business's weekly working-hours schedule: at most one entry
// per weekday. The scheduling core reads it, business settings own it.
type Calendar struct {
	days [7]DaySchedule
	set  [7]bool
}

func NewCalendar(days []DaySchedule) (Calendar, error) {
	var c Calendar
	for _, d := range days {
		if d.Weekday < time.Sunday || d.Weekday > time.Saturday {
			return Calendar{}, fmt.Errorf("invalid weekday %d", d.Weekday)
		}
		if c.set[d.Weekday] {
			return Calendar{}, fmt.Errorf("duplicate entry for %s", d.Weekday)
		}
		if d.IsOpen {
			if d.OpenMinutes < 0 || d.CloseMinutes > 24*60 || d.OpenMinutes >= d.CloseMinutes {
				return Calendar{}, fmt.Errorf("%s: open time must precede close time", d.Weekday)
			}
		}
		c.days[d.Weekday] = d
		c.set[d.Weekday] = true
	}
	return c, nil
}

func (c Calendar) Day(w time.Weekday) (DaySchedule, bool) {
	return c.days[w], c.set[w]
}

// WithinHours reports whether the interval falls inside the open window of
// its business-local day. Intervals spanning midnight are never within hours.
func (c Calendar) WithinHours(ival Interval) bool {
	sched, ok := c.Day(ival.Start.Weekday())
	if !ok || !sched.IsOpen {
		return false
	}
	midnight := time.Date(ival.Start.Year(), ival.Start.Month(), ival.Start.Day(), 0, 0, 0, 0, ival.Start.Location())
	open := midnight.Add(time.Duration(sched.OpenMinutes) * time.Minute)
	close := midnight.Add(time.Duration(sched.CloseMinutes) * time.Minute)
	return !ival.Start.Before(open) && !ival.End.After(close)
}

// SlotsForDate generates candidate booking intervals of length duration on the
// given day, stepping from the open time by granularity. A candidate whose end
// lands exactly on the close time is included; one that would run past it is
// not. Closed or unconfigured days yield no candidates.
//
// day carries the business-local date and location. The function is
// deterministic: filtering out slots that start before "now" is the caller's
// concern.
func (c Calendar) SlotsForDate(day time.Time, duration, granularity time.Duration) []Interval {
	if duration <= 0 {
		return nil
	}
	if granularity <= 0 {
		granularity = DefaultGranularity
	}

	sched, ok := c.Day(day.Weekday())
	if !ok || !sched.IsOpen {
		return []Interval{}
	}

	midnight := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	open := midnight.Add(time.Duration(sched.OpenMinutes) * time.Minute)
	close := midnight.Add(time.Duration(sched.CloseMinutes) * time.Minute)

	slots := []Interval{}
	for cursor := open; !cursor.Add(duration).After(close); cursor = cursor.Add(granularity) {
		slots = append(slots, Interval{Start: cursor, End: cursor.Add(duration)})
	}
	return slots
}
