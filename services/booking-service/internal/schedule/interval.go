package schedule

import "time"

type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether two half-open intervals [a.Start,a.End) and
// [b.Start,b.End) intersect. Intervals that merely touch do not overlap.
//
// Every overlap decision in the scheduling core must go through this
// predicate; phrasing checks any other way invites off-by-one double bookings.
func Overlaps(a, b Interval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// IsAvailable reports whether candidate overlaps none of the busy intervals.
func IsAvailable(candidate Interval, busy []Interval) bool {
	for _, b := range busy {
		if Overlaps(candidate, b) {
			return false
		}
	}
	return true
}
