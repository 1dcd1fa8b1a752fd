package schedule

import (
	"testing"
	"time"
)

func weekCalendar(t *testing.T, days []DaySchedule) Calendar {
	t.Helper()
	c, err := NewCalendar(days)
	if err != nil {
		t.Fatalf("NewCalendar: %v", err)
	}
	return c
}

func TestNewCalendar_Validation(t *testing.T) {
	_, err := NewCalendar([]DaySchedule{
		{Weekday: time.Monday, IsOpen: true, OpenMinutes: 540, CloseMinutes: 1020},
		{Weekday: time.Monday, IsOpen: false},
	})
	if err == nil {
		t.Fatal("expected error for duplicate weekday")
	}

	_, err = NewCalendar([]DaySchedule{
		{Weekday: time.Tuesday, IsOpen: true, OpenMinutes: 1020, CloseMinutes: 540},
	})
	if err == nil {
		t.Fatal("expected error for open >= close")
	}

	// Closed days may carry zero times.
	if _, err := NewCalendar([]DaySchedule{{Weekday: time.Sunday, IsOpen: false}}); err != nil {
		t.Fatalf("closed day should validate: %v", err)
	}
}

func TestSlotsForDate_FullDay(t *testing.T) {
	cal := weekCalendar(t, []DaySchedule{
		{Weekday: time.Monday, IsOpen: true, OpenMinutes: 9 * 60, CloseMinutes: 17 * 60},
	})
	day := time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC) // a Monday

	slots := cal.SlotsForDate(day, 60*time.Minute, 30*time.Minute)
	if len(slots) != 15 {
		t.Fatalf("expected 15 slots for 09:00-17:00 / 60min / 30min step, got %d", len(slots))
	}
	first := slots[0]
	if !first.Start.Equal(day.Add(9 * time.Hour)) {
		t.Fatalf("first slot should start 09:00, got %s", first.Start)
	}
	last := slots[len(slots)-1]
	if !last.Start.Equal(day.Add(16*time.Hour)) || !last.End.Equal(day.Add(17*time.Hour)) {
		t.Fatalf("last slot should be 16:00-17:00, got %s-%s", last.Start, last.End)
	}
	for _, s := range slots {
		if s.End.Sub(s.Start) != 60*time.Minute {
			t.Fatalf("slot %s-%s is not exactly the service duration", s.Start, s.End)
		}
	}
}

func TestSlotsForDate_ClosedDay(t *testing.T) {
	cal := weekCalendar(t, []DaySchedule{
		{Weekday: time.Sunday, IsOpen: false},
	})
	day := time.Date(2026, 9, 6, 0, 0, 0, 0, time.UTC) // a Sunday

	slots := cal.SlotsForDate(day, 30*time.Minute, 30*time.Minute)
	if slots == nil || len(slots) != 0 {
		t.Fatalf("closed day must return an empty (non-nil) slice, got %v", slots)
	}

	// A weekday with no entry at all behaves like a closed day.
	monday := time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)
	if got := cal.SlotsForDate(monday, 30*time.Minute, 30*time.Minute); len(got) != 0 {
		t.Fatalf("unconfigured day must return no slots, got %d", len(got))
	}
}

func TestSlotsForDate_CloseBoundaryInclusive(t *testing.T) {
	cal := weekCalendar(t, []DaySchedule{
		{Weekday: time.Monday, IsOpen: true, OpenMinutes: 9 * 60, CloseMinutes: 10 * 60},
	})
	day := time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)

	slots := cal.SlotsForDate(day, 60*time.Minute, 30*time.Minute)
	if len(slots) != 1 {
		t.Fatalf("expected exactly the 09:00-10:00 slot, got %d slots", len(slots))
	}
	if !slots[0].End.Equal(day.Add(10 * time.Hour)) {
		t.Fatalf("slot ending exactly at close must be included, got end %s", slots[0].End)
	}
}

func TestSlotsForDate_RespectsLocation(t *testing.T) {
	loc := time.FixedZone("EAT", 3*3600)
	cal := weekCalendar(t, []DaySchedule{
		{Weekday: time.Monday, IsOpen: true, OpenMinutes: 8 * 60, CloseMinutes: 12 * 60},
	})
	day := time.Date(2026, 9, 7, 0, 0, 0, 0, loc)

	slots := cal.SlotsForDate(day, 2*time.Hour, time.Hour)
	if len(slots) != 3 {
		t.Fatalf("expected 3 slots, got %d", len(slots))
	}
	if slots[0].Start.Location() != loc {
		t.Fatal("slots must stay in the business's location")
	}
	if slots[0].Start.Hour() != 8 {
		t.Fatalf("first slot should start 08:00 local, got %d:00", slots[0].Start.Hour())
	}
}

func TestSlotsForDate_NonPositiveDuration(t *testing.T) {
	cal := weekCalendar(t, []DaySchedule{
		{Weekday: time.Monday, IsOpen: true, OpenMinutes: 9 * 60, CloseMinutes: 17 * 60},
	})
	day := time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)
	if got := cal.SlotsForDate(day, 0, 30*time.Minute); got != nil {
		t.Fatalf("zero duration should yield nil, got %v", got)
	}
}
