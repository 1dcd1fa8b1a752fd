package schedule

import (
	"testing"
	"time"
)

func interval(day time.Time, startMin, endMin int) Interval {
	return Interval{
		Start: day.Add(time.Duration(startMin) * time.Minute),
		End:   day.Add(time.Duration(endMin) * time.Minute),
	}
}

func TestOverlaps(t *testing.T) {
	day := time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		a, b Interval
		want bool
	}{
		{"identical", interval(day, 600, 660), interval(day, 600, 660), true},
		{"contained", interval(day, 600, 660), interval(day, 615, 645), true},
		{"partial", interval(day, 600, 660), interval(day, 630, 690), true},
		{"touching end-to-start", interval(day, 600, 660), interval(day, 660, 720), false},
		{"touching start-to-end", interval(day, 660, 720), interval(day, 600, 660), false},
		{"disjoint", interval(day, 600, 660), interval(day, 720, 780), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Overlaps(tc.a, tc.b); got != tc.want {
				t.Fatalf("Overlaps(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
			if got := Overlaps(tc.b, tc.a); got != tc.want {
				t.Fatalf("Overlaps is not symmetric for %v, %v", tc.a, tc.b)
			}
		})
	}
}

func TestIsAvailable(t *testing.T) {
	day := time.Date(2026, 9, 7, 0, 0, 0, 0, time.UTC)
	booked := []Interval{interval(day, 600, 660)} // 10:00-11:00

	if IsAvailable(interval(day, 630, 690), booked) {
		t.Fatal("10:30-11:30 should conflict with 10:00-11:00")
	}
	if !IsAvailable(interval(day, 660, 720), booked) {
		t.Fatal("11:00-12:00 touches 10:00-11:00 and should be available")
	}
	if !IsAvailable(interval(day, 540, 600), booked) {
		t.Fatal("09:00-10:00 touches 10:00-11:00 and should be available")
	}
}
