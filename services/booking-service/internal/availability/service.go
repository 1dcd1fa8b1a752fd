// Package availability answers the read side of scheduling: which slots a
// business can still sell on a given date. It never writes; booking conflicts
// are re-checked under lock by the writer at booking time.
package availability

import (
	"context"
	"log/slog"
	"time"

	"github.com/tmwangi/kalenda/services/booking-service/internal/booking"
	"github.com/tmwangi/kalenda/services/booking-service/internal/model"
	"github.com/tmwangi/kalenda/services/booking-service/internal/schedule"
)

// Store is the read surface the service needs.
type Store interface {
	GetBusiness(ctx context.Context, businessID string) (model.Business, error)
	GetCalendar(ctx context.Context, businessID string) (schedule.Calendar, error)
	GetService(ctx context.Context, businessID, serviceID string) (model.Service, error)
	BookedIntervals(ctx context.Context, businessID, employeeRef string, from, to time.Time, excludeID string) ([]schedule.Interval, error)
}

// TimeSlot is one candidate interval in a day's availability response. Taken
// slots are returned with Available=false rather than omitted so clients can
// render the full grid.
type TimeSlot struct {
	Start     time.Time `json:"start_time"`
	End       time.Time `json:"end_time"`
	Available bool      `json:"available"`
}

type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger, now: time.Now}
}

type SlotsRequest struct {
	BusinessID  string
	ServiceID   string
	Date        string // YYYY-MM-DD, interpreted in the business timezone
	EmployeeRef string
	// ExcludeAppointmentID removes one appointment from the busy set, so a
	// client picking a new time for it sees its current slot as free.
	ExcludeAppointmentID string
}

// GetAvailableSlots computes the slot grid for one day. Slots that overlap a
// booked appointment, and slots already begun when the date is today, come
// back unavailable.
func (s *Service) GetAvailableSlots(ctx context.Context, req SlotsRequest) ([]TimeSlot, error) {
	if req.BusinessID == "" {
		return nil, booking.Invalid("business_id", "required")
	}
	if req.ServiceID == "" {
		return nil, booking.Invalid("service_id", "required")
	}

	biz, err := s.store.GetBusiness(ctx, req.BusinessID)
	if err != nil {
		return nil, err
	}
	loc := biz.Location()

	day, err := time.ParseInLocation("2006-01-02", req.Date, loc)
	if err != nil {
		return nil, booking.Invalid("date", "must be YYYY-MM-DD")
	}
	now := s.now().In(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	if day.Before(today) {
		return nil, booking.Invalid("date", "date is in the past")
	}

	svc, err := s.store.GetService(ctx, req.BusinessID, req.ServiceID)
	if err != nil {
		return nil, err
	}
	cal, err := s.store.GetCalendar(ctx, req.BusinessID)
	if err != nil {
		return nil, err
	}

	candidates := cal.SlotsForDate(day, svc.Duration(), biz.Granularity())
	if len(candidates) == 0 {
		return []TimeSlot{}, nil
	}

	busy, err := s.store.BookedIntervals(ctx, req.BusinessID, req.EmployeeRef,
		candidates[0].Start, candidates[len(candidates)-1].End, req.ExcludeAppointmentID)
	if err != nil {
		return nil, err
	}

	slots := make([]TimeSlot, 0, len(candidates))
	for _, c := range candidates {
		available := schedule.IsAvailable(c, busy)
		if available && day.Equal(today) && c.Start.Before(now) {
			available = false
		}
		slots = append(slots, TimeSlot{Start: c.Start, End: c.End, Available: available})
	}
	return slots, nil
}

// CheckWithinHours validates that a proposed appointment interval lies inside
// the business's working hours, in the business's timezone.
func (s *Service) CheckWithinHours(ctx context.Context, businessID string, start, end time.Time) error {
	biz, err := s.store.GetBusiness(ctx, businessID)
	if err != nil {
		return err
	}
	cal, err := s.store.GetCalendar(ctx, businessID)
	if err != nil {
		return err
	}
	loc := biz.Location()
	ival := schedule.Interval{Start: start.In(loc), End: end.In(loc)}
	if !cal.WithinHours(ival) {
		return &booking.OutsideHoursError{Start: start, End: end}
	}
	return nil
}
