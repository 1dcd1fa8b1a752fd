package booking

import (
	"context"
	"log/slog"
	"time"

	"github.com/tmwangi/kalenda/services/booking-service/internal/model"
	"github.com/tmwangi/kalenda/services/booking-service/internal/schedule"
)

// Tx is the transactional surface the writer needs. *storage.Tx satisfies it.
type Tx interface {
	GetBusiness(ctx context.Context, businessID string) (model.Business, error)
	GetCalendar(ctx context.Context, businessID string) (schedule.Calendar, error)
	LockAgenda(ctx context.Context, businessID, employeeRef string) error
	BookedIntervals(ctx context.Context, businessID, employeeRef string, from, to time.Time, excludeID string) ([]schedule.Interval, error)
	InsertAppointment(ctx context.Context, appt model.Appointment) (string, error)
	GetAppointmentForUpdate(ctx context.Context, businessID, appointmentID string) (model.Appointment, error)
	UpdateAppointmentInterval(ctx context.Context, businessID, appointmentID string, start, end time.Time) error
	UpdateAppointmentStatus(ctx context.Context, businessID, appointmentID string, to model.Status) error
	InsertAppointmentAudit(ctx context.Context, rec model.AppointmentAudit) error
}

// Writer performs appointment mutations with a read-then-recheck-then-write
// contract: availability is re-verified against freshly read intervals inside
// the caller's transaction, under the per-agenda advisory lock, immediately
// before the row is written.
type Writer struct {
	logger *slog.Logger
}

func NewWriter(logger *slog.Logger) *Writer {
	return &Writer{logger: logger}
}

type CreateRequest struct {
	BusinessID  string
	ServiceID   string
	ClientRef   string
	EmployeeRef string
	Start       time.Time
	Duration    time.Duration
	Status      model.Status
}

func (w *Writer) Create(ctx context.Context, tx Tx, req CreateRequest) (model.Appointment, error) {
	if req.BusinessID == "" {
		return model.Appointment{}, Invalid("business_id", "required")
	}
	if req.ServiceID == "" {
		return model.Appointment{}, Invalid("service_id", "required")
	}
	if req.ClientRef == "" {
		return model.Appointment{}, Invalid("client_ref", "required")
	}
	if req.Duration <= 0 {
		return model.Appointment{}, Invalid("duration", "must be positive")
	}
	if req.Status != model.StatusPending && req.Status != model.StatusConfirmed {
		return model.Appointment{}, Invalid("status", "new appointments start pending or confirmed")
	}

	candidate := schedule.Interval{Start: req.Start, End: req.Start.Add(req.Duration)}
	if err := w.ensureFree(ctx, tx, req.BusinessID, req.EmployeeRef, candidate, ""); err != nil {
		return model.Appointment{}, err
	}

	appt := model.Appointment{
		BusinessID:  req.BusinessID,
		ServiceID:   req.ServiceID,
		ClientRef:   req.ClientRef,
		EmployeeRef: req.EmployeeRef,
		StartTime:   candidate.Start,
		EndTime:     candidate.End,
		Status:      req.Status,
	}
	id, err := tx.InsertAppointment(ctx, appt)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.ID = id

	w.logger.Info("appointment created",
		"appointment_id", id,
		"business_id", req.BusinessID,
		"start_time", candidate.Start.UTC().Format(time.RFC3339),
		"status", string(req.Status),
	)
	return appt, nil
}

type RescheduleRequest struct {
	BusinessID    string
	AppointmentID string
	NewStart      time.Time
}

// Reschedule moves an appointment to a new interval of the same length as one
// atomic update: the old interval is released and the new one booked
// together, or neither. On conflict the appointment is untouched.
func (w *Writer) Reschedule(ctx context.Context, tx Tx, req RescheduleRequest) (model.Appointment, error) {
	if req.BusinessID == "" || req.AppointmentID == "" {
		return model.Appointment{}, Invalid("appointment_id", "business_id and appointment_id required")
	}

	appt, err := tx.GetAppointmentForUpdate(ctx, req.BusinessID, req.AppointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	if appt.Status != model.StatusPending && appt.Status != model.StatusConfirmed {
		return model.Appointment{}, &InvalidTransitionError{From: appt.Status, To: appt.Status}
	}

	duration := appt.EndTime.Sub(appt.StartTime)
	candidate := schedule.Interval{Start: req.NewStart, End: req.NewStart.Add(duration)}
	// The appointment being moved must not conflict with itself.
	if err := w.ensureFree(ctx, tx, appt.BusinessID, appt.EmployeeRef, candidate, appt.ID); err != nil {
		return model.Appointment{}, err
	}

	if err := tx.UpdateAppointmentInterval(ctx, appt.BusinessID, appt.ID, candidate.Start, candidate.End); err != nil {
		return model.Appointment{}, err
	}
	appt.StartTime = candidate.Start
	appt.EndTime = candidate.End

	w.logger.Info("appointment rescheduled",
		"appointment_id", appt.ID,
		"business_id", appt.BusinessID,
		"start_time", candidate.Start.UTC().Format(time.RFC3339),
	)
	return appt, nil
}

type TransitionRequest struct {
	BusinessID    string
	AppointmentID string
	To            model.Status
	Actor         string
	// Force bypasses the state machine (admin override). The override is
	// recorded in the appointment audit table.
	Force bool
}

// Transition applies a status change. Cancellation is a transition like any
// other: the row is never deleted, history stays inspectable.
func (w *Writer) Transition(ctx context.Context, tx Tx, req TransitionRequest) (model.Appointment, error) {
	if !model.ValidStatus(req.To) {
		return model.Appointment{}, Invalid("status", "unknown status")
	}

	appt, err := tx.GetAppointmentForUpdate(ctx, req.BusinessID, req.AppointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	if appt.Status == req.To {
		// Idempotent no-op; repeated cancels and confirms converge.
		return appt, nil
	}
	if !model.CanTransition(appt.Status, req.To) {
		if !req.Force {
			return model.Appointment{}, &InvalidTransitionError{From: appt.Status, To: req.To}
		}
		if err := tx.InsertAppointmentAudit(ctx, model.AppointmentAudit{
			AppointmentID: appt.ID,
			BusinessID:    appt.BusinessID,
			Actor:         req.Actor,
			FromStatus:    appt.Status,
			ToStatus:      req.To,
		}); err != nil {
			return model.Appointment{}, err
		}
		w.logger.Warn("forced status transition",
			"appointment_id", appt.ID,
			"actor", req.Actor,
			"from", string(appt.Status),
			"to", string(req.To),
		)
	}

	if err := tx.UpdateAppointmentStatus(ctx, appt.BusinessID, appt.ID, req.To); err != nil {
		return model.Appointment{}, err
	}
	appt.Status = req.To
	return appt, nil
}

// ensureFree validates the candidate against the business's working hours,
// then takes the agenda lock and rechecks it against the current booked set.
// Conflict scope is the employee's agenda when an employee is assigned,
// otherwise the whole business.
func (w *Writer) ensureFree(ctx context.Context, tx Tx, businessID, employeeRef string, candidate schedule.Interval, excludeID string) error {
	biz, err := tx.GetBusiness(ctx, businessID)
	if err != nil {
		return err
	}
	cal, err := tx.GetCalendar(ctx, businessID)
	if err != nil {
		return err
	}
	loc := biz.Location()
	local := schedule.Interval{Start: candidate.Start.In(loc), End: candidate.End.In(loc)}
	if !cal.WithinHours(local) {
		return &OutsideHoursError{Start: candidate.Start, End: candidate.End}
	}

	if err := tx.LockAgenda(ctx, businessID, employeeRef); err != nil {
		return err
	}
	busy, err := tx.BookedIntervals(ctx, businessID, employeeRef, candidate.Start, candidate.End, excludeID)
	if err != nil {
		return err
	}
	if !schedule.IsAvailable(candidate, busy) {
		return &ConflictError{Start: candidate.Start, End: candidate.End}
	}
	return nil
}
