package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/tmwangi/kalenda/services/booking-service/internal/model"
	"github.com/tmwangi/kalenda/services/booking-service/internal/schedule"
)

type fakeTx struct {
	appts    map[string]model.Appointment
	audits   []model.AppointmentAudit
	calendar schedule.Calendar
	locks    int
	nextID   int
}

func newFakeTx() *fakeTx {
	return &fakeTx{appts: map[string]model.Appointment{}, calendar: workweekCalendar()}
}

// workweekCalendar is open 09:00-17:00 Monday through Friday.
func workweekCalendar() schedule.Calendar {
	days := make([]schedule.DaySchedule, 0, 5)
	for wd := time.Monday; wd <= time.Friday; wd++ {
		days = append(days, schedule.DaySchedule{
			Weekday: wd, IsOpen: true, OpenMinutes: 9 * 60, CloseMinutes: 17 * 60,
		})
	}
	cal, err := schedule.NewCalendar(days)
	if err != nil {
		panic(err)
	}
	return cal
}

func (f *fakeTx) GetBusiness(_ context.Context, businessID string) (model.Business, error) {
	return model.Business{ID: businessID, Timezone: "UTC"}, nil
}

func (f *fakeTx) GetCalendar(_ context.Context, _ string) (schedule.Calendar, error) {
	return f.calendar, nil
}

func (f *fakeTx) LockAgenda(_ context.Context, _, _ string) error {
	f.locks++
	return nil
}

func (f *fakeTx) BookedIntervals(_ context.Context, businessID, employeeRef string, from, to time.Time, excludeID string) ([]schedule.Interval, error) {
	var out []schedule.Interval
	for id, a := range f.appts {
		if a.BusinessID != businessID || id == excludeID {
			continue
		}
		if employeeRef != "" && a.EmployeeRef != employeeRef {
			continue
		}
		blocking := a.Status == model.StatusPending || a.Status == model.StatusConfirmed || a.Status == model.StatusCompleted
		if !blocking {
			continue
		}
		if a.StartTime.Before(to) && from.Before(a.EndTime) {
			out = append(out, schedule.Interval{Start: a.StartTime, End: a.EndTime})
		}
	}
	return out, nil
}

func (f *fakeTx) InsertAppointment(_ context.Context, appt model.Appointment) (string, error) {
	f.nextID++
	id := fmt.Sprintf("appt-%d", f.nextID)
	appt.ID = id
	f.appts[id] = appt
	return id, nil
}

func (f *fakeTx) GetAppointmentForUpdate(_ context.Context, businessID, id string) (model.Appointment, error) {
	a, ok := f.appts[id]
	if !ok || a.BusinessID != businessID {
		return model.Appointment{}, errors.New("no rows")
	}
	return a, nil
}

func (f *fakeTx) UpdateAppointmentInterval(_ context.Context, businessID, id string, start, end time.Time) error {
	a := f.appts[id]
	a.StartTime = start
	a.EndTime = end
	f.appts[id] = a
	return nil
}

func (f *fakeTx) UpdateAppointmentStatus(_ context.Context, businessID, id string, to model.Status) error {
	a := f.appts[id]
	a.Status = to
	f.appts[id] = a
	return nil
}

func (f *fakeTx) InsertAppointmentAudit(_ context.Context, rec model.AppointmentAudit) error {
	f.audits = append(f.audits, rec)
	return nil
}

func testWriter() *Writer {
	return NewWriter(slog.Default())
}

func at(h, m int) time.Time {
	return time.Date(2026, 9, 7, h, m, 0, 0, time.UTC)
}

func TestCreate_TakesLockAndBooks(t *testing.T) {
	tx := newFakeTx()
	appt, err := testWriter().Create(context.Background(), tx, CreateRequest{
		BusinessID: "biz-1",
		ServiceID:  "svc-1",
		ClientRef:  "client-1",
		Start:      at(10, 0),
		Duration:   time.Hour,
		Status:     model.StatusPending,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if tx.locks != 1 {
		t.Fatalf("expected the agenda lock to be taken once, got %d", tx.locks)
	}
	if !appt.EndTime.Equal(at(11, 0)) {
		t.Fatalf("end must be start + duration, got %s", appt.EndTime)
	}
}

func TestCreate_ConflictOnOverlap(t *testing.T) {
	tx := newFakeTx()
	w := testWriter()
	ctx := context.Background()

	if _, err := w.Create(ctx, tx, CreateRequest{
		BusinessID: "biz-1", ServiceID: "svc-1", ClientRef: "c1",
		Start: at(10, 0), Duration: time.Hour, Status: model.StatusConfirmed,
	}); err != nil {
		t.Fatalf("seed create: %v", err)
	}

	_, err := w.Create(ctx, tx, CreateRequest{
		BusinessID: "biz-1", ServiceID: "svc-1", ClientRef: "c2",
		Start: at(10, 30), Duration: time.Hour, Status: model.StatusPending,
	})
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError for 10:30-11:30 over 10:00-11:00, got %v", err)
	}
	if !conflict.Start.Equal(at(10, 30)) {
		t.Fatalf("conflict should carry the requested interval, got %s", conflict.Start)
	}

	// Touching slot books fine.
	if _, err := w.Create(ctx, tx, CreateRequest{
		BusinessID: "biz-1", ServiceID: "svc-1", ClientRef: "c3",
		Start: at(11, 0), Duration: time.Hour, Status: model.StatusPending,
	}); err != nil {
		t.Fatalf("11:00-12:00 touches 10:00-11:00 and must book: %v", err)
	}
}

func TestCreate_EmployeeScopedConflicts(t *testing.T) {
	tx := newFakeTx()
	w := testWriter()
	ctx := context.Background()

	if _, err := w.Create(ctx, tx, CreateRequest{
		BusinessID: "biz-1", ServiceID: "svc-1", ClientRef: "c1", EmployeeRef: "emp-a",
		Start: at(10, 0), Duration: time.Hour, Status: model.StatusConfirmed,
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Same interval, different employee: no conflict.
	if _, err := w.Create(ctx, tx, CreateRequest{
		BusinessID: "biz-1", ServiceID: "svc-1", ClientRef: "c2", EmployeeRef: "emp-b",
		Start: at(10, 0), Duration: time.Hour, Status: model.StatusConfirmed,
	}); err != nil {
		t.Fatalf("different employee should not conflict: %v", err)
	}

	// Same employee conflicts.
	_, err := w.Create(ctx, tx, CreateRequest{
		BusinessID: "biz-1", ServiceID: "svc-1", ClientRef: "c3", EmployeeRef: "emp-a",
		Start: at(10, 30), Duration: time.Hour, Status: model.StatusPending,
	})
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected per-employee conflict, got %v", err)
	}
}

func TestCreate_Validation(t *testing.T) {
	tx := newFakeTx()
	w := testWriter()
	cases := []CreateRequest{
		{ServiceID: "s", ClientRef: "c", Start: at(10, 0), Duration: time.Hour, Status: model.StatusPending},
		{BusinessID: "b", ClientRef: "c", Start: at(10, 0), Duration: time.Hour, Status: model.StatusPending},
		{BusinessID: "b", ServiceID: "s", Start: at(10, 0), Duration: time.Hour, Status: model.StatusPending},
		{BusinessID: "b", ServiceID: "s", ClientRef: "c", Start: at(10, 0), Duration: 0, Status: model.StatusPending},
		{BusinessID: "b", ServiceID: "s", ClientRef: "c", Start: at(10, 0), Duration: time.Hour, Status: model.StatusCompleted},
	}
	for i, req := range cases {
		var vErr *ValidationError
		if _, err := w.Create(context.Background(), tx, req); !errors.As(err, &vErr) {
			t.Fatalf("case %d: expected ValidationError, got %v", i, err)
		}
	}
	if len(tx.appts) != 0 {
		t.Fatal("invalid requests must not book anything")
	}
}

func TestReschedule_ConflictLeavesAppointmentUntouched(t *testing.T) {
	tx := newFakeTx()
	w := testWriter()
	ctx := context.Background()

	a, err := w.Create(ctx, tx, CreateRequest{
		BusinessID: "biz-1", ServiceID: "svc-1", ClientRef: "c1",
		Start: at(10, 0), Duration: time.Hour, Status: model.StatusConfirmed,
	})
	if err != nil {
		t.Fatalf("seed a: %v", err)
	}
	if _, err := w.Create(ctx, tx, CreateRequest{
		BusinessID: "biz-1", ServiceID: "svc-1", ClientRef: "c2",
		Start: at(14, 0), Duration: time.Hour, Status: model.StatusConfirmed,
	}); err != nil {
		t.Fatalf("seed b: %v", err)
	}

	_, err = w.Reschedule(ctx, tx, RescheduleRequest{
		BusinessID: "biz-1", AppointmentID: a.ID, NewStart: at(14, 0),
	})
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}

	got := tx.appts[a.ID]
	if !got.StartTime.Equal(at(10, 0)) || !got.EndTime.Equal(at(11, 0)) {
		t.Fatalf("conflicting reschedule must leave the appointment at 10:00-11:00, got %s-%s", got.StartTime, got.EndTime)
	}
}

func TestCreate_OutsideHoursRejected(t *testing.T) {
	tx := newFakeTx()
	w := testWriter()
	ctx := context.Background()

	var hoursErr *OutsideHoursError
	if _, err := w.Create(ctx, tx, CreateRequest{
		BusinessID: "biz-1", ServiceID: "svc-1", ClientRef: "c1",
		Start: at(3, 0), Duration: time.Hour, Status: model.StatusPending,
	}); !errors.As(err, &hoursErr) {
		t.Fatalf("03:00 is before opening, got %v", err)
	}
	// Sunday is closed.
	if _, err := w.Create(ctx, tx, CreateRequest{
		BusinessID: "biz-1", ServiceID: "svc-1", ClientRef: "c1",
		Start: time.Date(2026, 9, 6, 10, 0, 0, 0, time.UTC), Duration: time.Hour,
		Status: model.StatusPending,
	}); !errors.As(err, &hoursErr) {
		t.Fatalf("Sunday is closed, got %v", err)
	}
	if len(tx.appts) != 0 {
		t.Fatalf("no appointment may be written, got %d", len(tx.appts))
	}
}

func TestReschedule_OutsideHoursLeavesAppointmentUntouched(t *testing.T) {
	tx := newFakeTx()
	w := testWriter()
	ctx := context.Background()

	a, err := w.Create(ctx, tx, CreateRequest{
		BusinessID: "biz-1", ServiceID: "svc-1", ClientRef: "c1",
		Start: at(10, 0), Duration: time.Hour, Status: model.StatusPending,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err = w.Reschedule(ctx, tx, RescheduleRequest{
		BusinessID: "biz-1", AppointmentID: a.ID, NewStart: at(3, 0),
	})
	var hoursErr *OutsideHoursError
	if !errors.As(err, &hoursErr) {
		t.Fatalf("moving to 03:00 must fail the hours check, got %v", err)
	}

	got := tx.appts[a.ID]
	if !got.StartTime.Equal(at(10, 0)) || !got.EndTime.Equal(at(11, 0)) {
		t.Fatalf("appointment must stay at 10:00-11:00, got %s-%s", got.StartTime, got.EndTime)
	}
}

func TestReschedule_MovesAndExcludesSelf(t *testing.T) {
	tx := newFakeTx()
	w := testWriter()
	ctx := context.Background()

	a, err := w.Create(ctx, tx, CreateRequest{
		BusinessID: "biz-1", ServiceID: "svc-1", ClientRef: "c1",
		Start: at(10, 0), Duration: time.Hour, Status: model.StatusConfirmed,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Moving 30 minutes forward overlaps the old interval; self-exclusion
	// makes it legal.
	moved, err := w.Reschedule(ctx, tx, RescheduleRequest{
		BusinessID: "biz-1", AppointmentID: a.ID, NewStart: at(10, 30),
	})
	if err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	if !moved.StartTime.Equal(at(10, 30)) || !moved.EndTime.Equal(at(11, 30)) {
		t.Fatalf("expected 10:30-11:30, got %s-%s", moved.StartTime, moved.EndTime)
	}
}

func TestReschedule_TerminalStatusRejected(t *testing.T) {
	tx := newFakeTx()
	w := testWriter()
	ctx := context.Background()

	a, _ := w.Create(ctx, tx, CreateRequest{
		BusinessID: "biz-1", ServiceID: "svc-1", ClientRef: "c1",
		Start: at(10, 0), Duration: time.Hour, Status: model.StatusConfirmed,
	})
	if _, err := w.Transition(ctx, tx, TransitionRequest{BusinessID: "biz-1", AppointmentID: a.ID, To: model.StatusCancelled}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	var invalid *InvalidTransitionError
	if _, err := w.Reschedule(ctx, tx, RescheduleRequest{
		BusinessID: "biz-1", AppointmentID: a.ID, NewStart: at(14, 0),
	}); !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError for cancelled appointment, got %v", err)
	}
}

func TestTransition_StateMachine(t *testing.T) {
	tx := newFakeTx()
	w := testWriter()
	ctx := context.Background()

	a, _ := w.Create(ctx, tx, CreateRequest{
		BusinessID: "biz-1", ServiceID: "svc-1", ClientRef: "c1",
		Start: at(10, 0), Duration: time.Hour, Status: model.StatusPending,
	})

	if _, err := w.Transition(ctx, tx, TransitionRequest{BusinessID: "biz-1", AppointmentID: a.ID, To: model.StatusConfirmed}); err != nil {
		t.Fatalf("pending -> confirmed: %v", err)
	}

	var invalid *InvalidTransitionError
	if _, err := w.Transition(ctx, tx, TransitionRequest{BusinessID: "biz-1", AppointmentID: a.ID, To: model.StatusRejected}); !errors.As(err, &invalid) {
		t.Fatalf("confirmed -> rejected must fail, got %v", err)
	}
	if tx.appts[a.ID].Status != model.StatusConfirmed {
		t.Fatal("failed transition must preserve the original status")
	}

	// Repeating a transition is a no-op, not an error.
	if _, err := w.Transition(ctx, tx, TransitionRequest{BusinessID: "biz-1", AppointmentID: a.ID, To: model.StatusConfirmed}); err != nil {
		t.Fatalf("idempotent repeat: %v", err)
	}
}

func TestTransition_ForceAuditsOverride(t *testing.T) {
	tx := newFakeTx()
	w := testWriter()
	ctx := context.Background()

	a, _ := w.Create(ctx, tx, CreateRequest{
		BusinessID: "biz-1", ServiceID: "svc-1", ClientRef: "c1",
		Start: at(10, 0), Duration: time.Hour, Status: model.StatusConfirmed,
	})
	if _, err := w.Transition(ctx, tx, TransitionRequest{BusinessID: "biz-1", AppointmentID: a.ID, To: model.StatusCompleted}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	// completed -> pending is outside the machine; force allows and audits it.
	got, err := w.Transition(ctx, tx, TransitionRequest{
		BusinessID: "biz-1", AppointmentID: a.ID, To: model.StatusPending,
		Actor: "admin-7", Force: true,
	})
	if err != nil {
		t.Fatalf("forced transition: %v", err)
	}
	if got.Status != model.StatusPending {
		t.Fatalf("expected pending after force, got %s", got.Status)
	}
	if len(tx.audits) != 1 {
		t.Fatalf("forced transition must write exactly one audit row, got %d", len(tx.audits))
	}
	audit := tx.audits[0]
	if audit.Actor != "admin-7" || audit.FromStatus != model.StatusCompleted || audit.ToStatus != model.StatusPending {
		t.Fatalf("audit row mismatch: %+v", audit)
	}

	// Allowed transitions are not audited.
	b, _ := w.Create(ctx, tx, CreateRequest{
		BusinessID: "biz-1", ServiceID: "svc-1", ClientRef: "c2",
		Start: at(12, 0), Duration: time.Hour, Status: model.StatusPending,
	})
	if _, err := w.Transition(ctx, tx, TransitionRequest{BusinessID: "biz-1", AppointmentID: b.ID, To: model.StatusCancelled}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(tx.audits) != 1 {
		t.Fatalf("normal transition must not audit, got %d rows", len(tx.audits))
	}
}
