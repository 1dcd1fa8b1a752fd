package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/tmwangi/kalenda/libs/db"
	"github.com/tmwangi/kalenda/services/booking-service/internal/model"
	"github.com/tmwangi/kalenda/services/booking-service/internal/schedule"
)

// querier is the read surface shared by the pool and a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Store struct {
	pool *db.Pool
}

func NewStore(pool *db.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &Tx{tx: tx}, nil
}

func (s *Store) GetBusiness(ctx context.Context, businessID string) (model.Business, error) {
	return getBusiness(ctx, s.pool, businessID)
}

func (s *Store) GetCalendar(ctx context.Context, businessID string) (schedule.Calendar, error) {
	return getCalendar(ctx, s.pool, businessID)
}

func (s *Store) GetService(ctx context.Context, businessID, serviceID string) (model.Service, error) {
	return getService(ctx, s.pool, businessID, serviceID)
}

func (s *Store) BookedIntervals(ctx context.Context, businessID, employeeRef string, from, to time.Time, excludeID string) ([]schedule.Interval, error) {
	return bookedIntervals(ctx, s.pool, businessID, employeeRef, from, to, excludeID)
}

func (s *Store) ListAppointments(ctx context.Context, businessID string, limit int) ([]model.Appointment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, business_id::text, service_id::text, client_ref, COALESCE(employee_ref, ''),
			start_time, end_time, status, cancelled_at, created_at
		FROM appointments
		WHERE business_id = $1
		ORDER BY start_time DESC
		LIMIT $2
	`, businessID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		appt, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	return appts, rows.Err()
}

// CurrentSubscription returns the user's latest subscription by creation time.
func (s *Store) CurrentSubscription(ctx context.Context, userID string) (model.Subscription, bool, error) {
	sub, err := scanSubscription(s.pool.QueryRow(ctx, `
		SELECT id::text, user_id::text, plan_name, status, trial_ends_at, renewal_at, created_at, updated_at
		FROM subscriptions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, userID))
	if err != nil {
		if IsNotFound(err) {
			return model.Subscription{}, false, nil
		}
		return model.Subscription{}, false, err
	}
	return sub, true, nil
}

// Balance sums the append-only balance entries for a business.
func (s *Store) Balance(ctx context.Context, businessID string) (int64, error) {
	var total int64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount_minor), 0)
		FROM balance_entries
		WHERE business_id = $1
	`, businessID).Scan(&total)
	return total, err
}

func getBusiness(ctx context.Context, q querier, businessID string) (model.Business, error) {
	var b model.Business
	err := q.QueryRow(ctx, `
		SELECT id::text, COALESCE(timezone, ''), COALESCE(slot_granularity_minutes, 0), auto_assign_employees
		FROM businesses
		WHERE id = $1
	`, businessID).Scan(&b.ID, &b.Timezone, &b.SlotGranularityMins, &b.AutoAssignEmployees)
	if err != nil {
		return model.Business{}, err
	}
	return b, nil
}

func getCalendar(ctx context.Context, q querier, businessID string) (schedule.Calendar, error) {
	rows, err := q.Query(ctx, `
		SELECT weekday, is_open, open_minutes, close_minutes
		FROM business_hours
		WHERE business_id = $1
		ORDER BY weekday
	`, businessID)
	if err != nil {
		return schedule.Calendar{}, err
	}
	defer rows.Close()

	var days []schedule.DaySchedule
	for rows.Next() {
		var d schedule.DaySchedule
		var weekday int
		if err := rows.Scan(&weekday, &d.IsOpen, &d.OpenMinutes, &d.CloseMinutes); err != nil {
			return schedule.Calendar{}, err
		}
		d.Weekday = time.Weekday(weekday)
		days = append(days, d)
	}
	if err := rows.Err(); err != nil {
		return schedule.Calendar{}, err
	}
	return schedule.NewCalendar(days)
}

func getService(ctx context.Context, q querier, businessID, serviceID string) (model.Service, error) {
	var svc model.Service
	err := q.QueryRow(ctx, `
		SELECT id::text, business_id::text, name, duration_minutes, price_minor, currency
		FROM services
		WHERE id = $1 AND business_id = $2
	`, serviceID, businessID).Scan(&svc.ID, &svc.BusinessID, &svc.Name, &svc.DurationMinutes, &svc.PriceMinor, &svc.Currency)
	if err != nil {
		return model.Service{}, err
	}
	return svc, nil
}

// bookedIntervals loads the intervals that occupy the agenda: appointments in
// a blocking status intersecting [from, to). employeeRef narrows to one
// employee's agenda; excludeID lets a reschedule ignore the appointment being
// moved.
func bookedIntervals(ctx context.Context, q querier, businessID, employeeRef string, from, to time.Time, excludeID string) ([]schedule.Interval, error) {
	rows, err := q.Query(ctx, `
		SELECT start_time, end_time
		FROM appointments
		WHERE business_id = $1
			AND status IN ('pending', 'confirmed', 'completed')
			AND start_time < $3
			AND end_time > $2
			AND ($4 = '' OR employee_ref = $4)
			AND ($5 = '' OR id::text <> $5)
		ORDER BY start_time
	`, businessID, from, to, employeeRef, excludeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []schedule.Interval
	for rows.Next() {
		var iv schedule.Interval
		if err := rows.Scan(&iv.Start, &iv.End); err != nil {
			return nil, err
		}
		out = append(out, iv)
	}
	return out, rows.Err()
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var appt model.Appointment
	var cancelledAt *time.Time
	var status string
	err := row.Scan(
		&appt.ID,
		&appt.BusinessID,
		&appt.ServiceID,
		&appt.ClientRef,
		&appt.EmployeeRef,
		&appt.StartTime,
		&appt.EndTime,
		&status,
		&cancelledAt,
		&appt.CreatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	appt.Status = model.Status(status)
	appt.CancelledAt = cancelledAt
	return appt, nil
}

func scanSubscription(row pgx.Row) (model.Subscription, error) {
	var sub model.Subscription
	var status string
	var trialEndsAt *time.Time
	var renewalAt *time.Time
	err := row.Scan(&sub.ID, &sub.UserID, &sub.PlanName, &status, &trialEndsAt, &renewalAt, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return model.Subscription{}, err
	}
	sub.Status = model.SubscriptionStatus(status)
	sub.TrialEndsAt = trialEndsAt
	sub.RenewalAt = renewalAt
	return sub, nil
}
