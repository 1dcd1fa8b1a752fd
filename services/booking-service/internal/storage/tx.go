package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/tmwangi/kalenda/services/booking-service/internal/model"
	"github.com/tmwangi/kalenda/services/booking-service/internal/outbox"
	"github.com/tmwangi/kalenda/services/booking-service/internal/schedule"
)

// Tx scopes every mutation of the scheduling core to one database
// transaction. Handlers and the reconciliation engine own the lifecycle:
// Begin, do work, Commit, with a deferred Rollback.
type Tx struct {
	tx pgx.Tx
}

func (t *Tx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *Tx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

// LockAgenda serializes writers for one business agenda (or one employee's
// agenda) for the remainder of the transaction, so two concurrent bookings
// cannot both pass the availability recheck.
func (t *Tx) LockAgenda(ctx context.Context, businessID, employeeRef string) error {
	_, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1), hashtext($2))`, businessID, employeeRef)
	return err
}

func (t *Tx) GetBusiness(ctx context.Context, businessID string) (model.Business, error) {
	return getBusiness(ctx, t.tx, businessID)
}

func (t *Tx) GetCalendar(ctx context.Context, businessID string) (schedule.Calendar, error) {
	return getCalendar(ctx, t.tx, businessID)
}

func (t *Tx) GetService(ctx context.Context, businessID, serviceID string) (model.Service, error) {
	return getService(ctx, t.tx, businessID, serviceID)
}

func (t *Tx) BookedIntervals(ctx context.Context, businessID, employeeRef string, from, to time.Time, excludeID string) ([]schedule.Interval, error) {
	return bookedIntervals(ctx, t.tx, businessID, employeeRef, from, to, excludeID)
}

func (t *Tx) ActiveEmployees(ctx context.Context, businessID string) ([]model.Employee, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id::text, business_id::text, name, active
		FROM employees
		WHERE business_id = $1 AND active
		ORDER BY id
	`, businessID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Employee
	for rows.Next() {
		var e model.Employee
		if err := rows.Scan(&e.ID, &e.BusinessID, &e.Name, &e.Active); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (t *Tx) InsertAppointment(ctx context.Context, appt model.Appointment) (string, error) {
	var id string
	err := t.tx.QueryRow(ctx, `
		INSERT INTO appointments (business_id, service_id, client_ref, employee_ref, start_time, end_time, status)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7)
		RETURNING id::text
	`, appt.BusinessID, appt.ServiceID, appt.ClientRef, appt.EmployeeRef, appt.StartTime, appt.EndTime, string(appt.Status)).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (t *Tx) GetAppointmentForUpdate(ctx context.Context, businessID, appointmentID string) (model.Appointment, error) {
	return scanAppointment(t.tx.QueryRow(ctx, `
		SELECT id::text, business_id::text, service_id::text, client_ref, COALESCE(employee_ref, ''),
			start_time, end_time, status, cancelled_at, created_at
		FROM appointments
		WHERE id = $1 AND business_id = $2
		FOR UPDATE
	`, appointmentID, businessID))
}

func (t *Tx) UpdateAppointmentInterval(ctx context.Context, businessID, appointmentID string, start, end time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET start_time = $3, end_time = $4, updated_at = now()
		WHERE id = $1 AND business_id = $2
	`, appointmentID, businessID, start, end)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (t *Tx) UpdateAppointmentStatus(ctx context.Context, businessID, appointmentID string, to model.Status) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET status = $3,
			cancelled_at = CASE WHEN $3 = 'cancelled' THEN now() ELSE cancelled_at END,
			updated_at = now()
		WHERE id = $1 AND business_id = $2
	`, appointmentID, businessID, string(to))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (t *Tx) InsertAppointmentAudit(ctx context.Context, rec model.AppointmentAudit) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO appointment_audit (appointment_id, business_id, actor, from_status, to_status)
		VALUES ($1, $2, $3, $4, $5)
	`, rec.AppointmentID, rec.BusinessID, rec.Actor, string(rec.FromStatus), string(rec.ToStatus))
	return err
}

// HasAppliedPayment consults the idempotency ledger.
func (t *Tx) HasAppliedPayment(ctx context.Context, externalID string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM processed_payments WHERE external_transaction_id = $1)
	`, externalID).Scan(&exists)
	return exists, err
}

// MarkPaymentApplied writes the ledger entry. The unique index on
// external_transaction_id is the authority: when a concurrent duplicate got
// there first, ErrAlreadyApplied tells the caller to roll back its effects.
func (t *Tx) MarkPaymentApplied(ctx context.Context, externalID, gateway, resultingEntityID string) error {
	tag, err := t.tx.Exec(ctx, `
		INSERT INTO processed_payments (external_transaction_id, gateway, resulting_entity_id)
		VALUES ($1, $2, NULLIF($3, ''))
		ON CONFLICT (external_transaction_id) DO NOTHING
	`, externalID, gateway, resultingEntityID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyApplied
	}
	return nil
}

func (t *Tx) InsertPayment(ctx context.Context, p model.Payment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO payments (transaction_id, gateway, business_id, appointment_id, amount_minor, fee_minor, currency, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, p.TransactionID, p.Gateway, p.BusinessID, p.AppointmentID, p.AmountMinor, p.FeeMinor, p.Currency, p.OccurredAt)
	if err != nil && IsConflict(err) {
		// Natural-key second line of defense behind the ledger.
		return ErrAlreadyApplied
	}
	return err
}

func (t *Tx) CreditBalance(ctx context.Context, entry model.BalanceEntry) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO balance_entries (business_id, amount_minor, currency, reference)
		VALUES ($1, $2, $3, $4)
	`, entry.BusinessID, entry.AmountMinor, entry.Currency, entry.Reference)
	return err
}

func (t *Tx) CurrentSubscriptionForUpdate(ctx context.Context, userID string) (model.Subscription, bool, error) {
	sub, err := scanSubscription(t.tx.QueryRow(ctx, `
		SELECT id::text, user_id::text, plan_name, status, trial_ends_at, renewal_at, created_at, updated_at
		FROM subscriptions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT 1
		FOR UPDATE
	`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Subscription{}, false, nil
		}
		return model.Subscription{}, false, err
	}
	return sub, true, nil
}

func (t *Tx) InsertSubscription(ctx context.Context, sub model.Subscription) (string, error) {
	var id string
	err := t.tx.QueryRow(ctx, `
		INSERT INTO subscriptions (user_id, plan_name, status, trial_ends_at, renewal_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id::text
	`, sub.UserID, sub.PlanName, string(sub.Status), sub.TrialEndsAt, sub.RenewalAt).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (t *Tx) UpdateSubscription(ctx context.Context, sub model.Subscription) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE subscriptions
		SET plan_name = $2, status = $3, trial_ends_at = $4, renewal_at = $5, updated_at = now()
		WHERE id = $1
	`, sub.ID, sub.PlanName, string(sub.Status), sub.TrialEndsAt, sub.RenewalAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ListLapsedSubscriptions returns subscriptions due for an expiry-sweep
// decision: trials past their end, active past renewal, pending_payment past
// the grace cutoff. SKIP LOCKED keeps concurrent sweepers from colliding.
func (t *Tx) ListLapsedSubscriptions(ctx context.Context, now time.Time, graceCutoff time.Time, limit int) ([]model.Subscription, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := t.tx.Query(ctx, `
		SELECT id::text, user_id::text, plan_name, status, trial_ends_at, renewal_at, created_at, updated_at
		FROM subscriptions
		WHERE (status = 'trial' AND trial_ends_at IS NOT NULL AND trial_ends_at < $1)
			OR (status = 'active' AND renewal_at IS NOT NULL AND renewal_at < $1)
			OR (status = 'pending_payment' AND renewal_at IS NOT NULL AND renewal_at < $2)
		ORDER BY updated_at
		LIMIT $3
		FOR UPDATE SKIP LOCKED
	`, now, graceCutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (t *Tx) InsertOutboxEvent(ctx context.Context, evt outbox.Event) error {
	return outbox.Insert(ctx, t.tx, evt)
}

type IdempotencyRecord struct {
	BusinessID      string
	IdempotencyKey  string
	AppointmentID   string
	StatusCode      int
	ResponsePayload []byte
}

// Replayable reports whether the record holds a finalized response. A claimed
// key without one belongs to a request that never finished; its caller may
// proceed.
func (r IdempotencyRecord) Replayable() bool {
	return r.StatusCode > 0
}

// LockIdempotencyKey claims an HTTP Idempotency-Key for the duration of the
// transaction. The bool reports whether the key had been seen before.
func (t *Tx) LockIdempotencyKey(ctx context.Context, businessID, key string) (IdempotencyRecord, bool, error) {
	rec, err := t.selectIdempotencyForUpdate(ctx, businessID, key)
	if err == nil {
		return rec, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return IdempotencyRecord{}, false, err
	}

	_, err = t.tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (business_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (business_id, idempotency_key) DO NOTHING
	`, businessID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}

	rec, err = t.selectIdempotencyForUpdate(ctx, businessID, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	// Losing the insert race means a concurrent request committed the key;
	// it counts as seen once that request stored its response.
	return rec, rec.Replayable(), nil
}

func (t *Tx) FinalizeIdempotency(ctx context.Context, businessID, key, appointmentID string, statusCode int, response []byte) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET appointment_id = NULLIF($3, '')::uuid,
			status_code = $4,
			response_payload = $5,
			updated_at = now()
		WHERE business_id = $1 AND idempotency_key = $2
	`, businessID, key, appointmentID, statusCode, response)
	return err
}

func (t *Tx) selectIdempotencyForUpdate(ctx context.Context, businessID, key string) (IdempotencyRecord, error) {
	var rec IdempotencyRecord
	var responseText string
	err := t.tx.QueryRow(ctx, `
		SELECT business_id::text,
			idempotency_key,
			COALESCE(appointment_id::text, ''),
			COALESCE(status_code, 0),
			COALESCE(response_payload::text, '')
		FROM booking_idempotency_keys
		WHERE business_id = $1 AND idempotency_key = $2
		FOR UPDATE
	`, businessID, key).Scan(
		&rec.BusinessID,
		&rec.IdempotencyKey,
		&rec.AppointmentID,
		&rec.StatusCode,
		&responseText,
	)
	if err != nil {
		return IdempotencyRecord{}, err
	}
	if responseText != "" {
		rec.ResponsePayload = []byte(responseText)
	}
	return rec, nil
}
