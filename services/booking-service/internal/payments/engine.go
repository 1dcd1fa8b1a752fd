package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tmwangi/kalenda/services/booking-service/internal/booking"
	"github.com/tmwangi/kalenda/services/booking-service/internal/model"
	"github.com/tmwangi/kalenda/services/booking-service/internal/outbox"
	"github.com/tmwangi/kalenda/services/booking-service/internal/schedule"
	"github.com/tmwangi/kalenda/services/booking-service/internal/storage"
	"github.com/tmwangi/kalenda/services/booking-service/internal/subscriptions"
)

// Tx is everything the engine touches in one transaction. *storage.Tx
// satisfies it; the booking and subscription surfaces are embedded so their
// services run inside the same transaction as the ledger.
type Tx interface {
	booking.Tx
	subscriptions.Tx

	GetService(ctx context.Context, businessID, serviceID string) (model.Service, error)
	ActiveEmployees(ctx context.Context, businessID string) ([]model.Employee, error)

	HasAppliedPayment(ctx context.Context, externalID string) (bool, error)
	MarkPaymentApplied(ctx context.Context, externalID, gateway, resultingEntityID string) error
	InsertPayment(ctx context.Context, p model.Payment) error
	CreditBalance(ctx context.Context, entry model.BalanceEntry) error
}

// Engine applies normalized payment events exactly once. The caller owns the
// transaction: commit on OutcomeApplied and OutcomeUnplaced, roll back
// everything else.
type Engine struct {
	writer *booking.Writer
	subs   *subscriptions.Service
	logger *slog.Logger
	// feeBasisPoints is the platform's cut of each appointment payment.
	feeBasisPoints int64
}

func NewEngine(writer *booking.Writer, subs *subscriptions.Service, logger *slog.Logger, feeBasisPoints int64) *Engine {
	if feeBasisPoints < 0 || feeBasisPoints > 10000 {
		feeBasisPoints = 0
	}
	return &Engine{writer: writer, subs: subs, logger: logger, feeBasisPoints: feeBasisPoints}
}

// Apply runs one payment event to completion inside tx.
//
// The ledger is checked up front to short-circuit replays, and written last
// with ON CONFLICT DO NOTHING: losing that insert means a concurrent
// duplicate committed first, so the outcome is AlreadyApplied and the caller
// must roll back the effects built up in this transaction.
func (e *Engine) Apply(ctx context.Context, tx Tx, evt PaymentEvent) (Outcome, error) {
	if evt.Kind == KindIgnored {
		e.logger.Info("payment event ignored",
			"gateway", evt.Gateway,
			"transaction_id", evt.ExternalTransactionID,
		)
		return Outcome{Status: OutcomeIgnored}, nil
	}

	applied, err := tx.HasAppliedPayment(ctx, evt.ExternalTransactionID)
	if err != nil {
		return Outcome{}, err
	}
	if applied {
		e.logger.Info("payment event already applied",
			"gateway", evt.Gateway,
			"transaction_id", evt.ExternalTransactionID,
		)
		return Outcome{Status: OutcomeAlreadyApplied}, nil
	}

	var entityID string
	status := OutcomeApplied
	switch evt.Kind {
	case KindAppointment:
		entityID, err = e.applyAppointment(ctx, tx, evt)
		var conflictErr *booking.ConflictError
		var hoursErr *booking.OutsideHoursError
		if errors.As(err, &conflictErr) || errors.As(err, &hoursErr) {
			// The money already settled; record it and park the event
			// instead of failing the webhook.
			entityID, err = e.parkUnplaced(ctx, tx, evt, err.Error())
			status = OutcomeUnplaced
		}
	case KindSubscription:
		entityID, err = e.applySubscription(ctx, tx, evt)
	default:
		return Outcome{}, fmt.Errorf("unknown payment kind %q", evt.Kind)
	}
	if err != nil {
		if errors.Is(err, storage.ErrAlreadyApplied) {
			return Outcome{Status: OutcomeAlreadyApplied}, nil
		}
		return Outcome{}, err
	}

	if err := tx.MarkPaymentApplied(ctx, evt.ExternalTransactionID, evt.Gateway, entityID); err != nil {
		if errors.Is(err, storage.ErrAlreadyApplied) {
			return Outcome{Status: OutcomeAlreadyApplied}, nil
		}
		return Outcome{}, err
	}

	e.logger.Info("payment applied",
		"gateway", evt.Gateway,
		"transaction_id", evt.ExternalTransactionID,
		"kind", string(evt.Kind),
		"outcome", string(status),
		"entity_id", entityID,
	)
	return Outcome{Status: status, EntityID: entityID}, nil
}

func (e *Engine) applyAppointment(ctx context.Context, tx Tx, evt PaymentEvent) (string, error) {
	businessID := evt.Meta["business_id"]
	clientRef := evt.Meta["client_ref"]
	serviceID := evt.Meta["service_id"]
	if businessID == "" {
		return "", booking.Invalid("business_id", "required in payment metadata")
	}
	if clientRef == "" {
		return "", booking.Invalid("client_ref", "required in payment metadata")
	}

	biz, err := tx.GetBusiness(ctx, businessID)
	if err != nil {
		return "", err
	}
	svc, err := tx.GetService(ctx, businessID, serviceID)
	if err != nil {
		return "", err
	}

	start, err := time.ParseInLocation("2006-01-02 15:04",
		evt.Meta["appointment_date"]+" "+evt.Meta["appointment_time"], biz.Location())
	if err != nil {
		return "", booking.Invalid("appointment_time", "unparseable date/time in payment metadata")
	}

	employeeRef := evt.Meta["employee_ref"]
	if employeeRef == "" && biz.AutoAssignEmployees {
		employeeRef, err = e.autoAssign(ctx, tx, businessID,
			schedule.Interval{Start: start, End: start.Add(svc.Duration())})
		if err != nil {
			return "", err
		}
	}

	// A paid slot is confirmed directly, no pending step.
	appt, err := e.writer.Create(ctx, tx, booking.CreateRequest{
		BusinessID:  businessID,
		ServiceID:   serviceID,
		ClientRef:   clientRef,
		EmployeeRef: employeeRef,
		Start:       start,
		Duration:    svc.Duration(),
		Status:      model.StatusConfirmed,
	})
	if err != nil {
		return "", err
	}

	fee := evt.AmountMinor * e.feeBasisPoints / 10000
	if err := tx.InsertPayment(ctx, model.Payment{
		TransactionID: evt.ExternalTransactionID,
		Gateway:       evt.Gateway,
		BusinessID:    businessID,
		AppointmentID: appt.ID,
		AmountMinor:   evt.AmountMinor,
		FeeMinor:      fee,
		Currency:      evt.Currency,
		OccurredAt:    evt.OccurredAt,
	}); err != nil {
		return "", err
	}
	if err := tx.CreditBalance(ctx, model.BalanceEntry{
		BusinessID:  businessID,
		AmountMinor: evt.AmountMinor - fee,
		Currency:    evt.Currency,
		Reference:   evt.ExternalTransactionID,
	}); err != nil {
		return "", err
	}

	payload, err := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"business_id":    businessID,
		"client_ref":     clientRef,
		"service_id":     serviceID,
		"employee_ref":   employeeRef,
		"start_time":     appt.StartTime.UTC().Format(time.RFC3339),
		"end_time":       appt.EndTime.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", err
	}
	if err := tx.InsertOutboxEvent(ctx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     "booking.appointment.confirmed.v1",
		Payload:       payload,
	}); err != nil {
		return "", err
	}
	return appt.ID, nil
}

// parkUnplaced records a settled payment whose appointment could not be
// placed: the payment row and balance credit are written as usual, but no
// appointment is created and an unplaced event is queued for manual
// resolution.
func (e *Engine) parkUnplaced(ctx context.Context, tx Tx, evt PaymentEvent, reason string) (string, error) {
	businessID := evt.Meta["business_id"]
	fee := evt.AmountMinor * e.feeBasisPoints / 10000
	if err := tx.InsertPayment(ctx, model.Payment{
		TransactionID: evt.ExternalTransactionID,
		Gateway:       evt.Gateway,
		BusinessID:    businessID,
		AmountMinor:   evt.AmountMinor,
		FeeMinor:      fee,
		Currency:      evt.Currency,
		OccurredAt:    evt.OccurredAt,
	}); err != nil {
		return "", err
	}
	if err := tx.CreditBalance(ctx, model.BalanceEntry{
		BusinessID:  businessID,
		AmountMinor: evt.AmountMinor - fee,
		Currency:    evt.Currency,
		Reference:   evt.ExternalTransactionID,
	}); err != nil {
		return "", err
	}

	payload, err := json.Marshal(map[string]any{
		"transaction_id": evt.ExternalTransactionID,
		"business_id":    businessID,
		"client_ref":     evt.Meta["client_ref"],
		"service_id":     evt.Meta["service_id"],
		"reason":         reason,
	})
	if err != nil {
		return "", err
	}
	if err := tx.InsertOutboxEvent(ctx, outbox.Event{
		AggregateType: "payment",
		AggregateID:   evt.ExternalTransactionID,
		EventType:     "booking.appointment.unplaced.v1",
		Payload:       payload,
	}); err != nil {
		return "", err
	}

	e.logger.Warn("paid appointment could not be placed",
		"gateway", evt.Gateway,
		"transaction_id", evt.ExternalTransactionID,
		"business_id", businessID,
		"reason", reason,
	)
	return "", nil
}

func (e *Engine) applySubscription(ctx context.Context, tx Tx, evt PaymentEvent) (string, error) {
	userID := evt.Meta["user_id"]
	if userID == "" {
		return "", booking.Invalid("user_id", "required in payment metadata")
	}
	return e.subs.ApplyPayment(ctx, tx, subscriptions.PaymentApplied{
		UserID:     userID,
		PlanName:   evt.Meta["plan"],
		OccurredAt: evt.OccurredAt,
	})
}

// autoAssign picks the first active employee (by id) free over the interval.
// When everyone is busy the first employee is proposed and the writer's
// conflict check fails the create, which parks the payment; a business with
// no employees books unassigned.
func (e *Engine) autoAssign(ctx context.Context, tx Tx, businessID string, ival schedule.Interval) (string, error) {
	employees, err := tx.ActiveEmployees(ctx, businessID)
	if err != nil {
		return "", err
	}
	if len(employees) == 0 {
		return "", nil
	}
	for _, emp := range employees {
		busy, err := tx.BookedIntervals(ctx, businessID, emp.ID, ival.Start, ival.End, "")
		if err != nil {
			return "", err
		}
		if schedule.IsAvailable(ival, busy) {
			return emp.ID, nil
		}
	}
	return employees[0].ID, nil
}
