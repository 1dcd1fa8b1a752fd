package booking

import (
	"fmt"
	"time"

	"github.com/tmwangi/kalenda/services/booking-service/internal/model"
)

// ValidationError rejects a malformed request. Never retried automatically.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

func Invalid(field, msg string) *ValidationError {
	return &ValidationError{Field: field, Msg: msg}
}

// ConflictError means the requested interval is no longer available. The
// caller re-selects a slot; the core never silently picks another one.
type ConflictError struct {
	Start time.Time
	End   time.Time
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("slot %s-%s is no longer available",
		e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339))
}

// OutsideHoursError rejects an interval that falls outside the business's
// working hours.
type OutsideHoursError struct {
	Start time.Time
	End   time.Time
}

func (e *OutsideHoursError) Error() string {
	return fmt.Sprintf("interval %s-%s is outside business hours",
		e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339))
}

// InvalidTransitionError rejects a status change the state machine does not
// allow; the original status is preserved.
type InvalidTransitionError struct {
	From model.Status
	To   model.Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("status transition %s -> %s is not allowed", e.From, e.To)
}
