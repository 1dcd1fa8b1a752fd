// Package payments turns gateway webhook payloads into normalized payment
// events and applies them exactly once.
package payments

import "time"

// Kind classifies what a payment pays for.
type Kind string

const (
	KindAppointment  Kind = "appointment"
	KindSubscription Kind = "subscription"
	// KindIgnored covers failures, refunds and event types the engine does
	// not act on. Ignored events produce no writes at all.
	KindIgnored Kind = "ignored"
)

// PaymentEvent is the gateway-neutral shape every webhook is normalized into
// before the engine sees it. Raw gateway payloads never leave the normalizer.
type PaymentEvent struct {
	Gateway               string
	ExternalTransactionID string
	Kind                  Kind
	AmountMinor           int64
	Currency              string
	OccurredAt            time.Time
	Meta                  map[string]string
}

type OutcomeStatus string

const (
	OutcomeApplied        OutcomeStatus = "applied"
	OutcomeAlreadyApplied OutcomeStatus = "already_applied"
	OutcomeIgnored        OutcomeStatus = "ignored"
	// OutcomeUnplaced means the payment settled but its appointment could
	// not be placed. The money is recorded and the event parked for manual
	// resolution; the gateway must not redeliver.
	OutcomeUnplaced OutcomeStatus = "unplaced"
)

// Outcome reports what Apply did. EntityID is the appointment or subscription
// the payment resolved to, when one exists.
type Outcome struct {
	Status   OutcomeStatus
	EntityID string
}
