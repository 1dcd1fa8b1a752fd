package model

import "time"

// Payment is the durable record of a settled appointment payment.
// TransactionID is the gateway's external identifier and is unique, which
// backs up the idempotency ledger with a natural key.
type Payment struct {
	TransactionID string
	Gateway       string
	BusinessID    string
	AppointmentID string
	AmountMinor   int64
	FeeMinor      int64
	Currency      string
	OccurredAt    time.Time
}

// BalanceEntry credits a business's balance. Entries are append-only; the
// balance is the sum.
type BalanceEntry struct {
	BusinessID  string
	AmountMinor int64
	Currency    string
	Reference   string
}

// AppointmentAudit records a status change that bypassed the normal state
// machine (admin override). Normal transitions are not audited here.
type AppointmentAudit struct {
	AppointmentID string
	BusinessID    string
	Actor         string
	FromStatus    Status
	ToStatus      Status
}
