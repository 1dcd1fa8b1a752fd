package model

import "time"

type SubscriptionStatus string

const (
	SubscriptionTrial          SubscriptionStatus = "trial"
	SubscriptionActive         SubscriptionStatus = "active"
	SubscriptionPendingPayment SubscriptionStatus = "pending_payment"
	SubscriptionExpired        SubscriptionStatus = "expired"
)

// Subscription is a user's plan state. The "current" subscription for a user
// is the latest by creation time.
type Subscription struct {
	ID          string
	UserID      string
	PlanName    string
	Status      SubscriptionStatus
	TrialEndsAt *time.Time
	RenewalAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
