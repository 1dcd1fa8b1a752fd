// Package subscriptions encapsulates subscription state transitions and their
// side effects (outbox events). Keeping this out of HTTP handlers makes it
// reusable for both webhook reconciliation and the expiry sweep.
package subscriptions

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/tmwangi/kalenda/services/booking-service/internal/model"
	"github.com/tmwangi/kalenda/services/booking-service/internal/outbox"
)

// Tx is the transactional surface the service needs. *storage.Tx satisfies it.
type Tx interface {
	CurrentSubscriptionForUpdate(ctx context.Context, userID string) (model.Subscription, bool, error)
	InsertSubscription(ctx context.Context, sub model.Subscription) (string, error)
	UpdateSubscription(ctx context.Context, sub model.Subscription) error
	InsertOutboxEvent(ctx context.Context, evt outbox.Event) error
}

type Service struct {
	logger *slog.Logger
	// billingPeriodMonths is how far one successful payment pushes the
	// renewal date.
	billingPeriodMonths int
}

func NewService(logger *slog.Logger, billingPeriodMonths int) *Service {
	if billingPeriodMonths <= 0 {
		billingPeriodMonths = 1
	}
	return &Service{logger: logger, billingPeriodMonths: billingPeriodMonths}
}

type PaymentApplied struct {
	UserID     string
	PlanName   string
	OccurredAt time.Time
}

// ApplyPayment activates or extends the user's current subscription inside the
// caller's transaction and returns the subscription id.
//
// An existing subscription is extended from its renewal date when that date is
// still in the future, otherwise from the payment time; a user with no
// subscription gets a fresh active one.
func (s *Service) ApplyPayment(ctx context.Context, tx Tx, p PaymentApplied) (string, error) {
	existing, ok, err := tx.CurrentSubscriptionForUpdate(ctx, p.UserID)
	if err != nil {
		return "", err
	}

	var sub model.Subscription
	if ok {
		base := p.OccurredAt
		if existing.RenewalAt != nil && existing.RenewalAt.After(base) {
			base = *existing.RenewalAt
		}
		renewal := base.AddDate(0, s.billingPeriodMonths, 0)

		sub = existing
		sub.Status = model.SubscriptionActive
		sub.RenewalAt = &renewal
		if p.PlanName != "" {
			sub.PlanName = p.PlanName
		}
		if err := tx.UpdateSubscription(ctx, sub); err != nil {
			return "", err
		}
	} else {
		renewal := p.OccurredAt.AddDate(0, s.billingPeriodMonths, 0)
		sub = model.Subscription{
			UserID:    p.UserID,
			PlanName:  p.PlanName,
			Status:    model.SubscriptionActive,
			RenewalAt: &renewal,
		}
		id, err := tx.InsertSubscription(ctx, sub)
		if err != nil {
			return "", err
		}
		sub.ID = id
	}

	payload, err := json.Marshal(map[string]any{
		"subscription_id": sub.ID,
		"user_id":         p.UserID,
		"plan_name":       sub.PlanName,
		"renewal_at":      sub.RenewalAt.UTC().Format(time.RFC3339),
		"activated_at":    p.OccurredAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", err
	}
	if err := tx.InsertOutboxEvent(ctx, outbox.Event{
		AggregateType: "subscription",
		AggregateID:   sub.ID,
		EventType:     "billing.subscription.activated.v1",
		Payload:       payload,
	}); err != nil {
		return "", err
	}

	s.logger.Info("subscription activated",
		"subscription_id", sub.ID,
		"user_id", p.UserID,
		"plan_name", sub.PlanName,
	)
	return sub.ID, nil
}
