package subscriptions

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/tmwangi/kalenda/libs/db"
	"github.com/tmwangi/kalenda/services/booking-service/internal/model"
	"github.com/tmwangi/kalenda/services/booking-service/internal/outbox"
	"github.com/tmwangi/kalenda/services/booking-service/internal/storage"
)

// Sweeper demotes subscriptions whose paid-for period has lapsed: active past
// renewal go to pending_payment, trials past their end and pending_payment
// past the grace period expire.
type Sweeper struct {
	pool        *db.Pool
	store       *storage.Store
	logger      *slog.Logger
	grace       time.Duration
	batchSize   int
	advisoryKey int64
	now         func() time.Time
}

type SweeperConfig struct {
	Grace           time.Duration
	BatchSize       int
	AdvisoryLockKey int64
}

func NewSweeper(pool *db.Pool, store *storage.Store, logger *slog.Logger, cfg SweeperConfig) *Sweeper {
	grace := cfg.Grace
	if grace <= 0 {
		grace = 72 * time.Hour
	}
	bs := cfg.BatchSize
	if bs <= 0 {
		bs = 100
	}
	lockKey := cfg.AdvisoryLockKey
	if lockKey == 0 {
		// Stable-ish default; override via env if you run multiple instances.
		lockKey = 7214002
	}
	return &Sweeper{
		pool:        pool,
		store:       store,
		logger:      logger,
		grace:       grace,
		batchSize:   bs,
		advisoryKey: lockKey,
		now:         time.Now,
	}
}

func (s *Sweeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	// Best-effort leader election for multi-instance deployments. Only the
	// instance holding the advisory lock sweeps.
	for {
		if ctx.Err() != nil {
			return
		}
		var locked bool
		if err := s.pool.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, s.advisoryKey).Scan(&locked); err != nil {
			s.logger.Error("subscription sweep: failed to acquire advisory lock", "err", err)
			time.Sleep(5 * time.Second)
			continue
		}
		if !locked {
			s.logger.Info("subscription sweep: advisory lock held by another instance", "lock_key", s.advisoryKey)
			time.Sleep(30 * time.Second)
			continue
		}
		s.logger.Info("subscription sweep: advisory lock acquired", "lock_key", s.advisoryKey)
		defer func() {
			_, _ = s.pool.Exec(context.Background(), `SELECT pg_advisory_unlock($1)`, s.advisoryKey)
		}()
		break
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run immediately on startup to self-heal faster after downtime.
	s.sweepOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	now := s.now().UTC()

	tx, err := s.store.Begin(ctx)
	if err != nil {
		s.logger.Error("subscription sweep: db begin failed", "err", err)
		return
	}
	defer tx.Rollback(ctx)

	lapsed, err := tx.ListLapsedSubscriptions(ctx, now, now.Add(-s.grace), s.batchSize)
	if err != nil {
		s.logger.Error("subscription sweep: failed to list subscriptions", "err", err)
		return
	}
	if len(lapsed) == 0 {
		return
	}

	var demoted, expired int
	for _, sub := range lapsed {
		next, ok := nextState(sub, now, s.grace)
		if !ok {
			continue
		}
		sub.Status = next
		if err := tx.UpdateSubscription(ctx, sub); err != nil {
			s.logger.Error("subscription sweep: update failed", "err", err, "subscription_id", sub.ID)
			return
		}
		if next == model.SubscriptionExpired {
			expired++
			payload, err := json.Marshal(map[string]any{
				"subscription_id": sub.ID,
				"user_id":         sub.UserID,
				"plan_name":       sub.PlanName,
				"expired_at":      now.Format(time.RFC3339),
			})
			if err != nil {
				s.logger.Error("subscription sweep: marshal failed", "err", err)
				return
			}
			if err := tx.InsertOutboxEvent(ctx, outbox.Event{
				AggregateType: "subscription",
				AggregateID:   sub.ID,
				EventType:     "billing.subscription.expired.v1",
				Payload:       payload,
			}); err != nil {
				s.logger.Error("subscription sweep: outbox insert failed", "err", err)
				return
			}
		} else {
			demoted++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		s.logger.Error("subscription sweep: commit failed", "err", err)
		return
	}
	s.logger.Info("subscription sweep complete",
		"checked", len(lapsed), "pending_payment", demoted, "expired", expired)
}

// nextState decides one subscription's sweep transition. False means the
// subscription is not due and must not be written.
func nextState(sub model.Subscription, now time.Time, grace time.Duration) (model.SubscriptionStatus, bool) {
	switch sub.Status {
	case model.SubscriptionTrial:
		if sub.TrialEndsAt != nil && sub.TrialEndsAt.Before(now) {
			return model.SubscriptionExpired, true
		}
	case model.SubscriptionActive:
		if sub.RenewalAt != nil && sub.RenewalAt.Before(now) {
			return model.SubscriptionPendingPayment, true
		}
	case model.SubscriptionPendingPayment:
		if sub.RenewalAt != nil && sub.RenewalAt.Before(now.Add(-grace)) {
			return model.SubscriptionExpired, true
		}
	}
	return "", false
}
