package handlers

import (
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/tmwangi/kalenda/services/booking-service/internal/payments"
)

// CardWebhook handles the card gateway's webhooks. No other auth; the Stripe
// signature is the auth.
func (h *Handler) CardWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.stripeWebhookSecret == "" {
		http.Error(w, "card webhook not configured", http.StatusServiceUnavailable)
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		http.Error(w, "missing Stripe-Signature header", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1 MiB hard cap
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	stripeEvt, err := webhook.ConstructEventWithTolerance(body, sigHeader, h.stripeWebhookSecret, h.stripeWebhookTolerance)
	if err != nil {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	evt, err := payments.NormalizeCard(stripeEvt)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.applyPaymentEvent(w, r, evt)
}

// MomoWebhook handles the mobile-money gateway's callback, authenticated by
// an HMAC signature over the raw body.
func (h *Handler) MomoWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if len(h.momoWebhookSecret) == 0 {
		http.Error(w, "momo webhook not configured", http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	if !payments.VerifyMomoSignature(body, r.Header.Get("X-Momo-Signature"), h.momoWebhookSecret) {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	evt, err := payments.NormalizeMomo(body, time.Now())
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.applyPaymentEvent(w, r, evt)
}

// applyPaymentEvent runs the engine in one transaction and maps the outcome.
// Duplicates answer 200 so the gateway stops retrying.
func (h *Handler) applyPaymentEvent(w http.ResponseWriter, r *http.Request, evt payments.PaymentEvent) {
	ctx := r.Context()

	h.logger.Info("payment webhook received",
		"gateway", evt.Gateway,
		"transaction_id", evt.ExternalTransactionID,
		"kind", string(evt.Kind),
	)

	tx, err := h.store.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	outcome, err := h.engine.Apply(ctx, tx, evt)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	switch outcome.Status {
	case payments.OutcomeApplied:
		if err := tx.Commit(ctx); err != nil {
			h.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status":    "ok",
			"entity_id": outcome.EntityID,
		})
	case payments.OutcomeUnplaced:
		// The money is recorded; 200 stops the gateway from redelivering.
		if err := tx.Commit(ctx); err != nil {
			h.writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "unplaced"})
	case payments.OutcomeAlreadyApplied:
		// Effects built up in this tx belong to the duplicate; drop them.
		_ = tx.Rollback(ctx)
		writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
	default:
		_ = tx.Rollback(ctx)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
	}
}
