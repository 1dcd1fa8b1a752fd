package handlers

import (
	"net/http"
	"strings"
	"time"
)

type subscriptionResponse struct {
	SubscriptionID string `json:"subscription_id"`
	UserID         string `json:"user_id"`
	PlanName       string `json:"plan_name"`
	Status         string `json:"status"`
	TrialEndsAt    string `json:"trial_ends_at,omitempty"`
	RenewalAt      string `json:"renewal_at,omitempty"`
}

// Subscription returns the user's current subscription (latest by creation).
func (h *Handler) Subscription(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	if userID == "" {
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}

	sub, ok, err := h.store.CurrentSubscription(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if !ok {
		http.Error(w, "no subscription", http.StatusNotFound)
		return
	}

	resp := subscriptionResponse{
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		PlanName:       sub.PlanName,
		Status:         string(sub.Status),
	}
	if sub.TrialEndsAt != nil {
		resp.TrialEndsAt = sub.TrialEndsAt.UTC().Format(time.RFC3339)
	}
	if sub.RenewalAt != nil {
		resp.RenewalAt = sub.RenewalAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Balance returns a business's settled balance, the sum of its credit entries.
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	businessID := strings.TrimSpace(r.URL.Query().Get("business_id"))
	if businessID == "" {
		http.Error(w, "business_id required", http.StatusBadRequest)
		return
	}

	balance, err := h.store.Balance(r.Context(), businessID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"business_id":   businessID,
		"balance_minor": balance,
	})
}
