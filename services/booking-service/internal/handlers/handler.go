// Package handlers exposes the booking core over HTTP. Handlers own the
// transaction lifecycle: one request is one transaction, committed only when
// every effect inside it succeeded.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tmwangi/kalenda/services/booking-service/internal/availability"
	"github.com/tmwangi/kalenda/services/booking-service/internal/booking"
	"github.com/tmwangi/kalenda/services/booking-service/internal/payments"
	"github.com/tmwangi/kalenda/services/booking-service/internal/storage"
)

type Handler struct {
	store  *storage.Store
	writer *booking.Writer
	engine *payments.Engine
	avail  *availability.Service
	logger *slog.Logger

	stripeWebhookSecret    string
	stripeWebhookTolerance time.Duration
	momoWebhookSecret      []byte
}

type Config struct {
	StripeWebhookSecret           string
	StripeWebhookToleranceSeconds int
	MomoWebhookSecret             string
}

func New(store *storage.Store, writer *booking.Writer, engine *payments.Engine, avail *availability.Service, logger *slog.Logger, cfg Config) *Handler {
	tolSeconds := cfg.StripeWebhookToleranceSeconds
	if tolSeconds <= 0 {
		tolSeconds = 300
	}
	return &Handler{
		store:                  store,
		writer:                 writer,
		engine:                 engine,
		avail:                  avail,
		logger:                 logger,
		stripeWebhookSecret:    strings.TrimSpace(cfg.StripeWebhookSecret),
		stripeWebhookTolerance: time.Duration(tolSeconds) * time.Second,
		momoWebhookSecret:      []byte(strings.TrimSpace(cfg.MomoWebhookSecret)),
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDomainError maps core errors to HTTP statuses: validation and
// out-of-hours intervals 400, slot conflicts and illegal transitions 409,
// unknown rows 404, the rest 500.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	var vErr *booking.ValidationError
	var hErr *booking.OutsideHoursError
	var cErr *booking.ConflictError
	var tErr *booking.InvalidTransitionError
	switch {
	case errors.As(err, &vErr):
		http.Error(w, vErr.Error(), http.StatusBadRequest)
	case errors.As(err, &hErr):
		http.Error(w, "outside business hours", http.StatusBadRequest)
	case errors.As(err, &cErr):
		http.Error(w, "time slot already booked", http.StatusConflict)
	case errors.As(err, &tErr):
		http.Error(w, tErr.Error(), http.StatusConflict)
	case storage.IsNotFound(err):
		http.Error(w, "not found", http.StatusNotFound)
	case storage.IsConflict(err):
		http.Error(w, "time slot already booked", http.StatusConflict)
	default:
		h.logger.Error("request failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
