package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tmwangi/kalenda/services/booking-service/internal/availability"
	"github.com/tmwangi/kalenda/services/booking-service/internal/booking"
	"github.com/tmwangi/kalenda/services/booking-service/internal/model"
	"github.com/tmwangi/kalenda/services/booking-service/internal/outbox"
)

type createAppointmentRequest struct {
	BusinessID  string `json:"business_id"`
	ServiceID   string `json:"service_id"`
	ClientRef   string `json:"client_ref"`
	EmployeeRef string `json:"employee_ref"`
	StartTime   string `json:"start_time"`
}

type createAppointmentResponse struct {
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
}

type rescheduleRequest struct {
	BusinessID    string `json:"business_id"`
	AppointmentID string `json:"appointment_id"`
	NewStartTime  string `json:"new_start_time"`
}

type transitionRequest struct {
	BusinessID    string `json:"business_id"`
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
	Actor         string `json:"actor"`
	Force         bool   `json:"force"`
}

type appointmentItem struct {
	AppointmentID string `json:"appointment_id"`
	ServiceID     string `json:"service_id"`
	ClientRef     string `json:"client_ref"`
	EmployeeRef   string `json:"employee_ref,omitempty"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	Status        string `json:"status"`
	CancelledAt   string `json:"cancelled_at,omitempty"`
	CreatedAt     string `json:"created_at"`
}

// Slots returns the availability grid for one business day.
func (h *Handler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	slots, err := h.avail.GetAvailableSlots(r.Context(), availability.SlotsRequest{
		BusinessID:           strings.TrimSpace(q.Get("business_id")),
		ServiceID:            strings.TrimSpace(q.Get("service_id")),
		Date:                 strings.TrimSpace(q.Get("date")),
		EmployeeRef:          strings.TrimSpace(q.Get("employee_ref")),
		ExcludeAppointmentID: strings.TrimSpace(q.Get("exclude_appointment_id")),
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, slots)
}

// Create books a pending appointment. An Idempotency-Key header makes the
// request replayable: a replay returns the stored response instead of booking
// twice.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.BusinessID = strings.TrimSpace(req.BusinessID)
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	req.ClientRef = strings.TrimSpace(req.ClientRef)
	req.EmployeeRef = strings.TrimSpace(req.EmployeeRef)

	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.store.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idempotencyKey != "" {
		rec, exists, err := tx.LockIdempotencyKey(ctx, req.BusinessID, idempotencyKey)
		if err != nil {
			http.Error(w, "failed to lock idempotency key", http.StatusInternalServerError)
			return
		}
		if exists && rec.Replayable() {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(rec.StatusCode)
			_, _ = w.Write(rec.ResponsePayload)
			return
		}
	}

	svc, err := tx.GetService(ctx, req.BusinessID, req.ServiceID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if err := h.avail.CheckWithinHours(ctx, req.BusinessID, start, start.Add(svc.Duration())); err != nil {
		h.writeDomainError(w, err)
		return
	}

	appt, err := h.writer.Create(ctx, tx, booking.CreateRequest{
		BusinessID:  req.BusinessID,
		ServiceID:   req.ServiceID,
		ClientRef:   req.ClientRef,
		EmployeeRef: req.EmployeeRef,
		Start:       start,
		Duration:    svc.Duration(),
		Status:      model.StatusPending,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	evtPayload, err := json.Marshal(map[string]any{
		"appointment_id": appt.ID,
		"business_id":    appt.BusinessID,
		"service_id":     appt.ServiceID,
		"client_ref":     appt.ClientRef,
		"employee_ref":   appt.EmployeeRef,
		"start_time":     appt.StartTime.UTC().Format(time.RFC3339),
		"end_time":       appt.EndTime.UTC().Format(time.RFC3339),
	})
	if err != nil {
		http.Error(w, "failed to build event payload", http.StatusInternalServerError)
		return
	}
	if err := tx.InsertOutboxEvent(ctx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     "booking.appointment.booked.v1",
		Payload:       evtPayload,
	}); err != nil {
		http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
		return
	}

	respBody, err := json.Marshal(createAppointmentResponse{
		AppointmentID: appt.ID,
		Status:        string(appt.Status),
		StartTime:     appt.StartTime.UTC().Format(time.RFC3339),
		EndTime:       appt.EndTime.UTC().Format(time.RFC3339),
	})
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	if idempotencyKey != "" {
		if err := tx.FinalizeIdempotency(ctx, req.BusinessID, idempotencyKey, appt.ID, http.StatusCreated, respBody); err != nil {
			http.Error(w, "failed to finalize idempotency key", http.StatusInternalServerError)
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		h.writeDomainError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(respBody)
}

// Reschedule moves an appointment to a new start time of the same length.
func (h *Handler) Reschedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	newStart, err := time.Parse(time.RFC3339, req.NewStartTime)
	if err != nil {
		http.Error(w, "invalid new_start_time", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.store.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := h.writer.Reschedule(ctx, tx, booking.RescheduleRequest{
		BusinessID:    strings.TrimSpace(req.BusinessID),
		AppointmentID: strings.TrimSpace(req.AppointmentID),
		NewStart:      newStart,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		h.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, createAppointmentResponse{
		AppointmentID: appt.ID,
		Status:        string(appt.Status),
		StartTime:     appt.StartTime.UTC().Format(time.RFC3339),
		EndTime:       appt.EndTime.UTC().Format(time.RFC3339),
	})
}

// Cancel is a status transition, never a delete.
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(req *transitionRequest) {
		req.Status = string(model.StatusCancelled)
		req.Force = false
	})
}

// Transition applies an explicit status change; force=true lets an admin
// bypass the state machine with an audit trail.
func (h *Handler) Transition(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, nil)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, override func(*transitionRequest)) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if override != nil {
		override(&req)
	}
	req.BusinessID = strings.TrimSpace(req.BusinessID)
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.BusinessID == "" || req.AppointmentID == "" {
		http.Error(w, "business_id and appointment_id required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.store.Begin(ctx)
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := h.writer.Transition(ctx, tx, booking.TransitionRequest{
		BusinessID:    req.BusinessID,
		AppointmentID: req.AppointmentID,
		To:            model.Status(req.Status),
		Actor:         strings.TrimSpace(req.Actor),
		Force:         req.Force,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	// Confirmation and cancellation fan out to notifications.
	var eventType string
	switch appt.Status {
	case model.StatusConfirmed:
		eventType = "booking.appointment.confirmed.v1"
	case model.StatusCancelled:
		eventType = "booking.appointment.cancelled.v1"
	}
	if eventType != "" {
		evtPayload, err := json.Marshal(map[string]any{
			"appointment_id": appt.ID,
			"business_id":    appt.BusinessID,
			"service_id":     appt.ServiceID,
			"client_ref":     appt.ClientRef,
			"employee_ref":   appt.EmployeeRef,
			"start_time":     appt.StartTime.UTC().Format(time.RFC3339),
			"end_time":       appt.EndTime.UTC().Format(time.RFC3339),
			"status":         string(appt.Status),
		})
		if err != nil {
			http.Error(w, "failed to build event payload", http.StatusInternalServerError)
			return
		}
		if err := tx.InsertOutboxEvent(ctx, outbox.Event{
			AggregateType: "appointment",
			AggregateID:   appt.ID,
			EventType:     eventType,
			Payload:       evtPayload,
		}); err != nil {
			http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"appointment_id": appt.ID,
		"status":         string(appt.Status),
	})
}

// List returns a business's appointments, newest first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	businessID := strings.TrimSpace(r.URL.Query().Get("business_id"))
	if businessID == "" {
		http.Error(w, "business_id required", http.StatusBadRequest)
		return
	}
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	appts, err := h.store.ListAppointments(r.Context(), businessID, limit)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	items := make([]appointmentItem, 0, len(appts))
	for _, appt := range appts {
		item := appointmentItem{
			AppointmentID: appt.ID,
			ServiceID:     appt.ServiceID,
			ClientRef:     appt.ClientRef,
			EmployeeRef:   appt.EmployeeRef,
			StartTime:     appt.StartTime.UTC().Format(time.RFC3339),
			EndTime:       appt.EndTime.UTC().Format(time.RFC3339),
			Status:        string(appt.Status),
			CreatedAt:     appt.CreatedAt.UTC().Format(time.RFC3339),
		}
		if appt.CancelledAt != nil {
			item.CancelledAt = appt.CancelledAt.UTC().Format(time.RFC3339)
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, items)
}
