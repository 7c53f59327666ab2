package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/booking"
	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/lifecycle"
	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/model"
)

// Slots lists the day's candidate starts. The bearer token is optional; when
// present the same-day rule is checked for its subject.
func (h *Handler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	day, err := time.Parse("2006-01-02", strings.TrimSpace(q.Get("date")))
	if err != nil {
		http.Error(w, "date must be YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	query := booking.SlotQuery{
		Date:       day,
		ServiceID:  strings.TrimSpace(q.Get("service_id")),
		Room:       strings.TrimSpace(q.Get("room")),
		EmployeeID: strings.TrimSpace(q.Get("employee_id")),
	}
	if a, ok := h.actor(r); ok {
		query.CustomerID = a.ID
		query.Privileged = a.Privileged
	}
	res, err := h.svc.Slots(r.Context(), query)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type createRequest struct {
	Customer        model.Customer      `json:"customer"`
	ServiceID       string              `json:"service_id"`
	EmployeeID      string              `json:"employee_id"`
	Start           string              `json:"start"`
	PaymentMethod   model.PaymentMethod `json:"payment_method"`
	PartialFraction decimal.Decimal     `json:"partial_fraction"`
	WalkIn          bool                `json:"walk_in"`
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	var req createRequest
	if !decode(w, r, &req) {
		return
	}
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(req.Start))
	if err != nil {
		http.Error(w, "invalid start", http.StatusBadRequest)
		return
	}
	req.Customer.Name = strings.TrimSpace(req.Customer.Name)
	appt, err := h.svc.Book(r.Context(), booking.BookRequest{
		Customer:        req.Customer,
		ServiceID:       strings.TrimSpace(req.ServiceID),
		EmployeeID:      strings.TrimSpace(req.EmployeeID),
		Start:           start,
		PaymentMethod:   req.PaymentMethod,
		PartialFraction: req.PartialFraction,
		WalkIn:          req.WalkIn,
	}, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, appt)
}

type idRequest struct {
	AppointmentID string `json:"appointment_id"`
}

type confirmRequest struct {
	AppointmentID string `json:"appointment_id"`
	Present       *bool  `json:"present"`
}

// Confirm toggles attendance. Omitting present marks the customer present.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	var req confirmRequest
	if !decode(w, r, &req) || !requireID(w, req.AppointmentID) {
		return
	}
	present := req.Present == nil || *req.Present
	appt, err := h.svc.ConfirmAttendance(r.Context(), req.AppointmentID, present, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	var req idRequest
	if !decode(w, r, &req) || !requireID(w, req.AppointmentID) {
		return
	}
	appt, err := h.svc.Cancel(r.Context(), req.AppointmentID, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

type rescheduleRequest struct {
	AppointmentID string `json:"appointment_id"`
	Start         string `json:"start"`
}

func (h *Handler) Reschedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	var req rescheduleRequest
	if !decode(w, r, &req) || !requireID(w, req.AppointmentID) {
		return
	}
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(req.Start))
	if err != nil {
		http.Error(w, "invalid start", http.StatusBadRequest)
		return
	}
	appt, err := h.svc.Reschedule(r.Context(), req.AppointmentID, start, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

type finishRequest struct {
	AppointmentID string `json:"appointment_id"`
	lifecycle.FinishNotes
}

func (h *Handler) Finish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	var req finishRequest
	if !decode(w, r, &req) || !requireID(w, req.AppointmentID) {
		return
	}
	fin, err := h.svc.Finish(r.Context(), req.AppointmentID, req.FinishNotes, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"appointment":    fin,
		"amount_charged": fin.AmountCharged().StringFixed(2),
	})
}

func (h *Handler) Settle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	var req idRequest
	if !decode(w, r, &req) || !requireID(w, req.AppointmentID) {
		return
	}
	partial, err := h.svc.Settle(r.Context(), req.AppointmentID, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, partial)
}

// Actions tells a customer whether cancel or reschedule is on offer.
func (h *Handler) Actions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := h.requireActor(w, r)
	if !ok {
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if !requireID(w, id) {
		return
	}
	d, err := h.svc.Allowed(r.Context(), id, actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func requireID(w http.ResponseWriter, id string) bool {
	if strings.TrimSpace(id) == "" {
		http.Error(w, "appointment_id is required", http.StatusBadRequest)
		return false
	}
	return true
}
