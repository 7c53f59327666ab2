package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/barberqueue/libs/auth"
	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/booking"
	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/inbox"
	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/model"
	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/realtime"
	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/storage"
)

// Snapshotter projects a room from the live set on demand.
type Snapshotter interface {
	Snapshot(room string) realtime.Snapshot
}

type Handler struct {
	svc       *booking.Service
	snapshots Snapshotter
	hub       *realtime.Hub
	inbox     inbox.Inbox
	logger    *slog.Logger
	jwtSecret string

	stripeWebhookSecret    string
	stripeWebhookTolerance time.Duration
	heartbeat              time.Duration
}

type Config struct {
	JWTSecret              string
	StripeWebhookSecret    string
	StripeWebhookTolerance time.Duration
	// Heartbeat is the idle interval between SSE keep-alive comments.
	Heartbeat time.Duration
}

func New(svc *booking.Service, snapshots Snapshotter, hub *realtime.Hub, in inbox.Inbox, logger *slog.Logger, cfg Config) *Handler {
	if cfg.StripeWebhookTolerance <= 0 {
		cfg.StripeWebhookTolerance = 5 * time.Minute
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = 15 * time.Second
	}
	return &Handler{
		svc:                    svc,
		snapshots:              snapshots,
		hub:                    hub,
		inbox:                  in,
		logger:                 logger,
		jwtSecret:              cfg.JWTSecret,
		stripeWebhookSecret:    cfg.StripeWebhookSecret,
		stripeWebhookTolerance: cfg.StripeWebhookTolerance,
		heartbeat:              cfg.Heartbeat,
	}
}

// Register mounts every route. Writes go through limit when it is non-nil.
func (h *Handler) Register(mux *http.ServeMux, limit func(http.Handler) http.Handler) {
	write := func(f http.HandlerFunc) http.Handler {
		if limit == nil {
			return f
		}
		return limit(f)
	}
	mux.HandleFunc("/api/v1/slots", h.Slots)
	mux.Handle("/api/v1/appointments", write(h.Create))
	mux.Handle("/api/v1/appointments/confirm", write(h.Confirm))
	mux.Handle("/api/v1/appointments/cancel", write(h.Cancel))
	mux.Handle("/api/v1/appointments/reschedule", write(h.Reschedule))
	mux.Handle("/api/v1/appointments/finish", write(h.Finish))
	mux.Handle("/api/v1/appointments/settle", write(h.Settle))
	mux.HandleFunc("/api/v1/appointments/actions", h.Actions)
	mux.HandleFunc("/api/v1/queue/snapshot", h.QueueSnapshot)
	mux.HandleFunc("/api/v1/queue/stream", h.QueueStream)
	mux.HandleFunc("/api/v1/payments/webhooks/stripe", h.StripeWebhook)
}

// actor resolves the bearer token. A missing or invalid token yields false.
func (h *Handler) actor(r *http.Request) (booking.Actor, bool) {
	tok, ok := auth.BearerToken(r)
	if !ok {
		return booking.Actor{}, false
	}
	claims, err := auth.ParseAndVerifyHS256(tok, h.jwtSecret)
	if err != nil {
		return booking.Actor{}, false
	}
	return booking.Actor{ID: claims.Subject, Privileged: claims.Privileged()}, true
}

func (h *Handler) requireActor(w http.ResponseWriter, r *http.Request) (booking.Actor, bool) {
	a, ok := h.actor(r)
	if !ok {
		http.Error(w, "missing or invalid bearer token", http.StatusUnauthorized)
	}
	return a, ok
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// writeError maps engine errors to statuses. Rule violations carry their
// actionable message; transient failures only ask the caller to retry.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var v *model.ValidationError
	switch {
	case errors.As(err, &v):
		writeJSON(w, validationStatus(v), errorResponse{Error: v.Code, Message: v.Message})
	case errors.Is(err, model.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorResponse{Error: "forbidden", Message: err.Error()})
	case errors.Is(err, model.ErrNotFound), storage.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not_found", Message: "appointment not found"})
	case storage.IsTransient(err):
		h.logger.Warn("transient store error", "path", r.URL.Path, "err", err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "unavailable", Message: "something went wrong, please retry"})
	default:
		h.logger.Error("request failed", "path", r.URL.Path, "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal", Message: "something went wrong, please retry"})
	}
}

func validationStatus(v *model.ValidationError) int {
	switch v {
	case model.ErrSlotUnavailable, model.ErrDuplicateDay, model.ErrCancelNotAllowed,
		model.ErrRescheduleNotAllowed, model.ErrLimitExceeded, model.ErrInvalidTransition,
		model.ErrNothingToSettle:
		return http.StatusConflict
	}
	return http.StatusUnprocessableEntity
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return false
	}
	return true
}
