package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/booking"
	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/model"
	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/storage"
)

// StripeWebhook turns Stripe payment events into payment signals. The
// signature is the authentication; replayed event ids are ignored.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if strings.TrimSpace(h.stripeWebhookSecret) == "" {
		http.Error(w, "stripe webhook not configured", http.StatusServiceUnavailable)
		return
	}
	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		http.Error(w, "missing Stripe-Signature header", http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}
	evt, err := webhook.ConstructEventWithOptions(body, sigHeader, h.stripeWebhookSecret, webhook.ConstructEventOptions{
		Tolerance:                h.stripeWebhookTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	sig, ok := paymentSignal(evt)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
		return
	}

	ctx := r.Context()
	first, err := h.inbox.Record(ctx, evt.ID, string(evt.Type))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !first {
		h.logger.Info("payment provider event duplicate ignored", "provider", "stripe", "provider_event_id", evt.ID)
		writeJSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
		return
	}

	_, err = h.svc.ApplyPayment(ctx, sig)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	case storage.IsTransient(err):
		if rerr := h.inbox.Release(ctx, evt.ID); rerr != nil {
			h.logger.Error("inbox release failed", "provider_event_id", evt.ID, "err", rerr)
		}
		h.writeError(w, r, err)
	case model.IsValidation(err), errors.Is(err, model.ErrNotFound):
		h.logger.Warn("payment signal not applied", "provider_event_id", evt.ID, "appointment_id", sig.AppointmentID, "err", err)
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
	default:
		h.writeError(w, r, err)
	}
}

// paymentSignal maps a Stripe event onto an appointment payment signal. The
// appointment is named in the object's metadata.
func paymentSignal(evt stripe.Event) (booking.PaymentSignal, bool) {
	var status booking.PaymentStatus
	switch evt.Type {
	case "payment_intent.succeeded", "checkout.session.completed":
		status = booking.PaymentApproved
	case "payment_intent.payment_failed":
		status = booking.PaymentRejected
	case "payment_intent.processing":
		status = booking.PaymentPending
	default:
		return booking.PaymentSignal{}, false
	}

	var obj struct {
		ID       string            `json:"id"`
		Metadata map[string]string `json:"metadata"`
	}
	if evt.Data == nil || json.Unmarshal(evt.Data.Raw, &obj) != nil {
		return booking.PaymentSignal{}, false
	}
	id := strings.TrimSpace(obj.Metadata["appointment_id"])
	if id == "" {
		return booking.PaymentSignal{}, false
	}
	return booking.PaymentSignal{
		AppointmentID: id,
		Status:        status,
		Provider:      "stripe",
		Reference:     obj.ID,
	}, true
}
