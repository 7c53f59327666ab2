package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/booking"
	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/model"
)

type PaymentApplier interface {
	ApplyPayment(ctx context.Context, sig booking.PaymentSignal) (model.Appointment, error)
}

// PaymentHandler decodes a payment.status.v1 message and applies it.
// Malformed payloads are logged and skipped.
func PaymentHandler(svc PaymentApplier, logger *slog.Logger) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var sig booking.PaymentSignal
		if err := json.Unmarshal(msg.Value, &sig); err != nil {
			logger.Warn("payment signal is not valid json", "err", err, "offset", msg.Offset)
			return nil
		}
		if sig.AppointmentID == "" {
			logger.Warn("payment signal without appointment id", "offset", msg.Offset)
			return nil
		}
		if _, err := svc.ApplyPayment(ctx, sig); err != nil {
			return fmt.Errorf("apply payment for %s: %w", sig.AppointmentID, err)
		}
		return nil
	}
}
