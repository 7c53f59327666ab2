// Package notify delivers queue notifications to the outside world. The
// realtime layer decides what to send and exactly once; transports only
// move bytes.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

type Kind string

const (
	KindArrival Kind = "arrival"
	KindStarted Kind = "started"
)

type Notification struct {
	Title         string    `json:"title"`
	Body          string    `json:"body"`
	Tag           string    `json:"tag"`
	Kind          Kind      `json:"kind"`
	AppointmentID string    `json:"appointment_id"`
	Room          string    `json:"room"`
	EmittedAt     time.Time `json:"emitted_at"`
}

// NewTag builds the replacement tag kind:id:emit-millis.
func NewTag(kind Kind, appointmentID string, at time.Time) string {
	return fmt.Sprintf("%s:%s:%d", kind, appointmentID, at.UnixMilli())
}

type Transport interface {
	Send(ctx context.Context, n Notification) error
}

type LogTransport struct {
	Logger *slog.Logger
}

func (t LogTransport) Send(_ context.Context, n Notification) error {
	t.Logger.Info("notification",
		"kind", n.Kind,
		"appointment_id", n.AppointmentID,
		"room", n.Room,
		"title", n.Title,
		"tag", n.Tag,
	)
	return nil
}

// Multi sends to every transport and joins their errors.
type Multi []Transport

func (m Multi) Send(ctx context.Context, n Notification) error {
	var errs []error
	for _, t := range m {
		if err := t.Send(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
