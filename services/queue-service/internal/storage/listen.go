package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/model"
)

const changeChannel = "appointments_changed"

type changePayload struct {
	Op  string          `json:"op"`
	New json.RawMessage `json:"new"`
	Old json.RawMessage `json:"old"`
}

// Subscribe holds one pooled connection on LISTEN appointments_changed. The
// listener is registered before the initial snapshot is read so no change
// falls between the two; a change seen in both arrives as a Modified event.
func (s *PostgresStore) Subscribe(ctx context.Context) (<-chan ChangeEvent, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(ctx, "LISTEN "+changeChannel); err != nil {
		conn.Release()
		return nil, err
	}
	initial, err := s.ListActive(ctx, Filter{})
	if err != nil {
		conn.Release()
		return nil, err
	}

	out := make(chan ChangeEvent, 64)
	go func() {
		defer close(out)
		defer conn.Release()

		for _, a := range initial {
			select {
			case out <- ChangeEvent{Kind: Added, Appointment: a, Initial: true}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case out <- ChangeEvent{Kind: Synced}:
		case <-ctx.Done():
			return
		}

		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Error("appointment change stream failed", "err", err)
				}
				// the connection state is unknown after a failed wait
				_ = conn.Conn().Close(context.Background())
				return
			}
			ev, err := parseChange(n.Payload)
			if err != nil {
				s.logger.Warn("ignoring malformed change notification", "err", err)
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func parseChange(payload string) (ChangeEvent, error) {
	var p changePayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return ChangeEvent{}, err
	}
	var ev ChangeEvent
	switch p.Op {
	case "INSERT":
		ev.Kind = Added
	case "UPDATE":
		ev.Kind = Modified
	case "DELETE":
		ev.Kind = Removed
	default:
		return ChangeEvent{}, fmt.Errorf("unknown op %q", p.Op)
	}

	if len(p.Old) > 0 && string(p.Old) != "null" {
		prev, err := decodeDoc(p.Old)
		if err != nil {
			return ChangeEvent{}, err
		}
		ev.Previous = &prev
	}
	if ev.Kind == Removed {
		if ev.Previous == nil {
			return ChangeEvent{}, fmt.Errorf("delete without old document")
		}
		ev.Appointment = *ev.Previous
		ev.Appointment.Status = model.StatusCompleted
		return ev, nil
	}
	a, err := decodeDoc(p.New)
	if err != nil {
		return ChangeEvent{}, err
	}
	ev.Appointment = a
	return ev, nil
}

// Resubscribe keeps a change stream alive across connection failures, waiting
// retry between attempts. Every reconnect starts with a fresh Initial batch
// and its Synced marker, so consumers can drop what vanished meanwhile.
func Resubscribe(ctx context.Context, s Store, retry time.Duration) <-chan ChangeEvent {
	out := make(chan ChangeEvent)
	go func() {
		defer close(out)
		for ctx.Err() == nil {
			events, err := s.Subscribe(ctx)
			if err != nil {
				select {
				case <-time.After(retry):
					continue
				case <-ctx.Done():
					return
				}
			}
			for ev := range events {
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-time.After(retry):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
