package automation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/lifecycle"
	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/model"
	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/storage"
)

var errGone = errors.New("appointment already left service")

type TickResult struct {
	Finished   []string
	Promoted   string
	Countdowns []Countdown
	Skipped    bool
}

// Tick reads the room, auto-finishes every expired service, promotes the
// earliest due confirmed appointment when the room is free and publishes the
// countdowns. A failed write aborts the tick so the next one re-reads.
func (s *Supervisor) Tick(ctx context.Context, room string) (TickResult, error) {
	ctx, span := otel.Tracer("queue-automation").Start(ctx, "room.tick",
		trace.WithAttributes(attribute.String("queue.room", room)),
	)
	defer span.End()

	var res TickResult
	appts, err := retry(ctx, s.budget, func() ([]model.Appointment, error) {
		return s.store.ListActive(ctx, storage.Filter{Room: room})
	})
	if err != nil {
		span.RecordError(err)
		return res, fmt.Errorf("list room %q: %w", room, err)
	}
	now := s.now()

	live := make([]model.Appointment, 0, len(appts))
	busy := false
	for _, a := range appts {
		if a.Room != room {
			continue
		}
		if a.Status == model.StatusInService && a.ServiceEndsAt != nil && !now.Before(*a.ServiceEndsAt) {
			done, err := s.finish(ctx, a, now)
			if err != nil {
				span.RecordError(err)
				return res, err
			}
			if done {
				res.Finished = append(res.Finished, a.ID)
			}
			continue
		}
		if a.Status == model.StatusInService {
			busy = true
		}
		live = append(live, a)
	}

	if !busy {
		if i, ok := nextDue(live, now); ok {
			started, err := lifecycle.Apply(live[i], lifecycle.Event{Kind: lifecycle.Start}, now)
			if err != nil {
				return res, err
			}
			promoted, err := retry(ctx, s.budget, func() (bool, error) {
				return s.store.Promote(ctx, started)
			})
			if err != nil {
				span.RecordError(err)
				return res, fmt.Errorf("promote %s: %w", started.ID, err)
			}
			if promoted {
				live[i] = started
				res.Promoted = started.ID
				late := now.Sub(started.ScheduledStart)
				s.logger.Info("appointment started",
					"appointment_id", started.ID,
					"room", room,
					"late_seconds", int64(late/time.Second),
				)
			}
		}
	}

	res.Countdowns = Countdowns(now, live)
	if s.sink != nil {
		s.sink.PublishCountdowns(room, res.Countdowns)
	}
	s.lastTick.Store(now.UnixNano())
	span.SetAttributes(
		attribute.Int("queue.finished", len(res.Finished)),
		attribute.Bool("queue.promoted", res.Promoted != ""),
	)
	return res, nil
}

func (s *Supervisor) finish(ctx context.Context, a model.Appointment, now time.Time) (bool, error) {
	done, err := lifecycle.Apply(a, lifecycle.Event{Kind: lifecycle.Finish, Automatic: true}, now)
	if err != nil {
		return false, err
	}
	fin, err := lifecycle.Finalize(done, lifecycle.FinishNotes{}, now, model.FinishedByAutomation)
	if err != nil {
		return false, err
	}
	_, err = retry(ctx, s.budget, func() (struct{}, error) {
		err := s.store.Complete(ctx, fin)
		if errors.Is(err, storage.ErrStale) || errors.Is(err, model.ErrNotFound) {
			return struct{}{}, errGone
		}
		return struct{}{}, err
	})
	if errors.Is(err, errGone) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("complete %s: %w", a.ID, err)
	}
	s.logger.Info("appointment finished", "appointment_id", a.ID, "room", a.Room)
	return true, nil
}

// nextDue picks the earliest confirmed appointment whose start has passed,
// ties broken by arrival sequence. Presence does not affect promotion.
func nextDue(appts []model.Appointment, now time.Time) (int, bool) {
	best := -1
	for i, a := range appts {
		if a.Status != model.StatusConfirmed || now.Before(a.ScheduledStart) {
			continue
		}
		if best < 0 {
			best = i
			continue
		}
		b := appts[best]
		if a.ScheduledStart.Before(b.ScheduledStart) ||
			(a.ScheduledStart.Equal(b.ScheduledStart) && a.Seq < b.Seq) {
			best = i
		}
	}
	return best, best >= 0
}
