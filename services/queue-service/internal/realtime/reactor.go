package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	otelx "github.com/md-rashed-zaman/barberqueue/libs/otel"
	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/model"
	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/notify"
	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/storage"
)

// Nudger wakes a room's scheduler loop.
type Nudger interface {
	Nudge(room string)
}

// Reactor turns store changes into viewer snapshots and at-most-once
// notifications. It only reacts to the change stream.
type Reactor struct {
	ledger    Ledger
	transport notify.Transport
	hub       *Hub
	nudger    Nudger
	logger    *slog.Logger
	now       func() time.Time

	mu   sync.Mutex
	live map[string]model.Appointment
	// batch and stale are set while an Initial batch is being received.
	batch map[string]struct{}
	stale map[string]model.Appointment

	synced atomic.Bool
}

type ReactorOption func(*Reactor)

func WithNudger(n Nudger) ReactorOption {
	return func(r *Reactor) { r.nudger = n }
}

func WithReactorClock(now func() time.Time) ReactorOption {
	return func(r *Reactor) { r.now = now }
}

func NewReactor(ledger Ledger, transport notify.Transport, hub *Hub, logger *slog.Logger, opts ...ReactorOption) *Reactor {
	r := &Reactor{
		ledger:    ledger,
		transport: transport,
		hub:       hub,
		logger:    logger,
		now:       time.Now,
		live:      make(map[string]model.Appointment),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run handles events until ctx is done or the stream closes.
func (r *Reactor) Run(ctx context.Context, events <-chan storage.ChangeEvent) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			r.Handle(ctx, ev)
		}
	}
}

// Handle applies one change. Records from an Initial batch are marked as
// already notified without emitting anything, and the projection is rebuilt
// from the batch alone: snapshots go out once the batch closes.
func (r *Reactor) Handle(ctx context.Context, ev storage.ChangeEvent) {
	now := r.now()
	if ev.Kind == storage.Synced {
		r.mu.Lock()
		rooms := r.closeBatchLocked(ctx)
		snaps := r.projectLocked(rooms, now)
		r.mu.Unlock()
		r.publish(rooms, snaps)
		return
	}

	a := ev.Appointment
	r.mu.Lock()
	if ev.Initial {
		if r.batch == nil {
			r.batch = make(map[string]struct{})
			r.stale, r.live = r.live, make(map[string]model.Appointment)
		}
		r.batch[a.ID] = struct{}{}
		r.live[a.ID] = a
		r.markSeen(ctx, a)
		r.mu.Unlock()
		return
	}

	var rooms []string
	if r.batch != nil {
		rooms = r.closeBatchLocked(ctx)
	}
	prev, known := r.live[a.ID]
	if ev.Kind == storage.Removed {
		delete(r.live, a.ID)
	} else {
		r.live[a.ID] = a
	}

	var pending []notify.Notification
	if ev.Kind == storage.Removed {
		if err := r.ledger.Forget(ctx, a.ID); err != nil {
			r.logger.Warn("ledger forget failed", "appointment_id", a.ID, "err", err)
		}
	} else {
		for _, kind := range kindsFor(a) {
			first, err := r.ledger.Mark(ctx, a.ID, kind)
			if err != nil {
				r.logger.Warn("ledger mark failed, notification dropped", "appointment_id", a.ID, "kind", kind, "err", err)
				continue
			}
			if first {
				pending = append(pending, compose(kind, a, now))
			}
		}
	}

	rooms = appendRoom(rooms, a.Room)
	if known {
		rooms = appendRoom(rooms, prev.Room)
	} else if ev.Previous != nil {
		rooms = appendRoom(rooms, ev.Previous.Room)
	}
	snaps := r.projectLocked(rooms, now)
	r.mu.Unlock()

	r.publish(rooms, snaps)
	if len(pending) > 0 {
		sendCtx := otelx.ContextWithTraceContext(ctx, a.Traceparent, a.Tracestate)
		for _, n := range pending {
			r.send(sendCtx, n)
		}
	}
}

// closeBatchLocked ends the current Initial batch: records known before it
// and not re-observed are dropped. It returns every room whose view may have
// changed. An empty batch leaves nothing live.
func (r *Reactor) closeBatchLocked(ctx context.Context) []string {
	if r.batch == nil {
		r.stale, r.live = r.live, make(map[string]model.Appointment)
	}
	var rooms []string
	dropped := 0
	for id, a := range r.stale {
		if _, ok := r.live[id]; ok {
			continue
		}
		dropped++
		rooms = appendRoom(rooms, a.Room)
		if err := r.ledger.Forget(ctx, id); err != nil {
			r.logger.Warn("ledger forget failed", "appointment_id", id, "err", err)
		}
	}
	for _, a := range r.live {
		rooms = appendRoom(rooms, a.Room)
	}
	if dropped > 0 {
		r.logger.Info("projection resynced", "live", len(r.live), "dropped", dropped)
	}
	r.batch, r.stale = nil, nil
	r.synced.Store(true)
	sort.Strings(rooms)
	return rooms
}

// Ready fails until the projection has been built from a complete batch.
func (r *Reactor) Ready(context.Context) error {
	if !r.synced.Load() {
		return errors.New("change stream not synced yet")
	}
	return nil
}

func (r *Reactor) projectLocked(rooms []string, now time.Time) []Snapshot {
	all := r.liveLocked()
	snaps := make([]Snapshot, 0, len(rooms)+1)
	for _, room := range rooms {
		snaps = append(snaps, Project(room, all, now))
	}
	return append(snaps, Project(Aggregate, all, now))
}

func (r *Reactor) publish(rooms []string, snaps []Snapshot) {
	for _, s := range snaps {
		r.hub.PublishSnapshot(s)
	}
	if r.nudger != nil {
		for _, room := range rooms {
			r.nudger.Nudge(room)
		}
	}
}

func appendRoom(rooms []string, room string) []string {
	for _, r := range rooms {
		if r == room {
			return rooms
		}
	}
	return append(rooms, room)
}

// Snapshot projects room from the current live set.
func (r *Reactor) Snapshot(room string) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Project(room, r.liveLocked(), r.now())
}

func (r *Reactor) markSeen(ctx context.Context, a model.Appointment) {
	for _, kind := range kindsFor(a) {
		if _, err := r.ledger.Mark(ctx, a.ID, kind); err != nil {
			r.logger.Warn("ledger mark failed", "appointment_id", a.ID, "kind", kind, "err", err)
		}
	}
}

func (r *Reactor) liveLocked() []model.Appointment {
	out := make([]model.Appointment, 0, len(r.live))
	for _, a := range r.live {
		out = append(out, a)
	}
	return out
}

func (r *Reactor) send(ctx context.Context, n notify.Notification) {
	if r.transport == nil {
		return
	}
	ctx, span := otel.Tracer("queue-notify").Start(ctx, "notification.send",
		trace.WithAttributes(
			attribute.String("notification.kind", string(n.Kind)),
			attribute.String("appointment.id", n.AppointmentID),
		),
	)
	defer span.End()
	if err := r.transport.Send(ctx, n); err != nil {
		span.RecordError(err)
		r.logger.Error("notification send failed", "tag", n.Tag, "err", err)
		return
	}
	r.logger.Info("notification sent", "tag", n.Tag, "room", n.Room)
}

// kindsFor lists the notifications an appointment in its current status
// stands for.
func kindsFor(a model.Appointment) []notify.Kind {
	switch a.Status {
	case model.StatusConfirmed:
		return []notify.Kind{notify.KindArrival}
	case model.StatusInService:
		return []notify.Kind{notify.KindStarted}
	}
	return nil
}

func compose(kind notify.Kind, a model.Appointment, now time.Time) notify.Notification {
	n := notify.Notification{
		Tag:           notify.NewTag(kind, a.ID, now),
		Kind:          kind,
		AppointmentID: a.ID,
		Room:          a.Room,
		EmittedAt:     now,
	}
	where := a.Room
	if where == "" {
		where = "the queue"
	}
	switch kind {
	case notify.KindArrival:
		n.Title = "New arrival"
		n.Body = fmt.Sprintf("%s joined %s for %s at %s", a.Customer.Name, where, a.ServiceName, a.ScheduledStart.Format("15:04"))
	case notify.KindStarted:
		n.Title = "Service started"
		n.Body = fmt.Sprintf("%s is now being served in %s", a.Customer.Name, where)
	}
	return n
}
