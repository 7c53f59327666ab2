package booking

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	otelx "github.com/md-rashed-zaman/barberqueue/libs/otel"
	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/availability"
	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/lifecycle"
	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/model"
	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/policy"
	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/storage"
)

const simpleDurationMinutes = 30

// Actor is the caller of a mutating operation. Privileged actors are shop
// operators.
type Actor struct {
	ID         string
	Privileged bool
}

type Service struct {
	store  storage.Store
	policy policy.Provider
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithPolicy(p policy.Provider) Option {
	return func(s *Service) { s.policy = p }
}

func NewService(store storage.Store, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		policy: policy.NewStaticProvider(),
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type SlotQuery struct {
	Date       time.Time
	ServiceID  string
	Room       string
	EmployeeID string
	CustomerID string
	Privileged bool
}

type SlotResult struct {
	Date            string              `json:"date"`
	Room            string              `json:"room,omitempty"`
	DurationMinutes int                 `json:"duration_minutes"`
	Slots           []availability.Slot `json:"slots"`
}

// Slots returns the candidate grid for a day. With a service the room's
// intervals are checked for overlap; without one only exact start times
// collide, optionally restricted to q.Room.
func (s *Service) Slots(ctx context.Context, q SlotQuery) (SlotResult, error) {
	cfg, loc, err := s.schedule(ctx)
	if err != nil {
		return SlotResult{}, err
	}
	now := s.now()
	from, to := dayBounds(q.Date, loc)

	var mine []model.Appointment
	if q.CustomerID != "" {
		if mine, err = s.store.ListActive(ctx, storage.Filter{CustomerID: q.CustomerID, From: from, To: to}); err != nil {
			return SlotResult{}, err
		}
	}
	guard := availability.Guard{Now: now, Config: cfg, Privileged: q.Privileged}
	if err := guard.CheckDate(from, q.CustomerID, mine, ""); err != nil {
		return SlotResult{}, err
	}

	window, err := availability.OperatingWindow(from, cfg)
	if err != nil {
		return SlotResult{}, err
	}
	res := SlotResult{Date: from.Format("2006-01-02"), Room: q.Room}

	day, err := s.store.ListActive(ctx, storage.Filter{From: from.Add(-24 * time.Hour), To: to})
	if err != nil {
		return SlotResult{}, err
	}

	if q.ServiceID != "" {
		svc, mins, err := s.resolveService(ctx, q.ServiceID, q.EmployeeID)
		if err != nil {
			return SlotResult{}, err
		}
		res.Room = svc.Room
		res.DurationMinutes = mins
		if svc.Room != "" {
			busy := availability.Busy(svc.Room, day, "")
			res.Slots = availability.Grid(window, cfg.SlotStep(), time.Duration(mins)*time.Minute, busy)
		} else {
			res.Slots = availability.ExactStartGrid(window, cfg.SlotStep(), availability.Starts("", day, ""))
		}
	} else {
		res.DurationMinutes = simpleDurationMinutes
		res.Slots = availability.ExactStartGrid(window, cfg.SlotStep(), availability.Starts(q.Room, day, ""))
	}

	for i := range res.Slots {
		if res.Slots[i].Start.Before(now) {
			res.Slots[i].Available = false
		}
	}
	return res, nil
}

type BookRequest struct {
	Customer        model.Customer
	ServiceID       string
	EmployeeID      string
	Start           time.Time
	PaymentMethod   model.PaymentMethod
	PartialFraction decimal.Decimal
	WalkIn          bool
}

func (s *Service) Book(ctx context.Context, req BookRequest, actor Actor) (model.Appointment, error) {
	if req.Customer.ID == "" {
		req.Customer.ID = actor.ID
	}
	if req.Customer.ID == "" || req.Start.IsZero() {
		return model.Appointment{}, model.ErrInvalidRequest
	}
	if req.Customer.ID != actor.ID && !actor.Privileged {
		return model.Appointment{}, model.ErrForbidden
	}
	cfg, loc, err := s.schedule(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	now := s.now()

	svc := model.Service{Name: "General service", DurationMinutes: simpleDurationMinutes}
	mins := simpleDurationMinutes
	if req.ServiceID != "" {
		if svc, mins, err = s.resolveService(ctx, req.ServiceID, req.EmployeeID); err != nil {
			return model.Appointment{}, err
		}
	}

	if err := s.checkSlot(ctx, cfg, loc, now, actor, req.Customer.ID, svc.Room, req.Start, mins, ""); err != nil {
		return model.Appointment{}, err
	}

	appt, err := lifecycle.Create(lifecycle.Draft{
		Customer:        req.Customer,
		Service:         svc,
		EmployeeID:      req.EmployeeID,
		Start:           req.Start,
		DurationMinutes: mins,
		PaymentMethod:   req.PaymentMethod,
		PartialFraction: req.PartialFraction,
		WalkIn:          req.WalkIn && actor.Privileged,
	}, now)
	if err != nil {
		return model.Appointment{}, err
	}

	stamp(ctx, &appt)
	if err := s.store.Insert(ctx, appt); err != nil {
		if storage.IsConflict(err) {
			return model.Appointment{}, model.ErrSlotUnavailable
		}
		return model.Appointment{}, err
	}
	s.logger.Info("appointment booked",
		"appointment_id", appt.ID,
		"room", appt.Room,
		"start", appt.ScheduledStart,
		"status", appt.Status,
	)
	return appt, nil
}

func (s *Service) ConfirmAttendance(ctx context.Context, id string, present bool, actor Actor) (model.Appointment, error) {
	kind := lifecycle.MarkPresent
	if !present {
		kind = lifecycle.UnmarkPresent
	}
	return s.transition(ctx, id, actor, lifecycle.Event{Kind: kind})
}

func (s *Service) Cancel(ctx context.Context, id string, actor Actor) (model.Appointment, error) {
	return s.transition(ctx, id, actor, lifecycle.Event{Kind: lifecycle.Cancel})
}

// Reschedule runs the allocator checks again for the new start; the
// appointment's own interval is ignored so it may move within its old slot.
func (s *Service) Reschedule(ctx context.Context, id string, newStart time.Time, actor Actor) (model.Appointment, error) {
	cur, err := s.owned(ctx, id, actor)
	if err != nil {
		return model.Appointment{}, err
	}
	now := s.now()
	next, err := lifecycle.Apply(cur, lifecycle.Event{Kind: lifecycle.Reschedule, NewStart: newStart}, now)
	if err != nil {
		return model.Appointment{}, err
	}

	cfg, loc, err := s.schedule(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	if err := s.checkSlot(ctx, cfg, loc, now, actor, cur.Customer.ID, cur.Room, newStart, cur.DurationMinutes, cur.ID); err != nil {
		return model.Appointment{}, err
	}

	stamp(ctx, &next)
	if err := s.store.Update(ctx, next, cur.Status); err != nil {
		if storage.IsConflict(err) {
			return model.Appointment{}, model.ErrSlotUnavailable
		}
		return model.Appointment{}, err
	}
	s.logger.Info("appointment rescheduled", "appointment_id", id, "start", next.ScheduledStart)
	return next, nil
}

func (s *Service) Allowed(ctx context.Context, id string, actor Actor) (policy.Decision, error) {
	cur, err := s.owned(ctx, id, actor)
	if err != nil {
		return policy.Decision{}, err
	}
	return s.policy.Allowed(ctx, cur)
}

// Finish ends a service early on an operator's request and moves the record
// to the finalized collection.
func (s *Service) Finish(ctx context.Context, id string, notes lifecycle.FinishNotes, actor Actor) (model.FinalizedAppointment, error) {
	if !actor.Privileged {
		return model.FinalizedAppointment{}, model.ErrForbidden
	}
	cur, err := s.store.Get(ctx, id)
	if err != nil {
		return model.FinalizedAppointment{}, err
	}
	now := s.now()
	done, err := lifecycle.Apply(cur, lifecycle.Event{Kind: lifecycle.Finish}, now)
	if err != nil {
		return model.FinalizedAppointment{}, err
	}
	fin, err := lifecycle.Finalize(done, notes, now, model.FinishedBy(actor.ID))
	if err != nil {
		return model.FinalizedAppointment{}, err
	}
	if err := s.store.Complete(ctx, fin); err != nil {
		return model.FinalizedAppointment{}, err
	}
	s.logger.Info("appointment finished by operator", "appointment_id", id, "operator", actor.ID, "room", cur.Room)
	return fin, nil
}

// Settle marks the remaining partial payment as paid, on a live in-service
// record or on a finalized one.
func (s *Service) Settle(ctx context.Context, id string, actor Actor) (model.PartialPayment, error) {
	if !actor.Privileged {
		return model.PartialPayment{}, model.ErrForbidden
	}
	now := s.now()
	cur, err := s.store.Get(ctx, id)
	switch {
	case err == nil:
		next, err := lifecycle.Apply(cur, lifecycle.Event{Kind: lifecycle.Settle}, now)
		if err != nil {
			return model.PartialPayment{}, err
		}
		if err := s.store.Update(ctx, next, cur.Status); err != nil {
			return model.PartialPayment{}, err
		}
		return *next.Partial, nil
	case !errors.Is(err, model.ErrNotFound):
		return model.PartialPayment{}, err
	}

	fin, err := s.store.GetFinalized(ctx, id)
	if err != nil {
		return model.PartialPayment{}, err
	}
	next, err := lifecycle.Apply(fin.Appointment, lifecycle.Event{Kind: lifecycle.Settle}, now)
	if err != nil {
		return model.PartialPayment{}, err
	}
	fin.Appointment = next
	if err := s.store.UpdateFinalized(ctx, fin); err != nil {
		return model.PartialPayment{}, err
	}
	s.logger.Info("remaining payment settled", "appointment_id", id, "operator", actor.ID)
	return *next.Partial, nil
}

type PaymentStatus string

const (
	PaymentApproved PaymentStatus = "approved"
	PaymentRejected PaymentStatus = "rejected"
	PaymentPending  PaymentStatus = "pending"
)

// PaymentSignal is the opaque confirmation a payment provider sends for an
// appointment.
type PaymentSignal struct {
	AppointmentID string        `json:"appointment_id"`
	Status        PaymentStatus `json:"status"`
	Provider      string        `json:"provider"`
	Reference     string        `json:"reference"`
}

func (s *Service) ApplyPayment(ctx context.Context, sig PaymentSignal) (model.Appointment, error) {
	var kind lifecycle.EventKind
	switch sig.Status {
	case PaymentApproved:
		kind = lifecycle.PaymentApproved
	case PaymentRejected:
		kind = lifecycle.PaymentRejected
	case PaymentPending:
		s.logger.Info("payment pending", "appointment_id", sig.AppointmentID, "provider", sig.Provider)
		return s.store.Get(ctx, sig.AppointmentID)
	default:
		return model.Appointment{}, model.ErrInvalidRequest
	}

	cur, err := s.store.Get(ctx, sig.AppointmentID)
	if err != nil {
		return model.Appointment{}, err
	}
	next, err := lifecycle.Apply(cur, lifecycle.Event{Kind: kind}, s.now())
	if err != nil {
		return model.Appointment{}, err
	}
	if next.Status == cur.Status && next.Present == cur.Present {
		return cur, nil
	}
	stamp(ctx, &next)
	if err := s.store.Update(ctx, next, cur.Status); err != nil {
		return model.Appointment{}, err
	}
	s.logger.Info("payment signal applied",
		"appointment_id", sig.AppointmentID,
		"provider", sig.Provider,
		"reference", sig.Reference,
		"status", next.Status,
	)
	return next, nil
}

func (s *Service) transition(ctx context.Context, id string, actor Actor, ev lifecycle.Event) (model.Appointment, error) {
	cur, err := s.owned(ctx, id, actor)
	if err != nil {
		return model.Appointment{}, err
	}
	next, err := lifecycle.Apply(cur, ev, s.now())
	if err != nil {
		return model.Appointment{}, err
	}
	stamp(ctx, &next)
	if err := s.store.Update(ctx, next, cur.Status); err != nil {
		return model.Appointment{}, err
	}
	s.logger.Info("appointment updated", "appointment_id", id, "event", ev.Kind, "status", next.Status)
	return next, nil
}

// stamp records the caller's trace so notifications caused by this write join
// the same trace.
func stamp(ctx context.Context, a *model.Appointment) {
	a.Traceparent, a.Tracestate = otelx.TraceContextStrings(ctx)
}

func (s *Service) owned(ctx context.Context, id string, actor Actor) (model.Appointment, error) {
	cur, err := s.store.Get(ctx, id)
	if err != nil {
		return model.Appointment{}, err
	}
	if !actor.Privileged && cur.Customer.ID != actor.ID {
		return model.Appointment{}, model.ErrForbidden
	}
	return cur, nil
}

func (s *Service) schedule(ctx context.Context) (model.ScheduleConfig, *time.Location, error) {
	cfg, err := s.store.Schedule(ctx)
	if err != nil {
		return model.ScheduleConfig{}, nil, err
	}
	cfg = cfg.Defaults()
	loc, err := cfg.Location()
	if err != nil {
		return model.ScheduleConfig{}, nil, err
	}
	return cfg, loc, nil
}

func (s *Service) resolveService(ctx context.Context, serviceID, employeeID string) (model.Service, int, error) {
	svc, err := s.store.GetService(ctx, serviceID)
	if errors.Is(err, model.ErrNotFound) {
		return model.Service{}, 0, model.ErrInvalidRequest
	}
	if err != nil {
		return model.Service{}, 0, err
	}
	mins := svc.DurationMinutes
	if employeeID != "" {
		emp, err := s.store.GetEmployee(ctx, employeeID)
		if errors.Is(err, model.ErrNotFound) {
			return model.Service{}, 0, model.ErrInactiveEmployee
		}
		if err != nil {
			return model.Service{}, 0, err
		}
		if !emp.Active || !emp.Serves(svc.Room) {
			return model.Service{}, 0, model.ErrInactiveEmployee
		}
		mins = emp.DurationFor(svc)
	}
	return svc, mins, nil
}

// checkSlot runs the date guard, the operating-hours check, grid alignment
// and the conflict detector for a candidate booking.
func (s *Service) checkSlot(ctx context.Context, cfg model.ScheduleConfig, loc *time.Location, now time.Time, actor Actor, customerID, room string, start time.Time, mins int, ignoreID string) error {
	from, to := dayBounds(start, loc)
	guard := availability.Guard{Now: now, Config: cfg, Privileged: actor.Privileged}

	mine, err := s.store.ListActive(ctx, storage.Filter{CustomerID: customerID, From: from, To: to})
	if err != nil {
		return err
	}
	if err := guard.CheckDate(start, customerID, mine, ignoreID); err != nil {
		return err
	}
	duration := time.Duration(mins) * time.Minute
	if err := guard.CheckStart(start, duration); err != nil {
		return err
	}
	window, err := availability.OperatingWindow(start, cfg)
	if err != nil {
		return err
	}
	if start.Sub(window.Start)%cfg.SlotStep() != 0 {
		return model.ErrSlotUnavailable
	}

	// the previous day is included so a long booking spilling past midnight
	// still collides
	existing, err := s.store.ListActive(ctx, storage.Filter{Room: room, From: from.Add(-24 * time.Hour), To: to})
	if err != nil {
		return err
	}
	if room == "" {
		if availability.StartTaken(start, existing, ignoreID) {
			return model.ErrSlotUnavailable
		}
		return nil
	}
	candidate := availability.Interval{Start: start, End: start.Add(duration)}
	if len(availability.Conflicts(candidate, room, existing, ignoreID)) > 0 {
		return model.ErrSlotUnavailable
	}
	return nil
}

func dayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	t = t.In(loc)
	from := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	return from, from.AddDate(0, 0, 1)
}
