package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/model"
	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/policy"
)

// Draft is a validated booking request ready to become an appointment.
type Draft struct {
	Customer        model.Customer
	Service         model.Service
	EmployeeID      string
	Start           time.Time
	DurationMinutes int
	PaymentMethod   model.PaymentMethod
	// PartialFraction, when positive, splits the price into an up-front
	// payment and a pending remainder.
	PartialFraction decimal.Decimal
	// WalkIn is set when an operator books on behalf of a customer at the desk.
	WalkIn bool
}

// Create builds a new live appointment from d. Off-site payment methods start
// in awaiting_confirmation; cash, in-person and walk-ins start confirmed.
func Create(d Draft, now time.Time) (model.Appointment, error) {
	if d.Customer.ID == "" || d.Start.IsZero() {
		return model.Appointment{}, model.ErrInvalidRequest
	}
	method := model.PaymentMethod(strings.ToLower(string(d.PaymentMethod)))
	if method == "" {
		method = model.PaymentInPerson
	}
	mins := d.DurationMinutes
	if mins <= 0 {
		mins = d.Service.DurationMinutes
	}
	if mins <= 0 {
		return model.Appointment{}, model.ErrInvalidRequest
	}

	a := model.Appointment{
		ID:              uuid.NewString(),
		Customer:        d.Customer,
		ServiceID:       d.Service.ID,
		ServiceName:     d.Service.Name,
		Room:            d.Service.Room,
		EmployeeID:      d.EmployeeID,
		Price:           d.Service.Price,
		CreatedAt:       now,
		UpdatedAt:       now,
		Seq:             now.UnixMilli(),
		DurationMinutes: mins,
		PaymentMethod:   method,
		Status:          model.StatusAwaitingConfirmation,
	}
	a.SetSchedule(d.Start)

	if d.WalkIn {
		a.Present = true
		a.Status = model.StatusConfirmed
	} else if !method.RequiresConfirmation() {
		a.Status = model.StatusConfirmed
	}
	if d.PartialFraction.IsPositive() {
		p, err := NewPartial(a.Price, d.PartialFraction)
		if err != nil {
			return model.Appointment{}, err
		}
		a.Partial = p
	}
	return a, nil
}

type EventKind string

const (
	MarkPresent     EventKind = "mark_present"
	UnmarkPresent   EventKind = "unmark_present"
	PaymentApproved EventKind = "payment_approved"
	PaymentRejected EventKind = "payment_rejected"
	Start           EventKind = "start"
	Finish          EventKind = "finish"
	Cancel          EventKind = "cancel"
	Reschedule      EventKind = "reschedule"
	Settle          EventKind = "settle"
)

type Event struct {
	Kind EventKind
	// NewStart is the target of a Reschedule.
	NewStart time.Time
	// RoomBusy is asserted by the caller for Start: another appointment in the
	// same room is already in service.
	RoomBusy bool
	// Automatic marks a scheduler-driven Finish, which must wait for tempo_fim.
	Automatic bool
}

// Apply is the only code path that changes an appointment's status. It
// returns the updated copy or a validation error and never mutates appt.
func Apply(appt model.Appointment, ev Event, now time.Time) (model.Appointment, error) {
	next := appt
	switch ev.Kind {
	case MarkPresent:
		if !isWaiting(appt.Status) {
			return appt, model.ErrInvalidTransition
		}
		next.Present = true
		next.Status = model.StatusConfirmed

	case UnmarkPresent:
		if !isWaiting(appt.Status) {
			return appt, model.ErrInvalidTransition
		}
		next.Present = false
		next.Status = model.StatusAwaitingConfirmation

	case PaymentApproved:
		switch appt.Status {
		case model.StatusAwaitingConfirmation:
			next.Status = model.StatusConfirmed
		case model.StatusConfirmed:
			return appt, nil
		default:
			return appt, model.ErrInvalidTransition
		}

	case PaymentRejected:
		switch appt.Status {
		case model.StatusAwaitingConfirmation:
			return appt, nil
		case model.StatusConfirmed:
			next.Status = model.StatusAwaitingConfirmation
			next.Present = false
		default:
			return appt, model.ErrInvalidTransition
		}

	case Start:
		if appt.Status != model.StatusConfirmed || now.Before(appt.ScheduledStart) || ev.RoomBusy {
			return appt, model.ErrInvalidTransition
		}
		started := now
		ends := now.Add(appt.Duration())
		next.ServiceStartedAt = &started
		next.ServiceEndsAt = &ends
		next.Status = model.StatusInService

	case Finish:
		if appt.Status != model.StatusInService {
			return appt, model.ErrInvalidTransition
		}
		if ev.Automatic && (appt.ServiceEndsAt == nil || now.Before(*appt.ServiceEndsAt)) {
			return appt, model.ErrInvalidTransition
		}
		next.Status = model.StatusCompleted

	case Cancel:
		if !isWaiting(appt.Status) {
			return appt, model.ErrInvalidTransition
		}
		switch policy.Decide(appt.Cancellations, appt.Rescheduled) {
		case policy.Blocked:
			return appt, model.ErrLimitExceeded
		case policy.AllowReschedule:
			return appt, model.ErrCancelNotAllowed
		}
		next.Cancellations = 1
		next.Present = false
		next.Status = model.StatusAwaitingConfirmation

	case Reschedule:
		if !isWaiting(appt.Status) {
			return appt, model.ErrInvalidTransition
		}
		switch policy.Decide(appt.Cancellations, appt.Rescheduled) {
		case policy.Blocked:
			return appt, model.ErrLimitExceeded
		case policy.AllowCancel:
			return appt, model.ErrRescheduleNotAllowed
		}
		if ev.NewStart.IsZero() {
			return appt, model.ErrInvalidRequest
		}
		next.SetSchedule(ev.NewStart)
		next.Rescheduled = true

	case Settle:
		if appt.Status != model.StatusInService && appt.Status != model.StatusCompleted {
			return appt, model.ErrInvalidTransition
		}
		if appt.Partial == nil || appt.Partial.Status != model.RemainingPending {
			return appt, model.ErrNothingToSettle
		}
		p := *appt.Partial
		settled := now
		p.Status = model.RemainingSettled
		p.SettledAt = &settled
		next.Partial = &p

	default:
		return appt, fmt.Errorf("lifecycle: unknown event %q", ev.Kind)
	}
	next.UpdatedAt = now
	return next, nil
}

func isWaiting(s model.Status) bool {
	return s == model.StatusAwaitingConfirmation || s == model.StatusConfirmed
}

// FinishNotes are captured by the operator when a service ends.
type FinishNotes struct {
	Discount     decimal.Decimal `json:"discount"`
	Measurements string          `json:"measurements"`
	Notes        string          `json:"notes"`
}

// Finalize turns a completed appointment into its immutable finalized record.
func Finalize(appt model.Appointment, notes FinishNotes, now time.Time, by model.FinishedBy) (model.FinalizedAppointment, error) {
	if appt.Status != model.StatusCompleted {
		return model.FinalizedAppointment{}, model.ErrInvalidTransition
	}
	if notes.Discount.IsNegative() {
		return model.FinalizedAppointment{}, model.ErrInvalidRequest
	}
	if by == "" {
		by = model.FinishedByAutomation
	}
	return model.FinalizedAppointment{
		Appointment:  appt,
		CompletedAt:  now,
		Discount:     notes.Discount,
		Measurements: notes.Measurements,
		Notes:        notes.Notes,
		FinishedBy:   by,
	}, nil
}
