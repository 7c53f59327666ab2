package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/model"
)

var (
	// ErrConflict means the write would double-book a room or a start time.
	ErrConflict = errors.New("appointment interval conflicts with an existing booking")
	// ErrStale means the record moved away from the expected status since it was read.
	ErrStale = errors.New("appointment changed since it was read")
	// ErrUnavailable marks a transient store failure.
	ErrUnavailable = errors.New("store temporarily unavailable")
)

// Filter narrows ListActive. Zero fields match everything; From/To bound the
// scheduled start as [From, To).
type Filter struct {
	Room       string
	CustomerID string
	From       time.Time
	To         time.Time
}

func (f Filter) Match(a model.Appointment) bool {
	if f.Room != "" && a.Room != f.Room {
		return false
	}
	if f.CustomerID != "" && a.Customer.ID != f.CustomerID {
		return false
	}
	if !f.From.IsZero() && a.ScheduledStart.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !a.ScheduledStart.Before(f.To) {
		return false
	}
	return true
}

type ChangeKind string

const (
	Added    ChangeKind = "added"
	Modified ChangeKind = "modified"
	Removed  ChangeKind = "removed"
	// Synced closes the Initial batch. It carries no appointment; a record
	// known before the batch and absent from it no longer exists.
	Synced ChangeKind = "synced"
)

// ChangeEvent is one entry of the live appointments change stream. Events
// flagged Initial make up the batch of records that existed when the
// subscription started; a Synced event follows the last of them.
type ChangeEvent struct {
	Kind        ChangeKind
	Appointment model.Appointment
	Previous    *model.Appointment
	Initial     bool
}

// Store is the document store boundary. Every mutation is a single-record
// write keyed by appointment id.
type Store interface {
	Insert(ctx context.Context, appt model.Appointment) error
	Get(ctx context.Context, id string) (model.Appointment, error)
	// Update writes appt only if the stored status still equals expected.
	Update(ctx context.Context, appt model.Appointment, expected model.Status) error
	// Promote moves appt into service only if it is still confirmed and no
	// sibling in its room is in service at write time. A lost race returns
	// false with a nil error.
	Promote(ctx context.Context, appt model.Appointment) (bool, error)
	// Complete stores the finalized record and removes the live one.
	Complete(ctx context.Context, fin model.FinalizedAppointment) error
	ListActive(ctx context.Context, f Filter) ([]model.Appointment, error)
	GetFinalized(ctx context.Context, id string) (model.FinalizedAppointment, error)
	UpdateFinalized(ctx context.Context, fin model.FinalizedAppointment) error

	GetService(ctx context.Context, id string) (model.Service, error)
	GetEmployee(ctx context.Context, id string) (model.Employee, error)
	Schedule(ctx context.Context) (model.ScheduleConfig, error)

	Subscribe(ctx context.Context) (<-chan ChangeEvent, error)
}

func IsConflict(err error) bool {
	if errors.Is(err, ErrConflict) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == "23P01" || pgErr.Code == "23505")
}

func IsNotFound(err error) bool {
	return errors.Is(err, model.ErrNotFound) || errors.Is(err, pgx.ErrNoRows)
}

// IsTransient reports whether the caller should retry the same operation.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnavailable) || errors.Is(err, ErrStale) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "57P01", "55P03":
			return true
		}
		return len(pgErr.Code) == 5 && pgErr.Code[:2] == "08"
	}
	return false
}

func clone(a model.Appointment) model.Appointment {
	if a.Partial != nil {
		p := *a.Partial
		a.Partial = &p
	}
	if a.ServiceStartedAt != nil {
		t := *a.ServiceStartedAt
		a.ServiceStartedAt = &t
	}
	if a.ServiceEndsAt != nil {
		t := *a.ServiceEndsAt
		a.ServiceEndsAt = &t
	}
	return a
}
