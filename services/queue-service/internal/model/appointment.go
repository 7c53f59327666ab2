package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusAwaitingConfirmation Status = "awaiting_confirmation"
	StatusConfirmed            Status = "confirmed"
	StatusInService            Status = "in_service"
	StatusCompleted            Status = "completed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusAwaitingConfirmation, StatusConfirmed, StatusInService, StatusCompleted:
		return true
	}
	return false
}

// Terminal reports whether the appointment has left the live queue.
func (s Status) Terminal() bool {
	return s == StatusCompleted
}

type PaymentMethod string

const (
	PaymentPix      PaymentMethod = "pix"
	PaymentCard     PaymentMethod = "card"
	PaymentOnline   PaymentMethod = "online"
	PaymentCash     PaymentMethod = "cash"
	PaymentInPerson PaymentMethod = "in_person"
)

// RequiresConfirmation reports whether the method settles off-site and the
// appointment must wait for a provider signal before it counts as confirmed.
func (m PaymentMethod) RequiresConfirmation() bool {
	switch m {
	case PaymentCash, PaymentInPerson:
		return false
	}
	return true
}

type RemainingStatus string

const (
	RemainingPending RemainingStatus = "pending"
	RemainingSettled RemainingStatus = "settled"
)

// PartialPayment is the up-front fraction sub-state. It never gates the main
// status machine.
type PartialPayment struct {
	Total     decimal.Decimal `json:"valor_total"`
	Paid      decimal.Decimal `json:"valor_pago"`
	Remaining decimal.Decimal `json:"valor_parcial_restante"`
	Status    RemainingStatus `json:"status_restante"`
	SettledAt *time.Time      `json:"settled_at,omitempty"`
}

// CancellationsExceeded is stored when the customer has used up every
// cancellation and reschedule.
const CancellationsExceeded = 2

type Customer struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
	TaxID string `json:"tax_id,omitempty"`
}

type Appointment struct {
	ID               string          `json:"id"`
	Customer         Customer        `json:"customer"`
	ServiceID        string          `json:"service_id"`
	ServiceName      string          `json:"service_name"`
	Room             string          `json:"room"`
	EmployeeID       string          `json:"employee_id"`
	Price            decimal.Decimal `json:"price"`
	ScheduledStart   time.Time       `json:"scheduled_start"`
	ScheduledEnd     time.Time       `json:"scheduled_end"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	Seq              int64           `json:"timestamp"`
	DurationMinutes  int             `json:"duracao"`
	Present          bool            `json:"presente"`
	PaymentMethod    PaymentMethod   `json:"payment_method"`
	Partial          *PartialPayment `json:"partial,omitempty"`
	Cancellations    int             `json:"cancelamentos"`
	Rescheduled      bool            `json:"reagendado"`
	Status           Status          `json:"status"`
	ServiceStartedAt *time.Time      `json:"tempo_inicio,omitempty"`
	ServiceEndsAt    *time.Time      `json:"tempo_fim,omitempty"`

	// Trace context of the request that last wrote the record.
	Traceparent string `json:"traceparent,omitempty"`
	Tracestate  string `json:"tracestate,omitempty"`
}

func (a Appointment) Duration() time.Duration {
	return time.Duration(a.DurationMinutes) * time.Minute
}

// SetSchedule moves the appointment to start and keeps ScheduledEnd equal to
// start plus the duration.
func (a *Appointment) SetSchedule(start time.Time) {
	a.ScheduledStart = start
	a.ScheduledEnd = start.Add(a.Duration())
}

// Day is the calendar day of the scheduled start in loc.
func (a Appointment) Day(loc *time.Location) time.Time {
	s := a.ScheduledStart.In(loc)
	return time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, loc)
}

// Cancelled reports whether the one free cancellation has been used and the
// appointment is waiting for its reschedule.
func (a Appointment) Cancelled() bool {
	return a.Cancellations >= 1 && !a.Rescheduled
}

type FinishedBy string

const FinishedByAutomation FinishedBy = "auto"

type FinalizedAppointment struct {
	Appointment
	CompletedAt  time.Time       `json:"completed_at"`
	Discount     decimal.Decimal `json:"desconto"`
	Measurements string          `json:"medidas,omitempty"`
	Notes        string          `json:"observacoes,omitempty"`
	FinishedBy   FinishedBy      `json:"finished_by"`
}

// AmountCharged is the price after the operator discount, never negative.
func (f FinalizedAppointment) AmountCharged() decimal.Decimal {
	v := f.Price.Sub(f.Discount)
	if v.IsNegative() {
		return decimal.Zero
	}
	return v
}
