package booking

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/lifecycle"
	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/model"
	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/policy"
	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/storage"
)

// Monday, before opening.
var monday = time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)

func at(hh, mm int) time.Time {
	return time.Date(2026, 3, 2, hh, mm, 0, 0, time.UTC)
}

type fixture struct {
	svc   *Service
	store *storage.MemoryStore
	now   time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: monday}
	f.store = storage.NewMemoryStore(storage.Catalog{
		Services: []model.Service{
			{ID: "hair", Name: "Haircut", Price: decimal.NewFromInt(90), DurationMinutes: 40, Room: "hair"},
			{ID: "nails", Name: "Manicure", Price: decimal.NewFromInt(45), DurationMinutes: 30, Room: "nails"},
		},
		Employees: []model.Employee{
			{ID: "joao", Name: "Joao", Active: true, Specialties: []string{"hair"}, DurationOverrides: map[string]int{"hair": 60}},
			{ID: "off", Name: "Off", Active: false},
		},
	})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = NewService(f.store, logger, WithClock(func() time.Time { return f.now }))
	return f
}

func customer(id string) Actor { return Actor{ID: id} }

var operator = Actor{ID: "op-1", Privileged: true}

func (f *fixture) book(t *testing.T, who string, serviceID string, start time.Time, method model.PaymentMethod) model.Appointment {
	t.Helper()
	a, err := f.svc.Book(context.Background(), BookRequest{
		Customer:      model.Customer{ID: who, Name: who},
		ServiceID:     serviceID,
		Start:         start,
		PaymentMethod: method,
	}, customer(who))
	require.NoError(t, err)
	return a
}

func TestBook_ConflictsAndBackToBack(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := f.book(t, "c1", "hair", at(10, 0), model.PaymentCash)
	assert.Equal(t, model.StatusConfirmed, a.Status)
	assert.Equal(t, at(10, 40), a.ScheduledEnd)

	_, err := f.svc.Book(ctx, BookRequest{Customer: model.Customer{ID: "c2"}, ServiceID: "hair", Start: at(10, 30)}, customer("c2"))
	assert.ErrorIs(t, err, model.ErrSlotUnavailable)

	// other room at the same time is fine
	f.book(t, "c3", "nails", at(10, 0), model.PaymentPix)

	_, err = f.svc.Book(ctx, BookRequest{Customer: model.Customer{ID: "c4"}, ServiceID: "hair", Start: at(10, 15)}, customer("c4"))
	assert.ErrorIs(t, err, model.ErrSlotUnavailable, "off-grid start")
}

func TestBook_DateGuards(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := func(start time.Time) BookRequest {
		return BookRequest{Customer: model.Customer{ID: "c1"}, ServiceID: "hair", Start: start}
	}

	_, err := f.svc.Book(ctx, req(at(10, 0).AddDate(0, 0, -1)), customer("c1"))
	assert.ErrorIs(t, err, model.ErrDateInPast)
	_, err = f.svc.Book(ctx, req(at(10, 0).AddDate(0, 0, 6)), customer("c1"))
	assert.ErrorIs(t, err, model.ErrDayClosed)
	_, err = f.svc.Book(ctx, req(at(10, 0).AddDate(0, 0, 35)), customer("c1"))
	assert.ErrorIs(t, err, model.ErrDateBeyondHorizon)
	_, err = f.svc.Book(ctx, req(at(18, 30)), customer("c1"))
	assert.ErrorIs(t, err, model.ErrOutsideHours)
}

func TestBook_SameDayRuleAndOperatorBypass(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.book(t, "c1", "hair", at(9, 0), model.PaymentCash)

	_, err := f.svc.Book(ctx, BookRequest{Customer: model.Customer{ID: "c1"}, ServiceID: "nails", Start: at(11, 0)}, customer("c1"))
	require.ErrorIs(t, err, model.ErrDuplicateDay)
	assert.Equal(t, "you already have an appointment this day", err.Error())

	walkIn, err := f.svc.Book(ctx, BookRequest{Customer: model.Customer{ID: "c1"}, ServiceID: "nails", Start: at(11, 0), PaymentMethod: model.PaymentPix, WalkIn: true}, operator)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, walkIn.Status)
	assert.True(t, walkIn.Present)
}

func TestBook_EmployeeOverridesAndInactive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.svc.Book(ctx, BookRequest{Customer: model.Customer{ID: "c1"}, ServiceID: "hair", EmployeeID: "joao", Start: at(9, 0)}, customer("c1"))
	require.NoError(t, err)
	assert.Equal(t, 60, a.DurationMinutes)
	assert.Equal(t, at(10, 0), a.ScheduledEnd)

	_, err = f.svc.Book(ctx, BookRequest{Customer: model.Customer{ID: "c2"}, ServiceID: "hair", EmployeeID: "off", Start: at(11, 0)}, customer("c2"))
	assert.ErrorIs(t, err, model.ErrInactiveEmployee)
	_, err = f.svc.Book(ctx, BookRequest{Customer: model.Customer{ID: "c2"}, ServiceID: "nails", EmployeeID: "joao", Start: at(11, 0)}, customer("c2"))
	assert.ErrorIs(t, err, model.ErrInactiveEmployee)
}

func TestBook_SimpleFlowExactStart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, "c1", "", at(9, 0), model.PaymentCash)
	assert.Equal(t, 30, a.DurationMinutes)
	assert.Equal(t, "", a.Room)

	_, err := f.svc.Book(ctx, BookRequest{Customer: model.Customer{ID: "c2"}, Start: at(9, 0)}, customer("c2"))
	assert.ErrorIs(t, err, model.ErrSlotUnavailable)
	f.book(t, "c2", "", at(9, 30), model.PaymentCash)
}

func TestBook_ForbidsBookingForOthers(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Book(context.Background(), BookRequest{Customer: model.Customer{ID: "c2"}, ServiceID: "hair", Start: at(9, 0)}, customer("c1"))
	assert.ErrorIs(t, err, model.ErrForbidden)
}

func TestSlots_ServiceAndRoomQueries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.book(t, "c1", "hair", at(10, 0), model.PaymentCash)

	byRoom, err := f.svc.Slots(ctx, SlotQuery{Date: at(0, 0), Room: "hair"})
	require.NoError(t, err)
	avail := map[string]bool{}
	for _, s := range byRoom.Slots {
		avail[s.Start.Format("15:04")] = s.Available
	}
	assert.False(t, avail["10:00"])
	assert.True(t, avail["09:30"])
	assert.True(t, avail["10:30"])

	bySvc, err := f.svc.Slots(ctx, SlotQuery{Date: at(0, 0), ServiceID: "hair"})
	require.NoError(t, err)
	assert.Equal(t, 40, bySvc.DurationMinutes)
	for _, s := range bySvc.Slots {
		avail[s.Start.Format("15:04")] = s.Available
	}
	assert.False(t, avail["10:30"])
	assert.True(t, avail["11:00"])

	_, err = f.svc.Slots(ctx, SlotQuery{Date: at(0, 0), ServiceID: "nails", CustomerID: "c1"})
	assert.ErrorIs(t, err, model.ErrDuplicateDay)

	f.now = at(12, 10)
	later, err := f.svc.Slots(ctx, SlotQuery{Date: at(0, 0), ServiceID: "nails"})
	require.NoError(t, err)
	for _, s := range later.Slots {
		if s.Start.Before(f.now) {
			assert.False(t, s.Available, "past slot %s", s.Start.Format("15:04"))
		}
	}
}

// Cancel once, reschedule once, then everything is blocked.
func TestCancelRescheduleFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	y := f.book(t, "c1", "hair", at(10, 0), model.PaymentCash)

	d, err := f.svc.Allowed(ctx, y.ID, customer("c1"))
	require.NoError(t, err)
	assert.Equal(t, policy.AllowCancel, d.Action)

	y, err = f.svc.Cancel(ctx, y.ID, customer("c1"))
	require.NoError(t, err)
	assert.Equal(t, 1, y.Cancellations)
	assert.Equal(t, model.StatusAwaitingConfirmation, y.Status)

	_, err = f.svc.Cancel(ctx, y.ID, customer("c1"))
	assert.ErrorIs(t, err, model.ErrCancelNotAllowed)

	d, err = f.svc.Allowed(ctx, y.ID, customer("c1"))
	require.NoError(t, err)
	assert.Equal(t, policy.AllowReschedule, d.Action)

	y, err = f.svc.Reschedule(ctx, y.ID, at(14, 0), customer("c1"))
	require.NoError(t, err)
	assert.True(t, y.Rescheduled)
	assert.Equal(t, at(14, 40), y.ScheduledEnd)

	_, err = f.svc.Reschedule(ctx, y.ID, at(15, 0), customer("c1"))
	assert.ErrorIs(t, err, model.ErrLimitExceeded)
	_, err = f.svc.Cancel(ctx, y.ID, customer("c1"))
	assert.ErrorIs(t, err, model.ErrLimitExceeded)

	stored, err := f.store.Get(ctx, y.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Cancellations, "rejected attempts leave no side effect")
	assert.Equal(t, at(14, 0), stored.ScheduledStart)

	_, err = f.svc.Cancel(ctx, y.ID, customer("someone-else"))
	assert.ErrorIs(t, err, model.ErrForbidden)
}

func TestReschedule_RechecksSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.book(t, "c1", "hair", at(10, 0), model.PaymentCash)
	y := f.book(t, "c2", "hair", at(11, 0), model.PaymentCash)
	_, err := f.svc.Cancel(ctx, y.ID, customer("c2"))
	require.NoError(t, err)

	_, err = f.svc.Reschedule(ctx, y.ID, at(10, 30), customer("c2"))
	assert.ErrorIs(t, err, model.ErrSlotUnavailable)

	moved, err := f.svc.Reschedule(ctx, y.ID, at(11, 30), customer("c2"))
	require.NoError(t, err, "overlapping its own old interval is allowed")
	assert.Equal(t, at(11, 30), moved.ScheduledStart)
}

func TestConfirmAttendanceAndPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.book(t, "c1", "hair", at(10, 0), model.PaymentPix)
	require.Equal(t, model.StatusAwaitingConfirmation, a.Status)

	a, err := f.svc.ApplyPayment(ctx, PaymentSignal{AppointmentID: a.ID, Status: PaymentApproved, Provider: "stripe"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, a.Status)

	a, err = f.svc.ConfirmAttendance(ctx, a.ID, true, customer("c1"))
	require.NoError(t, err)
	assert.True(t, a.Present)

	a, err = f.svc.ConfirmAttendance(ctx, a.ID, false, customer("c1"))
	require.NoError(t, err)
	assert.Equal(t, model.StatusAwaitingConfirmation, a.Status)

	_, err = f.svc.ApplyPayment(ctx, PaymentSignal{AppointmentID: a.ID, Status: "refunded"})
	assert.ErrorIs(t, err, model.ErrInvalidRequest)
}

func TestFinishAndSettleFinalized(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, err := f.svc.Book(ctx, BookRequest{
		Customer:        model.Customer{ID: "c1"},
		ServiceID:       "hair",
		Start:           at(10, 0),
		PaymentMethod:   model.PaymentCash,
		PartialFraction: decimal.NewFromInt(1).Div(decimal.NewFromInt(3)),
	}, customer("c1"))
	require.NoError(t, err)

	f.now = at(10, 0)
	started, err := lifecycle.Apply(a, lifecycle.Event{Kind: lifecycle.Start}, f.now)
	require.NoError(t, err)
	ok, err := f.store.Promote(ctx, started)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.svc.Finish(ctx, a.ID, lifecycle.FinishNotes{}, customer("c1"))
	assert.ErrorIs(t, err, model.ErrForbidden)

	f.now = at(10, 20)
	fin, err := f.svc.Finish(ctx, a.ID, lifecycle.FinishNotes{Discount: decimal.NewFromInt(5), Notes: "beard trim"}, operator)
	require.NoError(t, err)
	assert.Equal(t, model.FinishedBy("op-1"), fin.FinishedBy)
	assert.Equal(t, model.RemainingPending, fin.Partial.Status)

	p, err := f.svc.Settle(ctx, a.ID, operator)
	require.NoError(t, err)
	assert.Equal(t, model.RemainingSettled, p.Status)

	stored, err := f.store.GetFinalized(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RemainingSettled, stored.Partial.Status)

	_, err = f.svc.Settle(ctx, a.ID, operator)
	assert.ErrorIs(t, err, model.ErrNothingToSettle)
}
