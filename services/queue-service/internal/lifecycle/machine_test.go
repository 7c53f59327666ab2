package lifecycle

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/model"
	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/policy"
)

var now = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func haircut() model.Service {
	return model.Service{ID: "svc-hair", Name: "Haircut", Price: decimal.NewFromInt(90), DurationMinutes: 40, Room: "hair"}
}

func draft(method model.PaymentMethod) Draft {
	return Draft{
		Customer:      model.Customer{ID: "c1", Name: "Ana"},
		Service:       haircut(),
		Start:         now.Add(time.Hour),
		PaymentMethod: method,
	}
}

func TestCreate_InitialStatus(t *testing.T) {
	cases := []struct {
		method model.PaymentMethod
		walkIn bool
		want   model.Status
	}{
		{model.PaymentPix, false, model.StatusAwaitingConfirmation},
		{model.PaymentCard, false, model.StatusAwaitingConfirmation},
		{model.PaymentCash, false, model.StatusConfirmed},
		{model.PaymentInPerson, false, model.StatusConfirmed},
		{model.PaymentPix, true, model.StatusConfirmed},
	}
	for _, tc := range cases {
		d := draft(tc.method)
		d.WalkIn = tc.walkIn
		a, err := Create(d, now)
		require.NoError(t, err)
		assert.Equal(t, tc.want, a.Status, "method=%s walkIn=%v", tc.method, tc.walkIn)
		assert.Equal(t, a.ScheduledStart.Add(40*time.Minute), a.ScheduledEnd)
		assert.NotEmpty(t, a.ID)
		assert.Equal(t, "hair", a.Room)
	}
}

func TestCreate_RejectsIncompleteDraft(t *testing.T) {
	_, err := Create(Draft{Service: haircut(), Start: now}, now)
	assert.ErrorIs(t, err, model.ErrInvalidRequest)
}

func TestApply_AttendanceToggle(t *testing.T) {
	a, err := Create(draft(model.PaymentPix), now)
	require.NoError(t, err)

	a, err = Apply(a, Event{Kind: MarkPresent}, now)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, a.Status)
	assert.True(t, a.Present)

	a, err = Apply(a, Event{Kind: UnmarkPresent}, now)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAwaitingConfirmation, a.Status)
	assert.False(t, a.Present)
}

func TestApply_PaymentSignals(t *testing.T) {
	a, err := Create(draft(model.PaymentPix), now)
	require.NoError(t, err)

	same, err := Apply(a, Event{Kind: PaymentRejected}, now)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAwaitingConfirmation, same.Status)

	a, err = Apply(a, Event{Kind: PaymentApproved}, now)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, a.Status)

	again, err := Apply(a, Event{Kind: PaymentApproved}, now)
	require.NoError(t, err)
	assert.Equal(t, a, again)
}

// Confirmed appointment one second late is started with tempo_inicio=now.
func TestApply_Start(t *testing.T) {
	a, err := Create(draft(model.PaymentCash), now.Add(-2*time.Hour))
	require.NoError(t, err)
	a.SetSchedule(now.Add(-time.Second))

	_, err = Apply(a, Event{Kind: Start, RoomBusy: true}, now)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	early := a
	early.SetSchedule(now.Add(time.Second))
	_, err = Apply(early, Event{Kind: Start}, now)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	started, err := Apply(a, Event{Kind: Start}, now)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInService, started.Status)
	require.NotNil(t, started.ServiceStartedAt)
	require.NotNil(t, started.ServiceEndsAt)
	assert.Equal(t, now, *started.ServiceStartedAt)
	assert.Equal(t, now.Add(40*time.Minute), *started.ServiceEndsAt)
	assert.Nil(t, a.ServiceStartedAt, "input must not be mutated")
}

func TestApply_Finish(t *testing.T) {
	a, _ := Create(draft(model.PaymentCash), now.Add(-2*time.Hour))
	a.SetSchedule(now)
	a, err := Apply(a, Event{Kind: Start}, now)
	require.NoError(t, err)

	_, err = Apply(a, Event{Kind: Finish, Automatic: true}, now.Add(39*time.Minute))
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	done, err := Apply(a, Event{Kind: Finish, Automatic: true}, now.Add(40*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, done.Status)

	early, err := Apply(a, Event{Kind: Finish}, now.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, early.Status)

	_, err = Apply(done, Event{Kind: Cancel}, now)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
}

func TestApply_CancelRescheduleLimits(t *testing.T) {
	y, err := Create(draft(model.PaymentCash), now)
	require.NoError(t, err)
	y.Present = true

	y, err = Apply(y, Event{Kind: Cancel}, now)
	require.NoError(t, err)
	assert.Equal(t, 1, y.Cancellations)
	assert.Equal(t, model.StatusAwaitingConfirmation, y.Status)
	assert.False(t, y.Present)

	_, err = Apply(y, Event{Kind: Cancel}, now)
	assert.ErrorIs(t, err, model.ErrCancelNotAllowed)

	price := y.Price
	target := now.Add(26 * time.Hour)
	y, err = Apply(y, Event{Kind: Reschedule, NewStart: target}, now)
	require.NoError(t, err)
	assert.True(t, y.Rescheduled)
	assert.Equal(t, target, y.ScheduledStart)
	assert.Equal(t, target.Add(40*time.Minute), y.ScheduledEnd)
	assert.True(t, price.Equal(y.Price))

	_, err = Apply(y, Event{Kind: Reschedule, NewStart: target.Add(time.Hour)}, now)
	assert.ErrorIs(t, err, model.ErrLimitExceeded)
	_, err = Apply(y, Event{Kind: Cancel}, now)
	assert.ErrorIs(t, err, model.ErrLimitExceeded)
}

func TestApply_RescheduleRequiresCancellation(t *testing.T) {
	a, _ := Create(draft(model.PaymentCash), now)
	_, err := Apply(a, Event{Kind: Reschedule, NewStart: now.Add(time.Hour)}, now)
	assert.ErrorIs(t, err, model.ErrRescheduleNotAllowed)

	a.Cancellations = model.CancellationsExceeded
	_, err = Apply(a, Event{Kind: Reschedule, NewStart: now.Add(time.Hour)}, now)
	assert.ErrorIs(t, err, model.ErrLimitExceeded)
}

func TestApply_GuardsFollowPolicyTable(t *testing.T) {
	for _, c := range []int{0, 1, model.CancellationsExceeded} {
		for _, rescheduled := range []bool{false, true} {
			a, _ := Create(draft(model.PaymentCash), now)
			a.Cancellations, a.Rescheduled = c, rescheduled
			action := policy.Decide(c, rescheduled)

			_, err := Apply(a, Event{Kind: Cancel}, now)
			if action == policy.AllowCancel {
				assert.NoError(t, err, "cancel at (%d, %v)", c, rescheduled)
			} else {
				assert.Error(t, err, "cancel at (%d, %v)", c, rescheduled)
			}
			_, err = Apply(a, Event{Kind: Reschedule, NewStart: now.Add(time.Hour)}, now)
			if action == policy.AllowReschedule {
				assert.NoError(t, err, "reschedule at (%d, %v)", c, rescheduled)
			} else {
				assert.Error(t, err, "reschedule at (%d, %v)", c, rescheduled)
			}
			if action == policy.Blocked {
				assert.ErrorIs(t, err, model.ErrLimitExceeded)
			}
		}
	}
}

// Completion leaves the remaining payment pending until an explicit settle.
func TestPartialPayment_SettleIsExplicit(t *testing.T) {
	d := draft(model.PaymentPix)
	d.PartialFraction = decimal.NewFromInt(1).Div(decimal.NewFromInt(3))
	a, err := Create(d, now.Add(-2*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, a.Partial)
	assert.True(t, a.Partial.Total.Equal(decimal.NewFromInt(90)))
	assert.True(t, a.Partial.Paid.Equal(decimal.NewFromInt(30)))
	assert.True(t, a.Partial.Remaining.Equal(decimal.NewFromInt(60)))
	assert.Equal(t, model.RemainingPending, a.Partial.Status)

	a.SetSchedule(now)
	a, err = Apply(a, Event{Kind: PaymentApproved}, now)
	require.NoError(t, err)
	a, err = Apply(a, Event{Kind: Start}, now)
	require.NoError(t, err)
	a, err = Apply(a, Event{Kind: Finish, Automatic: true}, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, model.RemainingPending, a.Partial.Status)

	fin, err := Finalize(a, FinishNotes{Discount: decimal.NewFromInt(10)}, now.Add(time.Hour), model.FinishedByAutomation)
	require.NoError(t, err)
	assert.Equal(t, model.RemainingPending, fin.Partial.Status)
	assert.True(t, fin.AmountCharged().Equal(decimal.NewFromInt(80)))

	settled, err := Apply(fin.Appointment, Event{Kind: Settle}, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, model.RemainingSettled, settled.Partial.Status)
	assert.Equal(t, model.RemainingPending, fin.Partial.Status, "settle must copy the sub-state")

	_, err = Apply(settled, Event{Kind: Settle}, now.Add(2*time.Hour))
	assert.ErrorIs(t, err, model.ErrNothingToSettle)
}

func TestNewPartial_RoundsToCents(t *testing.T) {
	p, err := NewPartial(decimal.RequireFromString("100"), decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, "33.33", p.Paid.StringFixed(2))
	assert.Equal(t, "66.67", p.Remaining.StringFixed(2))
}

func TestFinalize_RequiresCompleted(t *testing.T) {
	a, _ := Create(draft(model.PaymentCash), now)
	_, err := Finalize(a, FinishNotes{}, now, "op-1")
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
}
