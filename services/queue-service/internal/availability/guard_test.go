package availability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/model"
)

// 2026-03-02 is a Monday.
var monday = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestGuard_CheckDate(t *testing.T) {
	g := Guard{Now: monday, Config: model.ScheduleConfig{}.Defaults()}

	assert.ErrorIs(t, g.CheckDate(monday.AddDate(0, 0, -1), "c1", nil, ""), model.ErrDateInPast)
	assert.ErrorIs(t, g.CheckDate(monday.AddDate(0, 0, 31), "c1", nil, ""), model.ErrDateBeyondHorizon)
	assert.ErrorIs(t, g.CheckDate(monday.AddDate(0, 0, 6), "c1", nil, ""), model.ErrDayClosed)
	assert.NoError(t, g.CheckDate(monday, "c1", nil, ""))
	assert.NoError(t, g.CheckDate(monday.AddDate(0, 0, 30), "c1", nil, ""))
}

func TestGuard_SameDayRule(t *testing.T) {
	held := hairBooking("a1", monday.Add(2*time.Hour), 40)
	held.Customer.ID = "c1"
	existing := []model.Appointment{held}

	g := Guard{Now: monday, Config: model.ScheduleConfig{}.Defaults()}
	require.ErrorIs(t, g.CheckDate(monday, "c1", existing, ""), model.ErrDuplicateDay)
	require.NoError(t, g.CheckDate(monday, "c2", existing, ""))
	require.NoError(t, g.CheckDate(monday, "c1", existing, "a1"), "rescheduling the holder itself is fine")

	g.Privileged = true
	require.NoError(t, g.CheckDate(monday, "c1", existing, ""))
	require.ErrorIs(t, g.CheckDate(monday.AddDate(0, 0, 6), "c1", existing, ""), model.ErrDayClosed)

	done := held
	done.Status = model.StatusCompleted
	g.Privileged = false
	require.NoError(t, g.CheckDate(monday, "c1", []model.Appointment{done}, ""))
}

func TestGuard_CheckStart(t *testing.T) {
	g := Guard{Now: monday, Config: model.ScheduleConfig{}.Defaults()}
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	assert.ErrorIs(t, g.CheckStart(day.Add(8*time.Hour), 30*time.Minute), model.ErrDateInPast)
	assert.ErrorIs(t, g.CheckStart(day.Add(18*time.Hour+40*time.Minute), 40*time.Minute), model.ErrOutsideHours)
	assert.NoError(t, g.CheckStart(day.Add(18*time.Hour+20*time.Minute), 40*time.Minute))
}

func TestConflicts(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	existing := []model.Appointment{hairBooking("a1", day.Add(10*time.Hour), 40)}

	backToBack := Interval{Start: day.Add(10*time.Hour + 40*time.Minute), End: day.Add(11*time.Hour + 20*time.Minute)}
	assert.Empty(t, Conflicts(backToBack, "hair", existing, ""))

	overlapping := Interval{Start: day.Add(10*time.Hour + 30*time.Minute), End: day.Add(11 * time.Hour)}
	assert.Len(t, Conflicts(overlapping, "hair", existing, ""), 1)
	assert.Empty(t, Conflicts(overlapping, "hair", existing, "a1"))
	assert.Empty(t, Conflicts(overlapping, "nails", existing, ""))

	assert.True(t, StartTaken(day.Add(10*time.Hour), existing, ""))
	assert.False(t, StartTaken(day.Add(10*time.Hour+30*time.Minute), existing, ""))
}
