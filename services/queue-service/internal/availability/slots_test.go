package availability

import (
	"testing"
	"time"

	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/model"
)

func hairBooking(id string, start time.Time, mins int) model.Appointment {
	a := model.Appointment{ID: id, Room: "hair", DurationMinutes: mins, Status: model.StatusConfirmed}
	a.SetSchedule(start)
	return a
}

func findSlot(t *testing.T, slots []Slot, at time.Time) Slot {
	t.Helper()
	for _, s := range slots {
		if s.Start.Equal(at) {
			return s
		}
	}
	t.Fatalf("no slot at %s", at.Format(time.RFC3339))
	return Slot{}
}

func TestOperatingWindow_DefaultHours(t *testing.T) {
	cfg := model.ScheduleConfig{}.Defaults()
	day := time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)
	win, err := OperatingWindow(day, cfg)
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	if win.Start.Hour() != 8 || win.End.Hour() != 19 {
		t.Fatalf("expected 08:00-19:00, got %s-%s", win.Start.Format("15:04"), win.End.Format("15:04"))
	}
	if got := len(Grid(win, cfg.SlotStep(), 30*time.Minute, nil)); got != 22 {
		t.Fatalf("expected 22 slots, got %d", got)
	}
}

func TestOperatingWindow_StepMustDivide(t *testing.T) {
	cfg := model.ScheduleConfig{SlotStepMinutes: 45}.Defaults()
	if _, err := OperatingWindow(time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC), cfg); err != ErrStepMismatch {
		t.Fatalf("expected ErrStepMismatch, got %v", err)
	}
}

func TestGrid_EmptyWindowIsEmptySlice(t *testing.T) {
	at := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	slots := Grid(Interval{Start: at, End: at}, 30*time.Minute, 30*time.Minute, nil)
	if slots == nil || len(slots) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", slots)
	}
}

// Room-filtered query without a service: 10:00-10:40 booked in "hair".
func TestRoomGrid_ExactStart(t *testing.T) {
	cfg := model.ScheduleConfig{}.Defaults()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	existing := []model.Appointment{hairBooking("a1", day.Add(10*time.Hour), 40)}

	win, err := OperatingWindow(day, cfg)
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	slots := ExactStartGrid(win, cfg.SlotStep(), Starts("hair", existing, ""))

	if findSlot(t, slots, day.Add(10*time.Hour)).Available {
		t.Fatalf("10:00 must be unavailable")
	}
	if !findSlot(t, slots, day.Add(9*time.Hour+30*time.Minute)).Available {
		t.Fatalf("09:30 must be available")
	}
	if !findSlot(t, slots, day.Add(10*time.Hour+30*time.Minute)).Available {
		t.Fatalf("10:30 must be available")
	}
}

func TestServiceGrid_HalfOpenOverlap(t *testing.T) {
	cfg := model.ScheduleConfig{}.Defaults()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	existing := []model.Appointment{hairBooking("a1", day.Add(10*time.Hour), 40)}

	win, err := OperatingWindow(day, cfg)
	if err != nil {
		t.Fatalf("window: %v", err)
	}
	slots := Grid(win, cfg.SlotStep(), 30*time.Minute, Busy("hair", existing, ""))

	if !findSlot(t, slots, day.Add(9*time.Hour+30*time.Minute)).Available {
		t.Fatalf("09:30-10:00 ends exactly at the booking start and must be available")
	}
	if findSlot(t, slots, day.Add(10*time.Hour)).Available {
		t.Fatalf("10:00 must be unavailable")
	}
	if findSlot(t, slots, day.Add(10*time.Hour+30*time.Minute)).Available {
		t.Fatalf("10:30-11:00 overlaps 10:00-10:40 and must be unavailable")
	}
	if !findSlot(t, slots, day.Add(11*time.Hour)).Available {
		t.Fatalf("11:00 must be available")
	}
	if findSlot(t, slots, day.Add(18*time.Hour+30*time.Minute)).Available != true {
		t.Fatalf("18:30-19:00 fits before close")
	}

	other := Grid(win, cfg.SlotStep(), 30*time.Minute, Busy("nails", existing, ""))
	if !findSlot(t, other, day.Add(10*time.Hour)).Available {
		t.Fatalf("another room must not be blocked")
	}
}

func TestGrid_LongServiceRunningPastClose(t *testing.T) {
	cfg := model.ScheduleConfig{}.Defaults()
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	win, _ := OperatingWindow(day, cfg)
	slots := Grid(win, cfg.SlotStep(), 40*time.Minute, nil)
	if findSlot(t, slots, day.Add(18*time.Hour+30*time.Minute)).Available {
		t.Fatalf("18:30 + 40m runs past 19:00 and must be unavailable")
	}
}
