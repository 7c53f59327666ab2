package availability

import (
	"errors"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/model"
)

type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps uses half-open intervals: [a,b) overlaps [c,d) iff a < d && c < b.
// Back-to-back bookings therefore never collide.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

type Slot struct {
	Start     time.Time `json:"start_time"`
	Available bool      `json:"available"`
}

var ErrStepMismatch = errors.New("slot step must evenly divide the operating window")

// OperatingWindow returns [open, close) on day in the schedule's location.
func OperatingWindow(day time.Time, cfg model.ScheduleConfig) (Interval, error) {
	loc, err := cfg.Location()
	if err != nil {
		return Interval{}, err
	}
	day = day.In(loc)
	open, err := clockOn(day, cfg.Open)
	if err != nil {
		return Interval{}, fmt.Errorf("open: %w", err)
	}
	closing, err := clockOn(day, cfg.Close)
	if err != nil {
		return Interval{}, fmt.Errorf("close: %w", err)
	}
	win := Interval{Start: open, End: closing}
	if !win.End.After(win.Start) {
		return win, nil
	}
	step := cfg.SlotStep()
	if step <= 0 || win.End.Sub(win.Start)%step != 0 {
		return Interval{}, ErrStepMismatch
	}
	return win, nil
}

func clockOn(day time.Time, hhmm string) (time.Time, error) {
	c, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), c.Hour(), c.Minute(), 0, 0, day.Location()), nil
}

// Grid returns every step start inside window. A slot is available when a
// booking of length duration starting there fits before close and does not
// overlap any busy interval. An empty window yields an empty grid.
func Grid(window Interval, step, duration time.Duration, busy []Interval) []Slot {
	if step <= 0 || duration <= 0 || !window.End.After(window.Start) {
		return []Slot{}
	}
	slots := make([]Slot, 0, int(window.End.Sub(window.Start)/step))
	for t := window.Start; t.Before(window.End); t = t.Add(step) {
		candidate := Interval{Start: t, End: t.Add(duration)}
		slots = append(slots, Slot{
			Start:     t,
			Available: !candidate.End.After(window.End) && !overlapsAny(candidate.Start, candidate.End, busy),
		})
	}
	return slots
}

// ExactStartGrid is the looser check of the simple-service flow: a slot is
// taken only when some appointment anywhere starts at exactly that time.
func ExactStartGrid(window Interval, step time.Duration, starts []time.Time) []Slot {
	if step <= 0 || !window.End.After(window.Start) {
		return []Slot{}
	}
	taken := make(map[int64]struct{}, len(starts))
	for _, s := range starts {
		taken[s.Unix()] = struct{}{}
	}
	var slots []Slot
	for t := window.Start; t.Before(window.End); t = t.Add(step) {
		_, busy := taken[t.Unix()]
		slots = append(slots, Slot{Start: t, Available: !busy})
	}
	if slots == nil {
		return []Slot{}
	}
	return slots
}

func overlapsAny(start, end time.Time, busy []Interval) bool {
	for _, b := range busy {
		if start.Before(b.End) && b.Start.Before(end) {
			return true
		}
	}
	return false
}
