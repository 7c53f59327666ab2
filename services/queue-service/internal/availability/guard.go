package availability

import (
	"time"

	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/model"
)

// Guard holds the input-boundary date rules.
//
// Privileged operators bypass only the one-appointment-per-day rule; past
// dates, the horizon and closed weekdays still apply to them.
type Guard struct {
	Now        time.Time
	Config     model.ScheduleConfig
	Privileged bool
}

// CheckDate validates day for customerID against existing live appointments.
func (g Guard) CheckDate(day time.Time, customerID string, existing []model.Appointment, ignoreID string) error {
	cfg := g.Config.Defaults()
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	target := midnight(day.In(loc))
	today := midnight(g.Now.In(loc))

	if target.Before(today) {
		return model.ErrDateInPast
	}
	if target.After(today.AddDate(0, 0, cfg.HorizonDays)) {
		return model.ErrDateBeyondHorizon
	}
	if !cfg.OpenOn(target.Weekday()) {
		return model.ErrDayClosed
	}
	if !g.Privileged {
		if _, ok := SameDayHolder(customerID, target, loc, existing, ignoreID); ok {
			return model.ErrDuplicateDay
		}
	}
	return nil
}

// CheckStart validates a concrete start instant: it must not be in the past
// and the booking must fit inside the operating window.
func (g Guard) CheckStart(start time.Time, duration time.Duration) error {
	cfg := g.Config.Defaults()
	if start.Before(g.Now) {
		return model.ErrDateInPast
	}
	win, err := OperatingWindow(start, cfg)
	if err != nil {
		return err
	}
	if start.Before(win.Start) || start.Add(duration).After(win.End) {
		return model.ErrOutsideHours
	}
	return nil
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
