package availability

import (
	"time"

	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/model"
)

// Busy returns the intervals held by live appointments in room, skipping ignoreID.
func Busy(room string, existing []model.Appointment, ignoreID string) []Interval {
	var out []Interval
	for _, a := range existing {
		if a.ID == ignoreID || a.Status.Terminal() || a.Room != room {
			continue
		}
		out = append(out, Interval{Start: a.ScheduledStart, End: a.ScheduledEnd})
	}
	return out
}

// Starts returns the scheduled starts of every live appointment, optionally
// restricted to room.
func Starts(room string, existing []model.Appointment, ignoreID string) []time.Time {
	var out []time.Time
	for _, a := range existing {
		if a.ID == ignoreID || a.Status.Terminal() {
			continue
		}
		if room != "" && a.Room != room {
			continue
		}
		out = append(out, a.ScheduledStart)
	}
	return out
}

// Conflicts lists the live appointments in room whose interval overlaps candidate.
func Conflicts(candidate Interval, room string, existing []model.Appointment, ignoreID string) []model.Appointment {
	var out []model.Appointment
	for _, a := range existing {
		if a.ID == ignoreID || a.Status.Terminal() || a.Room != room {
			continue
		}
		if candidate.Overlaps(Interval{Start: a.ScheduledStart, End: a.ScheduledEnd}) {
			out = append(out, a)
		}
	}
	return out
}

// StartTaken is the simple-flow collision: another live appointment starts at
// exactly start.
func StartTaken(start time.Time, existing []model.Appointment, ignoreID string) bool {
	for _, a := range existing {
		if a.ID == ignoreID || a.Status.Terminal() {
			continue
		}
		if a.ScheduledStart.Equal(start) {
			return true
		}
	}
	return false
}

// SameDayHolder returns the customer's live appointment on day, if any.
func SameDayHolder(customerID string, day time.Time, loc *time.Location, existing []model.Appointment, ignoreID string) (model.Appointment, bool) {
	if customerID == "" {
		return model.Appointment{}, false
	}
	y, m, d := day.In(loc).Date()
	for _, a := range existing {
		if a.ID == ignoreID || a.Status.Terminal() || a.Customer.ID != customerID {
			continue
		}
		ay, am, ad := a.ScheduledStart.In(loc).Date()
		if ay == y && am == m && ad == d {
			return a, true
		}
	}
	return model.Appointment{}, false
}
