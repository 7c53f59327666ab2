package automation

import (
	"sort"
	"time"

	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/model"
)

type Phase string

const (
	PhaseWaiting   Phase = "waiting"
	PhaseInService Phase = "in_service"
)

type Countdown struct {
	AppointmentID string        `json:"appointment_id"`
	Room          string        `json:"room"`
	Phase         Phase         `json:"phase"`
	Remaining     time.Duration `json:"-"`
	Seconds       int64         `json:"seconds"`
}

// CountdownSink receives a room's countdowns once per tick.
type CountdownSink interface {
	PublishCountdowns(room string, cds []Countdown)
}

// Countdowns is the per-tick arithmetic: seconds until scheduled start for
// confirmed appointments, seconds until tempo_fim for the one in service.
// Values never go below zero.
func Countdowns(now time.Time, appts []model.Appointment) []Countdown {
	out := make([]Countdown, 0, len(appts))
	for _, a := range appts {
		var c Countdown
		switch a.Status {
		case model.StatusConfirmed:
			c = Countdown{Phase: PhaseWaiting, Remaining: a.ScheduledStart.Sub(now)}
		case model.StatusInService:
			if a.ServiceEndsAt == nil {
				continue
			}
			c = Countdown{Phase: PhaseInService, Remaining: a.ServiceEndsAt.Sub(now)}
		default:
			continue
		}
		if c.Remaining < 0 {
			c.Remaining = 0
		}
		c.AppointmentID = a.ID
		c.Room = a.Room
		c.Seconds = int64(c.Remaining.Round(time.Second) / time.Second)
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Phase != out[j].Phase {
			return out[i].Phase == PhaseInService
		}
		return out[i].Remaining < out[j].Remaining
	})
	return out
}
