package realtime

import (
	"sort"
	"time"

	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/model"
)

// Aggregate is the room name viewers use for the whole-shop snapshot.
const Aggregate = "geral"

type Entry struct {
	AppointmentID string       `json:"appointment_id"`
	CustomerName  string       `json:"customer_name"`
	ServiceName   string       `json:"service_name"`
	Room          string       `json:"room"`
	Start         time.Time    `json:"scheduled_start"`
	End           time.Time    `json:"scheduled_end"`
	Status        model.Status `json:"status"`
	Present       bool         `json:"presente"`
	ServiceEndsAt *time.Time   `json:"tempo_fim,omitempty"`
}

type Counts struct {
	Serving  int `json:"serving"`
	Waiting  int `json:"waiting"`
	Present  int `json:"present"`
	Awaiting int `json:"awaiting_confirmation"`
}

// Snapshot is a derived view of one room, or of every room when Room is
// Aggregate. A single room has at most one serving entry.
type Snapshot struct {
	Room    string    `json:"room"`
	Serving []Entry   `json:"serving"`
	Waiting []Entry   `json:"waiting"`
	Counts  Counts    `json:"counts"`
	At      time.Time `json:"at"`
}

// Project computes the snapshot for room from the live set. Waiting entries
// are ordered present first, then by scheduled start, then by arrival.
func Project(room string, appts []model.Appointment, now time.Time) Snapshot {
	snap := Snapshot{Room: room, Serving: []Entry{}, Waiting: []Entry{}, At: now}
	type waiting struct {
		Entry
		seq int64
	}
	var queue []waiting
	for _, a := range appts {
		if room != Aggregate && a.Room != room {
			continue
		}
		switch a.Status {
		case model.StatusInService:
			snap.Serving = append(snap.Serving, entry(a))
		case model.StatusConfirmed:
			queue = append(queue, waiting{Entry: entry(a), seq: a.Seq})
			if a.Present {
				snap.Counts.Present++
			}
		case model.StatusAwaitingConfirmation:
			snap.Counts.Awaiting++
		}
	}
	sort.SliceStable(queue, func(i, j int) bool {
		a, b := queue[i], queue[j]
		if a.Present != b.Present {
			return a.Present
		}
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		return a.seq < b.seq
	})
	for _, w := range queue {
		snap.Waiting = append(snap.Waiting, w.Entry)
	}
	sort.Slice(snap.Serving, func(i, j int) bool { return snap.Serving[i].Room < snap.Serving[j].Room })
	snap.Counts.Serving = len(snap.Serving)
	snap.Counts.Waiting = len(snap.Waiting)
	return snap
}

func entry(a model.Appointment) Entry {
	return Entry{
		AppointmentID: a.ID,
		CustomerName:  a.Customer.Name,
		ServiceName:   a.ServiceName,
		Room:          a.Room,
		Start:         a.ScheduledStart,
		End:           a.ScheduledEnd,
		Status:        a.Status,
		Present:       a.Present,
		ServiceEndsAt: a.ServiceEndsAt,
	}
}
