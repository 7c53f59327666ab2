package policy

import (
	"context"

	"github.com/md-rashed-zaman/barberqueue/services/queue-service/internal/model"
)

type Action string

const (
	AllowCancel     Action = "cancel"
	AllowReschedule Action = "reschedule"
	Blocked         Action = "limit exceeded"
)

// Decide maps the cancellation counter and reschedule flag to the one action
// the customer may take next:
//
//	0, false -> cancel
//	1, false -> reschedule
//	1, true  -> blocked
//	2, any   -> blocked
//
// (0, true) cannot be produced by the state machine and is blocked.
func Decide(cancellations int, rescheduled bool) Action {
	switch {
	case cancellations >= model.CancellationsExceeded:
		return Blocked
	case cancellations == 1 && !rescheduled:
		return AllowReschedule
	case cancellations == 0 && !rescheduled:
		return AllowCancel
	}
	return Blocked
}

// Decision is what the UI shows next to an appointment.
type Decision struct {
	Action        Action `json:"action"`
	Cancellations int    `json:"cancellations"`
	Rescheduled   bool   `json:"rescheduled"`
	Message       string `json:"message"`
}

type Provider interface {
	Allowed(ctx context.Context, appt model.Appointment) (Decision, error)
}

type staticProvider struct{}

func NewStaticProvider() Provider {
	return staticProvider{}
}

func (staticProvider) Allowed(_ context.Context, appt model.Appointment) (Decision, error) {
	action := Decide(appt.Cancellations, appt.Rescheduled)
	if appt.Status.Terminal() || appt.Status == model.StatusInService {
		action = Blocked
	}
	d := Decision{Action: action, Cancellations: appt.Cancellations, Rescheduled: appt.Rescheduled}
	switch action {
	case AllowCancel:
		d.Message = "you may cancel this appointment once"
	case AllowReschedule:
		d.Message = "pick a new time to reschedule this appointment"
	default:
		d.Message = model.ErrLimitExceeded.Message
	}
	return d, nil
}
