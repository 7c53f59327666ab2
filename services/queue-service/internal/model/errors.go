package model

import "errors"

// ValidationError is a rule violation surfaced synchronously to the caller.
// It is never retried and never leaves a side effect behind.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func newValidation(code, msg string) *ValidationError {
	return &ValidationError{Code: code, Message: msg}
}

var (
	ErrSlotUnavailable      = newValidation("slot_unavailable", "this time is no longer available, please pick another slot")
	ErrDateInPast           = newValidation("date_in_past", "this date has already passed")
	ErrDateBeyondHorizon    = newValidation("date_beyond_horizon", "bookings can only be made up to the configured number of days ahead")
	ErrDayClosed            = newValidation("day_closed", "the shop is closed on this day")
	ErrOutsideHours         = newValidation("outside_hours", "the requested time is outside operating hours")
	ErrDuplicateDay         = newValidation("duplicate_day", "you already have an appointment this day")
	ErrCancelNotAllowed     = newValidation("cancel_not_allowed", "this appointment can no longer be cancelled, reschedule it instead")
	ErrRescheduleNotAllowed = newValidation("reschedule_not_allowed", "rescheduling is only available after a cancellation")
	ErrLimitExceeded        = newValidation("limit_exceeded", "the cancellation and reschedule limit for this appointment was exceeded")
	ErrInvalidTransition    = newValidation("invalid_transition", "this action is not possible in the appointment's current state")
	ErrInactiveEmployee     = newValidation("inactive_employee", "the selected professional is not available for this service")
	ErrNothingToSettle      = newValidation("nothing_to_settle", "there is no pending remaining payment for this appointment")
	ErrInvalidRequest       = newValidation("invalid_request", "the request is missing required fields")
)

var (
	ErrNotFound  = errors.New("appointment not found")
	ErrForbidden = errors.New("not allowed to act on this appointment")
)

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
