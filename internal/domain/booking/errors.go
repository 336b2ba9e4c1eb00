package booking

import "errors"

// Expected booking failures. Handlers map these to HTTP statuses with
// errors.Is; anything else is a 500.
var (
	ErrInvalidDateTime     = errors.New("invalid appointment date or time")
	ErrDoctorNotFound      = errors.New("doctor not found or not verified")
	ErrFacilityNotFound    = errors.New("facility not found or inactive")
	ErrNoSchedule          = errors.New("doctor has no schedule for this date")
	ErrOutsideWorkingHours = errors.New("requested time is outside working hours")
	ErrSlotFull            = errors.New("slot has reached maximum capacity")
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrNotAllowed          = errors.New("not allowed to act on this appointment")
	ErrNotPending          = errors.New("only pending appointments can be cancelled")
	ErrCancelWindow        = errors.New("appointments can only be cancelled at least 24 hours in advance")
	ErrBadTransition       = errors.New("status transition not allowed")
	ErrInvalidStatus       = errors.New("unknown appointment status")
	ErrInvalidSchedule     = errors.New("invalid schedule")
)
