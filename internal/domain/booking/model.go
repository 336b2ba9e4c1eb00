package booking

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the appointment lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

// ParseStatus validates a raw status string from a request. Matching is
// case-insensitive; the canonical lowercase form is returned.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(s)) {
	case StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow:
		return Status(strings.ToLower(s)), nil
	default:
		return "", fmt.Errorf("unknown status %q", s)
	}
}

// IsTerminal reports whether no further transitions are allowed from s.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// CanTransition reports whether the lifecycle allows moving from s to next.
// Pending appointments may be confirmed or cancelled; confirmed ones may be
// completed, cancelled, or marked no-show. Terminal states allow nothing.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusConfirmed || next == StatusCancelled
	case StatusConfirmed:
		return next == StatusCompleted || next == StatusCancelled || next == StatusNoShow
	}
	return false
}

// DoctorSchedule maps to the doctor_schedule table: one weekly recurring
// availability rule. Times of day are zero-padded "HH:MM" strings.
type DoctorSchedule struct {
	ID                 uuid.UUID  `db:"id" json:"id"`
	DoctorID           uuid.UUID  `db:"doctor_id" json:"doctor_id"`
	FacilityID         *uuid.UUID `db:"facility_id" json:"facility_id,omitempty"`
	DayOfWeek          int        `db:"day_of_week" json:"day_of_week"` // 0=Sunday .. 6=Saturday
	StartTime          string     `db:"start_time" json:"start_time"`
	EndTime            string     `db:"end_time" json:"end_time"`
	SlotDurationMin    int        `db:"slot_duration_minutes" json:"slot_duration_minutes"`
	MaxPatientsPerSlot int        `db:"max_patients_per_slot" json:"max_patients_per_slot"`
	ValidFrom          time.Time  `db:"valid_from" json:"valid_from"`
	ValidTo            *time.Time `db:"valid_to" json:"valid_to,omitempty"`
	IsActive           bool       `db:"is_active" json:"is_active"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// Appointment maps to the appointments table. ConsultationFee and
// TotalAmount are snapshots of the doctor's fee at booking time.
type Appointment struct {
	ID                 uuid.UUID `db:"id" json:"id"`
	AppointmentCode    string    `db:"appointment_code" json:"appointment_code"`
	PatientID          uuid.UUID `db:"patient_id" json:"patient_id"`
	DoctorID           uuid.UUID `db:"doctor_id" json:"doctor_id"`
	FacilityID         uuid.UUID `db:"facility_id" json:"facility_id"`
	Date               time.Time `db:"appointment_date" json:"appointment_date"`
	StartTime          string    `db:"start_time" json:"start_time"`
	EndTime            string    `db:"end_time" json:"end_time"`
	Status             Status    `db:"status" json:"status"`
	Symptoms           *string   `db:"symptoms" json:"symptoms,omitempty"`
	ConsultationFee    float64   `db:"consultation_fee" json:"consultation_fee"`
	TotalAmount        float64   `db:"total_amount" json:"total_amount"`
	PaymentStatus      string    `db:"payment_status" json:"payment_status"`
	CancellationReason *string   `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

// StartAt combines the appointment date and start time into one instant.
func (a *Appointment) StartAt() time.Time {
	mins, err := parseClock(a.StartTime)
	if err != nil {
		return a.Date
	}
	return a.Date.Add(time.Duration(mins) * time.Minute)
}

// parseClock parses a zero-padded "HH:MM" string into minutes since
// midnight. The shape is strict so stored values compare as strings.
func parseClock(s string) (int, error) {
	if len(s) != 5 || s[2] != ':' {
		return 0, fmt.Errorf("time %q is not in HH:MM form", s)
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

// formatClock renders minutes since midnight as "HH:MM", clamped to the
// day's bounds. A derived end time must never wrap past midnight: a wrapped
// value would sort before its own start and place the combined
// date+end instant before the appointment.
func formatClock(mins int) string {
	if mins < 0 {
		mins = 0
	}
	if mins > 23*60+59 {
		mins = 23*60 + 59
	}
	return fmt.Sprintf("%02d:%02d", mins/60, mins%60)
}
