package booking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/carebook/carebook/internal/domain/clinic"
	"github.com/carebook/carebook/internal/domain/identity"
	"github.com/carebook/carebook/internal/platform/auth"
)

// cancelCutoff is how far before the start a patient may still cancel.
const cancelCutoff = 24 * time.Hour

type Service struct {
	schedules    ScheduleRepository
	appointments AppointmentRepository
	doctors      identity.DoctorRepository
	patients     identity.PatientRepository
	facilities   clinic.FacilityRepository
	tx           TxRunner

	now func() time.Time
}

func NewService(
	schedules ScheduleRepository,
	appointments AppointmentRepository,
	doctors identity.DoctorRepository,
	patients identity.PatientRepository,
	facilities clinic.FacilityRepository,
	tx TxRunner,
) *Service {
	return &Service{
		schedules:    schedules,
		appointments: appointments,
		doctors:      doctors,
		patients:     patients,
		facilities:   facilities,
		tx:           tx,
		now:          time.Now,
	}
}

// BookRequest is the booking input. Date is "2006-01-02", StartTime a
// zero-padded "15:04".
type BookRequest struct {
	DoctorID   uuid.UUID `json:"doctor_id"`
	FacilityID uuid.UUID `json:"facility_id"`
	Date       string    `json:"appointment_date"`
	StartTime  string    `json:"start_time"`
	Symptoms   *string   `json:"symptoms,omitempty"`
}

// Book validates and records a new appointment for the calling patient.
// Validation, the capacity check and the insert run inside one transaction
// holding a row lock on the schedule rule, so two competing requests for the
// last place in a slot cannot both succeed.
func (s *Service) Book(ctx context.Context, caller auth.Caller, req BookRequest) (*Appointment, error) {
	patient, err := s.patients.GetByUserID(ctx, caller.UserID)
	if err != nil {
		return nil, ErrNotAllowed
	}

	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		return nil, ErrInvalidDateTime
	}
	startMin, err := parseClock(req.StartTime)
	if err != nil {
		return nil, ErrInvalidDateTime
	}
	start := formatClock(startMin)

	var appt *Appointment
	err = s.tx(ctx, func(ctx context.Context) error {
		doctor, err := s.doctors.GetByID(ctx, req.DoctorID)
		if err != nil || !doctor.IsVerified {
			return ErrDoctorNotFound
		}

		facility, err := s.facilities.GetByID(ctx, req.FacilityID)
		if err != nil || !facility.IsActive {
			return ErrFacilityNotFound
		}

		sched, err := s.schedules.FindApplicableForUpdate(ctx, doctor.ID, date)
		if err != nil {
			return err
		}

		if err := checkWithinHours(sched, startMin); err != nil {
			return err
		}

		count, err := s.appointments.CountForSlot(ctx, doctor.ID, date, start)
		if err != nil {
			return fmt.Errorf("count slot: %w", err)
		}
		if count >= sched.MaxPatientsPerSlot {
			return ErrSlotFull
		}

		appt = &Appointment{
			AppointmentCode: generateCode(s.now(), patient.ID),
			PatientID:       patient.ID,
			DoctorID:        doctor.ID,
			FacilityID:      facility.ID,
			Date:            date,
			StartTime:       start,
			EndTime:         formatClock(startMin + sched.SlotDurationMin),
			Status:          StatusPending,
			Symptoms:        req.Symptoms,
			ConsultationFee: doctor.ConsultationFee,
			TotalAmount:     doctor.ConsultationFee,
			PaymentStatus:   "pending",
		}
		return s.appointments.Create(ctx, appt)
	})
	if err != nil {
		return nil, err
	}
	return appt, nil
}

// checkWithinHours rejects starts before opening or at/after closing. The
// upper bound is exclusive; a slot starting just before closing may run past
// it.
func checkWithinHours(sched *DoctorSchedule, startMin int) error {
	open, err := parseClock(sched.StartTime)
	if err != nil {
		return fmt.Errorf("schedule %s: bad start_time: %w", sched.ID, err)
	}
	closing, err := parseClock(sched.EndTime)
	if err != nil {
		return fmt.Errorf("schedule %s: bad end_time: %w", sched.ID, err)
	}
	if startMin < open || startMin >= closing {
		return ErrOutsideWorkingHours
	}
	return nil
}

// generateCode builds the human-readable appointment label. It is a display
// value, not an identifier; uniqueness comes from the UUID primary key.
func generateCode(now time.Time, patientID uuid.UUID) string {
	return "APT-" + now.UTC().Format("20060102150405") + "-" + strings.ToUpper(patientID.String()[:8])
}

// UpdateStatus applies a status transition under the lifecycle guard.
// Admins may set any status. The assigned doctor may apply legal transitions
// to own appointments. Patients may only cancel, and only pending
// appointments at least 24 hours before the start.
func (s *Service) UpdateStatus(ctx context.Context, caller auth.Caller, apptID uuid.UUID, newStatus Status, reason *string) (*Appointment, error) {
	appt, err := s.appointments.GetByID(ctx, apptID)
	if err != nil {
		return nil, err
	}

	switch caller.Role {
	case auth.RoleAdmin:
		// unconditional

	case auth.RoleDoctor:
		doctor, err := s.doctors.GetByUserID(ctx, caller.UserID)
		if err != nil || doctor.ID != appt.DoctorID {
			return nil, ErrNotAllowed
		}
		if !appt.Status.CanTransition(newStatus) {
			return nil, ErrBadTransition
		}

	case auth.RolePatient:
		patient, err := s.patients.GetByUserID(ctx, caller.UserID)
		if err != nil || patient.ID != appt.PatientID {
			return nil, ErrNotAllowed
		}
		if newStatus != StatusCancelled {
			return nil, ErrNotAllowed
		}
		if appt.Status != StatusPending {
			return nil, ErrNotPending
		}
		if appt.StartAt().Before(s.now().Add(cancelCutoff)) {
			return nil, ErrCancelWindow
		}

	default:
		return nil, ErrNotAllowed
	}

	if err := s.appointments.UpdateStatus(ctx, apptID, newStatus, reason); err != nil {
		return nil, err
	}
	appt.Status = newStatus
	if reason != nil {
		appt.CancellationReason = reason
	}
	return appt, nil
}

// Cancel is the patient cancellation path; it applies the same guard as
// UpdateStatus with a cancelled target.
func (s *Service) Cancel(ctx context.Context, caller auth.Caller, apptID uuid.UUID, reason *string) (*Appointment, error) {
	return s.UpdateStatus(ctx, caller, apptID, StatusCancelled, reason)
}

// MyAppointments lists the caller's own appointments: a patient's bookings
// or a doctor's assigned ones. statusFilter is optional and
// case-insensitive.
func (s *Service) MyAppointments(ctx context.Context, caller auth.Caller, statusFilter string, limit, offset int) ([]*Appointment, int, error) {
	var status *Status
	if statusFilter != "" {
		st, err := ParseStatus(statusFilter)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrInvalidStatus, err)
		}
		status = &st
	}

	switch caller.Role {
	case auth.RolePatient:
		patient, err := s.patients.GetByUserID(ctx, caller.UserID)
		if err != nil {
			return nil, 0, ErrNotAllowed
		}
		return s.appointments.ListByPatient(ctx, patient.ID, status, limit, offset)
	case auth.RoleDoctor:
		doctor, err := s.doctors.GetByUserID(ctx, caller.UserID)
		if err != nil {
			return nil, 0, ErrNotAllowed
		}
		return s.appointments.ListByDoctor(ctx, doctor.ID, status, limit, offset)
	default:
		return nil, 0, ErrNotAllowed
	}
}

// Get returns one appointment when the caller is its patient, its doctor, or
// an admin.
func (s *Service) Get(ctx context.Context, caller auth.Caller, id uuid.UUID) (*Appointment, error) {
	appt, err := s.appointments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	switch caller.Role {
	case auth.RoleAdmin:
		return appt, nil
	case auth.RoleDoctor:
		doctor, err := s.doctors.GetByUserID(ctx, caller.UserID)
		if err == nil && doctor.ID == appt.DoctorID {
			return appt, nil
		}
	case auth.RolePatient:
		patient, err := s.patients.GetByUserID(ctx, caller.UserID)
		if err == nil && patient.ID == appt.PatientID {
			return appt, nil
		}
	}
	return nil, ErrNotAllowed
}

// --- schedule rule management ---

// CreateSchedule validates and stores a weekly availability rule. Doctors
// may only create rules for themselves; admins for anyone.
func (s *Service) CreateSchedule(ctx context.Context, caller auth.Caller, sched *DoctorSchedule) error {
	if err := s.authorizeScheduleWrite(ctx, caller, sched.DoctorID); err != nil {
		return err
	}
	if err := validateSchedule(sched); err != nil {
		return err
	}
	return s.schedules.Create(ctx, sched)
}

func (s *Service) UpdateSchedule(ctx context.Context, caller auth.Caller, sched *DoctorSchedule) error {
	existing, err := s.schedules.GetByID(ctx, sched.ID)
	if err != nil {
		return err
	}
	sched.DoctorID = existing.DoctorID
	if err := s.authorizeScheduleWrite(ctx, caller, existing.DoctorID); err != nil {
		return err
	}
	if err := validateSchedule(sched); err != nil {
		return err
	}
	return s.schedules.Update(ctx, sched)
}

func (s *Service) DeleteSchedule(ctx context.Context, caller auth.Caller, id uuid.UUID) error {
	existing, err := s.schedules.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.authorizeScheduleWrite(ctx, caller, existing.DoctorID); err != nil {
		return err
	}
	return s.schedules.Delete(ctx, id)
}

func (s *Service) GetSchedule(ctx context.Context, id uuid.UUID) (*DoctorSchedule, error) {
	return s.schedules.GetByID(ctx, id)
}

func (s *Service) ListSchedules(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*DoctorSchedule, int, error) {
	return s.schedules.ListByDoctor(ctx, doctorID, limit, offset)
}

// FindSchedule resolves the rule applying to a doctor on a date, read-only.
func (s *Service) FindSchedule(ctx context.Context, doctorID uuid.UUID, date time.Time) (*DoctorSchedule, error) {
	return s.schedules.FindApplicable(ctx, doctorID, date)
}

func (s *Service) authorizeScheduleWrite(ctx context.Context, caller auth.Caller, doctorID uuid.UUID) error {
	if caller.Role == auth.RoleAdmin {
		return nil
	}
	if caller.Role == auth.RoleDoctor {
		doctor, err := s.doctors.GetByUserID(ctx, caller.UserID)
		if err == nil && doctor.ID == doctorID {
			return nil
		}
	}
	return ErrNotAllowed
}

func validateSchedule(sched *DoctorSchedule) error {
	if sched.DayOfWeek < 0 || sched.DayOfWeek > 6 {
		return fmt.Errorf("%w: day_of_week must be 0..6", ErrInvalidSchedule)
	}
	start, err := parseClock(sched.StartTime)
	if err != nil {
		return fmt.Errorf("%w: bad start_time", ErrInvalidSchedule)
	}
	end, err := parseClock(sched.EndTime)
	if err != nil {
		return fmt.Errorf("%w: bad end_time", ErrInvalidSchedule)
	}
	if end <= start {
		return fmt.Errorf("%w: end_time must be after start_time", ErrInvalidSchedule)
	}
	if sched.SlotDurationMin <= 0 {
		return fmt.Errorf("%w: slot_duration_minutes must be positive", ErrInvalidSchedule)
	}
	if sched.MaxPatientsPerSlot < 1 {
		return fmt.Errorf("%w: max_patients_per_slot must be at least 1", ErrInvalidSchedule)
	}
	if sched.ValidFrom.IsZero() {
		return fmt.Errorf("%w: valid_from is required", ErrInvalidSchedule)
	}
	if sched.ValidTo != nil && sched.ValidTo.Before(sched.ValidFrom) {
		return fmt.Errorf("%w: valid_to must not precede valid_from", ErrInvalidSchedule)
	}
	return nil
}
