package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type ScheduleRepository interface {
	Create(ctx context.Context, s *DoctorSchedule) error
	GetByID(ctx context.Context, id uuid.UUID) (*DoctorSchedule, error)
	Update(ctx context.Context, s *DoctorSchedule) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*DoctorSchedule, int, error)

	// FindApplicable resolves the availability rule covering the given
	// calendar date: active, matching weekday, valid_from <= date and
	// valid_to unset or >= date. Overlapping rules tie-break on newest
	// created_at. Misses return ErrNoSchedule.
	FindApplicable(ctx context.Context, doctorID uuid.UUID, date time.Time) (*DoctorSchedule, error)

	// FindApplicableForUpdate is FindApplicable with a row lock. It must
	// run inside a transaction; competing bookings for the same rule
	// serialize on the lock.
	FindApplicableForUpdate(ctx context.Context, doctorID uuid.UUID, date time.Time) (*DoctorSchedule, error)
}

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// CountForSlot counts appointments for the exact (doctor, date, start)
	// tuple, excluding cancelled and no-show rows.
	CountForSlot(ctx context.Context, doctorID uuid.UUID, date time.Time, startTime string) (int, error)

	UpdateStatus(ctx context.Context, id uuid.UUID, status Status, cancellationReason *string) error
	ListByPatient(ctx context.Context, patientID uuid.UUID, status *Status, limit, offset int) ([]*Appointment, int, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, status *Status, limit, offset int) ([]*Appointment, int, error)

	// MarkOverdueNoShow moves pending and confirmed appointments whose end
	// passed before the cutoff to no_show. Returns the number of rows
	// updated.
	MarkOverdueNoShow(ctx context.Context, cutoff time.Time) (int64, error)
}

// TxRunner runs fn inside a database transaction; repository calls made with
// the callback context join that transaction.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error
