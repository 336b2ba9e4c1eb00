package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carebook/carebook/internal/platform/db"
)

// =========== Schedule Repository ===========

type scheduleRepoPG struct{ pool *pgxpool.Pool }

func NewScheduleRepoPG(pool *pgxpool.Pool) ScheduleRepository { return &scheduleRepoPG{pool: pool} }

func (r *scheduleRepoPG) conn(ctx context.Context) db.Queryable { return db.Conn(ctx, r.pool) }

const schedCols = `id, doctor_id, facility_id, day_of_week, start_time, end_time,
	slot_duration_minutes, max_patients_per_slot, valid_from, valid_to, is_active,
	created_at, updated_at`

func scanSchedule(row pgx.Row) (*DoctorSchedule, error) {
	var s DoctorSchedule
	err := row.Scan(&s.ID, &s.DoctorID, &s.FacilityID, &s.DayOfWeek, &s.StartTime, &s.EndTime,
		&s.SlotDurationMin, &s.MaxPatientsPerSlot, &s.ValidFrom, &s.ValidTo, &s.IsActive,
		&s.CreatedAt, &s.UpdatedAt)
	return &s, err
}

func (r *scheduleRepoPG) Create(ctx context.Context, s *DoctorSchedule) error {
	s.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO doctor_schedule (id, doctor_id, facility_id, day_of_week, start_time, end_time,
			slot_duration_minutes, max_patients_per_slot, valid_from, valid_to, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		s.ID, s.DoctorID, s.FacilityID, s.DayOfWeek, s.StartTime, s.EndTime,
		s.SlotDurationMin, s.MaxPatientsPerSlot, s.ValidFrom, s.ValidTo, s.IsActive)
	return err
}

func (r *scheduleRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*DoctorSchedule, error) {
	s, err := scanSchedule(r.conn(ctx).QueryRow(ctx, `SELECT `+schedCols+` FROM doctor_schedule WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoSchedule
		}
		return nil, err
	}
	return s, nil
}

func (r *scheduleRepoPG) Update(ctx context.Context, s *DoctorSchedule) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE doctor_schedule SET facility_id=$2, day_of_week=$3, start_time=$4, end_time=$5,
			slot_duration_minutes=$6, max_patients_per_slot=$7, valid_from=$8, valid_to=$9,
			is_active=$10, updated_at=NOW()
		WHERE id = $1`,
		s.ID, s.FacilityID, s.DayOfWeek, s.StartTime, s.EndTime,
		s.SlotDurationMin, s.MaxPatientsPerSlot, s.ValidFrom, s.ValidTo, s.IsActive)
	return err
}

func (r *scheduleRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.conn(ctx).Exec(ctx, `DELETE FROM doctor_schedule WHERE id = $1`, id)
	return err
}

func (r *scheduleRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*DoctorSchedule, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM doctor_schedule WHERE doctor_id = $1`, doctorID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+schedCols+` FROM doctor_schedule WHERE doctor_id = $1 ORDER BY day_of_week, start_time LIMIT $2 OFFSET $3`, doctorID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*DoctorSchedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}

// applicableQuery matches active rules for the date's weekday whose validity
// window covers the date. Newest rule wins when rules overlap.
const applicableQuery = `SELECT ` + schedCols + ` FROM doctor_schedule
	WHERE doctor_id = $1 AND is_active = TRUE AND day_of_week = $2
	  AND valid_from <= $3 AND (valid_to IS NULL OR valid_to >= $3)
	ORDER BY created_at DESC
	LIMIT 1`

func (r *scheduleRepoPG) findApplicable(ctx context.Context, doctorID uuid.UUID, date time.Time, forUpdate bool) (*DoctorSchedule, error) {
	query := applicableQuery
	if forUpdate {
		query += ` FOR UPDATE`
	}
	s, err := scanSchedule(r.conn(ctx).QueryRow(ctx, query, doctorID, int(date.Weekday()), date))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoSchedule
		}
		return nil, err
	}
	return s, nil
}

func (r *scheduleRepoPG) FindApplicable(ctx context.Context, doctorID uuid.UUID, date time.Time) (*DoctorSchedule, error) {
	return r.findApplicable(ctx, doctorID, date, false)
}

func (r *scheduleRepoPG) FindApplicableForUpdate(ctx context.Context, doctorID uuid.UUID, date time.Time) (*DoctorSchedule, error) {
	return r.findApplicable(ctx, doctorID, date, true)
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) db.Queryable { return db.Conn(ctx, r.pool) }

const apptCols = `id, appointment_code, patient_id, doctor_id, facility_id,
	appointment_date, start_time, end_time, status, symptoms,
	consultation_fee, total_amount, payment_status, cancellation_reason,
	created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.AppointmentCode, &a.PatientID, &a.DoctorID, &a.FacilityID,
		&a.Date, &a.StartTime, &a.EndTime, &a.Status, &a.Symptoms,
		&a.ConsultationFee, &a.TotalAmount, &a.PaymentStatus, &a.CancellationReason,
		&a.CreatedAt, &a.UpdatedAt)
	return &a, err
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO appointments (id, appointment_code, patient_id, doctor_id, facility_id,
			appointment_date, start_time, end_time, status, symptoms,
			consultation_fee, total_amount, payment_status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		a.ID, a.AppointmentCode, a.PatientID, a.DoctorID, a.FacilityID,
		a.Date, a.StartTime, a.EndTime, a.Status, a.Symptoms,
		a.ConsultationFee, a.TotalAmount, a.PaymentStatus)
	return err
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppointment(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointments WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return a, nil
}

func (r *appointmentRepoPG) CountForSlot(ctx context.Context, doctorID uuid.UUID, date time.Time, startTime string) (int, error) {
	var count int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(*) FROM appointments
		WHERE doctor_id = $1 AND appointment_date = $2 AND start_time = $3
		  AND status NOT IN ('cancelled', 'no_show')`,
		doctorID, date, startTime).Scan(&count)
	return count, err
}

func (r *appointmentRepoPG) UpdateStatus(ctx context.Context, id uuid.UUID, status Status, cancellationReason *string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointments
		SET status = $2, cancellation_reason = COALESCE($3, cancellation_reason), updated_at = NOW()
		WHERE id = $1`,
		id, status, cancellationReason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *appointmentRepoPG) listBy(ctx context.Context, column string, ownerID uuid.UUID, status *Status, limit, offset int) ([]*Appointment, int, error) {
	where := fmt.Sprintf(`WHERE %s = $1`, column)
	args := []interface{}{ownerID}
	if status != nil {
		where += ` AND status = $2`
		args = append(args, *status)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointments `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT `+apptCols+` FROM appointments %s ORDER BY appointment_date DESC, start_time DESC LIMIT $%d OFFSET $%d`,
		where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *appointmentRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, status *Status, limit, offset int) ([]*Appointment, int, error) {
	return r.listBy(ctx, "patient_id", patientID, status, limit, offset)
}

func (r *appointmentRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID, status *Status, limit, offset int) ([]*Appointment, int, error) {
	return r.listBy(ctx, "doctor_id", doctorID, status, limit, offset)
}

func (r *appointmentRepoPG) MarkOverdueNoShow(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointments
		SET status = 'no_show', updated_at = NOW()
		WHERE status IN ('pending', 'confirmed')
		  AND (appointment_date + end_time::time) < $1`,
		cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
