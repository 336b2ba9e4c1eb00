package booking

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/carebook/carebook/internal/domain/clinic"
	"github.com/carebook/carebook/internal/domain/identity"
	"github.com/carebook/carebook/internal/platform/auth"
)

// --- mock repositories ---

type mockScheduleRepo struct {
	schedules []*DoctorSchedule
	lockCalls int
}

func (m *mockScheduleRepo) Create(ctx context.Context, s *DoctorSchedule) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now()
	}
	m.schedules = append(m.schedules, s)
	return nil
}

func (m *mockScheduleRepo) GetByID(ctx context.Context, id uuid.UUID) (*DoctorSchedule, error) {
	for _, s := range m.schedules {
		if s.ID == id {
			return s, nil
		}
	}
	return nil, ErrNoSchedule
}

func (m *mockScheduleRepo) Update(ctx context.Context, s *DoctorSchedule) error {
	for i, existing := range m.schedules {
		if existing.ID == s.ID {
			m.schedules[i] = s
			return nil
		}
	}
	return ErrNoSchedule
}

func (m *mockScheduleRepo) Delete(ctx context.Context, id uuid.UUID) error {
	for i, s := range m.schedules {
		if s.ID == id {
			m.schedules = append(m.schedules[:i], m.schedules[i+1:]...)
			return nil
		}
	}
	return ErrNoSchedule
}

func (m *mockScheduleRepo) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*DoctorSchedule, int, error) {
	var out []*DoctorSchedule
	for _, s := range m.schedules {
		if s.DoctorID == doctorID {
			out = append(out, s)
		}
	}
	return out, len(out), nil
}

func (m *mockScheduleRepo) FindApplicable(ctx context.Context, doctorID uuid.UUID, date time.Time) (*DoctorSchedule, error) {
	var matches []*DoctorSchedule
	for _, s := range m.schedules {
		if s.DoctorID != doctorID || !s.IsActive || s.DayOfWeek != int(date.Weekday()) {
			continue
		}
		if s.ValidFrom.After(date) {
			continue
		}
		if s.ValidTo != nil && s.ValidTo.Before(date) {
			continue
		}
		matches = append(matches, s)
	}
	if len(matches) == 0 {
		return nil, ErrNoSchedule
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})
	return matches[0], nil
}

func (m *mockScheduleRepo) FindApplicableForUpdate(ctx context.Context, doctorID uuid.UUID, date time.Time) (*DoctorSchedule, error) {
	m.lockCalls++
	return m.FindApplicable(ctx, doctorID, date)
}

type mockApptRepo struct {
	appointments map[uuid.UUID]*Appointment
}

func newMockApptRepo() *mockApptRepo {
	return &mockApptRepo{appointments: make(map[uuid.UUID]*Appointment)}
}

func (m *mockApptRepo) Create(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	copied := *a
	m.appointments[a.ID] = &copied
	return nil
}

func (m *mockApptRepo) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := m.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	copied := *a
	return &copied, nil
}

func (m *mockApptRepo) CountForSlot(ctx context.Context, doctorID uuid.UUID, date time.Time, startTime string) (int, error) {
	count := 0
	for _, a := range m.appointments {
		if a.DoctorID == doctorID && a.Date.Equal(date) && a.StartTime == startTime &&
			a.Status != StatusCancelled && a.Status != StatusNoShow {
			count++
		}
	}
	return count, nil
}

func (m *mockApptRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status Status, reason *string) error {
	a, ok := m.appointments[id]
	if !ok {
		return ErrAppointmentNotFound
	}
	a.Status = status
	if reason != nil {
		a.CancellationReason = reason
	}
	return nil
}

func (m *mockApptRepo) listBy(match func(*Appointment) bool, status *Status) []*Appointment {
	var out []*Appointment
	for _, a := range m.appointments {
		if !match(a) {
			continue
		}
		if status != nil && a.Status != *status {
			continue
		}
		copied := *a
		out = append(out, &copied)
	}
	return out
}

func (m *mockApptRepo) ListByPatient(ctx context.Context, patientID uuid.UUID, status *Status, limit, offset int) ([]*Appointment, int, error) {
	out := m.listBy(func(a *Appointment) bool { return a.PatientID == patientID }, status)
	return out, len(out), nil
}

func (m *mockApptRepo) ListByDoctor(ctx context.Context, doctorID uuid.UUID, status *Status, limit, offset int) ([]*Appointment, int, error) {
	out := m.listBy(func(a *Appointment) bool { return a.DoctorID == doctorID }, status)
	return out, len(out), nil
}

func (m *mockApptRepo) MarkOverdueNoShow(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	for _, a := range m.appointments {
		if a.Status != StatusPending && a.Status != StatusConfirmed {
			continue
		}
		endMin, err := parseClock(a.EndTime)
		if err != nil {
			continue
		}
		if a.Date.Add(time.Duration(endMin) * time.Minute).Before(cutoff) {
			a.Status = StatusNoShow
			n++
		}
	}
	return n, nil
}

type mockDoctorDir struct {
	doctors map[uuid.UUID]*identity.Doctor
}

func (m *mockDoctorDir) Create(ctx context.Context, d *identity.Doctor) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	m.doctors[d.ID] = d
	return nil
}

func (m *mockDoctorDir) GetByID(ctx context.Context, id uuid.UUID) (*identity.Doctor, error) {
	d, ok := m.doctors[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return d, nil
}

func (m *mockDoctorDir) GetByUserID(ctx context.Context, userID uuid.UUID) (*identity.Doctor, error) {
	for _, d := range m.doctors {
		if d.UserID == userID {
			return d, nil
		}
	}
	return nil, identity.ErrNotFound
}

func (m *mockDoctorDir) ListVerified(ctx context.Context, limit, offset int) ([]*identity.Doctor, int, error) {
	return nil, 0, nil
}

type mockPatientDir struct {
	patients map[uuid.UUID]*identity.Patient
}

func (m *mockPatientDir) Create(ctx context.Context, p *identity.Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	m.patients[p.ID] = p
	return nil
}

func (m *mockPatientDir) GetByID(ctx context.Context, id uuid.UUID) (*identity.Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, identity.ErrNotFound
	}
	return p, nil
}

func (m *mockPatientDir) GetByUserID(ctx context.Context, userID uuid.UUID) (*identity.Patient, error) {
	for _, p := range m.patients {
		if p.UserID == userID {
			return p, nil
		}
	}
	return nil, identity.ErrNotFound
}

type mockFacilityDir struct {
	facilities map[uuid.UUID]*clinic.Facility
}

func (m *mockFacilityDir) Create(ctx context.Context, f *clinic.Facility) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	m.facilities[f.ID] = f
	return nil
}

func (m *mockFacilityDir) GetByID(ctx context.Context, id uuid.UUID) (*clinic.Facility, error) {
	f, ok := m.facilities[id]
	if !ok {
		return nil, clinic.ErrNotFound
	}
	return f, nil
}

func (m *mockFacilityDir) ListActive(ctx context.Context, limit, offset int) ([]*clinic.Facility, int, error) {
	return nil, 0, nil
}

// --- fixture ---

// 2026-01-05 is a Monday.
const mondayDate = "2026-01-05"

type testEnv struct {
	svc        *Service
	schedules  *mockScheduleRepo
	appts      *mockApptRepo
	doctors    *mockDoctorDir
	patients   *mockPatientDir
	facilities *mockFacilityDir

	txCalls int

	patientCaller auth.Caller
	doctorCaller  auth.Caller
	adminCaller   auth.Caller

	patient  *identity.Patient
	doctor   *identity.Doctor
	facility *clinic.Facility
	schedule *DoctorSchedule
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		schedules:  &mockScheduleRepo{},
		appts:      newMockApptRepo(),
		doctors:    &mockDoctorDir{doctors: make(map[uuid.UUID]*identity.Doctor)},
		patients:   &mockPatientDir{patients: make(map[uuid.UUID]*identity.Patient)},
		facilities: &mockFacilityDir{facilities: make(map[uuid.UUID]*clinic.Facility)},
	}

	tx := func(ctx context.Context, fn func(ctx context.Context) error) error {
		env.txCalls++
		return fn(ctx)
	}

	env.svc = NewService(env.schedules, env.appts, env.doctors, env.patients, env.facilities, tx)
	// Fixed clock: noon UTC four days before the Monday test date.
	env.svc.now = func() time.Time { return time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC) }

	ctx := context.Background()

	patientUser := uuid.New()
	env.patient = &identity.Patient{UserID: patientUser}
	env.patients.Create(ctx, env.patient)
	env.patientCaller = auth.Caller{UserID: patientUser, Role: auth.RolePatient}

	doctorUser := uuid.New()
	env.doctor = &identity.Doctor{UserID: doctorUser, ConsultationFee: 150, IsVerified: true}
	env.doctors.Create(ctx, env.doctor)
	env.doctorCaller = auth.Caller{UserID: doctorUser, Role: auth.RoleDoctor}

	env.adminCaller = auth.Caller{UserID: uuid.New(), Role: auth.RoleAdmin}

	env.facility = &clinic.Facility{Name: "City Clinic", IsActive: true}
	env.facilities.Create(ctx, env.facility)

	env.schedule = &DoctorSchedule{
		DoctorID:           env.doctor.ID,
		DayOfWeek:          1, // Monday
		StartTime:          "09:00",
		EndTime:            "17:00",
		SlotDurationMin:    30,
		MaxPatientsPerSlot: 2,
		ValidFrom:          time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		IsActive:           true,
		CreatedAt:          time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	env.schedules.Create(ctx, env.schedule)

	return env
}

func (env *testEnv) bookReq() BookRequest {
	return BookRequest{
		DoctorID:   env.doctor.ID,
		FacilityID: env.facility.ID,
		Date:       mondayDate,
		StartTime:  "10:00",
	}
}

// --- booking tests ---

func TestBook_Success(t *testing.T) {
	env := newTestEnv(t)
	appt, err := env.svc.Book(context.Background(), env.patientCaller, env.bookReq())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if appt.Status != StatusPending {
		t.Errorf("expected pending, got %s", appt.Status)
	}
	if appt.EndTime != "10:30" {
		t.Errorf("expected end 10:30, got %s", appt.EndTime)
	}
	if appt.ConsultationFee != 150 || appt.TotalAmount != 150 {
		t.Errorf("expected fee snapshot 150, got fee=%v total=%v", appt.ConsultationFee, appt.TotalAmount)
	}
	if appt.PaymentStatus != "pending" {
		t.Errorf("expected payment pending, got %s", appt.PaymentStatus)
	}
	if appt.PatientID != env.patient.ID {
		t.Errorf("expected patient %s, got %s", env.patient.ID, appt.PatientID)
	}
	if appt.ID == uuid.Nil {
		t.Error("expected generated id")
	}

	want := "APT-20260101120000-"
	if len(appt.AppointmentCode) != len(want)+8 || appt.AppointmentCode[:len(want)] != want {
		t.Errorf("unexpected appointment code %q", appt.AppointmentCode)
	}
}

func TestBook_RunsInsideTransactionWithLock(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.svc.Book(context.Background(), env.patientCaller, env.bookReq()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.txCalls != 1 {
		t.Errorf("expected 1 transaction, got %d", env.txCalls)
	}
	if env.schedules.lockCalls != 1 {
		t.Errorf("expected schedule row lock taken once, got %d", env.schedules.lockCalls)
	}
}

func TestBook_InvalidDate(t *testing.T) {
	env := newTestEnv(t)
	req := env.bookReq()
	req.Date = "05-01-2026"
	if _, err := env.svc.Book(context.Background(), env.patientCaller, req); !errors.Is(err, ErrInvalidDateTime) {
		t.Fatalf("expected ErrInvalidDateTime, got %v", err)
	}
}

func TestBook_InvalidTime(t *testing.T) {
	env := newTestEnv(t)
	req := env.bookReq()
	req.StartTime = "ten o'clock"
	if _, err := env.svc.Book(context.Background(), env.patientCaller, req); !errors.Is(err, ErrInvalidDateTime) {
		t.Fatalf("expected ErrInvalidDateTime, got %v", err)
	}
}

func TestBook_UnknownDoctor(t *testing.T) {
	env := newTestEnv(t)
	req := env.bookReq()
	req.DoctorID = uuid.New()
	if _, err := env.svc.Book(context.Background(), env.patientCaller, req); !errors.Is(err, ErrDoctorNotFound) {
		t.Fatalf("expected ErrDoctorNotFound, got %v", err)
	}
}

func TestBook_UnverifiedDoctor(t *testing.T) {
	env := newTestEnv(t)
	env.doctor.IsVerified = false
	if _, err := env.svc.Book(context.Background(), env.patientCaller, env.bookReq()); !errors.Is(err, ErrDoctorNotFound) {
		t.Fatalf("expected ErrDoctorNotFound, got %v", err)
	}
}

func TestBook_InactiveFacility(t *testing.T) {
	env := newTestEnv(t)
	env.facility.IsActive = false
	if _, err := env.svc.Book(context.Background(), env.patientCaller, env.bookReq()); !errors.Is(err, ErrFacilityNotFound) {
		t.Fatalf("expected ErrFacilityNotFound, got %v", err)
	}
}

func TestBook_NoScheduleForWeekday(t *testing.T) {
	env := newTestEnv(t)
	req := env.bookReq()
	req.Date = "2026-01-06" // Tuesday, schedule covers Monday only
	if _, err := env.svc.Book(context.Background(), env.patientCaller, req); !errors.Is(err, ErrNoSchedule) {
		t.Fatalf("expected ErrNoSchedule, got %v", err)
	}
}

func TestBook_ScheduleValidityWindow(t *testing.T) {
	env := newTestEnv(t)
	past := time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)
	env.schedule.ValidTo = &past

	if _, err := env.svc.Book(context.Background(), env.patientCaller, env.bookReq()); !errors.Is(err, ErrNoSchedule) {
		t.Fatalf("expected ErrNoSchedule for expired rule, got %v", err)
	}
}

func TestBook_InactiveSchedule(t *testing.T) {
	env := newTestEnv(t)
	env.schedule.IsActive = false
	if _, err := env.svc.Book(context.Background(), env.patientCaller, env.bookReq()); !errors.Is(err, ErrNoSchedule) {
		t.Fatalf("expected ErrNoSchedule for inactive rule, got %v", err)
	}
}

func TestBook_OutsideWorkingHours(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name  string
		start string
		ok    bool
	}{
		{"before opening", "08:30", false},
		{"at opening", "09:00", true},
		{"at closing", "17:00", false}, // upper bound exclusive
		{"after closing", "18:00", false},
		{"just before closing", "16:30", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := env.bookReq()
			req.StartTime = tt.start
			_, err := env.svc.Book(context.Background(), env.patientCaller, req)
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrOutsideWorkingHours) {
				t.Fatalf("expected ErrOutsideWorkingHours, got %v", err)
			}
		})
	}
}

func TestBook_SlotFull(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Capacity is 2: fill it with two other patients.
	for i := 0; i < 2; i++ {
		p := &identity.Patient{UserID: uuid.New()}
		env.patients.Create(ctx, p)
		caller := auth.Caller{UserID: p.UserID, Role: auth.RolePatient}
		if _, err := env.svc.Book(ctx, caller, env.bookReq()); err != nil {
			t.Fatalf("setup booking %d failed: %v", i, err)
		}
	}

	if _, err := env.svc.Book(ctx, env.patientCaller, env.bookReq()); !errors.Is(err, ErrSlotFull) {
		t.Fatalf("expected ErrSlotFull, got %v", err)
	}
}

func TestBook_CancelledDoesNotCountTowardCapacity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	appt, err := env.svc.Book(ctx, env.patientCaller, env.bookReq())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	p2 := &identity.Patient{UserID: uuid.New()}
	env.patients.Create(ctx, p2)
	caller2 := auth.Caller{UserID: p2.UserID, Role: auth.RolePatient}
	if _, err := env.svc.Book(ctx, caller2, env.bookReq()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Slot is now full; cancel one and the place opens up again.
	if _, err := env.svc.Cancel(ctx, env.patientCaller, appt.ID, nil); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	p3 := &identity.Patient{UserID: uuid.New()}
	env.patients.Create(ctx, p3)
	caller3 := auth.Caller{UserID: p3.UserID, Role: auth.RolePatient}
	if _, err := env.svc.Book(ctx, caller3, env.bookReq()); err != nil {
		t.Fatalf("expected booking to succeed after cancellation, got %v", err)
	}
}

func TestBook_DifferentSlotsIndependent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		p := &identity.Patient{UserID: uuid.New()}
		env.patients.Create(ctx, p)
		caller := auth.Caller{UserID: p.UserID, Role: auth.RolePatient}
		if _, err := env.svc.Book(ctx, caller, env.bookReq()); err != nil {
			t.Fatalf("setup booking failed: %v", err)
		}
	}

	// 10:00 is full but 10:30 is free.
	req := env.bookReq()
	req.StartTime = "10:30"
	if _, err := env.svc.Book(ctx, env.patientCaller, req); err != nil {
		t.Fatalf("expected other slot to be bookable, got %v", err)
	}
}

func TestBook_NewestScheduleWinsWhenOverlapping(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// A newer rule for the same Monday with different hours.
	newer := &DoctorSchedule{
		DoctorID:           env.doctor.ID,
		DayOfWeek:          1,
		StartTime:          "13:00",
		EndTime:            "15:00",
		SlotDurationMin:    20,
		MaxPatientsPerSlot: 1,
		ValidFrom:          time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		IsActive:           true,
		CreatedAt:          time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	env.schedules.Create(ctx, newer)

	// 10:00 is inside the old rule's hours but outside the newer rule's.
	if _, err := env.svc.Book(ctx, env.patientCaller, env.bookReq()); !errors.Is(err, ErrOutsideWorkingHours) {
		t.Fatalf("expected newer rule to govern, got %v", err)
	}

	req := env.bookReq()
	req.StartTime = "13:00"
	appt, err := env.svc.Book(ctx, env.patientCaller, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if appt.EndTime != "13:20" {
		t.Errorf("expected newer rule's 20-minute slot, got end %s", appt.EndTime)
	}
}

func TestBook_CallerWithoutPatientProfile(t *testing.T) {
	env := newTestEnv(t)
	stranger := auth.Caller{UserID: uuid.New(), Role: auth.RolePatient}
	if _, err := env.svc.Book(context.Background(), stranger, env.bookReq()); !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("expected ErrNotAllowed, got %v", err)
	}
}

// Codes have one-second resolution, so the same patient booking two slots
// within a second gets the same label. That must not break the insert; the
// code is display-only and the UUID key carries uniqueness.
func TestBook_SameSecondCodesMayRepeat(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.svc.Book(ctx, env.patientCaller, env.bookReq())
	if err != nil {
		t.Fatalf("first booking failed: %v", err)
	}

	req := env.bookReq()
	req.StartTime = "11:00"
	second, err := env.svc.Book(ctx, env.patientCaller, req)
	if err != nil {
		t.Fatalf("second booking failed: %v", err)
	}

	if first.AppointmentCode != second.AppointmentCode {
		t.Errorf("expected identical codes at one-second resolution, got %q and %q",
			first.AppointmentCode, second.AppointmentCode)
	}
	if first.ID == second.ID {
		t.Error("expected distinct appointment ids")
	}
}

func TestBook_EndNearMidnightDoesNotWrap(t *testing.T) {
	env := newTestEnv(t)
	env.schedule.EndTime = "23:59"

	req := env.bookReq()
	req.StartTime = "23:45"
	appt, err := env.svc.Book(context.Background(), env.patientCaller, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if appt.EndTime != "23:59" {
		t.Errorf("expected end clamped to 23:59, got %s", appt.EndTime)
	}
	if appt.EndTime < appt.StartTime {
		t.Errorf("end %s sorts before start %s", appt.EndTime, appt.StartTime)
	}
}

// --- status transition tests ---

func (env *testEnv) mustBook(t *testing.T) *Appointment {
	t.Helper()
	appt, err := env.svc.Book(context.Background(), env.patientCaller, env.bookReq())
	if err != nil {
		t.Fatalf("booking failed: %v", err)
	}
	return appt
}

func TestUpdateStatus_DoctorConfirms(t *testing.T) {
	env := newTestEnv(t)
	appt := env.mustBook(t)

	updated, err := env.svc.UpdateStatus(context.Background(), env.doctorCaller, appt.ID, StatusConfirmed, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Status != StatusConfirmed {
		t.Errorf("expected confirmed, got %s", updated.Status)
	}
}

func TestUpdateStatus_DoctorIllegalTransition(t *testing.T) {
	env := newTestEnv(t)
	appt := env.mustBook(t)

	// pending -> completed skips confirmation.
	if _, err := env.svc.UpdateStatus(context.Background(), env.doctorCaller, appt.ID, StatusCompleted, nil); !errors.Is(err, ErrBadTransition) {
		t.Fatalf("expected ErrBadTransition, got %v", err)
	}
}

func TestUpdateStatus_DoctorCannotTouchOthersAppointments(t *testing.T) {
	env := newTestEnv(t)
	appt := env.mustBook(t)

	otherDoctorUser := uuid.New()
	env.doctors.Create(context.Background(), &identity.Doctor{UserID: otherDoctorUser, ConsultationFee: 80, IsVerified: true})
	other := auth.Caller{UserID: otherDoctorUser, Role: auth.RoleDoctor}

	if _, err := env.svc.UpdateStatus(context.Background(), other, appt.ID, StatusConfirmed, nil); !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("expected ErrNotAllowed, got %v", err)
	}
}

func TestUpdateStatus_TerminalStatesFrozen(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	appt := env.mustBook(t)

	if _, err := env.svc.UpdateStatus(ctx, env.doctorCaller, appt.ID, StatusConfirmed, nil); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if _, err := env.svc.UpdateStatus(ctx, env.doctorCaller, appt.ID, StatusCompleted, nil); err != nil {
		t.Fatalf("complete failed: %v", err)
	}

	if _, err := env.svc.UpdateStatus(ctx, env.doctorCaller, appt.ID, StatusConfirmed, nil); !errors.Is(err, ErrBadTransition) {
		t.Fatalf("expected ErrBadTransition from terminal state, got %v", err)
	}
}

func TestUpdateStatus_AdminOverridesMachine(t *testing.T) {
	env := newTestEnv(t)
	appt := env.mustBook(t)

	// pending -> completed is illegal for a doctor but admins may force it.
	updated, err := env.svc.UpdateStatus(context.Background(), env.adminCaller, appt.ID, StatusCompleted, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", updated.Status)
	}
}

func TestUpdateStatus_UnknownAppointment(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.svc.UpdateStatus(context.Background(), env.adminCaller, uuid.New(), StatusConfirmed, nil); !errors.Is(err, ErrAppointmentNotFound) {
		t.Fatalf("expected ErrAppointmentNotFound, got %v", err)
	}
}

func TestCancel_PatientWithin24Hours(t *testing.T) {
	env := newTestEnv(t)
	appt := env.mustBook(t)

	// Move the clock to Monday 08:00, two hours before the appointment.
	env.svc.now = func() time.Time { return time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC) }

	if _, err := env.svc.Cancel(context.Background(), env.patientCaller, appt.ID, nil); !errors.Is(err, ErrCancelWindow) {
		t.Fatalf("expected ErrCancelWindow, got %v", err)
	}
}

func TestCancel_PatientOutside24Hours(t *testing.T) {
	env := newTestEnv(t)
	appt := env.mustBook(t)

	reason := "schedule conflict"
	updated, err := env.svc.Cancel(context.Background(), env.patientCaller, appt.ID, &reason)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Status != StatusCancelled {
		t.Errorf("expected cancelled, got %s", updated.Status)
	}
	if updated.CancellationReason == nil || *updated.CancellationReason != reason {
		t.Error("expected cancellation reason recorded")
	}
}

func TestCancel_PatientOnlyWhilePending(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	appt := env.mustBook(t)

	if _, err := env.svc.UpdateStatus(ctx, env.doctorCaller, appt.ID, StatusConfirmed, nil); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}

	if _, err := env.svc.Cancel(ctx, env.patientCaller, appt.ID, nil); !errors.Is(err, ErrNotPending) {
		t.Fatalf("expected ErrNotPending, got %v", err)
	}
}

func TestCancel_PatientCannotCancelOthers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	appt := env.mustBook(t)

	otherUser := uuid.New()
	env.patients.Create(ctx, &identity.Patient{UserID: otherUser})
	other := auth.Caller{UserID: otherUser, Role: auth.RolePatient}

	if _, err := env.svc.Cancel(ctx, other, appt.ID, nil); !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("expected ErrNotAllowed, got %v", err)
	}
}

func TestUpdateStatus_PatientCannotConfirm(t *testing.T) {
	env := newTestEnv(t)
	appt := env.mustBook(t)

	if _, err := env.svc.UpdateStatus(context.Background(), env.patientCaller, appt.ID, StatusConfirmed, nil); !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("expected ErrNotAllowed, got %v", err)
	}
}

// --- read tests ---

func TestMyAppointments_PatientSeesOwn(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.mustBook(t)

	p2 := &identity.Patient{UserID: uuid.New()}
	env.patients.Create(ctx, p2)
	caller2 := auth.Caller{UserID: p2.UserID, Role: auth.RolePatient}
	req := env.bookReq()
	req.StartTime = "11:00"
	if _, err := env.svc.Book(ctx, caller2, req); err != nil {
		t.Fatalf("setup booking failed: %v", err)
	}

	appts, total, err := env.svc.MyAppointments(ctx, env.patientCaller, "", 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 || len(appts) != 1 {
		t.Fatalf("expected 1 appointment, got %d (total %d)", len(appts), total)
	}
	if appts[0].PatientID != env.patient.ID {
		t.Error("expected only own appointments")
	}
}

func TestMyAppointments_DoctorSeesAssigned(t *testing.T) {
	env := newTestEnv(t)
	env.mustBook(t)

	appts, total, err := env.svc.MyAppointments(context.Background(), env.doctorCaller, "", 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 || len(appts) != 1 {
		t.Fatalf("expected 1 appointment, got %d (total %d)", len(appts), total)
	}
}

func TestMyAppointments_StatusFilterCaseInsensitive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	appt := env.mustBook(t)
	req := env.bookReq()
	req.StartTime = "11:00"
	env.mustBookAt(t, req)

	if _, err := env.svc.UpdateStatus(ctx, env.doctorCaller, appt.ID, StatusConfirmed, nil); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}

	appts, total, err := env.svc.MyAppointments(ctx, env.patientCaller, "CONFIRMED", 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 || len(appts) != 1 || appts[0].Status != StatusConfirmed {
		t.Fatalf("expected 1 confirmed appointment, got %d", len(appts))
	}
}

func TestMyAppointments_UnknownStatusFilter(t *testing.T) {
	env := newTestEnv(t)
	if _, _, err := env.svc.MyAppointments(context.Background(), env.patientCaller, "done", 20, 0); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
}

func (env *testEnv) mustBookAt(t *testing.T, req BookRequest) *Appointment {
	t.Helper()
	appt, err := env.svc.Book(context.Background(), env.patientCaller, req)
	if err != nil {
		t.Fatalf("booking failed: %v", err)
	}
	return appt
}

func TestGet_Permissions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	appt := env.mustBook(t)

	if _, err := env.svc.Get(ctx, env.patientCaller, appt.ID); err != nil {
		t.Errorf("patient owner should read own appointment: %v", err)
	}
	if _, err := env.svc.Get(ctx, env.doctorCaller, appt.ID); err != nil {
		t.Errorf("assigned doctor should read the appointment: %v", err)
	}
	if _, err := env.svc.Get(ctx, env.adminCaller, appt.ID); err != nil {
		t.Errorf("admin should read any appointment: %v", err)
	}

	strangerUser := uuid.New()
	env.patients.Create(ctx, &identity.Patient{UserID: strangerUser})
	stranger := auth.Caller{UserID: strangerUser, Role: auth.RolePatient}
	if _, err := env.svc.Get(ctx, stranger, appt.ID); !errors.Is(err, ErrNotAllowed) {
		t.Errorf("expected ErrNotAllowed for stranger, got %v", err)
	}
}

// --- schedule rule tests ---

func TestCreateSchedule_Validation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	base := func() *DoctorSchedule {
		return &DoctorSchedule{
			DoctorID:           env.doctor.ID,
			DayOfWeek:          2,
			StartTime:          "09:00",
			EndTime:            "12:00",
			SlotDurationMin:    15,
			MaxPatientsPerSlot: 1,
			ValidFrom:          time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			IsActive:           true,
		}
	}

	tests := []struct {
		name   string
		mutate func(*DoctorSchedule)
	}{
		{"bad weekday", func(s *DoctorSchedule) { s.DayOfWeek = 7 }},
		{"end before start", func(s *DoctorSchedule) { s.EndTime = "08:00" }},
		{"end equals start", func(s *DoctorSchedule) { s.EndTime = "09:00" }},
		{"zero duration", func(s *DoctorSchedule) { s.SlotDurationMin = 0 }},
		{"zero capacity", func(s *DoctorSchedule) { s.MaxPatientsPerSlot = 0 }},
		{"bad time", func(s *DoctorSchedule) { s.StartTime = "late" }},
		{"missing valid_from", func(s *DoctorSchedule) { s.ValidFrom = time.Time{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := base()
			tt.mutate(s)
			if err := env.svc.CreateSchedule(ctx, env.doctorCaller, s); !errors.Is(err, ErrInvalidSchedule) {
				t.Fatalf("expected ErrInvalidSchedule, got %v", err)
			}
		})
	}

	if err := env.svc.CreateSchedule(ctx, env.doctorCaller, base()); err != nil {
		t.Fatalf("valid schedule rejected: %v", err)
	}
}

func TestCreateSchedule_DoctorOnlyForSelf(t *testing.T) {
	env := newTestEnv(t)
	s := &DoctorSchedule{
		DoctorID:           uuid.New(), // someone else
		DayOfWeek:          2,
		StartTime:          "09:00",
		EndTime:            "12:00",
		SlotDurationMin:    15,
		MaxPatientsPerSlot: 1,
		ValidFrom:          time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := env.svc.CreateSchedule(context.Background(), env.doctorCaller, s); !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("expected ErrNotAllowed, got %v", err)
	}
	if err := env.svc.CreateSchedule(context.Background(), env.adminCaller, s); err != nil {
		t.Fatalf("admin create failed: %v", err)
	}
}
