package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var (
	ErrEmailRequired = errors.New("email is required")
	ErrNameRequired  = errors.New("full_name is required")
	ErrFeeNegative   = errors.New("consultation_fee must not be negative")
)

type Service struct {
	users    UserRepository
	patients PatientRepository
	doctors  DoctorRepository
}

func NewService(users UserRepository, patients PatientRepository, doctors DoctorRepository) *Service {
	return &Service{users: users, patients: patients, doctors: doctors}
}

func (s *Service) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return s.doctors.GetByID(ctx, id)
}

func (s *Service) GetDoctorByUser(ctx context.Context, userID uuid.UUID) (*Doctor, error) {
	return s.doctors.GetByUserID(ctx, userID)
}

// ListVerifiedDoctors returns only doctors cleared to take bookings.
func (s *Service) ListVerifiedDoctors(ctx context.Context, limit, offset int) ([]*Doctor, int, error) {
	return s.doctors.ListVerified(ctx, limit, offset)
}

func (s *Service) GetPatientByUser(ctx context.Context, userID uuid.UUID) (*Patient, error) {
	return s.patients.GetByUserID(ctx, userID)
}

func (s *Service) CreateUser(ctx context.Context, u *User) error {
	if u.Email == "" {
		return ErrEmailRequired
	}
	if u.FullName == "" {
		return ErrNameRequired
	}
	return s.users.Create(ctx, u)
}

func (s *Service) CreateDoctor(ctx context.Context, d *Doctor) error {
	if d.ConsultationFee < 0 {
		return ErrFeeNegative
	}
	if _, err := s.users.GetByID(ctx, d.UserID); err != nil {
		return err
	}
	return s.doctors.Create(ctx, d)
}

func (s *Service) CreatePatient(ctx context.Context, p *Patient) error {
	if _, err := s.users.GetByID(ctx, p.UserID); err != nil {
		return err
	}
	return s.patients.Create(ctx, p)
}
