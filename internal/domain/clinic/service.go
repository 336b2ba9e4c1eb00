package clinic

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrNameRequired = errors.New("name is required")

type Service struct {
	facilities FacilityRepository
}

func NewService(facilities FacilityRepository) *Service {
	return &Service{facilities: facilities}
}

func (s *Service) CreateFacility(ctx context.Context, f *Facility) error {
	if f.Name == "" {
		return ErrNameRequired
	}
	return s.facilities.Create(ctx, f)
}

func (s *Service) GetFacility(ctx context.Context, id uuid.UUID) (*Facility, error) {
	return s.facilities.GetByID(ctx, id)
}

func (s *Service) ListFacilities(ctx context.Context, limit, offset int) ([]*Facility, int, error) {
	return s.facilities.ListActive(ctx, limit, offset)
}
