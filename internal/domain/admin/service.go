package admin

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/hospital/booking/internal/domain/scheduling"
)

// Service is the doctor and department directory. It prices bookings for
// the scheduling package.
type Service struct {
	repo DirectoryRepository
}

func NewService(repo DirectoryRepository) *Service {
	return &Service{repo: repo}
}

var _ scheduling.PriceLookup = (*Service)(nil)

// PriceForDoctor returns the price of the doctor's department. Inactive
// doctors cannot be booked and report NotFound.
func (s *Service) PriceForDoctor(ctx context.Context, doctorID int64) (decimal.Decimal, error) {
	d, err := s.repo.GetDoctor(ctx, doctorID)
	if err != nil {
		return decimal.Zero, err
	}
	if !d.IsActive {
		return decimal.Zero, notFound("doctor", doctorID)
	}
	return d.Price, nil
}

func (s *Service) GetDoctor(ctx context.Context, id int64) (*Doctor, error) {
	return s.repo.GetDoctor(ctx, id)
}

func (s *Service) ListDoctors(ctx context.Context, departmentID int64, limit, offset int) ([]*Doctor, int, error) {
	return s.repo.ListDoctors(ctx, departmentID, limit, offset)
}

func (s *Service) GetDepartment(ctx context.Context, id int64) (*Department, error) {
	return s.repo.GetDepartment(ctx, id)
}

func (s *Service) ListDepartments(ctx context.Context, limit, offset int) ([]*Department, int, error) {
	return s.repo.ListDepartments(ctx, limit, offset)
}

// SetDepartmentPrice changes the price future bookings are charged.
// Existing payments keep the amount captured at booking time.
func (s *Service) SetDepartmentPrice(ctx context.Context, id int64, price decimal.Decimal) (*Department, error) {
	if price.IsNegative() {
		return nil, scheduling.Validation("price must not be negative")
	}
	if err := s.repo.UpdateDepartmentPrice(ctx, id, price.Round(2)); err != nil {
		return nil, err
	}
	return s.repo.GetDepartment(ctx, id)
}
