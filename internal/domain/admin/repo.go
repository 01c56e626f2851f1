package admin

import (
	"context"

	"github.com/shopspring/decimal"
)

// DirectoryRepository reads doctors and departments. The only write is the
// department price.
type DirectoryRepository interface {
	GetDoctor(ctx context.Context, id int64) (*Doctor, error)
	ListDoctors(ctx context.Context, departmentID int64, limit, offset int) ([]*Doctor, int, error)
	GetDepartment(ctx context.Context, id int64) (*Department, error)
	ListDepartments(ctx context.Context, limit, offset int) ([]*Department, int, error)
	UpdateDepartmentPrice(ctx context.Context, id int64, price decimal.Decimal) error
}
