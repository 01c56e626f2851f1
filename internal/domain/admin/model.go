package admin

import (
	"time"

	"github.com/shopspring/decimal"
)

type Department struct {
	ID          int64           `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Doctor is the directory view of a doctor with the department details the
// booking flow needs.
type Doctor struct {
	ID             int64           `json:"id"`
	UserID         string          `json:"user_id,omitempty"`
	Name           string          `json:"name"`
	DepartmentID   int64           `json:"department_id"`
	DepartmentName string          `json:"department_name"`
	Price          decimal.Decimal `json:"price"`
	IsActive       bool            `json:"is_active"`
}
