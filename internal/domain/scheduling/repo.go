package scheduling

import (
	"context"

	"github.com/shopspring/decimal"
)

// Repositories return an error matching ErrNotFound when a row is missing.

type AvailabilityRepository interface {
	Create(ctx context.Context, a *Availability) error
	Update(ctx context.Context, a *Availability) error
	Delete(ctx context.Context, id int64) error
	GetByID(ctx context.Context, id int64) (*Availability, error)
	GetForDate(ctx context.Context, doctorID int64, date Date) (*Availability, error)
	// LockForDate reads the row with SELECT ... FOR UPDATE. It must run
	// inside a transaction.
	LockForDate(ctx context.Context, doctorID int64, date Date) (*Availability, error)
	ListByDoctor(ctx context.Context, doctorID int64, limit, offset int) ([]*Availability, int, error)
}

type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id int64) (*Appointment, error)
	GetByIDForUpdate(ctx context.Context, id int64) (*Appointment, error)
	UpdateStatus(ctx context.Context, id int64, status Status) error
	CountBookedAt(ctx context.Context, doctorID int64, date Date, t TimeOfDay) (int, error)
	CountBookedByTime(ctx context.Context, doctorID int64, date Date) (map[TimeOfDay]int, error)
	// CountActiveOnDate counts Booked and Completed appointments.
	CountActiveOnDate(ctx context.Context, doctorID int64, date Date) (int, error)
	HasBookedOnDate(ctx context.Context, patientID, doctorID int64, date Date) (bool, error)
	List(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error)
	// ListHistory returns the patient's Completed appointments with their
	// treatments, newest first. doctorID 0 means every doctor.
	ListHistory(ctx context.Context, patientID, doctorID int64, limit, offset int) ([]*HistoryEntry, int, error)
}

type TreatmentRepository interface {
	Create(ctx context.Context, t *Treatment) error
	Update(ctx context.Context, t *Treatment) error
	GetByAppointment(ctx context.Context, appointmentID int64) (*Treatment, error)
}

type PaymentRepository interface {
	Create(ctx context.Context, p *Payment) error
	GetByID(ctx context.Context, id int64) (*Payment, error)
	GetByIDForUpdate(ctx context.Context, id int64) (*Payment, error)
	GetByAppointment(ctx context.Context, appointmentID int64) (*Payment, error)
	UpdateStatus(ctx context.Context, id int64, status PaymentStatus) error
}

// TxRunner scopes a unit of work. Repositories called with the ctx passed
// to fn join the transaction.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	ReadOnly(ctx context.Context, fn func(ctx context.Context) error) error
}

// PriceLookup returns the consultation price of the doctor's department.
type PriceLookup interface {
	PriceForDoctor(ctx context.Context, doctorID int64) (decimal.Decimal, error)
}
