package scheduling

import (
	"context"
	"errors"

	"github.com/hospital/booking/internal/platform/auth"
)

// AvailabilityStore keeps one availability window per doctor and date.
// A window can be replaced or removed only while the date has no Booked or
// Completed appointments.
type AvailabilityStore struct {
	tx    TxRunner
	avail AvailabilityRepository
	appts AppointmentRepository
	opts  Options
}

func NewAvailabilityStore(tx TxRunner, avail AvailabilityRepository, appts AppointmentRepository, opts Options) *AvailabilityStore {
	return &AvailabilityStore{tx: tx, avail: avail, appts: appts, opts: opts.withDefaults()}
}

// Declare creates the window for (doctor, date) or replaces the existing
// one. created reports which of the two happened.
func (s *AvailabilityStore) Declare(ctx context.Context, actor auth.Actor, in AvailabilityInput) (a *Availability, created bool, err error) {
	if actor.Role == auth.RoleDoctor && in.DoctorID == 0 {
		in.DoctorID = actor.ID
	}
	if !mayManage(actor, in.DoctorID) {
		return nil, false, newError(KindUnauthorized, "not allowed to manage availability of doctor %d", in.DoctorID)
	}
	if err := in.validate(); err != nil {
		return nil, false, err
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		existing, err := s.avail.LockForDate(ctx, in.DoctorID, in.Date)
		if errors.Is(err, ErrNotFound) {
			a = &Availability{
				DoctorID:   in.DoctorID,
				Date:       in.Date,
				StartTime:  in.StartTime,
				EndTime:    in.EndTime,
				SeatsTotal: in.SeatsTotal,
				IsOpen:     true,
			}
			created = true
			return s.avail.Create(ctx, a)
		}
		if err != nil {
			return err
		}
		if err := s.ensureNoActive(ctx, existing); err != nil {
			return err
		}
		existing.StartTime, existing.EndTime = in.StartTime, in.EndTime
		existing.SeatsTotal, existing.IsOpen = in.SeatsTotal, true
		a = existing
		return s.avail.Update(ctx, a)
	})
	if err != nil {
		return nil, false, err
	}
	invalidateSlots(ctx, s.opts, a.DoctorID, a.Date)
	return a, created, nil
}

// SetOpen opens or closes a window without touching its appointments.
func (s *AvailabilityStore) SetOpen(ctx context.Context, actor auth.Actor, id int64, open bool) (*Availability, error) {
	var a *Availability
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if a, err = s.lockByID(ctx, actor, id); err != nil {
			return err
		}
		a.IsOpen = open
		return s.avail.Update(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	invalidateSlots(ctx, s.opts, a.DoctorID, a.Date)
	return a, nil
}

func (s *AvailabilityStore) Delete(ctx context.Context, actor auth.Actor, id int64) error {
	var a *Availability
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if a, err = s.lockByID(ctx, actor, id); err != nil {
			return err
		}
		if err := s.ensureNoActive(ctx, a); err != nil {
			return err
		}
		return s.avail.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	invalidateSlots(ctx, s.opts, a.DoctorID, a.Date)
	return nil
}

func (s *AvailabilityStore) Get(ctx context.Context, id int64) (*Availability, error) {
	return s.avail.GetByID(ctx, id)
}

func (s *AvailabilityStore) List(ctx context.Context, doctorID int64, limit, offset int) ([]*Availability, int, error) {
	return s.avail.ListByDoctor(ctx, doctorID, limit, offset)
}

// lockByID loads the window, checks ownership and takes the row lock
// bookings contend on.
func (s *AvailabilityStore) lockByID(ctx context.Context, actor auth.Actor, id int64) (*Availability, error) {
	a, err := s.avail.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !mayManage(actor, a.DoctorID) {
		return nil, newError(KindUnauthorized, "not allowed to manage availability %d", id)
	}
	return s.avail.LockForDate(ctx, a.DoctorID, a.Date)
}

func (s *AvailabilityStore) ensureNoActive(ctx context.Context, a *Availability) error {
	n, err := s.appts.CountActiveOnDate(ctx, a.DoctorID, a.Date)
	if err != nil {
		return err
	}
	if n > 0 {
		return newError(KindInvalidState, "doctor %d has %d appointments on %s", a.DoctorID, n, a.Date)
	}
	return nil
}

func mayManage(actor auth.Actor, doctorID int64) bool {
	return actor.IsAdmin() || actor.Is(auth.RoleDoctor, doctorID)
}

func (in AvailabilityInput) validate() error {
	if in.DoctorID <= 0 {
		return Validation("doctor_id is required")
	}
	if _, err := ParseDate(string(in.Date)); err != nil {
		return Validation("%v", err)
	}
	if in.StartTime < 0 || in.EndTime > Clock(24, 0) {
		return Validation("availability must lie within the day")
	}
	if in.StartTime >= in.EndTime {
		return Validation("start_time must be before end_time")
	}
	if in.SeatsTotal < 1 {
		return Validation("seats_total must be at least 1")
	}
	return nil
}
