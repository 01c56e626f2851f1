package scheduling

import (
	"context"

	"github.com/hospital/booking/internal/platform/auth"
	"github.com/hospital/booking/internal/platform/db"
)

// Repositories groups the stores the scheduling components read and write.
type Repositories struct {
	Availability AvailabilityRepository
	Appointments AppointmentRepository
	Treatments   TreatmentRepository
	Payments     PaymentRepository
}

// NewPGRepositories returns Postgres-backed repositories sharing pool.
func NewPGRepositories(pool db.Querier) Repositories {
	return Repositories{
		Availability: NewAvailabilityRepoPG(pool),
		Appointments: NewAppointmentRepoPG(pool),
		Treatments:   NewTreatmentRepoPG(pool),
		Payments:     NewPaymentRepoPG(pool),
	}
}

// Service wires the scheduling components together and adds the
// role-scoped reads the HTTP layer needs.
type Service struct {
	Availability *AvailabilityStore
	Slots        *SlotGenerator
	Booking      *BookingEngine
	Lifecycle    *StateMachine
	Payments     *PaymentService

	appts      AppointmentRepository
	treatments TreatmentRepository
}

func NewService(tx TxRunner, repos Repositories, prices PriceLookup, opts Options) *Service {
	opts = opts.withDefaults()
	return &Service{
		Availability: NewAvailabilityStore(tx, repos.Availability, repos.Appointments, opts),
		Slots:        NewSlotGenerator(tx, repos.Availability, repos.Appointments, opts),
		Booking:      NewBookingEngine(tx, repos.Availability, repos.Appointments, repos.Payments, prices, opts),
		Lifecycle:    NewStateMachine(tx, repos.Appointments, repos.Treatments, opts),
		Payments:     NewPaymentService(tx, repos.Payments, repos.Appointments, opts),
		appts:        repos.Appointments,
		treatments:   repos.Treatments,
	}
}

// ListAppointments narrows f to the actor's own appointments unless the
// actor is an admin.
func (s *Service) ListAppointments(ctx context.Context, actor auth.Actor, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	switch actor.Role {
	case auth.RoleAdmin:
	case auth.RolePatient:
		f.PatientID = actor.ID
	case auth.RoleDoctor:
		f.DoctorID = actor.ID
	default:
		return nil, 0, newError(KindUnauthorized, "unknown role %q", actor.Role)
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, Validation("status must be one of [Booked Completed Cancelled]")
	}
	return s.appts.List(ctx, f, limit, offset)
}

func (s *Service) GetAppointment(ctx context.Context, actor auth.Actor, id int64) (*Appointment, error) {
	a, err := s.appts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(actor, a) {
		return nil, newError(KindUnauthorized, "not allowed to view appointment %d", id)
	}
	return a, nil
}

func (s *Service) GetTreatment(ctx context.Context, actor auth.Actor, appointmentID int64) (*Treatment, error) {
	if _, err := s.GetAppointment(ctx, actor, appointmentID); err != nil {
		return nil, err
	}
	return s.treatments.GetByAppointment(ctx, appointmentID)
}

// History returns a patient's completed visits. Patients read their own,
// doctors read their visits with a patient they have seen, admins read all.
func (s *Service) History(ctx context.Context, actor auth.Actor, patientID int64, limit, offset int) ([]*HistoryEntry, int, error) {
	if patientID <= 0 {
		return nil, 0, Validation("patient id is required")
	}
	var doctorID int64
	switch actor.Role {
	case auth.RoleAdmin:
	case auth.RolePatient:
		if actor.ID != patientID {
			return nil, 0, newError(KindUnauthorized, "not allowed to view history of patient %d", patientID)
		}
	case auth.RoleDoctor:
		_, seen, err := s.appts.List(ctx, AppointmentFilter{PatientID: patientID, DoctorID: actor.ID}, 1, 0)
		if err != nil {
			return nil, 0, err
		}
		if seen == 0 {
			return nil, 0, newError(KindUnauthorized, "patient %d has no appointments with doctor %d", patientID, actor.ID)
		}
		doctorID = actor.ID
	default:
		return nil, 0, newError(KindUnauthorized, "unknown role %q", actor.Role)
	}
	return s.appts.ListHistory(ctx, patientID, doctorID, limit, offset)
}
