package scheduling

import (
	"context"

	"github.com/hospital/booking/internal/platform/auth"
)

// PaymentService flips payment status on behalf of the payment gateway.
// It performs no charge itself.
type PaymentService struct {
	tx       TxRunner
	payments PaymentRepository
	appts    AppointmentRepository
	opts     Options
}

func NewPaymentService(tx TxRunner, payments PaymentRepository, appts AppointmentRepository, opts Options) *PaymentService {
	return &PaymentService{tx: tx, payments: payments, appts: appts, opts: opts.withDefaults()}
}

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending: {PaymentSuccess, PaymentFailed},
	PaymentFailed:  {PaymentSuccess},
}

func canMovePayment(from, to PaymentStatus) bool {
	for _, s := range paymentTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// GetPayment returns the payment if the actor is party to its appointment.
func (s *PaymentService) GetPayment(ctx context.Context, actor auth.Actor, id int64) (*Payment, error) {
	p, err := s.payments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	a, err := s.appts.GetByID(ctx, p.AppointmentID)
	if err != nil {
		return nil, err
	}
	if !canView(actor, a) {
		return nil, newError(KindUnauthorized, "not allowed to view payment %d", id)
	}
	return p, nil
}

// ConfirmPayment records the gateway outcome for a payment.
func (s *PaymentService) ConfirmPayment(ctx context.Context, actor auth.Actor, id int64, status PaymentStatus) (*Payment, error) {
	if status != PaymentSuccess && status != PaymentFailed {
		return nil, Validation("status must be one of [Success Failed]")
	}

	var p *Payment
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		var err error
		if p, err = s.payments.GetByIDForUpdate(ctx, id); err != nil {
			return err
		}
		a, err := s.appts.GetByID(ctx, p.AppointmentID)
		if err != nil {
			return err
		}
		if !actor.IsAdmin() && !actor.Is(auth.RolePatient, a.PatientID) {
			return newError(KindUnauthorized, "not allowed to confirm payment %d", id)
		}
		if !canMovePayment(p.Status, status) {
			return newError(KindInvalidTransition, "cannot move payment %d from %s to %s", id, p.Status, status)
		}
		if status == PaymentSuccess && a.Status == StatusCancelled {
			return newError(KindInvalidState, "appointment %d is cancelled", a.ID)
		}
		if err := s.payments.UpdateStatus(ctx, id, status); err != nil {
			return err
		}
		p.Status = status
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.opts.Logger.Info().Int64("payment_id", id).Str("status", string(status)).Msg("payment status updated")
	return p, nil
}

// canView allows the appointment's patient, its doctor and admins.
func canView(actor auth.Actor, a *Appointment) bool {
	return actor.IsAdmin() || actor.Is(auth.RolePatient, a.PatientID) || actor.Is(auth.RoleDoctor, a.DoctorID)
}
