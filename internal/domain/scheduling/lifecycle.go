package scheduling

import (
	"context"
	"errors"
	"strings"

	"github.com/hospital/booking/internal/platform/auth"
	"github.com/hospital/booking/internal/platform/notification"
)

// StateMachine moves appointments out of Booked. Completed and Cancelled
// are terminal.
type StateMachine struct {
	tx         TxRunner
	appts      AppointmentRepository
	treatments TreatmentRepository
	opts       Options
}

func NewStateMachine(tx TxRunner, appts AppointmentRepository, treatments TreatmentRepository, opts Options) *StateMachine {
	return &StateMachine{tx: tx, appts: appts, treatments: treatments, opts: opts.withDefaults()}
}

// Complete marks a Booked appointment Completed. Only the appointment's
// doctor (or an admin) may do so.
func (m *StateMachine) Complete(ctx context.Context, actor auth.Actor, id int64) (*Appointment, error) {
	return m.transition(ctx, actor, id, StatusCompleted)
}

// Cancel marks a Booked appointment Cancelled. Only the appointment's
// patient (or an admin) may do so.
func (m *StateMachine) Cancel(ctx context.Context, actor auth.Actor, id int64) (*Appointment, error) {
	return m.transition(ctx, actor, id, StatusCancelled)
}

func (m *StateMachine) transition(ctx context.Context, actor auth.Actor, id int64, to Status) (*Appointment, error) {
	var appt *Appointment
	err := m.tx.WithTx(ctx, func(ctx context.Context) error {
		a, err := m.appts.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !mayTransition(actor, a, to) {
			return newError(KindUnauthorized, "not allowed to mark appointment %d %s", id, to)
		}
		if a.Status != StatusBooked {
			return newError(KindInvalidTransition, "cannot move appointment %d from %s to %s", id, a.Status, to)
		}
		if err := m.appts.UpdateStatus(ctx, id, to); err != nil {
			return err
		}
		a.Status = to
		appt = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.changed(ctx, appt)
	return appt, nil
}

func mayTransition(actor auth.Actor, a *Appointment, to Status) bool {
	if actor.IsAdmin() {
		return true
	}
	if to == StatusCancelled {
		return actor.Is(auth.RolePatient, a.PatientID)
	}
	return actor.Is(auth.RoleDoctor, a.DoctorID)
}

// FileTreatment records the doctor's treatment for an appointment. Filing
// on a Booked appointment completes it in the same transaction; filing
// again on a Completed one updates the record.
func (m *StateMachine) FileTreatment(ctx context.Context, actor auth.Actor, id int64, in TreatmentInput) (*Treatment, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	var (
		t         *Treatment
		completed *Appointment
	)
	err := m.tx.WithTx(ctx, func(ctx context.Context) error {
		a, err := m.appts.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !actor.IsAdmin() && !actor.Is(auth.RoleDoctor, a.DoctorID) {
			return newError(KindUnauthorized, "not allowed to file treatment for appointment %d", id)
		}
		if a.Status == StatusCancelled {
			return newError(KindInvalidState, "appointment %d is cancelled", id)
		}

		t, err = m.treatments.GetByAppointment(ctx, id)
		switch {
		case err == nil:
			in.applyTo(t)
			if err := m.treatments.Update(ctx, t); err != nil {
				return err
			}
		case errors.Is(err, ErrNotFound):
			t = &Treatment{AppointmentID: id}
			in.applyTo(t)
			if err := m.treatments.Create(ctx, t); err != nil {
				return err
			}
		default:
			return err
		}

		if a.Status == StatusBooked {
			if err := m.appts.UpdateStatus(ctx, id, StatusCompleted); err != nil {
				return err
			}
			a.Status = StatusCompleted
			completed = a
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if completed != nil {
		m.changed(ctx, completed)
	}
	return t, nil
}

// changed runs the post-commit side effects of a transition. None of them
// can fail the transition.
func (m *StateMachine) changed(ctx context.Context, a *Appointment) {
	invalidateSlots(ctx, m.opts, a.DoctorID, a.Date)
	m.opts.Events.Emit(notification.StatusChanged(a.ID, a.PatientID, string(a.Status)))
	m.opts.Metrics.ObserveTransition(string(a.Status))
	m.opts.Logger.Info().
		Int64("appointment_id", a.ID).
		Str("status", string(a.Status)).
		Msg("appointment status changed")
}

func (in TreatmentInput) validate() error {
	if strings.TrimSpace(in.Diagnosis) == "" {
		return Validation("diagnosis is required")
	}
	if in.FollowUpDate != nil {
		if _, err := ParseDate(string(*in.FollowUpDate)); err != nil {
			return Validation("follow_up_date: %v", err)
		}
	}
	return nil
}

func (in TreatmentInput) applyTo(t *Treatment) {
	t.Diagnosis = strings.TrimSpace(in.Diagnosis)
	t.Prescription = in.Prescription
	t.Notes = in.Notes
	t.FollowUpRequired = in.FollowUpRequired
	t.FollowUpDate = in.FollowUpDate
}
