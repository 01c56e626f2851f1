package scheduling

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hospital/booking/internal/platform/db"
)

// BookingEngine reserves a seat in a slot and opens the pending payment for
// it. Concurrent bookings for the same doctor and date serialize on the
// availability row lock.
type BookingEngine struct {
	tx       TxRunner
	avail    AvailabilityRepository
	appts    AppointmentRepository
	payments PaymentRepository
	prices   PriceLookup
	opts     Options
}

func NewBookingEngine(tx TxRunner, avail AvailabilityRepository, appts AppointmentRepository,
	payments PaymentRepository, prices PriceLookup, opts Options) *BookingEngine {
	return &BookingEngine{
		tx:       tx,
		avail:    avail,
		appts:    appts,
		payments: payments,
		prices:   prices,
		opts:     opts.withDefaults(),
	}
}

// Book creates a Booked appointment and a Pending payment priced at the
// doctor's department rate. Failures are checked in order: NoAvailability,
// SlotFull, DuplicateBooking. Nothing is written when any check fails.
func (e *BookingEngine) Book(ctx context.Context, req BookingRequest) (*BookingConfirmation, error) {
	ctx, span := tracer.Start(ctx, "BookingEngine.Book", trace.WithAttributes(
		attribute.Int64("doctor.id", req.DoctorID),
		attribute.Int64("patient.id", req.PatientID),
		attribute.String("date", string(req.Date)),
		attribute.String("time", req.Time.String()),
	))
	defer span.End()

	conf, err := e.book(ctx, req)
	if err != nil {
		e.opts.Metrics.ObserveBooking(outcome(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	invalidateSlots(ctx, e.opts, req.DoctorID, req.Date)
	e.opts.Metrics.ObserveBooking("booked")
	e.opts.Logger.Info().
		Int64("appointment_id", conf.AppointmentID).
		Int64("payment_id", conf.PaymentID).
		Int64("doctor_id", req.DoctorID).
		Str("date", string(req.Date)).
		Str("time", req.Time.String()).
		Msg("appointment booked")
	return conf, nil
}

func (e *BookingEngine) book(ctx context.Context, req BookingRequest) (*BookingConfirmation, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	for attempt := 1; ; attempt++ {
		conf, err := e.attempt(ctx, req)
		if err == nil || !db.IsRetryable(err) {
			return conf, err
		}
		if attempt >= e.opts.MaxAttempts {
			return nil, newError(KindSlotFull, "slot %s on %s is busy, try another time", req.Time, req.Date)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		e.opts.Metrics.ObserveRetry()
		e.opts.Logger.Debug().Err(err).Int("attempt", attempt).Msg("retrying booking transaction")
	}
}

func (e *BookingEngine) attempt(ctx context.Context, req BookingRequest) (*BookingConfirmation, error) {
	var conf *BookingConfirmation
	err := e.tx.WithTx(ctx, func(ctx context.Context) error {
		a, err := openAvailability(ctx, e.avail.LockForDate, req.DoctorID, req.Date)
		if err != nil {
			return err
		}
		if !a.OnGrid(req.Time, e.opts.SlotMinutes) {
			return newError(KindNoAvailability, "%s is not a bookable slot for doctor %d on %s", req.Time, req.DoctorID, req.Date)
		}

		used, err := e.appts.CountBookedAt(ctx, req.DoctorID, req.Date, req.Time)
		if err != nil {
			return err
		}
		if used >= a.SeatsTotal {
			return newError(KindSlotFull, "slot %s on %s is fully booked", req.Time, req.Date)
		}

		dup, err := e.appts.HasBookedOnDate(ctx, req.PatientID, req.DoctorID, req.Date)
		if err != nil {
			return err
		}
		if dup {
			return newError(KindDuplicateBooking, "patient %d already has a booking with doctor %d on %s", req.PatientID, req.DoctorID, req.Date)
		}

		price, err := e.prices.PriceForDoctor(ctx, req.DoctorID)
		if err != nil {
			return err
		}

		appt := &Appointment{
			PatientID: req.PatientID,
			DoctorID:  req.DoctorID,
			Date:      req.Date,
			Time:      req.Time,
			Status:    StatusBooked,
			Reason:    req.Reason,
		}
		if err := e.appts.Create(ctx, appt); err != nil {
			return err
		}
		pay := &Payment{AppointmentID: appt.ID, Amount: price, Status: PaymentPending}
		if err := e.payments.Create(ctx, pay); err != nil {
			return err
		}

		conf = &BookingConfirmation{
			AppointmentID: appt.ID,
			PaymentID:     pay.ID,
			Amount:        price,
			PaymentURL:    fmt.Sprintf("%s/%d", e.opts.PaymentURLBase, pay.ID),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conf, nil
}

func (r BookingRequest) validate() error {
	if r.PatientID <= 0 {
		return Validation("patient_id is required")
	}
	if r.DoctorID <= 0 {
		return Validation("doctor_id is required")
	}
	if _, err := ParseDate(string(r.Date)); err != nil {
		return Validation("%v", err)
	}
	if r.Time < 0 || r.Time >= Clock(24, 0) {
		return Validation("time %s is outside the day", r.Time)
	}
	return nil
}

func outcome(err error) string {
	if k := KindOf(err); k != "" {
		return string(k)
	}
	return "error"
}
