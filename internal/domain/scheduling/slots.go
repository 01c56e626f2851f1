package scheduling

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SlotGenerator derives bookable slots from a doctor's availability and the
// appointments already booked against it.
type SlotGenerator struct {
	tx    TxRunner
	avail AvailabilityRepository
	appts AppointmentRepository
	opts  Options
}

func NewSlotGenerator(tx TxRunner, avail AvailabilityRepository, appts AppointmentRepository, opts Options) *SlotGenerator {
	return &SlotGenerator{tx: tx, avail: avail, appts: appts, opts: opts.withDefaults()}
}

// GenerateSlots returns the slots of doctorID on date that still have a free
// seat, ordered by time. It fails with ErrNotAvailable when the doctor has
// no open availability that day.
func (g *SlotGenerator) GenerateSlots(ctx context.Context, doctorID int64, date Date) ([]Slot, error) {
	ctx, span := tracer.Start(ctx, "SlotGenerator.GenerateSlots", trace.WithAttributes(
		attribute.Int64("doctor.id", doctorID),
		attribute.String("date", string(date)),
	))
	defer span.End()
	started := time.Now()
	defer func() { g.opts.Metrics.ObserveSlotGeneration(time.Since(started)) }()

	// The generation is read before the snapshot below; see SlotCache.
	slots, gen, ok, cacheUp := g.cached(ctx, doctorID, date)
	if ok {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return slots, nil
	}

	err := g.tx.ReadOnly(ctx, func(ctx context.Context) error {
		a, err := openAvailability(ctx, g.avail.GetForDate, doctorID, date)
		if err != nil {
			return err
		}
		booked, err := g.appts.CountBookedByTime(ctx, doctorID, date)
		if err != nil {
			return err
		}
		slots = freeSlots(a, booked, g.opts.SlotMinutes)
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if !cacheUp {
		return slots, nil
	}
	stored, err := g.opts.Cache.Set(ctx, doctorID, date, gen, slots)
	if err != nil {
		g.opts.Logger.Warn().Err(err).Int64("doctor_id", doctorID).Str("date", string(date)).Msg("slot cache write failed")
	} else if !stored {
		g.opts.Logger.Debug().Int64("doctor_id", doctorID).Str("date", string(date)).Msg("slots changed during read, not cached")
	}
	return slots, nil
}

// cached reports a hit, or on a miss the generation to hand to Set.
// cacheUp is false when the cache could not be read at all.
func (g *SlotGenerator) cached(ctx context.Context, doctorID int64, date Date) (slots []Slot, gen int64, hit, cacheUp bool) {
	slots, gen, hit, err := g.opts.Cache.Get(ctx, doctorID, date)
	if err != nil {
		g.opts.Logger.Warn().Err(err).Int64("doctor_id", doctorID).Str("date", string(date)).Msg("slot cache read failed")
		return nil, 0, false, false
	}
	g.opts.Metrics.ObserveSlotCache(hit)
	return slots, gen, hit, true
}

func freeSlots(a *Availability, booked map[TimeOfDay]int, step int) []Slot {
	slots := make([]Slot, 0)
	for _, t := range a.SlotTimes(step) {
		used := booked[t]
		if used >= a.SeatsTotal {
			continue
		}
		slots = append(slots, Slot{
			DoctorID:      a.DoctorID,
			Date:          a.Date,
			Time:          t,
			CapacityTotal: a.SeatsTotal,
			CapacityUsed:  used,
		})
	}
	return slots
}

type availabilityLookup func(ctx context.Context, doctorID int64, date Date) (*Availability, error)

// openAvailability maps a missing or closed availability to NoAvailability.
func openAvailability(ctx context.Context, lookup availabilityLookup, doctorID int64, date Date) (*Availability, error) {
	a, err := lookup(ctx, doctorID, date)
	if errors.Is(err, ErrNotFound) {
		return nil, newError(KindNoAvailability, "doctor %d has no availability on %s", doctorID, date)
	}
	if err != nil {
		return nil, err
	}
	if !a.IsOpen {
		return nil, newError(KindNoAvailability, "doctor %d is not taking appointments on %s", doctorID, date)
	}
	return a, nil
}

func invalidateSlots(ctx context.Context, opts Options, doctorID int64, date Date) {
	if err := opts.Cache.Invalidate(ctx, doctorID, date); err != nil {
		opts.Logger.Warn().Err(err).Int64("doctor_id", doctorID).Str("date", string(date)).Msg("slot cache invalidation failed")
	}
}
