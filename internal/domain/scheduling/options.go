package scheduling

import (
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"github.com/hospital/booking/internal/platform/notification"
	"github.com/hospital/booking/internal/platform/telemetry"
)

var tracer = otel.Tracer("hospital/booking/scheduling")

const (
	DefaultSlotMinutes    = 30
	DefaultMaxAttempts    = 3
	DefaultPaymentURLBase = "/api/v1/payments"
)

// Options carries the collaborators shared by the scheduling components.
// Zero values fall back to no-op implementations and the defaults above.
type Options struct {
	SlotMinutes    int
	MaxAttempts    int
	PaymentURLBase string
	Cache          SlotCache
	Metrics        *telemetry.BookingMetrics
	Events         notification.Emitter
	Logger         zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.SlotMinutes <= 0 {
		o.SlotMinutes = DefaultSlotMinutes
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.PaymentURLBase == "" {
		o.PaymentURLBase = DefaultPaymentURLBase
	}
	if o.Cache == nil {
		o.Cache = NopSlotCache{}
	}
	if o.Events == nil {
		o.Events = nopEmitter{}
	}
	return o
}

type nopEmitter struct{}

func (nopEmitter) Emit(notification.Event) {}
