// Package notification delivers booking events (status changes, reminders,
// export-ready notices) to an external channel on a best-effort basis.
package notification

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// EventType names the kind of event carried by an Event.
type EventType string

const (
	TypeStatusChanged EventType = "status_changed"
	TypeReminder      EventType = "reminder"
	TypeCSVReady      EventType = "csv_ready"
	TypeMonthlyReport EventType = "monthly_report"
)

// Event is a single outbound notification.
type Event struct {
	ID            string    `json:"id"`
	Type          EventType `json:"type"`
	AppointmentID int64     `json:"appointment_id,omitempty"`
	PatientID     int64     `json:"patient_id,omitempty"`
	DoctorID      int64     `json:"doctor_id,omitempty"`
	NewStatus     string    `json:"new_status,omitempty"`
	Subject       string    `json:"subject,omitempty"`
	Message       string    `json:"message,omitempty"`
	Location      string    `json:"location,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// StatusChanged builds the event emitted after an appointment transition.
func StatusChanged(appointmentID, patientID int64, newStatus string) Event {
	return Event{
		Type:          TypeStatusChanged,
		AppointmentID: appointmentID,
		PatientID:     patientID,
		NewStatus:     newStatus,
	}
}

// Notifier delivers a single event.
type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// ---------------------------------------------------------------------------
// Dispatcher
// ---------------------------------------------------------------------------

// Dispatcher hands events to a Notifier in the background. Failures are
// logged and never reported to the caller.
type Dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	logger   zerolog.Logger
	wg       sync.WaitGroup
}

func NewDispatcher(n Notifier, timeout time.Duration, logger zerolog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{notifier: n, timeout: timeout, logger: logger}
}

// Emit stamps the event and delivers it asynchronously. The request context
// is not used for delivery because the event outlives the request.
func (d *Dispatcher) Emit(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.notifier.Notify(ctx, e); err != nil {
			d.logger.Warn().Err(err).
				Str("event_id", e.ID).
				Str("type", string(e.Type)).
				Int64("appointment_id", e.AppointmentID).
				Msg("notification delivery failed")
		}
	}()
}

// Close waits for in-flight deliveries.
func (d *Dispatcher) Close() {
	d.wg.Wait()
}

// ---------------------------------------------------------------------------
// Built-in notifiers
// ---------------------------------------------------------------------------

// LogNotifier writes events to the log. Used when no Redis is configured.
type LogNotifier struct {
	Logger zerolog.Logger
}

func (n LogNotifier) Notify(_ context.Context, e Event) error {
	n.Logger.Info().
		Str("event_id", e.ID).
		Str("type", string(e.Type)).
		Int64("appointment_id", e.AppointmentID).
		Int64("patient_id", e.PatientID).
		Str("new_status", e.NewStatus).
		Msg("notification")
	return nil
}

// Recorder is a Notifier test double that keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	Err    error
}

func (r *Recorder) Notify(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.Err
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Emitter is the narrow interface domain services depend on.
type Emitter interface {
	Emit(e Event)
}

// Fanout delivers each event to every notifier and joins their errors.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, e Event) error {
	var errs []error
	for _, n := range f {
		if err := n.Notify(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
