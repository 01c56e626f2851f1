package scheduling

import (
	"errors"
	"fmt"
)

// Kind classifies a domain failure. The string value is the stable code
// returned to API clients.
type Kind string

const (
	KindNotFound          Kind = "not_found"
	KindUnauthorized      Kind = "unauthorized"
	KindInvalidTransition Kind = "invalid_transition"
	KindInvalidState      Kind = "invalid_state"
	KindNoAvailability    Kind = "no_availability"
	KindSlotFull          Kind = "slot_full"
	KindDuplicateBooking  Kind = "duplicate_booking"
	KindValidation        Kind = "validation_error"
)

// Error is a typed domain error. errors.Is matches on Kind alone, so
// errors.Is(err, ErrSlotFull) holds for any slot_full error.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrNotFound          = &Error{Kind: KindNotFound, Message: "not found"}
	ErrUnauthorized      = &Error{Kind: KindUnauthorized, Message: "not allowed"}
	ErrInvalidTransition = &Error{Kind: KindInvalidTransition, Message: "invalid status transition"}
	ErrInvalidState      = &Error{Kind: KindInvalidState, Message: "invalid state"}
	ErrNoAvailability    = &Error{Kind: KindNoAvailability, Message: "doctor is not available"}
	ErrSlotFull          = &Error{Kind: KindSlotFull, Message: "time slot is fully booked"}
	ErrDuplicateBooking  = &Error{Kind: KindDuplicateBooking, Message: "patient already has a booking with this doctor on this date"}
	ErrValidation        = &Error{Kind: KindValidation, Message: "invalid input"}

	// ErrNotAvailable is returned by slot generation; it is the same kind
	// as ErrNoAvailability.
	ErrNotAvailable = ErrNoAvailability
)

func newError(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Validation builds a validation_error with the given message.
func Validation(format string, args ...interface{}) error {
	return newError(KindValidation, format, args...)
}

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}
