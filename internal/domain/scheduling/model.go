package scheduling

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusBooked    Status = "Booked"
	StatusCompleted Status = "Completed"
	StatusCancelled Status = "Cancelled"
)

func (s Status) Valid() bool {
	return s == StatusBooked || s == StatusCompleted || s == StatusCancelled
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "Pending"
	PaymentSuccess PaymentStatus = "Success"
	PaymentFailed  PaymentStatus = "Failed"
)

// Date is a calendar day in YYYY-MM-DD form. Dates compare correctly as
// strings.
type Date string

const dateLayout = "2006-01-02"

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return "", fmt.Errorf("invalid date %q: want YYYY-MM-DD", s)
	}
	return Date(t.Format(dateLayout)), nil
}

func DateOf(t time.Time) Date { return Date(t.Format(dateLayout)) }

func (d Date) String() string { return string(d) }

func (d Date) Time() time.Time {
	t, _ := time.Parse(dateLayout, string(d))
	return t
}

// TimeOfDay is a wall-clock time as minutes after midnight. It marshals to
// and from "HH:MM".
type TimeOfDay int

// ParseTimeOfDay accepts "HH:MM" only. "24:00" is allowed so a window can
// end at midnight.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	if s == "24:00" {
		return Clock(24, 0), nil
	}
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: want HH:MM", s)
	}
	return TimeOfDay(t.Hour()*60 + t.Minute()), nil
}

func Clock(hour, minute int) TimeOfDay { return TimeOfDay(hour*60 + minute) }

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

func (t TimeOfDay) Add(minutes int) TimeOfDay { return t + TimeOfDay(minutes) }

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Availability is a doctor's bookable window on one date. At most one row
// exists per (doctor, date).
type Availability struct {
	ID         int64     `json:"id"`
	DoctorID   int64     `json:"doctor_id"`
	Date       Date      `json:"date"`
	StartTime  TimeOfDay `json:"start_time"`
	EndTime    TimeOfDay `json:"end_time"`
	SeatsTotal int       `json:"seats_total"`
	IsOpen     bool      `json:"is_open"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SlotTimes returns every slot start in the window, step minutes apart,
// while the start is before EndTime.
func (a *Availability) SlotTimes(step int) []TimeOfDay {
	var out []TimeOfDay
	for t := a.StartTime; t < a.EndTime; t = t.Add(step) {
		out = append(out, t)
	}
	return out
}

// OnGrid reports whether t is one of SlotTimes(step).
func (a *Availability) OnGrid(t TimeOfDay, step int) bool {
	if t < a.StartTime || t >= a.EndTime {
		return false
	}
	return int(t-a.StartTime)%step == 0
}

// Slot is derived, never stored.
type Slot struct {
	DoctorID      int64     `json:"doctor_id"`
	Date          Date      `json:"date"`
	Time          TimeOfDay `json:"time"`
	CapacityTotal int       `json:"capacity_total"`
	CapacityUsed  int       `json:"capacity_used"`
}

func (s Slot) Remaining() int { return s.CapacityTotal - s.CapacityUsed }

type Appointment struct {
	ID        int64     `json:"id"`
	PatientID int64     `json:"patient_id"`
	DoctorID  int64     `json:"doctor_id"`
	Date      Date      `json:"date"`
	Time      TimeOfDay `json:"time"`
	Status    Status    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Treatment struct {
	ID               int64     `json:"id"`
	AppointmentID    int64     `json:"appointment_id"`
	Diagnosis        string    `json:"diagnosis"`
	Prescription     string    `json:"prescription,omitempty"`
	Notes            string    `json:"notes,omitempty"`
	FollowUpRequired bool      `json:"follow_up_required"`
	FollowUpDate     *Date     `json:"follow_up_date,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type Payment struct {
	ID            int64           `json:"id"`
	AppointmentID int64           `json:"appointment_id"`
	Amount        decimal.Decimal `json:"amount"`
	Status        PaymentStatus   `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type BookingRequest struct {
	PatientID int64
	DoctorID  int64
	Date      Date
	Time      TimeOfDay
	Reason    string
}

type BookingConfirmation struct {
	AppointmentID int64           `json:"appointment_id"`
	PaymentID     int64           `json:"payment_id"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentURL    string          `json:"payment_url"`
}

type TreatmentInput struct {
	Diagnosis        string
	Prescription     string
	Notes            string
	FollowUpRequired bool
	FollowUpDate     *Date
}

type AvailabilityInput struct {
	DoctorID   int64
	Date       Date
	StartTime  TimeOfDay
	EndTime    TimeOfDay
	SeatsTotal int
}

// AppointmentFilter narrows List queries. Zero fields are ignored.
// HistoryEntry is one completed visit in a patient's medical history.
// Treatment is nil when the visit was completed without one being filed.
type HistoryEntry struct {
	AppointmentID int64      `json:"appointment_id"`
	Date          Date       `json:"date"`
	Time          TimeOfDay  `json:"time"`
	DoctorID      int64      `json:"doctor_id"`
	DoctorName    string     `json:"doctor_name,omitempty"`
	Department    string     `json:"department,omitempty"`
	Treatment     *Treatment `json:"treatment"`
}

type AppointmentFilter struct {
	PatientID int64
	DoctorID  int64
	Status    Status
	Date      Date
}
