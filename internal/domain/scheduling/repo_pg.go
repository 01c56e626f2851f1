package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/hospital/booking/internal/platform/db"
)

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return newError(KindNotFound, "%s not found", what)
	}
	return err
}

// =========== Availability Repository ===========

type availabilityRepoPG struct{ pool db.Querier }

func NewAvailabilityRepoPG(pool db.Querier) AvailabilityRepository {
	return &availabilityRepoPG{pool: pool}
}

const availCols = `id, doctor_id, to_char(date, 'YYYY-MM-DD'), to_char(start_time, 'HH24:MI'),
	to_char(end_time, 'HH24:MI'), seats_total, is_open, created_at, updated_at`

func scanAvailability(row pgx.Row) (*Availability, error) {
	var a Availability
	var date, start, end string
	if err := row.Scan(&a.ID, &a.DoctorID, &date, &start, &end, &a.SeatsTotal, &a.IsOpen, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, notFound(err, "availability")
	}
	var err error
	a.Date = Date(date)
	if a.StartTime, err = ParseTimeOfDay(start); err != nil {
		return nil, err
	}
	if a.EndTime, err = ParseTimeOfDay(end); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *availabilityRepoPG) Create(ctx context.Context, a *Availability) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO availability (doctor_id, date, start_time, end_time, seats_total, is_open)
		VALUES ($1, $2::date, $3::time, $4::time, $5, $6)
		RETURNING id, created_at, updated_at`,
		a.DoctorID, string(a.Date), a.StartTime.String(), a.EndTime.String(), a.SeatsTotal, a.IsOpen,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return newError(KindInvalidState, "availability for doctor %d on %s already exists", a.DoctorID, a.Date)
	}
	if err != nil {
		return fmt.Errorf("insert availability: %w", err)
	}
	return nil
}

func (r *availabilityRepoPG) Update(ctx context.Context, a *Availability) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE availability SET start_time = $2::time, end_time = $3::time, seats_total = $4,
			is_open = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		a.ID, a.StartTime.String(), a.EndTime.String(), a.SeatsTotal, a.IsOpen,
	).Scan(&a.UpdatedAt)
	if err != nil {
		return notFound(err, "availability")
	}
	return nil
}

func (r *availabilityRepoPG) Delete(ctx context.Context, id int64) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx, `DELETE FROM availability WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete availability: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return newError(KindNotFound, "availability not found")
	}
	return nil
}

func (r *availabilityRepoPG) GetByID(ctx context.Context, id int64) (*Availability, error) {
	return scanAvailability(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+availCols+` FROM availability WHERE id = $1`, id))
}

func (r *availabilityRepoPG) GetForDate(ctx context.Context, doctorID int64, date Date) (*Availability, error) {
	return scanAvailability(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+availCols+` FROM availability WHERE doctor_id = $1 AND date = $2::date`, doctorID, string(date)))
}

func (r *availabilityRepoPG) LockForDate(ctx context.Context, doctorID int64, date Date) (*Availability, error) {
	return scanAvailability(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+availCols+` FROM availability WHERE doctor_id = $1 AND date = $2::date FOR UPDATE`, doctorID, string(date)))
}

func (r *availabilityRepoPG) ListByDoctor(ctx context.Context, doctorID int64, limit, offset int) ([]*Availability, int, error) {
	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM availability WHERE doctor_id = $1`, doctorID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count availability: %w", err)
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx,
		`SELECT `+availCols+` FROM availability WHERE doctor_id = $1 ORDER BY date DESC LIMIT $2 OFFSET $3`,
		doctorID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list availability: %w", err)
	}
	defer rows.Close()
	var items []*Availability
	for rows.Next() {
		a, err := scanAvailability(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

// =========== Appointment Repository ===========

type appointmentRepoPG struct{ pool db.Querier }

func NewAppointmentRepoPG(pool db.Querier) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

const apptCols = `id, patient_id, doctor_id, to_char(appointment_date, 'YYYY-MM-DD'),
	to_char(appointment_time, 'HH24:MI'), status, reason, created_at, updated_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var date, clock, status string
	if err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &date, &clock, &status, &a.Reason, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, notFound(err, "appointment")
	}
	t, err := ParseTimeOfDay(clock)
	if err != nil {
		return nil, err
	}
	a.Date, a.Time, a.Status = Date(date), t, Status(status)
	return &a, nil
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO appointment (patient_id, doctor_id, appointment_date, appointment_time, status, reason)
		VALUES ($1, $2, $3::date, $4::time, $5, $6)
		RETURNING id, created_at, updated_at`,
		a.PatientID, a.DoctorID, string(a.Date), a.Time.String(), string(a.Status), a.Reason,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return ErrDuplicateBooking
	}
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id int64) (*Appointment, error) {
	return scanAppointment(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
}

func (r *appointmentRepoPG) GetByIDForUpdate(ctx context.Context, id int64) (*Appointment, error) {
	return scanAppointment(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1 FOR UPDATE`, id))
}

func (r *appointmentRepoPG) UpdateStatus(ctx context.Context, id int64, status Status) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE appointment SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("update appointment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return newError(KindNotFound, "appointment not found")
	}
	return nil
}

func (r *appointmentRepoPG) CountBookedAt(ctx context.Context, doctorID int64, date Date, t TimeOfDay) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT COUNT(*) FROM appointment
		WHERE doctor_id = $1 AND appointment_date = $2::date AND appointment_time = $3::time AND status = 'Booked'`,
		doctorID, string(date), t.String()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count booked appointments: %w", err)
	}
	return n, nil
}

func (r *appointmentRepoPG) CountBookedByTime(ctx context.Context, doctorID int64, date Date) (map[TimeOfDay]int, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT to_char(appointment_time, 'HH24:MI'), COUNT(*) FROM appointment
		WHERE doctor_id = $1 AND appointment_date = $2::date AND status = 'Booked'
		GROUP BY appointment_time`,
		doctorID, string(date))
	if err != nil {
		return nil, fmt.Errorf("count booked appointments: %w", err)
	}
	defer rows.Close()
	counts := make(map[TimeOfDay]int)
	for rows.Next() {
		var clock string
		var n int
		if err := rows.Scan(&clock, &n); err != nil {
			return nil, err
		}
		t, err := ParseTimeOfDay(clock)
		if err != nil {
			return nil, err
		}
		counts[t] = n
	}
	return counts, rows.Err()
}

func (r *appointmentRepoPG) CountActiveOnDate(ctx context.Context, doctorID int64, date Date) (int, error) {
	var n int
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT COUNT(*) FROM appointment
		WHERE doctor_id = $1 AND appointment_date = $2::date AND status IN ('Booked', 'Completed')`,
		doctorID, string(date)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count active appointments: %w", err)
	}
	return n, nil
}

func (r *appointmentRepoPG) HasBookedOnDate(ctx context.Context, patientID, doctorID int64, date Date) (bool, error) {
	var exists bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM appointment
			WHERE patient_id = $1 AND doctor_id = $2 AND appointment_date = $3::date AND status = 'Booked')`,
		patientID, doctorID, string(date)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check duplicate booking: %w", err)
	}
	return exists, nil
}

func (r *appointmentRepoPG) List(ctx context.Context, f AppointmentFilter, limit, offset int) ([]*Appointment, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.PatientID != 0 {
		where += fmt.Sprintf(` AND patient_id = $%d`, idx)
		args = append(args, f.PatientID)
		idx++
	}
	if f.DoctorID != 0 {
		where += fmt.Sprintf(` AND doctor_id = $%d`, idx)
		args = append(args, f.DoctorID)
		idx++
	}
	if f.Status != "" {
		where += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, string(f.Status))
		idx++
	}
	if f.Date != "" {
		where += fmt.Sprintf(` AND appointment_date = $%d::date`, idx)
		args = append(args, string(f.Date))
		idx++
	}

	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM appointment`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count appointments: %w", err)
	}

	query := `SELECT ` + apptCols + ` FROM appointment` + where +
		fmt.Sprintf(` ORDER BY appointment_date DESC, appointment_time DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()
	var items []*Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *appointmentRepoPG) ListHistory(ctx context.Context, patientID, doctorID int64, limit, offset int) ([]*HistoryEntry, int, error) {
	where := ` WHERE a.patient_id = $1 AND a.status = $2`
	args := []interface{}{patientID, string(StatusCompleted)}
	if doctorID != 0 {
		where += ` AND a.doctor_id = $3`
		args = append(args, doctorID)
	}

	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM appointment a`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count history: %w", err)
	}

	query := `SELECT a.id, to_char(a.appointment_date, 'YYYY-MM-DD'), to_char(a.appointment_time, 'HH24:MI'),
			a.doctor_id, doc.name, dep.name,
			t.id, t.diagnosis, t.prescription, t.notes, t.follow_up_required,
			to_char(t.follow_up_date, 'YYYY-MM-DD'), t.created_at, t.updated_at
		FROM appointment a
		JOIN doctor doc ON doc.id = a.doctor_id
		JOIN department dep ON dep.id = doc.department_id
		LEFT JOIN treatment t ON t.appointment_id = a.id` + where +
		fmt.Sprintf(` ORDER BY a.appointment_date DESC, a.appointment_time DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var items []*HistoryEntry
	for rows.Next() {
		var (
			e                              HistoryEntry
			date, clock                    string
			tID                            *int64
			diagnosis, prescription, notes *string
			followUp                       *bool
			followUpDate                   *string
			created, updated               *time.Time
		)
		if err := rows.Scan(&e.AppointmentID, &date, &clock, &e.DoctorID, &e.DoctorName, &e.Department,
			&tID, &diagnosis, &prescription, &notes, &followUp, &followUpDate, &created, &updated); err != nil {
			return nil, 0, fmt.Errorf("scan history: %w", err)
		}
		e.Date = Date(date)
		if e.Time, err = ParseTimeOfDay(clock); err != nil {
			return nil, 0, err
		}
		if tID != nil {
			t := &Treatment{ID: *tID, AppointmentID: e.AppointmentID}
			t.Diagnosis, t.Prescription, t.Notes = deref(diagnosis), deref(prescription), deref(notes)
			t.FollowUpRequired = followUp != nil && *followUp
			if followUpDate != nil {
				d := Date(*followUpDate)
				t.FollowUpDate = &d
			}
			if created != nil {
				t.CreatedAt = *created
			}
			if updated != nil {
				t.UpdatedAt = *updated
			}
			e.Treatment = t
		}
		items = append(items, &e)
	}
	return items, total, rows.Err()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// =========== Treatment Repository ===========

type treatmentRepoPG struct{ pool db.Querier }

func NewTreatmentRepoPG(pool db.Querier) TreatmentRepository {
	return &treatmentRepoPG{pool: pool}
}

const treatmentCols = `id, appointment_id, diagnosis, prescription, notes, follow_up_required,
	to_char(follow_up_date, 'YYYY-MM-DD'), created_at, updated_at`

func scanTreatment(row pgx.Row) (*Treatment, error) {
	var t Treatment
	var followUp *string
	if err := row.Scan(&t.ID, &t.AppointmentID, &t.Diagnosis, &t.Prescription, &t.Notes,
		&t.FollowUpRequired, &followUp, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, notFound(err, "treatment")
	}
	if followUp != nil {
		d := Date(*followUp)
		t.FollowUpDate = &d
	}
	return &t, nil
}

func followUpArg(d *Date) interface{} {
	if d == nil {
		return nil
	}
	return string(*d)
}

func (r *treatmentRepoPG) Create(ctx context.Context, t *Treatment) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO treatment (appointment_id, diagnosis, prescription, notes, follow_up_required, follow_up_date)
		VALUES ($1, $2, $3, $4, $5, $6::date)
		RETURNING id, created_at, updated_at`,
		t.AppointmentID, t.Diagnosis, t.Prescription, t.Notes, t.FollowUpRequired, followUpArg(t.FollowUpDate),
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert treatment: %w", err)
	}
	return nil
}

func (r *treatmentRepoPG) Update(ctx context.Context, t *Treatment) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE treatment SET diagnosis = $2, prescription = $3, notes = $4, follow_up_required = $5,
			follow_up_date = $6::date, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		t.ID, t.Diagnosis, t.Prescription, t.Notes, t.FollowUpRequired, followUpArg(t.FollowUpDate),
	).Scan(&t.UpdatedAt)
	if err != nil {
		return notFound(err, "treatment")
	}
	return nil
}

func (r *treatmentRepoPG) GetByAppointment(ctx context.Context, appointmentID int64) (*Treatment, error) {
	return scanTreatment(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+treatmentCols+` FROM treatment WHERE appointment_id = $1`, appointmentID))
}

// =========== Payment Repository ===========

type paymentRepoPG struct{ pool db.Querier }

func NewPaymentRepoPG(pool db.Querier) PaymentRepository {
	return &paymentRepoPG{pool: pool}
}

const paymentCols = `id, appointment_id, amount::text, status, created_at, updated_at`

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	var amount, status string
	if err := row.Scan(&p.ID, &p.AppointmentID, &amount, &status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, notFound(err, "payment")
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse payment amount %q: %w", amount, err)
	}
	p.Amount, p.Status = d, PaymentStatus(status)
	return &p, nil
}

func (r *paymentRepoPG) Create(ctx context.Context, p *Payment) error {
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO payment (appointment_id, amount, status)
		VALUES ($1, $2::numeric, $3)
		RETURNING id, created_at, updated_at`,
		p.AppointmentID, p.Amount.StringFixed(2), string(p.Status),
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *paymentRepoPG) GetByID(ctx context.Context, id int64) (*Payment, error) {
	return scanPayment(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+paymentCols+` FROM payment WHERE id = $1`, id))
}

func (r *paymentRepoPG) GetByIDForUpdate(ctx context.Context, id int64) (*Payment, error) {
	return scanPayment(db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+paymentCols+` FROM payment WHERE id = $1 FOR UPDATE`, id))
}

func (r *paymentRepoPG) GetByAppointment(ctx context.Context, appointmentID int64) (*Payment, error) {
	return scanPayment(db.Conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+paymentCols+` FROM payment WHERE appointment_id = $1 ORDER BY id DESC LIMIT 1`, appointmentID))
}

func (r *paymentRepoPG) UpdateStatus(ctx context.Context, id int64, status PaymentStatus) error {
	tag, err := db.Conn(ctx, r.pool).Exec(ctx,
		`UPDATE payment SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("update payment status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return newError(KindNotFound, "payment not found")
	}
	return nil
}
