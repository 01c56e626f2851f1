package jobs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/hospital/booking/internal/domain/scheduling"
	"github.com/hospital/booking/internal/platform/db"
	"github.com/hospital/booking/internal/platform/notification"
)

const monthLayout = "2006-01"

// ReportLine is one treated appointment in a monthly report.
type ReportLine struct {
	Date         scheduling.Date `json:"date"`
	PatientName  string          `json:"patient_name"`
	Diagnosis    string          `json:"diagnosis"`
	Prescription string          `json:"prescription"`
}

// MonthlyReport summarizes a doctor's appointments in one calendar month.
type MonthlyReport struct {
	DoctorID   int64                     `json:"doctor_id"`
	DoctorName string                    `json:"doctor_name"`
	Month      string                    `json:"month"`
	Counts     map[scheduling.Status]int `json:"counts"`
	Total      int                       `json:"total"`
	Revenue    decimal.Decimal           `json:"revenue"`
	Treatments []ReportLine              `json:"treatments"`
}

// monthRange returns the first day of month and of the month after.
func monthRange(month string) (string, string, error) {
	start, err := time.Parse(monthLayout, month)
	if err != nil {
		return "", "", scheduling.Validation("month must be in YYYY-MM format")
	}
	return scheduling.DateOf(start).String(), scheduling.DateOf(start.AddDate(0, 1, 0)).String(), nil
}

// DoctorReport builds the monthly report for doctorID from one consistent
// snapshot and emits it as a monthly_report event.
func (r *Runner) DoctorReport(ctx context.Context, doctorID int64, month string) (*MonthlyReport, error) {
	from, to, err := monthRange(month)
	if err != nil {
		return nil, err
	}

	rep := &MonthlyReport{
		DoctorID:   doctorID,
		Month:      month,
		Counts:     map[scheduling.Status]int{scheduling.StatusBooked: 0, scheduling.StatusCompleted: 0, scheduling.StatusCancelled: 0},
		Treatments: []ReportLine{},
	}
	err = r.tx.ReadOnly(ctx, func(ctx context.Context) error {
		q := db.Conn(ctx, r.pool)

		err := q.QueryRow(ctx, `SELECT name FROM doctor WHERE id = $1`, doctorID).Scan(&rep.DoctorName)
		if errors.Is(err, pgx.ErrNoRows) {
			return &scheduling.Error{Kind: scheduling.KindNotFound, Message: fmt.Sprintf("doctor %d not found", doctorID)}
		}
		if err != nil {
			return fmt.Errorf("get doctor: %w", err)
		}

		rows, err := q.Query(ctx, `
			SELECT status, COUNT(*) FROM appointment
			WHERE doctor_id = $1 AND appointment_date >= $2::date AND appointment_date < $3::date
			GROUP BY status`, doctorID, from, to)
		if err != nil {
			return fmt.Errorf("count appointments: %w", err)
		}
		for rows.Next() {
			var status string
			var n int
			if err := rows.Scan(&status, &n); err != nil {
				rows.Close()
				return fmt.Errorf("scan count: %w", err)
			}
			rep.Counts[scheduling.Status(status)] = n
			rep.Total += n
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate counts: %w", err)
		}

		var revenue string
		if err := q.QueryRow(ctx, `
			SELECT COALESCE(SUM(p.amount), 0)::text
			FROM payment p JOIN appointment a ON a.id = p.appointment_id
			WHERE a.doctor_id = $1 AND a.appointment_date >= $2::date AND a.appointment_date < $3::date
			  AND p.status = $4`, doctorID, from, to, string(scheduling.PaymentSuccess)).Scan(&revenue); err != nil {
			return fmt.Errorf("sum revenue: %w", err)
		}
		if rep.Revenue, err = decimal.NewFromString(revenue); err != nil {
			return fmt.Errorf("parse revenue %q: %w", revenue, err)
		}

		rows, err = q.Query(ctx, `
			SELECT to_char(a.appointment_date, 'YYYY-MM-DD'), p.name, t.diagnosis, t.prescription
			FROM appointment a
			JOIN treatment t ON t.appointment_id = a.id
			JOIN patient p ON p.id = a.patient_id
			WHERE a.doctor_id = $1 AND a.appointment_date >= $2::date AND a.appointment_date < $3::date
			ORDER BY a.appointment_date, a.appointment_time`, doctorID, from, to)
		if err != nil {
			return fmt.Errorf("list treatments: %w", err)
		}
		defer rows.Close()
		for rows.Next() {
			var line ReportLine
			var date string
			if err := rows.Scan(&date, &line.PatientName, &line.Diagnosis, &line.Prescription); err != nil {
				return fmt.Errorf("scan treatment: %w", err)
			}
			line.Date = scheduling.Date(date)
			rep.Treatments = append(rep.Treatments, line)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	subject, body := r.render("monthly-report", map[string]string{
		"doctor":    rep.DoctorName,
		"month":     month,
		"total":     strconv.Itoa(rep.Total),
		"booked":    strconv.Itoa(rep.Counts[scheduling.StatusBooked]),
		"completed": strconv.Itoa(rep.Counts[scheduling.StatusCompleted]),
		"cancelled": strconv.Itoa(rep.Counts[scheduling.StatusCancelled]),
		"revenue":   rep.Revenue.StringFixed(2),
	})
	r.events.Emit(notification.Event{
		Type:     notification.TypeMonthlyReport,
		DoctorID: doctorID,
		Subject:  subject,
		Message:  body,
	})
	return rep, nil
}
