package jobs

import (
	"context"
	"fmt"

	"github.com/hospital/booking/internal/domain/scheduling"
	"github.com/hospital/booking/internal/platform/db"
	"github.com/hospital/booking/internal/platform/notification"
)

type reminder struct {
	appointmentID int64
	patientID     int64
	doctorID      int64
	patientName   string
	doctorName    string
	time          string
}

// Reminders emits one reminder event per Booked appointment on date and
// returns how many were sent.
func (r *Runner) Reminders(ctx context.Context, date scheduling.Date) (int, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT a.id, a.patient_id, a.doctor_id, p.name, doc.name, to_char(a.appointment_time, 'HH24:MI')
		FROM appointment a
		JOIN patient p ON p.id = a.patient_id
		JOIN doctor doc ON doc.id = a.doctor_id
		WHERE a.appointment_date = $1::date AND a.status = $2
		ORDER BY a.appointment_time, a.id`, date.String(), string(scheduling.StatusBooked))
	if err != nil {
		return 0, fmt.Errorf("query reminders: %w", err)
	}
	defer rows.Close()

	var due []reminder
	for rows.Next() {
		var rm reminder
		if err := rows.Scan(&rm.appointmentID, &rm.patientID, &rm.doctorID, &rm.patientName, &rm.doctorName, &rm.time); err != nil {
			return 0, fmt.Errorf("scan reminder: %w", err)
		}
		due = append(due, rm)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate reminders: %w", err)
	}

	for _, rm := range due {
		subject, body := r.render("appointment-reminder", map[string]string{
			"patient": rm.patientName,
			"doctor":  rm.doctorName,
			"date":    date.String(),
			"time":    rm.time,
		})
		r.events.Emit(notification.Event{
			Type:          notification.TypeReminder,
			AppointmentID: rm.appointmentID,
			PatientID:     rm.patientID,
			DoctorID:      rm.doctorID,
			Subject:       subject,
			Message:       body,
		})
	}
	r.logger.Info().Str("date", date.String()).Int("sent", len(due)).Msg("reminders emitted")
	return len(due), nil
}
