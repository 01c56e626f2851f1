package jobs

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"

	"github.com/hospital/booking/internal/domain/scheduling"
	"github.com/hospital/booking/internal/platform/blobstore"
	"github.com/hospital/booking/internal/platform/db"
	"github.com/hospital/booking/internal/platform/notification"
)

var historyHeader = []string{
	"appointment_date", "doctor", "department", "diagnosis", "prescription",
	"notes", "follow_up_required", "follow_up_date",
}

// Export describes a stored history export.
type Export struct {
	PatientID int64                   `json:"patient_id"`
	Rows      int                     `json:"rows"`
	Blob      *blobstore.BlobMetadata `json:"blob"`
}

// ExportPatientHistory writes the patient's completed, treated appointments
// as CSV to the export store and emits a csv_ready event pointing at it.
func (r *Runner) ExportPatientHistory(ctx context.Context, patientID int64) (*Export, error) {
	return r.exportHistory(ctx, patientID, "")
}

// exportHistory stores the export under blobID, or a fresh id when empty.
func (r *Runner) exportHistory(ctx context.Context, patientID int64, blobID string) (*Export, error) {
	if patientID <= 0 {
		return nil, scheduling.Validation("patient id is required")
	}

	rows, err := db.Conn(ctx, r.pool).Query(ctx, `
		SELECT to_char(a.appointment_date, 'YYYY-MM-DD'), doc.name, dep.name,
		       t.diagnosis, t.prescription, t.notes, t.follow_up_required,
		       COALESCE(to_char(t.follow_up_date, 'YYYY-MM-DD'), '')
		FROM appointment a
		JOIN treatment t ON t.appointment_id = a.id
		JOIN doctor doc ON doc.id = a.doctor_id
		JOIN department dep ON dep.id = doc.department_id
		WHERE a.patient_id = $1 AND a.status = $2
		ORDER BY a.appointment_date, a.appointment_time`, patientID, string(scheduling.StatusCompleted))
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(historyHeader); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	n := 0
	for rows.Next() {
		var date, doctor, department, diagnosis, prescription, notes, followUpDate string
		var followUp bool
		if err := rows.Scan(&date, &doctor, &department, &diagnosis, &prescription, &notes, &followUp, &followUpDate); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		record := []string{date, doctor, department, diagnosis, prescription, notes, strconv.FormatBool(followUp), followUpDate}
		if err := w.Write(record); err != nil {
			return nil, fmt.Errorf("write row: %w", err)
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}

	meta, err := r.exports.Upload(ctx, blobstore.BlobMetadata{
		ID:          blobID,
		FileName:    fmt.Sprintf("patient_%d_history.csv", patientID),
		ContentType: "text/csv",
		PatientID:   patientID,
		Category:    blobstore.CategoryHistoryExport,
	}, &buf)
	if err != nil {
		return nil, fmt.Errorf("store export: %w", err)
	}

	subject, body := r.render("history-export", map[string]string{"rows": strconv.Itoa(n)})
	r.events.Emit(notification.Event{
		Type:      notification.TypeCSVReady,
		PatientID: patientID,
		Subject:   subject,
		Message:   body,
		Location:  meta.ID,
	})
	r.logger.Info().Int64("patient_id", patientID).Int("rows", n).Str("blob_id", meta.ID).Msg("history exported")
	return &Export{PatientID: patientID, Rows: n, Blob: meta}, nil
}
