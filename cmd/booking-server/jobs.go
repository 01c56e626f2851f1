package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hospital/booking/internal/domain/scheduling"
	"github.com/hospital/booking/internal/jobs"
)

// withRunner opens the shared clients, runs fn and flushes notifications.
func withRunner(fn func(ctx context.Context, r *jobs.Runner) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx := context.Background()
	deps, err := openDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	return fn(ctx, jobs.NewRunner(deps.pool, deps.dispatcher, deps.exports, logger))
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func jobsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Run batch jobs (meant to be triggered by cron or a similar scheduler)",
	}

	remindersCmd := &cobra.Command{
		Use:   "reminders",
		Short: "Send reminders for every booked appointment on a date",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, _ := cmd.Flags().GetString("date")
			date := scheduling.DateOf(time.Now())
			if raw != "" {
				d, err := scheduling.ParseDate(raw)
				if err != nil {
					return fmt.Errorf("--date: %w", err)
				}
				date = d
			}
			return withRunner(func(ctx context.Context, r *jobs.Runner) error {
				n, err := r.Reminders(ctx, date)
				if err != nil {
					return err
				}
				fmt.Printf("Sent %d reminder(s) for %s.\n", n, date)
				return nil
			})
		},
	}
	remindersCmd.Flags().String("date", "", "Appointment date, YYYY-MM-DD (defaults to today)")
	cmd.AddCommand(remindersCmd)

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Build a doctor's monthly report",
		RunE: func(cmd *cobra.Command, args []string) error {
			doctorID, _ := cmd.Flags().GetInt64("doctor")
			month, _ := cmd.Flags().GetString("month")
			if doctorID <= 0 {
				return fmt.Errorf("--doctor is required")
			}
			if month == "" {
				month = time.Now().Format("2006-01")
			}
			return withRunner(func(ctx context.Context, r *jobs.Runner) error {
				rep, err := r.DoctorReport(ctx, doctorID, month)
				if err != nil {
					return err
				}
				return printJSON(rep)
			})
		},
	}
	reportCmd.Flags().Int64("doctor", 0, "Doctor id")
	reportCmd.Flags().String("month", "", "Month, YYYY-MM (defaults to the current month)")
	cmd.AddCommand(reportCmd)

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export a patient's treatment history as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			patientID, _ := cmd.Flags().GetInt64("patient")
			if patientID <= 0 {
				return fmt.Errorf("--patient is required")
			}
			return withRunner(func(ctx context.Context, r *jobs.Runner) error {
				exp, err := r.ExportPatientHistory(ctx, patientID)
				if err != nil {
					return err
				}
				return printJSON(exp)
			})
		},
	}
	exportCmd.Flags().Int64("patient", 0, "Patient id")
	cmd.AddCommand(exportCmd)

	return cmd
}
