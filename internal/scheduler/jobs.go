package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/CareLoop/internal/flow"
	"github.com/BTreeMap/CareLoop/internal/messaging"
	"github.com/BTreeMap/CareLoop/internal/models"
	"github.com/BTreeMap/CareLoop/internal/session"
	"github.com/BTreeMap/CareLoop/internal/store"
)

// Cron expressions for the standing jobs.
const (
	exprReminders = "* * * * *"
	exprFollowUps = "@every 5m"
	exprCheckIns  = "0 9 * * *"
	exprReports   = "0 18 * * *"
	exprSweep     = "@every 15m"
)

// Jobs bundles the background tasks that drive conversations proactively.
// They read and write the same stores as the router; all reads are treated
// as possibly stale and all writes as best-effort.
type Jobs struct {
	store    store.Store
	sessions session.Store
	msgs     messaging.Service
	hub      *flow.Hub
}

// NewJobs wires the background jobs over their collaborators.
func NewJobs(st store.Store, sessions session.Store, msgs messaging.Service, hub *flow.Hub) *Jobs {
	return &Jobs{store: st, sessions: sessions, msgs: msgs, hub: hub}
}

// Register schedules every standing job on the scheduler.
func (j *Jobs) Register(s *Scheduler) error {
	ctx := context.Background()
	jobs := []struct {
		expr string
		name string
		run  func()
	}{
		{exprReminders, "medication reminders", func() { j.DispatchDueReminders(ctx) }},
		{exprFollowUps, "symptom follow-ups", func() { j.DispatchDueFollowUps(ctx) }},
		{exprCheckIns, "daily check-ins", func() { j.StartDailyCheckIns(ctx) }},
		{exprReports, "daily reports", func() { j.SendDailyReports(ctx) }},
		{exprSweep, "session sweep", j.SweepSessions},
	}
	for _, job := range jobs {
		if err := s.AddJob(job.expr, job.run); err != nil {
			return fmt.Errorf("failed to schedule %s: %w", job.name, err)
		}
	}
	slog.Info("Scheduler jobs registered", "count", len(jobs))
	return nil
}

// DispatchDueReminders creates and sends a reminder for every medication
// whose time of day matches the current minute in the user's timezone.
func (j *Jobs) DispatchDueReminders(ctx context.Context) {
	users, err := j.store.ListUsers()
	if err != nil {
		slog.Error("Reminder job failed to list users", "error", err)
		return
	}

	now := time.Now()
	for _, user := range users {
		local := now
		if user.Timezone != "" {
			if loc, err := time.LoadLocation(user.Timezone); err == nil {
				local = now.In(loc)
			}
		}
		current := local.Format("15:04")

		meds, err := j.store.GetMedications(user.Identity)
		if err != nil {
			slog.Warn("Reminder job failed to list medications", "error", err, "identity", user.Identity)
			continue
		}
		for _, med := range meds {
			if med.TimeOfDay != current {
				continue
			}
			reminder := models.Reminder{
				ID:        uuid.NewString(),
				To:        user.Identity,
				Medicine:  med.Name,
				Dosage:    med.Dosage,
				Status:    models.ReminderStatusPending,
				CreatedAt: now,
			}
			if err := j.store.AddReminder(reminder); err != nil {
				slog.Error("Failed to record reminder", "error", err, "identity", user.Identity, "medication", med.Name)
				continue
			}
			body := fmt.Sprintf("💊 Time for your %s", med.Name)
			if med.Dosage != "" {
				body = fmt.Sprintf("💊 Time for your %s (%s)", med.Name, med.Dosage)
			}
			body += ". Reply \"taken\" or \"missed\"."
			if err := j.msgs.SendMessage(ctx, user.Identity, body); err != nil {
				slog.Error("Failed to send reminder", "error", err, "identity", user.Identity)
			}
			slog.Info("Reminder dispatched", "identity", user.Identity, "medication", med.Name, "reminder_id", reminder.ID)
		}
	}
}

// DispatchDueFollowUps opens a follow-up dialog for every assessment whose
// follow-up time has passed.
func (j *Jobs) DispatchDueFollowUps(ctx context.Context) {
	due, err := j.store.DueFollowUps(time.Now())
	if err != nil {
		slog.Error("Follow-up job query failed", "error", err)
		return
	}
	for _, assessment := range due {
		if err := j.hub.StartFollowUp(ctx, assessment); err != nil {
			slog.Error("Failed to start follow-up", "error", err, "assessment_id", assessment.ID)
			continue
		}
		// Push the next due time out so the job doesn't re-fire every run
		// while the user is answering.
		assessment.FollowUpAt = time.Now().Add(time.Hour)
		if err := j.store.SaveAssessment(assessment); err != nil {
			slog.Warn("Failed to reschedule follow-up", "error", err, "assessment_id", assessment.ID)
		}
	}
}

// StartDailyCheckIns opens a wellness check-in for every patient.
func (j *Jobs) StartDailyCheckIns(ctx context.Context) {
	users, err := j.store.ListUsers()
	if err != nil {
		slog.Error("Check-in job failed to list users", "error", err)
		return
	}
	for _, user := range users {
		if user.Role != models.RolePatient {
			continue
		}
		if err := j.hub.StartCheckIn(ctx, user.Identity); err != nil {
			slog.Error("Failed to start check-in", "error", err, "identity", user.Identity)
		}
	}
}

// SendDailyReports sends each caregiver a summary for every dependent with
// an account.
func (j *Jobs) SendDailyReports(ctx context.Context) {
	users, err := j.store.ListUsers()
	if err != nil {
		slog.Error("Report job failed to list users", "error", err)
		return
	}
	for _, user := range users {
		if user.Role != models.RoleCaregiver {
			continue
		}
		for _, name := range user.Dependents {
			dependent, err := j.store.GetUserByName(name)
			if err != nil || dependent == nil {
				continue
			}
			report, err := j.hub.BuildReport(ctx, dependent)
			if err != nil {
				slog.Warn("Failed to build daily report", "error", err, "dependent", name)
				continue
			}
			if err := j.msgs.SendMessage(ctx, user.Identity, report); err != nil {
				slog.Error("Failed to send daily report", "error", err, "identity", user.Identity)
			}
		}
	}
}

// SweepSessions purges sessions idle past the TTL.
func (j *Jobs) SweepSessions() {
	j.sessions.Sweep(time.Now(), session.DefaultTTL)
}
