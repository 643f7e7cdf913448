package scheduler

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/CareLoop/internal/flow"
	"github.com/BTreeMap/CareLoop/internal/messaging"
	"github.com/BTreeMap/CareLoop/internal/models"
	"github.com/BTreeMap/CareLoop/internal/session"
	"github.com/BTreeMap/CareLoop/internal/store"
)

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	if err := s.AddJob("* * * * *", func() {}); err != nil {
		t.Errorf("Expected no error adding job, got %v", err)
	}
	if err := s.AddJob("@every 15m", func() {}); err != nil {
		t.Errorf("Expected descriptor expressions to parse, got %v", err)
	}
	if err := s.AddJob("not a cron", func() {}); err == nil {
		t.Error("Expected error for invalid expression")
	}
}

func newJobsFixture() (*Jobs, *store.InMemoryStore, *session.MemoryStore, *messaging.MockService) {
	st := store.NewInMemoryStore()
	sessions := session.NewMemoryStore()
	msgs := messaging.NewMockService()
	hub := flow.NewHub(sessions, st, msgs, nil)
	return NewJobs(st, sessions, msgs, hub), st, sessions, msgs
}

func TestDispatchDueRemindersMatchesCurrentMinute(t *testing.T) {
	jobs, st, _, msgs := newJobsFixture()
	identity := "+15551234"
	if err := st.SaveUser(models.User{ID: "u1", Identity: identity, Name: "Pat", Role: models.RolePatient}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := st.SaveMedication(models.Medication{
		ID: "m1", Identity: identity, Name: "Aspirin", Dosage: "100mg",
		TimeOfDay: time.Now().Format("15:04"),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := st.SaveMedication(models.Medication{
		ID: "m2", Identity: identity, Name: "Other", TimeOfDay: "03:59",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	jobs.DispatchDueReminders(context.Background())

	reminder, err := st.LatestUnrespondedReminder(identity)
	if err != nil || reminder == nil {
		t.Fatalf("expected a pending reminder, got %+v err=%v", reminder, err)
	}
	if reminder.Medicine != "Aspirin" {
		t.Errorf("wrong medication reminded: %q", reminder.Medicine)
	}
	sent := msgs.Sent()
	if len(sent) != 1 || !strings.Contains(sent[0].Body, "Aspirin") {
		t.Errorf("expected one reminder message naming Aspirin, got %v", sent)
	}
}

func TestStartDailyCheckInsSkipsCaregivers(t *testing.T) {
	jobs, st, _, msgs := newJobsFixture()
	_ = st.SaveUser(models.User{ID: "u1", Identity: "+1111", Name: "Pat", Role: models.RolePatient})
	_ = st.SaveUser(models.User{ID: "u2", Identity: "+2222", Name: "Sam", Role: models.RoleCaregiver})

	jobs.StartDailyCheckIns(context.Background())

	if checkIn, _ := st.ActiveCheckIn("+1111"); checkIn == nil {
		t.Error("patient must get a check-in")
	}
	if checkIn, _ := st.ActiveCheckIn("+2222"); checkIn != nil {
		t.Error("caregiver must not get a check-in")
	}
	if len(msgs.Sent()) != 1 {
		t.Errorf("expected one check-in message, got %d", len(msgs.Sent()))
	}
}

func TestDispatchDueFollowUpsOpensDialog(t *testing.T) {
	jobs, st, sessions, _ := newJobsFixture()
	identity := "+15551234"
	if err := st.SaveAssessment(models.SymptomAssessment{
		ID: "a1", Identity: identity, Symptom: "cough", Severity: 3,
		Active: true, FollowUpAt: time.Now().Add(-time.Minute), CreatedAt: time.Now().Add(-time.Hour),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	jobs.DispatchDueFollowUps(context.Background())

	dialog := sessions.GetDialog(identity)
	if dialog == nil || dialog.Type != models.DialogTypeFollowUp || dialog.AssessmentID != "a1" {
		t.Fatalf("expected follow-up dialog, got %+v", dialog)
	}

	// Re-running immediately must not open a second round.
	jobs.DispatchDueFollowUps(context.Background())
	due, _ := st.DueFollowUps(time.Now())
	if len(due) != 0 {
		t.Errorf("follow-up must be rescheduled after dispatch, %d still due", len(due))
	}
}

func TestSweepSessionsRemovesStale(t *testing.T) {
	jobs, _, sessions, _ := newJobsFixture()
	sessions.SetDialog("+1111", models.DialogSession{Stage: models.StageMainMenu})

	jobs.SweepSessions()
	if sessions.GetDialog("+1111") == nil {
		t.Error("fresh session must survive the sweep")
	}
}
