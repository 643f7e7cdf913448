package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/CareLoop/internal/models"
	"github.com/BTreeMap/CareLoop/internal/session"
)

// stubLookups is a canned-answer Lookups implementation for detector tests.
type stubLookups struct {
	reminder    *models.Reminder
	assessments []models.SymptomAssessment
	checkIn     *models.CheckIn
	err         error
}

func (s *stubLookups) LatestUnrespondedReminder(string) (*models.Reminder, error) {
	return s.reminder, s.err
}

func (s *stubLookups) ActiveSymptomAssessments(string) ([]models.SymptomAssessment, error) {
	return s.assessments, s.err
}

func (s *stubLookups) ActiveCheckIn(string) (*models.CheckIn, error) {
	return s.checkIn, s.err
}

func TestDetectNoActiveConversations(t *testing.T) {
	d := NewDetector(session.NewMemoryStore(), &stubLookups{})
	res, err := d.Detect(context.Background(), "+15551234567")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Active) != 0 || res.HasConflict {
		t.Errorf("expected empty result, got %+v", res)
	}
}

func TestDetectPriorityOrdering(t *testing.T) {
	// Insert in deliberately scrambled order: wizard, menu dialog, check-in,
	// reminder. The reminder must always rank first and the menu last.
	sessions := session.NewMemoryStore()
	id := "+15551234567"
	sessions.SetMedicationWizard(id, models.MedicationWizardSession{Op: models.WizardOpAdd, Step: "name"})
	sessions.SetDialog(id, models.DialogSession{Stage: models.StageMainMenu})

	lookups := &stubLookups{
		reminder: &models.Reminder{ID: "r1", To: id, Medicine: "Aspirin", CreatedAt: time.Now()},
		checkIn:  &models.CheckIn{ID: "c1", Identity: id, ConversationState: "initial", Active: true},
	}

	d := NewDetector(sessions, lookups)
	res, err := d.Detect(context.Background(), id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.HasConflict {
		t.Fatal("expected conflict with four active conversations")
	}
	if len(res.Active) != 4 {
		t.Fatalf("expected 4 active conversations, got %d", len(res.Active))
	}
	if res.Active[0].Kind != models.KindMedicationReminder {
		t.Errorf("medication_reminder must rank first, got %s", res.Active[0].Kind)
	}
	if res.Active[len(res.Active)-1].Kind != models.KindMenuNavigation {
		t.Errorf("menu_navigation must rank last here, got %s", res.Active[len(res.Active)-1].Kind)
	}
	for i := 1; i < len(res.Active); i++ {
		if res.Active[i-1].Priority < res.Active[i].Priority {
			t.Errorf("priorities not descending at %d: %+v", i, res.Active)
		}
	}
}

func TestDetectDialogKindResolution(t *testing.T) {
	cases := []struct {
		name   string
		dialog models.DialogSession
		want   models.ConversationKind
	}{
		{"symptom", models.DialogSession{Type: models.DialogTypeSymptom, Stage: "severity"}, models.KindSymptomAssessment},
		{"follow_up", models.DialogSession{Type: models.DialogTypeFollowUp}, models.KindSymptomAssessment},
		{"symptom emergency", models.DialogSession{Type: models.DialogTypeSymptom, Emergency: true}, models.KindSymptomEmergency},
		{"main menu", models.DialogSession{Stage: models.StageMainMenu}, models.KindMenuNavigation},
		{"medication menu", models.DialogSession{Stage: models.StageMedicationMenu}, models.KindMenuNavigation},
		{"info selection", models.DialogSession{Stage: models.StageMedicationInfoSelection}, models.KindMenuNavigation},
		{"untyped", models.DialogSession{Stage: "anything_else"}, models.KindGeneralQuery},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			sessions := session.NewMemoryStore()
			id := "+15551234567"
			sessions.SetDialog(id, c.dialog)

			d := NewDetector(sessions, &stubLookups{})
			res, err := d.Detect(context.Background(), id)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(res.Active) != 1 {
				t.Fatalf("expected exactly one active conversation, got %d", len(res.Active))
			}
			if res.Active[0].Kind != c.want {
				t.Errorf("expected kind %s, got %s", c.want, res.Active[0].Kind)
			}
		})
	}
}

func TestDetectStoredAssessmentConflictsWithMenu(t *testing.T) {
	// An assessment persisted earlier stays a live conversation even after
	// the user opened a menu, so both must surface as a conflict.
	sessions := session.NewMemoryStore()
	id := "+15551234567"
	sessions.SetDialog(id, models.DialogSession{Stage: models.StageMainMenu})

	lookups := &stubLookups{assessments: []models.SymptomAssessment{
		{ID: "a1", Identity: id, Symptom: "headache", Severity: 3, Active: true, CreatedAt: time.Now()},
	}}
	d := NewDetector(sessions, lookups)
	res, err := d.Detect(context.Background(), id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Active) != 2 || !res.HasConflict {
		t.Fatalf("expected menu/assessment conflict, got %+v", res)
	}
	if res.Active[0].Kind != models.KindSymptomAssessment {
		t.Errorf("assessment must outrank the menu, got %s", res.Active[0].Kind)
	}
	if res.Active[0].AssessmentID != "a1" {
		t.Errorf("assessment record must carry its ID, got %q", res.Active[0].AssessmentID)
	}
}

func TestDetectDialogSessionSupersedesStoredAssessment(t *testing.T) {
	// A symptom dialog session and its stored assessment are one
	// conversation, not two.
	sessions := session.NewMemoryStore()
	id := "+15551234567"
	sessions.SetDialog(id, models.DialogSession{Type: models.DialogTypeSymptom, Stage: "severity", AssessmentID: "a1"})

	lookups := &stubLookups{assessments: []models.SymptomAssessment{
		{ID: "a1", Identity: id, Symptom: "headache", Active: true, CreatedAt: time.Now()},
	}}
	d := NewDetector(sessions, lookups)
	res, err := d.Detect(context.Background(), id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Active) != 1 || res.HasConflict {
		t.Errorf("expected a single symptom conversation, got %+v", res.Active)
	}
}

func TestDetectEmergencyAssessmentKind(t *testing.T) {
	lookups := &stubLookups{assessments: []models.SymptomAssessment{
		{ID: "a1", Symptom: "chest pain", Emergency: true, Active: true, CreatedAt: time.Now()},
	}}
	d := NewDetector(session.NewMemoryStore(), lookups)
	res, err := d.Detect(context.Background(), "+15551234567")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Active) != 1 || res.Active[0].Kind != models.KindSymptomEmergency {
		t.Errorf("emergency assessment must report symptom_emergency, got %+v", res.Active)
	}
}

func TestDetectToleratesRawIdentityWrites(t *testing.T) {
	// Sessions historically written under the transport-prefixed form must
	// still be visible when the webhook hands over the raw identifier.
	sessions := session.NewMemoryStore()
	sessions.SetDialog("whatsapp:+15551234567", models.DialogSession{Stage: models.StageMainMenu})

	d := NewDetector(sessions, &stubLookups{})
	res, err := d.Detect(context.Background(), "whatsapp:+15551234567")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Active) != 1 || res.Active[0].Kind != models.KindMenuNavigation {
		t.Errorf("expected menu session found via raw key, got %+v", res.Active)
	}
}

func TestDetectSkipsFailingLookups(t *testing.T) {
	sessions := session.NewMemoryStore()
	id := "+15551234567"
	sessions.SetDialog(id, models.DialogSession{Type: models.DialogTypeSymptom})

	d := NewDetector(sessions, &stubLookups{err: errors.New("store down")})
	res, err := d.Detect(context.Background(), id)
	if err != nil {
		t.Fatalf("lookup failure must degrade, not abort: %v", err)
	}
	if len(res.Active) != 1 {
		t.Errorf("expected session-derived conversation to survive, got %+v", res.Active)
	}
}
