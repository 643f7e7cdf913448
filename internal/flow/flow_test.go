package flow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/CareLoop/internal/messaging"
	"github.com/BTreeMap/CareLoop/internal/models"
	"github.com/BTreeMap/CareLoop/internal/session"
	"github.com/BTreeMap/CareLoop/internal/store"
)

const testIdentity = "+15551234"

type stubGenerator struct {
	reply string
	err   error
	calls int
}

func (g *stubGenerator) GeneratePrompt(_ context.Context, _, _ string) (string, error) {
	g.calls++
	return g.reply, g.err
}

type harness struct {
	hub      *Hub
	sessions *session.MemoryStore
	store    *store.InMemoryStore
	msgs     *messaging.MockService
	gen      *stubGenerator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	sessions := session.NewMemoryStore()
	st := store.NewInMemoryStore()
	msgs := messaging.NewMockService()
	gen := &stubGenerator{reply: "generated"}
	return &harness{
		hub:      NewHub(sessions, st, msgs, gen),
		sessions: sessions,
		store:    st,
		msgs:     msgs,
		gen:      gen,
	}
}

func TestMedicationResponseTaken(t *testing.T) {
	h := newHarness(t)
	reminder := models.Reminder{
		ID: "r1", To: testIdentity, Medicine: "Aspirin",
		Status: models.ReminderStatusPending, CreatedAt: time.Now(),
	}
	if err := h.store.AddReminder(reminder); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := h.hub.HandleMedicationResponse(context.Background(), testIdentity, true, &reminder); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if left, err := h.store.LatestUnrespondedReminder(testIdentity); err != nil || left != nil {
		t.Errorf("reminder must be marked responded, got %+v err=%v", left, err)
	}
	intakes, err := h.store.GetIntakes(testIdentity)
	if err != nil || len(intakes) != 1 {
		t.Fatalf("expected one intake, got %d err=%v", len(intakes), err)
	}
	if intakes[0].Status != models.ReminderStatusTaken {
		t.Errorf("intake status = %q, want taken", intakes[0].Status)
	}
	if sent := h.msgs.LastSent(); sent == nil || !strings.Contains(sent.Body, "Aspirin") {
		t.Error("confirmation must name the medicine")
	}
}

func TestMedicationResponseWithoutReminderRecovers(t *testing.T) {
	h := newHarness(t)

	if err := h.hub.HandleMedicationResponse(context.Background(), testIdentity, true, nil); err != nil {
		t.Fatalf("missing reminder must recover, got %v", err)
	}
	if h.msgs.LastSent() == nil {
		t.Error("user must get an explanation")
	}
}

func TestSymptomDialogFullRound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.hub.StartSymptomDialog(ctx, testIdentity); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := h.hub.HandleSymptomDialog(ctx, testIdentity, "headache"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := h.hub.HandleSymptomDialog(ctx, testIdentity, "2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if h.sessions.GetDialog(testIdentity) != nil {
		t.Error("completed assessment must close the dialog session")
	}
	assessments, err := h.store.ActiveSymptomAssessments(testIdentity)
	if err != nil || len(assessments) != 1 {
		t.Fatalf("expected one active assessment, got %d err=%v", len(assessments), err)
	}
	a := assessments[0]
	if a.Symptom != "headache" || a.Severity != 2 || a.Emergency {
		t.Errorf("assessment = %+v", a)
	}
	if a.FollowUpAt.IsZero() {
		t.Error("follow-up must be scheduled")
	}
}

func TestSymptomSeverityFourIsEmergency(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.hub.StartSymptomDialog(ctx, testIdentity); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := h.hub.HandleSymptomDialog(ctx, testIdentity, "chest pain"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := h.hub.HandleSymptomDialog(ctx, testIdentity, "4"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	assessments, _ := h.store.ActiveSymptomAssessments(testIdentity)
	if len(assessments) != 1 || !assessments[0].Emergency {
		t.Fatalf("severity 4 must flag an emergency, got %+v", assessments)
	}
	if sent := h.msgs.LastSent(); sent == nil || !strings.Contains(sent.Body, "emergency") {
		t.Error("emergency reply must urge immediate care")
	}
}

func TestSymptomInvalidSeverityReprompts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_ = h.hub.StartSymptomDialog(ctx, testIdentity)
	_ = h.hub.HandleSymptomDialog(ctx, testIdentity, "headache")
	if err := h.hub.HandleSymptomDialog(ctx, testIdentity, "pretty bad"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	dialog := h.sessions.GetDialog(testIdentity)
	if dialog == nil || dialog.Stage != symptomStageSeverity {
		t.Error("invalid severity must keep the session at the severity stage")
	}
}

func TestFollowUpImprovementClosesAssessment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	assessment := models.SymptomAssessment{
		ID: "a1", Identity: testIdentity, Symptom: "cough", Severity: 3,
		Active: true, CreatedAt: time.Now(),
	}
	if err := h.store.SaveAssessment(assessment); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := h.hub.StartFollowUp(ctx, assessment); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d := h.sessions.GetDialog(testIdentity); d == nil || d.Type != models.DialogTypeFollowUp {
		t.Fatal("follow-up must open a typed dialog session")
	}
	if err := h.hub.HandleFollowUpDialog(ctx, testIdentity, "1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if active, _ := h.store.ActiveSymptomAssessments(testIdentity); len(active) != 0 {
		t.Errorf("improved follow-up must close the assessment, %d still active", len(active))
	}
	if h.sessions.GetDialog(testIdentity) != nil {
		t.Error("follow-up dialog must be closed")
	}
}

func TestDirectFollowUpWithoutSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.store.SaveAssessment(models.SymptomAssessment{
		ID: "a1", Identity: testIdentity, Symptom: "cough", Severity: 3,
		Active: true, CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	handled, err := h.hub.HandleDirectFollowUp(ctx, testIdentity, "2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !handled {
		t.Fatal("active assessment must accept a bare severity digit")
	}
	if active, _ := h.store.ActiveSymptomAssessments(testIdentity); len(active) != 0 {
		t.Error("severity 2 must close the assessment")
	}

	handled, err = h.hub.HandleDirectFollowUp(ctx, testIdentity, "2")
	if err != nil || handled {
		t.Errorf("no active assessment must not handle, got handled=%v err=%v", handled, err)
	}
}

func TestAccountCreationPatient(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_ = h.hub.StartAccountCreation(ctx, testIdentity, "Pat")
	_ = h.hub.HandleAccountCreation(ctx, testIdentity, "Pat")
	_ = h.hub.HandleAccountCreation(ctx, testIdentity, "America/Toronto")
	if err := h.hub.HandleAccountCreation(ctx, testIdentity, "1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	user, err := h.store.GetUser(testIdentity)
	if err != nil || user == nil {
		t.Fatalf("user must be saved, err=%v", err)
	}
	if user.Name != "Pat" || user.Role != models.RolePatient || user.Timezone != "America/Toronto" {
		t.Errorf("user = %+v", user)
	}
	if h.sessions.GetAccountCreation(testIdentity) != nil {
		t.Error("onboarding session must be deleted")
	}
	if d := h.sessions.GetDialog(testIdentity); d == nil || d.Stage != models.StageMainMenu {
		t.Error("new user must land in the main menu")
	}
}

func TestAccountCreationCaregiverDependents(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_ = h.hub.StartAccountCreation(ctx, testIdentity, "")
	_ = h.hub.HandleAccountCreation(ctx, testIdentity, "Sam")
	_ = h.hub.HandleAccountCreation(ctx, testIdentity, "UTC")
	_ = h.hub.HandleAccountCreation(ctx, testIdentity, "2")
	if err := h.hub.HandleAccountCreation(ctx, testIdentity, "Alice, Bob"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	user, _ := h.store.GetUser(testIdentity)
	if user == nil || user.Role != models.RoleCaregiver {
		t.Fatalf("caregiver not saved: %+v", user)
	}
	if len(user.Dependents) != 2 || user.Dependents[0] != "Alice" || user.Dependents[1] != "Bob" {
		t.Errorf("dependents = %v", user.Dependents)
	}
}

func TestMedicationWizardAdd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_ = h.hub.StartMedicationWizard(ctx, testIdentity, models.WizardOpAdd)
	_ = h.hub.HandleMedicationWizard(ctx, testIdentity, "Ibuprofen")
	_ = h.hub.HandleMedicationWizard(ctx, testIdentity, "200mg")
	if err := h.hub.HandleMedicationWizard(ctx, testIdentity, "08:30"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	meds, err := h.store.GetMedications(testIdentity)
	if err != nil || len(meds) != 1 {
		t.Fatalf("expected one medication, got %d err=%v", len(meds), err)
	}
	m := meds[0]
	if m.Name != "Ibuprofen" || m.Dosage != "200mg" || m.TimeOfDay != "08:30" {
		t.Errorf("medication = %+v", m)
	}
	if h.sessions.GetMedicationWizard(testIdentity) != nil {
		t.Error("completed wizard must delete its session")
	}
}

func TestMedicationWizardAddRejectsBadTime(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_ = h.hub.StartMedicationWizard(ctx, testIdentity, models.WizardOpAdd)
	_ = h.hub.HandleMedicationWizard(ctx, testIdentity, "Ibuprofen")
	_ = h.hub.HandleMedicationWizard(ctx, testIdentity, "200mg")
	if err := h.hub.HandleMedicationWizard(ctx, testIdentity, "half past eight"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	wizard := h.sessions.GetMedicationWizard(testIdentity)
	if wizard == nil || wizard.Step != wizardStepTime {
		t.Error("bad time must re-prompt at the same step")
	}
	if meds, _ := h.store.GetMedications(testIdentity); len(meds) != 0 {
		t.Error("nothing must be saved on invalid input")
	}
}

func TestMedicationWizardUpdateKeepsSameFields(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.store.SaveMedication(models.Medication{
		ID: "m1", Identity: testIdentity, Name: "Aspirin", Dosage: "100mg", TimeOfDay: "09:00",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_ = h.hub.StartMedicationWizard(ctx, testIdentity, models.WizardOpUpdate)
	_ = h.hub.HandleMedicationWizard(ctx, testIdentity, "1")
	_ = h.hub.HandleMedicationWizard(ctx, testIdentity, "same")
	if err := h.hub.HandleMedicationWizard(ctx, testIdentity, "21:00"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	meds, _ := h.store.GetMedications(testIdentity)
	if len(meds) != 1 {
		t.Fatalf("expected one medication, got %d", len(meds))
	}
	if meds[0].Dosage != "100mg" {
		t.Errorf("\"same\" must keep the dosage, got %q", meds[0].Dosage)
	}
	if meds[0].TimeOfDay != "21:00" {
		t.Errorf("time must be updated, got %q", meds[0].TimeOfDay)
	}
}

func TestMedicationWizardUpdatePreservesCreatedAt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	created := time.Now().Add(-48 * time.Hour)
	if err := h.store.SaveMedication(models.Medication{
		ID: "m1", Identity: testIdentity, Name: "Aspirin", Dosage: "100mg",
		TimeOfDay: "09:00", CreatedAt: created,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_ = h.hub.StartMedicationWizard(ctx, testIdentity, models.WizardOpUpdate)
	_ = h.hub.HandleMedicationWizard(ctx, testIdentity, "1")
	_ = h.hub.HandleMedicationWizard(ctx, testIdentity, "200mg")
	if err := h.hub.HandleMedicationWizard(ctx, testIdentity, "same"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	meds, _ := h.store.GetMedications(testIdentity)
	if len(meds) != 1 {
		t.Fatalf("expected 1 medication, got %d", len(meds))
	}
	if !meds[0].CreatedAt.Equal(created) {
		t.Errorf("update must keep the original creation time, got %v", meds[0].CreatedAt)
	}
	if meds[0].Dosage != "200mg" {
		t.Errorf("dosage must be updated, got %q", meds[0].Dosage)
	}
}

func TestMedicationWizardDeleteConfirm(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_ = h.store.SaveMedication(models.Medication{ID: "m1", Identity: testIdentity, Name: "Aspirin"})

	_ = h.hub.StartMedicationWizard(ctx, testIdentity, models.WizardOpDelete)
	_ = h.hub.HandleMedicationWizard(ctx, testIdentity, "1")
	if err := h.hub.HandleMedicationWizard(ctx, testIdentity, "no"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meds, _ := h.store.GetMedications(testIdentity); len(meds) != 1 {
		t.Fatal("\"no\" must keep the medication")
	}

	_ = h.hub.StartMedicationWizard(ctx, testIdentity, models.WizardOpDelete)
	_ = h.hub.HandleMedicationWizard(ctx, testIdentity, "1")
	if err := h.hub.HandleMedicationWizard(ctx, testIdentity, "yes"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meds, _ := h.store.GetMedications(testIdentity); len(meds) != 0 {
		t.Fatal("\"yes\" must delete the medication")
	}
}

func TestCheckInLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.hub.StartCheckIn(ctx, testIdentity); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	accepted, err := h.hub.HandleCheckIn(ctx, testIdentity, "doing okay")
	if err != nil || !accepted {
		t.Fatalf("initial state must accept free text, accepted=%v err=%v", accepted, err)
	}

	accepted, err = h.hub.HandleCheckIn(ctx, testIdentity, "what time is it")
	if err != nil || accepted {
		t.Fatalf("non-score reply must not be accepted at the score stage, accepted=%v err=%v", accepted, err)
	}

	accepted, err = h.hub.HandleCheckIn(ctx, testIdentity, "4")
	if err != nil || !accepted {
		t.Fatalf("score must complete the check-in, accepted=%v err=%v", accepted, err)
	}
	if active, _ := h.store.ActiveCheckIn(testIdentity); active != nil {
		t.Error("completed check-in must no longer be active")
	}
}

func TestCheckInWithoutActiveIsNotAccepted(t *testing.T) {
	h := newHarness(t)

	accepted, err := h.hub.HandleCheckIn(context.Background(), testIdentity, "hello")
	if err != nil || accepted {
		t.Errorf("no active check-in must not accept, accepted=%v err=%v", accepted, err)
	}
}

func TestCommandGreetingShowsMenu(t *testing.T) {
	h := newHarness(t)

	handled, err := h.hub.HandleCommand(context.Background(), testIdentity, "hello")
	if err != nil || !handled {
		t.Fatalf("greeting must match, handled=%v err=%v", handled, err)
	}
	if d := h.sessions.GetDialog(testIdentity); d == nil || d.Stage != models.StageMainMenu {
		t.Error("greeting must open the main menu")
	}
}

func TestCommandUnmatchedFallsThrough(t *testing.T) {
	h := newHarness(t)

	handled, err := h.hub.HandleCommand(context.Background(), testIdentity, "what's the capital of France")
	if err != nil || handled {
		t.Errorf("free text must not match a command, handled=%v err=%v", handled, err)
	}
}

func TestProxyQueryRequiresCaregiverAndListing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_ = h.store.SaveUser(models.User{ID: "u1", Identity: testIdentity, Name: "Sam",
		Role: models.RoleCaregiver, Dependents: []string{"Alice"}})
	_ = h.store.SaveUser(models.User{ID: "u2", Identity: "+15559999", Name: "Alice", Role: models.RolePatient})

	handled, err := h.hub.HandleCommand(ctx, testIdentity, "report Alice")
	if err != nil || !handled {
		t.Fatalf("caregiver report must match, handled=%v err=%v", handled, err)
	}

	h.msgs.Reset()
	handled, err = h.hub.HandleCommand(ctx, testIdentity, "report Bob")
	if err != nil || !handled {
		t.Fatalf("unexpected: handled=%v err=%v", handled, err)
	}
	if sent := h.msgs.LastSent(); sent == nil || !strings.Contains(sent.Body, "care list") {
		t.Error("unlisted dependent must be refused")
	}
}

func TestProxyQueryRefusedForPatients(t *testing.T) {
	h := newHarness(t)
	_ = h.store.SaveUser(models.User{ID: "u1", Identity: testIdentity, Name: "Pat", Role: models.RolePatient})

	handled, err := h.hub.HandleCommand(context.Background(), testIdentity, "status Alice")
	if err != nil || !handled {
		t.Fatalf("unexpected: handled=%v err=%v", handled, err)
	}
	if sent := h.msgs.LastSent(); sent == nil || !strings.Contains(sent.Body, "caregiver") {
		t.Error("patients must be refused proxy reports")
	}
}

func TestMenuNavigationToMedicationMenu(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_ = h.hub.ShowMainMenu(ctx, testIdentity)
	if err := h.hub.HandleMenu(ctx, testIdentity, "2", models.StageMainMenu); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d := h.sessions.GetDialog(testIdentity); d == nil || d.Stage != models.StageMedicationMenu {
		t.Fatal("option 2 must open the medication menu")
	}

	if err := h.hub.HandleMenu(ctx, testIdentity, "2", models.StageMedicationMenu); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w := h.sessions.GetMedicationWizard(testIdentity); w == nil || w.Op != models.WizardOpAdd {
		t.Error("medication menu option 2 must start the add wizard")
	}
}

func TestMenuInvalidChoicePreservesStage(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_ = h.hub.ShowMainMenu(ctx, testIdentity)
	if err := h.hub.HandleMenu(ctx, testIdentity, "99", models.StageMainMenu); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d := h.sessions.GetDialog(testIdentity); d == nil || d.Stage != models.StageMainMenu {
		t.Error("out-of-range choice must keep the menu session")
	}
}

func TestAIFallbackDegradesOnFailure(t *testing.T) {
	h := newHarness(t)
	h.gen.err = errors.New("api down")

	if err := h.hub.HandleAIFallback(context.Background(), testIdentity, "hello?"); err != nil {
		t.Fatalf("generation failure must not propagate, got %v", err)
	}
	if sent := h.msgs.LastSent(); sent == nil || !strings.Contains(sent.Body, "menu") {
		t.Error("user must get the canned fallback")
	}
}
