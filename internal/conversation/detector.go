// Package conversation implements the conversation-conflict resolution core:
// detecting every concurrently active dialog for an identity and deciding
// whether an inbound message can be attributed to one of them automatically.
package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/BTreeMap/CareLoop/internal/identity"
	"github.com/BTreeMap/CareLoop/internal/models"
	"github.com/BTreeMap/CareLoop/internal/session"
)

// Lookups is the narrow read-only view of the persistence layer the
// detector needs. The backing store applies the reminder freshness window
// itself, so a non-nil reminder is by definition still awaiting a response.
type Lookups interface {
	LatestUnrespondedReminder(identityKey string) (*models.Reminder, error)
	ActiveSymptomAssessments(identityKey string) ([]models.SymptomAssessment, error)
	ActiveCheckIn(identityKey string) (*models.CheckIn, error)
}

// Result is the detector's output: every active conversation ranked by
// priority, and whether more than one is active.
type Result struct {
	Active      []models.ActiveConversation
	HasConflict bool
}

// Detector enumerates active conversations across the session store and the
// external lookups. Detection is recomputed per message, never cached: any
// of the sources can change between messages.
type Detector struct {
	sessions session.Store
	lookups  Lookups
}

// NewDetector creates a Detector over the given session store and lookups.
func NewDetector(sessions session.Store, lookups Lookups) *Detector {
	return &Detector{sessions: sessions, lookups: lookups}
}

// Detect enumerates every concurrently active dialog for the identity.
// Transient lookup failures are logged and the failing source skipped, so a
// flaky collaborator degrades detection instead of aborting the message.
func (d *Detector) Detect(ctx context.Context, rawIdentity string) (Result, error) {
	var active []models.ActiveConversation

	if acct := d.lookupAccountCreation(rawIdentity); acct != nil {
		active = append(active, models.ActiveConversation{
			Kind:        models.KindAccountCreation,
			Description: "Account setup",
		})
	}

	if dialog := d.lookupDialog(rawIdentity); dialog != nil {
		active = append(active, dialogConversation(dialog))
	}

	if wizard := d.lookupWizard(rawIdentity); wizard != nil {
		active = append(active, models.ActiveConversation{
			Kind:        models.KindMedicationManagement,
			Description: fmt.Sprintf("Medication %s in progress", wizard.Op),
		})
	}

	// Stored assessments count even without a live dialog session, so a user
	// who wandered into a menu mid-assessment still conflicts. The dialog
	// session wins when it already contributed a symptom record.
	if !hasKind(active, models.KindSymptomAssessment) && !hasKind(active, models.KindSymptomEmergency) {
		for _, key := range identity.Variants(rawIdentity) {
			assessments, err := d.lookups.ActiveSymptomAssessments(key)
			if err != nil {
				slog.Warn("Detector assessment lookup failed", "error", err, "identity", key)
				continue
			}
			if len(assessments) == 0 {
				continue
			}
			latest := assessments[0]
			for _, a := range assessments[1:] {
				if a.CreatedAt.After(latest.CreatedAt) {
					latest = a
				}
			}
			kind := models.KindSymptomAssessment
			desc := fmt.Sprintf("Symptom assessment (%s)", latest.Symptom)
			if latest.Emergency {
				kind = models.KindSymptomEmergency
				desc = fmt.Sprintf("Symptom emergency follow-up (%s)", latest.Symptom)
			}
			active = append(active, models.ActiveConversation{
				Kind:         kind,
				Description:  desc,
				AssessmentID: latest.ID,
			})
			break
		}
	}

	for _, key := range identity.Variants(rawIdentity) {
		checkIn, err := d.lookups.ActiveCheckIn(key)
		if err != nil {
			slog.Warn("Detector check-in lookup failed", "error", err, "identity", key)
			continue
		}
		if checkIn != nil && checkIn.Active {
			active = append(active, models.ActiveConversation{
				Kind:        models.KindCheckInResponse,
				Description: "Check-in conversation",
				CheckInID:   checkIn.ID,
			})
			break
		}
	}

	for _, key := range identity.Variants(rawIdentity) {
		reminder, err := d.lookups.LatestUnrespondedReminder(key)
		if err != nil {
			slog.Warn("Detector reminder lookup failed", "error", err, "identity", key)
			continue
		}
		if reminder != nil {
			active = append(active, models.ActiveConversation{
				Kind:        models.KindMedicationReminder,
				Description: fmt.Sprintf("Medication reminder (%s)", reminder.Medicine),
				Reminder:    reminder,
			})
			break
		}
	}

	for i := range active {
		active[i].Priority = active[i].Kind.Priority()
	}
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Priority > active[j].Priority
	})

	result := Result{Active: active, HasConflict: len(active) >= 2}
	slog.Debug("Detector completed", "identity", identity.Normalize(rawIdentity),
		"active", len(active), "conflict", result.HasConflict)
	return result, nil
}

// dialogConversation resolves the conversation kind carried by a general
// dialog session: typed symptom/follow-up dialogs are assessments (or an
// emergency when flagged), menu stage markers are menu navigation, and
// anything else is a general query.
func dialogConversation(s *models.DialogSession) models.ActiveConversation {
	switch {
	case s.Type == models.DialogTypeSymptom || s.Type == models.DialogTypeFollowUp:
		kind := models.KindSymptomAssessment
		desc := "Symptom assessment"
		if s.Emergency {
			kind = models.KindSymptomEmergency
			desc = "Symptom emergency follow-up"
		}
		return models.ActiveConversation{Kind: kind, Description: desc, AssessmentID: s.AssessmentID}
	case isMenuStage(s.Stage):
		return models.ActiveConversation{Kind: models.KindMenuNavigation, Description: "Menu navigation"}
	default:
		return models.ActiveConversation{Kind: models.KindGeneralQuery, Description: "Ongoing conversation"}
	}
}

func hasKind(active []models.ActiveConversation, kind models.ConversationKind) bool {
	for _, a := range active {
		if a.Kind == kind {
			return true
		}
	}
	return false
}

func isMenuStage(stage string) bool {
	switch stage {
	case models.StageMainMenu, models.StageMedicationMenu, models.StageMedicationInfoSelection:
		return true
	}
	return false
}

// Session reads consult both identity representations, normalized first.

func (d *Detector) lookupAccountCreation(raw string) *models.AccountCreationSession {
	for _, key := range identity.Variants(raw) {
		if s := d.sessions.GetAccountCreation(key); s != nil {
			return s
		}
	}
	return nil
}

func (d *Detector) lookupDialog(raw string) *models.DialogSession {
	for _, key := range identity.Variants(raw) {
		if s := d.sessions.GetDialog(key); s != nil {
			return s
		}
	}
	return nil
}

func (d *Detector) lookupWizard(raw string) *models.MedicationWizardSession {
	for _, key := range identity.Variants(raw) {
		if s := d.sessions.GetMedicationWizard(key); s != nil {
			return s
		}
	}
	return nil
}
