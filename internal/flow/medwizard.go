package flow

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/CareLoop/internal/models"
)

// Wizard steps, matched per operation. Exhaustive switching over Op and
// Step replaces prefix matching on a combined stage string.
const (
	wizardStepSelect  = "select"
	wizardStepName    = "name"
	wizardStepDosage  = "dosage"
	wizardStepTime    = "time"
	wizardStepConfirm = "confirm"
)

// keepCurrentWord leaves a field unchanged during an update.
const keepCurrentWord = "same"

var timeOfDayRegex = regexp.MustCompile(`^([01]?\d|2[0-3]):[0-5]\d$`)

// StartMedicationWizard opens an add/update/delete medication flow.
func (h *Hub) StartMedicationWizard(ctx context.Context, identityKey string, op models.WizardOp) error {
	switch op {
	case models.WizardOpAdd:
		h.sessions.SetMedicationWizard(identityKey, models.MedicationWizardSession{
			Op: models.WizardOpAdd, Step: wizardStepName,
		})
		h.send(ctx, identityKey, "Let's add a medication. What's it called?")
		return nil

	case models.WizardOpUpdate, models.WizardOpDelete:
		meds, err := h.store.GetMedications(identityKey)
		if err != nil {
			return fmt.Errorf("failed to list medications: %w", err)
		}
		if len(meds) == 0 {
			h.send(ctx, identityKey, "You don't have any medications on file yet. Use the medication menu to add one.")
			return nil
		}
		h.sessions.SetMedicationWizard(identityKey, models.MedicationWizardSession{
			Op: op, Step: wizardStepSelect,
		})
		verb := "update"
		if op == models.WizardOpDelete {
			verb = "delete"
		}
		var b strings.Builder
		fmt.Fprintf(&b, "Which medication would you like to %s?\n\n", verb)
		for i, m := range meds {
			fmt.Fprintf(&b, "%d. %s\n", i+1, m.Name)
		}
		b.WriteString("\nReply with the number.")
		h.send(ctx, identityKey, b.String())
		return nil

	default:
		return fmt.Errorf("unknown wizard operation %q", op)
	}
}

// HandleMedicationWizard advances an in-progress medication wizard.
func (h *Hub) HandleMedicationWizard(ctx context.Context, identityKey, text string) error {
	wizard := h.sessions.GetMedicationWizard(identityKey)
	if wizard == nil {
		slog.Warn("Wizard continuation without session", "identity", identityKey)
		h.send(ctx, identityKey, "That medication flow timed out. Let's start over from the menu.")
		return h.ShowMainMenu(ctx, identityKey)
	}

	switch wizard.Op {
	case models.WizardOpAdd:
		return h.handleAddStep(ctx, identityKey, text, wizard)
	case models.WizardOpUpdate:
		return h.handleUpdateStep(ctx, identityKey, text, wizard)
	case models.WizardOpDelete:
		return h.handleDeleteStep(ctx, identityKey, text, wizard)
	default:
		h.sessions.DeleteMedicationWizard(identityKey)
		return fmt.Errorf("wizard session with unknown operation %q", wizard.Op)
	}
}

func (h *Hub) handleAddStep(ctx context.Context, identityKey, text string, wizard *models.MedicationWizardSession) error {
	switch wizard.Step {
	case wizardStepName:
		name := strings.TrimSpace(text)
		if name == "" {
			h.send(ctx, identityKey, "Please tell me the medication's name.")
			return nil
		}
		wizard.DraftName = name
		wizard.Step = wizardStepDosage
		h.sessions.SetMedicationWizard(identityKey, *wizard)
		h.send(ctx, identityKey, fmt.Sprintf("What dosage do you take of %s? (e.g. 200mg)", name))
		return nil

	case wizardStepDosage:
		wizard.DraftDosage = strings.TrimSpace(text)
		wizard.Step = wizardStepTime
		h.sessions.SetMedicationWizard(identityKey, *wizard)
		h.send(ctx, identityKey, "What time should I remind you each day? Use 24h format, e.g. 08:30.")
		return nil

	case wizardStepTime:
		timeOfDay := strings.TrimSpace(text)
		if !timeOfDayRegex.MatchString(timeOfDay) {
			h.send(ctx, identityKey, "Please send the time as HH:MM in 24h format, e.g. 08:30 or 21:00.")
			return nil
		}
		med := models.Medication{
			ID:        uuid.NewString(),
			Identity:  identityKey,
			Name:      wizard.DraftName,
			Dosage:    wizard.DraftDosage,
			TimeOfDay: timeOfDay,
			CreatedAt: time.Now(),
		}
		if err := h.store.SaveMedication(med); err != nil {
			return fmt.Errorf("failed to save medication: %w", err)
		}
		h.sessions.DeleteMedicationWizard(identityKey)
		slog.Info("Medication added", "identity", identityKey, "medication", med.Name, "time", med.TimeOfDay)
		h.send(ctx, identityKey, fmt.Sprintf(
			"Done! I'll remind you about %s (%s) every day at %s.", med.Name, med.Dosage, med.TimeOfDay))
		return nil

	default:
		return h.restartWizard(ctx, identityKey, wizard.Op)
	}
}

func (h *Hub) handleUpdateStep(ctx context.Context, identityKey, text string, wizard *models.MedicationWizardSession) error {
	switch wizard.Step {
	case wizardStepSelect:
		med, ok, err := h.selectMedication(ctx, identityKey, text)
		if err != nil || !ok {
			return err
		}
		wizard.MedicationID = med.ID
		wizard.DraftName = med.Name
		wizard.DraftDosage = med.Dosage
		wizard.DraftTime = med.TimeOfDay
		wizard.Step = wizardStepDosage
		h.sessions.SetMedicationWizard(identityKey, *wizard)
		h.send(ctx, identityKey, fmt.Sprintf(
			"Updating %s. What's the new dosage? (currently %s; reply \"same\" to keep it)", med.Name, med.Dosage))
		return nil

	case wizardStepDosage:
		if answer := strings.TrimSpace(text); !strings.EqualFold(answer, keepCurrentWord) {
			wizard.DraftDosage = answer
		}
		wizard.Step = wizardStepTime
		h.sessions.SetMedicationWizard(identityKey, *wizard)
		h.send(ctx, identityKey, fmt.Sprintf(
			"What's the new reminder time? (currently %s; reply \"same\" to keep it)", wizard.DraftTime))
		return nil

	case wizardStepTime:
		answer := strings.TrimSpace(text)
		if !strings.EqualFold(answer, keepCurrentWord) {
			if !timeOfDayRegex.MatchString(answer) {
				h.send(ctx, identityKey, "Please send the time as HH:MM in 24h format, or \"same\" to keep the current one.")
				return nil
			}
			wizard.DraftTime = answer
		}
		med := models.Medication{
			ID:        wizard.MedicationID,
			Identity:  identityKey,
			Name:      wizard.DraftName,
			Dosage:    wizard.DraftDosage,
			TimeOfDay: wizard.DraftTime,
			UpdatedAt: time.Now(),
		}
		// Saving replaces the whole row; carry the original creation time.
		if meds, err := h.store.GetMedications(identityKey); err == nil {
			for _, m := range meds {
				if m.ID == med.ID {
					med.CreatedAt = m.CreatedAt
					break
				}
			}
		}
		if err := h.store.SaveMedication(med); err != nil {
			return fmt.Errorf("failed to update medication: %w", err)
		}
		h.sessions.DeleteMedicationWizard(identityKey)
		slog.Info("Medication updated", "identity", identityKey, "medication", med.Name)
		h.send(ctx, identityKey, fmt.Sprintf(
			"Updated! %s is now %s, reminder at %s.", med.Name, med.Dosage, med.TimeOfDay))
		return nil

	default:
		return h.restartWizard(ctx, identityKey, wizard.Op)
	}
}

func (h *Hub) handleDeleteStep(ctx context.Context, identityKey, text string, wizard *models.MedicationWizardSession) error {
	switch wizard.Step {
	case wizardStepSelect:
		med, ok, err := h.selectMedication(ctx, identityKey, text)
		if err != nil || !ok {
			return err
		}
		wizard.MedicationID = med.ID
		wizard.DraftName = med.Name
		wizard.Step = wizardStepConfirm
		h.sessions.SetMedicationWizard(identityKey, *wizard)
		h.send(ctx, identityKey, fmt.Sprintf(
			"Delete %s and stop its reminders? Reply \"yes\" to confirm or \"no\" to keep it.", med.Name))
		return nil

	case wizardStepConfirm:
		h.sessions.DeleteMedicationWizard(identityKey)
		if strings.EqualFold(strings.TrimSpace(text), "yes") {
			if err := h.store.DeleteMedication(wizard.MedicationID); err != nil {
				return fmt.Errorf("failed to delete medication: %w", err)
			}
			slog.Info("Medication deleted", "identity", identityKey, "medication", wizard.DraftName)
			h.send(ctx, identityKey, fmt.Sprintf("%s has been removed.", wizard.DraftName))
			return nil
		}
		h.send(ctx, identityKey, fmt.Sprintf("Okay, keeping %s.", wizard.DraftName))
		return nil

	default:
		return h.restartWizard(ctx, identityKey, wizard.Op)
	}
}

// selectMedication resolves a numeric reply against the user's medication
// list. An out-of-range reply re-prompts and leaves the session untouched.
func (h *Hub) selectMedication(ctx context.Context, identityKey, text string) (models.Medication, bool, error) {
	meds, err := h.store.GetMedications(identityKey)
	if err != nil {
		return models.Medication{}, false, fmt.Errorf("failed to list medications: %w", err)
	}
	idx, convErr := strconv.Atoi(strings.TrimSpace(text))
	if convErr != nil || idx < 1 || idx > len(meds) {
		h.send(ctx, identityKey, fmt.Sprintf("Please reply with a number between 1 and %d.", len(meds)))
		return models.Medication{}, false, nil
	}
	return meds[idx-1], true, nil
}

// restartWizard recovers from an inconsistent wizard session by restarting
// the flow from its entry point.
func (h *Hub) restartWizard(ctx context.Context, identityKey string, op models.WizardOp) error {
	slog.Warn("Wizard at unknown step, restarting", "identity", identityKey, "op", op)
	h.sessions.DeleteMedicationWizard(identityKey)
	return h.StartMedicationWizard(ctx, identityKey, op)
}
