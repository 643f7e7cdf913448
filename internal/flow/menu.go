package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/BTreeMap/CareLoop/internal/models"
)

const mainMenuText = "What can I help you with?\n\n" +
	"1️⃣ Report a symptom\n" +
	"2️⃣ Manage medications\n" +
	"3️⃣ Medication history\n" +
	"4️⃣ Ask me anything\n\nReply with a number."

const medicationMenuText = "Medications:\n\n" +
	"1️⃣ List my medications\n" +
	"2️⃣ Add a medication\n" +
	"3️⃣ Update a medication\n" +
	"4️⃣ Delete a medication\n" +
	"5️⃣ Medication information\n" +
	"0️⃣ Back to main menu\n\nReply with a number."

// ShowMainMenu opens the main menu dialog.
func (h *Hub) ShowMainMenu(ctx context.Context, identityKey string) error {
	h.sessions.SetDialog(identityKey, models.DialogSession{Stage: models.StageMainMenu})
	h.send(ctx, identityKey, mainMenuText)
	return nil
}

// HandleMenu advances menu navigation at the given stage. Out-of-range
// choices re-prompt with the same menu; session state is preserved.
func (h *Hub) HandleMenu(ctx context.Context, identityKey, text, stage string) error {
	switch stage {
	case models.StageMainMenu:
		return h.handleMainMenu(ctx, identityKey, text)
	case models.StageMedicationMenu:
		return h.handleMedicationMenu(ctx, identityKey, text)
	case models.StageMedicationInfoSelection:
		return h.handleMedicationInfoSelection(ctx, identityKey, text)
	default:
		slog.Warn("Menu at unknown stage, restarting", "identity", identityKey, "stage", stage)
		return h.ShowMainMenu(ctx, identityKey)
	}
}

func (h *Hub) handleMainMenu(ctx context.Context, identityKey, text string) error {
	switch strings.TrimSpace(text) {
	case "1":
		return h.StartSymptomDialog(ctx, identityKey)
	case "2":
		h.sessions.SetDialog(identityKey, models.DialogSession{Stage: models.StageMedicationMenu})
		h.send(ctx, identityKey, medicationMenuText)
		return nil
	case "3":
		h.sessions.DeleteDialog(identityKey)
		return h.sendMedicationHistory(ctx, identityKey)
	case "4":
		h.sessions.DeleteDialog(identityKey)
		h.send(ctx, identityKey, "Sure, just type your question and I'll do my best to answer.")
		return nil
	default:
		h.send(ctx, identityKey, "Please pick an option from the menu.\n\n"+mainMenuText)
		return nil
	}
}

func (h *Hub) handleMedicationMenu(ctx context.Context, identityKey, text string) error {
	switch strings.TrimSpace(text) {
	case "1":
		h.sessions.DeleteDialog(identityKey)
		return h.sendMedicationList(ctx, identityKey)
	case "2":
		h.sessions.DeleteDialog(identityKey)
		return h.StartMedicationWizard(ctx, identityKey, models.WizardOpAdd)
	case "3":
		h.sessions.DeleteDialog(identityKey)
		return h.StartMedicationWizard(ctx, identityKey, models.WizardOpUpdate)
	case "4":
		h.sessions.DeleteDialog(identityKey)
		return h.StartMedicationWizard(ctx, identityKey, models.WizardOpDelete)
	case "5":
		return h.promptMedicationInfo(ctx, identityKey)
	case "0":
		return h.ShowMainMenu(ctx, identityKey)
	default:
		h.send(ctx, identityKey, "Please pick an option from the menu.\n\n"+medicationMenuText)
		return nil
	}
}

// promptMedicationInfo lists the user's medications for info selection.
func (h *Hub) promptMedicationInfo(ctx context.Context, identityKey string) error {
	meds, err := h.store.GetMedications(identityKey)
	if err != nil {
		return fmt.Errorf("failed to list medications: %w", err)
	}
	if len(meds) == 0 {
		h.sessions.DeleteDialog(identityKey)
		h.send(ctx, identityKey, "You don't have any medications on file yet. Use the medication menu to add one.")
		return nil
	}

	h.sessions.SetDialog(identityKey, models.DialogSession{Stage: models.StageMedicationInfoSelection})
	var b strings.Builder
	b.WriteString("Which medication would you like to know more about?\n\n")
	for i, m := range meds {
		fmt.Fprintf(&b, "%d. %s\n", i+1, m.Name)
	}
	b.WriteString("\nReply with the number.")
	h.send(ctx, identityKey, b.String())
	return nil
}

func (h *Hub) handleMedicationInfoSelection(ctx context.Context, identityKey, text string) error {
	meds, err := h.store.GetMedications(identityKey)
	if err != nil {
		return fmt.Errorf("failed to list medications: %w", err)
	}

	idx, convErr := strconv.Atoi(strings.TrimSpace(text))
	if convErr != nil || idx < 1 || idx > len(meds) {
		h.send(ctx, identityKey, fmt.Sprintf("Please reply with a number between 1 and %d.", len(meds)))
		return nil
	}

	h.sessions.DeleteDialog(identityKey)
	med := meds[idx-1]
	info := fmt.Sprintf("%s: I couldn't look up details right now, but your recorded dosage is %s.", med.Name, med.Dosage)
	if h.gen != nil {
		generated, genErr := h.gen.GeneratePrompt(ctx,
			"You are a cautious health assistant. Give a short, plain-language overview of a medication: "+
				"what it is typically used for and common advice. Always recommend consulting a doctor or pharmacist. "+
				"Do not give dosage instructions.",
			fmt.Sprintf("Tell me about %s.", med.Name))
		if genErr != nil {
			slog.Warn("Medication info generation failed", "error", genErr, "medication", med.Name)
		} else {
			info = generated
		}
	}
	h.send(ctx, identityKey, info)
	return nil
}

// sendMedicationList sends the user's current medications.
func (h *Hub) sendMedicationList(ctx context.Context, identityKey string) error {
	meds, err := h.store.GetMedications(identityKey)
	if err != nil {
		return fmt.Errorf("failed to list medications: %w", err)
	}
	if len(meds) == 0 {
		h.send(ctx, identityKey, "You don't have any medications on file yet.")
		return nil
	}
	var b strings.Builder
	b.WriteString("Your medications:\n\n")
	for i, m := range meds {
		fmt.Fprintf(&b, "%d. %s", i+1, m.Name)
		if m.Dosage != "" {
			fmt.Fprintf(&b, " (%s)", m.Dosage)
		}
		if m.TimeOfDay != "" {
			fmt.Fprintf(&b, " at %s", m.TimeOfDay)
		}
		b.WriteString("\n")
	}
	h.send(ctx, identityKey, b.String())
	return nil
}

// sendMedicationHistory sends the recent intake log.
func (h *Hub) sendMedicationHistory(ctx context.Context, identityKey string) error {
	intakes, err := h.store.GetIntakes(identityKey)
	if err != nil {
		return fmt.Errorf("failed to load intake history: %w", err)
	}
	if len(intakes) == 0 {
		h.send(ctx, identityKey, "No medication history recorded yet.")
		return nil
	}
	var b strings.Builder
	b.WriteString("Recent medication history:\n\n")
	limit := len(intakes)
	if limit > 10 {
		limit = 10
	}
	for _, in := range intakes[:limit] {
		fmt.Fprintf(&b, "• %s: %s (%s)\n", in.Time.Format("Jan 2 15:04"), in.Medicine, in.Status)
	}
	h.send(ctx, identityKey, b.String())
	return nil
}
