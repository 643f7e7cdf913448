package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/CareLoop/internal/models"
)

// HandleCommand matches stateless commands: greetings, menu and feature
// keywords, and caregiver proxy queries. The boolean reports whether a
// command matched; unmatched text falls through to the open-domain fallback.
func (h *Hub) HandleCommand(ctx context.Context, identityKey, text string) (bool, error) {
	lower := strings.ToLower(strings.TrimSpace(text))

	switch lower {
	case "hi", "hello", "hey", "menu", "start", "help":
		return true, h.ShowMainMenu(ctx, identityKey)
	case "medications", "my medications", "list medications":
		return true, h.sendMedicationList(ctx, identityKey)
	case "add medication":
		return true, h.StartMedicationWizard(ctx, identityKey, models.WizardOpAdd)
	case "update medication":
		return true, h.StartMedicationWizard(ctx, identityKey, models.WizardOpUpdate)
	case "delete medication", "remove medication":
		return true, h.StartMedicationWizard(ctx, identityKey, models.WizardOpDelete)
	case "history", "medication history":
		return true, h.sendMedicationHistory(ctx, identityKey)
	}

	for _, kw := range []string{"symptom", "not feeling well", "feeling sick", "in pain"} {
		if strings.Contains(lower, kw) {
			return true, h.StartSymptomDialog(ctx, identityKey)
		}
	}

	if name, ok := proxyQueryTarget(lower, text); ok {
		return true, h.handleProxyQuery(ctx, identityKey, name)
	}

	return false, nil
}

// proxyQueryTarget extracts the dependent's name from "report <name>" or
// "status <name>". The name keeps the original casing.
func proxyQueryTarget(lower, original string) (string, bool) {
	for _, prefix := range []string{"report ", "status "} {
		if strings.HasPrefix(lower, prefix) {
			name := strings.TrimSpace(original[len(prefix):])
			if name != "" {
				return name, true
			}
		}
	}
	return "", false
}

// handleProxyQuery answers a caregiver's request for a dependent's summary.
// Only caregivers may query, and only for names on their dependent list.
func (h *Hub) handleProxyQuery(ctx context.Context, identityKey, name string) error {
	requester, err := h.store.GetUser(identityKey)
	if err != nil {
		return fmt.Errorf("failed to load requester: %w", err)
	}
	if requester == nil || requester.Role != models.RoleCaregiver {
		h.send(ctx, identityKey, "Reports are only available to caregiver accounts.")
		return nil
	}
	if !containsFold(requester.Dependents, name) {
		slog.Warn("Proxy query for unlisted dependent", "identity", identityKey, "name", name)
		h.send(ctx, identityKey, fmt.Sprintf("%s isn't on your care list.", name))
		return nil
	}

	dependent, err := h.store.GetUserByName(name)
	if err != nil {
		return fmt.Errorf("failed to look up dependent: %w", err)
	}
	if dependent == nil {
		h.send(ctx, identityKey, fmt.Sprintf("I couldn't find an account for %s yet.", name))
		return nil
	}

	report, err := h.BuildReport(ctx, dependent)
	if err != nil {
		return fmt.Errorf("failed to build report: %w", err)
	}
	h.send(ctx, identityKey, report)
	return nil
}

// BuildReport summarizes a user's recent medication adherence and symptoms.
// The daily report job and caregiver proxy queries share this.
func (h *Hub) BuildReport(ctx context.Context, user *models.User) (string, error) {
	intakes, err := h.store.GetIntakes(user.Identity)
	if err != nil {
		return "", fmt.Errorf("failed to load intakes: %w", err)
	}
	assessments, err := h.store.ActiveSymptomAssessments(user.Identity)
	if err != nil {
		return "", fmt.Errorf("failed to load assessments: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Report for %s:\n\n", user.Name)

	taken, missed := 0, 0
	limit := len(intakes)
	if limit > 20 {
		limit = 20
	}
	for _, in := range intakes[:limit] {
		if in.Status == models.ReminderStatusTaken {
			taken++
		} else {
			missed++
		}
	}
	fmt.Fprintf(&b, "Medications: %d taken, %d missed recently.\n", taken, missed)

	if len(assessments) == 0 {
		b.WriteString("No open symptom concerns. 🙂\n")
	} else {
		b.WriteString("Open symptoms:\n")
		for _, a := range assessments {
			fmt.Fprintf(&b, "• %s (severity %d/4)", a.Symptom, a.Severity)
			if a.Emergency {
				b.WriteString(" ⚠️")
			}
			b.WriteString("\n")
		}
	}

	if h.gen != nil {
		summary, genErr := h.gen.GeneratePrompt(ctx,
			"You are a health assistant writing a one-paragraph caregiver summary. "+
				"Be factual and calm; do not invent details.",
			b.String())
		if genErr != nil {
			slog.Warn("Report summarization failed", "error", genErr, "identity", user.Identity)
		} else {
			return summary, nil
		}
	}
	return b.String(), nil
}

func containsFold(list []string, target string) bool {
	for _, s := range list {
		if strings.EqualFold(strings.TrimSpace(s), strings.TrimSpace(target)) {
			return true
		}
	}
	return false
}
