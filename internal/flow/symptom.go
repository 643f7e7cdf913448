package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/CareLoop/internal/models"
)

// Symptom dialog stages.
const (
	symptomStageDescribe = "describe"
	symptomStageSeverity = "severity"
)

// Follow-up delays by severity band.
const (
	followUpDelayNormal    = 24 * time.Hour
	followUpDelayElevated  = 4 * time.Hour
	followUpDelayEmergency = 1 * time.Hour
)

const severityPrompt = "On a scale of 1 to 4, how severe is it?\n\n" +
	"1️⃣ Mild\n2️⃣ Moderate\n3️⃣ Severe\n4️⃣ Very severe / emergency\n\nReply with just the number."

// StartSymptomDialog opens a new symptom assessment conversation.
func (h *Hub) StartSymptomDialog(ctx context.Context, identityKey string) error {
	h.sessions.SetDialog(identityKey, models.DialogSession{
		Type:  models.DialogTypeSymptom,
		Stage: symptomStageDescribe,
		Data:  map[string]string{},
	})
	h.send(ctx, identityKey, "I'm sorry to hear you're not feeling well. What symptom are you experiencing?")
	return nil
}

// HandleSymptomDialog advances an in-progress symptom assessment.
func (h *Hub) HandleSymptomDialog(ctx context.Context, identityKey, text string) error {
	dialog := h.sessions.GetDialog(identityKey)
	if dialog == nil || dialog.Type != models.DialogTypeSymptom {
		// Missing session is a recoverable protocol violation: restart the
		// dialog from its entry point.
		slog.Warn("Symptom continuation without session, restarting", "identity", identityKey)
		return h.StartSymptomDialog(ctx, identityKey)
	}

	switch dialog.Stage {
	case symptomStageDescribe:
		if dialog.Data == nil {
			dialog.Data = map[string]string{}
		}
		dialog.Data["symptom"] = text
		dialog.Stage = symptomStageSeverity
		h.sessions.SetDialog(identityKey, *dialog)
		h.send(ctx, identityKey, severityPrompt)
		return nil

	case symptomStageSeverity:
		severity, ok := parseSeverity(text)
		if !ok {
			h.send(ctx, identityKey, "Please reply with a number from 1 to 4.\n\n"+severityPrompt)
			return nil
		}
		return h.completeAssessment(ctx, identityKey, dialog.Data["symptom"], severity)

	default:
		slog.Warn("Symptom dialog at unknown stage, restarting", "identity", identityKey, "stage", dialog.Stage)
		return h.StartSymptomDialog(ctx, identityKey)
	}
}

// completeAssessment persists the assessment, schedules its follow-up, and
// closes the dialog. Severity 4 is treated as an emergency.
func (h *Hub) completeAssessment(ctx context.Context, identityKey, symptom string, severity int) error {
	emergency := severity >= 4
	assessment := models.SymptomAssessment{
		ID:         uuid.NewString(),
		Identity:   identityKey,
		Symptom:    symptom,
		Severity:   severity,
		Emergency:  emergency,
		Active:     true,
		FollowUpAt: time.Now().Add(followUpDelay(severity)),
	}
	if h.gen != nil {
		summary, genErr := h.gen.GeneratePrompt(ctx,
			"You are a health assistant writing a one-sentence clinical note about a reported symptom. "+
				"Be factual; do not diagnose or invent details.",
			fmt.Sprintf("Symptom: %s. Severity: %d of 4.", symptom, severity))
		if genErr != nil {
			slog.Warn("Assessment summarization failed", "error", genErr, "identity", identityKey)
		} else {
			assessment.Summary = summary
		}
	}
	if err := h.store.SaveAssessment(assessment); err != nil {
		return fmt.Errorf("failed to save assessment: %w", err)
	}
	h.sessions.DeleteDialog(identityKey)

	slog.Info("Symptom assessment recorded", "identity", identityKey,
		"assessment_id", assessment.ID, "severity", severity, "emergency", emergency)

	if emergency {
		h.send(ctx, identityKey,
			"That sounds serious. Please contact your doctor or emergency services right away. "+
				"I'll check back with you in an hour.")
		return nil
	}
	h.send(ctx, identityKey, fmt.Sprintf(
		"Thanks, I've noted your %s (severity %d/4). I'll check in later to see how you're doing. "+
			"If it gets worse in the meantime, just tell me.", symptom, severity))
	return nil
}

// StartFollowUp opens a follow-up conversation for a due assessment. The
// scheduler calls this when FollowUpAt passes.
func (h *Hub) StartFollowUp(ctx context.Context, assessment models.SymptomAssessment) error {
	h.sessions.SetDialog(assessment.Identity, models.DialogSession{
		Type:         models.DialogTypeFollowUp,
		Stage:        symptomStageSeverity,
		AssessmentID: assessment.ID,
		Emergency:    assessment.Emergency,
	})
	h.send(ctx, assessment.Identity, fmt.Sprintf(
		"Checking in about your %s. How is it now?\n\n%s", assessment.Symptom, severityPrompt))
	return nil
}

// HandleFollowUpDialog processes the severity reply of a follow-up.
func (h *Hub) HandleFollowUpDialog(ctx context.Context, identityKey, text string) error {
	dialog := h.sessions.GetDialog(identityKey)
	if dialog == nil || dialog.Type != models.DialogTypeFollowUp {
		slog.Warn("Follow-up continuation without session", "identity", identityKey)
		h.send(ctx, identityKey, "I lost track of which symptom we were following up on. How are you feeling overall?")
		return nil
	}

	severity, ok := parseSeverity(text)
	if !ok {
		h.send(ctx, identityKey, "Please reply with a number from 1 to 4.\n\n"+severityPrompt)
		return nil
	}
	return h.recordFollowUp(ctx, identityKey, dialog.AssessmentID, severity)
}

// HandleDirectFollowUp attempts to interpret a bare severity digit as a
// reply to an active assessment without an open dialog session. The boolean
// reports whether an active assessment was found.
func (h *Hub) HandleDirectFollowUp(ctx context.Context, identityKey, text string) (bool, error) {
	severity, ok := parseSeverity(text)
	if !ok {
		return false, nil
	}
	assessments, err := h.store.ActiveSymptomAssessments(identityKey)
	if err != nil {
		return false, fmt.Errorf("failed to query active assessments: %w", err)
	}
	if len(assessments) == 0 {
		return false, nil
	}
	// Most recent assessment wins when several are active.
	latest := assessments[0]
	for _, a := range assessments[1:] {
		if a.CreatedAt.After(latest.CreatedAt) {
			latest = a
		}
	}
	return true, h.recordFollowUp(ctx, identityKey, latest.ID, severity)
}

// recordFollowUp applies a follow-up severity: improvement closes the
// assessment, anything else keeps it active with a rescheduled follow-up.
func (h *Hub) recordFollowUp(ctx context.Context, identityKey, assessmentID string, severity int) error {
	h.sessions.DeleteDialog(identityKey)

	if severity <= 2 {
		if assessmentID != "" {
			if err := h.store.CloseAssessment(assessmentID); err != nil {
				slog.Warn("Failed to close assessment", "error", err, "assessment_id", assessmentID)
			}
		}
		slog.Info("Follow-up resolved, assessment closed", "identity", identityKey, "assessment_id", assessmentID)
		h.send(ctx, identityKey, "Glad to hear you're doing better! I'll stop checking in about this one.")
		return nil
	}

	assessments, err := h.store.ActiveSymptomAssessments(identityKey)
	if err == nil {
		for _, a := range assessments {
			if a.ID == assessmentID {
				a.Severity = severity
				a.Emergency = severity >= 4
				a.FollowUpAt = time.Now().Add(followUpDelay(severity))
				if err := h.store.SaveAssessment(a); err != nil {
					slog.Warn("Failed to update assessment", "error", err, "assessment_id", assessmentID)
				}
				break
			}
		}
	}

	if severity >= 4 {
		h.send(ctx, identityKey,
			"That sounds serious. Please contact your doctor or emergency services right away. "+
				"I'll check back with you in an hour.")
		return nil
	}
	h.send(ctx, identityKey, "Sorry it's not better yet. I'll check in again later. "+
		"If it gets worse, please reach out to your doctor.")
	return nil
}

func followUpDelay(severity int) time.Duration {
	switch {
	case severity >= 4:
		return followUpDelayEmergency
	case severity == 3:
		return followUpDelayElevated
	default:
		return followUpDelayNormal
	}
}

func parseSeverity(text string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || n < 1 || n > 4 {
		return 0, false
	}
	return n, true
}
