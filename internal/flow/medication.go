package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/CareLoop/internal/models"
)

// HandleMedicationResponse records a taken/missed reply against the pending
// reminder, logs the intake, and confirms to the user.
func (h *Hub) HandleMedicationResponse(ctx context.Context, identityKey string, affirmative bool, reminder *models.Reminder) error {
	if reminder == nil {
		// Protocol violation: routed here without a live reminder. Restart
		// from the entry point instead of leaving the user hanging.
		slog.Warn("Medication response without reminder", "identity", identityKey)
		h.send(ctx, identityKey, "I don't see a pending medication reminder for you right now.")
		return nil
	}

	status := models.ReminderStatusMissed
	if affirmative {
		status = models.ReminderStatusTaken
	}

	if err := h.store.MarkReminderResponded(reminder.ID, status); err != nil {
		return fmt.Errorf("failed to mark reminder %s responded: %w", reminder.ID, err)
	}
	if err := h.store.AddIntake(models.MedicationIntake{
		ID:       uuid.NewString(),
		Identity: identityKey,
		Medicine: reminder.Medicine,
		Status:   status,
		Time:     time.Now(),
	}); err != nil {
		slog.Warn("Failed to log medication intake", "error", err, "identity", identityKey)
	}

	slog.Info("Medication reminder resolved", "identity", identityKey,
		"reminder_id", reminder.ID, "status", status)

	if affirmative {
		h.send(ctx, identityKey, fmt.Sprintf("Great, I've recorded that you took your %s. 💊", reminder.Medicine))
	} else {
		h.send(ctx, identityKey, fmt.Sprintf(
			"Okay, I've noted that you missed your %s. If this keeps happening, consider talking to your doctor about the schedule.",
			reminder.Medicine))
	}
	return nil
}
