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

// Check-in conversation states.
const (
	checkInStateInitial       = "initial"
	checkInStateAwaitingScore = "awaiting_score"
)

// StartCheckIn opens a scheduled wellness check-in conversation. The
// scheduler calls this once per user per day.
func (h *Hub) StartCheckIn(ctx context.Context, identityKey string) error {
	if existing, err := h.store.ActiveCheckIn(identityKey); err == nil && existing != nil && existing.Active {
		slog.Debug("Check-in already active, skipping", "identity", identityKey)
		return nil
	}

	checkIn := models.CheckIn{
		ID:                uuid.NewString(),
		Identity:          identityKey,
		ConversationState: checkInStateInitial,
		Active:            true,
		CreatedAt:         time.Now(),
	}
	if err := h.store.SaveCheckIn(checkIn); err != nil {
		return fmt.Errorf("failed to save check-in: %w", err)
	}

	slog.Info("Check-in started", "identity", identityKey, "check_in_id", checkIn.ID)
	h.send(ctx, identityKey, "Hi! Just checking in. How are you feeling today?")
	return nil
}

// HandleCheckIn attempts to interpret text as a reply to the active
// check-in. The boolean reports whether the message was accepted; a message
// the check-in cannot interpret is left for the later dispatch stages.
func (h *Hub) HandleCheckIn(ctx context.Context, identityKey, text string) (bool, error) {
	checkIn, err := h.store.ActiveCheckIn(identityKey)
	if err != nil {
		return false, fmt.Errorf("failed to load check-in: %w", err)
	}
	if checkIn == nil || !checkIn.Active {
		return false, nil
	}

	switch checkIn.ConversationState {
	case checkInStateInitial:
		// Free-text opener: acknowledge and ask for a score.
		checkIn.ConversationState = checkInStateAwaitingScore
		if err := h.store.SaveCheckIn(*checkIn); err != nil {
			return false, fmt.Errorf("failed to advance check-in: %w", err)
		}
		h.send(ctx, identityKey,
			"Thanks for sharing. On a scale of 1 to 5, how would you rate how you feel overall? (5 = great)")
		return true, nil

	case checkInStateAwaitingScore:
		score, convErr := strconv.Atoi(strings.TrimSpace(text))
		if convErr != nil || score < 1 || score > 5 {
			// Not a score; leave the message for the other stages.
			return false, nil
		}
		checkIn.Score = score
		checkIn.Active = false
		checkIn.ConflictPending = false
		if err := h.store.SaveCheckIn(*checkIn); err != nil {
			return false, fmt.Errorf("failed to close check-in: %w", err)
		}
		slog.Info("Check-in completed", "identity", identityKey, "check_in_id", checkIn.ID, "score", score)
		if score <= 2 {
			h.send(ctx, identityKey,
				"Sorry to hear that. If something specific is bothering you, tell me about the symptom and I can track it.")
		} else {
			h.send(ctx, identityKey, "Glad to hear it! Talk to you tomorrow. 👋")
		}
		return true, nil

	default:
		slog.Warn("Check-in in unknown state, closing", "identity", identityKey,
			"check_in_id", checkIn.ID, "state", checkIn.ConversationState)
		if err := h.store.CloseCheckIn(checkIn.ID); err != nil {
			slog.Warn("Failed to close inconsistent check-in", "error", err, "check_in_id", checkIn.ID)
		}
		return false, nil
	}
}
