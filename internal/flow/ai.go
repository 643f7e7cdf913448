package flow

import (
	"context"
	"log/slog"
)

const aiSystemPrompt = "You are CareLoop, a friendly WhatsApp health companion. " +
	"Answer briefly and plainly. You are not a doctor: for anything medical, " +
	"remind the user to consult a healthcare professional. Never diagnose."

const aiUnavailableReply = "I'm not sure how to help with that right now. " +
	"You can type \"menu\" to see what I can do."

// HandleAIFallback answers anything no other dispatch stage claimed. A
// generation failure degrades to a canned reply, never an error to the user.
func (h *Hub) HandleAIFallback(ctx context.Context, identityKey, text string) error {
	if h.gen == nil {
		h.send(ctx, identityKey, aiUnavailableReply)
		return nil
	}

	reply, err := h.gen.GeneratePrompt(ctx, aiSystemPrompt, text)
	if err != nil {
		slog.Warn("AI fallback generation failed", "error", err, "identity", identityKey)
		h.send(ctx, identityKey, aiUnavailableReply)
		return nil
	}
	h.send(ctx, identityKey, reply)
	return nil
}
