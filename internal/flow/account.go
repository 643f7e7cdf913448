package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/CareLoop/internal/models"
)

// StartAccountCreation begins the onboarding wizard for an unknown identity.
func (h *Hub) StartAccountCreation(ctx context.Context, identityKey, profileName string) error {
	h.sessions.SetAccountCreation(identityKey, models.AccountCreationSession{
		Stage: models.AccountStageAskName,
	})

	greeting := "Hi! I'm CareLoop, your health companion. Before we start, let's set up your account.\n\nWhat's your name?"
	if profileName != "" {
		greeting = fmt.Sprintf(
			"Hi %s! I'm CareLoop, your health companion. Before we start, let's set up your account.\n\nWhat name should I call you?",
			profileName)
	}
	h.send(ctx, identityKey, greeting)
	return nil
}

// HandleAccountCreation advances the onboarding wizard one step.
func (h *Hub) HandleAccountCreation(ctx context.Context, identityKey, text string) error {
	acct := h.sessions.GetAccountCreation(identityKey)
	if acct == nil {
		slog.Warn("Account continuation without session, restarting", "identity", identityKey)
		return h.StartAccountCreation(ctx, identityKey, "")
	}

	switch acct.Stage {
	case models.AccountStageAskName:
		name := strings.TrimSpace(text)
		if name == "" {
			h.send(ctx, identityKey, "Please tell me your name.")
			return nil
		}
		acct.Name = name
		acct.Stage = models.AccountStageAskTimezone
		h.sessions.SetAccountCreation(identityKey, *acct)
		h.send(ctx, identityKey, fmt.Sprintf(
			"Nice to meet you, %s! What timezone are you in? (e.g. America/Toronto, or just your city)", name))
		return nil

	case models.AccountStageAskTimezone:
		acct.Timezone = strings.TrimSpace(text)
		acct.Stage = models.AccountStageAskRole
		h.sessions.SetAccountCreation(identityKey, *acct)
		h.send(ctx, identityKey, "Are you using CareLoop for yourself, or as a caregiver for someone else?\n\n"+
			"1️⃣ For myself\n2️⃣ As a caregiver\n\nReply with 1 or 2.")
		return nil

	case models.AccountStageAskRole:
		switch strings.TrimSpace(text) {
		case "1":
			acct.Role = models.RolePatient
			return h.finishAccountCreation(ctx, identityKey, acct)
		case "2":
			acct.Role = models.RoleCaregiver
			acct.Stage = models.AccountStageAskDependents
			h.sessions.SetAccountCreation(identityKey, *acct)
			h.send(ctx, identityKey,
				"Who do you care for? Send their names separated by commas (you can link their numbers later).")
			return nil
		default:
			h.send(ctx, identityKey, "Please reply with 1 (for myself) or 2 (as a caregiver).")
			return nil
		}

	case models.AccountStageAskDependents:
		for _, part := range strings.Split(text, ",") {
			if name := strings.TrimSpace(part); name != "" {
				acct.Parents = append(acct.Parents, name)
			}
		}
		if len(acct.Parents) == 0 {
			h.send(ctx, identityKey, "Please send at least one name, separated by commas.")
			return nil
		}
		return h.finishAccountCreation(ctx, identityKey, acct)

	default:
		slog.Warn("Account wizard at unknown stage, restarting", "identity", identityKey, "stage", acct.Stage)
		return h.StartAccountCreation(ctx, identityKey, "")
	}
}

// finishAccountCreation persists the profile, clears the session, and drops
// the new user into the main menu.
func (h *Hub) finishAccountCreation(ctx context.Context, identityKey string, acct *models.AccountCreationSession) error {
	user := models.User{
		ID:         uuid.NewString(),
		Identity:   identityKey,
		Name:       acct.Name,
		Timezone:   acct.Timezone,
		Role:       acct.Role,
		Dependents: acct.Parents,
		CreatedAt:  time.Now(),
	}
	if err := h.store.SaveUser(user); err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	h.sessions.DeleteAccountCreation(identityKey)

	slog.Info("Account created", "identity", identityKey, "role", user.Role, "dependents", len(user.Dependents))
	h.send(ctx, identityKey, fmt.Sprintf("You're all set, %s! 🎉", user.Name))
	return h.ShowMainMenu(ctx, identityKey)
}
