// Package dispatch implements the top-level per-message decision sequence:
// pending disambiguation first, then conflict detection and resolution, then
// a fixed-priority cascade of dialog continuations, stateless commands, and
// finally the open-domain fallback. Exactly one stage handles each message.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/BTreeMap/CareLoop/internal/conversation"
	"github.com/BTreeMap/CareLoop/internal/identity"
	"github.com/BTreeMap/CareLoop/internal/messaging"
	"github.com/BTreeMap/CareLoop/internal/models"
	"github.com/BTreeMap/CareLoop/internal/session"
)

// User-facing fallback copy.
const (
	apologyMessage    = "Sorry, something went wrong on our side. Please try again in a moment."
	deferredNoticeFmt = "Noted. Your %s reminder was set aside while we finished the check-in. Reply 'taken' or 'missed' when you get the chance."
)

// DialogHandlers is the capability surface the router dispatches into, one
// entry point per dialog kind. Replay after disambiguation passes the
// original stored message text as the text argument.
type DialogHandlers interface {
	// HandleMedicationResponse records a taken/missed reply to a reminder.
	HandleMedicationResponse(ctx context.Context, identityKey string, affirmative bool, reminder *models.Reminder) error

	// HandleSymptomDialog continues an in-progress symptom assessment.
	HandleSymptomDialog(ctx context.Context, identityKey, text string) error

	// HandleFollowUpDialog continues an in-progress symptom follow-up.
	HandleFollowUpDialog(ctx context.Context, identityKey, text string) error

	// HandleMenu continues menu navigation at the given stage.
	HandleMenu(ctx context.Context, identityKey, text, stage string) error

	// HandleAccountCreation advances the onboarding wizard.
	HandleAccountCreation(ctx context.Context, identityKey, text string) error

	// HandleMedicationWizard advances the medication add/update/delete wizard.
	HandleMedicationWizard(ctx context.Context, identityKey, text string) error

	// HandleCheckIn attempts to interpret text as a check-in reply. The
	// boolean reports whether the check-in processor accepted the message.
	HandleCheckIn(ctx context.Context, identityKey, text string) (bool, error)

	// HandleDirectFollowUp attempts a direct numeric severity reply against
	// an active assessment. The boolean reports whether one was found.
	HandleDirectFollowUp(ctx context.Context, identityKey, text string) (bool, error)

	// StartAccountCreation begins onboarding for an unknown identity.
	StartAccountCreation(ctx context.Context, identityKey, profileName string) error

	// HandleCommand matches stateless commands (proxy queries, greetings,
	// menu and feature keywords). The boolean reports whether one matched.
	HandleCommand(ctx context.Context, identityKey, text string) (bool, error)

	// HandleAIFallback answers anything no other stage claimed.
	HandleAIFallback(ctx context.Context, identityKey, text string) error
}

// Records is the narrow persistence view the router needs for its own
// defensive re-checks and for bookkeeping around deferred conversations.
type Records interface {
	GetUser(identityKey string) (*models.User, error)
	LatestUnrespondedReminder(identityKey string) (*models.Reminder, error)
	ActiveCheckIn(identityKey string) (*models.CheckIn, error)
	SetCheckInConflict(identityKey string, pending bool) error
	MarkReminderSkipped(id string, reason string) error
}

// Router routes one inbound message to exactly one dialog handler or one
// disambiguation prompt.
type Router struct {
	sessions session.Store
	detector *conversation.Detector
	records  Records
	msgs     messaging.Service
	handlers DialogHandlers
}

// NewRouter wires the router over its collaborators.
func NewRouter(sessions session.Store, detector *conversation.Detector, records Records, msgs messaging.Service, handlers DialogHandlers) *Router {
	return &Router{
		sessions: sessions,
		detector: detector,
		records:  records,
		msgs:     msgs,
		handlers: handlers,
	}
}

// Dispatch processes one inbound message end to end. Any panic below the
// router boundary is recovered, logged, and answered with a generic apology;
// disambiguation sessions are only ever written on a success path, so an
// error cannot leave one dangling.
func (r *Router) Dispatch(ctx context.Context, resp models.Response) {
	key := identity.Normalize(resp.From)
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("Router recovered from panic", "panic", rec, "identity", key)
			r.send(ctx, key, apologyMessage)
		}
	}()

	text := strings.TrimSpace(resp.Body)
	if text == "" {
		slog.Debug("Router ignoring empty message", "identity", key)
		return
	}

	if err := r.dispatch(ctx, key, resp.From, text, resp.ProfileName); err != nil {
		slog.Error("Router dispatch failed", "error", err, "identity", key)
		r.send(ctx, key, apologyMessage)
	}
}

// dispatch runs the staged decision sequence. First applicable stage wins.
func (r *Router) dispatch(ctx context.Context, key, raw, text, profileName string) error {
	// Stage 1: a pending disambiguation owns the next message outright.
	if pending := r.pendingDisambiguation(raw); pending != nil {
		return r.resolvePending(ctx, key, raw, text, pending)
	}

	// Stage 2: full conflict detection and resolution.
	result, err := r.detector.Detect(ctx, raw)
	if err != nil {
		return fmt.Errorf("conflict detection: %w", err)
	}
	resolution := conversation.Resolve(text, result)
	if resolution.NeedsDisambiguation {
		pending := conversation.NewPendingSession(text, resolution)
		r.sessions.SetDialog(key, pending)
		slog.Info("Router deferred to disambiguation",
			"identity", key, "conflict_type", resolution.ConflictType, "options", len(resolution.Options))
		return r.send(ctx, key, conversation.Prompt(resolution.Options))
	}

	// Stage 3: medication vocabulary fast path, with a defensive re-query
	// independent of stage 2 to close the race between detection and
	// dispatch. A simultaneously active check-in that stage 2 did not
	// already attribute forces a narrow two-option choice.
	if conversation.IsMedicationVocabulary(text) {
		reminder, err := r.records.LatestUnrespondedReminder(key)
		if err != nil {
			slog.Warn("Router reminder re-check failed", "error", err, "identity", key)
		} else if reminder != nil {
			checkInResolved := resolution.Target != nil && resolution.Target.Kind == models.KindCheckInResponse
			if !checkInResolved {
				if conflicted, err := r.reminderCheckInConflict(ctx, key, text, reminder); err != nil {
					return err
				} else if conflicted {
					return nil
				}
			}
			r.deleteDialogVariants(raw)
			return r.handlers.HandleMedicationResponse(ctx, key, conversation.IsAffirmativeResponse(text), reminder)
		}
	}

	// Stage 4: active-session continuation cascade, fixed order.
	if handled, err := r.continueSessions(ctx, key, raw, text); handled || err != nil {
		return err
	}

	// Stage 5: check-in probe, only when no session of any kind exists.
	if !r.hasAnySession(raw) {
		if accepted, err := r.probeCheckIn(ctx, key, text); accepted {
			return err
		}
	}

	// Stage 6: direct numeric follow-up probe.
	if isSeverityDigit(text) && !r.hasTypedStagedDialog(raw) {
		handled, err := r.handlers.HandleDirectFollowUp(ctx, key, text)
		if err != nil {
			slog.Warn("Router follow-up probe failed", "error", err, "identity", key)
		} else if handled {
			return nil
		}
	}

	// Stage 7: identity existence gate.
	user, err := r.records.GetUser(key)
	if err != nil {
		slog.Warn("Router user lookup failed", "error", err, "identity", key)
	}
	if user == nil && err == nil {
		slog.Info("Router routing unknown identity to onboarding", "identity", key)
		return r.handlers.StartAccountCreation(ctx, key, profileName)
	}

	// Stage 8: stateless command matching.
	if handled, err := r.handlers.HandleCommand(ctx, key, text); err != nil {
		slog.Warn("Router command matching failed", "error", err, "identity", key)
	} else if handled {
		return nil
	}

	// Stage 9: open-domain fallback.
	return r.handlers.HandleAIFallback(ctx, key, text)
}

// reminderCheckInConflict checks for an active check-in competing with the
// reminder. When both are live it persists a narrow reminder-vs-check-in
// disambiguation, marks the check-in conflicted, and sends the prompt. The
// boolean reports whether a disambiguation was issued.
func (r *Router) reminderCheckInConflict(ctx context.Context, key, text string, reminder *models.Reminder) (bool, error) {
	checkIn, err := r.records.ActiveCheckIn(key)
	if err != nil {
		slog.Warn("Router check-in re-check failed", "error", err, "identity", key)
		return false, nil
	}
	if checkIn == nil || !checkIn.Active {
		return false, nil
	}

	options := []models.ActiveConversation{
		{
			Kind:        models.KindMedicationReminder,
			Priority:    models.KindMedicationReminder.Priority(),
			Description: fmt.Sprintf("Medication reminder (%s)", reminder.Medicine),
			Reminder:    reminder,
		},
		{
			Kind:        models.KindCheckInResponse,
			Priority:    models.KindCheckInResponse.Priority(),
			Description: "Check-in conversation",
			CheckInID:   checkIn.ID,
		},
	}
	pending := conversation.NewPendingSession(text, conversation.Resolution{
		NeedsDisambiguation: true,
		ConflictType:        conversation.ConflictTypeGeneral,
		Options:             options,
	})
	r.sessions.SetDialog(key, pending)
	if err := r.records.SetCheckInConflict(key, true); err != nil {
		slog.Warn("Router failed to mark check-in conflict", "error", err, "identity", key)
	}
	slog.Info("Router issued reminder/check-in disambiguation", "identity", key, "reminder_id", reminder.ID)
	return true, r.send(ctx, key, conversation.Prompt(options))
}

// resolvePending interprets the message strictly as a 1-based index into the
// stored options. Invalid input re-prompts with the session unchanged; a
// valid index deletes the session under both identity representations and
// replays the original text into the chosen dialog.
func (r *Router) resolvePending(ctx context.Context, key, raw, text string, pending *models.DialogSession) error {
	idx, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || idx < 1 || idx > len(pending.Options) {
		slog.Debug("Router re-prompting invalid disambiguation reply",
			"identity", key, "reply", text, "options", len(pending.Options))
		return r.send(ctx, key, conversation.Prompt(pending.Options))
	}

	chosen := pending.Options[idx-1]
	r.deleteDialogVariants(raw)
	slog.Info("Router resolved disambiguation",
		"identity", key, "choice", idx, "kind", chosen.Kind)
	return r.Redispatch(ctx, key, pending.OriginalText, chosen, pending.Options)
}

// Redispatch replays overrideText into the dialog handler implied by the
// chosen conversation's kind. It carries the full option list so deferred
// conversations (a reminder set aside in favor of a check-in) get their
// bookkeeping and notification.
func (r *Router) Redispatch(ctx context.Context, key, overrideText string, chosen models.ActiveConversation, options []models.ActiveConversation) error {
	switch chosen.Kind {
	case models.KindMedicationReminder:
		// Choosing the reminder abandons the check-in conflict marker.
		if findOptionKind(options, models.KindCheckInResponse) != nil {
			if err := r.records.SetCheckInConflict(key, false); err != nil {
				slog.Warn("Router failed to clear check-in conflict", "error", err, "identity", key)
			}
		}
		return r.handlers.HandleMedicationResponse(ctx, key, conversation.IsAffirmativeResponse(overrideText), chosen.Reminder)

	case models.KindCheckInResponse:
		accepted, err := r.handlers.HandleCheckIn(ctx, key, overrideText)
		if err != nil {
			return err
		}
		if !accepted {
			return nil
		}
		// The reminder the user passed over is skipped, with a nudge to
		// answer it separately.
		if deferred := findOptionKind(options, models.KindMedicationReminder); deferred != nil && deferred.Reminder != nil {
			if err := r.records.MarkReminderSkipped(deferred.Reminder.ID, "conflict"); err != nil {
				slog.Warn("Router failed to skip deferred reminder", "error", err, "id", deferred.Reminder.ID)
			}
			return r.send(ctx, key, fmt.Sprintf(deferredNoticeFmt, deferred.Reminder.Medicine))
		}
		return nil

	case models.KindSymptomEmergency, models.KindSymptomAssessment:
		// A stored assessment without a live dialog takes the replayed text
		// as a direct severity reply; otherwise the dialog continues.
		if handled, err := r.handlers.HandleDirectFollowUp(ctx, key, overrideText); err != nil {
			slog.Warn("Router direct follow-up replay failed", "error", err, "identity", key)
		} else if handled {
			return nil
		}
		return r.handlers.HandleSymptomDialog(ctx, key, overrideText)

	case models.KindMedicationManagement:
		return r.handlers.HandleMedicationWizard(ctx, key, overrideText)

	case models.KindAccountCreation:
		return r.handlers.HandleAccountCreation(ctx, key, overrideText)

	case models.KindMenuNavigation:
		return r.handlers.HandleMenu(ctx, key, overrideText, models.StageMainMenu)

	default:
		return r.handlers.HandleAIFallback(ctx, key, overrideText)
	}
}

// continueSessions runs the fixed-order continuation cascade over the live
// sessions. The boolean reports whether a continuation claimed the message.
func (r *Router) continueSessions(ctx context.Context, key, raw, text string) (bool, error) {
	if acct := r.getAccountVariants(raw); acct != nil {
		return true, r.handlers.HandleAccountCreation(ctx, key, text)
	}

	if wizard := r.getWizardVariants(raw); wizard != nil {
		return true, r.handlers.HandleMedicationWizard(ctx, key, text)
	}

	dialog := r.getDialogVariants(raw)
	if dialog == nil {
		return false, nil
	}
	switch {
	case dialog.Type == models.DialogTypeSymptom:
		return true, r.handlers.HandleSymptomDialog(ctx, key, text)
	case dialog.Type == models.DialogTypeFollowUp:
		return true, r.handlers.HandleFollowUpDialog(ctx, key, text)
	case dialog.Stage == models.StageMainMenu,
		dialog.Stage == models.StageMedicationMenu,
		dialog.Stage == models.StageMedicationInfoSelection:
		return true, r.handlers.HandleMenu(ctx, key, text, dialog.Stage)
	}
	return false, nil
}

// probeCheckIn attempts check-in interpretation; a transient failure falls
// through to the later stages instead of aborting the message.
func (r *Router) probeCheckIn(ctx context.Context, key, text string) (bool, error) {
	checkIn, err := r.records.ActiveCheckIn(key)
	if err != nil {
		slog.Warn("Router check-in probe lookup failed", "error", err, "identity", key)
		return false, nil
	}
	if checkIn == nil || !checkIn.Active {
		return false, nil
	}
	accepted, err := r.handlers.HandleCheckIn(ctx, key, text)
	if err != nil {
		slog.Warn("Router check-in probe failed", "error", err, "identity", key)
		return false, nil
	}
	return accepted, nil
}

func (r *Router) pendingDisambiguation(raw string) *models.DialogSession {
	if s := r.getDialogVariants(raw); s != nil && s.Type == models.DialogTypeDisambiguation {
		return s
	}
	return nil
}

func (r *Router) hasAnySession(raw string) bool {
	return r.getAccountVariants(raw) != nil ||
		r.getDialogVariants(raw) != nil ||
		r.getWizardVariants(raw) != nil
}

// hasTypedStagedDialog reports whether a general dialog carries both a type
// and a stage, which blocks the direct follow-up shortcut.
func (r *Router) hasTypedStagedDialog(raw string) bool {
	s := r.getDialogVariants(raw)
	return s != nil && s.Type != "" && s.Stage != ""
}

// Session reads tolerate callers holding the raw identity; writes always use
// the normalized key, deletes cover both representations.

func (r *Router) getAccountVariants(raw string) *models.AccountCreationSession {
	for _, key := range identity.Variants(raw) {
		if s := r.sessions.GetAccountCreation(key); s != nil {
			return s
		}
	}
	return nil
}

func (r *Router) getDialogVariants(raw string) *models.DialogSession {
	for _, key := range identity.Variants(raw) {
		if s := r.sessions.GetDialog(key); s != nil {
			return s
		}
	}
	return nil
}

func (r *Router) getWizardVariants(raw string) *models.MedicationWizardSession {
	for _, key := range identity.Variants(raw) {
		if s := r.sessions.GetMedicationWizard(key); s != nil {
			return s
		}
	}
	return nil
}

func (r *Router) deleteDialogVariants(raw string) {
	for _, key := range identity.Variants(raw) {
		r.sessions.DeleteDialog(key)
	}
}

func (r *Router) send(ctx context.Context, to, body string) error {
	if err := r.msgs.SendMessage(ctx, to, body); err != nil {
		slog.Error("Router failed to send reply", "error", err, "to", to)
		return err
	}
	return nil
}

// isSeverityDigit reports whether text is exactly "1" through "4".
func isSeverityDigit(text string) bool {
	switch strings.TrimSpace(text) {
	case "1", "2", "3", "4":
		return true
	}
	return false
}

func findOptionKind(options []models.ActiveConversation, kind models.ConversationKind) *models.ActiveConversation {
	for i := range options {
		if options[i].Kind == kind {
			return &options[i]
		}
	}
	return nil
}
