package conversation

import (
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/BTreeMap/CareLoop/internal/models"
)

// Conflict types carried by a pending disambiguation session.
const (
	ConflictTypeMenuVsSymptom = "menu_vs_symptom"
	ConflictTypeGeneral       = "general"
)

// Resolution is the resolver's decision for one inbound message.
type Resolution struct {
	NeedsDisambiguation bool
	// Target is set when the message was auto-attributed to one dialog.
	Target *models.ActiveConversation
	// ConflictType and Options are set when an explicit choice is needed.
	ConflictType string
	Options      []models.ActiveConversation
}

// medicationVocabulary is the fixed set of message texts that signal a
// medication reminder response. Medication responses are unambiguous by
// convention and carry the highest priority.
var medicationVocabulary = map[string]bool{
	"yes":    true,
	"no":     true,
	"taken":  true,
	"missed": true,
}

// IsMedicationVocabulary reports whether text is exactly one of the fixed
// medication response words, case-insensitively.
func IsMedicationVocabulary(text string) bool {
	return medicationVocabulary[strings.ToLower(strings.TrimSpace(text))]
}

// IsAffirmativeResponse maps a medication vocabulary word to taken/missed.
func IsAffirmativeResponse(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "yes", "taken":
		return true
	}
	return false
}

// IsNumeric reports whether text consists purely of digits.
func IsNumeric(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	for _, r := range text {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// Resolve applies the fast-path heuristics in fixed order, first match wins:
//
//  1. no conflict: pass through the single (or zero) active conversation;
//  2. medication vocabulary with an active reminder: resolve directly;
//  3. numeric input with exactly a menu and a symptom dialog active: narrow
//     two-option disambiguation;
//  4. anything else still conflicted: general disambiguation over all
//     active conversations.
func Resolve(messageText string, result Result) Resolution {
	if !result.HasConflict {
		var target *models.ActiveConversation
		if len(result.Active) == 1 {
			target = &result.Active[0]
		}
		return Resolution{Target: target}
	}

	if IsMedicationVocabulary(messageText) {
		if reminder := findKind(result.Active, models.KindMedicationReminder); reminder != nil {
			slog.Debug("Resolver fast path matched medication vocabulary", "text", messageText)
			return Resolution{Target: reminder}
		}
	}

	menu := findKind(result.Active, models.KindMenuNavigation)
	symptom := findKind(result.Active, models.KindSymptomAssessment)
	if IsNumeric(messageText) && menu != nil && symptom != nil && len(result.Active) == 2 {
		return Resolution{
			NeedsDisambiguation: true,
			ConflictType:        ConflictTypeMenuVsSymptom,
			Options:             []models.ActiveConversation{*menu, *symptom},
		}
	}

	return Resolution{
		NeedsDisambiguation: true,
		ConflictType:        ConflictTypeGeneral,
		Options:             result.Active,
	}
}

// NewPendingSession builds the disambiguation dialog session that captures
// the options and the original message text for replay once resolved.
// Writing it supersedes any prior general dialog state for the identity.
func NewPendingSession(messageText string, res Resolution) models.DialogSession {
	return models.DialogSession{
		Type:         models.DialogTypeDisambiguation,
		ConflictType: res.ConflictType,
		Options:      res.Options,
		OriginalText: messageText,
		CreatedAt:    time.Now(),
	}
}

// Prompt renders the numbered choice list presented to the user. Options
// are 1-based and answered with a bare numeric reply.
func Prompt(options []models.ActiveConversation) string {
	var b strings.Builder
	b.WriteString("You have more than one conversation going. Which one is this reply for?\n\n")
	for i, opt := range options {
		fmt.Fprintf(&b, "%d️⃣ %s\n", i+1, opt.Description)
	}
	b.WriteString("\nReply with just the number.")
	return b.String()
}

func findKind(active []models.ActiveConversation, kind models.ConversationKind) *models.ActiveConversation {
	for i := range active {
		if active[i].Kind == kind {
			return &active[i]
		}
	}
	return nil
}
