// Package models defines the core data structures for CareLoop.
//
// It includes the conversation-kind taxonomy used for conflict priority
// ranking, the per-identity session types, and the records exchanged with
// the persistence and messaging layers.
package models

import (
	"errors"
	"time"
)

// ConversationKind names one of the mutually exclusive dialog categories a
// message can belong to. Kinds are ranked by a fixed total priority order.
type ConversationKind string

const (
	// KindMedicationReminder is a pending response to a medication reminder.
	KindMedicationReminder ConversationKind = "medication_reminder"
	// KindSymptomEmergency is a symptom dialog flagged as an emergency.
	KindSymptomEmergency ConversationKind = "symptom_emergency"
	// KindCheckInResponse is a reply to a scheduled wellness check-in.
	KindCheckInResponse ConversationKind = "check_in_response"
	// KindSymptomAssessment is an in-progress symptom assessment or follow-up.
	KindSymptomAssessment ConversationKind = "symptom_assessment"
	// KindMedicationManagement is an in-progress medication add/update/delete wizard.
	KindMedicationManagement ConversationKind = "medication_management"
	// KindAccountCreation is an in-progress onboarding wizard.
	KindAccountCreation ConversationKind = "account_creation"
	// KindMenuNavigation is a menu selection dialog.
	KindMenuNavigation ConversationKind = "menu_navigation"
	// KindGeneralQuery is any other open-ended dialog.
	KindGeneralQuery ConversationKind = "general_query"
)

// kindPriorities defines the fixed total priority order across kinds.
// Higher wins. Ties cannot occur because kinds are mutually exclusive.
var kindPriorities = map[ConversationKind]int{
	KindMedicationReminder:   80,
	KindSymptomEmergency:     70,
	KindCheckInResponse:      60,
	KindSymptomAssessment:    50,
	KindMedicationManagement: 40,
	KindAccountCreation:      30,
	KindMenuNavigation:       20,
	KindGeneralQuery:         10,
}

// Priority returns the fixed priority rank for the kind. Unknown kinds rank
// below every defined kind.
func (k ConversationKind) Priority() int {
	return kindPriorities[k]
}

// IsValidConversationKind checks if the given kind is part of the taxonomy.
func IsValidConversationKind(k ConversationKind) bool {
	_, ok := kindPriorities[k]
	return ok
}

// ActiveConversation is a derived record describing one concurrently active
// dialog for an identity. It is produced fresh on every inbound message and
// never persisted outside a pending disambiguation session.
type ActiveConversation struct {
	Kind        ConversationKind `json:"kind"`
	Priority    int              `json:"priority"`
	Description string           `json:"description"`
	Reminder    *Reminder        `json:"reminder,omitempty"`
	AssessmentID string          `json:"assessment_id,omitempty"`
	CheckInID    string          `json:"check_in_id,omitempty"`
}

// DialogType distinguishes the typed variants of a general dialog session.
type DialogType string

const (
	// DialogTypeSymptom marks an in-progress symptom assessment dialog.
	DialogTypeSymptom DialogType = "symptom"
	// DialogTypeFollowUp marks an in-progress symptom follow-up dialog.
	DialogTypeFollowUp DialogType = "follow_up"
	// DialogTypeDisambiguation marks a pending disambiguation question.
	DialogTypeDisambiguation DialogType = "disambiguation"
)

// Menu navigation stage markers carried by untyped dialog sessions.
// "has session" and "has typed session" are different predicates: a menu
// session has a Stage but no Type.
const (
	StageMainMenu                = "main_menu"
	StageMedicationMenu          = "medication_menu"
	StageMedicationInfoSelection = "medication_info_selection"
)

// DialogSession is the general per-identity dialog state. It exists while a
// symptom assessment, follow-up, menu navigation, or pending disambiguation
// is in progress. A disambiguation session supersedes any prior general
// dialog state for the identity.
type DialogSession struct {
	Type         DialogType           `json:"type,omitempty"`
	Stage        string               `json:"stage,omitempty"`
	AssessmentID string               `json:"assessment_id,omitempty"`
	Emergency    bool                 `json:"emergency,omitempty"`
	ConflictType string               `json:"conflict_type,omitempty"`
	Options      []ActiveConversation `json:"options,omitempty"`
	OriginalText string               `json:"original_text,omitempty"`
	Data         map[string]string    `json:"data,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// AccountStage enumerates the onboarding wizard steps.
type AccountStage string

const (
	AccountStageAskName       AccountStage = "ask_name"
	AccountStageAskTimezone   AccountStage = "ask_timezone"
	AccountStageAskRole       AccountStage = "ask_role"
	AccountStageAskDependents AccountStage = "ask_dependents"
)

// AccountCreationSession tracks an in-progress onboarding wizard.
type AccountCreationSession struct {
	Stage       AccountStage `json:"stage"`
	Name        string       `json:"name,omitempty"`
	Timezone    string       `json:"timezone,omitempty"`
	Role        UserRole     `json:"role,omitempty"`
	ParentIndex int          `json:"parent_index,omitempty"`
	Parents     []string     `json:"parents,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// WizardOp tags the medication wizard variant. Steps are matched per-op
// rather than by string prefix on a combined stage value.
type WizardOp string

const (
	WizardOpAdd    WizardOp = "add"
	WizardOpUpdate WizardOp = "update"
	WizardOpDelete WizardOp = "delete"
)

// MedicationWizardSession tracks an in-progress medication add/update/delete
// wizard as a tagged variant: the operation plus its current step.
type MedicationWizardSession struct {
	Op           WizardOp  `json:"op"`
	Step         string    `json:"step"`
	MedicationID string    `json:"medication_id,omitempty"`
	DraftName    string    `json:"draft_name,omitempty"`
	DraftDosage  string    `json:"draft_dosage,omitempty"`
	DraftTime    string    `json:"draft_time,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ReminderStatus tracks the lifecycle of a medication reminder.
type ReminderStatus string

const (
	ReminderStatusPending ReminderStatus = "pending"
	ReminderStatusTaken   ReminderStatus = "taken"
	ReminderStatusMissed  ReminderStatus = "missed"
	ReminderStatusSkipped ReminderStatus = "skipped"
)

// Reminder is a medication reminder record. An unresponded reminder within
// the freshness window counts as an active medication_reminder conversation
// with the highest fixed priority.
type Reminder struct {
	ID         string         `json:"id"`
	To         string         `json:"to"`
	Medicine   string         `json:"medicine"`
	Dosage     string         `json:"dosage,omitempty"`
	Responded  bool           `json:"responded"`
	Status     ReminderStatus `json:"status"`
	SkipReason string         `json:"skip_reason,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// DefaultReminderFreshness is the single freshness window applied wherever
// "is this reminder still awaiting a response" is asked.
const DefaultReminderFreshness = 30 * time.Minute

// UserRole distinguishes patients from caregivers issuing proxy commands.
type UserRole string

const (
	RolePatient   UserRole = "patient"
	RoleCaregiver UserRole = "caregiver"
)

// User is a registered conversation partner, keyed by normalized identity.
type User struct {
	ID         string    `json:"id"`
	Identity   string    `json:"identity"`
	Name       string    `json:"name"`
	Timezone   string    `json:"timezone,omitempty"`
	Role       UserRole  `json:"role"`
	Dependents []string  `json:"dependents,omitempty"` // identities this caregiver may query
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Medication is a scheduled medication belonging to a user.
type Medication struct {
	ID        string    `json:"id"`
	Identity  string    `json:"identity"`
	Name      string    `json:"name"`
	Dosage    string    `json:"dosage,omitempty"`
	TimeOfDay string    `json:"time_of_day,omitempty"` // "HH:MM" in the user's timezone
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SymptomAssessment records a symptom dialog and its follow-up schedule.
type SymptomAssessment struct {
	ID         string    `json:"id"`
	Identity   string    `json:"identity"`
	Symptom    string    `json:"symptom"`
	Severity   int       `json:"severity,omitempty"` // 1-4 scale
	Notes      string    `json:"notes,omitempty"`
	Summary    string    `json:"summary,omitempty"`
	Emergency  bool      `json:"emergency,omitempty"`
	Active     bool      `json:"active"`
	FollowUpAt time.Time `json:"follow_up_at,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// CheckIn is a scheduled wellness check-in conversation.
type CheckIn struct {
	ID                string    `json:"id"`
	Identity          string    `json:"identity"`
	ConversationState string    `json:"conversation_state"` // e.g. "initial"
	ConflictPending   bool      `json:"conflict_pending,omitempty"`
	Score             int       `json:"score,omitempty"`
	Active            bool      `json:"active"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// MedicationIntake logs a taken/missed response against a reminder.
type MedicationIntake struct {
	ID       string         `json:"id"`
	Identity string         `json:"identity"`
	Medicine string         `json:"medicine"`
	Status   ReminderStatus `json:"status"`
	Time     time.Time      `json:"time"`
}

// Response represents an inbound message from a conversation partner.
// Body is trimmed by the webhook boundary before any matching runs.
type Response struct {
	From        string `json:"from"`
	Body        string `json:"body"`
	ProfileName string `json:"profile_name,omitempty"`
	Time        int64  `json:"time"`
}

// MessageStatus represents the delivery status of an outbound message.
type MessageStatus string

const (
	MessageStatusSent      MessageStatus = "sent"
	MessageStatusDelivered MessageStatus = "delivered"
	MessageStatusFailed    MessageStatus = "failed"
)

// Receipt records the delivery status of an outbound message.
type Receipt struct {
	To     string        `json:"to"`
	Status MessageStatus `json:"status"`
	Time   int64         `json:"time"`
}

// Error variables for validation failures, shared for testability.
var (
	ErrEmptyRecipient   = errors.New("recipient cannot be empty")
	ErrEmptyBody        = errors.New("message body cannot be empty")
	ErrUnknownKind      = errors.New("unknown conversation kind")
	ErrNoPendingChoice  = errors.New("no pending disambiguation for identity")
	ErrChoiceOutOfRange = errors.New("disambiguation choice out of range")
)

// APIStatus represents the status of an API response.
type APIStatus string

const (
	APIStatusOK    APIStatus = "ok"
	APIStatusError APIStatus = "error"
)

// APIResponse is the standard JSON envelope for the admin endpoints.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
