// Package store provides storage backends for CareLoop.
//
// It includes an in-memory store for tests, plus SQLite and PostgreSQL
// backends selected by DSN. The store also serves as the read-only lookup
// surface consumed by the conversation conflict detector.
package store

import (
	"strings"
	"time"

	"github.com/BTreeMap/CareLoop/internal/models"
)

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
	// ReminderFreshness bounds how old an unresponded reminder may be and
	// still count as awaiting a response.
	ReminderFreshness time.Duration
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN configures a SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN configures a PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithReminderFreshness overrides the reminder freshness window.
func WithReminderFreshness(d time.Duration) Option {
	return func(o *Opts) { o.ReminderFreshness = d }
}

// DetectDSNType reports "postgres" for PostgreSQL-shaped DSNs and "sqlite"
// for anything else (treated as a file path).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// Store is the persistence contract shared by all backends.
type Store interface {
	// Users
	SaveUser(u models.User) error
	GetUser(identity string) (*models.User, error)
	GetUserByName(name string) (*models.User, error)
	ListUsers() ([]models.User, error)

	// Medications
	SaveMedication(m models.Medication) error
	GetMedications(identity string) ([]models.Medication, error)
	DeleteMedication(id string) error

	// Reminders
	AddReminder(r models.Reminder) error
	LatestUnrespondedReminder(identity string) (*models.Reminder, error)
	MarkReminderResponded(id string, status models.ReminderStatus) error
	MarkReminderSkipped(id string, reason string) error

	// Symptom assessments
	SaveAssessment(a models.SymptomAssessment) error
	ActiveSymptomAssessments(identity string) ([]models.SymptomAssessment, error)
	DueFollowUps(now time.Time) ([]models.SymptomAssessment, error)
	CloseAssessment(id string) error

	// Check-ins
	SaveCheckIn(c models.CheckIn) error
	ActiveCheckIn(identity string) (*models.CheckIn, error)
	SetCheckInConflict(identity string, pending bool) error
	CloseCheckIn(id string) error

	// Intake log
	AddIntake(i models.MedicationIntake) error
	GetIntakes(identity string) ([]models.MedicationIntake, error)

	Close() error
}
