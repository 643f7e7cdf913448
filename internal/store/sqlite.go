// Package store provides storage backends for CareLoop.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "embed"

	"github.com/BTreeMap/CareLoop/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore is a Store backed by a SQLite database file.
type SQLiteStore struct {
	db        *sql.DB
	freshness time.Duration
}

// NewSQLiteStore creates a new SQLite store with the given DSN (a file
// path). The containing directory is created if missing.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	cfg := Opts{ReminderFreshness: models.DefaultReminderFreshness}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(cfg.DSN)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run SQLite migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db, freshness: cfg.ReminderFreshness}, nil
}

func (s *SQLiteStore) SaveUser(u models.User) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO users (id, identity, name, timezone, role, dependents, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		u.ID, u.Identity, u.Name, u.Timezone, string(u.Role), strings.Join(u.Dependents, ","), u.CreatedAt, u.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveUser failed", "error", err, "identity", u.Identity)
		return fmt.Errorf("failed to save user %s: %w", u.Identity, err)
	}
	return nil
}

func (s *SQLiteStore) GetUser(identity string) (*models.User, error) {
	row := s.db.QueryRow(`SELECT id, identity, name, timezone, role, dependents, created_at, updated_at
		FROM users WHERE identity = ?`, identity)
	return scanUserRow(row)
}

func (s *SQLiteStore) GetUserByName(name string) (*models.User, error) {
	row := s.db.QueryRow(`SELECT id, identity, name, timezone, role, dependents, created_at, updated_at
		FROM users WHERE name = ? COLLATE NOCASE`, name)
	return scanUserRow(row)
}

func (s *SQLiteStore) ListUsers() ([]models.User, error) {
	rows, err := s.db.Query(`SELECT id, identity, name, timezone, role, dependents, created_at, updated_at FROM users`)
	if err != nil {
		slog.Error("SQLiteStore ListUsers query failed", "error", err)
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (s *SQLiteStore) SaveMedication(m models.Medication) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO medications (id, identity, name, dosage, time_of_day, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Identity, m.Name, m.Dosage, m.TimeOfDay, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveMedication failed", "error", err, "identity", m.Identity)
		return fmt.Errorf("failed to save medication %s: %w", m.Name, err)
	}
	return nil
}

func (s *SQLiteStore) GetMedications(identity string) ([]models.Medication, error) {
	rows, err := s.db.Query(`SELECT id, identity, name, dosage, time_of_day, created_at, updated_at
		FROM medications WHERE identity = ? ORDER BY name`, identity)
	if err != nil {
		slog.Error("SQLiteStore GetMedications query failed", "error", err, "identity", identity)
		return nil, fmt.Errorf("failed to query medications: %w", err)
	}
	defer rows.Close()

	var meds []models.Medication
	for rows.Next() {
		var m models.Medication
		var dosage, timeOfDay sql.NullString
		if err := rows.Scan(&m.ID, &m.Identity, &m.Name, &dosage, &timeOfDay, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan medication row: %w", err)
		}
		m.Dosage = dosage.String
		m.TimeOfDay = timeOfDay.String
		meds = append(meds, m)
	}
	return meds, rows.Err()
}

func (s *SQLiteStore) DeleteMedication(id string) error {
	_, err := s.db.Exec(`DELETE FROM medications WHERE id = ?`, id)
	if err != nil {
		slog.Error("SQLiteStore DeleteMedication failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete medication %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) AddReminder(r models.Reminder) error {
	_, err := s.db.Exec(`INSERT INTO reminders (id, recipient, medicine, dosage, responded, status, skip_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.To, r.Medicine, r.Dosage, r.Responded, string(r.Status), r.SkipReason, r.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore AddReminder failed", "error", err, "to", r.To)
		return fmt.Errorf("failed to insert reminder for %s: %w", r.To, err)
	}
	return nil
}

func (s *SQLiteStore) LatestUnrespondedReminder(identity string) (*models.Reminder, error) {
	cutoff := time.Now().Add(-s.freshness)
	row := s.db.QueryRow(`SELECT id, recipient, medicine, dosage, responded, status, skip_reason, created_at
		FROM reminders WHERE recipient = ? AND responded = 0 AND created_at > ?
		ORDER BY created_at DESC LIMIT 1`, identity, cutoff)

	var r models.Reminder
	var dosage, skipReason sql.NullString
	var status string
	err := row.Scan(&r.ID, &r.To, &r.Medicine, &dosage, &r.Responded, &status, &skipReason, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore LatestUnrespondedReminder failed", "error", err, "identity", identity)
		return nil, fmt.Errorf("failed to query latest reminder: %w", err)
	}
	r.Dosage = dosage.String
	r.SkipReason = skipReason.String
	r.Status = models.ReminderStatus(status)
	return &r, nil
}

func (s *SQLiteStore) MarkReminderResponded(id string, status models.ReminderStatus) error {
	_, err := s.db.Exec(`UPDATE reminders SET responded = 1, status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		slog.Error("SQLiteStore MarkReminderResponded failed", "error", err, "id", id)
		return fmt.Errorf("failed to mark reminder %s responded: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) MarkReminderSkipped(id string, reason string) error {
	_, err := s.db.Exec(`UPDATE reminders SET responded = 1, status = ?, skip_reason = ? WHERE id = ?`,
		string(models.ReminderStatusSkipped), reason, id)
	if err != nil {
		slog.Error("SQLiteStore MarkReminderSkipped failed", "error", err, "id", id)
		return fmt.Errorf("failed to mark reminder %s skipped: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) SaveAssessment(a models.SymptomAssessment) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO assessments (id, identity, symptom, severity, notes, summary, emergency, active, follow_up_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Identity, a.Symptom, a.Severity, a.Notes, a.Summary, a.Emergency, a.Active, a.FollowUpAt, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveAssessment failed", "error", err, "identity", a.Identity)
		return fmt.Errorf("failed to save assessment: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ActiveSymptomAssessments(identity string) ([]models.SymptomAssessment, error) {
	rows, err := s.db.Query(`SELECT id, identity, symptom, severity, notes, summary, emergency, active, follow_up_at, created_at, updated_at
		FROM assessments WHERE identity = ? AND active = 1`, identity)
	if err != nil {
		slog.Error("SQLiteStore ActiveSymptomAssessments query failed", "error", err, "identity", identity)
		return nil, fmt.Errorf("failed to query assessments: %w", err)
	}
	defer rows.Close()
	return scanAssessments(rows)
}

func (s *SQLiteStore) DueFollowUps(now time.Time) ([]models.SymptomAssessment, error) {
	rows, err := s.db.Query(`SELECT id, identity, symptom, severity, notes, summary, emergency, active, follow_up_at, created_at, updated_at
		FROM assessments WHERE active = 1 AND follow_up_at IS NOT NULL AND follow_up_at <= ?`, now)
	if err != nil {
		slog.Error("SQLiteStore DueFollowUps query failed", "error", err)
		return nil, fmt.Errorf("failed to query due follow-ups: %w", err)
	}
	defer rows.Close()
	return scanAssessments(rows)
}

func (s *SQLiteStore) CloseAssessment(id string) error {
	_, err := s.db.Exec(`UPDATE assessments SET active = 0, updated_at = ? WHERE id = ?`, time.Now(), id)
	if err != nil {
		slog.Error("SQLiteStore CloseAssessment failed", "error", err, "id", id)
		return fmt.Errorf("failed to close assessment %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) SaveCheckIn(c models.CheckIn) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO check_ins (id, identity, conversation_state, conflict_pending, score, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Identity, c.ConversationState, c.ConflictPending, c.Score, c.Active, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveCheckIn failed", "error", err, "identity", c.Identity)
		return fmt.Errorf("failed to save check-in: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ActiveCheckIn(identity string) (*models.CheckIn, error) {
	row := s.db.QueryRow(`SELECT id, identity, conversation_state, conflict_pending, score, active, created_at, updated_at
		FROM check_ins WHERE identity = ? AND active = 1 ORDER BY created_at DESC LIMIT 1`, identity)

	var c models.CheckIn
	var score sql.NullInt64
	err := row.Scan(&c.ID, &c.Identity, &c.ConversationState, &c.ConflictPending, &score, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore ActiveCheckIn failed", "error", err, "identity", identity)
		return nil, fmt.Errorf("failed to query active check-in: %w", err)
	}
	c.Score = int(score.Int64)
	return &c, nil
}

func (s *SQLiteStore) SetCheckInConflict(identity string, pending bool) error {
	_, err := s.db.Exec(`UPDATE check_ins SET conflict_pending = ?, updated_at = ? WHERE identity = ? AND active = 1`,
		pending, time.Now(), identity)
	if err != nil {
		slog.Error("SQLiteStore SetCheckInConflict failed", "error", err, "identity", identity)
		return fmt.Errorf("failed to set check-in conflict marker: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CloseCheckIn(id string) error {
	_, err := s.db.Exec(`UPDATE check_ins SET active = 0, updated_at = ? WHERE id = ?`, time.Now(), id)
	if err != nil {
		slog.Error("SQLiteStore CloseCheckIn failed", "error", err, "id", id)
		return fmt.Errorf("failed to close check-in %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) AddIntake(i models.MedicationIntake) error {
	_, err := s.db.Exec(`INSERT INTO intakes (id, identity, medicine, status, time) VALUES (?, ?, ?, ?, ?)`,
		i.ID, i.Identity, i.Medicine, string(i.Status), i.Time)
	if err != nil {
		slog.Error("SQLiteStore AddIntake failed", "error", err, "identity", i.Identity)
		return fmt.Errorf("failed to insert intake: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetIntakes(identity string) ([]models.MedicationIntake, error) {
	rows, err := s.db.Query(`SELECT id, identity, medicine, status, time FROM intakes WHERE identity = ? ORDER BY time DESC`, identity)
	if err != nil {
		slog.Error("SQLiteStore GetIntakes query failed", "error", err, "identity", identity)
		return nil, fmt.Errorf("failed to query intakes: %w", err)
	}
	defer rows.Close()

	var intakes []models.MedicationIntake
	for rows.Next() {
		var i models.MedicationIntake
		var status string
		if err := rows.Scan(&i.ID, &i.Identity, &i.Medicine, &status, &i.Time); err != nil {
			return nil, fmt.Errorf("failed to scan intake row: %w", err)
		}
		i.Status = models.ReminderStatus(status)
		intakes = append(intakes, i)
	}
	return intakes, rows.Err()
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}
