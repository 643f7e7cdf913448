// Package store provides storage backends for CareLoop.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "embed"

	"github.com/BTreeMap/CareLoop/internal/models"
	_ "github.com/lib/pq"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore is a Store backed by PostgreSQL for shared deployments.
type PostgresStore struct {
	db        *sql.DB
	freshness time.Duration
}

// NewPostgresStore creates a new PostgreSQL store with the given DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	cfg := Opts{ReminderFreshness: models.DefaultReminderFreshness}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run Postgres migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db, freshness: cfg.ReminderFreshness}, nil
}

func (s *PostgresStore) SaveUser(u models.User) error {
	_, err := s.db.Exec(`INSERT INTO users (id, identity, name, timezone, role, dependents, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (identity) DO UPDATE SET name = $3, timezone = $4, role = $5, dependents = $6, updated_at = $8`,
		u.ID, u.Identity, u.Name, u.Timezone, string(u.Role), strings.Join(u.Dependents, ","), u.CreatedAt, u.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveUser failed", "error", err, "identity", u.Identity)
		return fmt.Errorf("failed to save user %s: %w", u.Identity, err)
	}
	return nil
}

func (s *PostgresStore) GetUser(identity string) (*models.User, error) {
	row := s.db.QueryRow(`SELECT id, identity, name, timezone, role, dependents, created_at, updated_at
		FROM users WHERE identity = $1`, identity)
	return scanUserRow(row)
}

func (s *PostgresStore) GetUserByName(name string) (*models.User, error) {
	row := s.db.QueryRow(`SELECT id, identity, name, timezone, role, dependents, created_at, updated_at
		FROM users WHERE LOWER(name) = LOWER($1)`, name)
	return scanUserRow(row)
}

func (s *PostgresStore) ListUsers() ([]models.User, error) {
	rows, err := s.db.Query(`SELECT id, identity, name, timezone, role, dependents, created_at, updated_at FROM users`)
	if err != nil {
		slog.Error("PostgresStore ListUsers query failed", "error", err)
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

func (s *PostgresStore) SaveMedication(m models.Medication) error {
	_, err := s.db.Exec(`INSERT INTO medications (id, identity, name, dosage, time_of_day, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET name = $3, dosage = $4, time_of_day = $5, updated_at = $7`,
		m.ID, m.Identity, m.Name, m.Dosage, m.TimeOfDay, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveMedication failed", "error", err, "identity", m.Identity)
		return fmt.Errorf("failed to save medication %s: %w", m.Name, err)
	}
	return nil
}

func (s *PostgresStore) GetMedications(identity string) ([]models.Medication, error) {
	rows, err := s.db.Query(`SELECT id, identity, name, dosage, time_of_day, created_at, updated_at
		FROM medications WHERE identity = $1 ORDER BY name`, identity)
	if err != nil {
		slog.Error("PostgresStore GetMedications query failed", "error", err, "identity", identity)
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

func (s *PostgresStore) DeleteMedication(id string) error {
	_, err := s.db.Exec(`DELETE FROM medications WHERE id = $1`, id)
	if err != nil {
		slog.Error("PostgresStore DeleteMedication failed", "error", err, "id", id)
		return fmt.Errorf("failed to delete medication %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) AddReminder(r models.Reminder) error {
	_, err := s.db.Exec(`INSERT INTO reminders (id, recipient, medicine, dosage, responded, status, skip_reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.To, r.Medicine, r.Dosage, r.Responded, string(r.Status), r.SkipReason, r.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore AddReminder failed", "error", err, "to", r.To)
		return fmt.Errorf("failed to insert reminder for %s: %w", r.To, err)
	}
	return nil
}

func (s *PostgresStore) LatestUnrespondedReminder(identity string) (*models.Reminder, error) {
	cutoff := time.Now().Add(-s.freshness)
	row := s.db.QueryRow(`SELECT id, recipient, medicine, dosage, responded, status, skip_reason, created_at
		FROM reminders WHERE recipient = $1 AND responded = FALSE AND created_at > $2
		ORDER BY created_at DESC LIMIT 1`, identity, cutoff)

	var r models.Reminder
	var dosage, skipReason sql.NullString
	var status string
	err := row.Scan(&r.ID, &r.To, &r.Medicine, &dosage, &r.Responded, &status, &skipReason, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore LatestUnrespondedReminder failed", "error", err, "identity", identity)
		return nil, fmt.Errorf("failed to query latest reminder: %w", err)
	}
	r.Dosage = dosage.String
	r.SkipReason = skipReason.String
	r.Status = models.ReminderStatus(status)
	return &r, nil
}

func (s *PostgresStore) MarkReminderResponded(id string, status models.ReminderStatus) error {
	_, err := s.db.Exec(`UPDATE reminders SET responded = TRUE, status = $1 WHERE id = $2`, string(status), id)
	if err != nil {
		slog.Error("PostgresStore MarkReminderResponded failed", "error", err, "id", id)
		return fmt.Errorf("failed to mark reminder %s responded: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) MarkReminderSkipped(id string, reason string) error {
	_, err := s.db.Exec(`UPDATE reminders SET responded = TRUE, status = $1, skip_reason = $2 WHERE id = $3`,
		string(models.ReminderStatusSkipped), reason, id)
	if err != nil {
		slog.Error("PostgresStore MarkReminderSkipped failed", "error", err, "id", id)
		return fmt.Errorf("failed to mark reminder %s skipped: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) SaveAssessment(a models.SymptomAssessment) error {
	_, err := s.db.Exec(`INSERT INTO assessments (id, identity, symptom, severity, notes, summary, emergency, active, follow_up_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET severity = $4, notes = $5, summary = $6, emergency = $7, active = $8, follow_up_at = $9, updated_at = $11`,
		a.ID, a.Identity, a.Symptom, a.Severity, a.Notes, a.Summary, a.Emergency, a.Active, a.FollowUpAt, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveAssessment failed", "error", err, "identity", a.Identity)
		return fmt.Errorf("failed to save assessment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ActiveSymptomAssessments(identity string) ([]models.SymptomAssessment, error) {
	rows, err := s.db.Query(`SELECT id, identity, symptom, severity, notes, summary, emergency, active, follow_up_at, created_at, updated_at
		FROM assessments WHERE identity = $1 AND active = TRUE`, identity)
	if err != nil {
		slog.Error("PostgresStore ActiveSymptomAssessments query failed", "error", err, "identity", identity)
		return nil, fmt.Errorf("failed to query assessments: %w", err)
	}
	defer rows.Close()
	return scanAssessments(rows)
}

func (s *PostgresStore) DueFollowUps(now time.Time) ([]models.SymptomAssessment, error) {
	rows, err := s.db.Query(`SELECT id, identity, symptom, severity, notes, summary, emergency, active, follow_up_at, created_at, updated_at
		FROM assessments WHERE active = TRUE AND follow_up_at IS NOT NULL AND follow_up_at <= $1`, now)
	if err != nil {
		slog.Error("PostgresStore DueFollowUps query failed", "error", err)
		return nil, fmt.Errorf("failed to query due follow-ups: %w", err)
	}
	defer rows.Close()
	return scanAssessments(rows)
}

func (s *PostgresStore) CloseAssessment(id string) error {
	_, err := s.db.Exec(`UPDATE assessments SET active = FALSE, updated_at = $1 WHERE id = $2`, time.Now(), id)
	if err != nil {
		slog.Error("PostgresStore CloseAssessment failed", "error", err, "id", id)
		return fmt.Errorf("failed to close assessment %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) SaveCheckIn(c models.CheckIn) error {
	_, err := s.db.Exec(`INSERT INTO check_ins (id, identity, conversation_state, conflict_pending, score, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET conversation_state = $3, conflict_pending = $4, score = $5, active = $6, updated_at = $8`,
		c.ID, c.Identity, c.ConversationState, c.ConflictPending, c.Score, c.Active, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveCheckIn failed", "error", err, "identity", c.Identity)
		return fmt.Errorf("failed to save check-in: %w", err)
	}
	return nil
}

func (s *PostgresStore) ActiveCheckIn(identity string) (*models.CheckIn, error) {
	row := s.db.QueryRow(`SELECT id, identity, conversation_state, conflict_pending, score, active, created_at, updated_at
		FROM check_ins WHERE identity = $1 AND active = TRUE ORDER BY created_at DESC LIMIT 1`, identity)

	var c models.CheckIn
	var score sql.NullInt64
	err := row.Scan(&c.ID, &c.Identity, &c.ConversationState, &c.ConflictPending, &score, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore ActiveCheckIn failed", "error", err, "identity", identity)
		return nil, fmt.Errorf("failed to query active check-in: %w", err)
	}
	c.Score = int(score.Int64)
	return &c, nil
}

func (s *PostgresStore) SetCheckInConflict(identity string, pending bool) error {
	_, err := s.db.Exec(`UPDATE check_ins SET conflict_pending = $1, updated_at = $2 WHERE identity = $3 AND active = TRUE`,
		pending, time.Now(), identity)
	if err != nil {
		slog.Error("PostgresStore SetCheckInConflict failed", "error", err, "identity", identity)
		return fmt.Errorf("failed to set check-in conflict marker: %w", err)
	}
	return nil
}

func (s *PostgresStore) CloseCheckIn(id string) error {
	_, err := s.db.Exec(`UPDATE check_ins SET active = FALSE, updated_at = $1 WHERE id = $2`, time.Now(), id)
	if err != nil {
		slog.Error("PostgresStore CloseCheckIn failed", "error", err, "id", id)
		return fmt.Errorf("failed to close check-in %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) AddIntake(i models.MedicationIntake) error {
	_, err := s.db.Exec(`INSERT INTO intakes (id, identity, medicine, status, time) VALUES ($1, $2, $3, $4, $5)`,
		i.ID, i.Identity, i.Medicine, string(i.Status), i.Time)
	if err != nil {
		slog.Error("PostgresStore AddIntake failed", "error", err, "identity", i.Identity)
		return fmt.Errorf("failed to insert intake: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetIntakes(identity string) ([]models.MedicationIntake, error) {
	rows, err := s.db.Query(`SELECT id, identity, medicine, status, time FROM intakes WHERE identity = $1 ORDER BY time DESC`, identity)
	if err != nil {
		slog.Error("PostgresStore GetIntakes query failed", "error", err, "identity", identity)
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

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
