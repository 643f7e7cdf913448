package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/CareLoop/internal/models"
)

// InMemoryStore is a map-backed Store used by tests and as the fallback
// when no database DSN is configured.
type InMemoryStore struct {
	mu          sync.RWMutex
	users       map[string]models.User // keyed by identity
	medications map[string]models.Medication
	reminders   map[string]models.Reminder
	assessments map[string]models.SymptomAssessment
	checkIns    map[string]models.CheckIn
	intakes     []models.MedicationIntake
	freshness   time.Duration
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore(opts ...Option) *InMemoryStore {
	cfg := Opts{ReminderFreshness: models.DefaultReminderFreshness}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &InMemoryStore{
		users:       make(map[string]models.User),
		medications: make(map[string]models.Medication),
		reminders:   make(map[string]models.Reminder),
		assessments: make(map[string]models.SymptomAssessment),
		checkIns:    make(map[string]models.CheckIn),
		freshness:   cfg.ReminderFreshness,
	}
}

func (s *InMemoryStore) SaveUser(u models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.Identity] = u
	return nil
}

func (s *InMemoryStore) GetUser(identity string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.users[identity]; ok {
		return &u, nil
	}
	return nil, nil
}

func (s *InMemoryStore) GetUserByName(name string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Name, name) {
			return &u, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) ListUsers() ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	return users, nil
}

func (s *InMemoryStore) SaveMedication(m models.Medication) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.medications[m.ID] = m
	return nil
}

// GetMedications returns the identity's medications in a stable order so
// numbered selection lists stay consistent across calls.
func (s *InMemoryStore) GetMedications(identity string) ([]models.Medication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var meds []models.Medication
	for _, m := range s.medications {
		if m.Identity == identity {
			meds = append(meds, m)
		}
	}
	sort.Slice(meds, func(i, j int) bool { return meds[i].Name < meds[j].Name })
	return meds, nil
}

func (s *InMemoryStore) DeleteMedication(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.medications, id)
	return nil
}

func (s *InMemoryStore) AddReminder(r models.Reminder) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reminders[r.ID] = r
	return nil
}

// LatestUnrespondedReminder returns the newest unresponded reminder for the
// identity within the freshness window, or nil.
func (s *InMemoryStore) LatestUnrespondedReminder(identity string) (*models.Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cutoff := time.Now().Add(-s.freshness)
	var latest *models.Reminder
	for _, r := range s.reminders {
		if r.To != identity || r.Responded || r.CreatedAt.Before(cutoff) {
			continue
		}
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
			cp := r
			latest = &cp
		}
	}
	return latest, nil
}

func (s *InMemoryStore) MarkReminderResponded(id string, status models.ReminderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[id]
	if !ok {
		return nil
	}
	r.Responded = true
	r.Status = status
	s.reminders[id] = r
	return nil
}

func (s *InMemoryStore) MarkReminderSkipped(id string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[id]
	if !ok {
		return nil
	}
	r.Responded = true
	r.Status = models.ReminderStatusSkipped
	r.SkipReason = reason
	s.reminders[id] = r
	return nil
}

func (s *InMemoryStore) SaveAssessment(a models.SymptomAssessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assessments[a.ID] = a
	return nil
}

func (s *InMemoryStore) ActiveSymptomAssessments(identity string) ([]models.SymptomAssessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var active []models.SymptomAssessment
	for _, a := range s.assessments {
		if a.Identity == identity && a.Active {
			active = append(active, a)
		}
	}
	return active, nil
}

func (s *InMemoryStore) DueFollowUps(now time.Time) ([]models.SymptomAssessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var due []models.SymptomAssessment
	for _, a := range s.assessments {
		if a.Active && !a.FollowUpAt.IsZero() && !a.FollowUpAt.After(now) {
			due = append(due, a)
		}
	}
	return due, nil
}

func (s *InMemoryStore) CloseAssessment(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assessments[id]
	if !ok {
		return nil
	}
	a.Active = false
	a.UpdatedAt = time.Now()
	s.assessments[id] = a
	return nil
}

func (s *InMemoryStore) SaveCheckIn(c models.CheckIn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkIns[c.ID] = c
	return nil
}

func (s *InMemoryStore) ActiveCheckIn(identity string) (*models.CheckIn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.checkIns {
		if c.Identity == identity && c.Active {
			cp := c
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) SetCheckInConflict(identity string, pending bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.checkIns {
		if c.Identity == identity && c.Active {
			c.ConflictPending = pending
			c.UpdatedAt = time.Now()
			s.checkIns[id] = c
		}
	}
	return nil
}

func (s *InMemoryStore) CloseCheckIn(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.checkIns[id]
	if !ok {
		return nil
	}
	c.Active = false
	c.UpdatedAt = time.Now()
	s.checkIns[id] = c
	return nil
}

func (s *InMemoryStore) AddIntake(i models.MedicationIntake) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intakes = append(s.intakes, i)
	return nil
}

func (s *InMemoryStore) GetIntakes(identity string) ([]models.MedicationIntake, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.MedicationIntake
	for _, i := range s.intakes {
		if i.Identity == identity {
			out = append(out, i)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Time.After(out[j].Time) })
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
