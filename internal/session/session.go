// Package session provides keyed, typed, in-memory storage for the three
// independent session kinds a single identity may hold at once.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/CareLoop/internal/models"
)

// Lifecycle constants for session expiry.
const (
	// DefaultTTL is the inactivity window after which a session is purged.
	DefaultTTL = 30 * time.Minute
	// DefaultSweepInterval is how often the expiry sweep runs.
	DefaultSweepInterval = 15 * time.Minute
)

// Store is the injected session abstraction. Absence of a session is
// semantically "no dialog of that kind in progress", not an error; Get
// methods return nil when nothing is stored. Set stamps the current time
// and overwrites (last-write-wins).
type Store interface {
	GetAccountCreation(identity string) *models.AccountCreationSession
	SetAccountCreation(identity string, s models.AccountCreationSession)
	DeleteAccountCreation(identity string)

	GetDialog(identity string) *models.DialogSession
	SetDialog(identity string, s models.DialogSession)
	DeleteDialog(identity string)

	GetMedicationWizard(identity string) *models.MedicationWizardSession
	SetMedicationWizard(identity string, s models.MedicationWizardSession)
	DeleteMedicationWizard(identity string)

	// Sweep removes every session whose last write is older than ttl and
	// returns the number of sessions removed.
	Sweep(now time.Time, ttl time.Duration) int
}

// MemoryStore implements Store with per-kind maps guarded by a single lock.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]models.AccountCreationSession
	dialogs  map[string]models.DialogSession
	wizards  map[string]models.MedicationWizardSession
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]models.AccountCreationSession),
		dialogs:  make(map[string]models.DialogSession),
		wizards:  make(map[string]models.MedicationWizardSession),
	}
}

// GetAccountCreation returns the onboarding session for identity, or nil.
func (m *MemoryStore) GetAccountCreation(identity string) *models.AccountCreationSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.accounts[identity]; ok {
		return &s
	}
	return nil
}

// SetAccountCreation stores the onboarding session, stamping timestamps.
func (m *MemoryStore) SetAccountCreation(identity string, s models.AccountCreationSession) {
	now := time.Now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[identity] = s
}

// DeleteAccountCreation removes the onboarding session for identity.
func (m *MemoryStore) DeleteAccountCreation(identity string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.accounts, identity)
}

// GetDialog returns the general dialog session for identity, or nil.
func (m *MemoryStore) GetDialog(identity string) *models.DialogSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.dialogs[identity]; ok {
		return &s
	}
	return nil
}

// SetDialog stores the general dialog session, stamping timestamps.
func (m *MemoryStore) SetDialog(identity string, s models.DialogSession) {
	now := time.Now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dialogs[identity] = s
}

// DeleteDialog removes the general dialog session for identity.
func (m *MemoryStore) DeleteDialog(identity string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.dialogs, identity)
}

// GetMedicationWizard returns the medication wizard session, or nil.
func (m *MemoryStore) GetMedicationWizard(identity string) *models.MedicationWizardSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.wizards[identity]; ok {
		return &s
	}
	return nil
}

// SetMedicationWizard stores the medication wizard session.
func (m *MemoryStore) SetMedicationWizard(identity string, s models.MedicationWizardSession) {
	now := time.Now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	s.UpdatedAt = now
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wizards[identity] = s
}

// DeleteMedicationWizard removes the medication wizard session.
func (m *MemoryStore) DeleteMedicationWizard(identity string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.wizards, identity)
}

// Sweep removes sessions of every kind whose last write is older than ttl.
func (m *MemoryStore) Sweep(now time.Time, ttl time.Duration) int {
	cutoff := now.Add(-ttl)
	removed := 0

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, s := range m.accounts {
		if s.UpdatedAt.Before(cutoff) {
			delete(m.accounts, id)
			removed++
		}
	}
	for id, s := range m.dialogs {
		if s.UpdatedAt.Before(cutoff) {
			delete(m.dialogs, id)
			removed++
		}
	}
	for id, s := range m.wizards {
		if s.UpdatedAt.Before(cutoff) {
			delete(m.wizards, id)
			removed++
		}
	}

	if removed > 0 {
		slog.Info("SessionStore sweep removed expired sessions", "removed", removed, "ttl", ttl)
	}
	return removed
}
