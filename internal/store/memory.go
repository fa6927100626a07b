package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ashureev/calmpath/internal/domain"
)

var (
	_ Repository = (*SQLiteStore)(nil)
	_ Repository = (*MemoryStore)(nil)
)

// MemoryStore is an in-memory Repository. It is not persistent and is meant
// for tests and throwaway local runs.
type MemoryStore struct {
	mu      sync.RWMutex
	users   map[string]*domain.User
	guides  map[int64]*domain.Guide
	crises  map[int64]*domain.Crisis
	notes   map[int64][]*domain.Note // crisis id -> notes in insertion order
	lastIDs struct{ guide, crisis, note int64 }
	now     func() time.Time
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		users:  make(map[string]*domain.User),
		guides: make(map[int64]*domain.Guide),
		crises: make(map[int64]*domain.Crisis),
		notes:  make(map[int64][]*domain.Note),
		now:    time.Now,
	}
}

func copyGuide(g *domain.Guide) *domain.Guide {
	out := *g
	out.Steps = append([]domain.Step(nil), g.Steps...)
	return &out
}

func copyCrisis(c *domain.Crisis) *domain.Crisis {
	out := *c
	return &out
}

// GetUser retrieves a user by their user ID.
func (m *MemoryStore) GetUser(_ context.Context, userID string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, nil
	}
	out := *u
	return &out, nil
}

// UpsertUser creates or updates a user record.
func (m *MemoryStore) UpsertUser(_ context.Context, user *domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := *user
	if existing, ok := m.users[user.UserID]; ok {
		out.CreatedAt = existing.CreatedAt
	}
	m.users[user.UserID] = &out
	return nil
}

// UpdateLastSeen updates the last seen timestamp for a user.
func (m *MemoryStore) UpdateLastSeen(_ context.Context, userID string, lastSeen time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		u.LastSeenAt = lastSeen
	}
	return nil
}

// ListGuides returns every guide ordered by id.
func (m *MemoryStore) ListGuides(_ context.Context) ([]*domain.Guide, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Guide, 0, len(m.guides))
	for _, g := range m.guides {
		out = append(out, copyGuide(g))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetGuide retrieves a guide by id.
func (m *MemoryStore) GetGuide(_ context.Context, id int64) (*domain.Guide, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.guides[id]
	if !ok {
		return nil, nil
	}
	return copyGuide(g), nil
}

// SeedGuides inserts guides only when none exist.
func (m *MemoryStore) SeedGuides(_ context.Context, guides []*domain.Guide) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.guides) > 0 {
		return 0, nil
	}
	now := m.now()
	for _, g := range guides {
		m.lastIDs.guide++
		g.ID = m.lastIDs.guide
		g.CreatedAt = now
		m.guides[g.ID] = copyGuide(g)
	}
	return len(guides), nil
}

// CreateCrisis inserts a crisis and assigns its ID.
func (m *MemoryStore) CreateCrisis(_ context.Context, crisis *domain.Crisis) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if crisis.GuideID != nil {
		if _, ok := m.guides[*crisis.GuideID]; !ok {
			return fmt.Errorf("insert crisis: guide %d: %w", *crisis.GuideID, domain.ErrNotFound)
		}
	}
	m.lastIDs.crisis++
	crisis.ID = m.lastIDs.crisis
	m.crises[crisis.ID] = copyCrisis(crisis)
	return nil
}

// GetCrisis retrieves a crisis by id.
func (m *MemoryStore) GetCrisis(_ context.Context, id int64) (*domain.Crisis, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.crises[id]
	if !ok {
		return nil, nil
	}
	return copyCrisis(c), nil
}

// ListCrisesByUser returns a user's crises, newest first.
func (m *MemoryStore) ListCrisesByUser(_ context.Context, userID string) ([]*domain.Crisis, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*domain.Crisis{}
	for _, c := range m.crises {
		if c.UserID == userID {
			out = append(out, copyCrisis(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// UpdateCrisisProgress writes progress with a compare-and-swap on version.
func (m *MemoryStore) UpdateCrisisProgress(_ context.Context, crisis *domain.Crisis, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.crises[crisis.ID]
	if !ok {
		return fmt.Errorf("crisis %d: %w", crisis.ID, domain.ErrNotFound)
	}
	if stored.Version != expectedVersion {
		return fmt.Errorf("crisis %d changed concurrently: %w", crisis.ID, domain.ErrConflict)
	}
	stored.CurrentStepIndex = crisis.CurrentStepIndex
	stored.IsResolved = crisis.IsResolved
	stored.Version++
	crisis.Version = stored.Version
	return nil
}

// CreateNote appends a note and assigns its ID.
func (m *MemoryStore) CreateNote(_ context.Context, note *domain.Note) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.crises[note.CrisisID]; !ok {
		return fmt.Errorf("insert note for crisis %d: %w", note.CrisisID, domain.ErrNotFound)
	}
	m.lastIDs.note++
	note.ID = m.lastIDs.note
	stored := *note
	m.notes[note.CrisisID] = append(m.notes[note.CrisisID], &stored)
	return nil
}

// ListNotes returns the notes of a crisis, newest first.
func (m *MemoryStore) ListNotes(_ context.Context, crisisID int64) ([]*domain.Note, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.notes[crisisID]
	out := make([]*domain.Note, 0, len(src))
	for i := len(src) - 1; i >= 0; i-- {
		n := *src[i]
		out = append(out, &n)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(_ context.Context) error { return nil }

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }
