// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/calmpath/internal/domain"
)

// Repository is the storage capability handed to every service. Lookups that
// miss return (nil, nil); callers decide what a missing record means.
type Repository interface {
	// GetUser retrieves a user by their user ID.
	GetUser(ctx context.Context, userID string) (*domain.User, error)

	// UpsertUser creates or updates a user record.
	UpsertUser(ctx context.Context, user *domain.User) error

	// UpdateLastSeen updates the last_seen_at timestamp for a user.
	UpdateLastSeen(ctx context.Context, userID string, lastSeen time.Time) error

	// ListGuides returns every guide ordered by id.
	ListGuides(ctx context.Context) ([]*domain.Guide, error)

	// GetGuide retrieves a guide by id.
	GetGuide(ctx context.Context, id int64) (*domain.Guide, error)

	// SeedGuides inserts guides only when the catalog is empty. The check and
	// the inserts happen atomically; it returns how many guides were inserted.
	SeedGuides(ctx context.Context, guides []*domain.Guide) (int, error)

	// CreateCrisis inserts a crisis and assigns its ID.
	CreateCrisis(ctx context.Context, crisis *domain.Crisis) error

	// GetCrisis retrieves a crisis by id.
	GetCrisis(ctx context.Context, id int64) (*domain.Crisis, error)

	// ListCrisesByUser returns a user's crises, newest first.
	ListCrisesByUser(ctx context.Context, userID string) ([]*domain.Crisis, error)

	// UpdateCrisisProgress writes the step index and resolved flag if the stored
	// version still equals expectedVersion, then bumps crisis.Version.
	// Returns domain.ErrConflict on a version mismatch and domain.ErrNotFound
	// when the crisis does not exist.
	UpdateCrisisProgress(ctx context.Context, crisis *domain.Crisis, expectedVersion int64) error

	// CreateNote appends a note and assigns its ID.
	CreateNote(ctx context.Context, note *domain.Note) error

	// ListNotes returns the notes of a crisis, newest first.
	ListNotes(ctx context.Context, crisisID int64) ([]*domain.Note, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
