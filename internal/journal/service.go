// Package journal stores the append-only notes a user keeps on a crisis.
package journal

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ashureev/calmpath/internal/domain"
	"github.com/ashureev/calmpath/internal/store"
)

const maxContentLength = 10000

// Service adds and lists notes. Only the owner of a crisis can touch its notes.
type Service struct {
	repo store.Repository
	now  func() time.Time
}

// NewService creates a journal service backed by repo.
func NewService(repo store.Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Add appends a note to the crisis.
func (s *Service) Add(ctx context.Context, callerID string, crisisID int64, content string) (*domain.Note, error) {
	if _, err := s.ownedCrisis(ctx, callerID, crisisID); err != nil {
		return nil, err
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, domain.NewValidationError("content", "content is required")
	}
	if utf8.RuneCountInString(content) > maxContentLength {
		return nil, domain.NewValidationError("content",
			fmt.Sprintf("content must be at most %d characters", maxContentLength))
	}

	note := &domain.Note{
		CrisisID:  crisisID,
		Content:   content,
		CreatedAt: s.now().Truncate(time.Millisecond),
	}
	if err := s.repo.CreateNote(ctx, note); err != nil {
		return nil, fmt.Errorf("add note to crisis %d: %w", crisisID, err)
	}

	slog.Debug("Note added", "crisis_id", crisisID, "note_id", note.ID, "user_id", callerID)
	return note, nil
}

// List returns the notes of a crisis, newest first.
func (s *Service) List(ctx context.Context, callerID string, crisisID int64) ([]*domain.Note, error) {
	if _, err := s.ownedCrisis(ctx, callerID, crisisID); err != nil {
		return nil, err
	}
	notes, err := s.repo.ListNotes(ctx, crisisID)
	if err != nil {
		return nil, fmt.Errorf("list notes of crisis %d: %w", crisisID, err)
	}
	return notes, nil
}

func (s *Service) ownedCrisis(ctx context.Context, callerID string, crisisID int64) (*domain.Crisis, error) {
	if callerID == "" {
		return nil, domain.ErrUnauthorized
	}
	crisis, err := s.repo.GetCrisis(ctx, crisisID)
	if err != nil {
		return nil, fmt.Errorf("get crisis %d: %w", crisisID, err)
	}
	if crisis == nil {
		return nil, fmt.Errorf("crisis %d: %w", crisisID, domain.ErrNotFound)
	}
	if !crisis.OwnedBy(callerID) {
		slog.Warn("Journal access denied", "crisis_id", crisisID, "user_id", callerID)
		return nil, fmt.Errorf("crisis %d: %w", crisisID, domain.ErrForbidden)
	}
	return crisis, nil
}
