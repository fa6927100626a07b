// Package crisis implements the session progress engine: starting a crisis
// session and moving it through its guide's steps until it is resolved.
package crisis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ashureev/calmpath/internal/domain"
	"github.com/ashureev/calmpath/internal/store"
)

const (
	maxTitleLength       = 200
	maxDescriptionLength = 2000
)

// Service owns every mutation of a crisis. Each operation takes the caller id
// and checks it against the crisis owner.
type Service struct {
	repo store.Repository
	now  func() time.Time
}

// NewService creates a progress engine backed by repo.
func NewService(repo store.Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// StartInput describes a new crisis session.
type StartInput struct {
	GuideID     *int64
	Title       string
	Description *string
}

// SetStepInput is the generalized progress update. Version, when set, must
// match the stored version.
type SetStepInput struct {
	StepIndex  int
	IsResolved *bool
	Version    *int64
}

// Start creates a crisis at step 0, unresolved, owned by callerID.
func (s *Service) Start(ctx context.Context, callerID string, in StartInput) (*domain.Crisis, error) {
	if callerID == "" {
		return nil, domain.ErrUnauthorized
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, domain.NewValidationError("title", "title is required")
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return nil, domain.NewValidationError("title", fmt.Sprintf("title must be at most %d characters", maxTitleLength))
	}

	var description *string
	if in.Description != nil {
		d := strings.TrimSpace(*in.Description)
		if utf8.RuneCountInString(d) > maxDescriptionLength {
			return nil, domain.NewValidationError("description",
				fmt.Sprintf("description must be at most %d characters", maxDescriptionLength))
		}
		if d != "" {
			description = &d
		}
	}

	if in.GuideID != nil {
		guide, err := s.repo.GetGuide(ctx, *in.GuideID)
		if err != nil {
			return nil, fmt.Errorf("load guide %d: %w", *in.GuideID, err)
		}
		if guide == nil {
			return nil, domain.NewValidationError("guideId", "guide does not exist")
		}
	}

	crisis := &domain.Crisis{
		UserID:      callerID,
		GuideID:     in.GuideID,
		Title:       title,
		Description: description,
		Version:     1,
		CreatedAt:   s.now().Truncate(time.Millisecond),
	}
	if err := s.repo.CreateCrisis(ctx, crisis); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.NewValidationError("guideId", "guide does not exist")
		}
		return nil, fmt.Errorf("create crisis: %w", err)
	}

	var guideID any
	if in.GuideID != nil {
		guideID = *in.GuideID
	}
	slog.Info("Crisis started", "crisis_id", crisis.ID, "user_id", callerID, "guide_id", guideID)
	return crisis, nil
}

// List returns the caller's crises, newest first.
func (s *Service) List(ctx context.Context, callerID string) ([]*domain.Crisis, error) {
	if callerID == "" {
		return nil, domain.ErrUnauthorized
	}
	crises, err := s.repo.ListCrisesByUser(ctx, callerID)
	if err != nil {
		return nil, fmt.Errorf("list crises: %w", err)
	}
	return crises, nil
}

// Get returns a crisis owned by callerID.
func (s *Service) Get(ctx context.Context, callerID string, id int64) (*domain.Crisis, error) {
	if callerID == "" {
		return nil, domain.ErrUnauthorized
	}
	crisis, err := s.repo.GetCrisis(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get crisis %d: %w", id, err)
	}
	if crisis == nil {
		return nil, fmt.Errorf("crisis %d: %w", id, domain.ErrNotFound)
	}
	if !crisis.OwnedBy(callerID) {
		slog.Warn("Crisis access denied", "crisis_id", id, "user_id", callerID)
		return nil, fmt.Errorf("crisis %d: %w", id, domain.ErrForbidden)
	}
	return crisis, nil
}

// Advance moves the crisis to its next step.
func (s *Service) Advance(ctx context.Context, callerID string, id int64) (*domain.Crisis, error) {
	return s.mutate(ctx, callerID, id, nil, func(c *domain.Crisis, stepCount int) (bool, error) {
		return true, c.Advance(stepCount)
	})
}

// Retreat moves the crisis back one step.
func (s *Service) Retreat(ctx context.Context, callerID string, id int64) (*domain.Crisis, error) {
	return s.mutate(ctx, callerID, id, nil, func(c *domain.Crisis, _ int) (bool, error) {
		return true, c.Retreat()
	})
}

// Resolve marks the crisis resolved. Resolving twice is a no-op.
func (s *Service) Resolve(ctx context.Context, callerID string, id int64) (*domain.Crisis, error) {
	return s.mutate(ctx, callerID, id, nil, func(c *domain.Crisis, _ int) (bool, error) {
		return c.Resolve(), nil
	})
}

// SetStep applies a target index and optional resolved flag atomically.
func (s *Service) SetStep(ctx context.Context, callerID string, id int64, in SetStepInput) (*domain.Crisis, error) {
	return s.mutate(ctx, callerID, id, in.Version, func(c *domain.Crisis, stepCount int) (bool, error) {
		return c.SetStep(stepCount, in.StepIndex, in.IsResolved)
	})
}

// mutate loads the crisis, checks ownership and the optional expected
// version, applies fn and persists the result with a version check.
func (s *Service) mutate(
	ctx context.Context,
	callerID string,
	id int64,
	expectedVersion *int64,
	fn func(c *domain.Crisis, stepCount int) (bool, error),
) (*domain.Crisis, error) {
	crisis, err := s.Get(ctx, callerID, id)
	if err != nil {
		return nil, err
	}
	if expectedVersion != nil && *expectedVersion != crisis.Version {
		return nil, fmt.Errorf("crisis %d is at version %d, not %d: %w",
			id, crisis.Version, *expectedVersion, domain.ErrConflict)
	}

	stepCount, err := s.stepCount(ctx, crisis)
	if err != nil {
		return nil, err
	}

	loadedVersion := crisis.Version
	changed, err := fn(crisis, stepCount)
	if err != nil {
		return nil, err
	}
	if !changed {
		return crisis, nil
	}

	if err := s.repo.UpdateCrisisProgress(ctx, crisis, loadedVersion); err != nil {
		return nil, fmt.Errorf("update crisis %d: %w", id, err)
	}

	slog.Info("Crisis progress updated",
		"crisis_id", crisis.ID,
		"user_id", callerID,
		"step_index", crisis.CurrentStepIndex,
		"resolved", crisis.IsResolved,
		"version", crisis.Version,
	)
	return crisis, nil
}

func (s *Service) stepCount(ctx context.Context, crisis *domain.Crisis) (int, error) {
	if crisis.GuideID == nil {
		return domain.FreeFormStepCount, nil
	}
	guide, err := s.repo.GetGuide(ctx, *crisis.GuideID)
	if err != nil {
		return 0, fmt.Errorf("load guide %d: %w", *crisis.GuideID, err)
	}
	if guide == nil {
		// Guides are never deleted; a dangling reference behaves like free-form.
		slog.Warn("Crisis references missing guide", "crisis_id", crisis.ID, "guide_id", *crisis.GuideID)
		return domain.FreeFormStepCount, nil
	}
	return guide.StepCount(), nil
}
