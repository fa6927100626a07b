package domain

import (
	"fmt"
	"time"
)

// FreeFormStepCount is the step count of a crisis that is not backed by a guide.
// Its only valid index is 0, so it can be resolved but never advanced.
const FreeFormStepCount = 1

// Crisis is one user's traversal of a guide (or a free-form session when
// GuideID is nil).
//
// States are {index=i, resolved=false} for i in [0, stepCount-1] plus the
// absorbing state resolved=true. Version is bumped on every persisted change.
type Crisis struct {
	ID               int64     `json:"id"`
	UserID           string    `json:"userId"`
	GuideID          *int64    `json:"guideId"`
	Title            string    `json:"title"`
	Description      *string   `json:"description"`
	CurrentStepIndex int       `json:"currentStepIndex"`
	IsResolved       bool      `json:"isResolved"`
	Version          int64     `json:"version"`
	CreatedAt        time.Time `json:"createdAt"`
}

// OwnedBy returns true if userID owns the crisis.
func (c *Crisis) OwnedBy(userID string) bool {
	return userID != "" && c.UserID == userID
}

// LastIndex returns the last valid step index for stepCount.
func LastIndex(stepCount int) int {
	if stepCount < FreeFormStepCount {
		stepCount = FreeFormStepCount
	}
	return stepCount - 1
}

// Advance moves to the next step. Advancing from the last step is rejected;
// the caller has to Resolve instead.
func (c *Crisis) Advance(stepCount int) error {
	if c.IsResolved {
		return fmt.Errorf("%w: crisis is resolved", ErrInvalidTransition)
	}
	if c.CurrentStepIndex >= LastIndex(stepCount) {
		return fmt.Errorf("%w: already at the last step, resolve instead", ErrInvalidTransition)
	}
	c.CurrentStepIndex++
	return nil
}

// Retreat moves back one step.
func (c *Crisis) Retreat() error {
	if c.IsResolved {
		return fmt.Errorf("%w: crisis is resolved", ErrInvalidTransition)
	}
	if c.CurrentStepIndex <= 0 {
		return fmt.Errorf("%w: already at the first step", ErrInvalidTransition)
	}
	c.CurrentStepIndex--
	return nil
}

// Resolve marks the crisis resolved and keeps the current index.
// It returns false when the crisis was already resolved.
func (c *Crisis) Resolve() bool {
	if c.IsResolved {
		return false
	}
	c.IsResolved = true
	return true
}

// SetStep applies a target index and an optional resolved flag together.
// Out-of-range targets are rejected, never clamped. Once resolved, only a
// request that restates the current state is accepted. It returns false when
// nothing changed.
func (c *Crisis) SetStep(stepCount, target int, resolved *bool) (bool, error) {
	if target < 0 || target > LastIndex(stepCount) {
		return false, NewValidationError("stepIndex",
			fmt.Sprintf("step index must be between 0 and %d", LastIndex(stepCount)))
	}

	if c.IsResolved {
		if target == c.CurrentStepIndex && (resolved == nil || *resolved) {
			return false, nil
		}
		return false, fmt.Errorf("%w: crisis is resolved", ErrInvalidTransition)
	}

	changed := target != c.CurrentStepIndex
	c.CurrentStepIndex = target
	if resolved != nil && *resolved {
		c.IsResolved = true
		changed = true
	}
	return changed, nil
}
