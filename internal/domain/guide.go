package domain

import "time"

// Step is one unit of guidance inside a Guide, addressed by its position.
type Step struct {
	Title   string `json:"title" yaml:"title"`
	Content string `json:"content" yaml:"content"`
}

// Guide is an authored, ordered sequence of advice steps.
type Guide struct {
	ID          int64     `json:"id" yaml:"-"`
	Title       string    `json:"title" yaml:"title"`
	Description string    `json:"description" yaml:"description"`
	ImageURL    *string   `json:"imageUrl" yaml:"imageUrl,omitempty"`
	Steps       []Step    `json:"steps" yaml:"steps"`
	CreatedAt   time.Time `json:"createdAt" yaml:"-"`
}

// StepCount returns the number of steps in the guide.
func (g *Guide) StepCount() int {
	if g == nil {
		return FreeFormStepCount
	}
	return len(g.Steps)
}
