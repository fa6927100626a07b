package domain

import "time"

// Note is a free-text journal entry attached to a Crisis. Notes are append-only.
type Note struct {
	ID        int64     `json:"id"`
	CrisisID  int64     `json:"crisisId"`
	Content   string    `json:"content"`
	Sentiment *string   `json:"sentiment"`
	CreatedAt time.Time `json:"createdAt"`
}
