// Package domain contains core domain types for the calmpath application.
package domain

import (
	"time"
)

// User is a caller seen by the identity layer. Profile data is owned by the
// identity provider; only the opaque ID is used for ownership checks.
type User struct {
	UserID      string    `json:"id"`
	DisplayName string    `json:"displayName"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
	CreatedAt   time.Time `json:"createdAt"`
}

// IsAnonymous returns true if the user was minted by the anonymous cookie flow.
func (u *User) IsAnonymous() bool {
	return len(u.UserID) > 5 && u.UserID[:5] == "anon_"
}
