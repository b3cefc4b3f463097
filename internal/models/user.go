package models

import (
	"time"

	"github.com/google/uuid"
)

// User is an identity row, created by the session endpoint. The
// coordination core only reads display names for the leaderboard.
type User struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Phone     string    `json:"phone,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
