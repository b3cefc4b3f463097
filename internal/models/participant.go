package models

import (
	"time"

	"github.com/google/uuid"
)

// ParticipantStatus tracks a participant's standing within one show.
type ParticipantStatus string

const (
	StatusJoined     ParticipantStatus = "joined"
	StatusReady      ParticipantStatus = "ready"
	StatusSpectating ParticipantStatus = "spectating"
	StatusPlaying    ParticipantStatus = "playing"
	StatusEliminated ParticipantStatus = "eliminated"
	StatusFinished   ParticipantStatus = "finished"
)

// Participant is the permanent record of one identity's involvement in one
// show. Unique per (show, user) pair, enforced by the store.
type Participant struct {
	ID           uuid.UUID         `json:"id"`
	ShowID       uuid.UUID         `json:"showId"`
	UserID       uuid.UUID         `json:"userId"`
	JoinedAt     time.Time         `json:"joinedAt"`
	Status       ParticipantStatus `json:"status"`
	Score        int               `json:"score"`
	EliminatedAt *time.Time        `json:"eliminatedAt,omitempty"`
}

// LeaderboardEntry is a participant joined with their display name, as
// returned by the ranked leaderboard query.
type LeaderboardEntry struct {
	UserID       uuid.UUID         `json:"userId"`
	Name         string            `json:"name"`
	Status       ParticipantStatus `json:"status"`
	Score        int               `json:"score"`
	JoinedAt     time.Time         `json:"joinedAt"`
	EliminatedAt *time.Time        `json:"eliminatedAt,omitempty"`
}
