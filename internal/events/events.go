package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openarcade/showrunner/internal/models"
)

// Type identifies a server-to-client event on the real-time channel.
type Type string

const (
	TypeHeartbeat          Type = "heartbeat-tick"
	TypeStateChanged       Type = "state-changed"
	TypePresenceUpdated    Type = "presence-updated"
	TypeLeaderboardUpdated Type = "leaderboard-updated"
	TypeResultsFinal       Type = "results-final"
	TypeSessionStart       Type = "session-start"
	TypeAck                Type = "ack"
)

// Event is the envelope every broadcast carries. Data holds the
// type-specific payload.
type Event struct {
	ID        string          `json:"id"`
	ShowID    string          `json:"showId,omitempty"`
	Type      Type            `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// New builds an event envelope around the given payload.
func New(t Type, showID uuid.UUID, at time.Time, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}
	ev := &Event{
		ID:        uuid.New().String(),
		Type:      t,
		Timestamp: at,
		Data:      data,
	}
	if showID != uuid.Nil {
		ev.ShowID = showID.String()
	}
	return ev, nil
}

// HeartbeatPayload is the 1 Hz authoritative time/state broadcast. Clients
// use ServerTime to compute a local clock offset so every observer perceives
// the same countdown.
type HeartbeatPayload struct {
	ShowID      string           `json:"showId"`
	State       models.ShowState `json:"state"`
	ServerTime  int64            `json:"serverTime"` // unix ms
	StartTime   int64            `json:"startTime"`  // unix ms
	RemainingMs int64            `json:"remainingMs"`
}

// StateChangedPayload announces a lifecycle transition to all connections.
type StateChangedPayload struct {
	ShowID string           `json:"showId"`
	State  models.ShowState `json:"state"`
}

// PresencePayload carries the show's current participant roster.
type PresencePayload struct {
	ShowID       string                    `json:"showId"`
	Participants []models.LeaderboardEntry `json:"participants"`
}

// LeaderboardPayload carries the recomputed ranking after a score change.
type LeaderboardPayload struct {
	ShowID      string                    `json:"showId"`
	Leaderboard []models.LeaderboardEntry `json:"leaderboard"`
}

// ResultsFinalPayload carries the final ranking when a show enters results.
// Winner is nil when nobody participated.
type ResultsFinalPayload struct {
	ShowID      string                    `json:"showId"`
	Leaderboard []models.LeaderboardEntry `json:"leaderboard"`
	Winner      *models.LeaderboardEntry  `json:"winner"`
}

// SessionStartPayload tells the room the playing phase began, with the
// authoritative end time.
type SessionStartPayload struct {
	ShowID    string `json:"showId"`
	StartTime int64  `json:"startTime"` // unix ms
	EndTime   int64  `json:"endTime"`   // unix ms
}

// AckPayload is the synchronous reply to a client request, correlated by the
// client-chosen sequence number.
type AckPayload struct {
	Seq   int64  `json:"seq"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}
