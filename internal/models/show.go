package models

import (
	"time"

	"github.com/google/uuid"
)

// ShowState is the lifecycle state of a show. States only ever advance in
// the order below; "ended" is terminal for a show instance.
type ShowState string

const (
	ShowStateScheduled ShowState = "scheduled"
	ShowStateLobbyOpen ShowState = "lobby_open"
	ShowStateCountdown ShowState = "countdown"
	ShowStatePlaying   ShowState = "playing"
	ShowStateResults   ShowState = "results"
	ShowStateEnded     ShowState = "ended"
)

var showStateOrder = []ShowState{
	ShowStateScheduled,
	ShowStateLobbyOpen,
	ShowStateCountdown,
	ShowStatePlaying,
	ShowStateResults,
	ShowStateEnded,
}

// Next returns the successor state, or false if the state is terminal or
// unknown.
func (s ShowState) Next() (ShowState, bool) {
	for i, st := range showStateOrder {
		if st == s && i+1 < len(showStateOrder) {
			return showStateOrder[i+1], true
		}
	}
	return "", false
}

// Terminal reports whether the state ends the show's lifecycle.
func (s ShowState) Terminal() bool {
	return s == ShowStateEnded
}

// Show is one scheduled, time-boxed multiplayer event instance. Shows are
// never deleted; an ended show is superseded by a freshly created one.
type Show struct {
	ID        uuid.UUID `json:"id"`
	StartTime time.Time `json:"startTime"`
	State     ShowState `json:"state"`
	CreatedAt time.Time `json:"createdAt"`
}
