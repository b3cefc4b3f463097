// Package leaderboard is the pure read model over the participant store.
// Rankings are recomputed from the authoritative store on every call and
// never cached, because any mutation elsewhere can change the order.
package leaderboard

import (
	"context"

	"github.com/google/uuid"

	"github.com/openarcade/showrunner/internal/models"
	"github.com/openarcade/showrunner/internal/store"
)

// Aggregator ranks the participants of a show.
type Aggregator struct {
	store store.Store
}

// New creates an Aggregator over the given store.
func New(s store.Store) *Aggregator {
	return &Aggregator{store: s}
}

// Leaderboard returns the show's participants joined with display names,
// ordered by score descending, then join time ascending (earlier join wins
// ties).
func (a *Aggregator) Leaderboard(ctx context.Context, showID uuid.UUID) ([]models.LeaderboardEntry, error) {
	return a.store.Leaderboard(ctx, showID)
}

// Winner returns the top entry of a ranked leaderboard, or nil if it is
// empty.
func Winner(entries []models.LeaderboardEntry) *models.LeaderboardEntry {
	if len(entries) == 0 {
		return nil
	}
	winner := entries[0]
	return &winner
}
