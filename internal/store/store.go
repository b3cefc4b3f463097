package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/openarcade/showrunner/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the durable-store collaborator for shows and participants. It
// carries no business logic beyond these operations; every query that ranks
// participants orders by score descending, then join time ascending.
type Store interface {
	// CreateShow inserts a new show row.
	CreateShow(ctx context.Context, show *models.Show) error
	// LatestShow returns the show with the latest start time, or ErrNotFound.
	LatestShow(ctx context.Context) (*models.Show, error)
	// UpdateShowState persists a show's lifecycle state.
	UpdateShowState(ctx context.Context, id uuid.UUID, state models.ShowState) error

	// CreateUser inserts an identity row. Used by the identity collaborator
	// and by dev/test seeding.
	CreateUser(ctx context.Context, user *models.User) error
	// GetUser returns an identity row, or ErrNotFound.
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)

	// EnsureParticipant atomically inserts the given participant unless a
	// record already exists for its (show, user) pair, in which case the
	// existing record is returned. The returned bool reports whether a new
	// row was created. Uniqueness is enforced at the store layer, so two
	// racing callers settle on a single record.
	EnsureParticipant(ctx context.Context, p *models.Participant) (*models.Participant, bool, error)
	// GetParticipant returns the participant for (show, user), or ErrNotFound.
	GetParticipant(ctx context.Context, showID, userID uuid.UUID) (*models.Participant, error)
	// RecordScore overwrites a participant's score, marks them eliminated and
	// stamps the elimination time.
	RecordScore(ctx context.Context, showID, userID uuid.UUID, score int, eliminatedAt time.Time) error
	// BulkSetStatus moves every participant of the show whose status is in
	// from to the to status.
	BulkSetStatus(ctx context.Context, showID uuid.UUID, from []models.ParticipantStatus, to models.ParticipantStatus) error
	// EliminateIfPlaying marks the participant eliminated only if they are
	// still playing. Used by the disconnect grace timer so a participant who
	// already finished or scored is left alone.
	EliminateIfPlaying(ctx context.Context, showID, userID uuid.UUID, at time.Time) error
	// Leaderboard returns every participant of the show joined with their
	// display name, ordered by score desc, join time asc.
	Leaderboard(ctx context.Context, showID uuid.UUID) ([]models.LeaderboardEntry, error)

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error
}
