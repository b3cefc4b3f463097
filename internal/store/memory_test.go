package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openarcade/showrunner/internal/models"
)

func TestLatestShow(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	_, err := s.LatestShow(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	early := &models.Show{ID: uuid.New(), StartTime: time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC), State: models.ShowStateEnded}
	late := &models.Show{ID: uuid.New(), StartTime: time.Date(2026, 3, 2, 20, 0, 0, 0, time.UTC), State: models.ShowStateScheduled}
	require.NoError(t, s.CreateShow(ctx, early))
	require.NoError(t, s.CreateShow(ctx, late))

	got, err := s.LatestShow(ctx)
	require.NoError(t, err)
	assert.Equal(t, late.ID, got.ID)
}

func TestEnsureParticipantIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	showID := uuid.New()
	userID := uuid.New()

	first := &models.Participant{
		ID:       uuid.New(),
		ShowID:   showID,
		UserID:   userID,
		JoinedAt: time.Now(),
		Status:   models.StatusJoined,
		Score:    0,
	}
	got, created, err := s.EnsureParticipant(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, first.ID, got.ID)

	// A second ensure for the same (show, user) returns the original row
	// untouched, whatever the caller passed in.
	second := &models.Participant{
		ID:       uuid.New(),
		ShowID:   showID,
		UserID:   userID,
		JoinedAt: time.Now().Add(time.Minute),
		Status:   models.StatusEliminated,
		Score:    99,
	}
	got, created, err = s.EnsureParticipant(ctx, second)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, models.StatusJoined, got.Status)
	assert.Equal(t, 0, got.Score)
}

func TestRecordScoreOverwrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	showID := uuid.New()
	userID := uuid.New()

	_, _, err := s.EnsureParticipant(ctx, &models.Participant{
		ID: uuid.New(), ShowID: showID, UserID: userID, JoinedAt: time.Now(), Status: models.StatusPlaying,
	})
	require.NoError(t, err)

	at := time.Date(2026, 3, 1, 20, 0, 30, 0, time.UTC)
	require.NoError(t, s.RecordScore(ctx, showID, userID, 7, at))
	require.NoError(t, s.RecordScore(ctx, showID, userID, 3, at.Add(time.Second)))

	p, err := s.GetParticipant(ctx, showID, userID)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Score)
	assert.Equal(t, models.StatusEliminated, p.Status)
	require.NotNil(t, p.EliminatedAt)
	assert.Equal(t, at.Add(time.Second), *p.EliminatedAt)
}

func TestBulkSetStatus(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	showID := uuid.New()

	seed := func(status models.ParticipantStatus) uuid.UUID {
		userID := uuid.New()
		_, _, err := s.EnsureParticipant(ctx, &models.Participant{
			ID: uuid.New(), ShowID: showID, UserID: userID, JoinedAt: time.Now(), Status: status,
		})
		require.NoError(t, err)
		return userID
	}
	joined := seed(models.StatusJoined)
	ready := seed(models.StatusReady)
	spectating := seed(models.StatusSpectating)

	from := []models.ParticipantStatus{models.StatusJoined, models.StatusReady}
	require.NoError(t, s.BulkSetStatus(ctx, showID, from, models.StatusPlaying))

	for _, userID := range []uuid.UUID{joined, ready} {
		p, err := s.GetParticipant(ctx, showID, userID)
		require.NoError(t, err)
		assert.Equal(t, models.StatusPlaying, p.Status)
	}
	p, err := s.GetParticipant(ctx, showID, spectating)
	require.NoError(t, err)
	assert.Equal(t, models.StatusSpectating, p.Status)
}

func TestEliminateIfPlaying(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	showID := uuid.New()
	playing := uuid.New()
	finished := uuid.New()

	for userID, status := range map[uuid.UUID]models.ParticipantStatus{
		playing:  models.StatusPlaying,
		finished: models.StatusFinished,
	} {
		_, _, err := s.EnsureParticipant(ctx, &models.Participant{
			ID: uuid.New(), ShowID: showID, UserID: userID, JoinedAt: time.Now(), Status: status,
		})
		require.NoError(t, err)
	}

	at := time.Now()
	require.NoError(t, s.EliminateIfPlaying(ctx, showID, playing, at))
	require.NoError(t, s.EliminateIfPlaying(ctx, showID, finished, at))

	p, err := s.GetParticipant(ctx, showID, playing)
	require.NoError(t, err)
	assert.Equal(t, models.StatusEliminated, p.Status)
	assert.NotNil(t, p.EliminatedAt)

	p, err = s.GetParticipant(ctx, showID, finished)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFinished, p.Status)
	assert.Nil(t, p.EliminatedAt)
}

func TestLeaderboardOrdering(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	showID := uuid.New()
	base := time.Date(2026, 3, 1, 19, 55, 0, 0, time.UTC)

	seed := func(name string, score int, joinedAt time.Time) uuid.UUID {
		userID := uuid.New()
		require.NoError(t, s.CreateUser(ctx, &models.User{ID: userID, Name: name, CreatedAt: joinedAt}))
		_, _, err := s.EnsureParticipant(ctx, &models.Participant{
			ID: uuid.New(), ShowID: showID, UserID: userID, JoinedAt: joinedAt, Status: models.StatusPlaying, Score: score,
		})
		require.NoError(t, err)
		return userID
	}
	seed("late-tied", 5, base.Add(2*time.Minute))
	top := seed("top", 9, base.Add(time.Minute))
	earlyTied := seed("early-tied", 5, base)

	entries, err := s.Leaderboard(ctx, showID)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, top, entries[0].UserID)
	assert.Equal(t, "top", entries[0].Name)
	// Equal scores rank by earlier join.
	assert.Equal(t, earlyTied, entries[1].UserID)
	assert.Equal(t, "late-tied", entries[2].Name)
}

func TestLeaderboardKeepsParticipantWithoutUserRow(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	showID := uuid.New()

	// No users row for this participant; they still rank, with a blank name.
	_, _, err := s.EnsureParticipant(ctx, &models.Participant{
		ID: uuid.New(), ShowID: showID, UserID: uuid.New(), JoinedAt: time.Now(), Status: models.StatusPlaying, Score: 2,
	})
	require.NoError(t, err)

	entries, err := s.Leaderboard(ctx, showID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Empty(t, entries[0].Name)
	assert.Equal(t, 2, entries[0].Score)
}
