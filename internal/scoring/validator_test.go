package scoring

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openarcade/showrunner/internal/auth"
	"github.com/openarcade/showrunner/internal/events"
	"github.com/openarcade/showrunner/internal/leaderboard"
	"github.com/openarcade/showrunner/internal/models"
	"github.com/openarcade/showrunner/internal/store"
)

type stubShows struct {
	mu   sync.Mutex
	show *models.Show
}

func (s *stubShows) CurrentShow() *models.Show {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.show == nil {
		return nil
	}
	cp := *s.show
	return &cp
}

type sinkBroadcaster struct {
	mu     sync.Mutex
	events []*events.Event
}

func (b *sinkBroadcaster) PublishGlobal(ev *events.Event) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return 0
}

func (b *sinkBroadcaster) PublishToShow(_ uuid.UUID, ev *events.Event) int {
	return b.PublishGlobal(ev)
}

func (b *sinkBroadcaster) byType(t events.Type) []*events.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*events.Event
	for _, ev := range b.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	validator *Validator
	store     *store.Memory
	shows     *stubShows
	bc        *sinkBroadcaster
	clock     *clockwork.FakeClock
	showID    uuid.UUID
	identity  auth.Identity
}

func newFixture(t *testing.T, state models.ShowState) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 20, 0, 10, 0, time.UTC))
	mem := store.NewMemory()
	shows := &stubShows{show: &models.Show{
		ID:        uuid.New(),
		StartTime: time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC),
		State:     state,
	}}
	bc := &sinkBroadcaster{}
	v := NewValidator(mem, bc, leaderboard.New(mem), shows, clock, DefaultConfig())
	return &fixture{
		validator: v,
		store:     mem,
		shows:     shows,
		bc:        bc,
		clock:     clock,
		showID:    shows.show.ID,
		identity:  auth.Identity{UserID: uuid.New(), Name: "Ada"},
	}
}

func i64(v int64) *int64 { return &v }

func validPayload() SubmitPayload {
	return SubmitPayload{Score: i64(3), ObstaclesCleared: i64(5), TimeAliveMs: i64(12_000)}
}

func TestSubmitRejectedOutsidePlaying(t *testing.T) {
	for _, state := range []models.ShowState{
		models.ShowStateScheduled,
		models.ShowStateLobbyOpen,
		models.ShowStateCountdown,
		models.ShowStateResults,
		models.ShowStateEnded,
	} {
		f := newFixture(t, state)
		ack := f.validator.Submit(context.Background(), f.identity, validPayload())
		assert.False(t, ack.OK, "state %s", state)
		assert.Equal(t, ReasonNotActive, ack.Error)
	}
}

func TestSubmitRejectedWithoutShow(t *testing.T) {
	f := newFixture(t, models.ShowStatePlaying)
	f.shows.mu.Lock()
	f.shows.show = nil
	f.shows.mu.Unlock()

	ack := f.validator.Submit(context.Background(), f.identity, validPayload())
	assert.Equal(t, ReasonNotActive, ack.Error)
}

func TestSubmitRejectsMissingFields(t *testing.T) {
	f := newFixture(t, models.ShowStatePlaying)

	for name, p := range map[string]SubmitPayload{
		"no score":     {ObstaclesCleared: i64(5), TimeAliveMs: i64(1000)},
		"no obstacles": {Score: i64(3), TimeAliveMs: i64(1000)},
		"no timeAlive": {Score: i64(3), ObstaclesCleared: i64(5)},
	} {
		ack := f.validator.Submit(context.Background(), f.identity, p)
		assert.Equal(t, ReasonBadPayload, ack.Error, name)
	}
}

func TestSubmitRejectsNegativeStats(t *testing.T) {
	f := newFixture(t, models.ShowStatePlaying)

	p := validPayload()
	p.Score = i64(-1)
	ack := f.validator.Submit(context.Background(), f.identity, p)
	assert.Equal(t, ReasonBadStats, ack.Error)
}

func TestSubmitRejectsScoreAboveObstacles(t *testing.T) {
	f := newFixture(t, models.ShowStatePlaying)

	p := SubmitPayload{Score: i64(6), ObstaclesCleared: i64(5), TimeAliveMs: i64(1000)}
	ack := f.validator.Submit(context.Background(), f.identity, p)
	assert.Equal(t, ReasonScoreBound, ack.Error)

	// Rejections must not create a participant.
	_, err := f.store.GetParticipant(context.Background(), f.showID, f.identity.UserID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSubmitTimeAliveBound(t *testing.T) {
	f := newFixture(t, models.ShowStatePlaying)

	// 60s of play plus 2s of slack.
	p := validPayload()
	p.TimeAliveMs = i64(62_001)
	ack := f.validator.Submit(context.Background(), f.identity, p)
	assert.Equal(t, ReasonTimeBound, ack.Error)

	p.TimeAliveMs = i64(62_000)
	ack = f.validator.Submit(context.Background(), f.identity, p)
	assert.True(t, ack.OK)
}

func TestSubmitRateLimit(t *testing.T) {
	f := newFixture(t, models.ShowStatePlaying)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ack := f.validator.Submit(ctx, f.identity, validPayload())
		require.True(t, ack.OK, "submission %d", i)
		f.clock.Advance(time.Second)
	}
	ack := f.validator.Submit(ctx, f.identity, validPayload())
	assert.Equal(t, ReasonRateLimited, ack.Error)

	// Other identities have their own window.
	other := auth.Identity{UserID: uuid.New(), Name: "Grace"}
	assert.True(t, f.validator.Submit(ctx, other, validPayload()).OK)

	// The window expires relative to its first submission.
	f.clock.Advance(56 * time.Second)
	assert.True(t, f.validator.Submit(ctx, f.identity, validPayload()).OK)
}

func TestSubmitCreatesAndEliminatesParticipant(t *testing.T) {
	f := newFixture(t, models.ShowStatePlaying)
	ctx := context.Background()

	ack := f.validator.Submit(ctx, f.identity, validPayload())
	require.True(t, ack.OK)

	p, err := f.store.GetParticipant(ctx, f.showID, f.identity.UserID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusEliminated, p.Status)
	assert.Equal(t, 3, p.Score)
	require.NotNil(t, p.EliminatedAt)
	assert.Equal(t, f.clock.Now(), *p.EliminatedAt)

	assert.Len(t, f.bc.byType(events.TypePresenceUpdated), 1)
	assert.Len(t, f.bc.byType(events.TypeLeaderboardUpdated), 1)
}

func TestSubmitOverwritesPreviousScore(t *testing.T) {
	f := newFixture(t, models.ShowStatePlaying)
	ctx := context.Background()

	first := validPayload()
	require.True(t, f.validator.Submit(ctx, f.identity, first).OK)

	// A later valid submission overwrites, even with a lower score.
	second := SubmitPayload{Score: i64(1), ObstaclesCleared: i64(2), TimeAliveMs: i64(8_000)}
	require.True(t, f.validator.Submit(ctx, f.identity, second).OK)

	p, err := f.store.GetParticipant(ctx, f.showID, f.identity.UserID)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Score)
}
