// Package registry tracks per-participant session presence within the
// current show, including disconnect grace handling during live play.
package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/openarcade/showrunner/internal/auth"
	"github.com/openarcade/showrunner/internal/events"
	"github.com/openarcade/showrunner/internal/leaderboard"
	"github.com/openarcade/showrunner/internal/models"
	"github.com/openarcade/showrunner/internal/store"
)

// ErrNoShow is returned when no show is current.
var ErrNoShow = errors.New("registry: no current show")

// DefaultGraceWindow is how long a disconnected participant may reconnect
// before being eliminated.
const DefaultGraceWindow = 8 * time.Second

// ShowSource exposes the coordinator's current-show reference.
type ShowSource interface {
	CurrentShow() *models.Show
}

// Registry owns participant presence and the per-identity disconnect grace
// timers. At most one grace timer is live per identity; a second disconnect
// while one is pending is ignored and the first window stands.
type Registry struct {
	store  store.Store
	bc     events.Broadcaster
	boards *leaderboard.Aggregator
	shows  ShowSource
	clock  clockwork.Clock
	grace  time.Duration

	mu     sync.Mutex
	timers map[uuid.UUID]clockwork.Timer
}

// New creates a Registry. grace <= 0 falls back to DefaultGraceWindow.
func New(s store.Store, bc events.Broadcaster, boards *leaderboard.Aggregator, shows ShowSource, clock clockwork.Clock, grace time.Duration) *Registry {
	if grace <= 0 {
		grace = DefaultGraceWindow
	}
	return &Registry{
		store:  s,
		bc:     bc,
		boards: boards,
		shows:  shows,
		clock:  clock,
		grace:  grace,
		timers: make(map[uuid.UUID]clockwork.Timer),
	}
}

// Join registers the identity with the current show. The requested show id
// is pinned to the current one; joins are idempotent per (show, identity).
// Late joiners while the show is playing become spectators. A pending grace
// timer for the identity is cancelled (reconnect). Returns the pinned show
// id and the current presence, which is also re-broadcast to the room.
func (r *Registry) Join(ctx context.Context, requested uuid.UUID, id auth.Identity) (uuid.UUID, []models.LeaderboardEntry, error) {
	show := r.shows.CurrentShow()
	if show == nil {
		return uuid.Nil, nil, ErrNoShow
	}
	// Connections may race a show rollover; always land on the current show.
	showID := show.ID
	if requested != uuid.Nil && requested != showID {
		log.Debug().
			Str("requested", requested.String()).
			Str("current", showID.String()).
			Msg("join pinned to current show")
	}

	status := models.StatusJoined
	if show.State == models.ShowStatePlaying {
		status = models.StatusSpectating
	}
	_, created, err := r.store.EnsureParticipant(ctx, &models.Participant{
		ID:       uuid.New(),
		ShowID:   showID,
		UserID:   id.UserID,
		JoinedAt: r.clock.Now(),
		Status:   status,
		Score:    0,
	})
	if err != nil {
		return uuid.Nil, nil, err
	}

	r.cancelGrace(id.UserID)

	entries, err := r.boards.Leaderboard(ctx, showID)
	if err != nil {
		return uuid.Nil, nil, err
	}
	r.broadcastPresence(showID, entries)

	log.Info().
		Str("show_id", showID.String()).
		Str("user_id", id.UserID.String()).
		Bool("created", created).
		Str("status", string(status)).
		Msg("participant joined")
	return showID, entries, nil
}

// Disconnect starts the grace window for the identity. Disconnects while the
// show is not playing are ignored. If the window elapses without a re-join,
// the participant is eliminated with an elimination timestamp and presence
// is re-broadcast.
func (r *Registry) Disconnect(id auth.Identity) {
	show := r.shows.CurrentShow()
	if show == nil || show.State != models.ShowStatePlaying {
		return
	}
	showID := show.ID
	userID := id.UserID

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, pending := r.timers[userID]; pending {
		// First window stands; a second disconnect must not spawn a second
		// independent timer.
		return
	}
	r.timers[userID] = r.clock.AfterFunc(r.grace, func() {
		r.graceExpired(showID, userID)
	})
	log.Debug().
		Str("show_id", showID.String()).
		Str("user_id", userID.String()).
		Dur("grace", r.grace).
		Msg("disconnect grace window started")
}

// graceExpired fires when a grace window elapses without a re-join.
func (r *Registry) graceExpired(showID, userID uuid.UUID) {
	r.mu.Lock()
	delete(r.timers, userID)
	r.mu.Unlock()

	ctx := context.Background()
	now := r.clock.Now()
	if err := r.store.EliminateIfPlaying(ctx, showID, userID, now); err != nil {
		log.Error().Err(err).Str("user_id", userID.String()).Msg("failed to eliminate disconnected participant")
		return
	}
	entries, err := r.boards.Leaderboard(ctx, showID)
	if err != nil {
		log.Error().Err(err).Str("show_id", showID.String()).Msg("failed to load presence after elimination")
		return
	}
	r.broadcastPresence(showID, entries)
	log.Info().
		Str("show_id", showID.String()).
		Str("user_id", userID.String()).
		Msg("participant eliminated after disconnect grace")
}

// cancelGrace stops and discards a pending grace timer for the identity.
func (r *Registry) cancelGrace(userID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.timers[userID]; ok {
		if !t.Stop() {
			// Timer already fired; its callback owns cleanup.
			return
		}
		delete(r.timers, userID)
		log.Debug().Str("user_id", userID.String()).Msg("disconnect grace cancelled on reconnect")
	}
}

func (r *Registry) broadcastPresence(showID uuid.UUID, entries []models.LeaderboardEntry) {
	ev, err := events.New(events.TypePresenceUpdated, showID, r.clock.Now(), events.PresencePayload{
		ShowID:       showID.String(),
		Participants: entries,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to build presence event")
		return
	}
	r.bc.PublishToShow(showID, ev)
}
