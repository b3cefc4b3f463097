// Package scoring validates and rate-limits score submissions and mutates
// participant records on acceptance.
package scoring

import (
	"context"
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

// Rejection reasons returned to the submitting client.
const (
	ReasonNotActive   = "game not active"
	ReasonRateLimited = "rate limit exceeded, retry later"
	ReasonBadPayload  = "invalid payload"
	ReasonBadStats    = "invalid stats"
	ReasonScoreBound  = "score sanity check failed"
	ReasonTimeBound   = "time sanity check failed"
)

// SubmitPayload is a client score submission. Pointer fields distinguish
// missing values from zeroes.
type SubmitPayload struct {
	Score            *int64 `json:"score"`
	ObstaclesCleared *int64 `json:"obstaclesCleared"`
	TimeAliveMs      *int64 `json:"timeAliveMs"`
}

// Ack is the synchronous result of a submission.
type Ack struct {
	OK    bool
	Error string
}

func reject(reason string) Ack { return Ack{Error: reason} }

// ShowSource exposes the coordinator's current-show reference.
type ShowSource interface {
	CurrentShow() *models.Show
}

// Config bounds submissions per identity and per session.
type Config struct {
	Window         time.Duration // trailing rate-limit window
	MaxPerWindow   int           // submissions allowed per window
	PlayingFor     time.Duration // length of the playing phase
	TimeAliveSlack time.Duration // anti-cheat slack on reported session length
}

// DefaultConfig matches the live show's tuning: 5 submissions per minute and
// a 2s grace on the reported time alive.
func DefaultConfig() Config {
	return Config{
		Window:         60 * time.Second,
		MaxPerWindow:   5,
		PlayingFor:     60 * time.Second,
		TimeAliveSlack: 2 * time.Second,
	}
}

type rateWindow struct {
	count   int
	resetAt time.Time
}

// Validator accepts or rejects score submissions. The rate-limit counters
// live only in process memory and reset on restart.
type Validator struct {
	store  store.Store
	bc     events.Broadcaster
	boards *leaderboard.Aggregator
	shows  ShowSource
	clock  clockwork.Clock
	cfg    Config

	mu      sync.Mutex
	windows map[uuid.UUID]*rateWindow
}

// NewValidator creates a Validator.
func NewValidator(s store.Store, bc events.Broadcaster, boards *leaderboard.Aggregator, shows ShowSource, clock clockwork.Clock, cfg Config) *Validator {
	return &Validator{
		store:   s,
		bc:      bc,
		boards:  boards,
		shows:   shows,
		clock:   clock,
		cfg:     cfg,
		windows: make(map[uuid.UUID]*rateWindow),
	}
}

// Submit validates a submission against the current show. On acceptance the
// participant record is created if absent, the score overwrites any previous
// one, the participant is marked eliminated, and both presence and the
// recomputed leaderboard are re-broadcast to the show's room. Rejections
// mutate nothing.
func (v *Validator) Submit(ctx context.Context, id auth.Identity, p SubmitPayload) Ack {
	show := v.shows.CurrentShow()
	if show == nil || show.State != models.ShowStatePlaying {
		return reject(ReasonNotActive)
	}
	if !v.allow(id.UserID) {
		return reject(ReasonRateLimited)
	}
	if p.Score == nil || p.ObstaclesCleared == nil || p.TimeAliveMs == nil {
		return reject(ReasonBadPayload)
	}
	if *p.Score < 0 || *p.ObstaclesCleared < 0 || *p.TimeAliveMs < 0 {
		return reject(ReasonBadStats)
	}
	if *p.Score > *p.ObstaclesCleared {
		return reject(ReasonScoreBound)
	}
	if time.Duration(*p.TimeAliveMs)*time.Millisecond > v.cfg.PlayingFor+v.cfg.TimeAliveSlack {
		return reject(ReasonTimeBound)
	}

	now := v.clock.Now()
	score := int(*p.Score)
	if _, _, err := v.store.EnsureParticipant(ctx, &models.Participant{
		ID:       uuid.New(),
		ShowID:   show.ID,
		UserID:   id.UserID,
		JoinedAt: now,
		Status:   models.StatusEliminated,
		Score:    score,
	}); err != nil {
		log.Error().Err(err).Str("user_id", id.UserID.String()).Msg("failed to ensure participant for score")
		return reject("storage error")
	}
	// Later valid resubmissions simply overwrite the previous score.
	if err := v.store.RecordScore(ctx, show.ID, id.UserID, score, now); err != nil {
		log.Error().Err(err).Str("user_id", id.UserID.String()).Msg("failed to record score")
		return reject("storage error")
	}

	entries, err := v.boards.Leaderboard(ctx, show.ID)
	if err != nil {
		log.Error().Err(err).Str("show_id", show.ID.String()).Msg("failed to recompute leaderboard")
		return Ack{OK: true}
	}
	if ev, err := events.New(events.TypePresenceUpdated, show.ID, now, events.PresencePayload{
		ShowID:       show.ID.String(),
		Participants: entries,
	}); err == nil {
		v.bc.PublishToShow(show.ID, ev)
	}
	if ev, err := events.New(events.TypeLeaderboardUpdated, show.ID, now, events.LeaderboardPayload{
		ShowID:      show.ID.String(),
		Leaderboard: entries,
	}); err == nil {
		v.bc.PublishToShow(show.ID, ev)
	}

	log.Debug().
		Str("show_id", show.ID.String()).
		Str("user_id", id.UserID.String()).
		Int("score", score).
		Msg("score accepted")
	return Ack{OK: true}
}

// allow consumes one submission slot in the identity's trailing window.
func (v *Validator) allow(userID uuid.UUID) bool {
	now := v.clock.Now()
	v.mu.Lock()
	defer v.mu.Unlock()

	w, ok := v.windows[userID]
	if !ok || w.resetAt.Before(now) || w.resetAt.Equal(now) {
		v.windows[userID] = &rateWindow{count: 1, resetAt: now.Add(v.cfg.Window)}
		return true
	}
	if w.count >= v.cfg.MaxPerWindow {
		return false
	}
	w.count++
	return true
}
