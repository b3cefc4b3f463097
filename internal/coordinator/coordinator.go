// Package coordinator owns the show lifecycle: the single current-show
// reference, the state machine that advances it as a pure function of
// wall-clock time, the 1 Hz evaluation and heartbeat loops, and the
// administrative overrides that replace the show and restart the loops.
package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/openarcade/showrunner/internal/events"
	"github.com/openarcade/showrunner/internal/leaderboard"
	"github.com/openarcade/showrunner/internal/models"
	"github.com/openarcade/showrunner/internal/store"
)

// ErrNoShow is returned by admin operations when no show is current.
var ErrNoShow = errors.New("coordinator: no current show")

// Timing fixes the lifecycle offsets relative to a show's start time and the
// daily recurrence of new shows.
type Timing struct {
	StartHour   int
	StartMinute int
	LobbyOpen   time.Duration // lobby opens this long before start
	Countdown   time.Duration // countdown begins this long before start
	Playing     time.Duration // length of the playing phase
	Results     time.Duration // length of the results phase
}

// DefaultTiming is the production schedule: daily 20:00 shows with a 5m
// lobby, 30s countdown, 60s of play and 20s of results.
func DefaultTiming() Timing {
	return Timing{
		StartHour: 20,
		LobbyOpen: 5 * time.Minute,
		Countdown: 30 * time.Second,
		Playing:   60 * time.Second,
		Results:   20 * time.Second,
	}
}

// Coordinator drives exactly one authoritative show at a time.
type Coordinator struct {
	store  store.Store
	bc     events.Broadcaster
	boards *leaderboard.Aggregator
	clock  clockwork.Clock
	timing Timing

	mu      sync.Mutex
	current *models.Show

	loopMu     sync.Mutex
	runCtx     context.Context
	loopCancel context.CancelFunc
	loopWG     *sync.WaitGroup
}

// New creates a Coordinator.
func New(s store.Store, bc events.Broadcaster, boards *leaderboard.Aggregator, clock clockwork.Clock, timing Timing) *Coordinator {
	return &Coordinator{
		store:  s,
		bc:     bc,
		boards: boards,
		clock:  clock,
		timing: timing,
	}
}

// Run loads or creates the current show, starts both periodic loops and
// blocks until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	c.loopMu.Lock()
	c.runCtx = ctx
	c.loopMu.Unlock()

	if _, err := c.loadOrCreateShow(ctx); err != nil {
		return err
	}
	c.restartLoops()
	<-ctx.Done()
	c.stopLoops()
	return nil
}

// CurrentShow returns a copy of the current show, or nil. Only the
// coordinator mutates the show; everyone else reads it through here.
func (c *Coordinator) CurrentShow() *models.Show {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return nil
	}
	cp := *c.current
	return &cp
}

// Schedule replaces the current show with one scheduled at start and
// restarts the periodic loops.
func (c *Coordinator) Schedule(ctx context.Context, start time.Time) (*models.Show, error) {
	show, err := c.createShow(ctx, start, models.ShowStateScheduled)
	if err != nil {
		return nil, err
	}
	c.restartLoops()
	log.Info().Str("show_id", show.ID.String()).Time("start", start).Msg("show scheduled")
	return show, nil
}

// StartNow replaces the current show with one that begins after a single
// countdown offset, already in the countdown state, and restarts the loops.
func (c *Coordinator) StartNow(ctx context.Context) (*models.Show, error) {
	start := c.clock.Now().Add(c.timing.Countdown)
	show, err := c.createShow(ctx, start, models.ShowStateCountdown)
	if err != nil {
		return nil, err
	}
	c.restartLoops()
	log.Info().Str("show_id", show.ID.String()).Time("start", start).Msg("show force-started")
	return show, nil
}

// Cancel forces the current show to ended regardless of its state, which
// also creates its successor, then restarts the loops.
func (c *Coordinator) Cancel(ctx context.Context) error {
	show := c.CurrentShow()
	if show == nil {
		return ErrNoShow
	}
	if err := c.transition(ctx, show.ID, models.ShowStateEnded); err != nil {
		return err
	}
	c.restartLoops()
	log.Info().Str("show_id", show.ID.String()).Msg("show cancelled")
	return nil
}

// evaluate advances the current show through every threshold that has been
// crossed, one transition per pass, so a stalled process catches up without
// ever skipping a state.
func (c *Coordinator) evaluate(ctx context.Context) error {
	for {
		show := c.CurrentShow()
		if show == nil {
			return nil
		}
		target, due := c.dueTransition(show)
		if !due {
			return nil
		}
		if err := c.transition(ctx, show.ID, target); err != nil {
			return err
		}
	}
}

// dueTransition returns the successor state if its entry threshold has
// passed.
func (c *Coordinator) dueTransition(show *models.Show) (models.ShowState, bool) {
	next, ok := show.State.Next()
	if !ok {
		return "", false
	}
	if c.clock.Now().Before(c.stateEntryAt(show, next)) {
		return "", false
	}
	return next, true
}

// stateEntryAt returns the wall-clock instant at which the show enters the
// given state, as a fixed offset from its start time.
func (c *Coordinator) stateEntryAt(show *models.Show, state models.ShowState) time.Time {
	start := show.StartTime
	switch state {
	case models.ShowStateLobbyOpen:
		return start.Add(-c.timing.LobbyOpen)
	case models.ShowStateCountdown:
		return start.Add(-c.timing.Countdown)
	case models.ShowStatePlaying:
		return start
	case models.ShowStateResults:
		return start.Add(c.timing.Playing)
	default: // ended
		return start.Add(c.timing.Playing + c.timing.Results)
	}
}

// transition applies a single state change exactly once. Re-evaluating with
// the state already advanced is a no-op, so racing callers never double-apply
// side effects.
func (c *Coordinator) transition(ctx context.Context, showID uuid.UUID, target models.ShowState) error {
	c.mu.Lock()
	show := c.current
	if show == nil || show.ID != showID || show.State == target {
		c.mu.Unlock()
		return nil
	}
	if err := c.store.UpdateShowState(ctx, show.ID, target); err != nil {
		c.mu.Unlock()
		return err
	}
	show.State = target
	snap := *show
	c.mu.Unlock()

	log.Info().
		Str("show_id", snap.ID.String()).
		Str("state", string(target)).
		Msg("show state changed")
	c.publishGlobal(events.TypeStateChanged, snap.ID, events.StateChangedPayload{
		ShowID: snap.ID.String(),
		State:  target,
	})

	switch target {
	case models.ShowStatePlaying:
		if err := c.enterPlaying(ctx, snap); err != nil {
			return err
		}
	case models.ShowStateResults:
		if err := c.enterResults(ctx, snap); err != nil {
			return err
		}
	case models.ShowStateEnded:
		if _, err := c.loadOrCreateShow(ctx); err != nil {
			return err
		}
	}

	return c.broadcastPresence(ctx, snap.ID)
}

// enterPlaying moves every pre-game participant into play and announces the
// session with its authoritative end time.
func (c *Coordinator) enterPlaying(ctx context.Context, show models.Show) error {
	from := []models.ParticipantStatus{models.StatusJoined, models.StatusReady}
	if err := c.store.BulkSetStatus(ctx, show.ID, from, models.StatusPlaying); err != nil {
		return err
	}
	c.publishToShow(events.TypeSessionStart, show.ID, events.SessionStartPayload{
		ShowID:    show.ID.String(),
		StartTime: show.StartTime.UnixMilli(),
		EndTime:   show.StartTime.Add(c.timing.Playing).UnixMilli(),
	})
	return nil
}

// enterResults finishes every surviving player and publishes the final
// ranking with the winner (ties broken by earlier join time).
func (c *Coordinator) enterResults(ctx context.Context, show models.Show) error {
	from := []models.ParticipantStatus{models.StatusPlaying}
	if err := c.store.BulkSetStatus(ctx, show.ID, from, models.StatusFinished); err != nil {
		return err
	}
	entries, err := c.boards.Leaderboard(ctx, show.ID)
	if err != nil {
		return err
	}
	c.publishToShow(events.TypeResultsFinal, show.ID, events.ResultsFinalPayload{
		ShowID:      show.ID.String(),
		Leaderboard: entries,
		Winner:      leaderboard.Winner(entries),
	})
	return nil
}

// loadOrCreateShow makes the latest stored show current, creating a fresh
// scheduled one when none exists or the latest reached its terminal state.
func (c *Coordinator) loadOrCreateShow(ctx context.Context) (*models.Show, error) {
	latest, err := c.store.LatestShow(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return c.createShow(ctx, c.nextShowStart(c.clock.Now()), models.ShowStateScheduled)
	}
	if err != nil {
		return nil, err
	}
	if latest.State.Terminal() {
		return c.createShow(ctx, c.nextShowStart(latest.StartTime), models.ShowStateScheduled)
	}
	c.setCurrent(latest)
	return latest, nil
}

// createShow inserts a new show and makes it current.
func (c *Coordinator) createShow(ctx context.Context, start time.Time, state models.ShowState) (*models.Show, error) {
	show := &models.Show{
		ID:        uuid.New(),
		StartTime: start,
		State:     state,
		CreatedAt: c.clock.Now(),
	}
	if err := c.store.CreateShow(ctx, show); err != nil {
		return nil, err
	}
	c.setCurrent(show)
	cp := *show
	return &cp, nil
}

func (c *Coordinator) setCurrent(show *models.Show) {
	c.mu.Lock()
	cp := *show
	c.current = &cp
	c.mu.Unlock()
}

// nextShowStart returns the next occurrence of the configured daily start
// time strictly after base.
func (c *Coordinator) nextShowStart(base time.Time) time.Time {
	start := time.Date(base.Year(), base.Month(), base.Day(),
		c.timing.StartHour, c.timing.StartMinute, 0, 0, base.Location())
	if !start.After(base) {
		start = start.AddDate(0, 0, 1)
	}
	return start
}

// restartLoops deterministically replaces both periodic loops. Admin
// overrides call this so ticks operate against the new show without ever
// accumulating duplicate loops.
func (c *Coordinator) restartLoops() {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()

	if c.loopCancel != nil {
		c.loopCancel()
		c.loopWG.Wait()
	}
	parent := c.runCtx
	if parent == nil {
		parent = context.Background()
	}
	loopCtx, cancel := context.WithCancel(parent)
	wg := &sync.WaitGroup{}
	c.loopCancel = cancel
	c.loopWG = wg

	wg.Add(2)
	go c.evaluateLoop(loopCtx, wg)
	go c.heartbeatLoop(loopCtx, wg)
}

func (c *Coordinator) stopLoops() {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()
	if c.loopCancel != nil {
		c.loopCancel()
		c.loopWG.Wait()
		c.loopCancel = nil
	}
}

// evaluateLoop drives the state machine at 1 Hz. Storage failures inside a
// tick are logged and the tick abandoned; the loop itself never dies.
func (c *Coordinator) evaluateLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := c.clock.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := c.evaluate(ctx); err != nil {
				log.Error().Err(err).Msg("show evaluation tick failed")
			}
		}
	}
}

// heartbeatLoop reports the current show and server time at 1 Hz. It never
// mutates state.
func (c *Coordinator) heartbeatLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	ticker := c.clock.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			c.heartbeat()
		}
	}
}

// heartbeat emits one global heartbeat-tick derived from the current show.
func (c *Coordinator) heartbeat() {
	show := c.CurrentShow()
	if show == nil {
		return
	}
	now := c.clock.Now()
	remaining := show.StartTime.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	c.publishGlobal(events.TypeHeartbeat, show.ID, events.HeartbeatPayload{
		ShowID:      show.ID.String(),
		State:       show.State,
		ServerTime:  now.UnixMilli(),
		StartTime:   show.StartTime.UnixMilli(),
		RemainingMs: remaining.Milliseconds(),
	})
}

func (c *Coordinator) broadcastPresence(ctx context.Context, showID uuid.UUID) error {
	entries, err := c.boards.Leaderboard(ctx, showID)
	if err != nil {
		return err
	}
	c.publishToShow(events.TypePresenceUpdated, showID, events.PresencePayload{
		ShowID:       showID.String(),
		Participants: entries,
	})
	return nil
}

func (c *Coordinator) publishGlobal(t events.Type, showID uuid.UUID, payload any) {
	ev, err := events.New(t, showID, c.clock.Now(), payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(t)).Msg("failed to build event")
		return
	}
	c.bc.PublishGlobal(ev)
}

func (c *Coordinator) publishToShow(t events.Type, showID uuid.UUID, payload any) {
	ev, err := events.New(t, showID, c.clock.Now(), payload)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(t)).Msg("failed to build event")
		return
	}
	c.bc.PublishToShow(showID, ev)
}
