package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openarcade/showrunner/internal/models"
)

// Memory is an in-process Store. It backs dev mode when no DATABASE_URL is
// configured, and the package tests. Semantics match the Postgres store,
// including the (show, user) uniqueness behind EnsureParticipant.
type Memory struct {
	mu           sync.Mutex
	shows        map[uuid.UUID]*models.Show
	users        map[uuid.UUID]*models.User
	participants map[uuid.UUID]map[uuid.UUID]*models.Participant // show -> user
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		shows:        make(map[uuid.UUID]*models.Show),
		users:        make(map[uuid.UUID]*models.User),
		participants: make(map[uuid.UUID]map[uuid.UUID]*models.Participant),
	}
}

func (s *Memory) CreateShow(_ context.Context, show *models.Show) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *show
	s.shows[show.ID] = &cp
	return nil
}

func (s *Memory) LatestShow(_ context.Context) (*models.Show, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.Show
	for _, show := range s.shows {
		if latest == nil || show.StartTime.After(latest.StartTime) {
			latest = show
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (s *Memory) UpdateShowState(_ context.Context, id uuid.UUID, state models.ShowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if show, ok := s.shows[id]; ok {
		show.State = state
	}
	return nil
}

func (s *Memory) CreateUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *user
	s.users[user.ID] = &cp
	return nil
}

func (s *Memory) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *user
	return &cp, nil
}

func (s *Memory) EnsureParticipant(_ context.Context, p *models.Participant) (*models.Participant, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	byUser, ok := s.participants[p.ShowID]
	if !ok {
		byUser = make(map[uuid.UUID]*models.Participant)
		s.participants[p.ShowID] = byUser
	}
	if existing, ok := byUser[p.UserID]; ok {
		cp := *existing
		return &cp, false, nil
	}
	cp := *p
	byUser[p.UserID] = &cp
	out := cp
	return &out, true, nil
}

func (s *Memory) GetParticipant(_ context.Context, showID, userID uuid.UUID) (*models.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.participants[showID][userID]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (s *Memory) RecordScore(_ context.Context, showID, userID uuid.UUID, score int, eliminatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.participants[showID][userID]; ok {
		p.Score = score
		p.Status = models.StatusEliminated
		at := eliminatedAt
		p.EliminatedAt = &at
	}
	return nil
}

func (s *Memory) BulkSetStatus(_ context.Context, showID uuid.UUID, from []models.ParticipantStatus, to models.ParticipantStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.participants[showID] {
		for _, st := range from {
			if p.Status == st {
				p.Status = to
				break
			}
		}
	}
	return nil
}

func (s *Memory) EliminateIfPlaying(_ context.Context, showID, userID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.participants[showID][userID]; ok && p.Status == models.StatusPlaying {
		p.Status = models.StatusEliminated
		t := at
		p.EliminatedAt = &t
	}
	return nil
}

func (s *Memory) Leaderboard(_ context.Context, showID uuid.UUID) ([]models.LeaderboardEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]models.LeaderboardEntry, 0, len(s.participants[showID]))
	for _, p := range s.participants[showID] {
		name := ""
		if u, ok := s.users[p.UserID]; ok {
			name = u.Name
		}
		entries = append(entries, models.LeaderboardEntry{
			UserID:       p.UserID,
			Name:         name,
			Status:       p.Status,
			Score:        p.Score,
			JoinedAt:     p.JoinedAt,
			EliminatedAt: p.EliminatedAt,
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].JoinedAt.Before(entries[j].JoinedAt)
	})
	return entries, nil
}

func (s *Memory) Ping(context.Context) error {
	return nil
}
