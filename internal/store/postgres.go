package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/openarcade/showrunner/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id         UUID PRIMARY KEY,
	phone      TEXT UNIQUE,
	name       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS shows (
	id         UUID PRIMARY KEY,
	start_time TIMESTAMPTZ NOT NULL,
	state      TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS show_players (
	id            UUID PRIMARY KEY,
	show_id       UUID NOT NULL REFERENCES shows (id),
	user_id       UUID NOT NULL REFERENCES users (id),
	joined_at     TIMESTAMPTZ NOT NULL,
	status        TEXT NOT NULL,
	score         INTEGER NOT NULL DEFAULT 0 CHECK (score >= 0),
	eliminated_at TIMESTAMPTZ,
	UNIQUE (show_id, user_id)
);
`

// Postgres implements Store on top of a Postgres database using the pgx
// stdlib driver.
type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects to the database at dsn and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Postgres{db: db}, nil
}

// InitSchema creates the tables this store needs. The UNIQUE (show_id,
// user_id) constraint backs EnsureParticipant's insert-or-fetch.
func (s *Postgres) InitSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to init schema: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Postgres) Close() error {
	return s.db.Close()
}

func (s *Postgres) CreateShow(ctx context.Context, show *models.Show) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO shows (id, start_time, state, created_at) VALUES ($1, $2, $3, $4)`,
		show.ID, show.StartTime, show.State, show.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create show: %w", err)
	}
	return nil
}

func (s *Postgres) LatestShow(ctx context.Context) (*models.Show, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, start_time, state, created_at FROM shows ORDER BY start_time DESC LIMIT 1`)
	var show models.Show
	if err := row.Scan(&show.ID, &show.StartTime, &show.State, &show.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get latest show: %w", err)
	}
	return &show, nil
}

func (s *Postgres) UpdateShowState(ctx context.Context, id uuid.UUID, state models.ShowState) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE shows SET state = $1 WHERE id = $2`, state, id)
	if err != nil {
		return fmt.Errorf("failed to update show state: %w", err)
	}
	return nil
}

func (s *Postgres) CreateUser(ctx context.Context, user *models.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, phone, name, created_at) VALUES ($1, NULLIF($2, ''), $3, $4)`,
		user.ID, user.Phone, user.Name, user.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (s *Postgres) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, COALESCE(phone, ''), name, created_at FROM users WHERE id = $1`, id)
	var user models.User
	if err := row.Scan(&user.ID, &user.Phone, &user.Name, &user.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &user, nil
}

func (s *Postgres) EnsureParticipant(ctx context.Context, p *models.Participant) (*models.Participant, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO show_players (id, show_id, user_id, joined_at, status, score, eliminated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (show_id, user_id) DO NOTHING
		 RETURNING id, show_id, user_id, joined_at, status, score, eliminated_at`,
		p.ID, p.ShowID, p.UserID, p.JoinedAt, p.Status, p.Score, p.EliminatedAt)

	inserted, err := scanParticipant(row)
	if err == nil {
		return inserted, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("failed to ensure participant: %w", err)
	}

	// Conflict: another caller won the insert. Fetch the surviving record.
	existing, err := s.GetParticipant(ctx, p.ShowID, p.UserID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (s *Postgres) GetParticipant(ctx context.Context, showID, userID uuid.UUID) (*models.Participant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, show_id, user_id, joined_at, status, score, eliminated_at
		 FROM show_players WHERE show_id = $1 AND user_id = $2`, showID, userID)
	p, err := scanParticipant(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	return p, nil
}

func (s *Postgres) RecordScore(ctx context.Context, showID, userID uuid.UUID, score int, eliminatedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE show_players SET score = $1, status = $2, eliminated_at = $3
		 WHERE show_id = $4 AND user_id = $5`,
		score, models.StatusEliminated, eliminatedAt, showID, userID)
	if err != nil {
		return fmt.Errorf("failed to record score: %w", err)
	}
	return nil
}

func (s *Postgres) BulkSetStatus(ctx context.Context, showID uuid.UUID, from []models.ParticipantStatus, to models.ParticipantStatus) error {
	if len(from) == 0 {
		return nil
	}
	placeholders := make([]string, len(from))
	args := []any{to, showID}
	for i, st := range from {
		placeholders[i] = fmt.Sprintf("$%d", i+3)
		args = append(args, st)
	}
	query := fmt.Sprintf(
		`UPDATE show_players SET status = $1 WHERE show_id = $2 AND status IN (%s)`,
		strings.Join(placeholders, ", "))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to bulk set status: %w", err)
	}
	return nil
}

func (s *Postgres) EliminateIfPlaying(ctx context.Context, showID, userID uuid.UUID, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE show_players SET status = $1, eliminated_at = $2
		 WHERE show_id = $3 AND user_id = $4 AND status = $5`,
		models.StatusEliminated, at, showID, userID, models.StatusPlaying)
	if err != nil {
		return fmt.Errorf("failed to eliminate participant: %w", err)
	}
	return nil
}

func (s *Postgres) Leaderboard(ctx context.Context, showID uuid.UUID) ([]models.LeaderboardEntry, error) {
	// LEFT JOIN so a participant row whose user is missing still ranks (with
	// an empty name), matching the in-memory store.
	rows, err := s.db.QueryContext(ctx,
		`SELECT sp.user_id, COALESCE(u.name, ''), sp.status, sp.score, sp.joined_at, sp.eliminated_at
		 FROM show_players sp
		 LEFT JOIN users u ON u.id = sp.user_id
		 WHERE sp.show_id = $1
		 ORDER BY sp.score DESC, sp.joined_at ASC`, showID)
	if err != nil {
		return nil, fmt.Errorf("failed to query leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []models.LeaderboardEntry
	for rows.Next() {
		var e models.LeaderboardEntry
		var eliminatedAt sql.NullTime
		if err := rows.Scan(&e.UserID, &e.Name, &e.Status, &e.Score, &e.JoinedAt, &eliminatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard row: %w", err)
		}
		if eliminatedAt.Valid {
			e.EliminatedAt = &eliminatedAt.Time
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read leaderboard rows: %w", err)
	}
	return entries, nil
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanParticipant(row rowScanner) (*models.Participant, error) {
	var p models.Participant
	var eliminatedAt sql.NullTime
	if err := row.Scan(&p.ID, &p.ShowID, &p.UserID, &p.JoinedAt, &p.Status, &p.Score, &eliminatedAt); err != nil {
		return nil, err
	}
	if eliminatedAt.Valid {
		p.EliminatedAt = &eliminatedAt.Time
	}
	return &p, nil
}
