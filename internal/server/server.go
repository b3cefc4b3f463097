// Package server is the HTTP surface: session issuance, read-only show and
// leaderboard queries, the admin override endpoints and the websocket
// handshake route.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/openarcade/showrunner/internal/auth"
	"github.com/openarcade/showrunner/internal/coordinator"
	"github.com/openarcade/showrunner/internal/leaderboard"
	"github.com/openarcade/showrunner/internal/models"
	"github.com/openarcade/showrunner/internal/store"
)

// Server wires the REST handlers around the coordinator and the store.
type Server struct {
	coord  *coordinator.Coordinator
	boards *leaderboard.Aggregator
	store  store.Store
	auth   *auth.Manager
	ws     http.Handler
	clock  clockwork.Clock

	adminPassword string
	corsOrigins   []string
}

// New creates a Server. ws handles the websocket handshake route. An empty
// adminPassword disables the admin login endpoint.
func New(coord *coordinator.Coordinator, boards *leaderboard.Aggregator, s store.Store, am *auth.Manager, ws http.Handler, clock clockwork.Clock, adminPassword string, corsOrigins []string) *Server {
	return &Server{
		coord:         coord,
		boards:        boards,
		store:         s,
		auth:          am,
		ws:            ws,
		clock:         clock,
		adminPassword: adminPassword,
		corsOrigins:   corsOrigins,
	}
}

// Routes builds the full handler chain, CORS included.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/session", s.handleCreateSession)
	mux.HandleFunc("GET /api/show/next", s.handleNextShow)
	mux.HandleFunc("GET /api/show/{id}/leaderboard", s.handleLeaderboard)
	mux.HandleFunc("GET /api/health/db", s.handleHealth)

	mux.HandleFunc("POST /api/admin/login", s.handleAdminLogin)
	mux.Handle("POST /api/admin/show/schedule", s.requireAdmin(s.handleScheduleShow))
	mux.Handle("POST /api/admin/show/now", s.requireAdmin(s.handleStartNow))
	mux.Handle("POST /api/admin/show/cancel", s.requireAdmin(s.handleCancelShow))

	mux.Handle("GET /ws", s.ws)

	c := cors.New(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})
	return c.Handler(mux)
}

type createSessionRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type createSessionResponse struct {
	Token string       `json:"token"`
	User  *models.User `json:"user"`
}

// handleCreateSession registers a display name and returns the signed session
// credential the websocket handshake expects.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	user := &models.User{
		ID:        uuid.New(),
		Name:      req.Name,
		Phone:     req.Phone,
		CreatedAt: s.clock.Now(),
	}
	if err := s.store.CreateUser(r.Context(), user); err != nil {
		log.Error().Err(err).Msg("failed to create user")
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	token, err := s.auth.IssueSession(auth.Identity{UserID: user.ID, Name: user.Name})
	if err != nil {
		log.Error().Err(err).Msg("failed to issue session credential")
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	writeJSON(w, http.StatusCreated, createSessionResponse{Token: token, User: user})
}

// handleNextShow reports the current show alongside the authoritative server
// time, so clients can render countdowns without trusting their own clock.
func (s *Server) handleNextShow(w http.ResponseWriter, r *http.Request) {
	show := s.coord.CurrentShow()
	if show == nil {
		writeError(w, http.StatusServiceUnavailable, "no show available")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"show":       show,
		"serverTime": s.clock.Now().UnixMilli(),
	})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	showID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid show id")
		return
	}
	entries, err := s.boards.Leaderboard(r.Context(), showID)
	if err != nil {
		log.Error().Err(err).Str("show_id", showID.String()).Msg("failed to load leaderboard")
		writeError(w, http.StatusInternalServerError, "failed to load leaderboard")
		return
	}
	if entries == nil {
		entries = []models.LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"leaderboard": entries})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		log.Error().Err(err).Msg("database health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type adminLoginRequest struct {
	Password string `json:"password"`
}

// handleAdminLogin exchanges the operator password for the admin credential
// the override endpoints require.
func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	if s.adminPassword == "" {
		writeError(w, http.StatusNotFound, "admin login disabled")
		return
	}
	var req adminLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if subtle.ConstantTimeCompare([]byte(req.Password), []byte(s.adminPassword)) != 1 {
		log.Warn().Str("remote", r.RemoteAddr).Msg("admin login rejected")
		writeError(w, http.StatusUnauthorized, "invalid password")
		return
	}
	token, err := s.auth.IssueAdmin()
	if err != nil {
		log.Error().Err(err).Msg("failed to issue admin credential")
		writeError(w, http.StatusInternalServerError, "failed to issue credential")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

type scheduleShowRequest struct {
	StartTime string `json:"startTime"`
}

func (s *Server) handleScheduleShow(w http.ResponseWriter, r *http.Request) {
	var req scheduleShowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "startTime must be RFC 3339")
		return
	}
	show, err := s.coord.Schedule(r.Context(), start)
	if err != nil {
		log.Error().Err(err).Msg("failed to schedule show")
		writeError(w, http.StatusInternalServerError, "failed to schedule show")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"show": show})
}

func (s *Server) handleStartNow(w http.ResponseWriter, r *http.Request) {
	show, err := s.coord.StartNow(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("failed to force-start show")
		writeError(w, http.StatusInternalServerError, "failed to start show")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"show": show})
}

func (s *Server) handleCancelShow(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.Cancel(r.Context()); err != nil {
		if errors.Is(err, coordinator.ErrNoShow) {
			writeError(w, http.StatusConflict, "no show to cancel")
			return
		}
		log.Error().Err(err).Msg("failed to cancel show")
		writeError(w, http.StatusInternalServerError, "failed to cancel show")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// requireAdmin gates the override endpoints behind the admin credential.
func (s *Server) requireAdmin(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" || token == header {
			writeError(w, http.StatusUnauthorized, "missing credential")
			return
		}
		if err := s.auth.VerifyAdmin(token); err != nil {
			log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("admin request rejected")
			writeError(w, http.StatusForbidden, "invalid credential")
			return
		}
		next(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
