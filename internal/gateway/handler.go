package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/openarcade/showrunner/internal/auth"
	"github.com/openarcade/showrunner/internal/events"
	"github.com/openarcade/showrunner/internal/models"
	"github.com/openarcade/showrunner/internal/scoring"
)

// Client-to-server message types on the real-time channel.
const (
	msgJoinRoom    = "join-room"
	msgSubmitScore = "submit-score"
)

// clientMessage is the inbound frame. Seq correlates the ack for requests
// that are acknowledged.
type clientMessage struct {
	Type    string          `json:"type"`
	Seq     int64           `json:"seq"`
	Payload json.RawMessage `json:"payload"`
}

type joinRoomPayload struct {
	ShowID string `json:"showId"`
}

// Verifier validates session credentials presented at handshake.
type Verifier interface {
	VerifySession(token string) (auth.Identity, error)
}

// PresenceRegistry is the presence/session registry consumed by the gateway.
type PresenceRegistry interface {
	Join(ctx context.Context, requested uuid.UUID, id auth.Identity) (uuid.UUID, []models.LeaderboardEntry, error)
	Disconnect(id auth.Identity)
}

// ScoreSubmitter accepts or rejects score submissions.
type ScoreSubmitter interface {
	Submit(ctx context.Context, id auth.Identity, p scoring.SubmitPayload) scoring.Ack
}

// Handler authenticates handshakes and routes inbound real-time events into
// the registry and the score validator.
type Handler struct {
	mgr      *Manager
	verifier Verifier
	registry PresenceRegistry
	scorer   ScoreSubmitter
	clock    clockwork.Clock
}

// NewHandler wires the gateway's inbound side and binds it to the manager.
func NewHandler(mgr *Manager, verifier Verifier, registry PresenceRegistry, scorer ScoreSubmitter, clock clockwork.Clock) *Handler {
	h := &Handler{
		mgr:      mgr,
		verifier: verifier,
		registry: registry,
		scorer:   scorer,
		clock:    clock,
	}
	mgr.Bind(h)
	return h
}

// ServeHTTP handles the websocket handshake. A missing or invalid session
// credential rejects the connection before any event is processed.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := credentialFromRequest(r)
	if token == "" {
		http.Error(w, "missing credential", http.StatusUnauthorized)
		return
	}
	identity, err := h.verifier.VerifySession(token)
	if err != nil {
		log.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("websocket handshake rejected")
		http.Error(w, "invalid credential", http.StatusUnauthorized)
		return
	}
	if _, err := h.mgr.Upgrade(w, r, identity); err != nil {
		log.Error().Err(err).Str("user_id", identity.UserID.String()).Msg("websocket upgrade failed")
	}
}

// HandleMessage routes one inbound frame.
func (h *Handler) HandleMessage(ctx context.Context, conn *Connection, raw []byte) {
	var msg clientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.Debug().Err(err).Str("connection_id", conn.ID).Msg("discarding malformed frame")
		return
	}

	switch msg.Type {
	case msgJoinRoom:
		h.handleJoinRoom(ctx, conn, msg)
	case msgSubmitScore:
		h.handleSubmitScore(ctx, conn, msg)
	default:
		log.Warn().Str("type", msg.Type).Str("connection_id", conn.ID).Msg("unknown client message type")
	}
}

// HandleClose feeds the socket close into the presence registry, which
// decides whether a grace window applies.
func (h *Handler) HandleClose(conn *Connection) {
	h.registry.Disconnect(conn.Identity)
}

func (h *Handler) handleJoinRoom(ctx context.Context, conn *Connection, msg clientMessage) {
	var p joinRoomPayload
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			log.Debug().Err(err).Str("connection_id", conn.ID).Msg("bad join-room payload")
			return
		}
	}
	requested, _ := uuid.Parse(p.ShowID) // Nil on parse failure; registry pins anyway

	showID, entries, err := h.registry.Join(ctx, requested, conn.Identity)
	if err != nil {
		log.Error().Err(err).Str("user_id", conn.Identity.UserID.String()).Msg("join failed")
		return
	}
	h.mgr.JoinRoom(conn, showID)

	// The joiner always gets the roster directly, even if the room broadcast
	// raced their membership.
	ev, err := events.New(events.TypePresenceUpdated, showID, h.clock.Now(), events.PresencePayload{
		ShowID:       showID.String(),
		Participants: entries,
	})
	if err != nil {
		return
	}
	h.mgr.SendEvent(conn, ev)
}

func (h *Handler) handleSubmitScore(ctx context.Context, conn *Connection, msg clientMessage) {
	var p scoring.SubmitPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		h.sendAck(conn, msg.Seq, scoring.Ack{Error: scoring.ReasonBadPayload})
		return
	}
	h.sendAck(conn, msg.Seq, h.scorer.Submit(ctx, conn.Identity, p))
}

func (h *Handler) sendAck(conn *Connection, seq int64, ack scoring.Ack) {
	ev, err := events.New(events.TypeAck, uuid.Nil, h.clock.Now(), events.AckPayload{
		Seq:   seq,
		OK:    ack.OK,
		Error: ack.Error,
	})
	if err != nil {
		return
	}
	h.mgr.SendEvent(conn, ev)
}

// credentialFromRequest pulls the session token from the query string or a
// bearer header.
func credentialFromRequest(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}
