package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openarcade/showrunner/internal/auth"
	"github.com/openarcade/showrunner/internal/events"
	"github.com/openarcade/showrunner/internal/models"
	"github.com/openarcade/showrunner/internal/scoring"
)

type fakeRegistry struct {
	showID       uuid.UUID
	entries      []models.LeaderboardEntry
	disconnected chan auth.Identity
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		showID:       uuid.New(),
		disconnected: make(chan auth.Identity, 4),
	}
}

func (f *fakeRegistry) Join(_ context.Context, _ uuid.UUID, id auth.Identity) (uuid.UUID, []models.LeaderboardEntry, error) {
	return f.showID, f.entries, nil
}

func (f *fakeRegistry) Disconnect(id auth.Identity) {
	select {
	case f.disconnected <- id:
	default:
	}
}

type fakeScorer struct {
	ack scoring.Ack
}

func (f *fakeScorer) Submit(context.Context, auth.Identity, scoring.SubmitPayload) scoring.Ack {
	return f.ack
}

type testGateway struct {
	mgr      *Manager
	registry *fakeRegistry
	scorer   *fakeScorer
	auth     *auth.Manager
	server   *httptest.Server
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()
	mgr := NewManager(DefaultConfig())
	registry := newFakeRegistry()
	scorer := &fakeScorer{ack: scoring.Ack{OK: true}}
	am := auth.NewManager("test-secret", "")
	h := NewHandler(mgr, am, registry, scorer, clockwork.NewRealClock())

	server := httptest.NewServer(h)
	t.Cleanup(server.Close)
	return &testGateway{mgr: mgr, registry: registry, scorer: scorer, auth: am, server: server}
}

func (g *testGateway) dial(t *testing.T, id auth.Identity) *websocket.Conn {
	t.Helper()
	token, err := g.auth.IssueSession(id)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(g.server.URL, "http") + "?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) *events.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev events.Event
	require.NoError(t, json.Unmarshal(data, &ev))
	return &ev
}

func writeMessage(t *testing.T, conn *websocket.Conn, msgType string, seq int64, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	frame, err := json.Marshal(clientMessage{Type: msgType, Seq: seq, Payload: data})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

func TestHandshakeRejectsMissingCredential(t *testing.T) {
	g := newTestGateway(t)

	resp, err := http.Get(g.server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandshakeRejectsInvalidCredential(t *testing.T) {
	g := newTestGateway(t)

	resp, err := http.Get(g.server.URL + "?token=forged")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestJoinRoomDeliversPresenceToJoiner(t *testing.T) {
	g := newTestGateway(t)
	id := auth.Identity{UserID: uuid.New(), Name: "Ada"}
	g.registry.entries = []models.LeaderboardEntry{{UserID: id.UserID, Name: "Ada", Status: models.StatusJoined}}

	conn := g.dial(t, id)
	writeMessage(t, conn, msgJoinRoom, 1, joinRoomPayload{ShowID: g.registry.showID.String()})

	ev := readEvent(t, conn)
	assert.Equal(t, events.TypePresenceUpdated, ev.Type)

	var presence events.PresencePayload
	require.NoError(t, json.Unmarshal(ev.Data, &presence))
	require.Len(t, presence.Participants, 1)
	assert.Equal(t, "Ada", presence.Participants[0].Name)

	assert.Eventually(t, func() bool {
		return g.mgr.RoomCount(g.registry.showID) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestPublishScopes(t *testing.T) {
	g := newTestGateway(t)

	inRoom := g.dial(t, auth.Identity{UserID: uuid.New(), Name: "Ada"})
	lurker := g.dial(t, auth.Identity{UserID: uuid.New(), Name: "Grace"})

	require.Eventually(t, func() bool {
		return g.mgr.ConnectionCount() == 2
	}, time.Second, 10*time.Millisecond)

	writeMessage(t, inRoom, msgJoinRoom, 1, joinRoomPayload{ShowID: g.registry.showID.String()})
	readEvent(t, inRoom) // presence sent to the joiner
	require.Eventually(t, func() bool {
		return g.mgr.RoomCount(g.registry.showID) == 1
	}, time.Second, 10*time.Millisecond)

	global, err := events.New(events.TypeHeartbeat, g.registry.showID, time.Now(), events.HeartbeatPayload{})
	require.NoError(t, err)
	assert.Equal(t, 2, g.mgr.PublishGlobal(global))

	scoped, err := events.New(events.TypeSessionStart, g.registry.showID, time.Now(), events.SessionStartPayload{})
	require.NoError(t, err)
	assert.Equal(t, 1, g.mgr.PublishToShow(g.registry.showID, scoped))

	// Both clients see the global event; only the room member sees the scoped
	// one.
	assert.Equal(t, events.TypeHeartbeat, readEvent(t, inRoom).Type)
	assert.Equal(t, events.TypeSessionStart, readEvent(t, inRoom).Type)
	assert.Equal(t, events.TypeHeartbeat, readEvent(t, lurker).Type)
}

func TestSubmitScoreAckCorrelatesSeq(t *testing.T) {
	g := newTestGateway(t)
	g.scorer.ack = scoring.Ack{Error: scoring.ReasonRateLimited}

	conn := g.dial(t, auth.Identity{UserID: uuid.New(), Name: "Ada"})
	writeMessage(t, conn, msgSubmitScore, 42, scoring.SubmitPayload{})

	ev := readEvent(t, conn)
	assert.Equal(t, events.TypeAck, ev.Type)

	var ack events.AckPayload
	require.NoError(t, json.Unmarshal(ev.Data, &ack))
	assert.Equal(t, int64(42), ack.Seq)
	assert.False(t, ack.OK)
	assert.Equal(t, scoring.ReasonRateLimited, ack.Error)
}

func TestMalformedSubmitGetsBadPayloadAck(t *testing.T) {
	g := newTestGateway(t)

	conn := g.dial(t, auth.Identity{UserID: uuid.New(), Name: "Ada"})
	frame, err := json.Marshal(clientMessage{Type: msgSubmitScore, Seq: 7, Payload: json.RawMessage(`"scalar"`)})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))

	ev := readEvent(t, conn)
	var ack events.AckPayload
	require.NoError(t, json.Unmarshal(ev.Data, &ack))
	assert.Equal(t, int64(7), ack.Seq)
	assert.Equal(t, scoring.ReasonBadPayload, ack.Error)
}

// Broadcasting while a connection is being torn down must never send on the
// closed channel. Run with -race to catch regressions in the lock ordering.
func TestDeliverDuringUnregister(t *testing.T) {
	mgr := NewManager(DefaultConfig())

	for i := 0; i < 500; i++ {
		conn := &Connection{
			ID:      uuid.New().String(),
			Send:    make(chan []byte, 8),
			Manager: mgr,
		}
		mgr.mu.Lock()
		mgr.conns[conn] = true
		mgr.mu.Unlock()

		ev, err := events.New(events.TypeHeartbeat, uuid.Nil, time.Now(), events.HeartbeatPayload{})
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			mgr.PublishGlobal(ev)
		}()
		go func() {
			defer wg.Done()
			mgr.unregister(conn)
		}()
		wg.Wait()
	}
	assert.Zero(t, mgr.ConnectionCount())
}

func TestCloseNotifiesRegistry(t *testing.T) {
	g := newTestGateway(t)
	id := auth.Identity{UserID: uuid.New(), Name: "Ada"}

	conn := g.dial(t, id)
	conn.Close()

	select {
	case got := <-g.registry.disconnected:
		assert.Equal(t, id.UserID, got.UserID)
	case <-time.After(2 * time.Second):
		t.Fatal("registry was not notified of the disconnect")
	}
}
