// Package gateway is the real-time broadcast surface: it authenticates
// websocket handshakes, tracks room membership per show, and fans
// authoritative events out to connected clients.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/openarcade/showrunner/internal/auth"
	"github.com/openarcade/showrunner/internal/events"
)

// Config holds websocket connection tuning.
type Config struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConfig returns the default websocket configuration.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// session receives inbound client traffic and connection lifecycle events.
type session interface {
	HandleMessage(ctx context.Context, conn *Connection, raw []byte)
	HandleClose(conn *Connection)
}

// Manager owns every live connection. Connections are in the global
// broadcast scope from the handshake on and join a show room only on
// explicit request.
type Manager struct {
	mu     sync.RWMutex
	conns  map[*Connection]bool
	rooms  map[uuid.UUID]map[*Connection]bool
	runCtx context.Context

	upgrader websocket.Upgrader
	config   Config
	session  session
}

// Connection is one client websocket.
type Connection struct {
	ID       string
	Identity auth.Identity
	Conn     *websocket.Conn
	Send     chan []byte
	Manager  *Manager

	ConnectedAt time.Time
	LastPing    time.Time

	mu     sync.Mutex
	showID uuid.UUID // room membership; Nil until join-room
	closed bool
}

// ShowID returns the room this connection joined, or uuid.Nil.
func (c *Connection) ShowID() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.showID
}

// NewManager creates a connection manager.
func NewManager(config Config) *Manager {
	return &Manager{
		conns:  make(map[*Connection]bool),
		rooms:  make(map[uuid.UUID]map[*Connection]bool),
		runCtx: context.Background(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
	}
}

// Bind attaches the inbound session handler. Must be called before any
// connection is upgraded.
func (m *Manager) Bind(s session) {
	m.session = s
}

// Start parks until ctx is cancelled, then closes every connection. Inbound
// messages dispatched after Start use ctx.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.runCtx = ctx
	m.mu.Unlock()
	log.Info().Msg("gateway connection manager started")
	<-ctx.Done()
	m.closeAll()
	log.Info().Msg("gateway connection manager shut down")
}

// Upgrade promotes an authenticated HTTP request to a websocket connection
// and starts its pumps.
func (m *Manager) Upgrade(w http.ResponseWriter, r *http.Request, identity auth.Identity) (*Connection, error) {
	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	conn := &Connection{
		ID:          uuid.New().String(),
		Identity:    identity,
		Conn:        ws,
		Send:        make(chan []byte, 256),
		Manager:     m,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
	}

	m.mu.Lock()
	m.conns[conn] = true
	m.mu.Unlock()

	go conn.writePump()
	go conn.readPump()

	log.Info().
		Str("connection_id", conn.ID).
		Str("user_id", identity.UserID.String()).
		Msg("websocket connection established")
	return conn, nil
}

// JoinRoom moves the connection into the room for showID. Re-joining the
// same room is a no-op.
func (m *Manager) JoinRoom(conn *Connection, showID uuid.UUID) {
	conn.mu.Lock()
	prev := conn.showID
	conn.showID = showID
	conn.mu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if prev != uuid.Nil && prev != showID {
		m.removeFromRoomLocked(conn, prev)
	}
	if m.rooms[showID] == nil {
		m.rooms[showID] = make(map[*Connection]bool)
	}
	m.rooms[showID][conn] = true
}

// PublishGlobal delivers the event to every connection and returns the
// recipient count.
func (m *Manager) PublishGlobal(ev *events.Event) int {
	m.mu.RLock()
	targets := make([]*Connection, 0, len(m.conns))
	for conn := range m.conns {
		targets = append(targets, conn)
	}
	m.mu.RUnlock()
	return m.deliver(targets, ev)
}

// PublishToShow delivers the event to the show's room and returns the
// recipient count.
func (m *Manager) PublishToShow(showID uuid.UUID, ev *events.Event) int {
	m.mu.RLock()
	room := m.rooms[showID]
	targets := make([]*Connection, 0, len(room))
	for conn := range room {
		targets = append(targets, conn)
	}
	m.mu.RUnlock()
	return m.deliver(targets, ev)
}

// SendEvent delivers the event to a single connection.
func (m *Manager) SendEvent(conn *Connection, ev *events.Event) {
	m.deliver([]*Connection{conn}, ev)
}

// deliver marshals the event once and writes it to each target's send
// buffer. A full buffer means a slow or dead client; it is dropped.
func (m *Manager) deliver(targets []*Connection, ev *events.Event) int {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(ev.Type)).Msg("failed to marshal event for broadcast")
		return 0
	}

	delivered := 0
	for _, conn := range targets {
		// The closed check and the send hold conn.mu together: unregister
		// flips closed under the same lock before it closes Send, so a send
		// can never race the close.
		conn.mu.Lock()
		if conn.closed {
			conn.mu.Unlock()
			continue
		}
		select {
		case conn.Send <- data:
			conn.mu.Unlock()
			delivered++
		default:
			conn.mu.Unlock()
			log.Warn().
				Str("connection_id", conn.ID).
				Str("user_id", conn.Identity.UserID.String()).
				Msg("send buffer full, dropping connection")
			m.unregister(conn)
			conn.Conn.Close()
		}
	}

	log.Debug().
		Str("event_type", string(ev.Type)).
		Int("recipients", delivered).
		Msg("event published")
	return delivered
}

// ConnectionCount returns the number of live connections.
func (m *Manager) ConnectionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// RoomCount returns the number of connections in the show's room.
func (m *Manager) RoomCount(showID uuid.UUID) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms[showID])
}

func (m *Manager) unregister(conn *Connection) {
	conn.mu.Lock()
	if conn.closed {
		conn.mu.Unlock()
		return
	}
	conn.closed = true
	room := conn.showID
	conn.mu.Unlock()

	m.mu.Lock()
	delete(m.conns, conn)
	if room != uuid.Nil {
		m.removeFromRoomLocked(conn, room)
	}
	m.mu.Unlock()
	close(conn.Send)

	log.Info().
		Str("connection_id", conn.ID).
		Str("user_id", conn.Identity.UserID.String()).
		Msg("connection unregistered")
}

func (m *Manager) removeFromRoomLocked(conn *Connection, showID uuid.UUID) {
	if room, ok := m.rooms[showID]; ok {
		delete(room, conn)
		if len(room) == 0 {
			delete(m.rooms, showID)
		}
	}
}

func (m *Manager) closeAll() {
	m.mu.RLock()
	targets := make([]*Connection, 0, len(m.conns))
	for conn := range m.conns {
		targets = append(targets, conn)
	}
	m.mu.RUnlock()
	for _, conn := range targets {
		m.unregister(conn)
		conn.Conn.Close()
	}
}

// writePump serializes all writes to the websocket, including pings.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregister(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to write message")
				return
			}
		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			c.LastPing = time.Now()
		}
	}
}

// readPump dispatches inbound messages to the session handler and reports
// the close when the client goes away.
func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregister(c)
		c.Conn.Close()
		if c.Manager.session != nil {
			c.Manager.session.HandleClose(c)
		}
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.LastPing = time.Now()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("unexpected websocket close")
			}
			break
		}
		if c.Manager.session != nil {
			c.Manager.mu.RLock()
			ctx := c.Manager.runCtx
			c.Manager.mu.RUnlock()
			c.Manager.session.HandleMessage(ctx, c, message)
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
