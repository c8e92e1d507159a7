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
)

// ConnectionManager manages the websocket connections mirroring each room.
type ConnectionManager struct {
	// Connection pools organized by room id
	roomConnections map[string]map[*Connection]bool
	mu              sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	broadcastCh chan BroadcastMessage
}

// Connection represents one participant's websocket. Send is never closed;
// done signals shutdown, after which queued and new frames are dropped. That
// keeps every sender safe against a concurrent unregister.
type Connection struct {
	ID      string
	UID     string
	RoomID  string
	Conn    *websocket.Conn
	Send    chan []byte
	Manager *ConnectionManager

	// OnMessage handles an inbound client frame (a player action).
	OnMessage func(data []byte)
	// OnClose runs once when the connection unregisters.
	OnClose func()

	ConnectedAt time.Time
	LastPing    time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// ConnectionConfig holds configuration for websocket connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage represents a message to broadcast to a room's connections.
type BroadcastMessage struct {
	RoomID  string
	Payload []byte
	UID     string // Optional: if set, only send to this participant
}

// DefaultConnectionConfig returns default websocket configuration.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewConnectionManager creates a new websocket connection manager.
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		roomConnections: make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan BroadcastMessage, 1000),
	}
}

// Start begins processing broadcast messages.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// Upgrade upgrades an HTTP request to a websocket and registers the
// connection under its room.
func (cm *ConnectionManager) Upgrade(w http.ResponseWriter, r *http.Request, uid, roomID string) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:          uuid.NewString(),
		UID:         uid,
		RoomID:      roomID,
		Conn:        conn,
		Send:        make(chan []byte, 256),
		Manager:     cm,
		ConnectedAt: time.Now(),
		LastPing:    time.Now(),
		done:        make(chan struct{}),
	}
	cm.registerConnection(connection)

	log.Info().
		Str("connection_id", connection.ID).
		Str("uid", uid).
		Str("room_id", roomID).
		Msg("websocket connection established")
	return connection, nil
}

// StartPumps begins the connection's read and write loops. Call after the
// handler has finished wiring OnMessage and OnClose.
func (c *Connection) StartPumps() {
	go c.writePump()
	go c.readPump()
}

// SendJSON marshals and queues a frame on this connection only. Frames sent
// after the connection has unregistered are dropped.
func (c *Connection) SendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to marshal frame")
		return
	}
	c.queue(data)
}

func (c *Connection) queue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.Send <- data:
		return true
	default:
		log.Warn().Str("connection_id", c.ID).Msg("send buffer full, dropping frame")
		return false
	}
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.roomConnections[conn.RoomID] == nil {
		cm.roomConnections[conn.RoomID] = make(map[*Connection]bool)
	}
	cm.roomConnections[conn.RoomID][conn] = true
}

func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	if connections, exists := cm.roomConnections[conn.RoomID]; exists {
		if _, exists := connections[conn]; exists {
			delete(connections, conn)
			if len(connections) == 0 {
				delete(cm.roomConnections, conn.RoomID)
			}
			log.Info().
				Str("connection_id", conn.ID).
				Str("uid", conn.UID).
				Str("room_id", conn.RoomID).
				Msg("connection unregistered")
		}
	}
	cm.mu.Unlock()

	// Send stays open; closing done makes every later queue attempt a no-op
	// and stops the write pump.
	conn.closeOnce.Do(func() {
		close(conn.done)
		if conn.OnClose != nil {
			conn.OnClose()
		}
	})
}

// BroadcastToRoom queues a payload for every connection in a room.
func (cm *ConnectionManager) BroadcastToRoom(roomID string, payload []byte) {
	select {
	case cm.broadcastCh <- BroadcastMessage{RoomID: roomID, Payload: payload}:
	default:
		log.Warn().Str("room_id", roomID).Msg("broadcast channel full, dropping message")
	}
}

func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	cm.mu.RLock()
	connections, exists := cm.roomConnections[message.RoomID]
	if !exists {
		cm.mu.RUnlock()
		return
	}
	var targets []*Connection
	for conn := range connections {
		if message.UID != "" && conn.UID != message.UID {
			continue
		}
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	for _, conn := range targets {
		if !conn.queue(message.Payload) {
			// Connection is slow/dead, close it
			log.Warn().
				Str("connection_id", conn.ID).
				Str("uid", conn.UID).
				Msg("dropped broadcast frame, closing connection")
			cm.unregisterConnection(conn)
			conn.Conn.Close()
		}
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregisterConnection(c)
	}()

	for {
		select {
		case <-c.done:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to write websocket message")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Str("connection_id", c.ID).Msg("failed to send ping")
				return
			}
			c.LastPing = time.Now()
		}
	}
}

func (c *Connection) readPump() {
	defer func() {
		c.Manager.unregisterConnection(c)
		c.Conn.Close()
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
				log.Error().Err(err).Str("connection_id", c.ID).Msg("unexpected websocket close error")
			}
			break
		}
		if c.OnMessage != nil {
			c.OnMessage(message)
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
