// Package transport implements the Connection (C2): one live bidirectional
// WebSocket per client, owning authentication state, heartbeat state, a
// per-connection rate limiter, and the set of rooms it has joined.
package transport

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coldwire/ptt-signal/internal/v1/logging"
	"github.com/coldwire/ptt-signal/internal/v1/metrics"
	"github.com/coldwire/ptt-signal/internal/v1/router"
	"github.com/coldwire/ptt-signal/internal/v1/types"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	sendBufferSize = 64
)

// wsConn is the subset of *websocket.Conn the Connection needs, narrowed so
// tests can substitute a fake transport without a real socket.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Connection is one client's live WebSocket. It satisfies both
// types.Connection (room/relay's view) and router.Conn (the router's view).
type Connection struct {
	id     types.ConnIDType
	socket wsConn
	router *router.Router
	rate   int

	mu            sync.RWMutex
	principal     types.Principal
	authenticated bool
	rooms         map[types.RoomIDType]struct{}

	alive            atomic.Bool
	missedHeartbeats atomic.Int32

	rateMu          sync.Mutex
	rateWindowStart time.Time
	rateCount       int

	send      chan []byte
	closeOnce sync.Once
	closed    atomic.Bool
}

// New builds a Connection around an already-upgraded WebSocket. rate is the
// configured per-second message cap for this connection's sliding window.
func New(socket wsConn, r *router.Router, rate int) *Connection {
	c := &Connection{
		id:     types.ConnIDType(uuid.NewString()),
		socket: socket,
		router: r,
		rate:   rate,
		rooms:  make(map[types.RoomIDType]struct{}),
		send:   make(chan []byte, sendBufferSize),
	}
	c.alive.Store(true)
	socket.SetPongHandler(func(string) error {
		c.alive.Store(true)
		c.missedHeartbeats.Store(0)
		return nil
	})
	return c
}

// --- types.Connection ---

func (c *Connection) ID() types.ConnIDType { return c.id }

func (c *Connection) UserID() types.UserIDType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.principal.UserID
}

func (c *Connection) DisplayName() types.DisplayNameType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.principal.DisplayName
}

// Send serializes frame and queues it for the write pump. It never blocks:
// a full buffer means a slow consumer, and the frame is dropped rather than
// backing up the room's broadcast loop.
func (c *Connection) Send(frame any) {
	if c.closed.Load() {
		return
	}
	data, err := json.Marshal(frame)
	if err != nil {
		logging.Error(context.Background(), "failed to marshal outbound frame", zap.Error(err))
		return
	}

	select {
	case c.send <- data:
	default:
		logging.Warn(context.Background(), "connection send buffer full, dropping frame", zap.String("conn_id", string(c.id)))
	}
}

// Close is idempotent: only the first call tears the connection down.
func (c *Connection) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.send)
		c.router.Disconnect(c)
		deadline := time.Now().Add(writeWait)
		msg := websocket.FormatCloseMessage(code, reason)
		_ = c.socket.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = c.socket.Close()
		metrics.DecConnection()
	})
}

// --- router.Conn ---

func (c *Connection) Authenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}

func (c *Connection) SetPrincipal(p types.Principal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.principal = p
	c.authenticated = true
}

func (c *Connection) JoinedRooms() []types.RoomIDType {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]types.RoomIDType, 0, len(c.rooms))
	for id := range c.rooms {
		out = append(out, id)
	}
	return out
}

func (c *Connection) AddRoom(id types.RoomIDType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[id] = struct{}{}
}

func (c *Connection) RemoveRoom(id types.RoomIDType) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, id)
}

// CheckRate enforces a 1-second sliding window with a reset-on-expiry
// counter, not a token bucket: the window simply restarts once it elapses.
func (c *Connection) CheckRate() bool {
	c.rateMu.Lock()
	defer c.rateMu.Unlock()

	now := time.Now()
	if now.Sub(c.rateWindowStart) >= time.Second {
		c.rateWindowStart = now
		c.rateCount = 0
	}
	c.rateCount++
	return c.rateCount <= c.rate
}

// --- heartbeat (driven by the Supervisor) ---

func (c *Connection) IsAlive() bool { return c.alive.Load() }

func (c *Connection) MarkPending() { c.alive.Store(false) }

// MissedBeat increments the missed-pong counter and returns the new total.
func (c *Connection) MissedBeat() int32 {
	return c.missedHeartbeats.Add(1)
}

// Ping writes a ping control frame, used by the heartbeat sweep.
func (c *Connection) Ping() error {
	if c.closed.Load() {
		return nil
	}
	return c.socket.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// --- pumps ---

// ReadPump blocks reading frames off the socket and handing them to the
// router until the socket errors or closes. Always run in its own goroutine.
func (c *Connection) ReadPump(ctx context.Context) {
	defer c.Close(websocket.CloseNormalClosure, "connection closed")

	for {
		messageType, data, err := c.socket.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		c.router.HandleFrame(ctx, c, data, time.Now())
	}
}

// WritePump drains the send buffer to the socket. Always run in its own
// goroutine; returns when the buffer is closed by Close.
func (c *Connection) WritePump() {
	for data := range c.send {
		_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.socket.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}
