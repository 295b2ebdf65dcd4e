// Package supervisor implements the Supervisor (C7): it accepts new
// WebSocket connections, enforces global capacity and the authentication
// timeout, runs the periodic heartbeat sweep, and drains connections on
// graceful shutdown.
package supervisor

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coldwire/ptt-signal/internal/v1/config"
	"github.com/coldwire/ptt-signal/internal/v1/logging"
	"github.com/coldwire/ptt-signal/internal/v1/metrics"
	"github.com/coldwire/ptt-signal/internal/v1/protocol"
	"github.com/coldwire/ptt-signal/internal/v1/room"
	"github.com/coldwire/ptt-signal/internal/v1/router"
	"github.com/coldwire/ptt-signal/internal/v1/transport"
	"github.com/coldwire/ptt-signal/internal/v1/types"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Supervisor owns every live *transport.Connection and the heartbeat sweep
// that keeps them honest. The Room Registry is owned and shared separately;
// the Supervisor only reaches into it to broadcast floor expirations.
type Supervisor struct {
	cfg      *config.Config
	registry *room.Registry
	router   *router.Router
	upgrader websocket.Upgrader

	mu    sync.RWMutex
	conns map[types.ConnIDType]*transport.Connection

	sweepInterval time.Duration
	stopSweep     chan struct{}
	sweepDone     chan struct{}
}

// New builds a Supervisor. allowedOrigins gates the WebSocket upgrade's
// Origin header; an empty list allows any origin (matching "*").
func New(cfg *config.Config, registry *room.Registry, rt *router.Router, allowedOrigins []string) *Supervisor {
	s := &Supervisor{
		cfg:           cfg,
		registry:      registry,
		router:        rt,
		conns:         make(map[types.ConnIDType]*transport.Connection),
		sweepInterval: cfg.HeartbeatInterval,
		stopSweep:     make(chan struct{}),
		sweepDone:     make(chan struct{}),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return validateOrigin(r, allowedOrigins) == nil
		},
	}
	return s
}

// ConnectionCount returns the number of currently tracked live connections.
func (s *Supervisor) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// ServeWS upgrades the HTTP request to a WebSocket, enforcing the global
// capacity cap, then spins up the connection's read/write pumps and arms
// its authentication timeout.
func (s *Supervisor) ServeWS(c *gin.Context) {
	if s.ConnectionCount() >= s.cfg.MaxTotalConns {
		conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		msg := websocket.FormatCloseMessage(types.CloseServerAtCapacity, "server at capacity")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(5*time.Second))
		_ = conn.Close()
		logging.Warn(c.Request.Context(), "rejected connection: server at capacity", zap.Int("limit", s.cfg.MaxTotalConns))
		return
	}

	socket, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Warn(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}

	conn := transport.New(socket, s.router, s.cfg.MessageRateLimit)
	s.track(conn)
	metrics.IncConnection()

	timeoutTimer := time.AfterFunc(s.cfg.AuthTimeout, func() {
		if !conn.Authenticated() {
			metrics.AuthOutcomes.WithLabelValues("timeout").Inc()
			conn.Close(types.CloseAuthTimeout, "authentication timeout")
		}
	})

	go func() {
		conn.WritePump()
		timeoutTimer.Stop()
		s.untrack(conn.ID())
	}()

	ctx := context.Background()
	conn.ReadPump(ctx)
}

func (s *Supervisor) track(conn *transport.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[conn.ID()] = conn
}

func (s *Supervisor) untrack(id types.ConnIDType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, id)
}

// RunHeartbeatSweep blocks, running the heartbeat sweep on a ticker until
// Stop is called. Run it in its own goroutine.
func (s *Supervisor) RunHeartbeatSweep() {
	defer close(s.sweepDone)
	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopSweep:
			return
		case now := <-ticker.C:
			s.sweep(now)
		}
	}
}

func (s *Supervisor) sweep(now time.Time) {
	s.mu.RLock()
	live := make([]*transport.Connection, 0, len(s.conns))
	for _, c := range s.conns {
		live = append(live, c)
	}
	s.mu.RUnlock()

	for _, c := range live {
		if !c.IsAlive() {
			if c.MissedBeat() >= 3 {
				logging.Info(context.Background(), "terminating unresponsive connection", zap.String("conn_id", string(c.ID())))
				c.Close(websocket.CloseGoingAway, "missed heartbeats")
			}
			continue
		}
		c.MarkPending()
		if err := c.Ping(); err != nil {
			logging.Warn(context.Background(), "ping failed", zap.String("conn_id", string(c.ID())), zap.Error(err))
		}
	}

	for _, roomID := range s.registry.SweepExpiredFloors(now) {
		s.registry.Broadcast(context.Background(), roomID, protocol.FloorStateFrame{
			Type:      protocol.TypeFloorState,
			Timestamp: protocol.Stamp(now),
			RoomID:    string(roomID),
			State:     room.ToFloorView(nil, now),
		}, "")
	}
}

// Shutdown stops the heartbeat sweep and closes every live connection. It
// does not stop an HTTP server from accepting new requests; callers pair it
// with http.Server.Shutdown.
func (s *Supervisor) Shutdown() {
	close(s.stopSweep)
	<-s.sweepDone

	s.mu.RLock()
	live := make([]*transport.Connection, 0, len(s.conns))
	for _, c := range s.conns {
		live = append(live, c)
	}
	s.mu.RUnlock()

	for _, c := range live {
		c.Close(websocket.CloseServiceRestart, "server shutting down")
	}
}

// validateOrigin checks the request's Origin header against allowedOrigins.
// A missing Origin header (non-browser clients) or an empty allow-list
// (wildcard "*" configuration) both pass.
func validateOrigin(r *http.Request, allowedOrigins []string) error {
	origin := r.Header.Get("Origin")
	if origin == "" || len(allowedOrigins) == 0 {
		return nil
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("invalid origin URL: %w", err)
	}

	for _, allowed := range allowedOrigins {
		if allowed == "*" {
			return nil
		}
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}
