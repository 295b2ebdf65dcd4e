// Package health exposes the read-only HTTP status surfaces the Supervisor
// serves alongside the WebSocket endpoint: /health, /stats, and /debug.
package health

import (
	"net/http"
	"runtime"
	"time"

	"github.com/coldwire/ptt-signal/internal/v1/bus"
	"github.com/coldwire/ptt-signal/internal/v1/config"
	"github.com/coldwire/ptt-signal/internal/v1/logging"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler serves /health, /stats, and /debug. It never mutates state; all
// counts are pulled from the callbacks supplied at construction so the
// Supervisor (connections) and the Room Registry (rooms) remain the owners
// of that bookkeeping.
type Handler struct {
	bus         *bus.Service
	cfg         *config.Config
	startedAt   time.Time
	roomCount   func() int
	connCount   func() int
	devModeDesc string
}

// New builds a Handler. roomCount and connCount are read on every request,
// so they should be cheap (an atomic load or a mutex-guarded len()).
func New(busService *bus.Service, cfg *config.Config, roomCount, connCount func() int) *Handler {
	devModeDesc := "trust-anchored"
	if cfg.DevelopmentMode || cfg.SkipAuth {
		devModeDesc = "developer-bypass"
	}
	return &Handler{
		bus:         busService,
		cfg:         cfg,
		startedAt:   time.Now(),
		roomCount:   roomCount,
		connCount:   connCount,
		devModeDesc: devModeDesc,
	}
}

// Health handles GET /health.
func (h *Handler) Health(c *gin.Context) {
	status := "healthy"
	if h.bus != nil {
		if err := h.bus.Ping(c.Request.Context()); err != nil {
			logging.Warn(c.Request.Context(), "health check: bus unreachable", zap.Error(err))
			status = "degraded"
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      status,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"rooms":       h.roomCount(),
		"connections": h.connCount(),
	})
}

// Stats handles GET /stats.
func (h *Handler) Stats(c *gin.Context) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	c.JSON(http.StatusOK, gin.H{
		"rooms":       h.roomCount(),
		"connections": h.connCount(),
		"uptime":      time.Since(h.startedAt).String(),
		"memory": gin.H{
			"allocBytes":      mem.Alloc,
			"totalAllocBytes": mem.TotalAlloc,
			"sysBytes":        mem.Sys,
			"numGC":           mem.NumGC,
		},
	})
}

// Debug handles GET /debug: a non-secret reflection of the active
// configuration, useful for confirming which auth mode a deployment runs.
func (h *Handler) Debug(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"authMode":           h.devModeDesc,
		"heartbeatInterval":  h.cfg.HeartbeatInterval.String(),
		"authTimeout":        h.cfg.AuthTimeout.String(),
		"maxRoomConnections": h.cfg.MaxRoomConnections,
		"maxTotalConns":      h.cfg.MaxTotalConns,
		"messageRateLimit":   h.cfg.MessageRateLimit,
		"floorTTL":           h.cfg.FloorTTL.String(),
		"redisEnabled":       h.cfg.RedisEnabled,
		"allowedOrigins":     h.cfg.AllowedOrigins,
		"goEnv":              h.cfg.GoEnv,
	})
}
