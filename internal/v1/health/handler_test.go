package health

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coldwire/ptt-signal/internal/v1/config"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		HeartbeatInterval:  15 * time.Second,
		AuthTimeout:        30 * time.Second,
		MaxRoomConnections: 50,
		MaxTotalConns:      500,
		MessageRateLimit:   100,
		FloorTTL:           2 * time.Minute,
		AllowedOrigins:     "*",
		GoEnv:              "test",
	}
}

func newTestHandler(rooms, conns int) *Handler {
	gin.SetMode(gin.TestMode)
	return New(nil, testConfig(), func() int { return rooms }, func() int { return conns })
}

func TestHealth_NilBusReportsHealthy(t *testing.T) {
	handler := newTestHandler(2, 5)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/health", nil)

	handler.Health(c)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `"status":"healthy"`)
	assert.Contains(t, body, `"rooms":2`)
	assert.Contains(t, body, `"connections":5`)
	assert.Contains(t, body, "timestamp")
}

func TestStats_ReportsUptimeAndMemory(t *testing.T) {
	handler := newTestHandler(1, 3)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/stats", nil)

	handler.Stats(c)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `"rooms":1`)
	assert.Contains(t, body, `"connections":3`)
	assert.Contains(t, body, "uptime")
	assert.Contains(t, body, "memory")
}

func TestDebug_ReflectsConfigWithoutSecrets(t *testing.T) {
	handler := newTestHandler(0, 0)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/debug", nil)

	handler.Debug(c)

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "authMode")
	assert.Contains(t, body, "maxRoomConnections")
	assert.Contains(t, body, "trust-anchored")
	assert.NotContains(t, body, "jwtSecret")
}

func TestDebug_DevelopmentModeReported(t *testing.T) {
	cfg := testConfig()
	cfg.DevelopmentMode = true
	gin.SetMode(gin.TestMode)
	handler := New(nil, cfg, func() int { return 0 }, func() int { return 0 })

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest("GET", "/debug", nil)

	handler.Debug(c)

	assert.Contains(t, w.Body.String(), "developer-bypass")
}
