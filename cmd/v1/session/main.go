package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coldwire/ptt-signal/internal/v1/auth"
	"github.com/coldwire/ptt-signal/internal/v1/bus"
	"github.com/coldwire/ptt-signal/internal/v1/config"
	"github.com/coldwire/ptt-signal/internal/v1/health"
	"github.com/coldwire/ptt-signal/internal/v1/logging"
	"github.com/coldwire/ptt-signal/internal/v1/middleware"
	"github.com/coldwire/ptt-signal/internal/v1/ratelimit"
	"github.com/coldwire/ptt-signal/internal/v1/relay"
	"github.com/coldwire/ptt-signal/internal/v1/room"
	"github.com/coldwire/ptt-signal/internal/v1/router"
	"github.com/coldwire/ptt-signal/internal/v1/supervisor"
	"github.com/coldwire/ptt-signal/internal/v1/tracing"
	"github.com/coldwire/ptt-signal/internal/v1/types"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	otelgin "go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"
)

const serviceName = "ptt-signal"

func main() {
	for _, path := range []string{".env", "../../../.env", "../../.env"} {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		panic(err)
	}

	if err := logging.Initialize(cfg.GoEnv != "production"); err != nil {
		panic(err)
	}
	logger := logging.GetLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := tracing.InitTracer(ctx, serviceName, os.Getenv("OTEL_COLLECTOR_ADDR"))
	if err != nil {
		logger.Warn("tracing disabled: failed to init tracer", zap.Error(err))
	} else {
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = tp.Shutdown(shutdownCtx)
		}()
	}

	verifier, err := newVerifier(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to construct identity verifier", zap.Error(err))
	}

	var busService *bus.Service
	var busForRegistry types.Bus
	var redisClient *redis.Client
	if cfg.RedisEnabled {
		busService, err = bus.NewService(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logger.Fatal("failed to connect to redis bus", zap.Error(err))
		}
		defer busService.Close()
		busForRegistry = busService
		redisClient = busService.Client()
	}

	registry := room.NewRegistry(cfg.FloorTTL, cfg.MaxRoomConnections, busForRegistry)
	relayHandlers := relay.New(registry)
	msgRouter := router.New(registry, verifier, relayHandlers)

	allowedOrigins := strings.Split(cfg.AllowedOrigins, ",")
	sup := supervisor.New(cfg, registry, msgRouter, allowedOrigins)

	rl, err := ratelimit.NewRateLimiter(cfg, redisClient)
	if err != nil {
		logger.Fatal("failed to construct rate limiter", zap.Error(err))
	}

	healthHandler := health.New(busService, cfg, registry.RoomCount, sup.ConnectionCount)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CorrelationID())
	engine.Use(otelgin.Middleware(serviceName))

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = allowedOrigins
	if cfg.AllowedOrigins == "*" {
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowOrigins = nil
	}
	engine.Use(cors.New(corsConfig))

	status := engine.Group("/")
	status.Use(rl.GlobalMiddleware())
	status.GET("/health", healthHandler.Health)
	status.GET("/stats", healthHandler.Stats)
	status.GET("/debug", healthHandler.Debug)
	status.GET("/metrics", gin.WrapH(promhttp.Handler()))

	engine.GET("/ws", func(c *gin.Context) {
		if !rl.CheckUpgrade(c) {
			return
		}
		sup.ServeWS(c)
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: engine,
	}

	go sup.RunHeartbeatSweep()

	go func() {
		logger.Info("signaling server starting", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	sup.Shutdown()
	logger.Info("server exited")
}

// newVerifier picks the trust-anchored JWKS verifier for production, or the
// development bypass when SKIP_AUTH/DEVELOPMENT_MODE is set.
func newVerifier(ctx context.Context, cfg *config.Config) (types.Verifier, error) {
	if cfg.SkipAuth || cfg.DevelopmentMode {
		return auth.NewDevelopmentVerifier(), nil
	}
	return auth.NewTrustAnchoredVerifier(ctx, cfg.Auth0Domain, cfg.Auth0Audience)
}
