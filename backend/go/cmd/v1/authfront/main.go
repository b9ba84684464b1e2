// Command authfront runs the AuthFront gatekeeper: it authenticates
// connect requests, resolves room records, records connection presence,
// and forwards accepted sockets to the in-process RoomManager's RoomCore
// actors (C12-C14).
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/room-sync/fabric/internal/v1/auth"
	"github.com/room-sync/fabric/internal/v1/authfront"
	"github.com/room-sync/fabric/internal/v1/bus"
	"github.com/room-sync/fabric/internal/v1/buffersizer"
	"github.com/room-sync/fabric/internal/v1/clock"
	"github.com/room-sync/fabric/internal/v1/config"
	"github.com/room-sync/fabric/internal/v1/health"
	"github.com/room-sync/fabric/internal/v1/logging"
	"github.com/room-sync/fabric/internal/v1/middleware"
	"github.com/room-sync/fabric/internal/v1/ratelimit"
	"github.com/room-sync/fabric/internal/v1/registry"
	"github.com/room-sync/fabric/internal/v1/roomcore"
	"github.com/room-sync/fabric/internal/v1/storage"
	"github.com/room-sync/fabric/internal/v1/tracing"
	"github.com/room-sync/fabric/internal/v1/types"
)

func main() {
	envPaths := []string{".env", "../../../.env", "../../.env"}
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		panic(err)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		panic(err)
	}
	ctx := context.Background()
	logging.Info(ctx, "starting authfront", zap.String("go_env", cfg.GoEnv))

	if collectorAddr := os.Getenv("OTEL_COLLECTOR_ADDR"); collectorAddr != "" {
		tp, err := tracing.InitTracer(ctx, "authfront", collectorAddr)
		if err != nil {
			logging.Warn(ctx, "tracing disabled: failed to init tracer", zap.Error(err))
		} else {
			defer func() { _ = tp.Shutdown(ctx) }()
		}
	}

	var redisSvc *bus.Service
	var redisClient *redis.Client
	if cfg.RedisEnabled {
		redisSvc, err = bus.NewService(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logging.Fatal(ctx, "failed to connect to redis", zap.Error(err))
		}
		redisClient = redisSvc.Client()
	}

	store := storage.New(ctx, redisClient, "fabric:kv:")

	var validator types.TokenValidator
	if cfg.SkipAuth {
		logging.Warn(ctx, "authentication disabled: SKIP_AUTH=true")
		validator = &auth.MockValidator{}
	} else {
		v, err := auth.NewValidator(ctx, cfg.Auth0Domain, cfg.Auth0Audience)
		if err != nil {
			logging.Fatal(ctx, "failed to create auth validator", zap.Error(err))
		}
		validator = v
	}

	mutators := registry.NewMutatorRegistry()
	rooms := authfront.NewRoomManager(store, clock.Real{}, busService(redisSvc), mutators, roomcore.Config{
		TurnDuration:           cfg.TurnDuration,
		AllowUnconfirmedWrites: cfg.AllowUnconfirmedWrites,
		BufferSizer: buffersizer.Config{
			InitialMs:      cfg.BufferInitialMs,
			MinMs:          cfg.BufferMinMs,
			MaxMs:          cfg.BufferMaxMs,
			AdjustInterval: cfg.BufferAdjustInterval,
		},
	})

	allowedOrigins := auth.GetAllowedOriginsFromEnv("ALLOWED_ORIGINS", []string{"http://localhost:3000"})
	af := authfront.New(validator, rooms, authfront.NewRoomRecordStore(store), authfront.NewConnectionRecordStore(store), clock.Real{}, cfg.AdminAPIKey, allowedOrigins)

	rl, err := ratelimit.NewRateLimiter(cfg, redisClient)
	if err != nil {
		logging.Fatal(ctx, "failed to create rate limiter", zap.Error(err))
	}
	af.RateLimit = rl

	router := gin.Default()
	router.Use(otelgin.Middleware("authfront"))
	router.Use(middleware.CorrelationID())
	router.Use(rl.GlobalMiddleware())

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowOrigins = allowedOrigins
	router.Use(cors.New(corsCfg))

	af.RegisterRoutes(router)

	healthHandler := health.NewHandler(redisSvc, cfg.RoomCoreAddr, cfg.RoomCoreAddr != "")
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	go runRevalidationLoop(ctx, af, cfg.RevalidateInterval)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	go func() {
		logging.Info(ctx, "authfront listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatal(ctx, "server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "shutting down authfront")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "server forced to shutdown", zap.Error(err))
	}
	if redisSvc != nil {
		_ = redisSvc.Close()
	}
}

// runRevalidationLoop drives AuthFront.RevalidateConnections on a fixed
// schedule until ctx is done (§4.8 revalidateConnections).
func runRevalidationLoop(ctx context.Context, af *authfront.AuthFront, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := af.RevalidateConnections(ctx); err != nil {
				logging.Warn(ctx, "revalidate sweep failed", zap.Error(err))
			}
		}
	}
}

// busService adapts svc to types.BusService. A nil svc (Redis disabled)
// still satisfies the interface: every bus.Service method is nil-safe and
// behaves as single-instance no-ops, matching storage.New's nil-client
// fallback to MemStore.
func busService(svc *bus.Service) types.BusService {
	return svc
}
