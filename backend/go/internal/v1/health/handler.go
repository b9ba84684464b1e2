package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/room-sync/fabric/internal/v1/bus"
	"github.com/room-sync/fabric/internal/v1/logging"
	"go.uber.org/zap"
)

// RoomCoreChecker checks the health of a RoomCore instance.
type RoomCoreChecker interface {
	Check(ctx context.Context, addr string) string
}

// DefaultRoomCoreChecker is the default implementation of RoomCoreChecker.
type DefaultRoomCoreChecker struct{}

// Check verifies gRPC connectivity to RoomCore using the standard health check protocol.
// The readiness handler calls it when the RoomCore check is enabled.
func (c *DefaultRoomCoreChecker) Check(ctx context.Context, addr string) string {
	conn, err := grpc.NewClient(
		addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		logging.Error(ctx, "failed to connect to RoomCore for health check", zap.Error(err), zap.String("addr", addr))
		return "unhealthy"
	}
	defer func() { _ = conn.Close() }()

	healthClient := healthpb.NewHealthClient(conn)

	resp, err := healthClient.Check(ctx, &healthpb.HealthCheckRequest{
		Service: "",
	})
	if err != nil {
		logging.Error(ctx, "RoomCore health check RPC failed", zap.Error(err))
		return "unhealthy"
	}

	if resp.Status != healthpb.HealthCheckResponse_SERVING {
		logging.Warn(ctx, "RoomCore is not serving", zap.String("status", resp.Status.String()))
		return "unhealthy"
	}

	return "healthy"
}

// Handler manages AuthFront's health check endpoints.
type Handler struct {
	redisService    *bus.Service
	roomCoreAddr    string
	roomCoreEnabled bool
	roomCoreChecker RoomCoreChecker
}

// NewHandler creates a new health check handler. Only the AuthFront binary
// builds one; when roomCoreEnabled is true, readiness dials RoomCore's
// health service at roomCoreAddr.
func NewHandler(redisService *bus.Service, roomCoreAddr string, roomCoreEnabled bool) *Handler {
	return &Handler{
		redisService:    redisService,
		roomCoreAddr:    roomCoreAddr,
		roomCoreEnabled: roomCoreEnabled,
		roomCoreChecker: &DefaultRoomCoreChecker{},
	}
}

// LivenessResponse represents the liveness probe response.
type LivenessResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse represents the readiness probe response.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks"`
	Timestamp string            `json:"timestamp"`
}

// Liveness handles the liveness probe endpoint.
// GET /health/live returns 200 if the process is alive (no dependency checks).
func (h *Handler) Liveness(c *gin.Context) {
	response := LivenessResponse{
		Status:    "alive",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	c.JSON(http.StatusOK, response)
}

// Readiness handles the readiness probe endpoint.
// GET /health/ready returns 200 only if all critical dependencies are healthy,
// 503 otherwise.
func (h *Handler) Readiness(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	redisStatus := h.checkRedis(ctx)
	checks["redis"] = redisStatus
	if redisStatus != "healthy" {
		allHealthy = false
	}

	if h.roomCoreEnabled {
		roomCoreStatus := h.checkRoomCore(ctx)
		checks["roomcore"] = roomCoreStatus
		if roomCoreStatus != "healthy" {
			allHealthy = false
		}
	}

	status := "ready"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "unavailable"
		statusCode = http.StatusServiceUnavailable
	}

	response := ReadinessResponse{
		Status:    status,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	c.JSON(statusCode, response)
}

// checkRedis verifies Redis connectivity using PING.
func (h *Handler) checkRedis(ctx context.Context) string {
	if h.redisService == nil {
		return "healthy" // single-instance mode, no Redis available
	}

	if err := h.redisService.Ping(ctx); err != nil {
		logging.Error(ctx, "redis health check failed", zap.Error(err))
		return "unhealthy"
	}

	return "healthy"
}

// checkRoomCore verifies gRPC connectivity to RoomCore.
func (h *Handler) checkRoomCore(ctx context.Context) string {
	if h.roomCoreChecker == nil {
		return "unhealthy"
	}
	return h.roomCoreChecker.Check(ctx, h.roomCoreAddr)
}

// HealthCheckResponse is a generic health check response for callers that
// don't need the structured Readiness/Liveness shapes.
type HealthCheckResponse struct {
	Status string         `json:"status"`
	Data   map[string]any `json:"data,omitempty"`
}

// MarshalJSON implements custom JSON marshaling for better formatting.
func (r ReadinessResponse) MarshalJSON() ([]byte, error) {
	type Alias ReadinessResponse
	return json.Marshal(&struct {
		*Alias
	}{
		Alias: (*Alias)(&r),
	})
}
