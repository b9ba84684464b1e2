// Command roomcore is a placeholder process for the split-deployment
// topology described alongside AuthFront: in this implementation every
// roomcore.Room actor runs in-process inside the authfront binary via
// authfront.RoomManager, so this binary has no room logic of its own.
// It exists only to answer health.DefaultRoomCoreChecker's gRPC health
// probe, so a future split into two real processes has somewhere to grow
// from without AuthFront's readiness check needing to change.
package main

import (
	"context"
	"net"
	"os"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/joho/godotenv"
	"github.com/room-sync/fabric/internal/v1/logging"
)

func main() {
	_ = godotenv.Load(".env")

	if err := logging.Initialize(os.Getenv("DEVELOPMENT_MODE") == "true"); err != nil {
		panic(err)
	}

	addr := os.Getenv("ROOMCORE_ADDR")
	if addr == "" {
		addr = ":9090"
	}

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		logging.Fatal(nil, "roomcore placeholder failed to listen", zap.Error(err), zap.String("addr", addr))
	}

	srv := grpc.NewServer()
	hs := newStaticHealthServer()
	healthpb.RegisterHealthServer(srv, hs)

	logging.Info(nil, "roomcore placeholder serving gRPC health only", zap.String("addr", addr))
	if err := srv.Serve(lis); err != nil {
		logging.Fatal(nil, "roomcore placeholder gRPC server stopped", zap.Error(err))
	}
}

// staticHealthServer always reports SERVING: this process has no
// dependencies of its own to degrade on.
type staticHealthServer struct {
	healthpb.UnimplementedHealthServer
}

func newStaticHealthServer() *staticHealthServer {
	return &staticHealthServer{}
}

func (s *staticHealthServer) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}
