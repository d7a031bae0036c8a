package server

import (
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"github.com/ehsaniara/flowq/pkg/config"
	"github.com/ehsaniara/flowq/pkg/logger"
)

const keepAliveTime = 30 * time.Second

// NewGRPCServer builds a server with the health service registered.
func NewGRPCServer(healthService *HealthService) *grpc.Server {
	grpcServer := grpc.NewServer(
		grpc.ConnectionTimeout(10*time.Second),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    keepAliveTime,
			Timeout: 10 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             keepAliveTime / 2,
			PermitWithoutStream: true,
		}),
	)
	healthpb.RegisterHealthServer(grpcServer, healthService.Server())
	reflection.Register(grpcServer)
	return grpcServer
}

// StartGRPCServer listens on the configured address and serves in the
// background. Callers stop it with GracefulStop.
func StartGRPCServer(cfg *config.Config, healthService *HealthService) (*grpc.Server, net.Addr, error) {
	serverLogger := logger.WithField("component", "grpc-server")
	serverAddress := cfg.GetServerAddress()

	lis, err := net.Listen("tcp", serverAddress)
	if err != nil {
		serverLogger.Error("failed to create listener", "address", serverAddress, "error", err)
		return nil, nil, fmt.Errorf("failed to listen: %w", err)
	}

	grpcServer := NewGRPCServer(healthService)
	go func() {
		serverLogger.Info("starting gRPC server", "address", lis.Addr().String())
		if serveErr := grpcServer.Serve(lis); serveErr != nil {
			serverLogger.Error("gRPC server stopped with error", "error", serveErr)
		} else {
			serverLogger.Info("gRPC server stopped gracefully")
		}
	}()

	return grpcServer, lis.Addr(), nil
}
