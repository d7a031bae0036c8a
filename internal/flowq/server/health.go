// Package server exposes the daemon over gRPC. Only the standard health
// service is served; its status follows the resource monitor.
package server

import (
	"context"
	"sync"
	"time"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ehsaniara/flowq/internal/flowq/monitor"
	"github.com/ehsaniara/flowq/pkg/logger"
)

// QueueService is the health service name reported for the queue
const QueueService = "flowq.queue"

//go:generate go run github.com/maxbrunsfeld/counterfeiter/v6 -generate

//counterfeiter:generate . HealthSource
type HealthSource interface {
	Health() monitor.Health
}

// HealthService bridges monitor health to grpc.health.v1.Health.
type HealthService struct {
	server *health.Server
	source HealthSource

	mu   sync.Mutex
	last healthpb.HealthCheckResponse_ServingStatus

	logger *logger.Logger
}

func NewHealthService(source HealthSource) *HealthService {
	s := &HealthService{
		server: health.NewServer(),
		source: source,
		last:   healthpb.HealthCheckResponse_UNKNOWN,
		logger: logger.WithField("component", "health-service"),
	}
	s.set(healthpb.HealthCheckResponse_UNKNOWN)
	return s
}

// Server returns the health server to register on a grpc.Server
func (s *HealthService) Server() *health.Server {
	return s.server
}

// ServingStatus maps a monitor status to a gRPC serving status
func ServingStatus(status monitor.HealthStatus) healthpb.HealthCheckResponse_ServingStatus {
	switch status {
	case monitor.HealthHealthy, monitor.HealthWarning:
		return healthpb.HealthCheckResponse_SERVING
	case monitor.HealthCritical:
		return healthpb.HealthCheckResponse_NOT_SERVING
	default:
		return healthpb.HealthCheckResponse_UNKNOWN
	}
}

// Sync reads the monitor once and publishes the mapped status.
func (s *HealthService) Sync() healthpb.HealthCheckResponse_ServingStatus {
	h := s.source.Health()
	status := ServingStatus(h.Status)

	s.mu.Lock()
	changed := status != s.last
	s.last = status
	s.mu.Unlock()

	if changed {
		s.logger.Info("health status changed", "status", status.String(), "monitor", h.Status, "reasons", h.Reasons)
	}
	s.set(status)
	return status
}

// Watch syncs every interval until ctx is done, then marks the services
// NOT_SERVING so clients drain before shutdown.
func (s *HealthService) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.Sync()
	for {
		select {
		case <-ticker.C:
			s.Sync()
		case <-ctx.Done():
			s.server.Shutdown()
			return
		}
	}
}

func (s *HealthService) set(status healthpb.HealthCheckResponse_ServingStatus) {
	s.server.SetServingStatus("", status)
	s.server.SetServingStatus(QueueService, status)
}
