package server

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/ehsaniara/flowq/internal/flowq/monitor"
)

type switchableHealth struct {
	mu     sync.Mutex
	status monitor.HealthStatus
}

func (s *switchableHealth) set(status monitor.HealthStatus) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

func (s *switchableHealth) Health() monitor.Health {
	s.mu.Lock()
	defer s.mu.Unlock()
	return monitor.Health{Status: s.status}
}

func TestServingStatus(t *testing.T) {
	tests := []struct {
		in   monitor.HealthStatus
		want healthpb.HealthCheckResponse_ServingStatus
	}{
		{monitor.HealthHealthy, healthpb.HealthCheckResponse_SERVING},
		{monitor.HealthWarning, healthpb.HealthCheckResponse_SERVING},
		{monitor.HealthCritical, healthpb.HealthCheckResponse_NOT_SERVING},
		{monitor.HealthUnknown, healthpb.HealthCheckResponse_UNKNOWN},
	}
	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			assert.Equal(t, tt.want, ServingStatus(tt.in))
		})
	}
}

func dialHealth(t *testing.T, svc *HealthService) healthpb.HealthClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	grpcServer := NewGRPCServer(svc)
	go func() { _ = grpcServer.Serve(lis) }()
	t.Cleanup(grpcServer.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func check(t *testing.T, client healthpb.HealthClient, service string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestHealthService_FollowsMonitor(t *testing.T) {
	source := &switchableHealth{status: monitor.HealthUnknown}
	svc := NewHealthService(source)
	client := dialHealth(t, svc)

	assert.Equal(t, healthpb.HealthCheckResponse_UNKNOWN, check(t, client, QueueService))

	source.set(monitor.HealthHealthy)
	svc.Sync()
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, QueueService))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, ""))

	source.set(monitor.HealthCritical)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, svc.Sync())
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, QueueService))

	source.set(monitor.HealthWarning)
	svc.Sync()
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, client, ""))
}

func TestHealthService_Watch(t *testing.T) {
	source := &switchableHealth{status: monitor.HealthHealthy}
	svc := NewHealthService(source)
	client := dialHealth(t, svc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Watch(ctx, 5*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return check(t, client, QueueService) == healthpb.HealthCheckResponse_SERVING
	}, time.Second, 5*time.Millisecond)

	source.set(monitor.HealthCritical)
	require.Eventually(t, func() bool {
		return check(t, client, QueueService) == healthpb.HealthCheckResponse_NOT_SERVING
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, client, ""))
}
