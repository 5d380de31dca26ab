// Package grpcserver serves the standard gRPC health service, reporting the
// comparison service as SERVING while its dependencies answer.
package grpcserver

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/example/diff-finder/internal/logging"
)

// ServiceName is the health service name of the comparison API.
const ServiceName = "difffinder.ComparisonService"

// Probe checks one dependency of the comparison service.
type Probe struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthServer wraps a gRPC server exposing grpc.health.v1.Health.
type HealthServer struct {
	server   *grpc.Server
	health   *health.Server
	probes   []Probe
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	status healthpb.HealthCheckResponse_ServingStatus
}

// NewHealthServer registers the health service. Probes are re-run every interval by Run.
func NewHealthServer(logger *zap.Logger, interval time.Duration, probes ...Probe) *HealthServer {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	s := &HealthServer{
		server:   grpc.NewServer(),
		health:   health.NewServer(),
		probes:   probes,
		interval: interval,
		timeout:  2 * time.Second,
		logger:   logger.Named("grpc_health"),
		status:   healthpb.HealthCheckResponse_UNKNOWN,
	}
	healthpb.RegisterHealthServer(s.server, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Serve accepts connections on lis until Stop is called.
func (s *HealthServer) Serve(lis net.Listener) error {
	s.logger.Info("gRPC health service listening", zap.String("addr", lis.Addr().String()))
	return s.server.Serve(lis)
}

// Run probes the dependencies immediately and then on every tick until ctx is done.
func (s *HealthServer) Run(ctx context.Context) {
	s.CheckNow(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.CheckNow(ctx)
		}
	}
}

// CheckNow runs every probe once and publishes the resulting status.
func (s *HealthServer) CheckNow(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	for _, probe := range s.probes {
		probeCtx, cancel := context.WithTimeout(ctx, s.timeout)
		err := probe.Check(probeCtx)
		cancel()
		if err != nil {
			wrapped := logging.NewOperationError("grpc_health.probe", "", err)
			s.logger.Warn("dependency unhealthy", zap.String("probe", probe.Name), zap.Error(wrapped))
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}

	s.mu.Lock()
	changed := status != s.status
	s.status = status
	s.mu.Unlock()

	if changed {
		s.logger.Info("serving status changed", zap.String("status", status.String()))
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	return status
}

// Stop marks every service NOT_SERVING and drains in-flight RPCs.
func (s *HealthServer) Stop() {
	s.health.Shutdown()
	s.server.GracefulStop()
}
