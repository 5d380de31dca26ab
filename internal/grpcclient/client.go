// Package grpcclient dials the gRPC health service of a running instance.
package grpcclient

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/example/diff-finder/internal/logging"
)

// HealthClient queries grpc.health.v1.Health on a single connection.
type HealthClient struct {
	conn   *grpc.ClientConn
	client healthpb.HealthClient
	logger *zap.Logger
}

// DialHealth returns a ready-to-use health client for addr.
func DialHealth(ctx context.Context, addr string, logger *zap.Logger) (*HealthClient, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(
		dialCtx,
		addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_health", "", err)
		logger.Error("failed to dial health service", zap.Error(wrapped), zap.String("addr", addr))
		return nil, wrapped
	}
	return &HealthClient{conn: conn, client: healthpb.NewHealthClient(conn), logger: logger}, nil
}

// Check returns the serving status of service; "" asks for the server as a whole.
func (c *HealthClient) Check(ctx context.Context, service string) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := c.client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.check_health", "", err)
		c.logger.Error("health check call failed", zap.Error(wrapped), zap.String("service", service))
		return healthpb.HealthCheckResponse_UNKNOWN, wrapped
	}
	return resp.GetStatus(), nil
}

// Close releases the connection.
func (c *HealthClient) Close() error {
	return c.conn.Close()
}
