package grpcserver

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"go.uber.org/zap"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/example/diff-finder/internal/grpcclient"
)

func startHealthServer(t *testing.T, probes ...Probe) (*HealthServer, *grpcclient.HealthClient) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}

	srv := NewHealthServer(zap.NewNop(), time.Hour, probes...)
	go func() {
		_ = srv.Serve(listener)
	}()
	t.Cleanup(srv.Stop)

	client, err := grpcclient.DialHealth(context.Background(), listener.Addr().String(), zap.NewNop())
	if err != nil {
		t.Fatalf("failed to dial health service: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return srv, client
}

func TestHealthReportsServingWhenProbesPass(t *testing.T) {
	srv, client := startHealthServer(t, Probe{Name: "db", Check: func(context.Context) error { return nil }})
	ctx := context.Background()

	status, err := client.Check(ctx, ServiceName)
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if status != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING before the first probe, got %s", status)
	}

	if got := srv.CheckNow(ctx); got != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("expected SERVING, got %s", got)
	}
	for _, service := range []string{"", ServiceName} {
		status, err := client.Check(ctx, service)
		if err != nil {
			t.Fatalf("check %q failed: %v", service, err)
		}
		if status != healthpb.HealthCheckResponse_SERVING {
			t.Fatalf("expected SERVING for %q, got %s", service, status)
		}
	}
}

func TestHealthReportsNotServingWhenProbeFails(t *testing.T) {
	healthy := true
	srv, client := startHealthServer(t,
		Probe{Name: "db", Check: func(context.Context) error { return nil }},
		Probe{Name: "cache", Check: func(context.Context) error {
			if healthy {
				return nil
			}
			return errors.New("connection refused")
		}},
	)
	ctx := context.Background()

	srv.CheckNow(ctx)
	healthy = false
	if got := srv.CheckNow(ctx); got != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING, got %s", got)
	}

	status, err := client.Check(ctx, ServiceName)
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if status != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Fatalf("expected NOT_SERVING, got %s", status)
	}
}

func TestRunStopsWithContext(t *testing.T) {
	calls := make(chan struct{}, 1)
	srv := NewHealthServer(zap.NewNop(), time.Hour, Probe{Name: "db", Check: func(context.Context) error {
		select {
		case calls <- struct{}{}:
		default:
		}
		return nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		srv.Run(ctx)
		close(done)
	}()

	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("probe was not run")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestCheckUnknownService(t *testing.T) {
	_, client := startHealthServer(t)

	if _, err := client.Check(context.Background(), "unknown.Service"); err == nil {
		t.Fatal("expected error for unknown service")
	}
}
