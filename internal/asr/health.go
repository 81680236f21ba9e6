package asr

import (
	"context"
	"fmt"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/voxbridge/asr-gateway/internal/resilience"
)

// HealthChecker probes the recognition backend's gRPC health service.
// The WebSocket bridge fronts a gRPC recognizer, so readiness is judged
// against the standard health protocol rather than the stream endpoint.
type HealthChecker struct {
	target string

	mu     sync.Mutex
	conn   *grpc.ClientConn
	client grpc_health_v1.HealthClient
}

// NewHealthChecker creates a health checker for the given gRPC target
func NewHealthChecker(target string) *HealthChecker {
	return &HealthChecker{target: target}
}

func (h *HealthChecker) ensureConn() (grpc_health_v1.HealthClient, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.client != nil {
		return h.client, nil
	}

	conn, err := grpc.NewClient(h.target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             3 * time.Second,
			PermitWithoutStream: true,
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("dial backend health service at %s: %w", h.target, err)
	}

	h.conn = conn
	h.client = grpc_health_v1.NewHealthClient(conn)
	return h.client, nil
}

// Check probes the backend and reports whether it is serving. Transient
// probe failures are retried with backoff inside the caller's deadline.
func (h *HealthChecker) Check(ctx context.Context) (bool, error) {
	client, err := h.ensureConn()
	if err != nil {
		return false, err
	}

	var resp *grpc_health_v1.HealthCheckResponse
	err = resilience.Retry(ctx, func() error {
		r, rerr := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{})
		if rerr != nil {
			return rerr
		}
		resp = r
		return nil
	}, nil, resilience.IsRetryableNetworkError)
	if err != nil {
		return false, fmt.Errorf("backend health check failed: %w", err)
	}

	return resp.Status == grpc_health_v1.HealthCheckResponse_SERVING, nil
}

// Close releases the health-check connection
func (h *HealthChecker) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.conn != nil {
		err := h.conn.Close()
		h.conn = nil
		h.client = nil
		return err
	}
	return nil
}
