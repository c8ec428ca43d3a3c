// Package grpc exposes the standard gRPC health service for the cart. The
// reported status follows a periodic probe of cart storage.
package grpc

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/kokoruadmin/kokoru-cart/internal/storage"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

const (
	ServiceName  = "kokoru.cart.v1.CartService"
	probeKey     = "health:probe"
	probeTimeout = 2 * time.Second
)

type HealthServer struct {
	server  *grpc.Server
	health  *health.Server
	storage storage.Storage
	logger  *zap.Logger

	mu      sync.Mutex
	serving bool
}

func NewHealthServer(st storage.Storage, logger *zap.Logger) *HealthServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	srv := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	// Enable reflection for grpcurl/grpcui
	reflection.Register(srv)

	h := &HealthServer{server: srv, health: hs, storage: st, logger: logger}
	h.setServing(false)
	return h
}

// Probe checks storage once and updates the reported status. A missing probe
// key is a healthy answer.
func (h *HealthServer) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	_, err := h.storage.Get(ctx, probeKey)
	ok := err == nil || errors.Is(err, storage.ErrNotFound)
	if !ok {
		h.logger.Warn("storage probe failed", zap.Error(err))
	}
	h.setServing(ok)
	return ok
}

// RunProbe probes storage every interval until ctx is done.
func (h *HealthServer) RunProbe(ctx context.Context, interval time.Duration) {
	h.Probe(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			h.Probe(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (h *HealthServer) setServing(serving bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	if serving != h.serving {
		h.logger.Info("health status changed", zap.String("status", status.String()))
	}
	h.serving = serving
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(ServiceName, status)
}

func (h *HealthServer) Serve(lis net.Listener) error {
	return h.server.Serve(lis)
}

// GracefulStop reports NOT_SERVING to watchers and drains in-flight calls.
func (h *HealthServer) GracefulStop() {
	h.health.Shutdown()
	h.server.GracefulStop()
}
