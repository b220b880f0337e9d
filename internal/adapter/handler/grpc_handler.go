package handler

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rl1809/stockgrid/internal/core/fallback"
)

// RemoteService is the health service name that reflects the remote store.
const RemoteService = "stockgrid.remote"

// HealthReporter publishes the fallback state through the standard gRPC
// health protocol. The process itself keeps serving in fallback mode, so
// only RemoteService flips to NOT_SERVING.
type HealthReporter struct {
	server *health.Server
	state  *fallback.State
	logger *slog.Logger
}

func NewHealthReporter(state *fallback.State, logger *slog.Logger) *HealthReporter {
	if logger == nil {
		logger = slog.Default()
	}
	srv := health.NewServer()
	srv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	srv.SetServingStatus(RemoteService, healthpb.HealthCheckResponse_SERVING)
	return &HealthReporter{server: srv, state: state, logger: logger}
}

func (h *HealthReporter) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.server)
}

// Watch blocks until ctx ends, marking RemoteService NOT_SERVING as soon as
// fallback mode is entered.
func (h *HealthReporter) Watch(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-h.state.Entered():
		h.server.SetServingStatus(RemoteService, healthpb.HealthCheckResponse_NOT_SERVING)
		h.logger.Warn("health: remote store marked not serving", "reason", h.state.Reason())
	}
}

// Shutdown marks every service NOT_SERVING ahead of a graceful stop.
func (h *HealthReporter) Shutdown() {
	h.server.Shutdown()
}

// Server exposes the underlying health server, mainly for in-process checks.
func (h *HealthReporter) Server() healthpb.HealthServer {
	return h.server
}
