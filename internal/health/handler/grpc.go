// Package handler exposes the health checker over HTTP (/healthz, /readyz) and the standard gRPC health service.
package handler

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"totp-mfa-demo/internal/health"
)

// ServiceName is the gRPC health service name reported for the web app; "" covers the whole server.
const ServiceName = "totp-mfa-demo"

// Server implements grpc.health.v1.Health backed by the checker.
type Server struct {
	*grpchealth.Server
	checker *health.Checker
	logger  *zap.Logger
}

// NewServer returns a health server whose status starts as NOT_SERVING until the first Refresh.
func NewServer(checker *health.Checker, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{Server: grpchealth.NewServer(), checker: checker, logger: logger}
	s.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Register registers the health service with the gRPC server.
func (s *Server) Register(r grpc.ServiceRegistrar) {
	healthpb.RegisterHealthServer(r, s.Server)
}

// Refresh runs the checks once and publishes the result.
func (s *Server) Refresh(ctx context.Context) health.Report {
	rep := s.checker.Check(ctx)
	if rep.Healthy() {
		s.set(healthpb.HealthCheckResponse_SERVING)
	} else {
		s.logger.Warn("readiness check failed", zap.Any("checks", rep.Checks))
		s.set(healthpb.HealthCheckResponse_NOT_SERVING)
	}
	return rep
}

// Run refreshes every interval until ctx is done, then marks the server NOT_SERVING.
func (s *Server) Run(ctx context.Context, interval time.Duration) {
	s.Refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Shutdown()
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}

func (s *Server) set(status healthpb.HealthCheckResponse_ServingStatus) {
	s.SetServingStatus("", status)
	s.SetServingStatus(ServiceName, status)
}
