// Package server assembles the web server's HTTP router and the gRPC health server.
package server

import (
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	healthhandler "totp-mfa-demo/internal/health/handler"
	"totp-mfa-demo/internal/server/interceptors"
)

// quietMethods are polled by orchestrators and logged at debug level.
var quietMethods = map[string]bool{
	"/grpc.health.v1.Health/Check": true,
	"/grpc.health.v1.Health/List":  true,
}

// NewGRPCServer returns a gRPC server with the logging and recovery interceptors.
func NewGRPCServer(logger *zap.Logger) *grpc.Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return grpc.NewServer(grpc.ChainUnaryInterceptor(
		interceptors.LoggingUnary(logger, quietMethods),
		interceptors.RecoveryUnary(),
	))
}

// RegisterServices registers the gRPC services with s.
//
// Service → handler mapping:
//   - grpc.health.v1.Health → internal/health/handler
//   - grpc.reflection       → registered when reflect is true (development)
func RegisterServices(s grpc.ServiceRegistrar, health *healthhandler.Server, reflect bool) {
	if health != nil {
		health.Register(s)
	}
	if !reflect {
		return
	}
	if gs, ok := s.(*grpc.Server); ok {
		reflection.Register(gs)
	}
}
