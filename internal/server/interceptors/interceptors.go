// Package interceptors holds the gRPC server interceptors of the health endpoint.
package interceptors

import (
	"context"
	"net"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"totp-mfa-demo/internal/logger"
)

// LoggingUnary returns a unary server interceptor that attaches a request logger to the context and logs
// each RPC. skipMethods is the set of full method names logged at debug level (e.g. Health/Check probes).
func LoggingUnary(base *zap.Logger, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		log := base.With(
			zap.String("request_id", requestID(ctx)),
			zap.String("client_ip", ClientIP(ctx)),
		)
		resp, err := handler(logger.WithContext(ctx, log), req)

		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Duration("duration", time.Since(start)),
		}
		switch {
		case err != nil:
			log.Warn("grpc request failed", append(fields, zap.Error(err))...)
		case skipMethods[info.FullMethod]:
			log.Debug("grpc request", fields...)
		default:
			log.Info("grpc request", fields...)
		}
		return resp, err
	}
}

// RecoveryUnary returns a unary server interceptor that turns a handler panic into codes.Internal.
func RecoveryUnary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if p := recover(); p != nil {
				logger.FromContext(ctx).Error("grpc panic recovered",
					zap.String("method", info.FullMethod),
					zap.Any("error", p),
					zap.ByteString("stack", debug.Stack()),
				)
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}

// requestID returns the x-request-id metadata value or a new id.
func requestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get("x-request-id"); len(vals) > 0 {
			if s := strings.TrimSpace(vals[0]); s != "" {
				return s
			}
		}
	}
	return uuid.New().String()
}

// ClientIP returns the client IP from gRPC metadata (x-forwarded-for, x-real-ip) or peer, or "unknown".
func ClientIP(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get("x-forwarded-for"); len(vals) > 0 {
			if s := strings.TrimSpace(vals[0]); s != "" {
				if i := strings.Index(s, ","); i > 0 {
					s = strings.TrimSpace(s[:i])
				}
				return s
			}
		}
		if vals := md.Get("x-real-ip"); len(vals) > 0 {
			if s := strings.TrimSpace(vals[0]); s != "" {
				return s
			}
		}
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		if host, _, err := net.SplitHostPort(p.Addr.String()); err == nil {
			return host
		}
		return p.Addr.String()
	}
	return "unknown"
}
