package interceptors

import (
	"context"
	"errors"
	"net"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"totp-mfa-demo/internal/logger"
)

func TestClientIP_FromXForwardedFor(t *testing.T) {
	md := metadata.New(map[string]string{"x-forwarded-for": "192.168.1.1, 10.0.0.1"})
	ctx := metadata.NewIncomingContext(context.Background(), md)

	if ip := ClientIP(ctx); ip != "192.168.1.1" {
		t.Errorf("ClientIP = %q, want %q", ip, "192.168.1.1")
	}
}

func TestClientIP_FromXRealIP(t *testing.T) {
	md := metadata.New(map[string]string{"x-real-ip": "192.168.1.2"})
	ctx := metadata.NewIncomingContext(context.Background(), md)

	if ip := ClientIP(ctx); ip != "192.168.1.2" {
		t.Errorf("ClientIP = %q, want %q", ip, "192.168.1.2")
	}
}

func TestClientIP_FromPeer(t *testing.T) {
	addr := &net.TCPAddr{IP: net.ParseIP("192.168.1.3"), Port: 8080}
	ctx := peer.NewContext(context.Background(), &peer.Peer{Addr: addr})

	if ip := ClientIP(ctx); ip != "192.168.1.3" {
		t.Errorf("ClientIP = %q, want %q", ip, "192.168.1.3")
	}
}

func TestClientIP_Unknown(t *testing.T) {
	if ip := ClientIP(context.Background()); ip != "unknown" {
		t.Errorf("ClientIP = %q, want %q", ip, "unknown")
	}
}

func TestLoggingUnary_LogsAndInjectsLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	interceptor := LoggingUnary(zap.New(core), map[string]bool{"/grpc.health.v1.Health/Check": true})

	md := metadata.New(map[string]string{"x-request-id": "req-1"})
	ctx := metadata.NewIncomingContext(context.Background(), md)
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		logger.FromContext(ctx).Info("inside handler")
		return "ok", nil
	}

	resp, err := interceptor(ctx, "request", &grpc.UnaryServerInfo{FullMethod: "/test.Service/Do"}, handler)
	if err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	if resp != "ok" {
		t.Errorf("response = %v, want %q", resp, "ok")
	}
	inside := logs.FilterMessage("inside handler").All()
	if len(inside) != 1 || inside[0].ContextMap()["request_id"] != "req-1" {
		t.Errorf("handler log = %v, want one entry with request_id req-1", inside)
	}
	if logs.FilterMessage("grpc request").FilterLevelExact(zap.InfoLevel).Len() != 1 {
		t.Error("want one info grpc request entry")
	}
}

func TestLoggingUnary_SkipMethodLogsAtDebug(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	interceptor := LoggingUnary(zap.New(core), map[string]bool{"/grpc.health.v1.Health/Check": true})
	handler := func(ctx context.Context, req interface{}) (interface{}, error) { return nil, nil }

	if _, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}, handler); err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	if logs.FilterLevelExact(zap.DebugLevel).Len() != 1 {
		t.Errorf("debug entries = %d, want 1", logs.FilterLevelExact(zap.DebugLevel).Len())
	}
}

func TestLoggingUnary_Error(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	interceptor := LoggingUnary(zap.New(core), nil)
	wantErr := status.Error(codes.Unavailable, "down")
	handler := func(ctx context.Context, req interface{}) (interface{}, error) { return nil, wantErr }

	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/test.Service/Do"}, handler)
	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want %v", err, wantErr)
	}
	entries := logs.FilterMessage("grpc request failed").All()
	if len(entries) != 1 || entries[0].ContextMap()["code"] != "Unavailable" {
		t.Errorf("entries = %v, want one failure with code Unavailable", entries)
	}
}

func TestRecoveryUnary(t *testing.T) {
	interceptor := RecoveryUnary()
	handler := func(ctx context.Context, req interface{}) (interface{}, error) { panic("boom") }

	resp, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/test.Service/Do"}, handler)
	if resp != nil {
		t.Errorf("response = %v, want nil", resp)
	}
	if status.Code(err) != codes.Internal {
		t.Errorf("code = %v, want %v", status.Code(err), codes.Internal)
	}
}
