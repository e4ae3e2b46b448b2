package server

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"totp-mfa-demo/internal/health"
	healthhandler "totp-mfa-demo/internal/health/handler"
)

// mockServiceRegistrar implements grpc.ServiceRegistrar for testing.
type mockServiceRegistrar struct {
	services []string
}

func (m *mockServiceRegistrar) RegisterService(desc *grpc.ServiceDesc, impl interface{}) {
	m.services = append(m.services, desc.ServiceName)
}

func TestRegisterServices_Health(t *testing.T) {
	mockReg := &mockServiceRegistrar{}
	RegisterServices(mockReg, healthhandler.NewServer(health.NewChecker(0), nil), true)

	if len(mockReg.services) != 1 {
		t.Fatalf("RegisterService called %d times, want 1", len(mockReg.services))
	}
	if mockReg.services[0] != "grpc.health.v1.Health" {
		t.Errorf("service = %q, want %q", mockReg.services[0], "grpc.health.v1.Health")
	}
}

func TestRegisterServices_NilHealth(t *testing.T) {
	mockReg := &mockServiceRegistrar{}
	RegisterServices(mockReg, nil, false)

	if len(mockReg.services) != 0 {
		t.Errorf("RegisterService called %d times, want 0", len(mockReg.services))
	}
}

func TestGRPCServer_HealthCheck(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	hs := healthhandler.NewServer(health.NewChecker(0), nil)
	s := NewGRPCServer(nil)
	RegisterServices(s, hs, true)
	go func() { _ = s.Serve(lis) }()
	defer s.Stop()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: healthhandler.ServiceName})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_NOT_SERVING {
		t.Errorf("status before refresh = %v, want NOT_SERVING", resp.GetStatus())
	}

	hs.Refresh(ctx)
	resp, err = client.Check(ctx, &healthpb.HealthCheckRequest{Service: healthhandler.ServiceName})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Errorf("status after refresh = %v, want SERVING", resp.GetStatus())
	}
}
