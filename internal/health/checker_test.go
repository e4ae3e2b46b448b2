package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

type mockPinger struct {
	pingErr error
}

func (m *mockPinger) PingContext(context.Context) error {
	return m.pingErr
}

type mockPolicyChecker struct {
	healthErr error
}

func (m *mockPolicyChecker) HealthCheck(context.Context) error {
	return m.healthErr
}

func TestCheck_NoChecks(t *testing.T) {
	rep := NewChecker(0).Check(context.Background())
	if !rep.Healthy() {
		t.Errorf("status = %q, want ok", rep.Status)
	}
}

func TestCheck_AllPass(t *testing.T) {
	c := NewChecker(time.Second)
	c.AddPinger("database", &mockPinger{})
	c.AddPolicy(&mockPolicyChecker{})
	c.AddPinger("ignored", nil)
	c.AddPolicy(nil)

	rep := c.Check(context.Background())
	if !rep.Healthy() {
		t.Errorf("status = %q, want ok", rep.Status)
	}
	if len(rep.Checks) != 2 || rep.Checks["database"] != StatusOK || rep.Checks["policy"] != StatusOK {
		t.Errorf("checks = %v", rep.Checks)
	}
	if names := c.Names(); len(names) != 2 || names[0] != "database" || names[1] != "policy" {
		t.Errorf("Names = %v", names)
	}
}

func TestCheck_Failure(t *testing.T) {
	c := NewChecker(time.Second)
	c.AddPinger("database", &mockPinger{pingErr: errors.New("connection refused")})
	c.AddPolicy(&mockPolicyChecker{})

	rep := c.Check(context.Background())
	if rep.Healthy() {
		t.Fatal("report should not be healthy")
	}
	if rep.Checks["database"] != "connection refused" {
		t.Errorf("database = %q, want error text", rep.Checks["database"])
	}
	if rep.Checks["policy"] != StatusOK {
		t.Errorf("policy = %q, want ok", rep.Checks["policy"])
	}
}

func TestCheck_Timeout(t *testing.T) {
	c := NewChecker(20 * time.Millisecond)
	c.Add("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	rep := c.Check(context.Background())
	if rep.Healthy() {
		t.Error("a check exceeding the timeout should fail")
	}
}
