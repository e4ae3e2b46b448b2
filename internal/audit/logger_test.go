package audit

import (
	"context"
	"errors"
	"testing"

	"totp-mfa-demo/internal/audit/domain"
)

// mockAuditRepo implements the audit repository interface for tests.
type mockAuditRepo struct {
	entries   []*domain.AuditLog
	createErr error
}

func (m *mockAuditRepo) Create(ctx context.Context, entry *domain.AuditLog) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockAuditRepo) ListByUser(ctx context.Context, userID string, limit int32) ([]*domain.AuditLog, error) {
	return m.entries, nil
}

func TestLogger_LogEvent_Success(t *testing.T) {
	repo := &mockAuditRepo{}
	l := NewLogger(repo, func(ctx context.Context) string { return "192.168.1.1" })

	l.LogEvent(context.Background(), "user-1", "login", "session", domain.OutcomeSuccess, map[string]string{"state": "awaiting_challenge"})

	if len(repo.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(repo.entries))
	}
	entry := repo.entries[0]
	if entry.ID == "" {
		t.Error("id should be set")
	}
	if entry.UserID != "user-1" {
		t.Errorf("user_id = %q, want %q", entry.UserID, "user-1")
	}
	if entry.Action != "login" || entry.Resource != "session" {
		t.Errorf("action/resource = %q/%q, want login/session", entry.Action, entry.Resource)
	}
	if entry.Outcome != domain.OutcomeSuccess {
		t.Errorf("outcome = %q, want success", entry.Outcome)
	}
	if entry.IP != "192.168.1.1" {
		t.Errorf("ip = %q, want %q", entry.IP, "192.168.1.1")
	}
	if entry.Metadata != `{"state":"awaiting_challenge"}` {
		t.Errorf("metadata = %q", entry.Metadata)
	}
	if entry.CreatedAt.IsZero() {
		t.Error("created_at should be set")
	}
}

func TestLogger_LogEvent_NoIPExtractor(t *testing.T) {
	repo := &mockAuditRepo{}
	NewLogger(repo, nil).LogEvent(context.Background(), "", "login", "session", domain.OutcomeFailure, nil)

	if len(repo.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(repo.entries))
	}
	if repo.entries[0].IP != "unknown" {
		t.Errorf("ip = %q, want unknown", repo.entries[0].IP)
	}
	if repo.entries[0].Metadata != "" {
		t.Errorf("metadata = %q, want empty", repo.entries[0].Metadata)
	}
}

func TestLogger_LogEvent_RepoErrorIgnored(t *testing.T) {
	repo := &mockAuditRepo{createErr: errors.New("db down")}
	NewLogger(repo, nil).LogEvent(context.Background(), "user-1", "logout", "session", domain.OutcomeSuccess, nil)
	if len(repo.entries) != 0 {
		t.Errorf("expected no entries, got %d", len(repo.entries))
	}
}

func TestLogger_NilRepo(t *testing.T) {
	var nilLogger *Logger
	nilLogger.LogEvent(context.Background(), "u", "a", "r", domain.OutcomeSuccess, nil)
	NewLogger(nil, nil).LogEvent(context.Background(), "u", "a", "r", domain.OutcomeSuccess, nil)
}
