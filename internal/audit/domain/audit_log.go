package domain

import "time"

// Outcomes recorded with an audit event.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// AuditLog represents an audit event for one auth action.
type AuditLog struct {
	ID       string
	UserID   string // empty for anonymous actions (e.g. a failed login)
	Action   string
	Resource string
	Outcome  string
	IP       string
	// Metadata is a JSON object, or empty.
	Metadata  string
	CreatedAt time.Time
}
