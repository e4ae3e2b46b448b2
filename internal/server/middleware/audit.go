package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"totp-mfa-demo/internal/audit"
	auditdomain "totp-mfa-demo/internal/audit/domain"
	"totp-mfa-demo/internal/session"
	"totp-mfa-demo/internal/telemetry"
	telemetrydomain "totp-mfa-demo/internal/telemetry/domain"
)

// authEventMetadata is the JSON shape stored in Event.Metadata for auth events.
type authEventMetadata struct {
	Action   string            `json:"action"`
	Resource string            `json:"resource"`
	Outcome  string            `json:"outcome"`
	Details  map[string]string `json:"details,omitempty"`
}

// Audit records an audit entry and an auth telemetry event after each auth action (login, MFA,
// signup, logout). Handlers refine the entry with audit.Record; the outcome otherwise follows the
// status code. Both sinks are best-effort and may be nil.
func Audit(auditLogger audit.AuditLogger, emitter telemetry.EventEmitter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if auditLogger == nil && emitter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ar, ok := audit.ParseRoute(r.Method, r.URL.Path)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			auth := session.FromContext(ctx)
			entry := &audit.Entry{UserID: auth.UserID()}
			rec := newStatusRecorder(w)
			next.ServeHTTP(rec, r.WithContext(audit.WithEntry(ctx, entry)))

			if entry.Outcome == "" {
				entry.Outcome = auditdomain.OutcomeSuccess
				if rec.status >= http.StatusBadRequest {
					entry.Outcome = auditdomain.OutcomeFailure
				}
			}
			if auditLogger != nil {
				auditLogger.LogEvent(ctx, entry.UserID, ar.Action, ar.Resource, entry.Outcome, entry.Metadata)
			}
			meta, _ := json.Marshal(authEventMetadata{
				Action:   ar.Action,
				Resource: ar.Resource,
				Outcome:  entry.Outcome,
				Details:  entry.Metadata,
			})
			telemetry.EmitAsync(emitter, ctx, &telemetrydomain.Event{
				UserID:    entry.UserID,
				EventType: telemetrydomain.EventAuth,
				Source:    "audit_middleware",
				Metadata:  meta,
				CreatedAt: time.Now().UTC(),
			})
		})
	}
}
