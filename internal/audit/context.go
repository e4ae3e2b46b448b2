package audit

import "context"

type contextKey struct{ name string }

var entryKey = contextKey{"audit_entry"}

// Entry collects what a handler knows about the audited action of a request. The audit middleware
// creates it and writes it once the handler returned.
type Entry struct {
	UserID   string
	Outcome  string
	Metadata map[string]string
}

// WithEntry returns ctx carrying e.
func WithEntry(ctx context.Context, e *Entry) context.Context {
	return context.WithValue(ctx, entryKey, e)
}

// EntryFromContext returns the entry of the request, or nil when the request is not audited.
func EntryFromContext(ctx context.Context) *Entry {
	e, _ := ctx.Value(entryKey).(*Entry)
	return e
}

// Record sets the outcome and user of the audited action. Empty values keep what was set before.
// It is a no-op for requests without an entry.
func Record(ctx context.Context, outcome, userID string, metadata map[string]string) {
	e := EntryFromContext(ctx)
	if e == nil {
		return
	}
	if outcome != "" {
		e.Outcome = outcome
	}
	if userID != "" {
		e.UserID = userID
	}
	for k, v := range metadata {
		if e.Metadata == nil {
			e.Metadata = make(map[string]string, len(metadata))
		}
		e.Metadata[k] = v
	}
}
