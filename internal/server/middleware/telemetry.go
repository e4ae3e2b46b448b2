package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"totp-mfa-demo/internal/session"
	"totp-mfa-demo/internal/telemetry"
	"totp-mfa-demo/internal/telemetry/domain"
)

const tracerName = "totp-mfa-demo/http"

// httpRequestMetadata is the JSON shape stored in Event.Metadata for http_request events.
type httpRequestMetadata struct {
	Route      string `json:"route"`
	Method     string `json:"method"`
	StatusCode int    `json:"status_code"`
	DurationMs int64  `json:"duration_ms"`
	ClientIP   string `json:"client_ip"`
	RequestID  string `json:"request_id,omitempty"`
}

// Trace starts a server span per request, continuing a trace from the incoming headers.
func Trace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		route := routeName(r)
		ctx, span := otel.Tracer(tracerName).Start(ctx, r.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", r.Method),
				attribute.String("http.route", route),
				attribute.String("client.address", ClientIP(r.Context())),
			),
		)
		defer span.End()

		rec := newStatusRecorder(w)
		next.ServeHTTP(rec, r.WithContext(ctx))
		span.SetAttributes(attribute.Int("http.response.status_code", rec.status))
		if rec.status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(rec.status))
		}
	})
}

// Telemetry emits an http_request event after each request. Best-effort: the emit runs in the
// background and failures are logged. A nil emitter disables the middleware. skipRoutes are route
// templates not to emit (e.g. health probes).
func Telemetry(emitter telemetry.EventEmitter, skipRoutes map[string]bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if emitter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := newStatusRecorder(w)
			next.ServeHTTP(rec, r)
			route := routeName(r)
			if skipRoutes[route] {
				return
			}
			ctx := r.Context()
			requestID, _ := GetRequestID(ctx)
			meta, _ := json.Marshal(httpRequestMetadata{
				Route:      route,
				Method:     r.Method,
				StatusCode: rec.status,
				DurationMs: time.Since(start).Milliseconds(),
				ClientIP:   ClientIP(ctx),
				RequestID:  requestID,
			})
			auth := session.FromContext(ctx)
			event := &domain.Event{
				UserID:    auth.UserID(),
				EventType: domain.EventHTTPRequest,
				Source:    "http_middleware",
				Metadata:  meta,
				CreatedAt: time.Now().UTC(),
			}
			if auth.Present() {
				event.SessionID = auth.Record.ID
			}
			telemetry.EmitAsync(emitter, ctx, event)
		})
	}
}
