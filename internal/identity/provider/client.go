// Package provider is a client for the identity provider's (Supabase Auth / GoTrue) REST API.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"totp-mfa-demo/internal/metrics"
)

const (
	defaultTimeout = 15 * time.Second
	authPath       = "/auth/v1"
	// maxBodyBytes bounds provider responses read into memory.
	maxBodyBytes = 1 << 20
)

// Client calls the provider's auth endpoints. Every call runs through a circuit breaker that trips on
// transport failures and 5xx answers; 4xx answers (bad password, wrong code) never trip it.
type Client struct {
	// BaseURL is the auth API root, e.g. https://xyz.supabase.co/auth/v1.
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client

	breaker *gobreaker.CircuitBreaker
	tracer  trace.Tracer
}

// NewClient returns a client for the project at projectURL using the anon apiKey.
// A non-positive timeout uses 15s.
func NewClient(projectURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		BaseURL:    strings.TrimSuffix(projectURL, "/") + authPath,
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "identity-provider",
			MaxRequests: 1,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			IsSuccessful: func(err error) bool {
				return err == nil || clientError(err)
			},
		}),
		tracer: otel.Tracer("totp-mfa-demo/identity/provider"),
	}
}

// request describes one provider call.
type request struct {
	op          string
	method      string
	path        string
	query       url.Values
	accessToken string
	body        interface{}
}

// do executes req and decodes a 2xx JSON body into out (if non-nil).
func (c *Client) do(ctx context.Context, req request, out interface{}) error {
	ctx, span := c.tracer.Start(ctx, "provider."+req.op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", req.method),
			attribute.String("provider.path", req.path),
		),
	)
	defer span.End()

	start := time.Now()
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.roundTrip(ctx, req, out)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = &Error{Status: http.StatusServiceUnavailable, Message: unavailableMessage}
	}
	metrics.ProviderCallDuration.WithLabelValues(req.op).Observe(time.Since(start).Seconds())

	outcome := "ok"
	if err != nil {
		outcome = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if pe, ok := AsError(err); ok {
			span.SetAttributes(attribute.Int("http.status_code", pe.Status))
		}
	}
	metrics.ProviderCallsTotal.WithLabelValues(req.op, outcome).Inc()
	return err
}

func (c *Client) roundTrip(ctx context.Context, req request, out interface{}) error {
	u := c.BaseURL + req.path
	if len(req.query) > 0 {
		u += "?" + req.query.Encode()
	}
	var body io.Reader
	if req.body != nil {
		raw, err := json.Marshal(req.body)
		if err != nil {
			return fmt.Errorf("provider: encode %s request: %w", req.op, err)
		}
		body = bytes.NewReader(raw)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, u, body)
	if err != nil {
		return fmt.Errorf("provider: build %s request: %w", req.op, err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("apikey", c.APIKey)
	bearer := req.accessToken
	if bearer == "" {
		bearer = c.APIKey
	}
	httpReq.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return &Error{Message: unavailableMessage}
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &Error{Status: resp.StatusCode, Message: unavailableMessage}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseError(resp.StatusCode, raw)
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("provider: decode %s response: %w", req.op, err)
	}
	return nil
}

// Health calls the provider's health endpoint.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, request{op: "health", method: http.MethodGet, path: "/health"}, nil)
}
