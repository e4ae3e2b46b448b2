package domain

import (
	"encoding/json"
	"time"
)

// Event types.
const (
	EventHTTPRequest = "http_request"
	EventAuth        = "auth"
)

// Event is a telemetry event. Its JSON form is the Kafka message value read by the worker.
type Event struct {
	UserID    string          `json:"userId,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	EventType string          `json:"eventType"`
	Source    string          `json:"source"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}
