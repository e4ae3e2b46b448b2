package provider

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// unavailableMessage is shown when the provider cannot be reached or the breaker is open.
const unavailableMessage = "Authentication service is unavailable, please try again later"

// Error is any failure reported by the identity provider. Error returns the provider's message unmodified.
type Error struct {
	// Status is the HTTP status returned by the provider; 0 when no response was received.
	Status int
	// Code is the provider error code (e.g. invalid_credentials, mfa_verification_failed), if any.
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// AsError returns the *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsStatus reports whether err is a provider Error with the given HTTP status.
func IsStatus(err error, status int) bool {
	pe, ok := AsError(err)
	return ok && pe.Status == status
}

// clientError reports whether err is a 4xx answer: the provider is healthy and rejected the request.
func clientError(err error) bool {
	pe, ok := AsError(err)
	return ok && pe.Status >= 400 && pe.Status < 500
}

type errorBody struct {
	Msg              string          `json:"msg"`
	Message          string          `json:"message"`
	ErrorDescription string          `json:"error_description"`
	Error            string          `json:"error"`
	ErrorCode        string          `json:"error_code"`
	Code             json.RawMessage `json:"code"`
}

// parseError builds an Error from a non-2xx response body. The message is taken from msg, message,
// error_description, then error; the status text is used when the body carries none.
func parseError(status int, body []byte) *Error {
	e := &Error{Status: status}
	var b errorBody
	if err := json.Unmarshal(body, &b); err == nil {
		for _, m := range []string{b.Msg, b.Message, b.ErrorDescription, b.Error} {
			if m = strings.TrimSpace(m); m != "" {
				e.Message = m
				break
			}
		}
		e.Code = b.ErrorCode
		if e.Code == "" && len(b.Code) > 0 {
			var s string
			if json.Unmarshal(b.Code, &s) == nil {
				e.Code = s
			}
		}
	}
	if e.Message == "" {
		e.Message = http.StatusText(status)
	}
	return e
}
