package web

import (
	"net/http"

	"totp-mfa-demo/internal/identity/provider"
)

// ErrorStatus maps a provider error to the status of the re-rendered form: 400 when the provider
// rejected the input and 503 when it failed or could not be reached. Other errors are 500.
func ErrorStatus(err error) int {
	pe, ok := provider.AsError(err)
	if !ok {
		return http.StatusInternalServerError
	}
	if pe.Status >= 400 && pe.Status < 500 {
		return http.StatusBadRequest
	}
	return http.StatusServiceUnavailable
}
