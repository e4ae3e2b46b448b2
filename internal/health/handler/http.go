package handler

import (
	"encoding/json"
	"net/http"

	"totp-mfa-demo/internal/health"
)

// Liveness answers 200 while the process serves requests.
func Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, health.Report{Status: health.StatusOK})
}

// Readiness answers 200 when every dependency check passes and 503 otherwise.
func Readiness(checker *health.Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep := checker.Check(r.Context())
		status := http.StatusOK
		if !rep.Healthy() {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, rep)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
