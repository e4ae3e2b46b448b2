// Package providertest runs an in-memory identity provider speaking the auth REST API, for tests.
package providertest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"totp-mfa-demo/internal/identity/provider"
	"totp-mfa-demo/internal/security"
)

// ValidCode is the TOTP code the fake accepts.
const ValidCode = "123456"

// Failure makes the fake answer op with Status and Message.
type Failure struct {
	Status  int
	Message string
}

type account struct {
	id        string
	email     string
	password  string
	metadata  map[string]interface{}
	confirmed bool
	factors   []provider.Factor
}

type refreshGrant struct {
	userID string
	aal    string
}

// Server is a fake identity provider. Tokens are HS256 signed with security.TestJWTSecret.
type Server struct {
	*httptest.Server

	mu         sync.Mutex
	accounts   map[string]*account // by email
	refresh    map[string]refreshGrant
	challenges map[string]string // challenge id -> factor id
	failures   map[string]Failure
	calls      map[string]int
	// AutoConfirm makes sign-up return a session instead of waiting for email confirmation.
	AutoConfirm bool
	// TokenTTL is the access token lifetime; default one hour.
	TokenTTL time.Duration
}

// NewServer starts a fake provider. Close it with Close.
func NewServer() *Server {
	s := &Server{
		accounts:   make(map[string]*account),
		refresh:    make(map[string]refreshGrant),
		challenges: make(map[string]string),
		failures:   make(map[string]Failure),
		calls:      make(map[string]int),
		TokenTTL:   time.Hour,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/auth/v1/signup", s.handleSignUp)
	mux.HandleFunc("/auth/v1/token", s.handleToken)
	mux.HandleFunc("/auth/v1/user", s.handleUser)
	mux.HandleFunc("/auth/v1/logout", s.handleLogout)
	mux.HandleFunc("/auth/v1/factors", s.handleEnroll)
	mux.HandleFunc("/auth/v1/factors/", s.handleFactor)
	mux.HandleFunc("/auth/v1/verify", s.handleVerifyOTP)
	mux.HandleFunc("/auth/v1/recover", s.handleRecover)
	mux.HandleFunc("/auth/v1/health", func(w http.ResponseWriter, r *http.Request) {
		s.count("health")
		writeJSON(w, http.StatusOK, map[string]string{"name": "GoTrue"})
	})
	s.Server = httptest.NewServer(mux)
	return s
}

// Client returns a provider client for the fake.
func (s *Server) Client() *provider.Client {
	return provider.NewClient(s.URL, "anon-key", 5*time.Second)
}

// AddUser registers a confirmed account and returns its id.
func (s *Server) AddUser(email, password, firstName string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := &account{
		id:        uuid.NewString(),
		email:     email,
		password:  password,
		metadata:  map[string]interface{}{"first_name": firstName},
		confirmed: true,
	}
	s.accounts[email] = a
	return a.id
}

// AddVerifiedFactor gives the account a verified TOTP factor and returns its id.
func (s *Server) AddVerifiedFactor(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.accounts[email]
	f := provider.Factor{ID: uuid.NewString(), FactorType: provider.FactorTypeTOTP, Status: provider.FactorVerified, CreatedAt: time.Now()}
	a.factors = append(a.factors, f)
	return f.ID
}

// Factors returns the account's factors, verified or not.
func (s *Server) Factors(email string) []provider.Factor {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[email]
	if !ok {
		return nil
	}
	return append([]provider.Factor(nil), a.factors...)
}

// Fail makes every call of op fail until Heal is called. Ops: sign_up, sign_in, refresh, get_user,
// sign_out, enroll, challenge, verify, unenroll, verify_otp, recover.
func (s *Server) Fail(op string, f Failure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = f
}

// Heal clears the failure of op.
func (s *Server) Heal(op string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, op)
}

// Calls returns how often op was called.
func (s *Server) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Confirmed reports whether the account's email was confirmed.
func (s *Server) Confirmed(email string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[email]
	return ok && a.confirmed
}

// EmailToken returns the token hash the fake accepts on /verify for email.
func EmailToken(email string) string {
	return "hash-" + email
}

func (s *Server) count(op string) {
	s.mu.Lock()
	s.calls[op]++
	s.mu.Unlock()
}

// failed writes the injected failure for op and reports whether one was set.
func (s *Server) failed(w http.ResponseWriter, op string) bool {
	s.mu.Lock()
	s.calls[op]++
	f, ok := s.failures[op]
	s.mu.Unlock()
	if ok {
		writeError(w, f.Status, f.Message)
	}
	return ok
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{"code": status, "msg": msg})
}

func readBody(r *http.Request) map[string]interface{} {
	var body map[string]interface{}
	_ = json.NewDecoder(r.Body).Decode(&body)
	return body
}

func str(body map[string]interface{}, key string) string {
	v, _ := body[key].(string)
	return v
}

func (a *account) user() *provider.User {
	return &provider.User{ID: a.id, Email: a.email, UserMetadata: a.metadata, Factors: append([]provider.Factor(nil), a.factors...)}
}

func (a *account) hasVerified() bool {
	for _, f := range a.factors {
		if f.Status == provider.FactorVerified {
			return true
		}
	}
	return false
}

// issue must be called with s.mu held.
func (s *Server) issue(a *account, aal string) *provider.Session {
	rt := uuid.NewString()
	s.refresh[rt] = refreshGrant{userID: a.id, aal: aal}
	return &provider.Session{
		AccessToken:  security.IssueTestTokenFor(a.id, a.email, aal, s.TokenTTL),
		RefreshToken: rt,
		TokenType:    "bearer",
		ExpiresIn:    int64(s.TokenTTL.Seconds()),
		ExpiresAt:    time.Now().Add(s.TokenTTL).Unix(),
		User:         a.user(),
	}
}

// caller resolves the bearer token. Must be called with s.mu held.
func (s *Server) caller(r *http.Request) (*account, string, bool) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	claims, err := security.NewTestTokenVerifier().Decode(token)
	if err != nil {
		return nil, "", false
	}
	for _, a := range s.accounts {
		if a.id == claims.Subject {
			return a, claims.AAL, true
		}
	}
	return nil, "", false
}

func (s *Server) handleSignUp(w http.ResponseWriter, r *http.Request) {
	if s.failed(w, "sign_up") {
		return
	}
	body := readBody(r)
	email, password := str(body, "email"), str(body, "password")
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[email]; exists {
		writeError(w, http.StatusUnprocessableEntity, "User already registered")
		return
	}
	if len(password) < 6 {
		writeError(w, http.StatusUnprocessableEntity, "Password should be at least 6 characters.")
		return
	}
	meta, _ := body["data"].(map[string]interface{})
	a := &account{id: uuid.NewString(), email: email, password: password, metadata: meta, confirmed: s.AutoConfirm}
	s.accounts[email] = a
	if s.AutoConfirm {
		writeJSON(w, http.StatusOK, s.issue(a, security.AAL1))
		return
	}
	writeJSON(w, http.StatusOK, a.user())
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	grant := r.URL.Query().Get("grant_type")
	op := "sign_in"
	if grant == "refresh_token" {
		op = "refresh"
	}
	if s.failed(w, op) {
		return
	}
	body := readBody(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	switch grant {
	case "password":
		a, ok := s.accounts[str(body, "email")]
		if !ok || a.password != str(body, "password") {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "Invalid login credentials"})
			return
		}
		if !a.confirmed {
			writeError(w, http.StatusBadRequest, "Email not confirmed")
			return
		}
		writeJSON(w, http.StatusOK, s.issue(a, security.AAL1))
	case "refresh_token":
		g, ok := s.refresh[str(body, "refresh_token")]
		if !ok {
			writeError(w, http.StatusBadRequest, "Invalid Refresh Token: Refresh Token Not Found")
			return
		}
		delete(s.refresh, str(body, "refresh_token"))
		for _, a := range s.accounts {
			if a.id == g.userID {
				writeJSON(w, http.StatusOK, s.issue(a, g.aal))
				return
			}
		}
		writeError(w, http.StatusBadRequest, "User not found")
	default:
		writeError(w, http.StatusBadRequest, "unsupported grant_type")
	}
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	if s.failed(w, "get_user") {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, _, ok := s.caller(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid JWT")
		return
	}
	writeJSON(w, http.StatusOK, a.user())
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if s.failed(w, "sign_out") {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, _, ok := s.caller(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid JWT")
		return
	}
	for rt, g := range s.refresh {
		if g.userID == a.id {
			delete(s.refresh, rt)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.failed(w, "enroll") {
		return
	}
	body := readBody(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	a, _, ok := s.caller(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid JWT")
		return
	}
	if str(body, "factor_type") != provider.FactorTypeTOTP {
		writeError(w, http.StatusBadRequest, "factor_type needs to be totp")
		return
	}
	f := provider.Factor{ID: uuid.NewString(), FactorType: provider.FactorTypeTOTP, Status: provider.FactorUnverified, CreatedAt: time.Now()}
	a.factors = append(a.factors, f)
	writeJSON(w, http.StatusOK, provider.Enrollment{
		ID:   f.ID,
		Type: provider.FactorTypeTOTP,
		TOTP: provider.TOTPEnrollment{
			QRCode: fmt.Sprintf("data:image/svg+xml;utf-8,<svg id=%q></svg>", f.ID),
			Secret: "JBSWY3DPEHPK3PXP",
			URI:    "otpauth://totp/demo:" + a.email + "?secret=JBSWY3DPEHPK3PXP",
		},
	})
}

func (s *Server) handleFactor(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/auth/v1/factors/")
	parts := strings.Split(rest, "/")
	factorID := parts[0]
	switch {
	case len(parts) == 1 && r.Method == http.MethodDelete:
		s.unenroll(w, r, factorID)
	case len(parts) == 2 && parts[1] == "challenge" && r.Method == http.MethodPost:
		s.challenge(w, r, factorID)
	case len(parts) == 2 && parts[1] == "verify" && r.Method == http.MethodPost:
		s.verify(w, r, factorID)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func findFactor(a *account, id string) int {
	for i, f := range a.factors {
		if f.ID == id {
			return i
		}
	}
	return -1
}

func (s *Server) challenge(w http.ResponseWriter, r *http.Request, factorID string) {
	if s.failed(w, "challenge") {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, _, ok := s.caller(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid JWT")
		return
	}
	if findFactor(a, factorID) < 0 {
		writeError(w, http.StatusNotFound, "Factor not found")
		return
	}
	id := uuid.NewString()
	s.challenges[id] = factorID
	writeJSON(w, http.StatusOK, provider.Challenge{ID: id, ExpiresAt: time.Now().Add(5 * time.Minute).Unix()})
}

func (s *Server) verify(w http.ResponseWriter, r *http.Request, factorID string) {
	if s.failed(w, "verify") {
		return
	}
	body := readBody(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	a, _, ok := s.caller(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid JWT")
		return
	}
	challengeID := str(body, "challenge_id")
	if s.challenges[challengeID] != factorID {
		writeError(w, http.StatusNotFound, "Challenge not found")
		return
	}
	delete(s.challenges, challengeID)
	i := findFactor(a, factorID)
	if i < 0 {
		writeError(w, http.StatusNotFound, "Factor not found")
		return
	}
	if str(body, "code") != ValidCode {
		writeError(w, http.StatusUnprocessableEntity, "Invalid TOTP code entered")
		return
	}
	a.factors[i].Status = provider.FactorVerified
	writeJSON(w, http.StatusOK, s.issue(a, security.AAL2))
}

func (s *Server) unenroll(w http.ResponseWriter, r *http.Request, factorID string) {
	if s.failed(w, "unenroll") {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, aal, ok := s.caller(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid JWT")
		return
	}
	i := findFactor(a, factorID)
	if i < 0 {
		writeError(w, http.StatusNotFound, "Factor not found")
		return
	}
	if a.factors[i].Status == provider.FactorVerified && aal != security.AAL2 {
		writeError(w, http.StatusForbidden, "AAL2 required to unenroll verified factor")
		return
	}
	a.factors = append(a.factors[:i], a.factors[i+1:]...)
	writeJSON(w, http.StatusOK, map[string]string{"id": factorID})
}

func (s *Server) handleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	if s.failed(w, "verify_otp") {
		return
	}
	body := readBody(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	for email, a := range s.accounts {
		if str(body, "token_hash") == EmailToken(email) {
			a.confirmed = true
			aal := security.AAL1
			writeJSON(w, http.StatusOK, s.issue(a, aal))
			return
		}
	}
	writeError(w, http.StatusForbidden, "Email link is invalid or has expired")
}

func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	if s.failed(w, "recover") {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{})
}
