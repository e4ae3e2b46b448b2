package domain

import "time"

// Flash kinds.
const (
	FlashError = "error"
	FlashInfo  = "info"
)

// Record is the server-side browser session. It holds the provider tokens and the state of the MFA
// flows between requests.
type Record struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Email  string `json:"email"`

	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"` // access token expiry

	// VerifiedFactor is true when the account had a verified TOTP factor the last time factors were listed.
	VerifiedFactor bool `json:"verified_factor"`
	// ChallengePending is true between a password sign-in and the end of the MFA challenge.
	ChallengePending bool        `json:"challenge_pending"`
	Enrollment       *Enrollment `json:"enrollment,omitempty"`
	Flash            *Flash      `json:"flash,omitempty"`

	// Version increases on every successful update; writes carrying an older version are rejected.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Enrollment is a TOTP factor created by the provider and waiting for its first code.
type Enrollment struct {
	FactorID string `json:"factor_id"`
	QRCode   string `json:"qr_code"`
}

// Flash is a one-time message shown on the next rendered page.
type Flash struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// AccessExpired reports whether the access token expires within skew of now.
func (r *Record) AccessExpired(now time.Time, skew time.Duration) bool {
	return !r.ExpiresAt.After(now.Add(skew))
}

// TakeFlash returns and clears the pending flash message.
func (r *Record) TakeFlash() *Flash {
	f := r.Flash
	r.Flash = nil
	return f
}

// SetError stores an error flash.
func (r *Record) SetError(msg string) {
	r.Flash = &Flash{Kind: FlashError, Message: msg}
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.Enrollment != nil {
		e := *r.Enrollment
		c.Enrollment = &e
	}
	if r.Flash != nil {
		f := *r.Flash
		c.Flash = &f
	}
	return &c
}
