package provider

import (
	"strings"
	"time"
)

// Factor types and statuses reported by the provider.
const (
	FactorTypeTOTP   = "totp"
	FactorVerified   = "verified"
	FactorUnverified = "unverified"
)

// Session is the token pair returned by sign-in, refresh and MFA verify.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	User         *User  `json:"user"`
}

// Expiry returns when the access token expires, from expires_at or expires_in relative to now.
func (s *Session) Expiry(now time.Time) time.Time {
	if s.ExpiresAt > 0 {
		return time.Unix(s.ExpiresAt, 0)
	}
	return now.Add(time.Duration(s.ExpiresIn) * time.Second)
}

// User is the provider's account record.
type User struct {
	ID           string                 `json:"id"`
	Email        string                 `json:"email"`
	UserMetadata map[string]interface{} `json:"user_metadata"`
	Factors      []Factor               `json:"factors"`
}

// FirstName returns user_metadata.first_name, or empty.
func (u *User) FirstName() string {
	if u == nil {
		return ""
	}
	s, _ := u.UserMetadata["first_name"].(string)
	return strings.TrimSpace(s)
}

// VerifiedTOTP returns the verified TOTP factors in provider order.
func (u *User) VerifiedTOTP() []Factor {
	if u == nil {
		return nil
	}
	var out []Factor
	for _, f := range u.Factors {
		if f.FactorType == FactorTypeTOTP && f.Status == FactorVerified {
			out = append(out, f)
		}
	}
	return out
}

// Factor is a registered MFA factor.
type Factor struct {
	ID           string    `json:"id"`
	FactorType   string    `json:"factor_type"`
	Status       string    `json:"status"`
	FriendlyName string    `json:"friendly_name,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// TOTPEnrollment is the TOTP material returned by enroll. QRCode is an image data URI rendered as is.
type TOTPEnrollment struct {
	QRCode string `json:"qr_code"`
	Secret string `json:"secret"`
	URI    string `json:"uri"`
}

// Enrollment is a newly created, unverified factor.
type Enrollment struct {
	ID   string         `json:"id"`
	Type string         `json:"type"`
	TOTP TOTPEnrollment `json:"totp"`
}

// Challenge is a single-use verification attempt for a factor.
type Challenge struct {
	ID        string `json:"id"`
	ExpiresAt int64  `json:"expires_at"`
}

// SignUpParams are the inputs of SignUp.
type SignUpParams struct {
	Email      string
	Password   string
	Data       map[string]interface{}
	RedirectTo string
}
