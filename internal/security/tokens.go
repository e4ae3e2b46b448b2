package security

import (
	"crypto"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed or invalid.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired is returned when a well-formed token is past its exp claim.
	ErrTokenExpired = errors.New("token expired")
)

// Authenticator assurance levels carried in the provider's aal claim.
const (
	AAL1 = "aal1"
	AAL2 = "aal2"
)

// AMREntry is one authentication method reference (e.g. password, totp).
type AMREntry struct {
	Method    string `json:"method"`
	Timestamp int64  `json:"timestamp"`
}

// Claims are the identity provider's access token claims the app reads.
type Claims struct {
	jwt.RegisteredClaims
	Email     string     `json:"email"`
	Role      string     `json:"role"`
	AAL       string     `json:"aal"`
	SessionID string     `json:"session_id"`
	AMR       []AMREntry `json:"amr"`
}

// HasMethod reports whether method appears in the amr claim.
func (c *Claims) HasMethod(method string) bool {
	for _, e := range c.AMR {
		if e.Method == method {
			return true
		}
	}
	return false
}

// TokenVerifier decodes provider access tokens. With an HMAC secret or a public key configured it verifies
// the signature; otherwise it only decodes the payload and checks exp, trusting the provider's TLS channel.
type TokenVerifier struct {
	hmacSecret []byte
	publicKey  crypto.PublicKey
	nowF       func() time.Time
}

// NewTokenVerifier returns a verifier. hmacSecret enables HS256; publicKey enables RS256 or ES256.
// Both may be empty.
func NewTokenVerifier(hmacSecret string, publicKey crypto.PublicKey) *TokenVerifier {
	v := &TokenVerifier{publicKey: publicKey, nowF: time.Now}
	if hmacSecret != "" {
		v.hmacSecret = []byte(hmacSecret)
	}
	return v
}

// Verifies reports whether signatures are checked.
func (v *TokenVerifier) Verifies() bool {
	return len(v.hmacSecret) > 0 || v.publicKey != nil
}

// Decode returns the claims of tokenString. Returns ErrTokenExpired for an expired token and ErrInvalidToken otherwise.
func (v *TokenVerifier) Decode(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}
	if !v.Verifies() {
		return v.decodeUnverified(tokenString)
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, v.keyFunc,
		jwt.WithValidMethods(v.methods()),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.nowF),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (v *TokenVerifier) decodeUnverified(tokenString string) (*Claims, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" || claims.ExpiresAt == nil {
		return nil, ErrInvalidToken
	}
	if !v.nowF().Before(claims.ExpiresAt.Time) {
		return nil, ErrTokenExpired
	}
	return claims, nil
}

func (v *TokenVerifier) methods() []string {
	var out []string
	if len(v.hmacSecret) > 0 {
		out = append(out, jwt.SigningMethodHS256.Alg())
	}
	if alg := keyAlg(v.publicKey); alg != "" {
		out = append(out, alg)
	}
	return out
}

func (v *TokenVerifier) keyFunc(token *jwt.Token) (interface{}, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodHMAC:
		if len(v.hmacSecret) > 0 {
			return v.hmacSecret, nil
		}
	case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA:
		if v.publicKey != nil {
			return v.publicKey, nil
		}
	}
	return nil, ErrInvalidToken
}
