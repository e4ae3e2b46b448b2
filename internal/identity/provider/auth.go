package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
)

// SignUp creates an account. With email confirmation enabled the provider answers with the user only and
// session is nil; with auto-confirm it also returns a session.
func (c *Client) SignUp(ctx context.Context, p SignUpParams) (*User, *Session, error) {
	var q url.Values
	if p.RedirectTo != "" {
		q = url.Values{"redirect_to": {p.RedirectTo}}
	}
	body := map[string]interface{}{
		"email":    p.Email,
		"password": p.Password,
	}
	if len(p.Data) > 0 {
		body["data"] = p.Data
	}
	var raw json.RawMessage
	if err := c.do(ctx, request{op: "sign_up", method: http.MethodPost, path: "/signup", query: q, body: body}, &raw); err != nil {
		return nil, nil, err
	}
	var s Session
	if err := json.Unmarshal(raw, &s); err == nil && s.AccessToken != "" {
		return s.User, &s, nil
	}
	var u User
	if err := json.Unmarshal(raw, &u); err != nil {
		return nil, nil, err
	}
	return &u, nil, nil
}

// SignInWithPassword exchanges email and password for a session. The session is aal1.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	var s Session
	err := c.do(ctx, request{
		op:     "sign_in",
		method: http.MethodPost,
		path:   "/token",
		query:  url.Values{"grant_type": {"password"}},
		body:   map[string]string{"email": email, "password": password},
	}, &s)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Refresh exchanges a refresh token for a new session at the same assurance level.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	var s Session
	err := c.do(ctx, request{
		op:     "refresh",
		method: http.MethodPost,
		path:   "/token",
		query:  url.Values{"grant_type": {"refresh_token"}},
		body:   map[string]string{"refresh_token": refreshToken},
	}, &s)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetUser returns the account behind accessToken, including its factors.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*User, error) {
	var u User
	if err := c.do(ctx, request{op: "get_user", method: http.MethodGet, path: "/user", accessToken: accessToken}, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// SignOut revokes the session behind accessToken.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	return c.do(ctx, request{op: "sign_out", method: http.MethodPost, path: "/logout", accessToken: accessToken}, nil)
}

// VerifyOTP redeems an email link token hash (type signup, recovery, magiclink, email_change).
func (c *Client) VerifyOTP(ctx context.Context, tokenHash, otpType string) (*Session, error) {
	var s Session
	err := c.do(ctx, request{
		op:     "verify_otp",
		method: http.MethodPost,
		path:   "/verify",
		body:   map[string]string{"type": otpType, "token_hash": tokenHash},
	}, &s)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Recover sends a password recovery email linking back to redirectTo.
func (c *Client) Recover(ctx context.Context, email, redirectTo string) error {
	var q url.Values
	if redirectTo != "" {
		q = url.Values{"redirect_to": {redirectTo}}
	}
	return c.do(ctx, request{
		op:     "recover",
		method: http.MethodPost,
		path:   "/recover",
		query:  q,
		body:   map[string]string{"email": email},
	}, nil)
}
