package provider

import (
	"context"
	"net/http"
	"net/url"
)

// ListFactors returns the account's verified TOTP factors in provider order.
func (c *Client) ListFactors(ctx context.Context, accessToken string) ([]Factor, error) {
	u, err := c.GetUser(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	return u.VerifiedTOTP(), nil
}

// Enroll creates an unverified TOTP factor and returns its id and QR payload.
func (c *Client) Enroll(ctx context.Context, accessToken, friendlyName string) (*Enrollment, error) {
	body := map[string]string{"factor_type": FactorTypeTOTP}
	if friendlyName != "" {
		body["friendly_name"] = friendlyName
	}
	var e Enrollment
	if err := c.do(ctx, request{op: "enroll", method: http.MethodPost, path: "/factors", accessToken: accessToken, body: body}, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Challenge creates a single-use challenge for factorID.
func (c *Client) Challenge(ctx context.Context, accessToken, factorID string) (*Challenge, error) {
	var ch Challenge
	err := c.do(ctx, request{
		op:          "challenge",
		method:      http.MethodPost,
		path:        "/factors/" + url.PathEscape(factorID) + "/challenge",
		accessToken: accessToken,
		body:        map[string]string{},
	}, &ch)
	if err != nil {
		return nil, err
	}
	return &ch, nil
}

// Verify answers challengeID with code. On success the factor is verified and an aal2 session is returned.
func (c *Client) Verify(ctx context.Context, accessToken, factorID, challengeID, code string) (*Session, error) {
	var s Session
	err := c.do(ctx, request{
		op:          "verify",
		method:      http.MethodPost,
		path:        "/factors/" + url.PathEscape(factorID) + "/verify",
		accessToken: accessToken,
		body:        map[string]string{"challenge_id": challengeID, "code": code},
	}, &s)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Unenroll deletes factorID.
func (c *Client) Unenroll(ctx context.Context, accessToken, factorID string) error {
	return c.do(ctx, request{
		op:          "unenroll",
		method:      http.MethodDelete,
		path:        "/factors/" + url.PathEscape(factorID),
		accessToken: accessToken,
	}, nil)
}
