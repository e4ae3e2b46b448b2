package mfa

import (
	"context"
	"net/http"

	"totp-mfa-demo/internal/identity/provider"
)

// fakeAPI is an in-memory FactorAPI. Errors set on the struct are returned by the matching call.
type fakeAPI struct {
	factors []provider.Factor
	code    string

	enrollErr    error
	challengeErr error
	verifyErr    error
	unenrollErr  error
	listErr      error

	calls      []string
	challenged []string
	seq        int
}

var _ FactorAPI = (*fakeAPI)(nil)

func newFakeAPI() *fakeAPI {
	return &fakeAPI{code: "123456"}
}

func (f *fakeAPI) ListFactors(ctx context.Context, accessToken string) ([]provider.Factor, error) {
	f.calls = append(f.calls, "list")
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []provider.Factor
	for _, fc := range f.factors {
		if fc.Status == provider.FactorVerified {
			out = append(out, fc)
		}
	}
	return out, nil
}

func (f *fakeAPI) Enroll(ctx context.Context, accessToken, friendlyName string) (*provider.Enrollment, error) {
	f.calls = append(f.calls, "enroll")
	if f.enrollErr != nil {
		return nil, f.enrollErr
	}
	f.seq++
	id := "factor-" + string(rune('0'+f.seq))
	f.factors = append(f.factors, provider.Factor{ID: id, FactorType: provider.FactorTypeTOTP, Status: provider.FactorUnverified})
	return &provider.Enrollment{ID: id, Type: "totp", TOTP: provider.TOTPEnrollment{QRCode: "data:image/svg+xml;utf-8,<svg>" + id + "</svg>"}}, nil
}

func (f *fakeAPI) Challenge(ctx context.Context, accessToken, factorID string) (*provider.Challenge, error) {
	f.calls = append(f.calls, "challenge")
	f.challenged = append(f.challenged, factorID)
	if f.challengeErr != nil {
		return nil, f.challengeErr
	}
	if f.find(factorID) < 0 {
		return nil, &provider.Error{Status: http.StatusNotFound, Message: "Factor not found"}
	}
	return &provider.Challenge{ID: "challenge-" + factorID}, nil
}

func (f *fakeAPI) Verify(ctx context.Context, accessToken, factorID, challengeID, code string) (*provider.Session, error) {
	f.calls = append(f.calls, "verify")
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	i := f.find(factorID)
	if i < 0 || challengeID != "challenge-"+factorID {
		return nil, &provider.Error{Status: http.StatusNotFound, Message: "Challenge not found"}
	}
	if code != f.code {
		return nil, &provider.Error{Status: http.StatusUnprocessableEntity, Message: "Invalid TOTP code entered"}
	}
	f.factors[i].Status = provider.FactorVerified
	return &provider.Session{AccessToken: "aal2-token", RefreshToken: "rt", ExpiresIn: 3600}, nil
}

func (f *fakeAPI) Unenroll(ctx context.Context, accessToken, factorID string) error {
	f.calls = append(f.calls, "unenroll")
	if f.unenrollErr != nil {
		return f.unenrollErr
	}
	i := f.find(factorID)
	if i < 0 {
		return &provider.Error{Status: http.StatusNotFound, Message: "Factor not found"}
	}
	f.factors = append(f.factors[:i], f.factors[i+1:]...)
	return nil
}

func (f *fakeAPI) find(id string) int {
	for i, fc := range f.factors {
		if fc.ID == id {
			return i
		}
	}
	return -1
}

func (f *fakeAPI) hasVerified() bool {
	for _, fc := range f.factors {
		if fc.Status == provider.FactorVerified {
			return true
		}
	}
	return false
}
