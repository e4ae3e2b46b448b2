// Package mfa runs the TOTP enrollment and post-login challenge flows and factor management
// against the identity provider.
package mfa

import (
	"context"
	"errors"
	"strings"

	"totp-mfa-demo/internal/identity/provider"
	"totp-mfa-demo/internal/mfa/domain"
)

var (
	// ErrEmptyCode is returned by Enable when the code is blank; no provider call is made.
	ErrEmptyCode = errors.New("verification code is empty")
	// ErrNoTOTPFactor is returned when the account has no verified TOTP factor.
	ErrNoTOTPFactor = errors.New("no TOTP factor found")
	// ErrInvalidTransition is returned when an action does not apply to the flow's current state.
	ErrInvalidTransition = errors.New("invalid flow transition")
)

// FactorAPI is the subset of the identity provider used by the flows.
type FactorAPI interface {
	ListFactors(ctx context.Context, accessToken string) ([]provider.Factor, error)
	Enroll(ctx context.Context, accessToken, friendlyName string) (*provider.Enrollment, error)
	Challenge(ctx context.Context, accessToken, factorID string) (*provider.Challenge, error)
	Verify(ctx context.Context, accessToken, factorID, challengeID, code string) (*provider.Session, error)
	Unenroll(ctx context.Context, accessToken, factorID string) error
}

// StateFromFactors maps a factor list to the FactorState of its first verified TOTP factor.
func StateFromFactors(factors []provider.Factor) domain.FactorState {
	for _, f := range factors {
		if f.FactorType == provider.FactorTypeTOTP && f.Status == provider.FactorVerified {
			return domain.Enrolled(f.ID)
		}
	}
	return domain.Unenrolled()
}

// Message returns the text shown to the user for err. Provider errors are shown verbatim.
func Message(err error) string {
	if pe, ok := provider.AsError(err); ok {
		return pe.Message
	}
	switch {
	case errors.Is(err, ErrNoTOTPFactor):
		return "No TOTP factor found"
	case errors.Is(err, ErrEmptyCode):
		return "Enter the code from your authenticator app"
	default:
		return "Something went wrong, please try again"
	}
}

func normalizeCode(code string) string {
	return strings.TrimSpace(code)
}
