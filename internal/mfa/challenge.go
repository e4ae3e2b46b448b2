package mfa

import (
	"context"

	"totp-mfa-demo/internal/identity/provider"
	"totp-mfa-demo/internal/metrics"
	"totp-mfa-demo/internal/mfa/domain"
)

// ChallengeFlow completes a password sign-in for an account with a TOTP factor:
// AwaitingChallenge -> Verifying -> Confirmed | Rejected. Both end states are terminal.
type ChallengeFlow struct {
	api   FactorAPI
	state domain.ChallengeState
	err   error
}

// NewChallengeFlow returns a flow in AwaitingChallenge.
func NewChallengeFlow(api FactorAPI) *ChallengeFlow {
	return &ChallengeFlow{api: api, state: domain.ChallengeAwaiting}
}

// State returns the current state.
func (f *ChallengeFlow) State() domain.ChallengeState { return f.state }

// Err returns the error that moved the flow to Rejected.
func (f *ChallengeFlow) Err() error { return f.err }

// Confirm lists the factors again, challenges the first verified TOTP factor and verifies code.
// On success the aal2 session is returned; any failure rejects the flow and the password-only session
// stays insufficient.
func (f *ChallengeFlow) Confirm(ctx context.Context, accessToken, code string) (*provider.Session, error) {
	if f.state != domain.ChallengeAwaiting {
		return nil, ErrInvalidTransition
	}
	f.transition(domain.ChallengeVerifying)

	factors, err := f.api.ListFactors(ctx, accessToken)
	if err != nil {
		return nil, f.reject(err)
	}
	factorID, ok := StateFromFactors(factors).FactorID()
	if !ok {
		return nil, f.reject(ErrNoTOTPFactor)
	}
	ch, err := f.api.Challenge(ctx, accessToken, factorID)
	if err != nil {
		return nil, f.reject(err)
	}
	s, err := f.api.Verify(ctx, accessToken, factorID, ch.ID, normalizeCode(code))
	if err != nil {
		return nil, f.reject(err)
	}
	f.transition(domain.ChallengeConfirmed)
	return s, nil
}

func (f *ChallengeFlow) transition(s domain.ChallengeState) {
	f.state = s
	metrics.FlowTransitionsTotal.WithLabelValues("challenge", string(s)).Inc()
}

func (f *ChallengeFlow) reject(err error) error {
	f.err = err
	f.transition(domain.ChallengeRejected)
	return err
}
