package mfa

import (
	"context"

	"totp-mfa-demo/internal/identity/provider"
	"totp-mfa-demo/internal/metrics"
	"totp-mfa-demo/internal/mfa/domain"
)

// EnrollmentFlow creates a TOTP factor and activates it with a first code:
// Idle -> Enrolling -> AwaitingCode -> Verifying -> Enrolled, with Failed reachable from
// Enrolling, AwaitingCode and Verifying. A failed verify does not allow an in-place retry.
type EnrollmentFlow struct {
	api      FactorAPI
	state    domain.EnrollmentState
	factorID string
	qrCode   string
	err      error
}

// NewEnrollmentFlow returns a flow in Idle.
func NewEnrollmentFlow(api FactorAPI) *EnrollmentFlow {
	return &EnrollmentFlow{api: api, state: domain.EnrollmentIdle}
}

// ResumeEnrollment returns a flow in AwaitingCode for a factor created by an earlier request.
func ResumeEnrollment(api FactorAPI, factorID, qrCode string) *EnrollmentFlow {
	return &EnrollmentFlow{api: api, state: domain.EnrollmentAwaitingCode, factorID: factorID, qrCode: qrCode}
}

// State returns the current state.
func (f *EnrollmentFlow) State() domain.EnrollmentState { return f.state }

// FactorID returns the id of the factor being enrolled.
func (f *EnrollmentFlow) FactorID() string { return f.factorID }

// QRCode returns the provider's QR image payload, to be rendered as is.
func (f *EnrollmentFlow) QRCode() string { return f.qrCode }

// Err returns the error that moved the flow to Failed.
func (f *EnrollmentFlow) Err() error { return f.err }

// CanEnable reports whether the Enable action is available for code.
func (f *EnrollmentFlow) CanEnable(code string) bool {
	return f.state == domain.EnrollmentAwaitingCode && normalizeCode(code) != ""
}

// Start requests a new TOTP factor from the provider.
func (f *EnrollmentFlow) Start(ctx context.Context, accessToken string) error {
	if f.state != domain.EnrollmentIdle {
		return ErrInvalidTransition
	}
	f.transition(domain.EnrollmentEnrolling)
	e, err := f.api.Enroll(ctx, accessToken, "")
	if err != nil {
		f.fail(err)
		return err
	}
	f.factorID = e.ID
	f.qrCode = e.TOTP.QRCode
	f.transition(domain.EnrollmentAwaitingCode)
	return nil
}

// Enable challenges the pending factor and verifies code. On success the factor is active and the
// provider's aal2 session is returned. A blank code returns ErrEmptyCode and leaves the flow in AwaitingCode.
func (f *EnrollmentFlow) Enable(ctx context.Context, accessToken, code string) (*provider.Session, error) {
	if f.state != domain.EnrollmentAwaitingCode || f.factorID == "" {
		return nil, ErrInvalidTransition
	}
	code = normalizeCode(code)
	if code == "" {
		return nil, ErrEmptyCode
	}
	f.transition(domain.EnrollmentVerifying)
	ch, err := f.api.Challenge(ctx, accessToken, f.factorID)
	if err != nil {
		f.fail(err)
		return nil, err
	}
	s, err := f.api.Verify(ctx, accessToken, f.factorID, ch.ID, code)
	if err != nil {
		f.fail(err)
		return nil, err
	}
	f.transition(domain.EnrollmentEnrolled)
	return s, nil
}

// Discard deletes the pending, never verified factor after the surface was closed or the flow failed.
// The flow forgets the factor id even if the provider call fails.
func (f *EnrollmentFlow) Discard(ctx context.Context, accessToken string) error {
	if f.factorID == "" || f.state == domain.EnrollmentEnrolled {
		return nil
	}
	id := f.factorID
	f.factorID = ""
	f.qrCode = ""
	return f.api.Unenroll(ctx, accessToken, id)
}

func (f *EnrollmentFlow) transition(s domain.EnrollmentState) {
	f.state = s
	metrics.FlowTransitionsTotal.WithLabelValues("enrollment", string(s)).Inc()
}

func (f *EnrollmentFlow) fail(err error) {
	f.err = err
	f.transition(domain.EnrollmentFailed)
}
