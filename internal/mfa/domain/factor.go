package domain

// FactorState is the account's TOTP factor as the UI sees it: Unenrolled, or Enrolled with the id of the
// first verified factor. The zero value is Unenrolled.
type FactorState struct {
	factorID string
}

// Unenrolled returns the state of an account without a verified TOTP factor.
func Unenrolled() FactorState { return FactorState{} }

// Enrolled returns the state of an account whose first verified TOTP factor is factorID.
// An empty id yields Unenrolled.
func Enrolled(factorID string) FactorState { return FactorState{factorID: factorID} }

// IsEnrolled reports whether a verified factor exists.
func (s FactorState) IsEnrolled() bool { return s.factorID != "" }

// FactorID returns the factor id and true when enrolled.
func (s FactorState) FactorID() (string, bool) { return s.factorID, s.factorID != "" }

// Status is the label shown in factor management.
func (s FactorState) Status() string {
	if s.IsEnrolled() {
		return "Enabled"
	}
	return "Disabled"
}

// EnrollmentState is a state of the TOTP enrollment flow.
type EnrollmentState string

const (
	EnrollmentIdle         EnrollmentState = "idle"
	EnrollmentEnrolling    EnrollmentState = "enrolling"
	EnrollmentAwaitingCode EnrollmentState = "awaiting_code"
	EnrollmentVerifying    EnrollmentState = "verifying"
	EnrollmentEnrolled     EnrollmentState = "enrolled"
	EnrollmentFailed       EnrollmentState = "failed"
)

// ChallengeState is a state of the post-login MFA challenge flow.
type ChallengeState string

const (
	ChallengeAwaiting  ChallengeState = "awaiting_challenge"
	ChallengeVerifying ChallengeState = "verifying"
	ChallengeConfirmed ChallengeState = "confirmed"
	ChallengeRejected  ChallengeState = "rejected"
)
