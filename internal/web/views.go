package web

// LoginView is the login form. Challenge opens the TOTP code surface. SignedIn offers a sign out for a
// session that has not passed its challenge.
type LoginView struct {
	Email     string
	Challenge bool
	SignedIn  bool
}

// SignUpView is the signup form, or the success panel once Success is set.
type SignUpView struct {
	FirstName string
	LastName  string
	Email     string
	Success   bool
}

// ForgotPasswordView is the recovery form.
type ForgotPasswordView struct {
	Email string
	Sent  bool
}

// ProfileView is the factor management page.
type ProfileView struct {
	Name string
	// Status is "Enabled" or "Disabled".
	Status   string
	Enrolled bool
	// Enrollment is set while the enrollment surface is open.
	Enrollment *EnrollmentView
}

// EnrollmentView is the pending TOTP factor shown as a QR code.
type EnrollmentView struct {
	QRCode string
}
