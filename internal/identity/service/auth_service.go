// Package service runs the credential flows (login, signup, email confirmation, password recovery,
// sign-out) against the identity provider.
package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"totp-mfa-demo/internal/identity/domain"
	"totp-mfa-demo/internal/identity/provider"
	"totp-mfa-demo/internal/logger"
	mfadomain "totp-mfa-demo/internal/mfa/domain"
)

// State is where a credential flow ended.
type State string

const (
	// StateAuthenticated means the session passed every factor of the account.
	StateAuthenticated State = "authenticated"
	// StateAwaitingChallenge means the password was accepted and a TOTP challenge must follow.
	StateAwaitingChallenge State = "awaiting_challenge"
	// StatePendingEmailConfirmation means the account was created and waits for its confirmation link.
	StatePendingEmailConfirmation State = "pending_email_confirmation"
)

// Provider is the subset of the identity provider used by AuthService.
type Provider interface {
	SignUp(ctx context.Context, p provider.SignUpParams) (*provider.User, *provider.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*provider.Session, error)
	SignOut(ctx context.Context, accessToken string) error
	GetUser(ctx context.Context, accessToken string) (*provider.User, error)
	ListFactors(ctx context.Context, accessToken string) ([]provider.Factor, error)
	VerifyOTP(ctx context.Context, tokenHash, otpType string) (*provider.Session, error)
	Recover(ctx context.Context, email, redirectTo string) error
}

// LoginResult is the outcome of a successful password sign-in or email confirmation.
type LoginResult struct {
	State   State
	Session *provider.Session
	Factor  mfadomain.FactorState
}

// SignUpResult is the outcome of a successful signup.
type SignUpResult struct {
	State   State
	Account *domain.Account
}

// AuthService implements the credential forms on top of the provider.
type AuthService struct {
	provider    Provider
	callbackURL string
}

// NewAuthService returns an AuthService. callbackURL is the email confirmation and recovery link target.
func NewAuthService(p Provider, callbackURL string) *AuthService {
	return &AuthService{provider: p, callbackURL: callbackURL}
}

// Login signs in with email and password and lists the account's factors. With a verified TOTP factor
// the result is StateAwaitingChallenge; without one it is StateAuthenticated.
func (s *AuthService) Login(ctx context.Context, form LoginForm) (*LoginResult, error) {
	if err := validateForm(&form); err != nil {
		return nil, err
	}
	sess, err := s.provider.SignInWithPassword(ctx, form.Email, form.Password)
	if err != nil {
		logger.FromContext(ctx).Info("sign in rejected", zap.Error(err))
		return nil, err
	}
	return s.afterSignIn(ctx, sess)
}

// ConfirmEmail redeems an email link and signs the account in like Login.
func (s *AuthService) ConfirmEmail(ctx context.Context, tokenHash, otpType string) (*LoginResult, error) {
	tokenHash = strings.TrimSpace(tokenHash)
	if tokenHash == "" {
		return nil, &ValidationError{Field: "token_hash", Label: "Confirmation token"}
	}
	if otpType == "" {
		otpType = "email"
	}
	sess, err := s.provider.VerifyOTP(ctx, tokenHash, otpType)
	if err != nil {
		logger.FromContext(ctx).Info("email link rejected", zap.String("type", otpType), zap.Error(err))
		return nil, err
	}
	return s.afterSignIn(ctx, sess)
}

func (s *AuthService) afterSignIn(ctx context.Context, sess *provider.Session) (*LoginResult, error) {
	factors, err := s.provider.ListFactors(ctx, sess.AccessToken)
	if err != nil {
		logger.FromContext(ctx).Warn("list factors after sign in failed", zap.Error(err))
		return nil, err
	}
	res := &LoginResult{State: StateAuthenticated, Session: sess}
	for _, f := range factors {
		if f.FactorType == provider.FactorTypeTOTP && f.Status == provider.FactorVerified {
			res.Factor = mfadomain.Enrolled(f.ID)
			res.State = StateAwaitingChallenge
			break
		}
	}
	return res, nil
}

// SignUp creates the account with first and last name metadata. The account stays unconfirmed until the
// emailed link is opened, even if the provider already returned a session.
func (s *AuthService) SignUp(ctx context.Context, form SignUpForm) (*SignUpResult, error) {
	if err := validateForm(&form); err != nil {
		return nil, err
	}
	u, _, err := s.provider.SignUp(ctx, provider.SignUpParams{
		Email:    form.Email,
		Password: form.Password,
		Data: map[string]interface{}{
			"first_name": form.FirstName,
			"last_name":  form.LastName,
		},
		RedirectTo: s.callbackURL,
	})
	if err != nil {
		logger.FromContext(ctx).Info("sign up rejected", zap.Error(err))
		return nil, err
	}
	acc := &domain.Account{Email: form.Email, FirstName: form.FirstName, LastName: form.LastName}
	if u != nil {
		acc.ID = u.ID
	}
	return &SignUpResult{State: StatePendingEmailConfirmation, Account: acc}, nil
}

// RecoverPassword asks the provider to email a recovery link.
func (s *AuthService) RecoverPassword(ctx context.Context, form RecoverForm) error {
	if err := validateForm(&form); err != nil {
		return err
	}
	if err := s.provider.Recover(ctx, form.Email, s.callbackURL); err != nil {
		logger.FromContext(ctx).Info("password recovery rejected", zap.Error(err))
		return err
	}
	return nil
}

// SignOut revokes the provider session.
func (s *AuthService) SignOut(ctx context.Context, accessToken string) error {
	return s.provider.SignOut(ctx, accessToken)
}

// CurrentUser returns the account behind accessToken.
func (s *AuthService) CurrentUser(ctx context.Context, accessToken string) (*domain.Account, error) {
	u, err := s.provider.GetUser(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	return accountFromUser(u), nil
}

func accountFromUser(u *provider.User) *domain.Account {
	last, _ := u.UserMetadata["last_name"].(string)
	return &domain.Account{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName(),
		LastName:  strings.TrimSpace(last),
	}
}
