package mfa

import (
	"context"

	"go.uber.org/zap"

	"totp-mfa-demo/internal/mfa/domain"
)

// FactorManager lists and removes the account's TOTP factor.
type FactorManager struct {
	api    FactorAPI
	logger *zap.Logger
}

// NewFactorManager returns a FactorManager.
func NewFactorManager(api FactorAPI, logger *zap.Logger) *FactorManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FactorManager{api: api, logger: logger}
}

// State lists the factors and returns the state of the first verified TOTP factor.
func (m *FactorManager) State(ctx context.Context, accessToken string) (domain.FactorState, error) {
	factors, err := m.api.ListFactors(ctx, accessToken)
	if err != nil {
		return domain.Unenrolled(), err
	}
	return StateFromFactors(factors), nil
}

// Remove unenrolls the factor of state. Provider errors are logged and returned; callers do not show them.
func (m *FactorManager) Remove(ctx context.Context, accessToken string, state domain.FactorState) error {
	factorID, ok := state.FactorID()
	if !ok {
		return ErrNoTOTPFactor
	}
	if err := m.api.Unenroll(ctx, accessToken, factorID); err != nil {
		m.logger.Error("unenroll totp factor failed", zap.String("factor_id", factorID), zap.Error(err))
		return err
	}
	m.logger.Info("totp factor unenrolled", zap.String("factor_id", factorID))
	return nil
}
