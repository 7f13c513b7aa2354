package azauth

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/azora-os/azauth/credentials"
	"github.com/azora-os/azauth/internal/limiters"
)

// EnrollMFA creates a fresh, disabled TOTP enrollment and returns the
// secret and provisioning URI once. Re-enrolling before confirmation
// replaces the pending secret.
func (e *Engine) EnrollMFA(ctx context.Context, userID string) (*MFAEnrollment, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	user, err := e.getUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	current, err := e.getMFA(ctx, userID)
	if err != nil && !errors.Is(err, ErrMFANotEnrolled) {
		return nil, err
	}
	if current != nil && current.Enabled {
		return nil, ErrMFAAlreadyEnabled
	}

	secret, err := e.totp.NewSecret()
	if err != nil {
		return nil, err
	}
	settings := &MFASettings{
		UserID:          userID,
		Secret:          secret,
		LastUsedCounter: -1,
		CreatedAt:       e.now().UTC(),
	}
	if err := e.users.SaveMFA(ctx, settings); err != nil {
		return nil, mapStoreError(err)
	}

	e.emitAudit(ctx, auditMFAEnrolled, true, userID, "", nil, nil)
	return &MFAEnrollment{
		Secret: secret,
		URI:    e.totp.ProvisionURI(secret, user.Email),
	}, nil
}

// VerifyMFAEnrollment confirms a pending enrollment with a code from the
// authenticator and turns MFA on.
func (e *Engine) VerifyMFAEnrollment(ctx context.Context, userID, code string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	settings, err := e.getMFA(ctx, userID)
	if err != nil {
		return err
	}
	if settings.Enabled {
		return ErrMFAAlreadyEnabled
	}
	if err := e.checkTOTP(ctx, settings, code); err != nil {
		return err
	}
	if err := e.users.EnableMFA(ctx, userID); err != nil {
		return mapStoreError(err)
	}
	e.emitAudit(ctx, auditMFAEnabled, true, userID, "", nil, nil)
	return nil
}

// VerifyTOTP checks a code for an enabled enrollment. A code is accepted at
// most once: its time step must be newer than the last accepted one.
func (e *Engine) VerifyTOTP(ctx context.Context, userID, code string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	settings, err := e.getMFA(ctx, userID)
	if err != nil {
		return err
	}
	if !settings.Enabled {
		return ErrMFANotEnrolled
	}
	return e.checkTOTP(ctx, settings, code)
}

func (e *Engine) checkTOTP(ctx context.Context, settings *MFASettings, code string) error {
	userID := settings.UserID
	if err := e.totpAttempts.Check(ctx, userID); err != nil {
		return attemptsError(err, ErrMFARateLimited)
	}

	ok, counter, err := e.totp.Verify(settings.Secret, normalizeCode(code), e.now())
	if err != nil {
		return err
	}
	if ok {
		advanced, err := e.users.AdvanceTOTPCounter(ctx, userID, counter)
		if err != nil {
			return mapStoreError(err)
		}
		if !advanced {
			e.metricInc(MetricMFAReplay)
			ok = false
		}
	}
	if !ok {
		e.metricInc(MetricMFAFailure)
		e.emitAudit(ctx, auditMFAFailure, false, userID, "", ErrMFAInvalid, nil)
		if err := e.totpAttempts.Record(ctx, userID); err != nil {
			return attemptsError(err, ErrMFARateLimited)
		}
		return ErrMFAInvalid
	}

	if err := e.totpAttempts.Reset(ctx, userID); err != nil {
		e.log.Warn("reset totp attempts", zap.String("user_id", userID), zap.Error(err))
	}
	e.metricInc(MetricMFASuccess)
	e.emitAudit(ctx, auditMFASuccess, true, userID, "", nil, nil)
	return nil
}

// RequireChallenge reports whether logins for userID need a second factor.
func (e *Engine) RequireChallenge(ctx context.Context, userID string) (bool, error) {
	if e == nil {
		return false, ErrEngineNotReady
	}
	settings, err := e.getMFA(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrMFANotEnrolled) {
			return false, nil
		}
		return false, err
	}
	return settings.Enabled, nil
}

// DisableMFA removes the enrollment and every backup code after checking
// the account password.
func (e *Engine) DisableMFA(ctx context.Context, userID, currentPassword string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	user, err := e.getUser(ctx, userID)
	if err != nil {
		return err
	}
	ok, err := e.verifyUserPassword(ctx, user, currentPassword)
	if err != nil {
		return err
	}
	if !ok {
		e.emitAudit(ctx, auditMFADisabled, false, userID, "", ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}
	if err := e.users.DeleteMFA(ctx, userID); err != nil {
		return mapStoreError(err)
	}
	e.emitAudit(ctx, auditMFADisabled, true, userID, "", nil, nil)
	return nil
}

func (e *Engine) getMFA(ctx context.Context, userID string) (*MFASettings, error) {
	if userID == "" {
		return nil, ErrMFANotEnrolled
	}
	settings, err := e.users.GetMFA(ctx, userID)
	if err != nil {
		if errors.Is(err, credentials.ErrNotFound) {
			return nil, ErrMFANotEnrolled
		}
		return nil, unavailable(err)
	}
	return settings, nil
}

func attemptsError(err, limited error) error {
	if errors.Is(err, limiters.ErrTooManyAttempts) {
		return limited
	}
	return unavailable(err)
}

func normalizeCode(code string) string {
	return strings.ReplaceAll(strings.TrimSpace(code), " ", "")
}
