package azauth

import (
	"context"
	"errors"

	"github.com/azora-os/azauth/internal"
	"github.com/azora-os/azauth/internal/stores"
	"github.com/azora-os/azauth/internal/validation"
	"github.com/azora-os/azauth/jwt"
	"github.com/azora-os/azauth/notify"
)

// RequestEmailVerification issues a verification token for userID and
// emails it to the account address. Only the latest token is valid.
func (e *Engine) RequestEmailVerification(ctx context.Context, userID string) (string, error) {
	if e == nil {
		return "", ErrEngineNotReady
	}
	if !e.config.EmailVerification.Enabled {
		return "", ErrFeatureDisabled
	}
	user, err := e.getUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if user.EmailVerified {
		return "", ErrEmailAlreadyVerified
	}
	if err := e.verifyRequests.Record(ctx, userID); err != nil {
		return "", attemptsError(err, ErrRequestRateLimited)
	}

	ttl := e.config.EmailVerification.TTL
	token, err := e.issueActionToken(ctx, jwt.TypeVerifyEmail, stores.PurposeEmailVerification, userID, ttl)
	if err != nil {
		return "", err
	}

	e.mail.Dispatch(ctx, notify.Message{
		To:      user.Email,
		Subject: "Confirm your email address",
		Text:    actionEmailText("Confirm your email address", e.config.EmailVerification.LinkBase, token, ttl),
	})
	e.metricInc(MetricEmailVerificationRequest)
	e.emitAudit(ctx, auditEmailVerifyRequest, true, userID, "", nil, nil)
	return token, nil
}

// RequestEmailVerificationByEmail resends the verification email. Unknown,
// verified and throttled addresses all succeed silently.
func (e *Engine) RequestEmailVerificationByEmail(ctx context.Context, email string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if !e.config.EmailVerification.Enabled {
		return ErrFeatureDisabled
	}
	user, err := e.users.GetUserByEmail(ctx, validation.NormalizeEmail(email))
	if err != nil {
		if err = mapStoreError(err); errors.Is(err, ErrUserNotFound) {
			return nil
		}
		return err
	}
	if _, err := e.RequestEmailVerification(ctx, user.ID); err != nil {
		if k := KindOf(err); k == KindUnavailable || k == KindInternal {
			return err
		}
	}
	return nil
}

// ConfirmEmailVerification redeems token and marks the address verified.
// Each token works once.
func (e *Engine) ConfirmEmailVerification(ctx context.Context, token string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	userID, err := e.parseActionToken(jwt.TypeVerifyEmail, token, ErrVerificationTokenNotFound, ErrVerificationTokenExpired)
	if err != nil {
		e.metricInc(MetricEmailVerificationFailure)
		return err
	}
	err = e.actions.Consume(ctx, stores.PurposeEmailVerification, userID, internal.HashToken(token))
	if err != nil {
		e.metricInc(MetricEmailVerificationFailure)
		return actionStoreError(err, ErrVerificationTokenNotFound, ErrVerificationTokenExpired)
	}
	if err := e.users.MarkEmailVerified(ctx, userID); err != nil {
		return mapStoreError(err)
	}
	e.metricInc(MetricEmailVerificationSuccess)
	e.emitAudit(ctx, auditEmailVerified, true, userID, "", nil, nil)
	return nil
}
