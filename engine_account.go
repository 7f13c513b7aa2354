package azauth

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/azora-os/azauth/internal/validation"
)

const dummyPassword = "azauth-timing-equalizer-password"

// Register creates an active, unverified USER account. All input is
// validated before the store is touched.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	email := validation.NormalizeEmail(req.Email)
	username := validation.NormalizeUsername(req.Username)

	if err := validation.ValidateEmail(email); err != nil {
		return nil, invalid(ErrInvalidEmail, err)
	}
	if err := validation.ValidateUsername(username); err != nil {
		return nil, invalid(ErrInvalidUsername, err)
	}
	if err := e.policy.Validate(req.Password); err != nil {
		return nil, invalid(ErrPasswordPolicy, err)
	}

	if err := e.ensureAvailable(ctx, email, username); err != nil {
		e.metricInc(MetricRegisterDuplicate)
		return nil, err
	}

	hash, err := e.hasher.Hash(ctx, req.Password)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	user := &User{
		ID:           uuid.NewString(),
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		Role:         RoleUser,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	// The pre-check above can race; the store's unique constraints decide.
	if err := e.users.CreateUser(ctx, user); err != nil {
		err = mapStoreError(err)
		if KindOf(err) == KindConflict {
			e.metricInc(MetricRegisterDuplicate)
		}
		return nil, err
	}

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditRegister, true, user.ID, "", nil, nil)

	if e.config.EmailVerification.Enabled && e.config.EmailVerification.SendOnRegister {
		if _, err := e.RequestEmailVerification(ctx, user.ID); err != nil {
			e.log.Warn("send verification email on register", zap.String("user_id", user.ID), zap.Error(err))
		}
	}
	return user, nil
}

func (e *Engine) ensureAvailable(ctx context.Context, email, username string) error {
	if _, err := e.users.GetUserByEmail(ctx, email); err == nil {
		return ErrDuplicateEmail
	} else if err = mapStoreError(err); !errors.Is(err, ErrUserNotFound) {
		return err
	}
	if _, err := e.users.GetUserByUsername(ctx, username); err == nil {
		return ErrDuplicateUsername
	} else if err = mapStoreError(err); !errors.Is(err, ErrUserNotFound) {
		return err
	}
	return nil
}

// VerifyPassword reports whether candidate matches the user's stored hash.
// Accounts without a password never match.
func (e *Engine) VerifyPassword(ctx context.Context, user *User, candidate string) bool {
	if e == nil {
		return false
	}
	ok, err := e.verifyUserPassword(ctx, user, candidate)
	return err == nil && ok
}

func (e *Engine) verifyUserPassword(ctx context.Context, user *User, candidate string) (bool, error) {
	if !user.HasPassword() || candidate == "" {
		return false, nil
	}
	ok, err := e.hasher.Verify(ctx, candidate, user.PasswordHash)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		e.log.Warn("password verify failed", zap.String("user_id", user.ID), zap.Error(err))
		return false, nil
	}
	return ok, nil
}

func (e *Engine) dummyHash() string {
	e.dummyOnce.Do(func() {
		h, err := e.hasher.Hash(context.Background(), dummyPassword)
		if err != nil {
			e.log.Warn("compute dummy hash", zap.Error(err))
			return
		}
		e.dummy = h
	})
	return e.dummy
}

func (e *Engine) maybeUpgradeHash(ctx context.Context, user *User, plaintext string) {
	if !e.config.Password.UpgradeOnLogin {
		return
	}
	needs, err := e.hasher.NeedsUpgrade(user.PasswordHash)
	if err != nil || !needs {
		return
	}
	hash, err := e.hasher.Hash(ctx, plaintext)
	if err != nil {
		e.log.Warn("rehash password", zap.String("user_id", user.ID), zap.Error(err))
		return
	}
	if err := e.users.UpdatePasswordHash(ctx, user.ID, hash); err != nil {
		e.log.Warn("store upgraded password hash", zap.String("user_id", user.ID), zap.Error(err))
	}
}

func (e *Engine) GetUser(ctx context.Context, userID string) (*User, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	return e.getUser(ctx, userID)
}

// LinkOAuth binds a provider identity to userID. Linking the same identity
// twice is a no-op; linking one bound elsewhere is ErrDuplicateOAuth.
func (e *Engine) LinkOAuth(ctx context.Context, userID, provider, providerID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	providerID = strings.TrimSpace(providerID)
	if provider == "" || providerID == "" {
		return ErrInvalidRequest
	}
	if _, err := e.getUser(ctx, userID); err != nil {
		return err
	}
	if err := e.users.LinkOAuth(ctx, userID, provider, providerID); err != nil {
		return mapStoreError(err)
	}
	e.emitAudit(ctx, auditOAuthLinked, true, userID, "", nil, map[string]string{"provider": provider})
	return nil
}

// LoginWithOAuth opens a session for the user already linked to the
// provider identity. The provider code exchange happens before this call.
func (e *Engine) LoginWithOAuth(ctx context.Context, req OAuthLoginRequest) (*TokenPair, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	providerID := strings.TrimSpace(req.ProviderID)
	if provider == "" || providerID == "" {
		return nil, ErrInvalidCredentials
	}

	user, err := e.users.GetUserByOAuth(ctx, provider, providerID)
	if err != nil {
		if err = mapStoreError(err); errors.Is(err, ErrUserNotFound) {
			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, auditLoginFailure, false, "", "", ErrInvalidCredentials, map[string]string{"provider": provider})
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := e.checkLoginAllowed(user); err != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditLoginFailure, false, user.ID, "", err, map[string]string{"provider": provider})
		return nil, err
	}
	if err := e.mfaGate(ctx, user.ID, req.TOTPCode, req.BackupCode); err != nil {
		return nil, err
	}

	pair, err := e.openSession(ctx, user, clientFromContext(ctx, req.Client))
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditLoginSuccess, true, user.ID, pair.SessionID, nil, map[string]string{"provider": provider})
	return pair, nil
}

// ChangePassword replaces the password after checking the current one and
// revokes every session except keepSessionID. An empty keepSessionID
// revokes all of them.
func (e *Engine) ChangePassword(ctx context.Context, userID, current, next, keepSessionID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	user, err := e.getUser(ctx, userID)
	if err != nil {
		return err
	}
	ok, err := e.verifyUserPassword(ctx, user, current)
	if err != nil {
		return err
	}
	if !ok {
		e.emitAudit(ctx, auditPasswordChange, false, userID, "", ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}
	if current == next {
		return ErrPasswordReuse
	}
	if err := e.policy.Validate(next); err != nil {
		return invalid(ErrPasswordPolicy, err)
	}

	hash, err := e.hasher.Hash(ctx, next)
	if err != nil {
		return err
	}
	if err := e.users.UpdatePasswordHash(ctx, userID, hash); err != nil {
		return mapStoreError(err)
	}

	var revoked int
	if keepSessionID == "" {
		revoked, err = e.sessions.DeleteAllForUser(ctx, userID)
	} else {
		revoked, err = e.sessions.DeleteAllExcept(ctx, userID, keepSessionID)
	}
	if err != nil {
		return mapSessionError(err)
	}
	e.metrics.Add(MetricSessionInvalidated, uint64(revoked))
	e.metricInc(MetricPasswordChange)
	e.emitAudit(ctx, auditPasswordChange, true, userID, keepSessionID, nil, nil)
	return nil
}
