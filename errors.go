package azauth

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest reports a missing or malformed input field.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidEmail reports an email that fails address validation.
	ErrInvalidEmail = errors.New("invalid email")
	// ErrInvalidUsername reports a username outside 3-20 characters of [A-Za-z0-9_-].
	ErrInvalidUsername = errors.New("invalid username")
	// ErrPasswordPolicy reports a password that does not meet the configured policy.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrPasswordReuse rejects a password change to the current password.
	ErrPasswordReuse = errors.New("new password must be different from current password")
	// ErrInvalidRole reports an unknown role name.
	ErrInvalidRole = errors.New("invalid role")

	ErrDuplicateEmail       = errors.New("email already registered")
	ErrDuplicateUsername    = errors.New("username already taken")
	ErrDuplicateOAuth       = errors.New("oauth account already linked to another user")
	ErrMFAAlreadyEnabled    = errors.New("mfa already enabled")
	ErrEmailAlreadyVerified = errors.New("email already verified")

	// ErrInvalidCredentials is returned for every failed password or OAuth
	// login. It never says which factor was wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrTokenExpired       = errors.New("token expired")
	ErrTokenRevoked       = errors.New("token revoked")
	// ErrSessionNotFound covers refresh tokens whose session is absent,
	// expired, rotated away or evicted.
	ErrSessionNotFound    = errors.New("session not found")
	ErrAccountDisabled    = errors.New("account disabled")
	ErrAccountLocked      = errors.New("account locked")
	ErrEmailNotVerified   = errors.New("email not verified")
	ErrMFARequired        = errors.New("mfa required")
	ErrMFAInvalid         = errors.New("invalid mfa code")
	ErrBackupCodeInvalid  = errors.New("invalid backup code")
	ErrResetTokenNotFound = errors.New("password reset token not found")
	ErrResetTokenExpired  = errors.New("password reset token expired")
	// ErrVerificationTokenNotFound and ErrVerificationTokenExpired are the
	// email verification counterparts of the reset token errors.
	ErrVerificationTokenNotFound = errors.New("email verification token not found")
	ErrVerificationTokenExpired  = errors.New("email verification token expired")

	ErrUserNotFound   = errors.New("user not found")
	ErrMFANotEnrolled = errors.New("mfa not enrolled")

	ErrLoginRateLimited      = errors.New("login rate limited")
	ErrRefreshRateLimited    = errors.New("refresh rate limited")
	ErrMFARateLimited        = errors.New("mfa attempts rate limited")
	ErrBackupCodeRateLimited = errors.New("backup code attempts rate limited")
	ErrRequestRateLimited    = errors.New("too many requests")

	// ErrUnavailable wraps every infrastructure failure (Redis, database).
	ErrUnavailable = errors.New("auth backend unavailable")
	// ErrFeatureDisabled is returned by flows switched off in Config. It is a
	// not-found condition: the flow does not exist on this deployment.
	ErrFeatureDisabled = errors.New("feature disabled")
	// ErrEngineNotReady is returned by methods on a nil or unbuilt engine.
	ErrEngineNotReady = errors.New("engine not initialized")
)

// ErrorKind groups errors by how callers should react.
type ErrorKind uint8

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindConflict
	KindAuthentication
	KindNotFound
	KindRateLimited
	KindUnavailable
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindAuthentication:
		return "authentication"
	case KindNotFound:
		return "not_found"
	case KindRateLimited:
		return "rate_limited"
	case KindUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

var errorKinds = []struct {
	kind ErrorKind
	errs []error
}{
	{KindUnavailable, []error{ErrUnavailable, ErrEngineNotReady}},
	{KindValidation, []error{ErrInvalidRequest, ErrInvalidEmail, ErrInvalidUsername, ErrPasswordPolicy, ErrPasswordReuse, ErrInvalidRole}},
	{KindConflict, []error{ErrDuplicateEmail, ErrDuplicateUsername, ErrDuplicateOAuth, ErrMFAAlreadyEnabled, ErrEmailAlreadyVerified}},
	{KindAuthentication, []error{
		ErrInvalidCredentials, ErrInvalidToken, ErrTokenExpired, ErrTokenRevoked, ErrSessionNotFound,
		ErrAccountDisabled, ErrAccountLocked, ErrEmailNotVerified, ErrMFARequired, ErrMFAInvalid,
		ErrBackupCodeInvalid, ErrResetTokenNotFound, ErrResetTokenExpired,
		ErrVerificationTokenNotFound, ErrVerificationTokenExpired,
	}},
	{KindNotFound, []error{ErrUserNotFound, ErrMFANotEnrolled, ErrFeatureDisabled}},
	{KindRateLimited, []error{ErrLoginRateLimited, ErrRefreshRateLimited, ErrMFARateLimited, ErrBackupCodeRateLimited, ErrRequestRateLimited}},
}

// KindOf classifies err. Unrecognised errors are KindInternal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindInternal
	}
	for _, group := range errorKinds {
		for _, target := range group.errs {
			if errors.Is(err, target) {
				return group.kind
			}
		}
	}
	return KindInternal
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func invalid(kind error, cause error) error {
	return fmt.Errorf("%w: %v", kind, cause)
}
