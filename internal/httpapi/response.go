package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/azora-os/azauth"
)

type envelope struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func ok(c *gin.Context, status int, data any) {
	c.JSON(status, envelope{Success: true, Data: data})
}

func fail(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, envelope{
		Success: false,
		Error:   &errorBody{Code: code, Message: message},
	})
}

func badRequest(c *gin.Context, err error) {
	fail(c, http.StatusBadRequest, "BAD_REQUEST", err.Error())
}

// errorCodes gives stable client-facing codes to the errors callers branch on.
var errorCodes = []struct {
	err  error
	code string
}{
	{azauth.ErrInvalidEmail, "INVALID_EMAIL"},
	{azauth.ErrInvalidUsername, "INVALID_USERNAME"},
	{azauth.ErrPasswordPolicy, "WEAK_PASSWORD"},
	{azauth.ErrPasswordReuse, "PASSWORD_REUSE"},
	{azauth.ErrInvalidRole, "INVALID_ROLE"},
	{azauth.ErrDuplicateEmail, "EMAIL_EXISTS"},
	{azauth.ErrDuplicateUsername, "USERNAME_EXISTS"},
	{azauth.ErrDuplicateOAuth, "OAUTH_LINKED"},
	{azauth.ErrMFAAlreadyEnabled, "MFA_ENABLED"},
	{azauth.ErrEmailAlreadyVerified, "EMAIL_VERIFIED"},
	{azauth.ErrInvalidCredentials, "INVALID_CREDENTIALS"},
	{azauth.ErrAccountDisabled, "USER_INACTIVE"},
	{azauth.ErrAccountLocked, "ACCOUNT_LOCKED"},
	{azauth.ErrEmailNotVerified, "EMAIL_NOT_VERIFIED"},
	{azauth.ErrMFARequired, "MFA_REQUIRED"},
	{azauth.ErrMFAInvalid, "INVALID_MFA_CODE"},
	{azauth.ErrBackupCodeInvalid, "INVALID_BACKUP_CODE"},
	{azauth.ErrSessionNotFound, "INVALID_TOKEN"},
	{azauth.ErrTokenExpired, "TOKEN_EXPIRED"},
	{azauth.ErrTokenRevoked, "TOKEN_REVOKED"},
	{azauth.ErrResetTokenExpired, "TOKEN_EXPIRED"},
	{azauth.ErrVerificationTokenExpired, "TOKEN_EXPIRED"},
	{azauth.ErrUserNotFound, "USER_NOT_FOUND"},
	{azauth.ErrMFANotEnrolled, "MFA_NOT_ENROLLED"},
	{azauth.ErrFeatureDisabled, "FEATURE_DISABLED"},
}

// statusFor maps an engine error to a status and code. Disabled and locked
// accounts are 403 so clients do not retry with other credentials.
func statusFor(err error) (int, string) {
	code := ""
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			code = ec.code
			break
		}
	}

	switch kind := azauth.KindOf(err); kind {
	case azauth.KindValidation:
		return http.StatusBadRequest, orDefault(code, "VALIDATION_ERROR")
	case azauth.KindConflict:
		return http.StatusConflict, orDefault(code, "CONFLICT")
	case azauth.KindAuthentication:
		if errors.Is(err, azauth.ErrAccountDisabled) || errors.Is(err, azauth.ErrAccountLocked) {
			return http.StatusForbidden, code
		}
		return http.StatusUnauthorized, orDefault(code, "INVALID_TOKEN")
	case azauth.KindNotFound:
		return http.StatusNotFound, orDefault(code, "NOT_FOUND")
	case azauth.KindRateLimited:
		return http.StatusTooManyRequests, "RATE_LIMITED"
	case azauth.KindUnavailable:
		return http.StatusServiceUnavailable, orDefault(code, "UNAVAILABLE")
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

func orDefault(code, fallback string) string {
	if code == "" {
		return fallback
	}
	return code
}
