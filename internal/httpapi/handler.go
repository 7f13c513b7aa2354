package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/azora-os/azauth"
	"github.com/azora-os/azauth/middleware"
	"github.com/azora-os/azauth/session"
)

// AuthHandler serves the /v1/auth routes.
type AuthHandler struct {
	engine *azauth.Engine
	log    *zap.Logger
}

func NewAuthHandler(engine *azauth.Engine, log *zap.Logger) *AuthHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthHandler{engine: engine, log: log}
}

func (h *AuthHandler) respondError(c *gin.Context, err error) {
	status, code := statusFor(err)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		h.log.Warn("auth request failed",
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Error(err),
		)
		// Infrastructure detail stays in the log.
		message = "internal error"
		if status == http.StatusServiceUnavailable {
			message = "service unavailable"
		}
	}
	fail(c, status, code, message)
}

// POST /v1/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	user, err := h.engine.Register(c.Request.Context(), azauth.RegisterRequest{
		Email:     req.Email,
		Username:  req.Username,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	ok(c, http.StatusCreated, newUserResponse(user))
}

// POST /v1/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	login := azauth.LoginRequest{
		Identifier: req.Identifier,
		Password:   req.Password,
		TOTPCode:   req.TOTPCode,
		BackupCode: req.BackupCode,
	}
	if req.Device != nil {
		login.Client = session.DeviceMetadata(session.DeviceInfo{Name: req.Device.Name, Type: req.Device.Type})
	}

	pair, err := h.engine.Login(c.Request.Context(), login)
	if err != nil {
		h.respondError(c, err)
		return
	}
	ok(c, http.StatusOK, pair)
}

// POST /v1/auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	pair, err := h.engine.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		h.respondError(c, err)
		return
	}
	ok(c, http.StatusOK, pair)
}

// POST /v1/auth/logout revokes the presented access token and its session.
func (h *AuthHandler) Logout(c *gin.Context) {
	token, _ := middleware.BearerToken(c.GetHeader("Authorization"))
	if err := h.engine.LogoutByAccessToken(c.Request.Context(), token); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// POST /v1/auth/logout-all
func (h *AuthHandler) LogoutAll(c *gin.Context) {
	var req logoutAllRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	claims, _ := middleware.Claims(c)

	var (
		n   int
		err error
	)
	if req.KeepCurrent {
		n, err = h.engine.LogoutAllExcept(c.Request.Context(), claims.UserID, claims.SessionID)
	} else {
		n, err = h.engine.LogoutAll(c.Request.Context(), claims.UserID)
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"revoked": n})
}

// GET /v1/auth/sessions
func (h *AuthHandler) ListSessions(c *gin.Context) {
	claims, _ := middleware.Claims(c)
	sessions, err := h.engine.ListSessions(c.Request.Context(), claims.UserID, claims.SessionID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	ok(c, http.StatusOK, sessions)
}

// DELETE /v1/auth/sessions/:id
func (h *AuthHandler) RevokeSession(c *gin.Context) {
	claims, _ := middleware.Claims(c)
	if err := h.engine.RevokeSession(c.Request.Context(), claims.UserID, c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// POST /v1/auth/sessions/:id/extend
func (h *AuthHandler) ExtendSession(c *gin.Context) {
	var req extendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	claims, _ := middleware.Claims(c)

	expiresAt, err := h.engine.ExtendSession(c.Request.Context(), claims.UserID, c.Param("id"),
		time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		h.respondError(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"expiresAt": expiresAt})
}

// POST /v1/auth/mfa/enroll
func (h *AuthHandler) EnrollMFA(c *gin.Context) {
	claims, _ := middleware.Claims(c)
	enrollment, err := h.engine.EnrollMFA(c.Request.Context(), claims.UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	ok(c, http.StatusOK, enrollment)
}

// POST /v1/auth/mfa/verify confirms enrollment with a first TOTP code.
func (h *AuthHandler) VerifyMFA(c *gin.Context) {
	var req codeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	claims, _ := middleware.Claims(c)
	if err := h.engine.VerifyMFAEnrollment(c.Request.Context(), claims.UserID, req.Code); err != nil {
		h.respondError(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"enabled": true})
}

// POST /v1/auth/mfa/backup-codes
func (h *AuthHandler) GenerateBackupCodes(c *gin.Context) {
	var req backupCodesRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	claims, _ := middleware.Claims(c)
	codes, err := h.engine.GenerateBackupCodes(c.Request.Context(), claims.UserID, req.Count)
	if err != nil {
		h.respondError(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"codes": codes})
}

// POST /v1/auth/mfa/disable
func (h *AuthHandler) DisableMFA(c *gin.Context) {
	var req passwordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	claims, _ := middleware.Claims(c)
	if err := h.engine.DisableMFA(c.Request.Context(), claims.UserID, req.Password); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// POST /v1/auth/password/forgot always answers 202 so callers cannot discover
// which addresses are registered.
func (h *AuthHandler) ForgotPassword(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.engine.RequestPasswordResetByEmail(c.Request.Context(), req.Email); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// POST /v1/auth/password/reset
func (h *AuthHandler) ResetPassword(c *gin.Context) {
	var req resetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.engine.ResetPassword(c.Request.Context(), req.Token, req.Password); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// POST /v1/auth/password/change keeps the caller's session and revokes the rest.
func (h *AuthHandler) ChangePassword(c *gin.Context) {
	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	claims, _ := middleware.Claims(c)
	err := h.engine.ChangePassword(c.Request.Context(), claims.UserID, req.CurrentPassword, req.NewPassword, claims.SessionID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// POST /v1/auth/email/verify
func (h *AuthHandler) VerifyEmail(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.engine.ConfirmEmailVerification(c.Request.Context(), req.Token); err != nil {
		h.respondError(c, err)
		return
	}
	ok(c, http.StatusOK, gin.H{"emailVerified": true})
}

// POST /v1/auth/email/resend
func (h *AuthHandler) ResendVerification(c *gin.Context) {
	var req emailRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.engine.RequestEmailVerificationByEmail(c.Request.Context(), req.Email); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// POST /v1/auth/oauth/link
func (h *AuthHandler) LinkOAuth(c *gin.Context) {
	var req oauthLinkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	claims, _ := middleware.Claims(c)
	if err := h.engine.LinkOAuth(c.Request.Context(), claims.UserID, req.Provider, req.ProviderID); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /v1/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	claims, _ := middleware.Claims(c)
	user, err := h.engine.GetUser(c.Request.Context(), claims.UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	ok(c, http.StatusOK, newUserResponse(user))
}

// GET /v1/auth/permissions
//
// Resolved from the stored role, so a role change shows here before the
// caller's access token is refreshed.
func (h *AuthHandler) Permissions(c *gin.Context) {
	claims, _ := middleware.Claims(c)
	role, perms, err := h.engine.UserPermissions(c.Request.Context(), claims.UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	ok(c, http.StatusOK, permissionsResponse{Role: string(role), Permissions: perms})
}

// PUT /v1/auth/users/:id/role
func (h *AuthHandler) UpdateUserRole(c *gin.Context) {
	var req roleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	role := azauth.Role(strings.ToUpper(strings.TrimSpace(req.Role)))
	if err := h.engine.UpdateRole(c.Request.Context(), c.Param("id"), role); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// PUT /v1/auth/users/:id/active
func (h *AuthHandler) SetUserActive(c *gin.Context) {
	var req activeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.engine.SetActive(c.Request.Context(), c.Param("id"), *req.Active); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GET /health
func (h *AuthHandler) Health(c *gin.Context) {
	status := h.engine.Health(c.Request.Context())
	code := http.StatusOK
	if !status.OK() {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"success": status.OK(),
		"data": gin.H{
			"redis":          status.RedisOK,
			"redisLatencyMs": status.RedisLatency.Milliseconds(),
			"store":          status.StoreOK,
		},
	})
}
