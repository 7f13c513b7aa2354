package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/azora-os/azauth"
	"github.com/azora-os/azauth/middleware"
)

// NewRouter wires every route. metrics may be nil, in which case /metrics
// is not mounted.
func NewRouter(engine *azauth.Engine, metrics http.Handler, log *zap.Logger) *gin.Engine {
	if log == nil {
		log = zap.NewNop()
	}
	h := NewAuthHandler(engine, log)

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log), clientContext())

	r.GET("/health", h.Health)
	if metrics != nil {
		r.GET("/metrics", gin.WrapH(metrics))
	}

	auth := r.Group("/v1/auth")
	{
		auth.POST("/register", h.Register)
		auth.POST("/login", h.Login)
		auth.POST("/refresh", h.Refresh)
		auth.POST("/password/forgot", h.ForgotPassword)
		auth.POST("/password/reset", h.ResetPassword)
		auth.POST("/email/verify", h.VerifyEmail)
		auth.POST("/email/resend", h.ResendVerification)
	}

	protected := auth.Group("")
	protected.Use(middleware.RequireAuth(engine))
	{
		protected.GET("/me", h.Me)
		protected.POST("/logout", h.Logout)
		protected.POST("/logout-all", h.LogoutAll)
		protected.GET("/sessions", h.ListSessions)
		protected.DELETE("/sessions/:id", h.RevokeSession)
		protected.POST("/sessions/:id/extend", h.ExtendSession)
		protected.POST("/mfa/enroll", h.EnrollMFA)
		protected.POST("/mfa/verify", h.VerifyMFA)
		protected.POST("/mfa/backup-codes", h.GenerateBackupCodes)
		protected.POST("/mfa/disable", h.DisableMFA)
		protected.POST("/password/change", h.ChangePassword)
		protected.POST("/oauth/link", h.LinkOAuth)
		protected.GET("/permissions", h.Permissions)
	}

	admin := protected.Group("/users")
	admin.Use(middleware.RequirePermission(engine, azauth.PermSystemAdmin))
	{
		admin.PUT("/:id/role", h.UpdateUserRole)
		admin.PUT("/:id/active", h.SetUserActive)
	}

	return r
}

// clientContext hands the caller's IP and User-Agent to the engine through
// the request context.
func clientContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := azauth.WithClientIP(c.Request.Context(), c.ClientIP())
		ctx = azauth.WithUserAgent(ctx, c.Request.UserAgent())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}
