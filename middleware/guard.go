package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/azora-os/azauth"
)

const claimsKey = "azauth.claims"

// Validator is the subset of *azauth.Engine the guards need.
type Validator interface {
	Validate(ctx context.Context, accessToken string) (*azauth.AccessClaims, error)
}

// RequireAuth rejects requests without a valid, unrevoked access token.
func RequireAuth(v Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := BearerToken(c.GetHeader("Authorization"))
		if !ok {
			abort(c, http.StatusUnauthorized, "MISSING_TOKEN", "authorization header is required")
			return
		}

		claims, err := v.Validate(c.Request.Context(), token)
		if err != nil {
			switch azauth.KindOf(err) {
			case azauth.KindUnavailable:
				abort(c, http.StatusServiceUnavailable, "UNAVAILABLE", "authentication backend unavailable")
			default:
				abort(c, http.StatusUnauthorized, "INVALID_TOKEN", "invalid or expired token")
			}
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

// RequireRole must run after RequireAuth. It allows any of roles.
func RequireRole(roles ...azauth.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := Claims(c)
		if !ok {
			abort(c, http.StatusUnauthorized, "MISSING_TOKEN", "authentication required")
			return
		}
		for _, r := range roles {
			if claims.Role == string(r) {
				c.Next()
				return
			}
		}
		abort(c, http.StatusForbidden, "FORBIDDEN", "insufficient role")
	}
}

// PermissionChecker is the subset of *azauth.Engine RequirePermission needs.
type PermissionChecker interface {
	HasPermission(role azauth.Role, perm string) bool
}

// RequirePermission must run after RequireAuth. The role in the access token
// must grant every one of perms.
func RequirePermission(pc PermissionChecker, perms ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := Claims(c)
		if !ok {
			abort(c, http.StatusUnauthorized, "MISSING_TOKEN", "authentication required")
			return
		}
		for _, perm := range perms {
			if !pc.HasPermission(azauth.Role(claims.Role), perm) {
				abort(c, http.StatusForbidden, "FORBIDDEN", "missing permission "+perm)
				return
			}
		}
		c.Next()
	}
}

// Claims returns the claims stored by RequireAuth.
func Claims(c *gin.Context) (*azauth.AccessClaims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*azauth.AccessClaims)
	return claims, ok
}

// BearerToken extracts the token from an Authorization header value. The
// scheme is matched case-insensitively.
func BearerToken(value string) (string, bool) {
	const bearer = "bearer "
	if len(value) <= len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}
	token := strings.TrimSpace(value[len(bearer):])
	return token, token != ""
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}
