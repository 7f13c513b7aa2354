// Package middleware adapts Engine.Validate to gin.
//
// [RequireAuth] reads the bearer token, validates it (signature, expiry and
// the revocation denylist) and stores the claims on the gin context.
// [RequireRole] gates a route on the role carried by those claims. Neither
// parses tokens itself.
package middleware
