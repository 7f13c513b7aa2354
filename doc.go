// Package azauth is the authentication and session core of the Azora
// platform: account registration, password and OAuth login, rotating
// refresh sessions, TOTP multi-factor authentication with backup codes,
// password reset, email verification, and access-token revocation.
//
// Roles map to named permissions (see [DefaultRolePermissions]); the
// permission package holds the bitmask registry behind them.
//
// An [Engine] is assembled once through [Builder] and is safe for
// concurrent use. It owns no store handles: the Redis client and the
// credential store are created, and closed, by the caller.
//
// # Storage
//
// Identities and MFA settings live in a [credentials.Store] (PostgreSQL in
// production, in-memory for tests). Everything short-lived lives in Redis:
// session records and their per-user index, single-use reset and
// verification tokens, the access-token denylist, and throttle counters.
// Expired records are filtered on read; Redis TTLs only reclaim memory.
//
// # Errors
//
// Every error returned by Engine methods matches one of the sentinels in
// this package under [errors.Is]. [KindOf] groups them for transports.
// Authentication failures never say which factor was wrong.
package azauth
