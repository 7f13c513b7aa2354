// Package limiters provides domain policies built on the internal/rate
// counters.
//
//   - [Lockout] locks an account after a run of failed password attempts.
//   - [Attempts] bounds failures or requests per subject (backup codes, TOTP,
//     reset and verification requests).
//
// All limiters are nil-safe: calling any method on a nil receiver is a no-op.
// They count; the engine decides consequences.
package limiters
