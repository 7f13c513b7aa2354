// Package credentials defines the user identity model, the MFA settings record, and the
// Store contract every credential backend implements.
//
// Implementations must enforce email, username, and (provider, provider id) uniqueness at
// insert time and report violations with ErrDuplicateEmail, ErrDuplicateUsername, and
// ErrDuplicateOAuth. Backup-code consumption must be atomic: two concurrent consumers of
// the same code observe exactly one success.
package credentials
