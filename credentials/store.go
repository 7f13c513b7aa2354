package credentials

import (
	"context"
	"errors"
)

var (
	ErrNotFound          = errors.New("credentials: not found")
	ErrDuplicateEmail    = errors.New("credentials: email already registered")
	ErrDuplicateUsername = errors.New("credentials: username already taken")
	ErrDuplicateOAuth    = errors.New("credentials: oauth account already linked")
	ErrUnavailable       = errors.New("credentials: store unavailable")
)

// UserStore persists identities.
type UserStore interface {
	// CreateUser inserts u. Uniqueness is checked at insert time.
	CreateUser(ctx context.Context, u *User) error
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByOAuth(ctx context.Context, provider, providerID string) (*User, error)
	UpdatePasswordHash(ctx context.Context, userID, hash string) error
	UpdateRole(ctx context.Context, userID string, role Role) error
	SetActive(ctx context.Context, userID string, active bool) error
	MarkEmailVerified(ctx context.Context, userID string) error
	// LinkOAuth binds a provider identity. Relinking the same user is a no-op.
	LinkOAuth(ctx context.Context, userID, provider, providerID string) error
}

// MFAStore persists TOTP enrollment and backup codes.
type MFAStore interface {
	GetMFA(ctx context.Context, userID string) (*MFASettings, error)
	// SaveMFA upserts settings. It replaces any previous enrollment, including backup codes.
	SaveMFA(ctx context.Context, settings *MFASettings) error
	EnableMFA(ctx context.Context, userID string) error
	// AdvanceTOTPCounter stores counter when it is greater than the last used one and
	// reports false otherwise.
	AdvanceTOTPCounter(ctx context.Context, userID string, counter int64) (bool, error)
	ReplaceBackupCodes(ctx context.Context, userID string, hashes [][32]byte) error
	// ConsumeBackupCode removes hash if present and reports whether it was.
	ConsumeBackupCode(ctx context.Context, userID string, hash [32]byte) (bool, error)
	DeleteMFA(ctx context.Context, userID string) error
}

// Store is the full credential backend.
type Store interface {
	UserStore
	MFAStore
	Ping(ctx context.Context) error
}
