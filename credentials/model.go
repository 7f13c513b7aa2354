package credentials

import (
	"fmt"
	"strings"
	"time"
)

// Role is the coarse authorization role carried in access tokens.
type Role string

const (
	RoleUser       Role = "USER"
	RoleStudent    Role = "STUDENT"
	RoleInstructor Role = "INSTRUCTOR"
	RoleAdmin      Role = "ADMIN"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleStudent, RoleInstructor, RoleAdmin:
		return true
	}
	return false
}

// ParseRole accepts any letter case.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// User is a stored identity. Email is stored lowercased and trimmed; Username trimmed.
type User struct {
	ID              string
	Email           string
	Username        string
	PasswordHash    string
	FirstName       string
	LastName        string
	Role            Role
	Active          bool
	EmailVerified   bool
	OAuthProvider   string
	OAuthProviderID string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// HasPassword is false for accounts created only through an OAuth provider.
func (u *User) HasPassword() bool {
	return u != nil && u.PasswordHash != ""
}

// MFASettings is the per-user TOTP enrollment. BackupCodes holds SHA-256 digests only.
type MFASettings struct {
	UserID          string
	Secret          string
	Enabled         bool
	BackupCodes     [][32]byte
	LastUsedCounter int64
	CreatedAt       time.Time
}

func (u *User) clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

func (m *MFASettings) clone() *MFASettings {
	if m == nil {
		return nil
	}
	c := *m
	c.BackupCodes = append([][32]byte(nil), m.BackupCodes...)
	return &c
}
