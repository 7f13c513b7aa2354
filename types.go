package azauth

import (
	"time"

	"github.com/azora-os/azauth/credentials"
	"github.com/azora-os/azauth/jwt"
	"github.com/azora-os/azauth/session"
)

type (
	User          = credentials.User
	Role          = credentials.Role
	MFASettings   = credentials.MFASettings
	AccessClaims  = jwt.AccessClaims
	ClientInfo    = session.Metadata
	DeviceInfo    = session.DeviceInfo
	RequestInfo   = session.RequestContext
	SessionRecord = session.Record
)

const (
	RoleUser       = credentials.RoleUser
	RoleStudent    = credentials.RoleStudent
	RoleInstructor = credentials.RoleInstructor
	RoleAdmin      = credentials.RoleAdmin
)

// RegisterRequest carries sign-up input. Email and Username are normalised
// before validation.
type RegisterRequest struct {
	Email     string
	Username  string
	Password  string
	FirstName string
	LastName  string
}

// LoginRequest authenticates by email or username. When the account has MFA
// enabled exactly one of TOTPCode or BackupCode must be set.
type LoginRequest struct {
	Identifier string
	Password   string
	TOTPCode   string
	BackupCode string
	// Client overrides the request context derived from ctx.
	Client ClientInfo
}

// OAuthLoginRequest signs in a user through an already linked provider
// identity. The provider code exchange happens before this call.
type OAuthLoginRequest struct {
	Provider   string
	ProviderID string
	TOTPCode   string
	BackupCode string
	Client     ClientInfo
}

// TokenPair is what a successful login or refresh returns.
type TokenPair struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	TokenType        string    `json:"tokenType"`
	SessionID        string    `json:"sessionId"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

// MFAEnrollment is returned once by EnrollMFA.
type MFAEnrollment struct {
	Secret string `json:"secret"`
	URI    string `json:"uri"`
}

// SessionInfo is the caller-facing view of a session record.
type SessionInfo struct {
	ID         string     `json:"id"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastUsedAt time.Time  `json:"lastUsedAt"`
	ExpiresAt  time.Time  `json:"expiresAt"`
	Client     ClientInfo `json:"client"`
	Current    bool       `json:"current"`
}

// HealthStatus reports backend reachability.
type HealthStatus struct {
	RedisOK      bool          `json:"redisOk"`
	RedisLatency time.Duration `json:"redisLatency"`
	StoreOK      bool          `json:"storeOk"`
}

// OK is true when every backend answered.
func (h HealthStatus) OK() bool { return h.RedisOK && h.StoreOK }
