package azauth

import (
	"errors"
	"fmt"
	"time"
)

// Config is the complete engine configuration. Start from DefaultConfig and
// set the JWT secrets; everything else has a usable default.
type Config struct {
	JWT               JWTConfig
	Session           SessionConfig
	Password          PasswordConfig
	PasswordPolicy    PasswordPolicyConfig
	PasswordReset     PasswordResetConfig
	EmailVerification EmailVerificationConfig
	TOTP              TOTPConfig
	BackupCodes       BackupCodeConfig
	Security          SecurityConfig
	Audit             AuditConfig
	Metrics           MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls token signing. Access, refresh and action tokens use
// distinct keys so one class can never be replayed as another.
type JWTConfig struct {
	SigningMethod string // "hs256" (default) or "ed25519"
	AccessSecret  []byte
	PrivateKey    []byte
	PublicKey     []byte
	RefreshSecret []byte
	ActionSecret  []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
}

/*
====================================
SESSION CONFIG
====================================
*/

type SessionConfig struct {
	RedisPrefix        string
	MaxSessionsPerUser int
	// MaxExtend caps the TTL accepted by ExtendSession.
	MaxExtend time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig selects the hashing scheme. Hashes from the other scheme
// still verify and are rehashed on login when UpgradeOnLogin is set.
type PasswordConfig struct {
	Scheme              string // "argon2id" (default) or "bcrypt"
	Memory              uint32 // KiB
	Time                uint32
	Parallelism         uint8
	SaltLength          uint32
	KeyLength           uint32
	BcryptCost          int
	MaxConcurrentHashes int
	UpgradeOnLogin      bool
}

type PasswordPolicyConfig struct {
	MinLength      int
	MaxLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSpecial bool
}

/*
====================================
ACTION TOKEN CONFIG
====================================
*/

type PasswordResetConfig struct {
	Enabled bool
	TTL     time.Duration
	// LinkBase is prefixed to the token in the reset email.
	LinkBase           string
	MaxRequestsPerUser int
	RequestWindow      time.Duration
}

type EmailVerificationConfig struct {
	Enabled            bool
	TTL                time.Duration
	LinkBase           string
	SendOnRegister     bool
	MaxRequestsPerUser int
	RequestWindow      time.Duration
}

/*
====================================
MFA CONFIG
====================================
*/

type TOTPConfig struct {
	Issuer        string
	Period        int
	Digits        int
	Algorithm     string
	Skew          int
	MaxAttempts   int
	AttemptWindow time.Duration
}

type BackupCodeConfig struct {
	Count         int
	Length        int
	MaxAttempts   int
	AttemptWindow time.Duration
}

/*
====================================
SECURITY CONFIG
====================================
*/

type SecurityConfig struct {
	RedisPrefix           string
	EnableIPThrottle      bool
	MaxLoginAttempts      int
	LoginWindow           time.Duration
	EnableRefreshThrottle bool
	MaxRefreshAttempts    int
	RefreshWindow         time.Duration
	LockoutEnabled        bool
	LockoutThreshold      int
	LockoutDuration       time.Duration
	RequireVerifiedEmail  bool
	// StrictValidation makes Validate also require the token's session to be
	// live, so LogoutAll takes effect before access tokens expire.
	StrictValidation bool
}

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns production defaults without secrets.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			SigningMethod: "hs256",
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			Issuer:        "azauth",
		},
		Session: SessionConfig{
			RedisPrefix:        "azs",
			MaxSessionsPerUser: 5,
			MaxExtend:          30 * 24 * time.Hour,
		},
		Password: PasswordConfig{
			Scheme:              "argon2id",
			Memory:              65536,
			Time:                3,
			Parallelism:         2,
			SaltLength:          16,
			KeyLength:           32,
			BcryptCost:          12,
			MaxConcurrentHashes: 8,
			UpgradeOnLogin:      true,
		},
		PasswordPolicy: PasswordPolicyConfig{
			MinLength:      8,
			MaxLength:      128,
			RequireUpper:   true,
			RequireLower:   true,
			RequireDigit:   true,
			RequireSpecial: true,
		},
		PasswordReset: PasswordResetConfig{
			Enabled:            true,
			TTL:                time.Hour,
			MaxRequestsPerUser: 5,
			RequestWindow:      time.Hour,
		},
		EmailVerification: EmailVerificationConfig{
			Enabled:            true,
			TTL:                24 * time.Hour,
			SendOnRegister:     true,
			MaxRequestsPerUser: 5,
			RequestWindow:      time.Hour,
		},
		TOTP: TOTPConfig{
			Issuer:        "Azora",
			Period:        30,
			Digits:        6,
			Algorithm:     "SHA1",
			Skew:          1,
			MaxAttempts:   5,
			AttemptWindow: 5 * time.Minute,
		},
		BackupCodes: BackupCodeConfig{
			Count:         10,
			Length:        8,
			MaxAttempts:   5,
			AttemptWindow: 15 * time.Minute,
		},
		Security: SecurityConfig{
			RedisPrefix:           "aza",
			EnableIPThrottle:      true,
			MaxLoginAttempts:      20,
			LoginWindow:           15 * time.Minute,
			EnableRefreshThrottle: true,
			MaxRefreshAttempts:    30,
			RefreshWindow:         time.Minute,
			LockoutEnabled:        true,
			LockoutThreshold:      5,
			LockoutDuration:       15 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.AccessSecret = cloneBytes(cfg.JWT.AccessSecret)
	out.JWT.RefreshSecret = cloneBytes(cfg.JWT.RefreshSecret)
	out.JWT.ActionSecret = cloneBytes(cfg.JWT.ActionSecret)
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

const (
	minSecretBytes = 32
	maxBackupCodes = 20
)

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT AccessTTL and RefreshTTL must be > 0")
	}
	if c.JWT.AccessTTL >= c.JWT.RefreshTTL {
		return errors.New("JWT AccessTTL must be shorter than RefreshTTL")
	}
	switch c.JWT.SigningMethod {
	case "hs256":
		if len(c.JWT.AccessSecret) < minSecretBytes {
			return fmt.Errorf("JWT AccessSecret must be at least %d bytes", minSecretBytes)
		}
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PrivateKey and PublicKey")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if len(c.JWT.RefreshSecret) < minSecretBytes {
		return fmt.Errorf("JWT RefreshSecret must be at least %d bytes", minSecretBytes)
	}
	if len(c.JWT.ActionSecret) < minSecretBytes {
		return fmt.Errorf("JWT ActionSecret must be at least %d bytes", minSecretBytes)
	}

	// Session
	if c.Session.MaxSessionsPerUser < 0 {
		return errors.New("Session MaxSessionsPerUser must be >= 0")
	}
	if c.Session.MaxExtend < 0 {
		return errors.New("Session MaxExtend must be >= 0")
	}

	// Password
	switch c.Password.Scheme {
	case "argon2id":
		if c.Password.Memory < 8*1024 {
			return errors.New("Password Memory must be >= 8192 KB")
		}
		if c.Password.Time < 1 || c.Password.Parallelism < 1 {
			return errors.New("Password Time and Parallelism must be >= 1")
		}
		if c.Password.SaltLength < 16 || c.Password.KeyLength < 16 {
			return errors.New("Password SaltLength and KeyLength must be >= 16")
		}
	case "bcrypt":
		if c.Password.BcryptCost < 10 || c.Password.BcryptCost > 31 {
			return errors.New("Password BcryptCost must be in [10,31]")
		}
	default:
		return errors.New("Password Scheme must be 'argon2id' or 'bcrypt'")
	}
	if c.Password.MaxConcurrentHashes < 1 {
		return errors.New("Password MaxConcurrentHashes must be >= 1")
	}
	if c.PasswordPolicy.MinLength < 8 {
		return errors.New("PasswordPolicy MinLength must be >= 8")
	}
	if c.PasswordPolicy.MaxLength != 0 && c.PasswordPolicy.MaxLength < c.PasswordPolicy.MinLength {
		return errors.New("PasswordPolicy MaxLength must be >= MinLength")
	}

	// Action tokens
	if c.PasswordReset.Enabled && c.PasswordReset.TTL <= 0 {
		return errors.New("PasswordReset TTL must be > 0")
	}
	if c.EmailVerification.Enabled && c.EmailVerification.TTL <= 0 {
		return errors.New("EmailVerification TTL must be > 0")
	}
	if c.Security.RequireVerifiedEmail && !c.EmailVerification.Enabled {
		return errors.New("Security RequireVerifiedEmail requires EmailVerification")
	}

	// MFA
	if c.TOTP.Digits != 6 && c.TOTP.Digits != 8 {
		return errors.New("TOTP Digits must be 6 or 8")
	}
	if c.TOTP.Period <= 0 {
		return errors.New("TOTP Period must be > 0")
	}
	if c.TOTP.Skew < 0 || c.TOTP.Skew > 3 {
		return errors.New("TOTP Skew must be in [0,3]")
	}
	if c.BackupCodes.Count <= 0 || c.BackupCodes.Count > maxBackupCodes {
		return errors.New("BackupCodes Count must be in [1,20]")
	}
	if c.BackupCodes.Length < 6 || c.BackupCodes.Length > 10 {
		return errors.New("BackupCodes Length must be in [6,10]")
	}

	// Security
	if c.Security.LockoutEnabled && (c.Security.LockoutThreshold <= 0 || c.Security.LockoutDuration <= 0) {
		return errors.New("Security lockout requires Threshold and Duration > 0")
	}
	if c.Security.MaxLoginAttempts > 0 && c.Security.LoginWindow <= 0 {
		return errors.New("Security LoginWindow must be > 0")
	}
	if c.Security.EnableRefreshThrottle && (c.Security.MaxRefreshAttempts <= 0 || c.Security.RefreshWindow <= 0) {
		return errors.New("Security refresh throttle requires MaxRefreshAttempts and RefreshWindow > 0")
	}

	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}
	return nil
}
