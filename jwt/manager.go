package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the algorithm used for access tokens. Refresh and action tokens
// are always HS256 with their own secrets.
type SigningMethod string

const (
	// MethodHS256 signs access tokens with AccessSecret.
	MethodHS256 SigningMethod = "hs256"
	// MethodEd25519 signs access tokens with PrivateKey and verifies with PublicKey.
	MethodEd25519 SigningMethod = "ed25519"
)

// TokenType is carried in the typ claim and distinguishes token classes.
type TokenType string

const (
	TypeAccess      TokenType = "access"
	TypeRefresh     TokenType = "refresh"
	TypeReset       TokenType = "reset"
	TypeVerifyEmail TokenType = "verify_email"
)

// Config configures a Manager. Secrets must be distinct per token class.
type Config struct {
	SigningMethod SigningMethod
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

	// Now overrides the clock used for iat/exp and verification. Nil means time.Now.
	Now func() time.Time
}

// AccessClaims is the claim set of an access token.
type AccessClaims struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	SessionID string    `json:"sid,omitempty"`
	Type      TokenType `json:"typ"`
	jwt.RegisteredClaims
}

// RefreshClaims is the claim set of a refresh token. SessionID names the session record
// whose stored hash must match the token.
type RefreshClaims struct {
	UserID    string    `json:"userId"`
	SessionID string    `json:"sid"`
	Type      TokenType `json:"typ"`
	jwt.RegisteredClaims
}

// ActionClaims is the claim set of a single-purpose token (reset, email verification).
type ActionClaims struct {
	UserID string    `json:"userId"`
	Type   TokenType `json:"typ"`
	jwt.RegisteredClaims
}

// AccessSubject is the identity snapshot embedded into an access token.
type AccessSubject struct {
	UserID    string
	Email     string
	Role      string
	SessionID string
}

// Manager issues and verifies every token class.
type Manager struct {
	config Config
	now    func() time.Time
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.AccessSecret) == 0 {
			return nil, errors.New("hs256 requires access secret")
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) > 0 {
			if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.PublicKey) == 0 {
			return nil, errors.New("ed25519 requires public key")
		}
		if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
			return nil, err
		}
	default:
		return nil, errors.New("unsupported signing method")
	}

	if len(cfg.RefreshSecret) == 0 {
		return nil, errors.New("refresh secret is required")
	}
	if len(cfg.ActionSecret) == 0 {
		return nil, errors.New("action secret is required")
	}
	if cfg.SigningMethod == MethodHS256 && string(cfg.AccessSecret) == string(cfg.RefreshSecret) {
		return nil, errors.New("access and refresh secrets must differ")
	}
	if string(cfg.RefreshSecret) == string(cfg.ActionSecret) {
		return nil, errors.New("refresh and action secrets must differ")
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{config: cfg, now: now}, nil
}

// AccessTTL returns the configured access-token lifetime.
func (m *Manager) AccessTTL() time.Duration { return m.config.AccessTTL }

// RefreshTTL returns the configured refresh-token lifetime.
func (m *Manager) RefreshTTL() time.Duration { return m.config.RefreshTTL }

// IssueAccess signs an access token for sub. The returned claims carry the issued-at and
// expiry instants.
func (m *Manager) IssueAccess(sub AccessSubject) (string, *AccessClaims, error) {
	if sub.UserID == "" {
		return "", nil, errors.New("access token requires user id")
	}
	now := m.now()
	claims := &AccessClaims{
		UserID:           sub.UserID,
		Email:            sub.Email,
		Role:             sub.Role,
		SessionID:        sub.SessionID,
		Type:             TypeAccess,
		RegisteredClaims: m.registered(sub.UserID, now, m.config.AccessTTL),
	}

	token := jwt.NewWithClaims(m.accessMethod(), claims)
	if m.config.KeyID != "" {
		token.Header["kid"] = m.config.KeyID
	}
	key, err := m.accessSignKey()
	if err != nil {
		return "", nil, err
	}
	signed, err := token.SignedString(key)
	if err != nil {
		return "", nil, fmt.Errorf("sign access token: %w", err)
	}
	return signed, claims, nil
}

// IssueRefresh signs a refresh token bound to sessionID. Persisting the session record is
// the caller's responsibility.
func (m *Manager) IssueRefresh(userID, sessionID string) (string, *RefreshClaims, error) {
	if userID == "" || sessionID == "" {
		return "", nil, errors.New("refresh token requires user and session id")
	}
	claims := &RefreshClaims{
		UserID:           userID,
		SessionID:        sessionID,
		Type:             TypeRefresh,
		RegisteredClaims: m.registered(userID, m.now(), m.config.RefreshTTL),
	}
	signed, err := Sign(claims, m.config.RefreshSecret)
	if err != nil {
		return "", nil, fmt.Errorf("sign refresh token: %w", err)
	}
	return signed, claims, nil
}

// IssueAction signs a single-purpose token of the given type valid for ttl.
func (m *Manager) IssueAction(typ TokenType, userID string, ttl time.Duration) (string, *ActionClaims, error) {
	if typ != TypeReset && typ != TypeVerifyEmail {
		return "", nil, fmt.Errorf("unsupported action token type %q", typ)
	}
	if userID == "" || ttl <= 0 {
		return "", nil, errors.New("action token requires user id and positive ttl")
	}
	claims := &ActionClaims{
		UserID:           userID,
		Type:             typ,
		RegisteredClaims: m.registered(userID, m.now(), ttl),
	}
	signed, err := Sign(claims, m.config.ActionSecret)
	if err != nil {
		return "", nil, fmt.Errorf("sign action token: %w", err)
	}
	return signed, claims, nil
}

// ParseAccess verifies an access token and returns its claims.
func (m *Manager) ParseAccess(token string) (*AccessClaims, error) {
	if err := precheck(token); err != nil {
		return nil, err
	}
	claims := &AccessClaims{}
	parsed, err := jwt.NewParser(m.parserOptions(m.accessMethod().Alg())...).ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if m.config.KeyID != "" {
			kid, _ := t.Header["kid"].(string)
			if kid != m.config.KeyID {
				return nil, errors.New("unknown kid")
			}
		}
		return m.accessVerifyKey()
	})
	if err != nil {
		return nil, classify(err)
	}
	if !parsed.Valid || claims.Type != TypeAccess || claims.UserID == "" {
		return nil, ErrInvalidClaims
	}
	return claims, nil
}

// ParseRefresh verifies a refresh token and returns its claims.
func (m *Manager) ParseRefresh(token string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	opts := m.parserOptions(jwt.SigningMethodHS256.Alg())
	if err := Verify(token, m.config.RefreshSecret, claims, opts...); err != nil {
		return nil, err
	}
	if claims.Type != TypeRefresh || claims.UserID == "" || claims.SessionID == "" {
		return nil, ErrInvalidClaims
	}
	return claims, nil
}

// ParseRefreshForRotation is ParseRefresh without the exp check. The signature,
// type, issuer and audience are still enforced; the caller must consult the
// session store, whose expiry is authoritative once a session has been
// extended.
func (m *Manager) ParseRefreshForRotation(token string) (*RefreshClaims, error) {
	claims, err := m.ParseRefresh(token)
	if !errors.Is(err, ErrExpired) {
		return claims, err
	}
	claims = &RefreshClaims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	}
	if err := Verify(token, m.config.RefreshSecret, claims, opts...); err != nil {
		return nil, err
	}
	if m.config.Issuer != "" && claims.Issuer != m.config.Issuer {
		return nil, ErrInvalidClaims
	}
	if m.config.Audience != "" && !slices.Contains(claims.Audience, m.config.Audience) {
		return nil, ErrInvalidClaims
	}
	if claims.Type != TypeRefresh || claims.UserID == "" || claims.SessionID == "" {
		return nil, ErrInvalidClaims
	}
	return claims, nil
}

// ParseAction verifies a single-purpose token and checks that it is of type typ.
func (m *Manager) ParseAction(typ TokenType, token string) (*ActionClaims, error) {
	claims := &ActionClaims{}
	opts := m.parserOptions(jwt.SigningMethodHS256.Alg())
	if err := Verify(token, m.config.ActionSecret, claims, opts...); err != nil {
		return nil, err
	}
	if claims.Type != typ || claims.UserID == "" {
		return nil, ErrInvalidClaims
	}
	return claims, nil
}

func (m *Manager) registered(subject string, now time.Time, ttl time.Duration) jwt.RegisteredClaims {
	rc := jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   subject,
		Issuer:    m.config.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	if m.config.Audience != "" {
		rc.Audience = jwt.ClaimStrings{m.config.Audience}
	}
	return rc
}

func (m *Manager) parserOptions(alg string) []jwt.ParserOption {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{alg}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}
	if m.config.Audience != "" {
		options = append(options, jwt.WithAudience(m.config.Audience))
	}
	return options
}

func (m *Manager) accessMethod() jwt.SigningMethod {
	if m.config.SigningMethod == MethodHS256 {
		return jwt.SigningMethodHS256
	}
	return jwt.SigningMethodEdDSA
}

func (m *Manager) accessSignKey() (interface{}, error) {
	if m.config.SigningMethod == MethodHS256 {
		return m.config.AccessSecret, nil
	}
	if len(m.config.PrivateKey) == 0 {
		return nil, errors.New("ed25519 private key not configured")
	}
	return parseEdPrivateKey(m.config.PrivateKey)
}

func (m *Manager) accessVerifyKey() (interface{}, error) {
	if m.config.SigningMethod == MethodHS256 {
		return m.config.AccessSecret, nil
	}
	return parseEdPublicKey(m.config.PublicKey)
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
