// Package totp implements RFC 6238 time-based one-time passwords over RFC 4226 HOTP.
package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const secretBytes = 20

var (
	ErrEmptySecret          = errors.New("totp: empty secret")
	ErrInvalidSecret        = errors.New("totp: invalid base32 secret")
	ErrUnsupportedAlgorithm = errors.New("totp: unsupported algorithm")
)

var encoding = base32.StdEncoding.WithPadding(base32.NoPadding)

type Config struct {
	Issuer    string
	Period    int
	Digits    int
	Algorithm string
	Skew      int
}

type Generator struct {
	config Config
}

func New(cfg Config) *Generator {
	if cfg.Algorithm == "" {
		cfg.Algorithm = "SHA1"
	}
	if cfg.Period <= 0 {
		cfg.Period = 30
	}
	if cfg.Digits <= 0 {
		cfg.Digits = 6
	}
	if cfg.Skew < 0 {
		cfg.Skew = 0
	}
	return &Generator{config: cfg}
}

// NewSecret returns a random base32 secret without padding.
func (g *Generator) NewSecret() (string, error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return encoding.EncodeToString(raw), nil
}

// DecodeSecret accepts upper or lower case, with or without padding and spaces.
func DecodeSecret(secret string) ([]byte, error) {
	cleaned := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(secret), " ", ""))
	cleaned = strings.TrimRight(cleaned, "=")
	if cleaned == "" {
		return nil, ErrEmptySecret
	}
	raw, err := encoding.DecodeString(cleaned)
	if err != nil {
		return nil, ErrInvalidSecret
	}
	return raw, nil
}

func (g *Generator) ProvisionURI(secret, account string) string {
	issuer := g.config.Issuer
	label := url.PathEscape(issuer + ":" + account)

	v := url.Values{}
	v.Set("secret", secret)
	v.Set("issuer", issuer)
	v.Set("period", strconv.Itoa(g.config.Period))
	v.Set("digits", strconv.Itoa(g.config.Digits))
	v.Set("algorithm", strings.ToUpper(g.config.Algorithm))

	return "otpauth://totp/" + label + "?" + v.Encode()
}

// Code returns the code for the step containing now.
func (g *Generator) Code(secret string, now time.Time) (string, error) {
	raw, err := DecodeSecret(secret)
	if err != nil {
		return "", err
	}
	return hotp(raw, now.Unix()/int64(g.config.Period), g.config.Digits, g.config.Algorithm)
}

// Verify checks code against the steps within the configured skew of now. On success it
// returns the matched counter so callers can reject replays.
func (g *Generator) Verify(secret, code string, now time.Time) (bool, int64, error) {
	trimmed := strings.TrimSpace(code)
	if len(trimmed) != g.config.Digits || !numeric(trimmed) {
		return false, 0, nil
	}
	raw, err := DecodeSecret(secret)
	if err != nil {
		return false, 0, err
	}

	base := now.Unix() / int64(g.config.Period)
	for step := -g.config.Skew; step <= g.config.Skew; step++ {
		counter := base + int64(step)
		if counter < 0 {
			continue
		}
		generated, err := hotp(raw, counter, g.config.Digits, g.config.Algorithm)
		if err != nil {
			return false, 0, err
		}
		if subtle.ConstantTimeCompare([]byte(generated), []byte(trimmed)) == 1 {
			return true, counter, nil
		}
	}
	return false, 0, nil
}

func hotp(secret []byte, counter int64, digits int, algorithm string) (string, error) {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	hf, err := hmacFunc(algorithm)
	if err != nil {
		return "", err
	}
	mac := hmac.New(hf, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < digits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", digits, bin%mod), nil
}

func hmacFunc(algorithm string) (func() hash.Hash, error) {
	switch strings.ToUpper(algorithm) {
	case "", "SHA1":
		return sha1.New, nil
	case "SHA256":
		return sha256.New, nil
	case "SHA512":
		return sha512.New, nil
	default:
		return nil, ErrUnsupportedAlgorithm
	}
}

func numeric(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
