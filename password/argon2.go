package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// DefaultMaxPasswordBytes applies when Config.MaxPasswordBytes is zero.
const DefaultMaxPasswordBytes = 1024

const argonPrefix = "$argon2id$"

// Lower bounds accepted both for configuration and for stored hashes.
const (
	floorMemoryKiB = 8 * 1024
	floorSaltBytes = 16
	floorKeyBytes  = 16
)

var (
	ErrEmptyPassword   = errors.New("password must not be empty")
	ErrPasswordTooLong = errors.New("password exceeds maximum length")
	ErrUnsupportedHash = errors.New("unsupported password hash format")
	// ErrMalformedHash reports an argon2id string that does not decode.
	ErrMalformedHash = errors.New("malformed argon2id hash")
)

// Config holds Argon2id cost parameters. Memory is in KiB.
type Config struct {
	Memory           uint32
	Time             uint32
	Parallelism      uint8
	SaltLength       uint32
	KeyLength        uint32
	MaxPasswordBytes int
}

func (c Config) validate() error {
	switch {
	case c.Memory < floorMemoryKiB:
		return fmt.Errorf("argon2id memory must be >= %d KiB", floorMemoryKiB)
	case c.Time < 1:
		return errors.New("argon2id time must be >= 1")
	case c.Parallelism < 1:
		return errors.New("argon2id parallelism must be >= 1")
	case c.SaltLength < floorSaltBytes:
		return fmt.Errorf("argon2id salt length must be >= %d", floorSaltBytes)
	case c.KeyLength < floorKeyBytes:
		return fmt.Errorf("argon2id key length must be >= %d", floorKeyBytes)
	}
	return nil
}

// Argon2 hashes with Argon2id and encodes results in PHC string format:
//
//	$argon2id$v=19$m=65536,t=3,p=2$<salt>$<key>
//
// Salt and key use unpadded standard base64, as the reference encoder does.
type Argon2 struct {
	config Config
}

func NewArgon2(cfg Config) (*Argon2, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.MaxPasswordBytes <= 0 {
		cfg.MaxPasswordBytes = DefaultMaxPasswordBytes
	}
	return &Argon2{config: cfg}, nil
}

// phc is a decoded argon2id hash.
type phc struct {
	memory  uint32
	time    uint32
	threads uint8
	salt    []byte
	key     []byte
}

var b64 = base64.RawStdEncoding

func (p phc) String() string {
	return fmt.Sprintf("%sv=%d$m=%d,t=%d,p=%d$%s$%s",
		argonPrefix, argon2.Version, p.memory, p.time, p.threads,
		b64.EncodeToString(p.salt), b64.EncodeToString(p.key))
}

func decodePHC(encoded string) (phc, error) {
	if !strings.HasPrefix(encoded, argonPrefix) {
		return phc{}, ErrUnsupportedHash
	}
	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, key
	fields := strings.Split(encoded, "$")
	if len(fields) != 6 {
		return phc{}, ErrMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(fields[2], "v=%d", &version); err != nil {
		return phc{}, ErrMalformedHash
	}
	if version != argon2.Version {
		return phc{}, fmt.Errorf("%w: version %d", ErrUnsupportedHash, version)
	}

	var (
		p       phc
		threads uint
	)
	if n, err := fmt.Sscanf(fields[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &threads); err != nil || n != 3 {
		return phc{}, ErrMalformedHash
	}
	if p.memory < floorMemoryKiB || p.time < 1 || threads < 1 || threads > 255 {
		return phc{}, ErrMalformedHash
	}
	p.threads = uint8(threads)

	var err error
	if p.salt, err = b64.DecodeString(strings.TrimRight(fields[4], "=")); err != nil || len(p.salt) < floorSaltBytes {
		return phc{}, ErrMalformedHash
	}
	if p.key, err = b64.DecodeString(strings.TrimRight(fields[5], "=")); err != nil || len(p.key) == 0 {
		return phc{}, ErrMalformedHash
	}
	return p, nil
}

func (a *Argon2) checkLength(password string) error {
	if len(password) > a.config.MaxPasswordBytes {
		return ErrPasswordTooLong
	}
	return nil
}

// Hash derives a key under a fresh random salt. Passwords are hashed as raw
// bytes without Unicode normalisation.
func (a *Argon2) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	if err := a.checkLength(password); err != nil {
		return "", err
	}

	salt := make([]byte, a.config.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("argon2id salt: %w", err)
	}
	p := phc{
		memory:  a.config.Memory,
		time:    a.config.Time,
		threads: a.config.Parallelism,
		salt:    salt,
	}
	p.key = argon2.IDKey([]byte(password), p.salt, p.time, p.memory, p.threads, a.config.KeyLength)
	return p.String(), nil
}

// Verify recomputes the key with the parameters stored in encodedHash.
func (a *Argon2) Verify(password, encodedHash string) (bool, error) {
	if err := a.checkLength(password); err != nil {
		return false, err
	}
	p, err := decodePHC(encodedHash)
	if err != nil {
		return false, err
	}
	key := argon2.IDKey([]byte(password), p.salt, p.time, p.memory, p.threads, uint32(len(p.key)))
	return subtle.ConstantTimeCompare(key, p.key) == 1, nil
}

// NeedsUpgrade is true when any stored cost is below the configured one or
// the key length differs.
func (a *Argon2) NeedsUpgrade(encodedHash string) (bool, error) {
	p, err := decodePHC(encodedHash)
	if err != nil {
		return false, err
	}
	c := a.config
	return p.memory < c.Memory || p.time < c.Time || p.threads < c.Parallelism ||
		uint32(len(p.key)) != c.KeyLength, nil
}

func (a *Argon2) Handles(encodedHash string) bool {
	return strings.HasPrefix(encodedHash, argonPrefix)
}
