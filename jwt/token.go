package jwt

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrMalformed is returned for tokens that are not three non-empty dot-separated segments
	// or whose segments cannot be decoded.
	ErrMalformed = errors.New("jwt: malformed token")
	// ErrInvalidSignature is returned when the signature does not verify under the key.
	ErrInvalidSignature = errors.New("jwt: invalid signature")
	// ErrExpired is returned when the signature is valid but exp is in the past.
	ErrExpired = errors.New("jwt: token expired")
	// ErrInvalidClaims is returned for any other claim violation (type, issuer, audience, nbf).
	ErrInvalidClaims = errors.New("jwt: invalid claims")
)

// Sign produces an HS256 token over claims.
func Sign(claims jwt.Claims, secret []byte) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("jwt: empty signing secret")
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// Verify checks an HS256 token against secret and decodes it into claims.
// Additional parser options (issuer, audience, clock) may be supplied.
func Verify(token string, secret []byte, claims jwt.Claims, opts ...jwt.ParserOption) error {
	if err := precheck(token); err != nil {
		return err
	}
	options := append([]jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}, opts...)

	parsed, err := jwt.NewParser(options...).ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		return classify(err)
	}
	if !parsed.Valid {
		return ErrInvalidClaims
	}
	return nil
}

// Decode parses claims without verifying the signature. The result must never be used for
// an authorization decision; it exists for bookkeeping such as computing a denylist TTL.
func Decode(token string, claims jwt.Claims) error {
	if err := precheck(token); err != nil {
		return err
	}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return ErrMalformed
	}
	return nil
}

func precheck(token string) error {
	if token == "" {
		return ErrMalformed
	}
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return ErrMalformed
	}
	for _, p := range parts {
		if p == "" {
			return ErrMalformed
		}
	}
	return nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformed
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrInvalidSignature
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrExpired
	default:
		return ErrInvalidClaims
	}
}
