// Package jwt issues and verifies the signed tokens used by azauth: short-lived access
// tokens, long-lived refresh tokens bound to a session, and single-purpose action tokens
// (password reset, email verification).
//
// Each token class is signed with its own key so a token of one class can never verify as
// another. Verification classifies failures into ErrMalformed, ErrInvalidSignature,
// ErrExpired and ErrInvalidClaims; malformed input is rejected before any signature work.
package jwt
