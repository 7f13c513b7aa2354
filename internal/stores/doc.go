// Package stores holds the small Redis-backed records that sit beside sessions:
// single-active action tokens (password reset, email verification) and the access-token
// denylist.
package stores
