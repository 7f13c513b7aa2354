// Package internal holds token hashing and backup code helpers shared by the
// engine and its stores.
//
// # Sub-packages
//
//   - audit: event model, sinks and the async dispatcher
//   - limiters: lockout and attempt counters (TOTP, backup codes, email requests)
//   - rate: fixed-window login and refresh throttles
//   - stores: purpose tokens and the access token denylist
//   - totp: RFC 6238 codes
//   - validation: email, username and password policy
//   - httpapi, sweeper, config, logging: azauthd plumbing
package internal
