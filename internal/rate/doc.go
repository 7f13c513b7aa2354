// Package rate provides the fixed-window Redis counters behind the login and
// refresh throttles.
//
// # Window semantics
//
// Each counter is INCR + PEXPIRE-on-first-hit executed as one script, so a
// window can never be left without a TTL. Key layout under the configured
// prefix (default "azr"):
//   - <prefix>:l:<identifier>  login per identifier
//   - <prefix>:li:<ip>         login per client IP
//   - <prefix>:r:<sid>         refresh per session
//
// Domain policies built on these counters live in internal/limiters.
package rate
