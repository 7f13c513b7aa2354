// Package session implements the refresh-session registry on Redis.
//
// # Layout
//
// Each session is a Redis hash under "<prefix>:s:<sid>" holding the owner, the SHA-256 of
// the current refresh token, creation, last-use and expiry instants (unix milliseconds),
// and the encoded client metadata. A per-user sorted set "<prefix>:u:<uid>" indexes the
// user's sessions, scored by a per-user creation sequence "<prefix>:q:<uid>" so eviction
// order is exact even when two sessions share a millisecond.
//
// # Atomicity
//
// Create, Rotate, Delete, DeleteAllForUser and DeleteAllExcept are single Lua scripts, so
// the cap check, eviction and insert for one user can never interleave with another
// request for the same user. Expired records are filtered at read time and pruned by the
// next write to the same index; Sweep prunes indexes proactively.
//
// # Lifetime
//
// Touch records activity only. Extend is the only operation that moves ExpiresAt.
package session
