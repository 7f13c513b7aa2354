package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned when the session does not exist or has expired.
	ErrNotFound = errors.New("session not found")
	// ErrExpired is returned by Rotate when the session exists but is past its expiry.
	ErrExpired = errors.New("session expired")
	// ErrHashMismatch is returned by Rotate when the presented refresh token does not match.
	// The session is deleted before this error is returned.
	ErrHashMismatch = errors.New("refresh hash mismatch")
	// ErrRedisUnavailable wraps transport failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

const (
	rotateStatusNotFound int64 = 0
	rotateStatusExpired  int64 = 1
	rotateStatusMismatch int64 = 2
	rotateStatusRotated  int64 = 3
)

const (
	touchStatusNotFound int64 = 0
	touchStatusExpired  int64 = -1
)

// Shared helpers prepended to every write script.
const luaHelpers = `
local function prune(index, prefix, now)
  local removed = 0
  local members = redis.call("ZRANGE", index, 0, -1)
  for _, id in ipairs(members) do
    local ea = redis.call("HGET", prefix .. id, "ea")
    if (not ea) or tonumber(ea) <= now then
      redis.call("DEL", prefix .. id)
      redis.call("ZREM", index, id)
      removed = removed + 1
    end
  end
  return removed
end

local function evict(index, prefix, max)
  local evicted = {}
  if max <= 0 then
    return evicted
  end
  local count = redis.call("ZCARD", index)
  while count >= max do
    local oldest = redis.call("ZRANGE", index, 0, 0)
    if #oldest == 0 then
      break
    end
    redis.call("DEL", prefix .. oldest[1])
    redis.call("ZREM", index, oldest[1])
    table.insert(evicted, oldest[1])
    count = count - 1
  end
  return evicted
end

local function extend_ttl(key, ttl)
  if redis.call("PTTL", key) < ttl then
    redis.call("PEXPIRE", key, ttl)
  end
end

local function insert(skey, index, seqkey, rec, ttl)
  redis.call("HSET", skey, "uid", rec[2], "rh", rec[3], "ca", rec[4], "lu", rec[5], "ea", rec[6], "md", rec[7])
  redis.call("PEXPIRE", skey, ttl)
  local seq = redis.call("INCR", seqkey)
  redis.call("ZADD", index, seq, rec[1])
  extend_ttl(index, ttl)
  extend_ttl(seqkey, ttl)
end
`

// KEYS: session, index, seq
// ARGV: sid, uid, rh, ca, lu, ea, md, ttl_ms, max, now_ms, session_prefix
var createLua = redis.NewScript(luaHelpers + `
local now = tonumber(ARGV[10])
prune(KEYS[2], ARGV[11], now)
local evicted = evict(KEYS[2], ARGV[11], tonumber(ARGV[9]))
insert(KEYS[1], KEYS[2], KEYS[3], ARGV, tonumber(ARGV[8]))
return evicted
`)

// KEYS: old session, new session, index, seq
// ARGV: new sid, uid, rh, ca, lu, ea, md, ttl_ms, old sid, presented rh, now_ms
var rotateLua = redis.NewScript(luaHelpers + `
local now = tonumber(ARGV[11])
local f = redis.call("HMGET", KEYS[1], "uid", "rh", "ea", "md")
if not f[1] then
  redis.call("ZREM", KEYS[3], ARGV[9])
  return 0
end
if f[1] ~= ARGV[2] then
  return 0
end
redis.call("DEL", KEYS[1])
redis.call("ZREM", KEYS[3], ARGV[9])
if (not f[3]) or tonumber(f[3]) <= now then
  return 1
end
if f[2] ~= ARGV[10] then
  return 2
end
local md = ARGV[7]
if md == "" and f[4] then
  md = f[4]
end
insert(KEYS[2], KEYS[3], KEYS[4], {ARGV[1], ARGV[2], ARGV[3], ARGV[4], ARGV[5], ARGV[6], md}, tonumber(ARGV[8]))
return 3
`)

// KEYS: session; ARGV: sid, index_prefix
var deleteLua = redis.NewScript(`
local uid = redis.call("HGET", KEYS[1], "uid")
if not uid then
  return 0
end
redis.call("DEL", KEYS[1])
redis.call("ZREM", ARGV[2] .. uid, ARGV[1])
return 1
`)

// KEYS: index; ARGV: session_prefix, keep sid ("" keeps none)
var deleteAllLua = redis.NewScript(`
local removed = 0
local members = redis.call("ZRANGE", KEYS[1], 0, -1)
for _, id in ipairs(members) do
  if id ~= ARGV[2] then
    removed = removed + redis.call("DEL", ARGV[1] .. id)
    redis.call("ZREM", KEYS[1], id)
  end
end
return removed
`)

// KEYS: session; ARGV: now_ms, last_used_ms
var touchLua = redis.NewScript(`
local ea = redis.call("HGET", KEYS[1], "ea")
if not ea then
  return 0
end
if tonumber(ea) <= tonumber(ARGV[1]) then
  return -1
end
redis.call("HSET", KEYS[1], "lu", ARGV[2])
return 1
`)

// KEYS: session; ARGV: now_ms, new_ea_ms, ttl_ms, index_prefix
var extendLua = redis.NewScript(luaHelpers + `
local f = redis.call("HMGET", KEYS[1], "uid", "ea")
if not f[1] then
  return 0
end
if (not f[2]) or tonumber(f[2]) <= tonumber(ARGV[1]) then
  return -1
end
local ttl = tonumber(ARGV[3])
redis.call("HSET", KEYS[1], "ea", ARGV[2])
redis.call("PEXPIRE", KEYS[1], ttl)
extend_ttl(ARGV[4] .. f[1], ttl)
return 1
`)

// KEYS: index; ARGV: now_ms, session_prefix
var pruneLua = redis.NewScript(luaHelpers + `
return prune(KEYS[1], ARGV[2], tonumber(ARGV[1]))
`)

// Config configures a Store.
type Config struct {
	// Prefix namespaces every key. Defaults to "azs".
	Prefix string
	// MaxSessions caps concurrent sessions per user; the oldest is evicted on overflow.
	// Zero disables the cap.
	MaxSessions int
	// Now overrides the clock. Nil means time.Now.
	Now func() time.Time
}

// Store is the Redis-backed session registry. It is safe for concurrent use.
type Store struct {
	redis       redis.UniversalClient
	prefix      string
	maxSessions int
	now         func() time.Time
}

// NewStore returns a Store over client.
func NewStore(client redis.UniversalClient, cfg Config) *Store {
	if cfg.Prefix == "" {
		cfg.Prefix = "azs"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{
		redis:       client,
		prefix:      cfg.Prefix,
		maxSessions: cfg.MaxSessions,
		now:         cfg.Now,
	}
}

func (s *Store) sessionPrefix() string   { return s.prefix + ":s:" }
func (s *Store) indexPrefix() string     { return s.prefix + ":u:" }
func (s *Store) key(id string) string    { return s.sessionPrefix() + id }
func (s *Store) index(uid string) string { return s.indexPrefix() + uid }
func (s *Store) seq(uid string) string   { return s.prefix + ":q:" + uid }

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
}

func ms(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func encodeMetadata(m Metadata) (string, error) {
	if m.Kind() == MetadataNone {
		return "", nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// recordArgs renders rec in script argument order: sid, uid, rh, ca, lu, ea, md, ttl_ms.
func (s *Store) recordArgs(rec *Record, now time.Time) ([]interface{}, error) {
	if rec == nil || rec.ID == "" || rec.UserID == "" || rec.RefreshHash == "" {
		return nil, errors.New("session record requires id, user id and refresh hash")
	}
	ttl := rec.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return nil, errors.New("session record already expired")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.LastUsedAt.IsZero() {
		rec.LastUsedAt = rec.CreatedAt
	}
	md, err := encodeMetadata(rec.Metadata)
	if err != nil {
		return nil, err
	}
	return []interface{}{
		rec.ID, rec.UserID, rec.RefreshHash,
		ms(rec.CreatedAt), ms(rec.LastUsedAt), ms(rec.ExpiresAt), md,
		ttl.Milliseconds(),
	}, nil
}

// Create inserts rec, evicting the user's oldest sessions while the cap is reached.
// It returns the evicted session ids.
func (s *Store) Create(ctx context.Context, rec *Record) ([]string, error) {
	now := s.now()
	args, err := s.recordArgs(rec, now)
	if err != nil {
		return nil, err
	}
	args = append(args, s.maxSessions, now.UnixMilli(), s.sessionPrefix())

	res, err := createLua.Run(ctx, s.redis,
		[]string{s.key(rec.ID), s.index(rec.UserID), s.seq(rec.UserID)},
		args...,
	).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, unavailable(err)
	}
	return res, nil
}

// Rotate atomically replaces session oldID with next when presentedHash matches the stored
// refresh hash. next.UserID must be the owner of oldID. If next carries no metadata the
// old session's metadata is kept.
func (s *Store) Rotate(ctx context.Context, oldID, presentedHash string, next *Record) error {
	now := s.now()
	args, err := s.recordArgs(next, now)
	if err != nil {
		return err
	}
	args = append(args, oldID, presentedHash, now.UnixMilli())

	code, err := rotateLua.Run(ctx, s.redis,
		[]string{s.key(oldID), s.key(next.ID), s.index(next.UserID), s.seq(next.UserID)},
		args...,
	).Int64()
	if err != nil {
		return unavailable(err)
	}

	switch code {
	case rotateStatusRotated:
		return nil
	case rotateStatusNotFound:
		return ErrNotFound
	case rotateStatusExpired:
		return ErrExpired
	case rotateStatusMismatch:
		return ErrHashMismatch
	default:
		return fmt.Errorf("%w: unknown rotate status %d", ErrRedisUnavailable, code)
	}
}

// Get returns an unexpired session.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	rec, err := decodeRecord(id, fields)
	if err != nil {
		return nil, err
	}
	if !rec.Active(s.now()) {
		return nil, ErrNotFound
	}
	return rec, nil
}

// ListActive returns the user's unexpired sessions, oldest first.
func (s *Store) ListActive(ctx context.Context, userID string) ([]*Record, error) {
	ids, err := s.redis.ZRange(ctx, s.index(userID), 0, -1).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.redis.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HGetAll(ctx, s.key(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, unavailable(err)
	}

	now := s.now()
	out := make([]*Record, 0, len(ids))
	for i, cmd := range cmds {
		rec, err := decodeRecord(ids[i], cmd.Val())
		if err != nil {
			continue
		}
		if rec.UserID == userID && rec.Active(now) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Count returns the number of unexpired sessions for userID.
func (s *Store) Count(ctx context.Context, userID string) (int, error) {
	recs, err := s.ListActive(ctx, userID)
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

// Touch records activity on the session. It never changes ExpiresAt or the key TTL.
func (s *Store) Touch(ctx context.Context, id string) error {
	now := s.now()
	code, err := touchLua.Run(ctx, s.redis, []string{s.key(id)}, now.UnixMilli(), now.UnixMilli()).Int64()
	if err != nil {
		return unavailable(err)
	}
	if code == touchStatusNotFound || code == touchStatusExpired {
		return ErrNotFound
	}
	return nil
}

// Extend moves the session's expiry to now+ttl.
func (s *Store) Extend(ctx context.Context, id string, ttl time.Duration) (time.Time, error) {
	if ttl <= 0 {
		return time.Time{}, errors.New("extend requires positive ttl")
	}
	now := s.now()
	expiresAt := now.Add(ttl)
	code, err := extendLua.Run(ctx, s.redis, []string{s.key(id)},
		now.UnixMilli(), expiresAt.UnixMilli(), ttl.Milliseconds(), s.indexPrefix(),
	).Int64()
	if err != nil {
		return time.Time{}, unavailable(err)
	}
	if code == touchStatusNotFound || code == touchStatusExpired {
		return time.Time{}, ErrNotFound
	}
	return expiresAt, nil
}

// Delete removes one session. Deleting a missing session is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := deleteLua.Run(ctx, s.redis, []string{s.key(id)}, id, s.indexPrefix()).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

// DeleteAllForUser removes every session of userID and returns how many existed.
func (s *Store) DeleteAllForUser(ctx context.Context, userID string) (int, error) {
	return s.DeleteAllExcept(ctx, userID, "")
}

// DeleteAllExcept removes every session of userID other than keepID.
func (s *Store) DeleteAllExcept(ctx context.Context, userID, keepID string) (int, error) {
	n, err := deleteAllLua.Run(ctx, s.redis, []string{s.index(userID)}, s.sessionPrefix(), keepID).Int()
	if err != nil {
		return 0, unavailable(err)
	}
	return n, nil
}

// Sweep prunes dangling and expired members from every user index.
func (s *Store) Sweep(ctx context.Context) (int, error) {
	now := s.now().UnixMilli()
	var (
		cursor uint64
		total  int
	)
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, s.indexPrefix()+"*", 500).Result()
		if err != nil {
			return total, unavailable(err)
		}
		for _, k := range keys {
			n, err := pruneLua.Run(ctx, s.redis, []string{k}, now, s.sessionPrefix()).Int()
			if err != nil {
				return total, unavailable(err)
			}
			total += n
		}
		cursor = next
		if cursor == 0 {
			return total, nil
		}
	}
}

// Ping returns Redis availability and latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), unavailable(err)
	}
	return time.Since(start), nil
}

func decodeRecord(id string, fields map[string]string) (*Record, error) {
	if len(fields) == 0 || fields["uid"] == "" {
		return nil, ErrNotFound
	}
	parse := func(name string) (time.Time, error) {
		v, err := strconv.ParseInt(fields[name], 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("session %s: invalid %s", id, name)
		}
		return time.UnixMilli(v), nil
	}

	rec := &Record{ID: id, UserID: fields["uid"], RefreshHash: fields["rh"]}
	var err error
	if rec.CreatedAt, err = parse("ca"); err != nil {
		return nil, err
	}
	if rec.LastUsedAt, err = parse("lu"); err != nil {
		return nil, err
	}
	if rec.ExpiresAt, err = parse("ea"); err != nil {
		return nil, err
	}
	if md := fields["md"]; md != "" {
		if err := json.Unmarshal([]byte(md), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("session %s: %w", id, err)
		}
	}
	return rec, nil
}
