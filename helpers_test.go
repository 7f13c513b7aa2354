package azauth

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/azora-os/azauth/credentials"
	"github.com/azora-os/azauth/notify"
)

const testPassword = "Alpha123!"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().Truncate(time.Second)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type mailbox struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (m *mailbox) Send(_ context.Context, msg notify.Message) error {
	m.mu.Lock()
	m.msgs = append(m.msgs, msg)
	m.mu.Unlock()
	return nil
}

func (m *mailbox) Messages() []notify.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]notify.Message(nil), m.msgs...)
}

type harness struct {
	engine *Engine
	mr     *miniredis.Miniredis
	redis  *redis.Client
	users  *credentials.Memory
	clock  *testClock
	mail   *mailbox
	sink   *chanSink
}

type chanSink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (s *chanSink) Emit(_ context.Context, ev AuditEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *chanSink) Types() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Type)
	}
	return out
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.AccessSecret = []byte(strings.Repeat("a", 32))
	cfg.JWT.RefreshSecret = []byte(strings.Repeat("r", 32))
	cfg.JWT.ActionSecret = []byte(strings.Repeat("x", 32))
	cfg.Password.Memory = 8192
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.EmailVerification.SendOnRegister = false
	cfg.Audit.Enabled = true
	cfg.Audit.DropIfFull = false
	return cfg
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	h := &harness{
		mr:    mr,
		redis: rdb,
		users: credentials.NewMemory(),
		clock: newTestClock(),
		mail:  &mailbox{},
		sink:  &chanSink{},
	}
	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithCredentialStore(h.users).
		WithEmailSender(h.mail).
		WithAuditSink(h.sink).
		WithClock(h.clock.Now).
		Build()
	require.NoError(t, err)
	t.Cleanup(engine.Close)
	h.engine = engine
	return h
}

func (h *harness) register(t *testing.T, email, username string) *User {
	t.Helper()
	user, err := h.engine.Register(context.Background(), RegisterRequest{
		Email:    email,
		Username: username,
		Password: testPassword,
	})
	require.NoError(t, err)
	return user
}

func (h *harness) login(t *testing.T, identifier string) *TokenPair {
	t.Helper()
	pair, err := h.engine.Login(context.Background(), LoginRequest{Identifier: identifier, Password: testPassword})
	require.NoError(t, err)
	return pair
}

// enableMFA enrolls userID with secret and confirms it with the current code.
func (h *harness) enableMFA(t *testing.T, userID, secret string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.users.SaveMFA(ctx, &MFASettings{UserID: userID, Secret: secret, LastUsedCounter: -1}))
	code, err := h.engine.totp.Code(secret, h.clock.Now())
	require.NoError(t, err)
	require.NoError(t, h.engine.VerifyMFAEnrollment(ctx, userID, code))
}

// flushAudit drains the dispatcher so sink assertions see every event.
func (h *harness) flushAudit() {
	h.engine.audit.Close()
}
