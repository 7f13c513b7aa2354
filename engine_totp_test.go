package azauth

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const rfcSecret = "JBSWY3DPEHPK3PXP"

func TestMFAScenarioBackupCodes(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	u := h.register(t, "alice@test.com", "alice")

	h.enableMFA(t, u.ID, rfcSecret)
	codes, err := h.engine.GenerateBackupCodes(ctx, u.ID, 10)
	require.NoError(t, err)
	require.Len(t, codes, 10)

	required, err := h.engine.RequireChallenge(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, required)

	ok, err := h.engine.ConsumeBackupCode(ctx, u.ID, codes[0])
	require.NoError(t, err)
	assert.True(t, ok)

	required, err = h.engine.RequireChallenge(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, required)

	remaining, err := h.engine.RemainingBackupCodes(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 9, remaining)
}

func TestBackupCodeFormatAndSingleUse(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	u := h.register(t, "alice@test.com", "alice")
	h.enableMFA(t, u.ID, rfcSecret)

	codes, err := h.engine.GenerateBackupCodes(ctx, u.ID, 0)
	require.NoError(t, err)
	require.Len(t, codes, h.engine.config.BackupCodes.Count)
	for _, c := range codes {
		assert.Regexp(t, `^[A-HJ-NP-Z2-9]{4}-[A-HJ-NP-Z2-9]{4}$`, c)
	}

	// Lowercase and without the hyphen is the same code.
	typed := strings.ToLower(strings.ReplaceAll(codes[1], "-", ""))
	ok, err := h.engine.ConsumeBackupCode(ctx, u.ID, typed)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.engine.ConsumeBackupCode(ctx, u.ID, codes[1])
	require.NoError(t, err)
	assert.False(t, ok)

	remaining, err := h.engine.RemainingBackupCodes(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, len(codes)-1, remaining)
}

func TestBackupCodeConcurrentConsumeOnce(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	u := h.register(t, "alice@test.com", "alice")
	h.enableMFA(t, u.ID, rfcSecret)
	codes, err := h.engine.GenerateBackupCodes(ctx, u.ID, 3)
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := h.engine.ConsumeBackupCode(ctx, u.ID, codes[0]); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestBackupCodeAttemptsLimited(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.BackupCodes.MaxAttempts = 2 })
	ctx := context.Background()
	u := h.register(t, "alice@test.com", "alice")
	h.enableMFA(t, u.ID, rfcSecret)
	codes, err := h.engine.GenerateBackupCodes(ctx, u.ID, 2)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		ok, err := h.engine.ConsumeBackupCode(ctx, u.ID, "AAAA-AAAA")
		require.NoError(t, err)
		assert.False(t, ok)
	}
	_, err = h.engine.ConsumeBackupCode(ctx, u.ID, codes[0])
	assert.ErrorIs(t, err, ErrBackupCodeRateLimited)
}

func TestEnrollThenVerify(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	u := h.register(t, "alice@test.com", "alice")

	assert.ErrorIs(t, h.engine.VerifyMFAEnrollment(ctx, u.ID, "123456"), ErrMFANotEnrolled)

	enrollment, err := h.engine.EnrollMFA(ctx, u.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, enrollment.Secret)
	assert.Contains(t, enrollment.URI, "otpauth://totp/")

	required, err := h.engine.RequireChallenge(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, required, "enrollment alone must not gate login")

	assert.ErrorIs(t, h.engine.VerifyMFAEnrollment(ctx, u.ID, "000000"), ErrMFAInvalid)

	code, err := h.engine.totp.Code(enrollment.Secret, h.clock.Now())
	require.NoError(t, err)
	require.NoError(t, h.engine.VerifyMFAEnrollment(ctx, u.ID, code))

	required, err = h.engine.RequireChallenge(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, required)

	_, err = h.engine.EnrollMFA(ctx, u.ID)
	assert.ErrorIs(t, err, ErrMFAAlreadyEnabled)
}

func TestLoginRequiresSecondFactor(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	u := h.register(t, "alice@test.com", "alice")
	h.enableMFA(t, u.ID, rfcSecret)

	_, err := h.engine.Login(ctx, LoginRequest{Identifier: "alice", Password: testPassword})
	require.ErrorIs(t, err, ErrMFARequired)
	n, err := h.engine.ActiveSessionCount(ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = h.engine.Login(ctx, LoginRequest{Identifier: "alice", Password: testPassword, TOTPCode: "000000"})
	assert.ErrorIs(t, err, ErrMFAInvalid)

	h.clock.Advance(30 * time.Second)
	code, err := h.engine.totp.Code(rfcSecret, h.clock.Now())
	require.NoError(t, err)
	pair, err := h.engine.Login(ctx, LoginRequest{Identifier: "alice", Password: testPassword, TOTPCode: code})
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)

	// The same code cannot be replayed inside its window.
	_, err = h.engine.Login(ctx, LoginRequest{Identifier: "alice", Password: testPassword, TOTPCode: code})
	assert.ErrorIs(t, err, ErrMFAInvalid)
	assert.Equal(t, uint64(1), h.engine.metrics.Value(MetricMFAReplay))
}

func TestLoginWithBackupCode(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	u := h.register(t, "alice@test.com", "alice")
	h.enableMFA(t, u.ID, rfcSecret)
	codes, err := h.engine.GenerateBackupCodes(ctx, u.ID, 2)
	require.NoError(t, err)

	_, err = h.engine.Login(ctx, LoginRequest{Identifier: "alice", Password: testPassword, BackupCode: codes[0]})
	require.NoError(t, err)
	_, err = h.engine.Login(ctx, LoginRequest{Identifier: "alice", Password: testPassword, BackupCode: codes[0]})
	assert.ErrorIs(t, err, ErrBackupCodeInvalid)
}

func TestTOTPAcceptsAdjacentStepOnly(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	u := h.register(t, "alice@test.com", "alice")
	h.enableMFA(t, u.ID, rfcSecret)

	h.clock.Advance(5 * time.Minute)
	prev, err := h.engine.totp.Code(rfcSecret, h.clock.Now().Add(-30*time.Second))
	require.NoError(t, err)
	require.NoError(t, h.engine.VerifyTOTP(ctx, u.ID, prev))

	old, err := h.engine.totp.Code(rfcSecret, h.clock.Now().Add(-2*time.Minute))
	require.NoError(t, err)
	assert.ErrorIs(t, h.engine.VerifyTOTP(ctx, u.ID, old), ErrMFAInvalid)
}

func TestTOTPAttemptsLimited(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.TOTP.MaxAttempts = 2 })
	ctx := context.Background()
	u := h.register(t, "alice@test.com", "alice")
	h.enableMFA(t, u.ID, rfcSecret)

	assert.ErrorIs(t, h.engine.VerifyTOTP(ctx, u.ID, "000000"), ErrMFAInvalid)
	assert.ErrorIs(t, h.engine.VerifyTOTP(ctx, u.ID, "000000"), ErrMFAInvalid)
	assert.ErrorIs(t, h.engine.VerifyTOTP(ctx, u.ID, "000000"), ErrMFARateLimited)
}

func TestDisableMFA(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	u := h.register(t, "alice@test.com", "alice")
	h.enableMFA(t, u.ID, rfcSecret)
	_, err := h.engine.GenerateBackupCodes(ctx, u.ID, 10)
	require.NoError(t, err)

	assert.ErrorIs(t, h.engine.DisableMFA(ctx, u.ID, "Wrong123!"), ErrInvalidCredentials)
	required, err := h.engine.RequireChallenge(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, required)

	require.NoError(t, h.engine.DisableMFA(ctx, u.ID, testPassword))
	required, err = h.engine.RequireChallenge(ctx, u.ID)
	require.NoError(t, err)
	assert.False(t, required)

	_, err = h.engine.RemainingBackupCodes(ctx, u.ID)
	assert.ErrorIs(t, err, ErrMFANotEnrolled)
	h.login(t, "alice")
}
