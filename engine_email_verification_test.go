package azauth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmailVerificationFlow(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.EmailVerification.LinkBase = "https://azora.example/verify?token=" })
	ctx := context.Background()
	u := h.register(t, "alice@test.com", "alice")

	token, err := h.engine.RequestEmailVerification(ctx, u.ID)
	require.NoError(t, err)
	h.engine.mail.Wait()

	msgs := h.mail.Messages()
	require.Len(t, msgs, 1)
	assert.True(t, strings.Contains(msgs[0].Text, "https://azora.example/verify?token="+token))

	require.NoError(t, h.engine.ConfirmEmailVerification(ctx, token))
	stored, err := h.engine.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, stored.EmailVerified)

	assert.ErrorIs(t, h.engine.ConfirmEmailVerification(ctx, token), ErrVerificationTokenNotFound)
	_, err = h.engine.RequestEmailVerification(ctx, u.ID)
	assert.ErrorIs(t, err, ErrEmailAlreadyVerified)
}

func TestEmailVerificationExpiry(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	u := h.register(t, "alice@test.com", "alice")

	token, err := h.engine.RequestEmailVerification(ctx, u.ID)
	require.NoError(t, err)
	h.clock.Advance(25 * time.Hour)
	assert.ErrorIs(t, h.engine.ConfirmEmailVerification(ctx, token), ErrVerificationTokenExpired)
}

func TestEmailVerificationLatestTokenWins(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	u := h.register(t, "alice@test.com", "alice")

	first, err := h.engine.RequestEmailVerification(ctx, u.ID)
	require.NoError(t, err)
	h.clock.Advance(time.Second)
	second, err := h.engine.RequestEmailVerification(ctx, u.ID)
	require.NoError(t, err)

	assert.ErrorIs(t, h.engine.ConfirmEmailVerification(ctx, first), ErrVerificationTokenNotFound)
	assert.NoError(t, h.engine.ConfirmEmailVerification(ctx, second))
}

func TestEmailVerificationResendIsSilent(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.register(t, "alice@test.com", "alice")

	assert.NoError(t, h.engine.RequestEmailVerificationByEmail(ctx, "ghost@test.com"))
	assert.NoError(t, h.engine.RequestEmailVerificationByEmail(ctx, "alice@test.com"))
	h.engine.mail.Wait()
	assert.Len(t, h.mail.Messages(), 1)
}
