package password

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fastConfig returns the cheap Argon2 parameters shared by the tests.
func fastConfig() Config {
	return Config{Memory: 8192, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
}

func testArgon(t *testing.T, mutate func(*Config)) *Argon2 {
	t.Helper()
	cfg := Config{Memory: 8192, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	if mutate != nil {
		mutate(&cfg)
	}
	a, err := NewArgon2(cfg)
	require.NoError(t, err)
	return a
}

func TestArgon2RoundTrip(t *testing.T) {
	a := testArgon(t, nil)

	hash, err := a.Hash("Alpha123!")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=8192,t=1,p=1$"), hash)
	assert.True(t, a.Handles(hash))

	ok, err := a.Verify("Alpha123!", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = a.Verify("Alpha123?", hash)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestArgon2NeedsUpgrade(t *testing.T) {
	weak := testArgon(t, nil)
	hash, err := weak.Hash("Alpha123!")
	require.NoError(t, err)

	up, err := weak.NeedsUpgrade(hash)
	require.NoError(t, err)
	assert.False(t, up)

	strong := testArgon(t, func(c *Config) { c.Time = 2 })
	up, err = strong.NeedsUpgrade(hash)
	require.NoError(t, err)
	assert.True(t, up)

	// A stronger stored hash still verifies under a weaker config.
	strongHash, err := strong.Hash("Alpha123!")
	require.NoError(t, err)
	ok, err := weak.Verify("Alpha123!", strongHash)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestArgon2RejectsMalformedHashes(t *testing.T) {
	a := testArgon(t, nil)
	hash, err := a.Hash("Alpha123!")
	require.NoError(t, err)

	cases := []struct {
		in   string
		want error
	}{
		{"plain text", ErrUnsupportedHash},
		{"$2a$10$abc", ErrUnsupportedHash},
		{"$argon2id$v=19", ErrMalformedHash},
		{strings.Replace(hash, "v=19", "v=18", 1), ErrUnsupportedHash},
		{strings.Replace(hash, "m=8192", "m=1024", 1), ErrMalformedHash},
		{strings.Replace(hash, "m=8192,t=1", "m=8192,x=1", 1), ErrMalformedHash},
	}
	for _, tc := range cases {
		_, err := a.Verify("Alpha123!", tc.in)
		assert.ErrorIs(t, err, tc.want, tc.in)
	}
}

func TestArgon2PasswordLengthBounds(t *testing.T) {
	a := testArgon(t, func(c *Config) { c.MaxPasswordBytes = 64 })

	_, err := a.Hash("")
	assert.ErrorIs(t, err, ErrEmptyPassword)

	_, err = a.Hash(strings.Repeat("a", 65))
	assert.ErrorIs(t, err, ErrPasswordTooLong)

	hash, err := a.Hash(strings.Repeat("b", 64))
	require.NoError(t, err)
	_, err = a.Verify(strings.Repeat("b", 65), hash)
	assert.ErrorIs(t, err, ErrPasswordTooLong)

	def := testArgon(t, nil)
	_, err = def.Hash(strings.Repeat("c", DefaultMaxPasswordBytes+1))
	assert.ErrorIs(t, err, ErrPasswordTooLong)
}

func TestNewArgon2ValidatesConfig(t *testing.T) {
	for _, cfg := range []Config{
		{Memory: 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32},
		{Memory: 8192, Time: 0, Parallelism: 1, SaltLength: 16, KeyLength: 32},
		{Memory: 8192, Time: 1, Parallelism: 0, SaltLength: 16, KeyLength: 32},
		{Memory: 8192, Time: 1, Parallelism: 1, SaltLength: 8, KeyLength: 32},
		{Memory: 8192, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 8},
	} {
		_, err := NewArgon2(cfg)
		assert.Error(t, err, "%+v", cfg)
	}
}
