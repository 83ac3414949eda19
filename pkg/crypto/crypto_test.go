package crypto

import (
	"strings"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestPasswords(t *testing.T) {
	p, err := NewPasswords(bcrypt.MinCost)
	require.NoError(t, err)

	hash, err := p.Hash("matkhau123")
	require.NoError(t, err)
	assert.NotEqual(t, "matkhau123", hash)

	assert.NoError(t, p.Verify("matkhau123", hash))
	assert.ErrorIs(t, p.Verify("matkhau124", hash), ErrPasswordMismatch)
	assert.False(t, p.Outdated(hash))

	err = p.Verify("matkhau123", "not-a-hash")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrPasswordMismatch)
}

func TestPasswordsRejectLongInput(t *testing.T) {
	p, err := NewPasswords(bcrypt.MinCost)
	require.NoError(t, err)

	_, err = p.Hash(strings.Repeat("a", MaxPasswordBytes+1))
	assert.ErrorIs(t, err, ErrPasswordTooLong)

	_, err = p.Hash(strings.Repeat("a", MaxPasswordBytes))
	assert.NoError(t, err)
}

func TestPasswordsCost(t *testing.T) {
	p, err := NewPasswords(0)
	require.NoError(t, err)
	assert.Equal(t, DefaultPasswordCost, p.Cost())

	_, err = NewPasswords(bcrypt.MaxCost + 1)
	assert.Error(t, err)

	cheap, err := NewPasswords(bcrypt.MinCost)
	require.NoError(t, err)
	hash, err := cheap.Hash("matkhau123")
	require.NoError(t, err)

	stronger, err := NewPasswords(bcrypt.MinCost + 1)
	require.NoError(t, err)
	assert.True(t, stronger.Outdated(hash))
	assert.NoError(t, stronger.Verify("matkhau123", hash), "older hashes still verify")
	assert.True(t, stronger.Outdated("garbage"))
}

func TestGenerateToken(t *testing.T) {
	a, err := GenerateToken()
	require.NoError(t, err)
	b, err := GenerateToken()
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
	assert.Len(t, a, 43)
	assert.NotContains(t, a, "=")
}

func TestHashTokenIsStable(t *testing.T) {
	assert.Equal(t, HashToken("abc"), HashToken("abc"))
	assert.NotEqual(t, HashToken("abc"), HashToken("abd"))
	assert.Len(t, HashToken("abc"), 64)
}

func TestNewIDIsULID(t *testing.T) {
	first := NewID()
	second := NewID()

	_, err := ulid.ParseStrict(first)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}
