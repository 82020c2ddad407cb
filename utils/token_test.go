package utils

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	tok, err := GenerateToken("s3cret", "ops", "sync", time.Hour, time.Now())
	require.NoError(t, err)

	claims, err := ParseToken("s3cret", tok)
	require.NoError(t, err)
	assert.Equal(t, "ops", claims.Subject)
	assert.Equal(t, "sync", claims.Scope)
}

func TestTokenRejected(t *testing.T) {
	tok, err := GenerateToken("s3cret", "ops", "sync", time.Hour, time.Now())
	require.NoError(t, err)

	_, err = ParseToken("other", tok)
	assert.True(t, errors.Is(err, ErrTokenInvalid))

	expired, err := GenerateToken("s3cret", "ops", "sync", time.Hour, time.Now().Add(-2*time.Hour))
	require.NoError(t, err)
	_, err = ParseToken("s3cret", expired)
	assert.Equal(t, ErrTokenExpired, err)

	_, err = GenerateToken("", "ops", "sync", time.Hour, time.Now())
	assert.Error(t, err)
}

func TestCheckKey(t *testing.T) {
	hash, err := HashKey("k-123")
	require.NoError(t, err)
	assert.True(t, CheckKey(hash, "k-123"))
	assert.False(t, CheckKey(hash, "k-124"))
	assert.False(t, CheckKey("", "k-123"))
}
