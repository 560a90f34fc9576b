package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestVerify_RoundTrip(t *testing.T) {
	v := NewVerifier("test-secret-change-me")

	token, err := v.Sign("user-1", "alice", time.Hour)
	require.NoError(t, err)

	claims, err := v.Verify(token)
	require.NoError(t, err)
	require.Equal(t, "user-1", claims.Subject)
	require.Equal(t, "alice", claims.Username)
}

func TestVerify_Missing(t *testing.T) {
	v := NewVerifier("test-secret-change-me")

	_, err := v.Verify("")
	require.ErrorIs(t, err, ErrTokenMissing)

	_, err = v.Verify("   ")
	require.ErrorIs(t, err, ErrTokenMissing)
}

func TestVerify_Malformed(t *testing.T) {
	v := NewVerifier("test-secret-change-me")

	_, err := v.Verify("not-a-token")
	require.ErrorIs(t, err, ErrTokenMalformed)

	// Valid shape, wrong secret.
	other := NewVerifier("a-different-secret")
	token, err := other.Sign("user-1", "alice", time.Hour)
	require.NoError(t, err)

	_, err = v.Verify(token)
	require.ErrorIs(t, err, ErrTokenMalformed)
	require.False(t, errors.Is(err, ErrTokenExpired))
}

func TestVerify_Expired(t *testing.T) {
	v := NewVerifier("test-secret-change-me")

	token, err := v.Sign("user-1", "alice", -time.Minute)
	require.NoError(t, err)

	_, err = v.Verify(token)
	require.ErrorIs(t, err, ErrTokenExpired)
	require.False(t, errors.Is(err, ErrTokenMalformed))
}

func TestVerify_EmptySubject(t *testing.T) {
	v := NewVerifier("test-secret-change-me")

	token, err := v.Sign("", "alice", time.Hour)
	require.NoError(t, err)

	_, err = v.Verify(token)
	require.ErrorIs(t, err, ErrTokenMalformed)
}
