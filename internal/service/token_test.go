package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenCodec_SignVerifyRoundtrip(t *testing.T) {
	t.Parallel()

	codec := NewTokenCodec([]byte("access-secret"), 15*time.Minute)
	now := time.Now()

	token, expiresAt, err := codec.Sign(42, now)
	require.NoError(t, err)
	assert.WithinDuration(t, now.Add(15*time.Minute), expiresAt, time.Second)

	userID, err := codec.Verify(token, now)
	require.NoError(t, err)
	assert.Equal(t, int64(42), userID)
}

func TestTokenCodec_WrongSecretNeverVerifies(t *testing.T) {
	t.Parallel()

	signer := NewTokenCodec([]byte("right-secret"), time.Hour)
	verifier := NewTokenCodec([]byte("wrong-secret"), time.Hour)
	now := time.Now()

	token, _, err := signer.Sign(7, now)
	require.NoError(t, err)

	_, err = verifier.Verify(token, now)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestTokenCodec_AccessAndRefreshSecretsAreIndependent(t *testing.T) {
	t.Parallel()

	access := NewTokenCodec([]byte("access-secret"), 15*time.Minute)
	refresh := NewTokenCodec([]byte("refresh-secret"), 24*time.Hour)
	now := time.Now()

	accessToken, _, err := access.Sign(1, now)
	require.NoError(t, err)
	refreshToken, _, err := refresh.Sign(1, now)
	require.NoError(t, err)

	_, err = refresh.Verify(accessToken, now)
	assert.ErrorIs(t, err, ErrBadSignature)
	_, err = access.Verify(refreshToken, now)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestTokenCodec_Expired(t *testing.T) {
	t.Parallel()

	codec := NewTokenCodec([]byte("secret"), time.Minute)
	now := time.Now()

	token, expiresAt, err := codec.Sign(9, now)
	require.NoError(t, err)

	_, err = codec.Verify(token, expiresAt.Add(time.Second))
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestTokenCodec_ExpiryEqualsNowFails(t *testing.T) {
	t.Parallel()

	codec := NewTokenCodec([]byte("secret"), time.Minute)
	now := time.Now().Truncate(time.Second)

	token, expiresAt, err := codec.Sign(9, now)
	require.NoError(t, err)

	// Strictly less-than: the boundary instant is already expired.
	_, err = codec.Verify(token, expiresAt)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestTokenCodec_Malformed(t *testing.T) {
	t.Parallel()

	codec := NewTokenCodec([]byte("secret"), time.Minute)

	for _, token := range []string{"", "garbage", "a.b.c", "not.a-jwt"} {
		_, err := codec.Verify(token, time.Now())
		assert.ErrorIs(t, err, ErrTokenMalformed, "token %q", token)
	}
}

func TestTokenCodec_DistinctTokensForSameSubject(t *testing.T) {
	t.Parallel()

	codec := NewTokenCodec([]byte("secret"), time.Hour)
	now := time.Now()

	first, _, err := codec.Sign(5, now)
	require.NoError(t, err)
	second, _, err := codec.Sign(5, now)
	require.NoError(t, err)

	// JTI keeps same-subject same-instant tokens unique.
	assert.NotEqual(t, first, second)
}
