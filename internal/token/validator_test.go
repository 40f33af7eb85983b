package token_test

import (
	"testing"
	"time"

	"github.com/hbomb79/Medialink/internal/token"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const upstream = "https://media.example.net/v/abc123/720p.mp4?sig=xyz"

func TestRedeem_ExpiryBoundary(t *testing.T) {
	codec := newCodec(t)
	validator := token.NewValidator(codec)

	issued := time.Now()
	tok, expiresAt, err := codec.IssueAt(upstream, issued, 10*time.Minute)
	require.NoError(t, err)

	ref, err := validator.Redeem(tok, issued)
	require.NoError(t, err)
	assert.Equal(t, upstream, ref)

	ref, err = validator.Redeem(tok, expiresAt.Add(-time.Nanosecond))
	require.NoError(t, err)
	assert.Equal(t, upstream, ref)

	_, err = validator.Redeem(tok, expiresAt)
	assert.ErrorIs(t, err, token.ErrExpired)

	_, err = validator.Redeem(tok, expiresAt.Add(time.Hour))
	assert.ErrorIs(t, err, token.ErrExpired)
}

func TestRedeem_IsIdempotent(t *testing.T) {
	codec := newCodec(t)
	validator := token.NewValidator(codec)

	tok, err := codec.Issue(upstream, time.Minute)
	require.NoError(t, err)

	first, err := validator.Redeem(tok, time.Now())
	require.NoError(t, err)
	second, err := validator.Redeem(tok, time.Now())
	require.NoError(t, err)

	assert.Equal(t, upstream, first)
	assert.Equal(t, first, second)
}

func TestRedeem_PropagatesDecodeErrors(t *testing.T) {
	codec := newCodec(t)
	validator := token.NewValidator(codec)

	_, err := validator.Redeem("nonsense", time.Now())
	assert.ErrorIs(t, err, token.ErrMalformed)

	other, err := token.NewCodec([]byte("some-other-secret"))
	require.NoError(t, err)
	foreign, err := other.Issue(upstream, time.Minute)
	require.NoError(t, err)

	_, err = validator.Redeem(foreign, time.Now())
	assert.ErrorIs(t, err, token.ErrBadSignature)
}

// A tampered token must be rejected as invalid even when it has also
// expired; signature checks take priority over expiry.
func TestRedeem_SignatureCheckedBeforeExpiry(t *testing.T) {
	other, err := token.NewCodec([]byte("some-other-secret"))
	require.NoError(t, err)
	foreign, _, err := other.IssueAt(upstream, time.Now().Add(-time.Hour), time.Minute)
	require.NoError(t, err)

	_, err = token.NewValidator(newCodec(t)).Redeem(foreign, time.Now())
	assert.ErrorIs(t, err, token.ErrBadSignature)
	assert.NotErrorIs(t, err, token.ErrExpired)
}
