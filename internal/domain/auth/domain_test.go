package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRefreshTokenLifecycle(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tok := NewRefreshToken(7, "h1", now, 7*24*time.Hour)

	require.True(t, tok.Active(now))
	require.False(t, tok.Expired(now.Add(7*24*time.Hour-time.Second)))
	require.True(t, tok.Expired(now.Add(7*24*time.Hour)))

	require.True(t, tok.MarkRotated("h2", now.Add(time.Minute)))
	require.NotNil(t, tok.SuccessorHash)
	assert.Equal(t, "h2", *tok.SuccessorHash)
	assert.Equal(t, ReasonRotation, tok.RevokedReason)

	require.False(t, tok.Revoke(now.Add(2*time.Minute), ReasonLogout), "revocation happens once")
	assert.Equal(t, ReasonRotation, tok.RevokedReason)
}

func TestRotatedWithin(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	tok := NewRefreshToken(1, "h", now, time.Hour)
	tok.MarkRotated("n", now)

	assert.False(t, tok.RotatedWithin(now.Add(time.Second), 0))
	assert.True(t, tok.RotatedWithin(now.Add(time.Second), 5*time.Second))
	assert.False(t, tok.RotatedWithin(now.Add(6*time.Second), 5*time.Second))

	other := NewRefreshToken(1, "x", now, time.Hour)
	other.Revoke(now, ReasonLogout)
	assert.False(t, other.RotatedWithin(now, time.Minute), "only rotation links count")
}

func TestParseSessionQuery(t *testing.T) {
	q, err := ParseSessionQuery("", "")
	require.NoError(t, err)
	assert.Equal(t, FilterActive, q.Filter)
	assert.Equal(t, SortCreatedDesc, q.Sort)

	q, err = ParseSessionQuery("revoked", "expires_at")
	require.NoError(t, err)
	assert.Equal(t, FilterRevoked, q.Filter)
	assert.Equal(t, SortExpiresAsc, q.Sort)

	_, err = ParseSessionQuery("expired; drop table", "")
	require.Error(t, err)
	_, err = ParseSessionQuery("all", "user_id")
	require.Error(t, err)
}

func TestIsCredentialFailure(t *testing.T) {
	assert.True(t, IsCredentialFailure(ErrExpiredCredential))
	assert.True(t, IsCredentialFailure(ErrReusedCredential))
	assert.False(t, IsCredentialFailure(ErrAntiForgery))
}
