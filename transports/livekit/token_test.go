package livekit

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIssuer(t *testing.T) *TokenIssuer {
	t.Helper()
	issuer, err := NewTokenIssuer(Config{APIKey: "APIkey", APISecret: "a-secret-long-enough-for-hs256-signing"})
	require.NoError(t, err)
	return issuer
}

func TestTokenIssuer_IssueAndVerify(t *testing.T) {
	issuer := testIssuer(t)

	token, grant, err := issuer.Issue("ann", "room-1")
	require.NoError(t, err)
	assert.Equal(t, Grant{Identity: "ann", Room: "room-1"}, grant)

	got, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, grant, got)
}

func TestTokenIssuer_GeneratesRoomAndIdentity(t *testing.T) {
	issuer := testIssuer(t)

	token, grant, err := issuer.Issue("", "")
	require.NoError(t, err)
	assert.Contains(t, grant.Room, "interview-")
	assert.Contains(t, grant.Identity, "guest-")

	got, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, grant, got)
}

func TestTokenIssuer_RejectsForeignTokens(t *testing.T) {
	issuer := testIssuer(t)

	other, err := NewTokenIssuer(Config{APIKey: "APIkey", APISecret: "another-secret-long-enough-for-hs256"})
	require.NoError(t, err)
	token, _, err := other.Issue("ann", "room-1")
	require.NoError(t, err)
	_, err = issuer.Verify(token)
	assert.Error(t, err)

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":   "APIkey",
		"sub":   "ann",
		"exp":   time.Now().Add(-time.Minute).Unix(),
		"video": map[string]any{"room": "room-1"},
	})
	signed, err := expired.SignedString([]byte("a-secret-long-enough-for-hs256-signing"))
	require.NoError(t, err)
	_, err = issuer.Verify(signed)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)

	noRoom := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss": "APIkey",
		"sub": "ann",
		"exp": time.Now().Add(time.Minute).Unix(),
	})
	signed, err = noRoom.SignedString([]byte("a-secret-long-enough-for-hs256-signing"))
	require.NoError(t, err)
	_, err = issuer.Verify(signed)
	assert.ErrorIs(t, err, ErrMissingRoom)
}

func TestNewTokenIssuer_RequiresCredentials(t *testing.T) {
	_, err := NewTokenIssuer(Config{APIKey: "k"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}
