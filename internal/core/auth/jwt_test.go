package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newJWTer() *JWTer {
	return &JWTer{Secret: []byte("k"), Issuer: "opinion-poll", TTL: time.Hour, AnonTTL: 48 * time.Hour}
}

func TestIssueParseRoundTrip(t *testing.T) {
	j := newJWTer()
	tok, err := j.Issue("42", "user")
	require.NoError(t, err)

	c, err := j.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, "user", c.Role)
	assert.Equal(t, "42", c.Subject)
	uid, err := c.UserID()
	require.NoError(t, err)
	assert.Equal(t, uint64(42), uid)
	assert.WithinDuration(t, time.Now().Add(time.Hour), c.ExpiresAt.Time, 5*time.Second)
}

func TestAnonymousTokensUseAnonTTL(t *testing.T) {
	j := newJWTer()
	tok, err := j.Issue("7", "anonymous")
	require.NoError(t, err)
	c, err := j.Parse(tok)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(48*time.Hour), c.ExpiresAt.Time, 5*time.Second)
}

func TestParseRejects(t *testing.T) {
	j := newJWTer()
	tok, err := j.Issue("1", "user")
	require.NoError(t, err)

	other := newJWTer()
	other.Secret = []byte("different")
	_, err = other.Parse(tok)
	assert.ErrorIs(t, err, ErrInvalidToken, "wrong secret")

	other = newJWTer()
	other.Issuer = "someone-else"
	_, err = other.Parse(tok)
	assert.Error(t, err, "wrong issuer")

	expired := newJWTer()
	expired.TTL = -2 * time.Minute
	old, err := expired.Issue("1", "user")
	require.NoError(t, err)
	_, err = j.Parse(old)
	assert.Error(t, err, "expired beyond leeway")

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UID: "1", Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "opinion-poll"}}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = j.Parse(none)
	assert.ErrorIs(t, err, ErrInvalidToken, "alg none")
}

func TestParseRequiresExpiry(t *testing.T) {
	j := newJWTer()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{UID: "1", Role: "user",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: j.Issuer}}).SignedString(j.Secret)
	require.NoError(t, err)
	_, err = j.Parse(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAnonymousClaims(t *testing.T) {
	j := newJWTer()
	tok, err := j.Issue("9", RoleAnonymous)
	require.NoError(t, err)
	c, err := j.Parse(tok)
	require.NoError(t, err)
	assert.True(t, c.Anonymous())
}

func TestUserIDRejectsNonNumeric(t *testing.T) {
	_, err := (&Claims{UID: "abc"}).UserID()
	assert.Error(t, err)
}
