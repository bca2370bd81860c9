package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opinion-poll/internal/domain"
)

func TestSignupSigninMe(t *testing.T) {
	f := newFixture(t, defaultOpts())
	ctx := context.Background()

	sess, err := f.auth.Signup(ctx, "alice", "hunter22")
	require.NoError(t, err)
	assert.NotEmpty(t, sess.Token)
	assert.Equal(t, domain.RoleUser, sess.User.Role)

	_, err = f.auth.Signup(ctx, "alice", "another1")
	assert.ErrorIs(t, err, domain.ErrUsernameTaken)

	_, err = f.auth.Signin(ctx, "alice", "wrong-pw")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	_, err = f.auth.Signin(ctx, "nobody", "whatever")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)

	sess, err = f.auth.Signin(ctx, "alice", "hunter22")
	require.NoError(t, err)
	claims, err := f.jwt.Parse(sess.Token)
	require.NoError(t, err)
	uid, err := claims.UserID()
	require.NoError(t, err)

	me, err := f.auth.Me(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, "alice", me.Username)

	_, err = f.auth.Me(ctx, 999999)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func TestSignupRules(t *testing.T) {
	f := newFixture(t, defaultOpts())
	ctx := context.Background()

	_, err := f.auth.Signup(ctx, "al", "hunter22")
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	_, err = f.auth.Signup(ctx, "alice", "123")
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	_, err = f.auth.Signup(ctx, "anonymous_1234abcd", "hunter22")
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	// anonymous rows have no password and cannot sign in
	anon := f.anon(t, "10.0.0.1")
	_, err = f.auth.Signin(ctx, anon.Username, "")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestAdminRoleFromConfig(t *testing.T) {
	f := newFixture(t, defaultOpts())
	sess, err := f.auth.Signup(context.Background(), "root", "toortoor")
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, sess.User.Role)
	claims, err := f.jwt.Parse(sess.Token)
	require.NoError(t, err)
	assert.Equal(t, domain.RoleAdmin, claims.Role)
}
