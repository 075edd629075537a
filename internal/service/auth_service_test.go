package service

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"liftmates/internal/store"
)

func newAuthFixture(t *testing.T) (*AuthService, *fakeUserRepo) {
	t.Helper()
	st := store.NewMemory()
	t.Cleanup(func() { _ = st.Close() })
	users := newFakeUserRepo()
	social := NewSocialService(st, users)
	return NewAuthService(users, social, "test-secret"), users
}

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	auth, _ := newAuthFixture(t)

	reg, err := auth.Register(ctx, "Alice", "hunter22", "Alice L")
	require.NoError(t, err)
	require.NotEmpty(t, reg.Token)
	require.Equal(t, "alice", reg.User.Username)
	require.Equal(t, "Alice L", reg.User.DisplayName)

	login, err := auth.Login(ctx, "alice", "hunter22")
	require.NoError(t, err)
	require.Equal(t, reg.User.ID, login.User.ID)

	claims, err := auth.ValidateToken(login.Token)
	require.NoError(t, err)
	require.Equal(t, reg.User.ID, claims.UserID)
}

func TestRegisterAssignsFullUUID(t *testing.T) {
	ctx := context.Background()
	auth, _ := newAuthFixture(t)

	a, err := auth.Register(ctx, "alice", "pw", "")
	require.NoError(t, err)
	b, err := auth.Register(ctx, "bob", "pw", "")
	require.NoError(t, err)

	for _, id := range []string{a.User.ID, b.User.ID} {
		require.True(t, strings.HasPrefix(id, "u_"))
		_, err := uuid.Parse(strings.TrimPrefix(id, "u_"))
		require.NoError(t, err, "user id carries an untruncated uuid")
	}
	require.NotEqual(t, a.User.ID, b.User.ID)
}

func TestRegisterDuplicateUsername(t *testing.T) {
	ctx := context.Background()
	auth, _ := newAuthFixture(t)

	_, err := auth.Register(ctx, "alice", "pw1", "")
	require.NoError(t, err)

	_, err = auth.Register(ctx, "ALICE", "pw2", "")
	require.ErrorIs(t, err, ErrUsernameTaken, "claims are case-insensitive")
}

func TestRegisterInvalidUsername(t *testing.T) {
	ctx := context.Background()
	auth, _ := newAuthFixture(t)

	_, err := auth.Register(ctx, "no spaces allowed", "pw", "")
	require.ErrorIs(t, err, ErrUsernameInvalid)
}

func TestLoginBadCredentials(t *testing.T) {
	ctx := context.Background()
	auth, _ := newAuthFixture(t)

	_, err := auth.Register(ctx, "alice", "hunter22", "")
	require.NoError(t, err)

	_, err = auth.Login(ctx, "alice", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = auth.Login(ctx, "nobody", "hunter22")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	auth, _ := newAuthFixture(t)

	_, err := auth.ValidateToken("not-a-jwt")
	require.ErrorIs(t, err, ErrInvalidToken)

	// a token signed with a different secret is rejected
	other, _ := newAuthFixture(t)
	resp, err := other.Register(context.Background(), "bob", "pw", "")
	require.NoError(t, err)
	otherToken := resp.Token

	authDifferent := func() *AuthService {
		st := store.NewMemory()
		t.Cleanup(func() { _ = st.Close() })
		users := newFakeUserRepo()
		return NewAuthService(users, NewSocialService(st, users), "another-secret")
	}()
	_, err = authDifferent.ValidateToken(otherToken)
	require.ErrorIs(t, err, ErrInvalidToken)
}
