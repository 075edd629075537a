package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"liftmates/internal/model"
	"liftmates/internal/store"
)

func newSocialFixture(t *testing.T) (*SocialService, *fakeUserRepo, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	t.Cleanup(func() { _ = st.Close() })
	users := newFakeUserRepo()
	return NewSocialService(st, users), users, st
}

func TestClaimUsername(t *testing.T) {
	ctx := context.Background()
	social, users, _ := newSocialFixture(t)
	require.NoError(t, users.Create(ctx, &model.User{ID: "u1"}))

	require.NoError(t, social.ClaimUsername(ctx, "u1", "Alice_99"))

	u, err := users.GetByID(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, "alice_99", u.Username, "usernames are normalized to lowercase")

	// re-claiming one's own name is idempotent
	require.NoError(t, social.ClaimUsername(ctx, "u1", "alice_99"))
}

func TestClaimUsernameConflict(t *testing.T) {
	ctx := context.Background()
	social, users, _ := newSocialFixture(t)
	require.NoError(t, users.Create(ctx, &model.User{ID: "u1"}))
	require.NoError(t, users.Create(ctx, &model.User{ID: "u2"}))

	require.NoError(t, social.ClaimUsername(ctx, "u1", "alice"))
	require.ErrorIs(t, social.ClaimUsername(ctx, "u2", "alice"), ErrUsernameTaken)

	u, err := users.GetByID(ctx, "u2")
	require.NoError(t, err)
	require.Empty(t, u.Username, "loser's profile is untouched")
}

func TestClaimUsernameValidation(t *testing.T) {
	ctx := context.Background()
	social, users, _ := newSocialFixture(t)
	require.NoError(t, users.Create(ctx, &model.User{ID: "u1"}))

	for _, bad := range []string{"", "ab", "has space", "Üñïçödé", "way_too_long_name_that_exceeds_thirty_two_chars"} {
		require.ErrorIs(t, social.ClaimUsername(ctx, "u1", bad), ErrUsernameInvalid, bad)
	}
}

func TestClaimUsernameReleasesOldName(t *testing.T) {
	ctx := context.Background()
	social, users, _ := newSocialFixture(t)
	require.NoError(t, users.Create(ctx, &model.User{ID: "u1"}))
	require.NoError(t, users.Create(ctx, &model.User{ID: "u2"}))

	require.NoError(t, social.ClaimUsername(ctx, "u1", "alice"))
	require.NoError(t, social.ClaimUsername(ctx, "u1", "alicia"))

	// the abandoned name is free again
	require.NoError(t, social.ClaimUsername(ctx, "u2", "alice"))
}

func TestClaimUsernameConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	social, users, _ := newSocialFixture(t)

	const contenders = 8
	for i := 0; i < contenders; i++ {
		require.NoError(t, users.Create(ctx, &model.User{ID: string(rune('a' + i))}))
	}

	var wg sync.WaitGroup
	results := make([]error, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = social.ClaimUsername(ctx, string(rune('a'+i)), "champion")
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, err := range results {
		if err == nil {
			winners++
		} else {
			require.ErrorIs(t, err, ErrUsernameTaken)
		}
	}
	require.Equal(t, 1, winners, "exactly one claim commits")
}

func TestToggleLike(t *testing.T) {
	ctx := context.Background()
	social, _, st := newSocialFixture(t)

	liked, count, err := social.ToggleLike(ctx, "post-1", "u1")
	require.NoError(t, err)
	require.True(t, liked)
	require.Equal(t, 1, count)

	liked, count, err = social.ToggleLike(ctx, "post-1", "u2")
	require.NoError(t, err)
	require.True(t, liked)
	require.Equal(t, 2, count)

	// second tap from the same user is an unlike, not a double count
	liked, count, err = social.ToggleLike(ctx, "post-1", "u1")
	require.NoError(t, err)
	require.False(t, liked)
	require.Equal(t, 1, count)

	liked, count, err = social.ToggleLike(ctx, "post-1", "u2")
	require.NoError(t, err)
	require.False(t, liked)
	require.Equal(t, 0, count)

	raw, err := st.Read(ctx, "postLikes/post-1")
	require.NoError(t, err)
	require.Nil(t, raw, "last like removed drops the record")
}

func TestToggleLikeConcurrentTaps(t *testing.T) {
	ctx := context.Background()
	social, _, _ := newSocialFixture(t)

	// an even number of rapid taps from one user must cancel out
	const taps = 6
	var wg sync.WaitGroup
	for i := 0; i < taps; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := social.ToggleLike(ctx, "post-1", "u1")
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	_, count, err := social.ToggleLike(ctx, "post-1", "u2")
	require.NoError(t, err)
	require.Equal(t, 1, count, "u1's taps cancelled out exactly")
}
