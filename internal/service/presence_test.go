package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"liftmates/internal/store"
)

func TestPresenceSetOnlineThenGet(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	defer st.Close()
	tracker := NewPresenceTracker(st)

	require.NoError(t, tracker.SetOnline(ctx, "u1"))

	p, err := tracker.Get(ctx, "u1")
	require.NoError(t, err)
	require.True(t, p.IsOnline)
	require.Equal(t, "u1", p.UserID)
	require.False(t, p.LastSeenAt.IsZero())
}

func TestPresenceGetDefaultsOffline(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	defer st.Close()
	tracker := NewPresenceTracker(st)

	p, err := tracker.Get(ctx, "never-seen")
	require.NoError(t, err)
	require.False(t, p.IsOnline)
}

func TestPresenceDisconnectFlipsOffline(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	defer st.Close()
	tracker := NewPresenceTracker(st)

	require.NoError(t, tracker.SetOnline(ctx, "u1"))
	st.SimulateDisconnect()

	p, err := tracker.Get(ctx, "u1")
	require.NoError(t, err)
	require.False(t, p.IsOnline, "a dropped connection must not leave presence stuck online")
}

func TestPresenceSetOfflineCancelsHook(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	defer st.Close()
	tracker := NewPresenceTracker(st)

	require.NoError(t, tracker.SetOnline(ctx, "u1"))
	require.NoError(t, tracker.SetOffline(ctx, "u1"))

	// going online again after sign-out, then dropping, still flips offline
	require.NoError(t, tracker.SetOnline(ctx, "u1"))
	st.SimulateDisconnect()

	p, err := tracker.Get(ctx, "u1")
	require.NoError(t, err)
	require.False(t, p.IsOnline)
}

func TestPresenceObserveStreamsTransitions(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	defer st.Close()
	tracker := NewPresenceTracker(st)

	stream, err := tracker.Observe(ctx, "u1")
	require.NoError(t, err)
	defer stream.Cancel()

	// attach snapshot: never seen means offline
	p := recvStream(t, stream.Updates())
	require.False(t, p.IsOnline)

	require.NoError(t, tracker.SetOnline(ctx, "u1"))
	p = recvStream(t, stream.Updates())
	require.True(t, p.IsOnline)

	st.SimulateDisconnect()
	p = recvStream(t, stream.Updates())
	require.False(t, p.IsOnline)
}

// hookFailingStore simulates a backend that accepts the presence write but
// keeps rejecting the disconnect hook registration.
type hookFailingStore struct {
	*store.Memory
	attempts int
}

func (s *hookFailingStore) RegisterOnDisconnect(ctx context.Context, path string, value store.Value) error {
	s.attempts++
	return errors.New("backend unavailable")
}

func TestPresenceSetOnlineSurvivesHookFailure(t *testing.T) {
	ctx := context.Background()
	st := &hookFailingStore{Memory: store.NewMemory()}
	defer st.Close()
	tracker := NewPresenceTracker(st)

	start := time.Now()
	require.NoError(t, tracker.SetOnline(ctx, "u1"), "hook failure must not fail the sign-in")
	require.Equal(t, presenceRegisterRetries, st.attempts)
	require.Less(t, time.Since(start), 2*time.Second)

	p, err := tracker.Get(ctx, "u1")
	require.NoError(t, err)
	require.True(t, p.IsOnline, "the online write itself still lands")
}
