package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"liftmates/internal/store"
)

func TestNotifyAndConsume(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	defer st.Close()
	relay := NewNotificationRelay(st)

	stream, err := relay.Consume(ctx, "alice")
	require.NoError(t, err)
	defer stream.Cancel()

	require.NoError(t, relay.Notify(ctx, "alice", "sess-1"))

	n := recvStream(t, stream.Updates())
	require.Equal(t, "sess-1", n.SessionID)
	require.False(t, n.Timestamp.IsZero())
}

func TestNotifyIsIdempotentPerSession(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	defer st.Close()
	relay := NewNotificationRelay(st)

	require.NoError(t, relay.Notify(ctx, "alice", "sess-1"))
	require.NoError(t, relay.Notify(ctx, "alice", "sess-1"))

	raw, err := st.Read(ctx, "liveWorkoutNotifications/alice")
	require.NoError(t, err)
	node := raw.(map[string]any)
	require.Len(t, node, 1, "keyed by session id: repeats overwrite, never duplicate")
}

func TestConsumeReplaysExistingThenAck(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	defer st.Close()
	relay := NewNotificationRelay(st)

	require.NoError(t, relay.Notify(ctx, "alice", "sess-1"))

	stream, err := relay.Consume(ctx, "alice")
	require.NoError(t, err)
	n := recvStream(t, stream.Updates())
	require.Equal(t, "sess-1", n.SessionID)
	stream.Cancel()

	require.NoError(t, relay.Ack(ctx, "alice", "sess-1"))

	// a fresh consumer after the ack sees nothing to replay
	raw, err := st.Read(ctx, "liveWorkoutNotifications/alice")
	require.NoError(t, err)
	require.Nil(t, raw)
}

func TestListPendingSessionsFiltersStaleAndInactive(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	defer st.Close()
	sessions := NewSessionCoordinator(st)
	relay := NewNotificationRelay(st)

	active, err := sessions.Create(ctx, "alice", "Alice", "bob", "Bob")
	require.NoError(t, err)
	ended, err := sessions.Create(ctx, "alice", "Alice", "carol", "Carol")
	require.NoError(t, err)
	require.NoError(t, sessions.End(ctx, ended.ID, "alice"))

	base := time.Now()
	relay.now = func() time.Time { return base }
	require.NoError(t, relay.Notify(ctx, "alice", active.ID))
	require.NoError(t, relay.Notify(ctx, "alice", ended.ID))

	// a stale notification pointing at a session long gone
	relay.now = func() time.Time { return base.Add(-10 * time.Minute) }
	require.NoError(t, relay.Notify(ctx, "alice", "ancient"))
	relay.now = func() time.Time { return base }

	got, err := relay.ListPendingSessions(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, got, 1, "only fresh notifications for still-active sessions survive")
	require.Equal(t, active.ID, got[0].ID)
}

func TestListPendingSessionsEmptyMailbox(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	defer st.Close()
	relay := NewNotificationRelay(st)

	got, err := relay.ListPendingSessions(ctx, "nobody")
	require.NoError(t, err)
	require.Empty(t, got)
}
