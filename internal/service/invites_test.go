package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"liftmates/internal/model"
	"liftmates/internal/store"
)

func newInviteFixture(t *testing.T) (*InviteBroker, *SessionCoordinator, *NotificationRelay, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	t.Cleanup(func() { _ = st.Close() })
	sessions := NewSessionCoordinator(st)
	relay := NewNotificationRelay(st)
	broker := NewInviteBroker(st, sessions, relay)
	return broker, sessions, relay, st
}

func TestInviteSendAndListPending(t *testing.T) {
	ctx := context.Background()
	broker, _, _, _ := newInviteFixture(t)

	inv, err := broker.Send(ctx, "alice", "Alice", "bob")
	require.NoError(t, err)
	require.Equal(t, model.InvitePending, inv.Status)
	require.Equal(t, inv.CreatedAt.Add(model.InviteTTL), inv.ExpiresAt)

	pending, err := broker.ListPending(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, inv.ID, pending[0].ID)
	require.Equal(t, "Alice", pending[0].FromUserName)

	// the sender's own inbox stays empty
	pending, err = broker.ListPending(ctx, "alice")
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestInviteExpiredIsInvisibleEvenIfStillStored(t *testing.T) {
	ctx := context.Background()
	broker, _, _, _ := newInviteFixture(t)

	base := time.Now()
	broker.now = func() time.Time { return base }

	inv, err := broker.Send(ctx, "alice", "Alice", "bob")
	require.NoError(t, err)

	// scheduled deletion has not run, but the clock has passed the TTL
	broker.now = func() time.Time { return base.Add(model.InviteTTL + time.Second) }

	pending, err := broker.ListPending(ctx, "bob")
	require.NoError(t, err)
	require.Empty(t, pending, "expired invites are filtered at read time")

	_, err = broker.Resolve(ctx, "bob", "Bob", inv.ID, true)
	require.ErrorIs(t, err, ErrNotFound, "accepting an expired invite is too late, not an error")
}

func TestInviteResolveAcceptCreatesSessionAndNotifies(t *testing.T) {
	ctx := context.Background()
	broker, sessions, relay, _ := newInviteFixture(t)

	inv, err := broker.Send(ctx, "alice", "Alice", "bob")
	require.NoError(t, err)

	ref, err := broker.Resolve(ctx, "bob", "Bob", inv.ID, true)
	require.NoError(t, err)
	require.NotNil(t, ref)

	sess, err := sessions.Get(ctx, ref.SessionID)
	require.NoError(t, err)
	require.Equal(t, model.SessionActive, sess.Status)
	require.True(t, sess.HasParticipant("alice"))
	require.True(t, sess.HasParticipant("bob"))
	require.Equal(t, "Alice", sess.ParticipantA.Name)
	require.Equal(t, "Bob", sess.ParticipantB.Name)

	// the inviter's mailbox references the new session
	ready, err := relay.ListPendingSessions(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, ready, 1)
	require.Equal(t, ref.SessionID, ready[0].ID)

	// the invite record is consumed
	pending, err := broker.ListPending(ctx, "bob")
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestInviteResolveIsClaimedExactlyOnce(t *testing.T) {
	ctx := context.Background()
	broker, sessions, _, _ := newInviteFixture(t)

	inv, err := broker.Send(ctx, "alice", "Alice", "bob")
	require.NoError(t, err)

	ref, err := broker.Resolve(ctx, "bob", "Bob", inv.ID, true)
	require.NoError(t, err)
	require.NotNil(t, ref)

	// a duplicate tap or a raced second device observes an absent invite
	_, err = broker.Resolve(ctx, "bob", "Bob", inv.ID, true)
	require.ErrorIs(t, err, ErrNotFound)

	// exactly one session exists for bob
	list, err := sessions.ListFor(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestInviteResolveReject(t *testing.T) {
	ctx := context.Background()
	broker, sessions, relay, _ := newInviteFixture(t)

	inv, err := broker.Send(ctx, "alice", "Alice", "bob")
	require.NoError(t, err)

	ref, err := broker.Resolve(ctx, "bob", "Bob", inv.ID, false)
	require.NoError(t, err)
	require.Nil(t, ref, "rejection resolves without a session")

	list, err := sessions.ListFor(ctx, "bob")
	require.NoError(t, err)
	require.Empty(t, list)

	ready, err := relay.ListPendingSessions(ctx, "alice")
	require.NoError(t, err)
	require.Empty(t, ready)

	pending, err := broker.ListPending(ctx, "bob")
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestInviteResolveUnknownID(t *testing.T) {
	ctx := context.Background()
	broker, _, _, _ := newInviteFixture(t)

	_, err := broker.Resolve(ctx, "bob", "Bob", "no-such-invite", true)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestInviteObserveInboxReplaysAndStreams(t *testing.T) {
	ctx := context.Background()
	broker, _, _, _ := newInviteFixture(t)

	first, err := broker.Send(ctx, "alice", "Alice", "bob")
	require.NoError(t, err)

	stream, err := broker.ObserveInbox(ctx, "bob")
	require.NoError(t, err)
	defer stream.Cancel()

	got := recvStream(t, stream.Updates())
	require.Equal(t, first.ID, got.ID, "existing invite replayed on attach")

	second, err := broker.Send(ctx, "carol", "Carol", "bob")
	require.NoError(t, err)
	got = recvStream(t, stream.Updates())
	require.Equal(t, second.ID, got.ID)
}

func TestInviteObserveInboxSkipsMalformedEntries(t *testing.T) {
	ctx := context.Background()
	broker, _, _, st := newInviteFixture(t)

	// a junk record in the inbox must not poison the stream
	require.NoError(t, st.Write(ctx, "liveWorkoutInvites/bob/junk", "not-an-invite"))

	stream, err := broker.ObserveInbox(ctx, "bob")
	require.NoError(t, err)
	defer stream.Cancel()

	inv, err := broker.Send(ctx, "alice", "Alice", "bob")
	require.NoError(t, err)

	got := recvStream(t, stream.Updates())
	require.Equal(t, inv.ID, got.ID)
}

func TestInviteListPendingSkipsMalformedEntries(t *testing.T) {
	ctx := context.Background()
	broker, _, _, st := newInviteFixture(t)

	require.NoError(t, st.Write(ctx, "liveWorkoutInvites/bob/junk", map[string]any{"createdAt": 12345}))
	inv, err := broker.Send(ctx, "alice", "Alice", "bob")
	require.NoError(t, err)

	pending, err := broker.ListPending(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, inv.ID, pending[0].ID)
}
