package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"liftmates/internal/store"
)

func TestStreamCancelClosesUpdates(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	defer st.Close()

	sub, err := st.Observe(ctx, "userStatus/u1", store.ValueChanged)
	require.NoError(t, err)
	stream := newStream(sub, func(ev store.Event) (store.Value, bool) {
		return ev.Value, true
	})

	// attach snapshot
	recvStream(t, stream.Updates())

	stream.Cancel()
	stream.Cancel() // idempotent

	select {
	case _, ok := <-stream.Updates():
		require.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("updates channel not closed after cancel")
	}

	// writes after cancel must not block the store
	require.NoError(t, st.Write(ctx, "userStatus/u1", "v"))
}

func TestStreamDropsFilteredEvents(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	defer st.Close()

	sub, err := st.Observe(ctx, "inbox/u1", store.ChildAdded)
	require.NoError(t, err)
	stream := newStream(sub, func(ev store.Event) (string, bool) {
		s, ok := ev.Value.(string)
		return s, ok
	})
	defer stream.Cancel()

	require.NoError(t, st.Write(ctx, "inbox/u1/a", map[string]any{"not": "a string"}))
	require.NoError(t, st.Write(ctx, "inbox/u1/b", "kept"))

	got := recvStream(t, stream.Updates())
	require.Equal(t, "kept", got, "filtered event silently dropped")
}
