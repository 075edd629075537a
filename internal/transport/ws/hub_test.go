package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func waitMessage(t *testing.T, send chan []byte) *Message {
	t.Helper()
	select {
	case data := <-send:
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return &msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for hub message")
		return nil
	}
}

func TestHubSendToUser(t *testing.T) {
	hub := NewHub()

	conn := &Connection{UserID: "alice", Send: make(chan []byte, 8), Hub: hub}
	hub.Register(conn)

	require.Eventually(t, func() bool { return hub.Online("alice") }, 2*time.Second, 10*time.Millisecond)

	hub.SendToUser("alice", MsgSessionReady, map[string]string{"sessionId": "s1"})

	msg := waitMessage(t, conn.Send)
	require.Equal(t, MsgSessionReady, msg.Type)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	require.Equal(t, "s1", payload["sessionId"])
}

func TestHubMultipleConnectionsPerUser(t *testing.T) {
	hub := NewHub()

	phone := &Connection{UserID: "alice", Send: make(chan []byte, 8), Hub: hub}
	watch := &Connection{UserID: "alice", Send: make(chan []byte, 8), Hub: hub}
	hub.Register(phone)
	hub.Register(watch)

	require.Eventually(t, func() bool { return hub.Online("alice") }, 2*time.Second, 10*time.Millisecond)

	hub.SendToUser("alice", MsgInviteReceived, map[string]string{"id": "i1"})

	require.Equal(t, MsgInviteReceived, waitMessage(t, phone.Send).Type)
	require.Equal(t, MsgInviteReceived, waitMessage(t, watch.Send).Type)
}

func TestHubUnregister(t *testing.T) {
	hub := NewHub()

	phone := &Connection{UserID: "alice", Send: make(chan []byte, 8), Hub: hub}
	watch := &Connection{UserID: "alice", Send: make(chan []byte, 8), Hub: hub}
	hub.Register(phone)
	hub.Register(watch)
	require.Eventually(t, func() bool { return hub.Online("alice") }, 2*time.Second, 10*time.Millisecond)

	hub.Unregister(phone)

	// still online through the second device
	require.Eventually(t, func() bool {
		select {
		case _, ok := <-phone.Send:
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 10*time.Millisecond, "unregistered connection's channel is closed")
	require.True(t, hub.Online("alice"))

	hub.Unregister(watch)
	require.Eventually(t, func() bool { return !hub.Online("alice") }, 2*time.Second, 10*time.Millisecond)

	// messages to a fully offline user are dropped, not delivered later
	hub.SendToUser("alice", MsgSessionReady, map[string]string{"sessionId": "s1"})
}

func TestHubSendToUnknownUserIsNoop(t *testing.T) {
	hub := NewHub()
	hub.SendToUser("ghost", MsgSessionReady, map[string]string{"sessionId": "s1"})
	require.False(t, hub.Online("ghost"))
}

func TestConnectionPushDropsWhenFull(t *testing.T) {
	conn := &Connection{UserID: "alice", Send: make(chan []byte, 1)}
	conn.push(MsgSessionUpdate, map[string]string{"a": "1"})
	conn.push(MsgSessionUpdate, map[string]string{"b": "2"}) // buffer full, dropped

	require.Len(t, conn.Send, 1)
}
