package ws

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"liftmates/internal/observability"
)

// MessageType defines the type of WebSocket message
type MessageType string

// Server-to-client message types
const (
	MsgInviteReceived  MessageType = "invite_received"
	MsgSessionReady    MessageType = "session_ready"
	MsgSessionUpdate   MessageType = "session_update"
	MsgPresenceUpdate  MessageType = "presence_update"
	MsgMessageReceived MessageType = "message_received"
	MsgError           MessageType = "error"
)

// Client-to-server message types
const (
	MsgWatchSession    MessageType = "watch_session"
	MsgUnwatchSession  MessageType = "unwatch_session"
	MsgWatchPresence   MessageType = "watch_presence"
	MsgUnwatchPresence MessageType = "unwatch_presence"
	MsgAckNotification MessageType = "ack_notification"
)

// Message is the WebSocket envelope format
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Hub manages WebSocket connections keyed by user. A user may hold
// several connections at once (phone plus watch).
type Hub struct {
	conns map[string]map[*Connection]bool // userID -> connections

	mu sync.RWMutex

	// Channels for coordination
	register   chan *Connection
	unregister chan *Connection
	broadcast  chan *userMessage
}

// Connection represents a WebSocket connection
type Connection struct {
	UserID string
	Send   chan []byte
	Hub    *Hub

	// closeOnce guards Send against double close when unregister races
	// with hub shutdown.
	closeOnce sync.Once
}

type userMessage struct {
	userID  string
	message *Message
}

// NewHub creates a new WebSocket hub
func NewHub() *Hub {
	h := &Hub{
		conns:      make(map[string]map[*Connection]bool),
		register:   make(chan *Connection),
		unregister: make(chan *Connection),
		broadcast:  make(chan *userMessage, 256),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			if h.conns[conn.UserID] == nil {
				h.conns[conn.UserID] = make(map[*Connection]bool)
			}
			h.conns[conn.UserID][conn] = true
			h.mu.Unlock()
			observability.WsConnections.Inc()
			log.Debug().Str("userId", conn.UserID).Msg("websocket connected")

		case conn := <-h.unregister:
			h.mu.Lock()
			if set, ok := h.conns[conn.UserID]; ok && set[conn] {
				delete(set, conn)
				if len(set) == 0 {
					delete(h.conns, conn.UserID)
				}
				conn.closeOnce.Do(func() { close(conn.Send) })
				observability.WsConnections.Dec()
				log.Debug().Str("userId", conn.UserID).Msg("websocket disconnected")
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.RLock()
			data, _ := json.Marshal(msg.message)
			for conn := range h.conns[msg.userID] {
				select {
				case conn.Send <- data:
				default:
					// Drop message if buffer full
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Register adds a connection
func (h *Hub) Register(conn *Connection) {
	h.register <- conn
}

// Unregister removes a connection
func (h *Hub) Unregister(conn *Connection) {
	h.unregister <- conn
}

// SendToUser delivers a typed message to every open connection of a user.
func (h *Hub) SendToUser(userID string, msgType MessageType, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("type", string(msgType)).Msg("failed to marshal ws payload")
		return
	}
	h.broadcast <- &userMessage{
		userID:  userID,
		message: &Message{Type: msgType, Payload: data},
	}
}

// Online reports whether the user currently has at least one open
// connection on this node.
func (h *Hub) Online(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID]) > 0
}

// push delivers a marshalled envelope straight to one connection,
// dropping it when the buffer is full.
func (c *Connection) push(msgType MessageType, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Str("type", string(msgType)).Msg("failed to marshal ws payload")
		return
	}
	raw, _ := json.Marshal(&Message{Type: msgType, Payload: data})
	select {
	case c.Send <- raw:
	default:
	}
}
