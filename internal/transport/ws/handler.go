package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"liftmates/internal/model"
	"liftmates/internal/service"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for dev
	},
}

// Handler handles WebSocket connections
type Handler struct {
	hub           *Hub
	authSvc       *service.AuthService
	presence      *service.PresenceTracker
	invites       *service.InviteBroker
	relay         *service.NotificationRelay
	sessions      *service.SessionCoordinator
	conversations *service.ConversationAggregator
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *Hub, authSvc *service.AuthService, presence *service.PresenceTracker,
	invites *service.InviteBroker, relay *service.NotificationRelay, sessions *service.SessionCoordinator,
	conversations *service.ConversationAggregator) *Handler {
	return &Handler{
		hub:           hub,
		authSvc:       authSvc,
		presence:      presence,
		invites:       invites,
		relay:         relay,
		sessions:      sessions,
		conversations: conversations,
	}
}

// Connect handles GET /v1/ws
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	claims, err := h.authSvc.ValidateToken(token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	wsConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket upgrade error")
		return
	}

	conn := &Connection{
		UserID: claims.UserID,
		Send:   make(chan []byte, 256),
		Hub:    h.hub,
	}

	h.hub.Register(conn)

	br := newBridge(h, conn)
	br.start(r.Context())

	go h.writePump(wsConn, conn)
	go h.readPump(wsConn, conn, br)
}

func (h *Handler) readPump(wsConn *websocket.Conn, conn *Connection, br *bridge) {
	defer func() {
		br.stop()
		h.hub.Unregister(conn)
		wsConn.Close()
	}()

	wsConn.SetReadLimit(maxMessageSize)
	wsConn.SetReadDeadline(time.Now().Add(pongWait))
	wsConn.SetPongHandler(func(string) error {
		wsConn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := wsConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Str("userId", conn.UserID).Msg("websocket read error")
			}
			break
		}
		br.handleClientMessage(data)
	}
}

func (h *Handler) writePump(wsConn *websocket.Conn, conn *Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		wsConn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				wsConn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := wsConn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			wsConn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsConn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// bridge ties one connection to the store-backed streams behind it.
// Every stream it opens is cancelled when the connection goes away.
type bridge struct {
	h    *Handler
	conn *Connection
	ctx  context.Context

	mu              sync.Mutex
	inviteStream    *service.Stream[model.LiveWorkoutInvite]
	notifStream     *service.Stream[model.SessionJoinNotification]
	messageStream   *service.Stream[model.Message]
	sessionStreams  map[string]*service.Stream[model.LiveWorkoutSession]
	presenceStreams map[string]*service.Stream[model.UserPresence]
	stopped         bool
}

func newBridge(h *Handler, conn *Connection) *bridge {
	return &bridge{
		h:               h,
		conn:            conn,
		sessionStreams:  make(map[string]*service.Stream[model.LiveWorkoutSession]),
		presenceStreams: make(map[string]*service.Stream[model.UserPresence]),
	}
}

// start flips the user online and attaches the always-on streams
// (invite inbox, session-ready mailbox).
func (br *bridge) start(ctx context.Context) {
	// The streams outlive the upgrade request, so detach from its context.
	br.ctx = context.WithoutCancel(ctx)
	userID := br.conn.UserID

	if err := br.h.presence.SetOnline(br.ctx, userID); err != nil {
		log.Warn().Err(err).Str("userId", userID).Msg("failed to set presence online")
	}

	if s, err := br.h.invites.ObserveInbox(br.ctx, userID); err != nil {
		log.Warn().Err(err).Str("userId", userID).Msg("failed to observe invite inbox")
	} else {
		br.inviteStream = s
		go func() {
			for inv := range s.Updates() {
				br.conn.push(MsgInviteReceived, inv)
			}
		}()
	}

	if s, err := br.h.relay.Consume(br.ctx, userID); err != nil {
		log.Warn().Err(err).Str("userId", userID).Msg("failed to observe notifications")
	} else {
		br.notifStream = s
		go func() {
			for n := range s.Updates() {
				br.conn.push(MsgSessionReady, n)
			}
		}()
	}

	if s, err := br.h.conversations.ObserveIncoming(br.ctx, userID); err != nil {
		log.Warn().Err(err).Str("userId", userID).Msg("failed to observe incoming messages")
	} else {
		br.messageStream = s
		// Attaching replays every mirrored message; only push ones sent
		// after this connection came up.
		attachedAt := time.Now().Add(-2 * time.Second)
		go func() {
			for m := range s.Updates() {
				if m.SentAt.Before(attachedAt) {
					continue
				}
				br.conn.push(MsgMessageReceived, m)
			}
		}()
	}
}

// stop cancels every stream and flips the user offline if this was
// their last connection on the node.
func (br *bridge) stop() {
	br.mu.Lock()
	if br.stopped {
		br.mu.Unlock()
		return
	}
	br.stopped = true
	if br.inviteStream != nil {
		br.inviteStream.Cancel()
	}
	if br.notifStream != nil {
		br.notifStream.Cancel()
	}
	if br.messageStream != nil {
		br.messageStream.Cancel()
	}
	for _, s := range br.sessionStreams {
		s.Cancel()
	}
	for _, s := range br.presenceStreams {
		s.Cancel()
	}
	br.sessionStreams = map[string]*service.Stream[model.LiveWorkoutSession]{}
	br.presenceStreams = map[string]*service.Stream[model.UserPresence]{}
	br.mu.Unlock()

	if !br.h.hub.Online(br.conn.UserID) {
		if err := br.h.presence.SetOffline(br.ctx, br.conn.UserID); err != nil {
			log.Warn().Err(err).Str("userId", br.conn.UserID).Msg("failed to set presence offline")
		}
	}
}

type watchSessionPayload struct {
	SessionID string `json:"sessionId"`
}

type watchPresencePayload struct {
	UserID string `json:"userId"`
}

func (br *bridge) handleClientMessage(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		br.conn.push(MsgError, map[string]string{"error": "invalid message"})
		return
	}

	switch msg.Type {
	case MsgWatchSession:
		var p watchSessionPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil || p.SessionID == "" {
			br.conn.push(MsgError, map[string]string{"error": "invalid payload"})
			return
		}
		br.watchSession(p.SessionID)

	case MsgUnwatchSession:
		var p watchSessionPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil || p.SessionID == "" {
			return
		}
		br.unwatchSession(p.SessionID)

	case MsgWatchPresence:
		var p watchPresencePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil || p.UserID == "" {
			br.conn.push(MsgError, map[string]string{"error": "invalid payload"})
			return
		}
		br.watchPresence(p.UserID)

	case MsgUnwatchPresence:
		var p watchPresencePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil || p.UserID == "" {
			return
		}
		br.unwatchPresence(p.UserID)

	case MsgAckNotification:
		var p watchSessionPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil || p.SessionID == "" {
			return
		}
		if err := br.h.relay.Ack(br.ctx, br.conn.UserID, p.SessionID); err != nil {
			log.Warn().Err(err).Str("sessionId", p.SessionID).Msg("failed to ack notification")
		}

	default:
		br.conn.push(MsgError, map[string]string{"error": "unknown message type"})
	}
}

func (br *bridge) watchSession(sessionID string) {
	// Only participants may stream a session.
	sess, err := br.h.sessions.Get(br.ctx, sessionID)
	if err != nil || !sess.HasParticipant(br.conn.UserID) {
		br.conn.push(MsgError, map[string]string{"error": "session not available"})
		return
	}

	br.mu.Lock()
	defer br.mu.Unlock()
	if br.stopped || br.sessionStreams[sessionID] != nil {
		return
	}
	s, err := br.h.sessions.Observe(br.ctx, sessionID)
	if err != nil {
		br.conn.push(MsgError, map[string]string{"error": "session not available"})
		return
	}
	br.sessionStreams[sessionID] = s
	go func() {
		for sess := range s.Updates() {
			br.conn.push(MsgSessionUpdate, sess)
		}
	}()
}

func (br *bridge) unwatchSession(sessionID string) {
	br.mu.Lock()
	defer br.mu.Unlock()
	if s := br.sessionStreams[sessionID]; s != nil {
		s.Cancel()
		delete(br.sessionStreams, sessionID)
	}
}

func (br *bridge) watchPresence(userID string) {
	br.mu.Lock()
	defer br.mu.Unlock()
	if br.stopped || br.presenceStreams[userID] != nil {
		return
	}
	s, err := br.h.presence.Observe(br.ctx, userID)
	if err != nil {
		br.conn.push(MsgError, map[string]string{"error": "presence not available"})
		return
	}
	br.presenceStreams[userID] = s
	go func() {
		for p := range s.Updates() {
			br.conn.push(MsgPresenceUpdate, p)
		}
	}()
}

func (br *bridge) unwatchPresence(userID string) {
	br.mu.Lock()
	defer br.mu.Unlock()
	if s := br.presenceStreams[userID]; s != nil {
		s.Cancel()
		delete(br.presenceStreams, userID)
	}
}
