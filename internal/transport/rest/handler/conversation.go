package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"liftmates/internal/service"
	"liftmates/internal/transport/rest/middleware"
)

// ConversationHandler handles messaging endpoints
type ConversationHandler struct {
	conversations *service.ConversationAggregator
}

func NewConversationHandler(conversations *service.ConversationAggregator) *ConversationHandler {
	return &ConversationHandler{conversations: conversations}
}

// List handles GET /v1/conversations
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	convs, err := h.conversations.ListConversations(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, convs)
}

// Thread handles GET /v1/conversations/{otherId}
func (h *ConversationHandler) Thread(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	otherID := mux.Vars(r)["otherId"]

	msgs, err := h.conversations.Thread(r.Context(), userID, otherID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

// MarkRead handles POST /v1/conversations/{otherId}/read
func (h *ConversationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	otherID := mux.Vars(r)["otherId"]

	if err := h.conversations.MarkRead(r.Context(), userID, otherID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type sendMessageRequest struct {
	ToUserID string `json:"toUserId"`
	Text     string `json:"text"`
}

// Send handles POST /v1/messages
func (h *ConversationHandler) Send(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ToUserID == "" || req.Text == "" {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := h.conversations.Send(r.Context(), userID, req.ToUserID, req.Text)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}
