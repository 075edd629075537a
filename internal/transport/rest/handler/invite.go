package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"liftmates/internal/repository"
	"liftmates/internal/service"
	"liftmates/internal/transport/rest/middleware"
)

// InviteHandler handles live-workout invite endpoints
type InviteHandler struct {
	invites *service.InviteBroker
	users   repository.UserRepo
}

func NewInviteHandler(invites *service.InviteBroker, users repository.UserRepo) *InviteHandler {
	return &InviteHandler{invites: invites, users: users}
}

type sendInviteRequest struct {
	ToUserID string `json:"toUserId"`
}

// Send handles POST /v1/invites
func (h *InviteHandler) Send(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req sendInviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ToUserID == "" {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ToUserID == userID {
		writeError(w, http.StatusBadRequest, "cannot invite yourself")
		return
	}

	fromName := h.displayName(r, userID)
	inv, err := h.invites.Send(r.Context(), userID, fromName, req.ToUserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, inv)
}

// ListPending handles GET /v1/invites
func (h *InviteHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	invites, err := h.invites.ListPending(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, invites)
}

type resolveInviteRequest struct {
	Accept bool `json:"accept"`
}

// Resolve handles POST /v1/invites/{inviteId}/resolve
func (h *InviteHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	inviteID := mux.Vars(r)["inviteId"]

	var req resolveInviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	toName := h.displayName(r, userID)
	ref, err := h.invites.Resolve(r.Context(), userID, toName, inviteID, req.Accept)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			// expired or already resolved: a race outcome, not a failure
			writeJSON(w, http.StatusOK, map[string]any{"resolved": false})
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := map[string]any{"resolved": true}
	if ref != nil {
		resp["sessionId"] = ref.SessionID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *InviteHandler) displayName(r *http.Request, userID string) string {
	if user, err := h.users.GetByID(r.Context(), userID); err == nil && user != nil {
		if user.DisplayName != "" {
			return user.DisplayName
		}
		return user.Username
	}
	return userID
}
