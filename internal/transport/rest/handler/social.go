package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"liftmates/internal/service"
	"liftmates/internal/transport/rest/middleware"
)

// SocialHandler handles the compare-and-set social endpoints plus presence
// lookups.
type SocialHandler struct {
	social   *service.SocialService
	presence *service.PresenceTracker
}

func NewSocialHandler(social *service.SocialService, presence *service.PresenceTracker) *SocialHandler {
	return &SocialHandler{social: social, presence: presence}
}

type claimUsernameRequest struct {
	Username string `json:"username"`
}

// ClaimUsername handles POST /v1/users/username
func (h *SocialHandler) ClaimUsername(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req claimUsernameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.social.ClaimUsername(r.Context(), userID, req.Username); err != nil {
		switch {
		case errors.Is(err, service.ErrUsernameTaken):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, service.ErrUsernameInvalid):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ToggleLike handles POST /v1/posts/{postId}/like
func (h *SocialHandler) ToggleLike(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	postID := mux.Vars(r)["postId"]

	liked, count, err := h.social.ToggleLike(r.Context(), postID, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"liked": liked, "count": count})
}

// GetPresence handles GET /v1/users/{userId}/presence
func (h *SocialHandler) GetPresence(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userId"]

	p, err := h.presence.Get(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}
