package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"liftmates/internal/model"
	"liftmates/internal/service"
	"liftmates/internal/transport/rest/middleware"
)

// SessionHandler handles live-workout session endpoints
type SessionHandler struct {
	sessions *service.SessionCoordinator
	relay    *service.NotificationRelay
}

func NewSessionHandler(sessions *service.SessionCoordinator, relay *service.NotificationRelay) *SessionHandler {
	return &SessionHandler{sessions: sessions, relay: relay}
}

// Get handles GET /v1/sessions/{sessionId}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	sessionID := mux.Vars(r)["sessionId"]

	sess, err := h.sessions.Get(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !sess.HasParticipant(userID) {
		writeError(w, http.StatusForbidden, "not a participant")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// List handles GET /v1/sessions
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	sessions, err := h.sessions.ListFor(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

// Pending handles GET /v1/sessions/pending — the waiting-room recovery scan.
func (h *SessionHandler) Pending(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	sessions, err := h.relay.ListPendingSessions(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

type addExerciseRequest struct {
	Name          string      `json:"name"`
	ReferenceSets []model.Set `json:"referenceSets,omitempty"`
}

// AddExercise handles POST /v1/sessions/{sessionId}/exercises
func (h *SessionHandler) AddExercise(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	sessionID := mux.Vars(r)["sessionId"]

	var req addExerciseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ex, err := h.sessions.AddExercise(r.Context(), sessionID, model.Exercise{
		Name:          req.Name,
		OwnerUserID:   userID,
		ReferenceSets: req.ReferenceSets,
	}, userID)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ex)
}

type addSetRequest struct {
	Reps   int     `json:"reps"`
	Weight float64 `json:"weight"`
}

// AddSet handles POST /v1/sessions/{sessionId}/exercises/{exerciseId}/sets
func (h *SessionHandler) AddSet(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	vars := mux.Vars(r)

	var req addSetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	set, err := h.sessions.AddSet(r.Context(), vars["sessionId"], vars["exerciseId"],
		model.Set{Reps: req.Reps, Weight: req.Weight}, userID)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, set)
}

// End handles POST /v1/sessions/{sessionId}/end
func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	sessionID := mux.Vars(r)["sessionId"]

	if err := h.sessions.End(r.Context(), sessionID, userID); err != nil {
		writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(model.SessionEnded)})
}

func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, service.ErrSessionEnded):
		// mutation after end is a local no-op, not a failure
		writeJSON(w, http.StatusOK, map[string]any{"applied": false, "reason": "session has ended"})
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
