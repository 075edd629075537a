package rest

import (
	"net/http"
	"os"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"liftmates/internal/observability"
	"liftmates/internal/repository"
	"liftmates/internal/service"
	"liftmates/internal/transport/rest/handler"
	"liftmates/internal/transport/rest/middleware"
	"liftmates/internal/transport/ws"
)

// Container holds all dependencies for the router
type Container struct {
	AuthService   *service.AuthService
	Presence      *service.PresenceTracker
	Invites       *service.InviteBroker
	Sessions      *service.SessionCoordinator
	Relay         *service.NotificationRelay
	Conversations *service.ConversationAggregator
	Social        *service.SocialService
	Users         repository.UserRepo
	WSHub         *ws.Hub
}

// NewRouter creates the API router with all endpoints
func NewRouter(c *Container) http.Handler {
	r := mux.NewRouter()

	// Initialize handlers
	authHandler := handler.NewAuthHandler(c.AuthService)
	inviteHandler := handler.NewInviteHandler(c.Invites, c.Users)
	sessionHandler := handler.NewSessionHandler(c.Sessions, c.Relay)
	convHandler := handler.NewConversationHandler(c.Conversations)
	socialHandler := handler.NewSocialHandler(c.Social, c.Presence)
	wsHandler := ws.NewHandler(c.WSHub, c.AuthService, c.Presence, c.Invites, c.Relay, c.Sessions, c.Conversations)

	// Initialize middleware
	authMW := middleware.NewAuthMiddleware(c.AuthService)

	// CORS middleware (apply first)
	r.Use(corsMiddleware)
	r.Use(observability.MuxMiddleware)

	// API v1 routes
	v1 := r.PathPrefix("/v1").Subrouter()

	// Public routes
	v1.HandleFunc("/auth/register", authHandler.Register).Methods("POST", "OPTIONS")
	v1.HandleFunc("/auth/login", authHandler.Login).Methods("POST", "OPTIONS")

	// WebSocket route (public with token in query param)
	v1.HandleFunc("/ws", wsHandler.Connect).Methods("GET")

	// Health check
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	// Metrics
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// Authenticated routes
	authed := v1.NewRoute().Subrouter()
	authed.Use(authMW.RequireUser)

	authed.HandleFunc("/invites", inviteHandler.Send).Methods("POST", "OPTIONS")
	authed.HandleFunc("/invites", inviteHandler.ListPending).Methods("GET", "OPTIONS")
	authed.HandleFunc("/invites/{inviteId}/resolve", inviteHandler.Resolve).Methods("POST", "OPTIONS")

	authed.HandleFunc("/sessions", sessionHandler.List).Methods("GET", "OPTIONS")
	authed.HandleFunc("/sessions/pending", sessionHandler.Pending).Methods("GET", "OPTIONS")
	authed.HandleFunc("/sessions/{sessionId}", sessionHandler.Get).Methods("GET", "OPTIONS")
	authed.HandleFunc("/sessions/{sessionId}/exercises", sessionHandler.AddExercise).Methods("POST", "OPTIONS")
	authed.HandleFunc("/sessions/{sessionId}/exercises/{exerciseId}/sets", sessionHandler.AddSet).Methods("POST", "OPTIONS")
	authed.HandleFunc("/sessions/{sessionId}/end", sessionHandler.End).Methods("POST", "OPTIONS")

	authed.HandleFunc("/conversations", convHandler.List).Methods("GET", "OPTIONS")
	authed.HandleFunc("/conversations/{otherId}", convHandler.Thread).Methods("GET", "OPTIONS")
	authed.HandleFunc("/conversations/{otherId}/read", convHandler.MarkRead).Methods("POST", "OPTIONS")
	authed.HandleFunc("/messages", convHandler.Send).Methods("POST", "OPTIONS")

	authed.HandleFunc("/users/username", socialHandler.ClaimUsername).Methods("POST", "OPTIONS")
	authed.HandleFunc("/users/{userId}/presence", socialHandler.GetPresence).Methods("GET", "OPTIONS")
	authed.HandleFunc("/posts/{postId}/like", socialHandler.ToggleLike).Methods("POST", "OPTIONS")

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowedOrigins := os.Getenv("CORS_ALLOWED_ORIGINS")
		if allowedOrigins == "" {
			allowedOrigins = "*"
		}

		allowedMethods := os.Getenv("CORS_ALLOWED_METHODS")
		if allowedMethods == "" {
			allowedMethods = "GET, POST, PUT, DELETE, OPTIONS"
		}

		allowedHeaders := os.Getenv("CORS_ALLOWED_HEADERS")
		if allowedHeaders == "" {
			allowedHeaders = "Content-Type, Authorization"
		}

		w.Header().Set("Access-Control-Allow-Origin", allowedOrigins)
		w.Header().Set("Access-Control-Allow-Methods", allowedMethods)
		w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
