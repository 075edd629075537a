package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"liftmates/internal/config"
	applog "liftmates/internal/log"
	"liftmates/internal/repository"
	"liftmates/internal/service"
	"liftmates/internal/store"
	"liftmates/internal/transport/rest"
	"liftmates/internal/transport/ws"
)

func main() {
	cfg := config.Load()
	applog.Init(cfg.Env)
	ctx := context.Background()

	// MongoDB connection
	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to MongoDB")
	}
	defer mongoClient.Disconnect(ctx)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := mongoClient.Ping(pingCtx, nil); err != nil {
		log.Fatal().Err(err).Msg("failed to ping MongoDB")
	}
	log.Info().Msg("connected to MongoDB")

	db := mongoClient.Database(cfg.MongoDB)

	// Observable store backend
	var st store.Store
	switch cfg.StoreBackend {
	case "memory":
		st = store.NewMemory()
		log.Info().Msg("using in-memory store")
	default:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if _, err := rdb.Ping(ctx).Result(); err != nil {
			log.Fatal().Err(err).Msg("failed to ping Redis")
		}
		st = store.NewRedis(rdb)
		log.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")
	}
	defer st.Close()

	// Initialize WebSocket hub
	wsHub := ws.NewHub()

	// Initialize repositories
	userRepo := repository.NewUserRepo(db)
	messageRepo := repository.NewMessageRepo(db)

	// Initialize services
	socialSvc := service.NewSocialService(st, userRepo)
	authSvc := service.NewAuthService(userRepo, socialSvc, cfg.JWTSecret)
	presence := service.NewPresenceTracker(st)
	sessions := service.NewSessionCoordinator(st)
	relay := service.NewNotificationRelay(st)
	invites := service.NewInviteBroker(st, sessions, relay)
	conversations := service.NewConversationAggregator(messageRepo, st)

	// Create router with container
	container := &rest.Container{
		AuthService:   authSvc,
		Presence:      presence,
		Invites:       invites,
		Sessions:      sessions,
		Relay:         relay,
		Conversations: conversations,
		Social:        socialSvc,
		Users:         userRepo,
		WSHub:         wsHub,
	}

	router := rest.NewRouter(container)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen and serve")
		}
	}()

	// Wait for interrupt
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited")
}
