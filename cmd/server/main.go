// cmd/server/main.go
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"

	"github.com/partydeck/partydeck/internal/auth"
	"github.com/partydeck/partydeck/internal/config"
	"github.com/partydeck/partydeck/internal/deck"
	"github.com/partydeck/partydeck/internal/engine"
	"github.com/partydeck/partydeck/internal/handlers"
	"github.com/partydeck/partydeck/internal/middleware"
	"github.com/partydeck/partydeck/internal/player"
	"github.com/partydeck/partydeck/internal/session"
	"github.com/partydeck/partydeck/internal/store"
)

func main() {
	cfg := config.Load()

	logger := logrus.New()
	logger.SetLevel(cfg.LogLevel)

	st, err := newStore(cfg, logger)
	if err != nil {
		log.Fatalf("store init failed: %v", err)
	}
	defer st.Close()

	tokens, err := auth.NewTokenIssuer(cfg.TokenSecret, cfg.TokenExpiry)
	if err != nil {
		log.Fatalf("token issuer init failed: %v", err)
	}

	sessions := session.NewManager(st, logger)
	decks := deck.NewAdapter(st, logger)
	players := player.NewRegistry(st, logger, nil)
	eng := engine.New(players, logger, nil)
	supervisor := &engine.Supervisor{
		Engine:   eng,
		Sessions: sessions,
		Decks:    decks,
		Players:  players,
		Interval: cfg.DistributeInterval,
		Logger:   logger,
	}
	defer supervisor.StopAll()

	srv := &handlers.Server{
		Sessions:     sessions,
		Decks:        decks,
		Players:      players,
		Engine:       eng,
		Supervisor:   supervisor,
		Tokens:       tokens,
		Logger:       logger,
		PollInterval: cfg.PollInterval,
	}

	mux := http.NewServeMux()
	srv.Register(mux)

	logger.Infof("Running on %s (store backend: %s)", cfg.Addr, cfg.StoreBackend)
	if err := http.ListenAndServe(cfg.Addr, middleware.LogMiddleware(logger)(mux)); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}

// newStore selects the document-store backend from config.
func newStore(cfg config.Config, logger *logrus.Logger) (store.Store, error) {
	switch cfg.StoreBackend {
	case "memory":
		return store.NewMemoryStore(), nil
	case "redis":
		return store.NewRedisStore(cfg.RedisAddr, cfg.RedisDB, logger)
	case "postgres":
		return store.NewPostgresStore(context.Background(), cfg.DatabaseURL, logger)
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", cfg.StoreBackend)
	}
}
