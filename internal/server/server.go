package server

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"maniafly/internal/cache"
	"maniafly/internal/database"
	"maniafly/internal/game"
	"maniafly/internal/store"
	"maniafly/internal/wallet"
)

type FiberServer struct {
	*fiber.App

	db     database.Service
	cache  cache.Service
	wallet wallet.Store
	audit  store.Store
	engine *game.Orchestrator
	hub    *game.Hub
}

func New() *FiberServer {
	db := database.New()

	redisService := cache.New()
	if redisService == nil {
		log.Fatal("[SERVER] Redis is required: it backs the balance ledger")
	}

	redisClient := redisService.GetClient()
	walletStore := wallet.NewRedis(redisClient)
	auditStore := store.NewPostgres(db.Pool())
	snapshots := game.NewRedisSnapshots(redisClient)

	hub := game.NewHub()
	engine := game.NewOrchestrator(game.ConfigFromEnv(), walletStore, auditStore, snapshots, hub)

	server := &FiberServer{
		App: fiber.New(fiber.Config{
			ServerHeader:  "maniafly",
			AppName:       "maniafly",
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  10 * time.Second,
			IdleTimeout:   120 * time.Second,
			StrictRouting: false,
		}),

		db:     db,
		cache:  redisService,
		wallet: walletStore,
		audit:  auditStore,
		engine: engine,
		hub:    hub,
	}

	server.App.Use(recover.New())
	server.App.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
	}))

	go hub.Run()
	if err := engine.Start(context.Background()); err != nil {
		log.Fatalf("[SERVER] Engine start failed: %v", err)
	}

	log.Println("[SERVER] Round engine started")

	return server
}

// Shutdown stops the round engine (voiding and refunding any round in
// flight) before closing connections.
func (s *FiberServer) Shutdown() error {
	log.Println("[SERVER] Shutting down...")

	if s.engine != nil {
		s.engine.Stop()
	}
	if s.hub != nil {
		s.hub.Stop()
	}
	if s.cache != nil {
		s.cache.Close()
	}
	if s.db != nil {
		s.db.Close()
	}

	return nil
}
