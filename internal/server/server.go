package server

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/gatundu2013/crash-sub000/internal/cache"
	"github.com/gatundu2013/crash-sub000/internal/database"
	"github.com/gatundu2013/crash-sub000/internal/game"
	"github.com/gatundu2013/crash-sub000/internal/store"
)

type FiberServer struct {
	*fiber.App

	db    database.Service
	cache cache.Service
	store *store.PostgresStore

	state     *game.RoundState
	bets      *game.BetIntake
	cashouts  *game.CashoutDesk
	lifecycle *game.Lifecycle
	hub       *game.Hub

	cancel context.CancelFunc
	done   chan struct{}
}

func New() *FiberServer {
	db := database.New()
	pg := store.NewPostgresStore(db.Pool())

	redisService := cache.New()

	hub := game.NewHub()
	cfg := game.ConfigFromEnv()
	state := game.NewRoundState(cfg, hub)
	bets := game.NewBetIntake(cfg, pg, state)
	cashouts := game.NewCashoutDesk(cfg, pg, state)

	var roundCache game.RoundCache
	if redisService != nil {
		roundCache = cache.NewRoundCache(redisService.GetClient())
	}

	lifecycle := game.NewLifecycle(cfg, state, bets, cashouts, pg, hub, roundCache)

	server := &FiberServer{
		App: fiber.New(fiber.Config{
			ServerHeader:  "crash-sub000",
			AppName:       "crash-sub000",
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  10 * time.Second,
			IdleTimeout:   120 * time.Second,
			StrictRouting: false,
		}),

		db:        db,
		cache:     redisService,
		store:     pg,
		state:     state,
		bets:      bets,
		cashouts:  cashouts,
		lifecycle: lifecycle,
		hub:       hub,
		done:      make(chan struct{}),
	}

	server.App.Use(recover.New())
	server.App.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
	}))

	ctx, cancel := context.WithCancel(context.Background())
	server.cancel = cancel

	go hub.Run()
	go state.Run(server.done)
	go bets.Run(server.done)
	go cashouts.Run(server.done)
	go func() {
		if err := lifecycle.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("[SERVER] Round loop exited: %v", err)
		}
	}()

	log.Println("[SERVER] Round loop and processors started")

	return server
}

// Shutdown stops the round loop and closes external connections.
func (s *FiberServer) Shutdown() error {
	log.Println("[SERVER] Shutting down...")

	s.cancel()
	close(s.done)

	if s.cache != nil {
		s.cache.Close()
	}
	if s.db != nil {
		s.db.Close()
	}

	return nil
}
