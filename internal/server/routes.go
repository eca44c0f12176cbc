package server

import (
	"encoding/json"
	"errors"
	"log"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/shopspring/decimal"

	"github.com/gatundu2013/crash-sub000/internal/game"
	"github.com/gatundu2013/crash-sub000/internal/store"
)

func (s *FiberServer) RegisterFiberRoutes() {
	s.App.Use(cors.New(cors.Config{
		AllowOrigins:     "*",
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS,PATCH",
		AllowHeaders:     "Accept,Authorization,Content-Type",
		AllowCredentials: false, // credentials require explicit origins
		MaxAge:           300,
	}))

	s.App.Get("/health", s.healthHandler)

	api := s.App.Group("/api/v1")

	api.Get("/game/state", s.getGameStateHandler)
	api.Get("/game/history", s.getHistoryHandler)
	api.Get("/rounds/:roundId", s.getRoundHandler)
	api.Post("/verify", s.verifyHandler)
	api.Get("/user/:userId/balance", s.getUserBalanceHandler)
	api.Post("/user/:userId/balance", s.setUserBalanceHandler)

	s.App.Get("/ws", websocket.New(s.gameWebSocketHandler))
}

func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	health := fiber.Map{
		"database": s.db.Health(),
		"game": fiber.Map{
			"phase":             s.state.Phase(),
			"connected_clients": s.hub.GetClientCount(),
		},
	}
	if s.cache != nil {
		health["cache"] = s.cache.Health()
	}
	return c.JSON(health)
}

func (s *FiberServer) getGameStateHandler(c *fiber.Ctx) error {
	return c.JSON(s.state.Snapshot())
}

func (s *FiberServer) getHistoryHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"recent_multipliers": s.state.History(),
	})
}

// getRoundHandler serves the round analytics document; the server seed
// is only present once the round has been revealed.
func (s *FiberServer) getRoundHandler(c *fiber.Ctx) error {
	roundID := c.Params("roundId")
	rec, err := s.store.GetRound(c.Context(), roundID)
	if errors.Is(err, store.ErrRoundNotFound) {
		return c.Status(404).JSON(fiber.Map{"error": "Round not found"})
	}
	if err != nil {
		log.Printf("[SERVER] Round lookup failed: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "Round lookup failed"})
	}
	return c.JSON(rec)
}

// verifyHandler recomputes a crash point from revealed seeds so players
// can confirm the published outcome.
func (s *FiberServer) verifyHandler(c *fiber.Ctx) error {
	var req struct {
		ServerSeed        string  `json:"server_seed"`
		ClientSeed        string  `json:"client_seed"`
		ClaimedMultiplier float64 `json:"claimed_multiplier"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.ServerSeed == "" {
		return c.Status(400).JSON(fiber.Map{"error": "Server seed is required"})
	}

	outcome := game.ComputeOutcome(req.ServerSeed, req.ClientSeed)
	return c.JSON(fiber.Map{
		"combined_hash":    outcome.CombinedHash,
		"final_multiplier": outcome.FinalMultiplier,
		"valid":            game.VerifyOutcome(req.ServerSeed, req.ClientSeed, req.ClaimedMultiplier),
	})
}

func (s *FiberServer) getUserBalanceHandler(c *fiber.Ctx) error {
	userID := c.Params("userId")
	balance, err := s.store.GetBalance(c.Context(), userID)
	if err != nil {
		log.Printf("[SERVER] Balance lookup failed: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "Balance lookup failed"})
	}
	return c.JSON(fiber.Map{
		"user_id": userID,
		"balance": balance,
	})
}

// setUserBalanceHandler sets a user's balance (for testing/admin).
func (s *FiberServer) setUserBalanceHandler(c *fiber.Ctx) error {
	userID := c.Params("userId")

	var body struct {
		Username string  `json:"username"`
		Balance  float64 `json:"balance"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(400).JSON(fiber.Map{"error": "Invalid request body"})
	}

	err := s.store.SetBalance(c.Context(), userID, body.Username, decimal.NewFromFloat(body.Balance).Round(2))
	if err != nil {
		log.Printf("[SERVER] Balance update failed: %v", err)
		return c.Status(500).JSON(fiber.Map{"error": "Failed to set balance"})
	}

	return c.JSON(fiber.Map{
		"user_id": userID,
		"balance": body.Balance,
		"message": "Balance updated successfully",
	})
}

type wsInbound struct {
	Type        string  `json:"type"`
	Stake       float64 `json:"stake,omitempty"`
	AutoCashout float64 `json:"auto_cashout,omitempty"`
	ClientSeed  string  `json:"client_seed,omitempty"`
	BetID       string  `json:"bet_id,omitempty"`
}

// gameWebSocketHandler serves the realtime channel: the round snapshot
// on connect, then staged bet/cashout intake for the connection's user.
func (s *FiberServer) gameWebSocketHandler(conn *websocket.Conn) {
	userID := conn.Query("user_id", "anonymous")
	username := conn.Query("username", userID)

	client := s.hub.RegisterClient(conn, userID)
	defer s.hub.UnregisterClient(client)

	client.Send(game.Event{
		Type: game.EventConnectSnapshot,
		Data: s.state.Snapshot(),
	})

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			log.Printf("[WS] Read error for user %s: %v", userID, err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg wsInbound
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "place_bet":
			s.bets.Stage(game.PlaceBetRequest{
				UserID:      userID,
				Username:    username,
				Stake:       msg.Stake,
				AutoCashout: msg.AutoCashout,
				ClientSeed:  msg.ClientSeed,
			}, client)

		case "request_cashout":
			s.cashouts.Stage(game.CashoutRequest{
				UserID: userID,
				BetID:  msg.BetID,
			}, client)

		case "ping":
			client.Send(game.Event{Type: "pong"})
		}
	}
}
