package server

import (
	"errors"
	"log"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"maniafly/internal/game"
	"maniafly/internal/store"
)

// statusForError maps engine errors to HTTP status codes. Every rejection
// keeps its machine-readable kind so the client can explain why.
func statusForError(err error) int {
	switch {
	case errors.Is(err, game.ErrInsufficientFunds),
		errors.Is(err, game.ErrDuplicateBet),
		errors.Is(err, game.ErrInvalidAmount):
		return fiber.StatusBadRequest
	case errors.Is(err, game.ErrRoundClosed),
		errors.Is(err, game.ErrRoundNotStarted),
		errors.Is(err, game.ErrRoundAlreadyCrashed),
		errors.Is(err, game.ErrNoActiveBet):
		return fiber.StatusConflict
	case errors.Is(err, game.ErrBalanceStoreUnavailable),
		errors.Is(err, game.ErrEntropyUnavailable):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func errorJSON(c *fiber.Ctx, err error) error {
	return c.Status(statusForError(err)).JSON(fiber.Map{
		"error":   game.ErrorKind(err),
		"message": err.Error(),
	})
}

// statusHandler returns the poll-friendly engine state. Never includes the
// crash point or server seed of a live round.
func (s *FiberServer) statusHandler(c *fiber.Ctx) error {
	return c.JSON(s.engine.Status())
}

func (s *FiberServer) placeBetHandler(c *fiber.Ctx) error {
	var req game.BetRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.PlayerID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "player_id is required",
		})
	}

	bet, err := s.engine.PlaceBet(c.Context(), req.PlayerID, req.Amount, req.AutoCashout)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(game.BetReceipt{BetID: bet.ID, RoundID: bet.RoundID})
}

func (s *FiberServer) cashoutHandler(c *fiber.Ctx) error {
	var req game.CashoutRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if req.PlayerID == "" || req.RoundID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "player_id and round_id are required",
		})
	}

	multiplier, payout, err := s.engine.CashOut(c.Context(), req.PlayerID, req.RoundID)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(game.CashoutReceipt{Multiplier: multiplier, Payout: payout})
}

// verifyHandler serves the revealed seed and recomputed crash point for a
// crashed round so anyone can check the outcome was committed before play.
func (s *FiberServer) verifyHandler(c *fiber.Ctx) error {
	roundID := c.Params("roundId")

	round, err := s.audit.GetRound(c.Context(), roundID)
	if err != nil {
		if errors.Is(err, store.ErrRoundNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": "round not found",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "verification unavailable",
		})
	}
	if round.Status != store.RoundCrashed {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "round not crashed yet",
		})
	}

	cfg := game.ConfigFromEnv()
	return c.JSON(game.VerifyReport{
		RoundID:    round.ID,
		SeedHash:   round.SeedHash,
		ServerSeed: round.ServerSeed,
		CrashPoint: round.CrashPoint,
		Valid:      game.VerifyCrashPoint(round.ServerSeed, round.ID, cfg.HouseEdge, cfg.MaxMultiplier, round.CrashPoint),
	})
}

func (s *FiberServer) getBalanceHandler(c *fiber.Ctx) error {
	userID := c.Params("userId")
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "user ID is required",
		})
	}

	balance, err := s.wallet.Balance(c.Context(), userID)
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "balance unavailable",
		})
	}
	return c.JSON(fiber.Map{
		"user_id": userID,
		"balance": balance,
	})
}

// setBalanceHandler overwrites a balance, for testing and admin tooling.
func (s *FiberServer) setBalanceHandler(c *fiber.Ctx) error {
	userID := c.Params("userId")
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "user ID is required",
		})
	}

	var body struct {
		Balance float64 `json:"balance"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	if err := s.wallet.SetBalance(c.Context(), userID, body.Balance); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "failed to set balance",
		})
	}
	return c.JSON(fiber.Map{
		"user_id": userID,
		"balance": body.Balance,
	})
}

// gameWebSocketHandler streams live round events. Bets and cashouts still go
// through the HTTP endpoints; the socket is read-only apart from pings.
func (s *FiberServer) gameWebSocketHandler(conn *websocket.Conn) {
	playerID := conn.Query("player_id", "anonymous")

	client := s.hub.RegisterClient(conn, playerID)
	client.SendEvent(game.Event{Type: "initial_state", Data: s.engine.Status()})

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			s.hub.UnregisterClient(conn)
			return
		}
		if messageType == websocket.TextMessage && string(message) == `{"type":"ping"}` {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"pong"}`)); err != nil {
				log.Printf("[WS] Pong to %s: %v", playerID, err)
			}
		}
	}
}
