package server

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"ruleta/internal/game"
)

const (
	historyLimit  = 12
	lookupTimeout = 3 * time.Second
)

func (s *FiberServer) healthHandler(c *fiber.Ctx) error {
	snapshot := s.snapshots.Snapshot()
	round := fiber.Map{
		"status":            "replica",
		"phase":             snapshot.Phase,
		"round_id":          snapshot.RoundID,
		"connected_clients": s.hub.GetClientCount(),
	}
	if s.clockEnabled {
		round["status"] = "running"
	}

	health := fiber.Map{
		"database": report(s.db),
		"cache":    report(s.cache),
		"round":    round,
	}
	return c.JSON(health)
}

func report(h HealthReporter) map[string]string {
	if h == nil {
		return map[string]string{"status": "disabled"}
	}
	return h.Health()
}

// roundView is a persisted round plus its countdown.
type roundView struct {
	ID               string     `json:"id"`
	GameID           string     `json:"id_juego"`
	Phase            game.Phase `json:"estado"`
	WinningNumber    *int       `json:"numero_ganador"`
	WinningColor     *string    `json:"color_ganador"`
	WinningParity    *string    `json:"paridad_ganadora"`
	WinningRange     *string    `json:"rango_ganador"`
	OpenedAt         time.Time  `json:"inicio_en"`
	ClosesAt         time.Time  `json:"cierre_en"`
	ResolvesAt       time.Time  `json:"resuelta_en"`
	EndsAt           time.Time  `json:"finaliza_en"`
	SecondsRemaining int        `json:"secondsRemaining"`
}

func newRoundView(r *game.Round, now time.Time) *roundView {
	s := r.Snapshot(now)
	return &roundView{
		ID:               r.ID,
		GameID:           r.GameID,
		Phase:            r.Phase,
		WinningNumber:    s.WinningNumber,
		WinningColor:     s.WinningColor,
		WinningParity:    s.WinningParity,
		WinningRange:     s.WinningRange,
		OpenedAt:         r.OpenedAt,
		ClosesAt:         r.ClosesAt,
		ResolvesAt:       r.ResolvesAt,
		EndsAt:           r.EndsAt,
		SecondsRemaining: s.SecondsRemaining,
	}
}

type statusResponse struct {
	Round        *roundView `json:"round"`
	History      []int      `json:"history"`
	RoundError   *string    `json:"roundError"`
	HistoryError *string    `json:"historyError"`
}

// roundStatusHandler reports the latest round and recent winning numbers.
// Each lookup fails on its own; only a double failure is a 500.
func (s *FiberServer) roundStatusHandler(c *fiber.Ctx) error {
	gameID := c.Query("gameId")
	ctx, cancel := context.WithTimeout(c.UserContext(), lookupTimeout)
	defer cancel()

	resp := statusResponse{History: []int{}}

	round, err := s.rounds.LatestRound(ctx, gameID)
	switch {
	case err == nil:
		resp.Round = newRoundView(round, time.Now())
	case errors.Is(err, game.ErrRoundNotFound):
	default:
		s.log.Error("round lookup", zap.String("game_id", gameID), zap.Error(err))
		code := game.CodeRoundLookupFailed
		resp.RoundError = &code
	}

	history, err := s.rounds.History(ctx, gameID, historyLimit)
	if err != nil {
		s.log.Error("history lookup", zap.String("game_id", gameID), zap.Error(err))
		code := "HISTORY_LOOKUP_FAILED"
		resp.HistoryError = &code
	} else {
		resp.History = history
	}

	status := fiber.StatusOK
	if resp.RoundError != nil && resp.HistoryError != nil {
		status = fiber.StatusInternalServerError
	}

	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Status(status).JSON(resp)
}

func (s *FiberServer) liveRoundHandler(c *fiber.Ctx) error {
	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.JSON(s.snapshots.Snapshot())
}

func (s *FiberServer) placeBetHandler(c *fiber.Ctx) error {
	var req game.BetRequest
	if err := json.Unmarshal(c.Body(), &req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "INVALID_JSON",
		})
	}

	receipt, err := s.bets.Place(c.UserContext(), req)
	if err != nil {
		var betErr *game.BetError
		if !errors.As(err, &betErr) {
			s.log.Error("place bet", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": game.CodeBetSaveFailed,
			})
		}
		body := fiber.Map{"error": betErr.Code}
		if betErr.Coins != nil {
			body["coins"] = *betErr.Coins
		}
		return c.Status(betErr.Status).JSON(body)
	}

	return c.JSON(fiber.Map{
		"ok":      true,
		"betId":   receipt.BetID,
		"roundId": receipt.RoundID,
		"coins":   receipt.Coins,
	})
}

func (s *FiberServer) coinsHandler(c *fiber.Ctx) error {
	userID := c.Query("userId")
	if userID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": game.CodeInvalidInput,
		})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), lookupTimeout)
	defer cancel()

	coins, err := s.balances.Balance(ctx, userID)
	if err != nil {
		s.log.Error("coins lookup", zap.String("user_id", userID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": game.CodeCoinsLookupFailed,
		})
	}
	return c.JSON(fiber.Map{"coins": coins})
}

func (s *FiberServer) upgradeHandler(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// roundWebSocketHandler pushes the live snapshot on connect; the hub sends
// every later one. Viewers may only ping.
func (s *FiberServer) roundWebSocketHandler(conn *websocket.Conn) {
	viewerID := conn.Query("user_id", "anonymous")

	client := s.hub.RegisterClient(conn, viewerID)
	defer s.hub.UnregisterClient(conn)

	if err := client.SendSnapshot(s.snapshots.Snapshot()); err != nil {
		s.log.Debug("initial snapshot", zap.String("viewer", viewerID), zap.Error(err))
		return
	}

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			s.log.Debug("websocket closed", zap.String("viewer", viewerID), zap.Error(err))
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg game.WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}
		if msg.Type == "ping" {
			if err := client.Send(game.WSMessage{Type: "pong"}); err != nil {
				return
			}
		}
	}
}
