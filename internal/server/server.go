package server

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"ruleta/internal/game"
)

type HealthReporter interface {
	Health() map[string]string
}

type BetPlacer interface {
	Place(ctx context.Context, req game.BetRequest) (game.BetReceipt, error)
}

type BalanceReader interface {
	Balance(ctx context.Context, userID string) (int64, error)
}

// SnapshotSource is the live round view: the clock itself, or the relayed
// buffer on replicas.
type SnapshotSource interface {
	Snapshot() game.Snapshot
}

type Deps struct {
	Log    *zap.Logger
	Origin string

	// DB and Cache are optional; a nil reporter shows up as "disabled".
	DB    HealthReporter
	Cache HealthReporter

	Rounds    game.RoundReader
	Balances  BalanceReader
	Bets      BetPlacer
	Snapshots SnapshotSource
	Hub       *game.Hub

	// ClockEnabled reports whether this instance runs the round clock.
	ClockEnabled bool
}

type FiberServer struct {
	*fiber.App

	log          *zap.Logger
	origin       string
	db           HealthReporter
	cache        HealthReporter
	rounds       game.RoundReader
	balances     BalanceReader
	bets         BetPlacer
	snapshots    SnapshotSource
	hub          *game.Hub
	clockEnabled bool
}

func New(d Deps) *FiberServer {
	log := d.Log.Named("http")

	server := &FiberServer{
		App: fiber.New(fiber.Config{
			ServerHeader:  "ruleta",
			AppName:       "ruleta",
			ReadTimeout:   10 * time.Second,
			WriteTimeout:  10 * time.Second,
			IdleTimeout:   120 * time.Second,
			StrictRouting: false,
		}),

		log:          log,
		origin:       d.Origin,
		db:           d.DB,
		cache:        d.Cache,
		rounds:       d.Rounds,
		balances:     d.Balances,
		bets:         d.Bets,
		snapshots:    d.Snapshots,
		hub:          d.Hub,
		clockEnabled: d.ClockEnabled,
	}

	// Apply global middleware
	server.App.Use(recover.New())
	server.App.Use(limiter.New(limiter.Config{
		Max:        100,
		Expiration: 1 * time.Minute,
		// Viewers poll status and hold sockets; only bets are rate limited.
		Next: func(c *fiber.Ctx) bool {
			return c.Method() != fiber.MethodPost
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "RATE_LIMITED"})
		},
	}))

	return server
}

// Shutdown stops accepting requests and closes open connections.
func (s *FiberServer) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down http server")
	return s.App.ShutdownWithContext(ctx)
}
