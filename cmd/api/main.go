package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"ruleta/internal/cache"
	"ruleta/internal/config"
	"ruleta/internal/database"
	"ruleta/internal/events"
	"ruleta/internal/game"
	"ruleta/internal/logger"
	"ruleta/internal/server"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log, err := logger.New("ruleta", cfg.Env)
	if err != nil {
		panic(fmt.Errorf("logger init: %w", err))
	}
	defer log.Sync()

	log.Info("starting service",
		zap.String("env", cfg.Env),
		zap.String("game", cfg.GameSlug),
		zap.Bool("clock", cfg.ClockEnabled),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer db.Close()
	log.Info("postgres connected")

	store := database.NewStore(db.Pool(), log)

	// Redis only carries snapshots between instances; a single instance runs without it.
	var relay *cache.SnapshotRelay
	var cacheHealth server.HealthReporter
	redisSvc, err := cache.New(ctx, cache.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, log)
	if err != nil {
		log.Warn("redis unavailable, snapshot relay disabled", zap.Error(err))
	} else {
		defer redisSvc.Close()
		cacheHealth = redisSvc
		relay = cache.NewSnapshotRelay(redisSvc.GetClient(), log)
	}

	publisher := events.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopicPrefix)
	defer publisher.Close()

	hub := game.NewHub(log)
	go hub.Run(ctx)

	buffer := game.NewSnapshotBuffer()
	sinks := game.Broadcasters{hub, buffer}

	var snapshots server.SnapshotSource = buffer
	// clockDone is closed once the clock has stopped and drained its settlements.
	clockDone := make(chan struct{})

	if cfg.ClockEnabled {
		opts := []game.ClockOption{
			game.WithBroadcaster(hub),
			game.WithBroadcaster(buffer),
			game.WithSettler(game.NewSettler(store, publisher, log)),
			game.WithClockPublisher(publisher),
		}
		if relay != nil {
			go relay.Run(ctx)
			opts = append(opts, game.WithBroadcaster(relay))
		}

		clock := game.NewClock(game.ClockConfig{
			GameSlug: cfg.GameSlug,
			Durations: game.Durations{
				Open:    cfg.OpenDuration,
				Closed:  cfg.ClosedDuration,
				Resolve: cfg.ResolveDuration,
			},
			Tick:         cfg.TickInterval,
			StoreTimeout: cfg.StoreTimeout,
		}, store, log, opts...)

		if err := clock.Start(ctx); err != nil {
			log.Fatal("failed to start round clock", zap.Error(err))
		}
		go func() {
			defer close(clockDone)
			clock.Run(ctx)
		}()
		snapshots = clock
	} else {
		close(clockDone)
		if relay == nil {
			log.Fatal("clock disabled and redis unavailable, nothing would drive rounds")
		}
		gameID, err := store.GameIDBySlug(ctx, cfg.GameSlug)
		if err != nil {
			log.Fatal("failed to resolve game", zap.String("slug", cfg.GameSlug), zap.Error(err))
		}
		if s, ok, err := relay.Latest(ctx, gameID); err != nil {
			log.Warn("latest snapshot lookup", zap.Error(err))
		} else if ok {
			buffer.BroadcastSnapshot(gameID, s)
		}
		if err := relay.Subscribe(ctx, gameID, sinks); err != nil {
			log.Fatal("failed to subscribe to round updates", zap.Error(err))
		}
		log.Info("running as replica", zap.String("game_id", gameID))
	}

	gate := game.NewGate(store, log, game.WithGatePublisher(publisher))

	srv := server.New(server.Deps{
		Log:          log,
		Origin:       cfg.Origin,
		DB:           db,
		Cache:        cacheHealth,
		Rounds:       store,
		Balances:     store,
		Bets:         gate,
		Snapshots:    snapshots,
		Hub:          hub,
		ClockEnabled: cfg.ClockEnabled,
	})
	srv.RegisterFiberRoutes()

	go func() {
		log.Info("http server starting", zap.String("port", cfg.Port))
		if err := srv.Listen(":" + cfg.Port); err != nil {
			log.Error("http server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", zap.Error(err))
	}

	// Settlements write through the pool; it is closed by the deferred db.Close.
	<-clockDone
	log.Info("service stopped")
}
