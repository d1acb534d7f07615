package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"perpd/params"
	"perpd/pkg/api"
	"perpd/pkg/auth"
	"perpd/pkg/book"
	"perpd/pkg/engine"
	"perpd/pkg/events"
	"perpd/pkg/storage"
	"perpd/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	var logger *zap.Logger
	var err error
	if cfg.LogFile != "" {
		logger, err = util.NewLoggerWithFile(cfg.LogFile)
	} else {
		logger, err = util.NewLogger()
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	// ---- Storage ----
	users, err := storage.OpenUserStore(cfg.Storage.DBPath)
	if err != nil {
		sugar.Fatalw("user_store_open_failed", "path", cfg.Storage.DBPath, "err", err)
	}
	defer users.Close()

	// ---- Auth ----
	tokens := auth.NewTokenIssuer(cfg.Auth.JWTSecret, auth.DefaultTokenTTL, util.RealClock{})
	authSvc := auth.NewService(users, tokens, sugar)

	// ---- Engine ----
	bus := events.NewRing(cfg.Events.BusCapacity)
	eng := engine.New(book.New(util.RealClock{}), bus, sugar, util.RealClock{}, engine.Config{
		QueueSize: cfg.Engine.QueueSize,
		BatchMax:  cfg.Engine.BatchMax,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The engine outlives the signal context: handlers still submit
	// commands while the HTTP server drains, and each accepted command
	// must reach its terminal outcome. Only Close stops the loop.
	engineDone := make(chan struct{})
	go func() {
		eng.Run(context.Background())
		close(engineDone)
	}()

	sugar.Infow("engine_started",
		"queue_size", cfg.Engine.QueueSize,
		"batch_max", cfg.Engine.BatchMax,
		"bus_capacity", cfg.Events.BusCapacity)

	// ---- API Server ----
	server := api.NewServer(eng, authSvc, tokens, bus, cfg.API.AllowedOrigins, sugar)
	if err := server.Start(ctx, cfg.API.Addr); err != nil {
		sugar.Fatalw("api_server_failed", "err", err)
	}

	// Listener is down; stop accepting commands and let the engine
	// drain what is already queued.
	eng.Close()
	<-engineDone
	sugar.Info("shutdown complete")
}
