package main // Entry point package

import (
	"context"
	"log" // Logging library
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/iliyamo/leisure-shows/internal/app"
	"github.com/iliyamo/leisure-shows/internal/config"
	"github.com/iliyamo/leisure-shows/internal/database"
	"github.com/iliyamo/leisure-shows/internal/handler"
	"github.com/iliyamo/leisure-shows/internal/middleware"
	"github.com/iliyamo/leisure-shows/internal/queue"
	"github.com/iliyamo/leisure-shows/internal/repository"
	"github.com/iliyamo/leisure-shows/internal/service"
)

func main() {
	cfg := config.Load(os.Args[1:]) // Load .env, CLI and environment config

	pool, err := database.Open(database.Options{
		User:           cfg.DBUser,
		Password:       cfg.DBPass,
		Host:           cfg.DBHost,
		Port:           cfg.DBPort,
		Name:           cfg.DBName,
		Size:           cfg.DBPoolSize,
		Timezone:       cfg.DBTimezone,
		ConnectTimeout: cfg.DBConnectTimeout,
	})
	if err != nil {
		log.Fatalf("Cannot start server: %v", err)
	}
	defer pool.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pub handler.ViewPublisher
	if cfg.ViewEvents {
		pub = service.NewPublisher(cfg.AMQPURL)
	}

	// Redis is optional; a nil client turns both middlewares into pass-through.
	rdb := config.NewRedisClient(config.LoadRedisConfig())
	if rdb != nil {
		defer rdb.Close()
	}
	pages := app.PageChains(
		middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb),
		middleware.NewRedisCache(config.LoadCacheConfig(), rdb),
		cfg.ViewEvents,
	)

	h := handler.NewShowHandler(repository.NewShowRepo(pool), pub)
	e := app.NewEcho(h, pool, app.Options{Debug: cfg.Env == "dev", Pages: pages})
	srv := app.NewServer(e, pool, ":"+cfg.Port)

	if cfg.ViewEvents {
		consumer := &queue.Consumer{URL: cfg.AMQPURL, Log: queue.ViewLog{Path: filepath.Join("logs", "views.log")}}
		srv.Go(ctx, func(ctx context.Context) { _ = consumer.Run(ctx) }) // only once the database answered
	}

	log.Printf("starting on :%s (env=%s, pool=%d)", cfg.Port, cfg.Env, pool.Size())
	if err := srv.Run(ctx); err != nil {
		log.Printf("Cannot start server: %v", err)
		pool.Close()
		os.Exit(1)
	}
}
