package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/makwanas/TripHouse/internal/blob"
	"github.com/makwanas/TripHouse/internal/cache"
	"github.com/makwanas/TripHouse/internal/config"
	"github.com/makwanas/TripHouse/internal/queue"
	"github.com/makwanas/TripHouse/internal/redisholder"
	"github.com/makwanas/TripHouse/internal/repository/photo"
)

const file = "config.json"

func initSentry(cfg *config.SentryConfig, version string) error {
	return sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.SentryDSN,
		Environment: cfg.Environment,
		Release:     version,
	})
}

// The derivative worker runs as its own long-lived process, decoupled from
// the API. It shares nothing with the API process but the broker, the blob
// store and the photos table.
func main() {
	cfg := config.NewConfig()
	err := cfg.Read(file)
	if err != nil {
		log.Fatal(err)
	}

	err = initSentry(&cfg.Sentry, "v1")
	if err != nil {
		log.Fatalf("sentry.Init: %s", err)
	}
	defer sentry.Flush(2 * time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo, err := photo.New(ctx, cfg.Database.DSN)
	if err != nil {
		log.Fatal(err)
	}
	defer repo.Close()

	holder, err := redisholder.Build(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}

	names := cache.NewCache("triphouse:blobs", holder)
	storage := blob.NewStorage(&cfg.Storage, names)
	defer storage.Close()

	worker := queue.NewWorker(holder, cfg.Worker, storage, repo)
	if err := worker.Start(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("[photo-worker] stopped: %v", err)
	}
	log.Printf("[photo-worker] shut down")
}
