package app

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/makwanas/TripHouse/cmd/migrate"
	"github.com/makwanas/TripHouse/internal/blob"
	"github.com/makwanas/TripHouse/internal/cache"
	"github.com/makwanas/TripHouse/internal/config"
	"github.com/makwanas/TripHouse/internal/queue"
	"github.com/makwanas/TripHouse/internal/redisholder"
	"github.com/makwanas/TripHouse/internal/repository/photo"
	"github.com/makwanas/TripHouse/internal/transport/handler"
	"github.com/makwanas/TripHouse/internal/transport/router"
	use_case "github.com/makwanas/TripHouse/internal/use-case"
)

type App struct {
	HttpServer *http.Server
}

// New wires the API process: metadata store, blob store, job producer and
// the HTTP surface. All connections are built here and handed down; nothing
// reaches for ambient state.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	err := migrate.Migrate(cfg.Database.DSN, migrate.Migrations)
	if err != nil {
		return nil, err
	}

	repo, err := photo.New(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}

	holder, err := redisholder.Build(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}

	names := cache.NewCache("triphouse:blobs", holder)
	storage := blob.NewStorage(&cfg.Storage, names)

	producer := queue.NewProducer(holder, cfg.Worker.Stream, cfg.Worker.MaxLen)

	uc := use_case.New(repo, storage, producer)

	h := handler.New(uc, cfg)
	r := router.NewRouter(h)

	s := &http.Server{
		Handler:      r,
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return &App{
		HttpServer: s,
	}, nil
}

func (a *App) Run() error {
	log.Printf("starting server")
	return a.HttpServer.ListenAndServe()
}
