package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "modernc.org/sqlite" // sqlite driver for the splatalogue catalog

	"github.com/jvo203/fits-web-ql-sub000/internal/api"
	"github.com/jvo203/fits-web-ql-sub000/internal/broker"
	"github.com/jvo203/fits-web-ql-sub000/internal/config"
	"github.com/jvo203/fits-web-ql-sub000/internal/molecule"
	"github.com/jvo203/fits-web-ql-sub000/internal/registry"
)

func main() {
	// optional .env for local development
	_ = godotenv.Load()

	cfg := config.Get()

	log.Printf("starting %s (%s mode)...", api.ServerString, cfg.Server.Mode)

	if err := os.MkdirAll(cfg.Cache.Dir, 0o755); err != nil {
		log.Fatalf("cannot create cache directory %s: %v", cfg.Cache.Dir, err)
	}

	// a missing catalog only disables molecule lookups
	catalog, err := molecule.Open(cfg.Catalog.Path)
	if err != nil {
		log.Printf("splatalogue catalog unavailable: %v", err)
		catalog = nil
	} else {
		defer catalog.Close()
	}

	reg := registry.New()

	timeouts := broker.Timeouts{
		Session:     time.Duration(cfg.Eviction.SessionTimeoutSec) * time.Second,
		OrphanSweep: time.Duration(cfg.Eviction.OrphanSweepSec) * time.Second,
		Dummy:       time.Duration(cfg.Eviction.DummyTimeoutSec) * time.Second,
	}
	b := broker.New(reg, catalog, timeouts)
	b.Start()
	defer b.Stop()

	server := api.NewServer(reg, b, cfg)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server failed: %v", err)
		}
	case sig := <-quit:
		log.Printf("received %v, shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(),
			time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}
}
