// Package api is the HTTP shell over the ingestion core: it maps URLs to
// dataset identifiers, spawns ingestion workers, upgrades viewer WebSocket
// sessions and serves the ancillary JSON queries.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jvo203/fits-web-ql-sub000/internal/broker"
	"github.com/jvo203/fits-web-ql-sub000/internal/config"
	"github.com/jvo203/fits-web-ql-sub000/internal/registry"
)

// ServerString identifies the service in the generated pages.
const ServerString = "FITSWebQL v1.2.0"

// VersionString is the static asset cache-buster.
const VersionString = "SV2018-06-08.0"

// Server wires the HTTP surface over the registry and the session broker.
type Server struct {
	registry *registry.Registry
	broker   *broker.Broker
	cfg      *config.Config
	logger   *log.Logger

	httpServer *http.Server
}

// NewServer creates the HTTP shell.
func NewServer(reg *registry.Registry, b *broker.Broker, cfg *config.Config) *Server {
	return &Server{
		registry: reg,
		broker:   b,
		cfg:      cfg,
		logger:   log.New(log.Writer(), "[HTTP] ", log.LstdFlags),
	}
}

// Start runs the HTTP server until Shutdown is called.
func (s *Server) Start() error {
	r := mux.NewRouter()

	r.HandleFunc("/{path}/FITSWebQL.html", s.handleEntry).Methods("GET", "PUT")
	r.HandleFunc("/get_directory", s.handleDirectory).Methods("GET")
	r.HandleFunc("/get_molecules", s.handleMolecules).Methods("GET")
	r.HandleFunc("/websocket/{id:.*}", s.handleWebSocket)
	r.Handle("/metrics", promhttp.Handler())
	r.PathPrefix("/").Handler(http.FileServer(http.Dir(s.cfg.Server.StaticDir)))

	addr := fmt.Sprintf("%s:%s", s.cfg.Server.Interface, s.cfg.Server.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(s.cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.Server.IdleTimeoutSec) * time.Second,
	}

	s.logger.Printf("%s listening on %s", ServerString, addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// longPoll is the bounded wait on a cube read lock.
func (s *Server) longPoll() time.Duration {
	return time.Duration(s.cfg.Ingest.LongPollTimeoutMs) * time.Millisecond
}
