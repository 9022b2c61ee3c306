package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/jamesruggles/scanmanager/internal/config"
	"github.com/jamesruggles/scanmanager/internal/database"
	"github.com/jamesruggles/scanmanager/internal/migrate"
	"github.com/jamesruggles/scanmanager/internal/report"
)

// Server is the administrative HTTP surface of the manager database.
type Server struct {
	cfg       *config.Config
	db        *database.DB
	hub       *Hub
	migrator  *migrate.Migrator
	reportGen *report.Generator
	mux       *http.ServeMux

	// migrating is held while a migration request runs.
	migrating sync.Mutex
}

func New(cfg *config.Config, db *database.DB) (*Server, error) {
	hub := NewHub()

	m, err := migrate.New(db,
		migrate.WithStateDir(cfg.StateDir),
		migrate.WithObserver(hub),
		migrate.WithLogger(slog.Default().With("component", "migrate")),
	)
	if err != nil {
		return nil, fmt.Errorf("creating migrator: %w", err)
	}

	s := &Server{
		cfg:       cfg,
		db:        db,
		hub:       hub,
		migrator:  m,
		reportGen: report.NewGenerator(db, cfg.Reports.Directory),
		mux:       http.NewServeMux(),
	}

	s.registerRoutes()
	return s, nil
}

// Handler returns the routes wrapped in the request middleware.
func (s *Server) Handler() http.Handler {
	return recoveryMiddleware(securityHeaders(loggingMiddleware(s.mux)))
}

// Close stops the migration event feed.
func (s *Server) Close() {
	s.hub.Close()
}

func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	slog.Info("starting server", "addr", addr)

	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) registerRoutes() {
	// API
	s.mux.HandleFunc("/api/schema", s.handleAPISchema)
	s.mux.HandleFunc("/api/migrate", s.handleAPIMigrate)
	s.mux.HandleFunc("/api/backup", s.handleAPIBackup)
	s.mux.HandleFunc("/api/report", s.handleAPIReport)

	// WebSocket
	s.mux.HandleFunc("/ws", s.handleWebSocket)
}
