// Command server hosts RTC models over HTTP: upload a configuration,
// inspect its diagnostics and validation report, step its rules at given
// instants and export it again.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"

	"github.com/liamcoop/rtc/internal/config"
	"github.com/liamcoop/rtc/internal/logger"
	"github.com/liamcoop/rtc/modelengine"
	"github.com/liamcoop/rtc/modelstore"
)

type Server struct {
	db      *sql.DB
	manager *modelengine.Manager
	metrics *Metrics
	router  *chi.Mux
}

// NewServer opens the configured store and loads every stored model
func NewServer(cfg *config.Config) (*Server, error) {
	var db *sql.DB
	var store modelstore.Store

	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		var err error
		db, err = sql.Open("postgres", cfg.Storage.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		store = modelstore.NewPostgresStore(db)
	default:
		store = modelstore.NewInMemoryStore()
	}

	s := NewServerWithStore(store, db, cfg.Storage.CacheTTL)

	logger.Info("loading models", "driver", cfg.Storage.Driver)
	if err := s.manager.LoadAll(); err != nil {
		logger.Warn("some models failed to load", "error", err)
	}
	logger.Info("models loaded", "count", len(s.manager.List()))

	return s, nil
}

// NewServerWithStore creates a server over an existing store. db is only
// used for health checks and may be nil.
func NewServerWithStore(store modelstore.Store, db *sql.DB, cacheTTL time.Duration) *Server {
	manager := modelengine.NewManager(store,
		modelengine.WithLogger(logger.Logger),
		modelengine.WithCache(modelstore.NewInMemoryCache(modelstore.CacheConfig{TTL: cacheTTL})),
	)

	s := &Server{
		db:      db,
		manager: manager,
	}
	s.metrics = NewMetrics(func() int { return len(s.manager.List()) })
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.metrics.instrument)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)
	r.Handle("/metrics", s.metrics.Handler())

	r.Post("/api/v1/expressions/evaluate", s.handleEvaluateExpression)

	r.Route("/api/v1/models", func(r chi.Router) {
		r.Get("/", s.handleListModels)
		r.Post("/", s.handleCreateModel)

		r.Route("/{modelId}", func(r chi.Router) {
			r.Get("/", s.handleGetModel)
			r.Put("/", s.handleUpdateModel)
			r.Delete("/", s.handleDeleteModel)

			r.Get("/export", s.handleExportModel)
			r.Get("/validate", s.handleValidateModel)
			r.Post("/step", s.handleStep)
			r.Post("/reset", s.handleReset)
		})
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	flag.Parse()

	if err := logger.Setup(context.Background(), logger.OptionsFromEnv()); err != nil {
		logger.Warn("logger setup", "error", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", "error", err)
	}
	if level, err := logger.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(level)
	}

	server, err := NewServer(cfg)
	if err != nil {
		logger.Fatal("failed to create server", "error", err)
	}
	if server.db != nil {
		defer server.db.Close()
	}

	httpServer := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", "port", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed to start", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := logger.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "logger shutdown: %v\n", err)
	}

	logger.Info("server stopped")
}
