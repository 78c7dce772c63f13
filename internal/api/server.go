// Package api is the HTTP surface: corpus generation, timeline inspection,
// inline validation, extraction and scoring, and rule management.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer builds the router over deps.
func NewServer(cfg domain.ServerConfig, deps Deps) *Server {
	handler := NewHandler(deps)
	router := chi.NewRouter()

	router.Use(CORSMiddleware)
	router.Use(RecoverMiddleware)
	router.Use(TracingMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(middleware.RealIP)
	router.Use(middleware.Compress(5))

	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)
	router.Get("/metrics", handler.ServeMetrics)

	// Generation
	router.Get("/patterns", handler.ListPatterns)
	router.Post("/corpus", handler.GenerateCorpus)

	// Stored users
	router.Get("/users", handler.ListUsers)
	router.Route("/users/{id}", func(r chi.Router) {
		r.Get("/", handler.GetUser)
		r.Get("/timeline", handler.GetTimeline)
		r.Get("/features", handler.GetFeatures)
		r.Post("/assess", handler.AssessUser)
	})

	// Inline timelines
	router.Post("/timelines/validate", handler.ValidateTimeline)
	router.Post("/features/extract", handler.ExtractFeatures)
	router.Post("/assess", handler.AssessTimeline)
	router.Get("/assessments/{id}", handler.GetAssessment)

	// Rule management
	router.Get("/rules", handler.ListRules)
	router.Get("/rules/{id}", handler.GetRule)
	router.Post("/rules", handler.CreateRule)
	router.Post("/rules/reload", handler.ReloadRules)

	// Typology management
	router.Get("/typologies", handler.ListTypologies)
	router.Get("/typologies/{id}", handler.GetTypology)
	router.Post("/typologies", handler.CreateTypology)
	router.Put("/typologies/{id}", handler.UpdateTypology)
	router.Delete("/typologies/{id}", handler.DeleteTypology)
	router.Post("/typologies/reload", handler.ReloadTypologies)

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start listens until Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
