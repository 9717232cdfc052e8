package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"github.com/terra-clan/bid-engine/internal/config"
	"github.com/terra-clan/bid-engine/internal/engine"
	"github.com/terra-clan/bid-engine/internal/health"
)

// Server represents the HTTP API server
type Server struct {
	config         config.ServerConfig
	router         *chi.Mux
	engine         engine.Service
	health         *health.Registry
	validate       *validator.Validate
	authMiddleware *AuthMiddleware
}

// NewServer creates a new API server
func NewServer(
	cfg config.ServerConfig,
	authCfg config.AuthConfig,
	svc engine.Service,
	registry *health.Registry,
) *Server {
	s := &Server{
		config:         cfg,
		engine:         svc,
		health:         registry,
		validate:       validator.New(),
		authMiddleware: NewAuthMiddleware(authCfg),
	}
	s.setupRouter()
	return s
}

// Router returns the configured router
func (s *Server) Router() http.Handler {
	return s.router
}

// setupRouter configures all routes and middleware
func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check (outside versioned API - public)
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware.Authenticate)

		// Project profile review
		r.Route("/bids", func(r chi.Router) {
			r.Post("/{bidId}/status", s.handleUpdateStatus)
			r.Get("/project/{parentId}/bid", s.handleListProjectBids)
		})

		// Interview requests
		r.Route("/interviews/{parentId}", func(r chi.Router) {
			r.Get("/interview-bids", s.handleListInterviewBids)
			r.Post("/interview-bids/{bidId}", s.handleSelectWinner)
		})

		// Intake
		r.Route("/parents", func(r chi.Router) {
			r.Get("/", s.handleListParents)
			r.Post("/", s.handleCreateParent)
			r.Get("/{parentId}", s.handleGetParent)
			r.Post("/{parentId}/bids", s.handlePlaceBid)
		})
	})

	s.router = r
}

// loggingMiddleware logs HTTP requests using slog
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			slog.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
				"remote_addr", r.RemoteAddr,
			)
		}()

		next.ServeHTTP(ww, r)
	})
}
