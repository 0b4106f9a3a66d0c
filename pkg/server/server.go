// Package server is the HTTP surface of the service: the generation
// endpoints (synchronous and SSE), the factoid catalog, votes and feedback,
// and the operational endpoints. Admission runs here: identity resolution,
// rate limiting, and budget reservation happen before the orchestrator is
// invoked.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dailyfactoid/factoid/pkg/config"
	"github.com/dailyfactoid/factoid/pkg/costguard"
	"github.com/dailyfactoid/factoid/pkg/factoid"
	"github.com/dailyfactoid/factoid/pkg/generator"
	"github.com/dailyfactoid/factoid/pkg/identity"
	"github.com/dailyfactoid/factoid/pkg/observability"
	"github.com/dailyfactoid/factoid/pkg/openrouter"
	"github.com/dailyfactoid/factoid/pkg/ratelimit"
	"github.com/dailyfactoid/factoid/pkg/telemetry"
)

// Server hosts the HTTP API.
type Server struct {
	cfg      *config.Config
	resolver *identity.Resolver
	limiter  *ratelimit.Limiter
	guard    *costguard.Guard
	gen      *generator.Generator
	store    factoid.Store
	upstream *openrouter.Client
	notifier *telemetry.Notifier
	metrics  *observability.Metrics
	logger   *slog.Logger

	httpServer *http.Server
}

// Deps bundles the collaborators the server routes traffic through.
type Deps struct {
	Resolver  *identity.Resolver
	Limiter   *ratelimit.Limiter
	Guard     *costguard.Guard
	Generator *generator.Generator
	Store     factoid.Store
	Upstream  *openrouter.Client
	Notifier  *telemetry.Notifier
	Metrics   *observability.Metrics
	Logger    *slog.Logger
}

// New assembles the server and its router.
func New(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		cfg:      cfg,
		resolver: deps.Resolver,
		limiter:  deps.Limiter,
		guard:    deps.Guard,
		gen:      deps.Generator,
		store:    deps.Store,
		upstream: deps.Upstream,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
	}

	s.httpServer = &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(s.cors)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		// The streaming endpoint manages its own lifetime; everything else
		// is bounded by the request timeout.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(s.cfg.Server.RequestTimeout))

			r.Post("/factoids/generate", s.handleGenerate)
			r.Get("/factoids", s.handleListFactoids)
			r.Get("/factoids/{id}", s.handleGetFactoid)
			r.Post("/factoids/{id}/vote", s.handleVote)
			r.Post("/factoids/feedback", s.handleFeedback)
			r.Get("/models", s.handleListModels)
			r.Get("/limits", s.handleLimits)
		})

		r.Get("/factoids/generate/stream", s.handleGenerateStream)
	})

	return r
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "address", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Server.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// profileFor maps the X-Api-Key header to a billing profile. Unknown or
// absent keys are anonymous.
func (s *Server) profileFor(r *http.Request) string {
	key := r.Header.Get("X-Api-Key")
	if key == "" {
		return "anonymous"
	}
	if profile, ok := s.cfg.Server.APIKeys[key]; ok {
		return profile
	}
	return "anonymous"
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (s *Server) cors(next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(s.cfg.Server.CORSAllowedOrigins))
	allowAll := false
	for _, origin := range s.cfg.Server.CORSAllowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = true
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (allowAll || allowed[origin]) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Api-Key")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
