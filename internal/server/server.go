// Package server provides the HTTP control surface: operator-facing
// endpoints for mode control, balance inspection, manual cycle triggers,
// and read access to signals/positions/trades/provider health, plus the
// websocket fan-out mount.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/sentinel-core/internal/config"
	"github.com/aristath/sentinel-core/internal/gateway"
	"github.com/aristath/sentinel-core/internal/modecontrol"
	"github.com/aristath/sentinel-core/internal/orchestrator"
	"github.com/aristath/sentinel-core/internal/positions"
	"github.com/aristath/sentinel-core/internal/providers"
)

// Config holds everything Server needs to wire its routes. All fields are
// required except DevMode, which only disables response compression.
type Config struct {
	Log           zerolog.Logger
	Config        *config.Config
	Mode          *modecontrol.Controller
	Orchestrator  *orchestrator.Orchestrator
	Positions     *positions.Manager
	Providers     *providers.Router
	Gateway       *gateway.Gateway
	Port          int
	DevMode       bool
}

// Server is the HTTP control surface built over chi.
type Server struct {
	router *chi.Mux
	http   *http.Server
	log    zerolog.Logger

	cfg          *config.Config
	mode         *modecontrol.Controller
	orchestrator *orchestrator.Orchestrator
	positions    *positions.Manager
	providers    *providers.Router
	gateway      *gateway.Gateway

	startedAt time.Time
}

// New builds a Server with routes mounted but not yet listening.
func New(cfg Config) *Server {
	_ = mime.AddExtensionType(".js", "application/javascript")
	_ = mime.AddExtensionType(".css", "text/css")

	s := &Server{
		log:          cfg.Log,
		cfg:          cfg.Config,
		mode:         cfg.Mode,
		orchestrator: cfg.Orchestrator,
		positions:    cfg.Positions,
		providers:    cfg.Providers,
		gateway:      cfg.Gateway,
		startedAt:    time.Now(),
	}

	s.router = chi.NewRouter()
	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.http = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealthCheck)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/mode", s.handleGetModeInfo)
		r.Post("/mode", s.handleSetMode)
		r.Delete("/mode/override", s.handleClearManualOverride)

		r.Get("/balance", s.handleGetBalance)
		r.Post("/balance", s.handleSetBalance)

		r.Post("/cycle/run", s.handleRunCycle)

		r.Get("/signals", s.handleListSignals)
		r.Get("/positions", s.handleListPositions)
		r.Get("/trades", s.handleListTrades)

		r.Get("/providers", s.handleGetProviderStatus)
	})

	s.router.Handle("/ws", http.HandlerFunc(s.gateway.ServeHTTP))
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

// Start begins serving on the configured port. It blocks until the
// listener returns, so callers run it in a goroutine.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("starting http server")
	return s.http.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server, honoring ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("failed to encode json response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
