package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/snarg/musicbot/internal/config"
	"github.com/snarg/musicbot/internal/metrics"
	"github.com/snarg/musicbot/internal/storage"
)

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

// ServerOptions carries the collaborators the routes need.
type ServerOptions struct {
	Config    *config.Config
	Commands  CommandHandler
	Pool      Submitter
	Store     storage.ArtifactStore
	Version   string
	StartTime time.Time
	Log       zerolog.Logger
}

// NewRouter builds the HTTP handler. Split from NewServer so tests can drive
// it through httptest.
func NewRouter(opts ServerOptions) http.Handler {
	cfg := opts.Config
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Logger(opts.Log))
	r.Use(Recoverer)
	r.Use(metrics.InstrumentHandler)
	r.Use(CORSWithOrigins(cfg.CORSOrigins))

	// Health and metrics: no auth
	health := NewHealthHandler(opts.Pool, opts.Store, opts.Version, opts.StartTime)
	r.Get("/api/v1/health", health.ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(cfg.AuthToken))

		r.Group(func(r chi.Router) {
			if cfg.RateLimitRPS > 0 {
				r.Use(RateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst))
			}
			r.Post("/api/v1/commands", NewCommandsHandler(opts.Commands).ServeHTTP)
			r.Post("/api/v1/convert", NewConvertHandler(opts.Pool, opts.Store, cfg.KeepSource).ServeHTTP)
		})

		r.Get("/api/v1/audio/*", NewAudioHandler(opts.Store).ServeHTTP)
	})

	return r
}

func NewServer(opts ServerOptions) *Server {
	cfg := opts.Config
	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      NewRouter(opts),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: opts.Log,
	}
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
