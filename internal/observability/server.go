package observability

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bifrostlabs/bifrost/internal/config"
	"github.com/bifrostlabs/bifrost/internal/logger"
)

// Server exposes the relay's admin surface: liveness and readiness
// probes plus the Prometheus scrape endpoint. It listens on its own
// port so probe and scrape traffic never competes with evaluation
// requests.
type Server struct {
	logger   *slog.Logger
	cfg      *config.ObservabilityConfig
	server   *http.Server
	checkers []Checker
}

// NewServer builds the admin server. Each checker becomes a component
// in the readiness payload; pass the data source checker always, plus
// one per persistent backend when the relay runs in database mode.
func NewServer(log *slog.Logger, cfg *config.ObservabilityConfig, checkers ...Checker) *Server {
	s := &Server{
		logger:   log,
		cfg:      cfg,
		checkers: checkers,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.NoCache)
	r.Get(cfg.LivenessPath, s.liveness)
	r.Get(cfg.ReadinessPath, s.readiness)
	r.Method(http.MethodGet, cfg.MetricsPath, promhttp.Handler())

	s.server = &http.Server{
		Addr:         net.JoinHostPort("", cfg.Port),
		Handler:      r,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
		IdleTimeout:  cfg.Timeout * 3,
	}

	return s
}

// Start serves in a background goroutine and returns immediately.
func (s *Server) Start() {
	go func() {
		s.logger.Info("starting observability server",
			slog.String("addr", s.server.Addr),
			slog.String("liveness_path", s.cfg.LivenessPath),
			slog.String("readiness_path", s.cfg.ReadinessPath),
			slog.String("metrics_path", s.cfg.MetricsPath),
		)

		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("observability server failed", logger.Err(err))
		}
	}()
}

// Shutdown stops the admin server, waiting for in-flight probe and
// scrape requests up to the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("stopping observability server")
	return s.server.Shutdown(ctx)
}
