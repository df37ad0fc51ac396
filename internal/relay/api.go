// Package relay implements the HTTP evaluation surface of the relay daemon.
// It handles routing, request decoding, flag evaluation, and response
// formatting.
package relay

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/bifrostlabs/bifrost/datasource"
	"github.com/bifrostlabs/bifrost/evaluation"
	"github.com/bifrostlabs/bifrost/store"
)

// API holds the dependencies and the router for the relay's evaluation
// endpoints. It follows the Dependency Injection pattern to facilitate
// testing.
type API struct {
	// Router is the Chi multiplexer that handles HTTP requests.
	Router *chi.Mux

	// reader is the flag and segment data visible to the evaluator.
	reader store.DataReader

	// evaluator computes evaluation results against the reader.
	evaluator *evaluation.Evaluator

	// status exposes the data source state for /status responses.
	status *datasource.StatusManager
}

// NewAPI creates a relay API instance.
//
// Panics if reader or status are nil. A nil logger falls back to
// slog.Default().
func NewAPI(reader store.DataReader, status *datasource.StatusManager, logger *slog.Logger) *API {
	if reader == nil {
		panic("relay: data reader cannot be nil")
	}
	if status == nil {
		panic("relay: status manager cannot be nil")
	}

	api := &API{
		Router:    chi.NewRouter(),
		reader:    reader,
		evaluator: evaluation.New(reader, logger),
		status:    status,
	}

	api.configureRoutes()
	return api
}

// configureRoutes registers the global middleware stack and API endpoints.
func (a *API) configureRoutes() {
	// RequestID: Adds a unique ID to each request context (essential for tracing).
	a.Router.Use(middleware.RequestID)
	// RealIP: correctly sets the IP if behind a proxy/LB.
	a.Router.Use(middleware.RealIP)
	// Logger: Logs request method, path, status, and duration, and records
	// the request metrics.
	a.Router.Use(RequestLogger)
	// Recoverer: Prevents the server from crashing on panics, returning 500 instead.
	a.Router.Use(middleware.Recoverer)
	// Content-Type: Forces JSON content type for API responses.
	a.Router.Use(render.SetContentType(render.ContentTypeJSON))

	a.Router.Get("/health", a.handleHealthCheck)

	a.Router.Route("/api/v1", func(r chi.Router) {
		r.Post("/eval", a.handleEvaluateAll)
		r.Post("/eval/{flagKey}", a.handleEvaluateFlag)
		r.Get("/flags", a.handleListFlags)
		r.Get("/status", a.handleStatus)
	})
}

// handleHealthCheck reports whether the relay is serving and whether its
// data set has been populated. It always returns 200; readiness gating
// belongs to the observability server's /readyz.
func (a *API) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, map[string]any{
		"status":      "ok",
		"initialized": a.reader.Initialized(),
	})
}
