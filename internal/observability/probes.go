package observability

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"sync"

	"github.com/bifrostlabs/bifrost/internal/logger"
)

// componentStatus is one entry in the readiness payload.
type componentStatus struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// liveness answers 200 as long as the process is serving HTTP. A relay
// that is alive but still waiting for its first flag payload reports
// that through readiness, not here.
func (s *Server) liveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// readiness runs every registered checker in parallel and answers 200
// only when all of them pass. The payload names each component so an
// operator can tell a stalled data source from a dead store backend
// without reading logs.
func (s *Server) readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Timeout)
	defer cancel()

	components := make([]componentStatus, len(s.checkers))
	ready := true

	var wg sync.WaitGroup
	var mu sync.Mutex
	for i, checker := range s.checkers {
		wg.Add(1)
		go func(i int, c Checker) {
			defer wg.Done()

			err := c.Check(ctx)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// Warn, not Error: the orchestrator retries anyway.
				s.logger.Warn("readiness check failed",
					slog.String("component", c.Name()),
					logger.Err(err),
				)
				components[i] = componentStatus{Component: c.Name(), Status: "down", Error: err.Error()}
				ready = false
				return
			}
			components[i] = componentStatus{Component: c.Name(), Status: "up"}
		}(i, checker)
	}
	wg.Wait()

	slices.SortFunc(components, func(a, b componentStatus) int {
		if a.Component < b.Component {
			return -1
		}
		if a.Component > b.Component {
			return 1
		}
		return 0
	})

	w.Header().Set("Content-Type", "application/json")
	if !ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	// The probe keys on the status code; the body is an operator aid,
	// so an encode failure here is not worth surfacing.
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ready":      ready,
		"components": components,
	})
}
