package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bifrostlabs/bifrost/model"
	"github.com/bifrostlabs/bifrost/store"
)

// PollingConfig holds the configuration for the polling source.
type PollingConfig struct {
	// URI is the full polling endpoint URL, returning the dataset as
	// {"flags": {...}, "segments": {...}}.
	URI string
	// Headers are sent on every request.
	Headers http.Header
	// Interval is the duration between polls. Intervals under a second are
	// raised to the 30s default.
	Interval time.Duration
	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

// PollingSource keeps the store synchronized by periodically fetching the
// full dataset. It sends If-None-Match with the last seen ETag so an
// unchanged dataset costs a 304 and no store write.
type PollingSource struct {
	logger *slog.Logger
	config PollingConfig
	dest   store.DataDestination
	status *StatusManager
	client *http.Client

	etag string
}

// NewPollingSource creates a polling source. Run must be called to begin
// synchronizing.
func NewPollingSource(cfg PollingConfig, dest store.DataDestination, status *StatusManager, logger *slog.Logger) *PollingSource {
	if dest == nil {
		panic("datasource: data destination cannot be nil")
	}
	if status == nil {
		panic("datasource: status manager cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Interval < time.Second {
		cfg.Interval = 30 * time.Second // Safe default
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	return &PollingSource{
		logger: logger,
		config: cfg,
		dest:   dest,
		status: status,
		client: client,
	}
}

// Run starts the polling loop. It blocks until the context is cancelled or
// an unrecoverable response ends the source.
func (p *PollingSource) Run(ctx context.Context) error {
	p.logger.Info("starting polling source",
		slog.String("interval", p.config.Interval.String()),
	)

	ticker := time.NewTicker(p.config.Interval)
	defer ticker.Stop()

	// Poll once immediately on startup
	if err := p.pollOnce(ctx); err != nil {
		p.status.UpdateState(StateOff, &ErrorInfo{Kind: ErrorInfoErrorResponse, Message: err.Error()})
		return err
	}

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("polling source stopping...")
			p.status.UpdateState(StateOff, nil)
			return nil
		case <-ticker.C:
			if err := p.pollOnce(ctx); err != nil {
				p.status.UpdateState(StateOff, &ErrorInfo{Kind: ErrorInfoErrorResponse, Message: err.Error()})
				return err
			}
		}
	}
}

// pollOnce performs one fetch-and-apply cycle. A non-nil error means the
// source cannot continue; recoverable failures are recorded on the status
// manager and retried on the next tick.
func (p *PollingSource) pollOnce(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.URI, nil)
	if err != nil {
		return err
	}
	for name, values := range p.config.Headers {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	if p.etag != "" {
		req.Header.Set("If-None-Match", p.etag)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		p.interrupted(ErrorInfo{Kind: ErrorInfoNetworkError, Message: err.Error()})
		return nil
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified:
		// Nothing changed; the store stays untouched and any interruption
		// is over.
		p.status.UpdateState(StateValid, nil)
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("polling endpoint rejected credentials with status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		p.interrupted(ErrorInfo{
			Kind:       ErrorInfoErrorResponse,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("unexpected response status %d", resp.StatusCode),
		})
		return nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		p.interrupted(ErrorInfo{Kind: ErrorInfoNetworkError, Message: err.Error()})
		return nil
	}

	var set model.DataSet
	if err := json.Unmarshal(body, &set); err != nil {
		p.interrupted(ErrorInfo{Kind: ErrorInfoInvalidData, Message: err.Error()})
		return nil
	}

	p.dest.Init(set)
	p.etag = resp.Header.Get("ETag")
	p.logger.Info("poll cycle completed",
		slog.Int("flags", len(set.Flags)),
		slog.Int("segments", len(set.Segments)),
	)
	p.status.UpdateState(StateValid, nil)
	return nil
}

func (p *PollingSource) interrupted(info ErrorInfo) {
	p.logger.Warn("poll cycle failed", slog.String("error", info.Message))
	p.status.UpdateState(StateInterrupted, &info)
}
