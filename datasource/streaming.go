package datasource

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/bifrostlabs/bifrost/internal/logger"
	"github.com/bifrostlabs/bifrost/internal/observability"
	"github.com/bifrostlabs/bifrost/sse"
)

// StreamingConfig holds the configuration for the streaming source.
type StreamingConfig struct {
	// URI is the full streaming endpoint URL.
	URI string
	// Headers are sent on every connection attempt, typically the
	// Authorization header carrying the SDK key.
	Headers http.Header
	// InitialReconnectDelay is the base reconnect backoff. Zero means 1s.
	InitialReconnectDelay time.Duration
	// MaxReconnectDelay caps the backoff. Zero means 30s.
	MaxReconnectDelay time.Duration
	// ReadTimeout drops and reconnects a silent connection. Zero disables
	// the watchdog.
	ReadTimeout time.Duration
	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

// StreamingSource keeps the store synchronized over a server-sent events
// stream. Reconnects and backoff are handled by the underlying sse.Client;
// this type translates stream traffic into store updates and status
// transitions.
type StreamingSource struct {
	config  StreamingConfig
	handler *EventHandler
	status  *StatusManager
	logger  *slog.Logger

	client *sse.Client
	done   chan struct{}
}

// NewStreamingSource creates a streaming source. Start must be called to
// begin synchronizing.
func NewStreamingSource(cfg StreamingConfig, handler *EventHandler, status *StatusManager, log *slog.Logger) *StreamingSource {
	if handler == nil {
		panic("datasource: event handler cannot be nil")
	}
	if status == nil {
		panic("datasource: status manager cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &StreamingSource{
		config:  cfg,
		handler: handler,
		status:  status,
		logger:  log,
		done:    make(chan struct{}),
	}
}

// Start connects the stream and consumes it until the context is cancelled,
// the source is closed, or an unrecoverable error ends the stream. It does
// not block.
func (s *StreamingSource) Start(ctx context.Context) error {
	client, err := sse.NewClient(sse.Config{
		URL:                   s.config.URI,
		Headers:               s.config.Headers,
		InitialReconnectDelay: s.config.InitialReconnectDelay,
		MaxReconnectDelay:     s.config.MaxReconnectDelay,
		ReadTimeout:           s.config.ReadTimeout,
		HTTPClient:            s.config.HTTPClient,
		ErrorHandler:          s.onStreamError,
		Logger:                s.logger,
	})
	if err != nil {
		return err
	}
	s.client = client

	client.Start(ctx)
	go s.consume()
	return nil
}

func (s *StreamingSource) consume() {
	defer close(s.done)
	for item := range s.client.Items() {
		event, ok := item.(sse.Event)
		if !ok {
			// Comments are keepalives.
			continue
		}
		result := s.handler.HandleMessage(event.Type, event.Data)
		observability.SourceEventsTotal.WithLabelValues(event.Type, result.String()).Inc()
		if result == InvalidMessage {
			s.status.ReportError(ErrorInfo{
				Kind:    ErrorInfoInvalidData,
				Message: "malformed " + event.Type + " event",
			})
		}
	}
	// The items channel closes only when the client has stopped for good.
	s.status.UpdateState(StateOff, nil)
}

// onStreamError runs on every connection failure, before the client decides
// whether to reconnect.
func (s *StreamingSource) onStreamError(err error) {
	info := classifyStreamError(err)
	if sse.IsRecoverable(err) {
		s.logger.Warn("stream connection lost, will reconnect",
			logger.Err(err),
		)
		observability.SourceReconnects.Inc()
		s.status.UpdateState(StateInterrupted, &info)
		return
	}
	s.logger.Error("stream connection failed permanently",
		logger.Err(err),
	)
	s.status.UpdateState(StateOff, &info)
}

func classifyStreamError(err error) ErrorInfo {
	var unrecoverable *sse.UnrecoverableStatusError
	if errors.As(err, &unrecoverable) {
		return ErrorInfo{Kind: ErrorInfoErrorResponse, StatusCode: unrecoverable.Code, Message: err.Error()}
	}
	var retryable *sse.RetryableStatusError
	if errors.As(err, &retryable) {
		return ErrorInfo{Kind: ErrorInfoErrorResponse, StatusCode: retryable.Code, Message: err.Error()}
	}
	return ErrorInfo{Kind: ErrorInfoNetworkError, Message: err.Error()}
}

// Close stops the stream and waits for the consumer to drain.
func (s *StreamingSource) Close() error {
	if s.client == nil {
		return nil
	}
	s.client.Close()
	<-s.done
	return nil
}
