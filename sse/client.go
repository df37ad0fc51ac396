package sse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultInitialDelay = time.Second
	defaultMaxDelay     = 30 * time.Second
	maxRedirects        = 10
)

// Config holds the settings for a streaming connection.
type Config struct {
	// URL is the streaming endpoint.
	URL string

	// Method is the HTTP method; GET when empty. Only GET and HEAD requests
	// follow redirects.
	Method string

	// Body is sent with the request (used by REPORT-style requests). May be
	// nil.
	Body []byte

	// Headers are added to every request, including reconnects.
	Headers http.Header

	// InitialReconnectDelay and MaxReconnectDelay bound the backoff.
	// Defaults: 1s and 30s.
	InitialReconnectDelay time.Duration
	MaxReconnectDelay     time.Duration

	// ReadTimeout aborts the connection if no bytes arrive within the
	// window. Zero disables the watchdog.
	ReadTimeout time.Duration

	// HTTPClient issues the requests. A client with no global timeout is
	// used when nil; streaming responses must not be subject to an overall
	// request deadline.
	HTTPClient *http.Client

	// ErrorHandler, when set, observes every connection error, recoverable
	// or not, before the client acts on it.
	ErrorHandler func(error)

	// LastEventID seeds the Last-Event-ID header for the first request,
	// for consumers resuming a previous stream.
	LastEventID string

	Logger *slog.Logger
}

// Client maintains a Server-Sent-Events connection: it issues the request,
// parses the response body into events, and reconnects with backoff on
// recoverable failures.
//
// Close is safe to call from any goroutine and any state; in-flight reads
// observe the cancelled context and stop without touching the closed client.
type Client struct {
	cfg     Config
	http    *http.Client
	backoff *Backoff
	logger  *slog.Logger

	items chan StreamItem

	mu          sync.Mutex
	started     bool
	closed      bool
	cancel      context.CancelFunc
	lastEventID string
}

// NewClient validates the configuration and creates a client. The stream is
// not opened until Start is called.
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("sse: config requires a URL")
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}
	if cfg.InitialReconnectDelay <= 0 {
		cfg.InitialReconnectDelay = defaultInitialDelay
	}
	if cfg.MaxReconnectDelay <= 0 {
		cfg.MaxReconnectDelay = defaultMaxDelay
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	// The redirect policy is ours, not net/http's default: only safe methods
	// follow redirects, and the hop count is bounded.
	redirectAware := *httpClient
	redirectAware.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return ErrInvalidRedirect
		}
		original := via[0].Method
		if original != http.MethodGet && original != http.MethodHead {
			return ErrInvalidRedirect
		}
		// Headers from the original request are re-applied on the hop.
		for name, values := range via[0].Header {
			if req.Header.Get(name) == "" {
				req.Header[name] = values
			}
		}
		return nil
	}

	return &Client{
		cfg:         cfg,
		http:        &redirectAware,
		backoff:     NewBackoff(cfg.InitialReconnectDelay, cfg.MaxReconnectDelay),
		logger:      logger,
		items:       make(chan StreamItem, 64),
		lastEventID: cfg.LastEventID,
	}, nil
}

// Items returns the channel of parsed events and comments. It is closed
// when the stream terminates permanently or the client is closed.
func (c *Client) Items() <-chan StreamItem { return c.items }

// Start opens the stream and keeps it alive until ctx is cancelled, Close
// is called, or a permanent error occurs. It returns immediately; events
// arrive on Items.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started || c.closed {
		return
	}
	c.started = true
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go c.run(runCtx)
}

// Close shuts the client down. It is idempotent and safe to call
// concurrently with an in-flight connection attempt.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Client) run(ctx context.Context) {
	defer close(c.items)

	for {
		err := c.connect(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			// Orderly EOF from the server is treated like any other
			// recoverable disconnect.
			err = io.ErrUnexpectedEOF
		}

		if c.cfg.ErrorHandler != nil {
			c.cfg.ErrorHandler(err)
		}
		if !IsRecoverable(err) {
			c.logger.Error("stream closed permanently", slog.String("error", err.Error()))
			return
		}

		c.backoff.Fail()
		delay := c.backoff.Delay()
		c.logger.Warn("stream interrupted, will reconnect",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// connect performs one request/read cycle. A nil return means the server
// ended the response body without error.
func (c *Client) connect(ctx context.Context) error {
	attemptCtx, cancelAttempt := context.WithCancel(ctx)
	defer cancelAttempt()

	var body io.Reader
	if len(c.cfg.Body) > 0 {
		body = strings.NewReader(string(c.cfg.Body))
	}
	req, err := http.NewRequestWithContext(attemptCtx, c.cfg.Method, c.cfg.URL, body)
	if err != nil {
		return &UnrecoverableStatusError{Code: 0}
	}
	for name, values := range c.cfg.Headers {
		req.Header[name] = values
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	c.mu.Lock()
	if c.lastEventID != "" {
		req.Header.Set("Last-Event-ID", c.lastEventID)
	}
	c.mu.Unlock()

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, ErrInvalidRedirect) {
			return ErrInvalidRedirect
		}
		return fmt.Errorf("sse: connection failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return ErrNoContent
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return &UnrecoverableStatusError{Code: resp.StatusCode}
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		// net/http follows usable redirects itself; one that reaches this
		// point carries no parseable Location header, so there is no target
		// to retry against.
		return ErrInvalidRedirect
	case resp.StatusCode != http.StatusOK:
		return &RetryableStatusError{Code: resp.StatusCode}
	}

	return c.readStream(attemptCtx, cancelAttempt, resp.Body)
}

// readStream pumps the response body through the parser until the body ends,
// the context is cancelled, or the read watchdog fires.
func (c *Client) readStream(ctx context.Context, cancelAttempt context.CancelFunc, body io.Reader) error {
	parser := NewParser(func(item StreamItem) {
		if event, ok := item.(Event); ok {
			if event.LastEventID != "" {
				c.mu.Lock()
				c.lastEventID = event.LastEventID
				c.mu.Unlock()
			}
			c.backoff.Succeed()
		}
		select {
		case c.items <- item:
		case <-ctx.Done():
		}
	})

	var watchdog *time.Timer
	var timedOut atomic.Bool
	if c.cfg.ReadTimeout > 0 {
		watchdog = time.AfterFunc(c.cfg.ReadTimeout, func() {
			timedOut.Store(true)
			cancelAttempt()
		})
		defer watchdog.Stop()
	}

	buf := make([]byte, 4096)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if watchdog != nil {
				watchdog.Reset(c.cfg.ReadTimeout)
			}
			parser.Feed(buf[:n])
		}
		if err != nil {
			switch {
			case timedOut.Load():
				return ErrReadTimeout
			case errors.Is(err, io.EOF):
				return nil
			default:
				return fmt.Errorf("sse: read failed: %w", err)
			}
		}
	}
}
