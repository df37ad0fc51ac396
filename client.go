// Package bifrost is the feature-flag client. It keeps a local snapshot of
// flag and segment data synchronized through a streaming, polling or file
// data source and answers variation calls from that snapshot without
// network I/O.
package bifrost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/bifrostlabs/bifrost/datasource"
	"github.com/bifrostlabs/bifrost/evaluation"
	"github.com/bifrostlabs/bifrost/internal/logger"
	"github.com/bifrostlabs/bifrost/model"
	"github.com/bifrostlabs/bifrost/persistence"
	"github.com/bifrostlabs/bifrost/store"
)

// persistNamespace prefixes every key the client writes to its persistence
// store.
const persistNamespace = "Bifrost"

// ErrClientStopped is returned by WaitForInitialization when the data
// source has stopped permanently without ever delivering data.
var ErrClientStopped = errors.New("bifrost: data source stopped permanently")

// Client evaluates feature flags against locally synchronized data.
// Variation calls are synchronous reads and safe for concurrent use from
// any number of goroutines.
type Client struct {
	logger    *slog.Logger
	store     *store.MemoryStore
	evaluator *evaluation.Evaluator
	status    *datasource.StatusManager

	persist persistKeyStore
	cancel  context.CancelFunc
	closers []func() error

	ready     chan struct{}
	readyOnce sync.Once
	readyErr  error

	closeOnce sync.Once
	closeErr  error
}

// persistKeyStore pairs the persistence store with the key the client's
// payload lives under.
type persistKeyStore struct {
	store persistence.Store
	key   string
}

// MakeClient creates and starts a Client. It returns immediately; use
// WaitForInitialization to block until the first complete payload has been
// applied. If a persistence store holds a cached payload, evaluations can
// serve stale data before that.
func MakeClient(cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	memStore := store.NewMemoryStore()
	status := datasource.NewStatusManager(log)

	c := &Client{
		logger:    log,
		store:     memStore,
		evaluator: evaluation.New(memStore, log),
		status:    status,
		ready:     make(chan struct{}),
	}

	if cfg.Persistence != nil {
		c.persist = persistKeyStore{store: cfg.Persistence, key: "flags:" + cfg.SDKKey}
		c.closers = append(c.closers, cfg.Persistence.Close)
		c.loadCachedData()
	}

	status.AddListener(func(st datasource.Status) {
		switch st.State {
		case datasource.StateValid:
			c.readyOnce.Do(func() { close(c.ready) })
			c.saveCachedData()
		case datasource.StateOff:
			c.readyOnce.Do(func() {
				c.readyErr = ErrClientStopped
				close(c.ready)
			})
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	if err := c.startSource(ctx, cfg); err != nil {
		cancel()
		return nil, err
	}
	return c, nil
}

func (c *Client) startSource(ctx context.Context, cfg Config) error {
	switch cfg.mode() {
	case modeStreaming:
		handler := datasource.NewEventHandler(c.store, c.status, c.logger)
		source := datasource.NewStreamingSource(datasource.StreamingConfig{
			URI:                   cfg.StreamURI,
			Headers:               sdkHeaders(cfg.SDKKey),
			InitialReconnectDelay: cfg.InitialReconnectDelay,
			MaxReconnectDelay:     cfg.MaxReconnectDelay,
			ReadTimeout:           cfg.ReadTimeout,
			HTTPClient:            cfg.HTTPClient,
		}, handler, c.status, c.logger)
		if err := source.Start(ctx); err != nil {
			return fmt.Errorf("bifrost: starting stream: %w", err)
		}
		c.closers = append(c.closers, source.Close)

	case modePolling:
		source := datasource.NewPollingSource(datasource.PollingConfig{
			URI:        cfg.PollURI,
			Headers:    sdkHeaders(cfg.SDKKey),
			Interval:   cfg.PollInterval,
			HTTPClient: cfg.HTTPClient,
		}, c.store, c.status, c.logger)
		go func() {
			if err := source.Run(ctx); err != nil {
				c.logger.Error("polling stopped", logger.Err(err))
			}
		}()

	case modeFile:
		source := datasource.NewFileSource(datasource.FileConfig{
			Paths: cfg.FilePaths,
			Watch: cfg.FileWatch,
		}, c.store, c.status, c.logger)
		if err := source.Start(ctx); err != nil {
			return fmt.Errorf("bifrost: loading flag files: %w", err)
		}
		c.closers = append(c.closers, source.Close)
	}
	return nil
}

// WaitForInitialization blocks until the data source has applied its first
// complete payload, the source stops permanently, or ctx is done. A client
// that was seeded from a persistence cache can evaluate before this
// returns, but sees stale data until it does.
func (c *Client) WaitForInitialization(ctx context.Context) error {
	select {
	case <-c.ready:
		return c.readyErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Initialized reports whether the store holds a complete payload, whether
// fresh from the data source or restored from the persistence cache.
func (c *Client) Initialized() bool {
	return c.store.Initialized()
}

// DataSourceStatus returns a snapshot of the data source state machine.
func (c *Client) DataSourceStatus() datasource.Status {
	return c.status.Status()
}

// OnDataSourceStatusChange registers a listener for state transitions.
// Listeners run synchronously after the store has been updated.
func (c *Client) OnDataSourceStatusChange(listener datasource.StatusListener) {
	c.status.AddListener(listener)
}

// Close shuts the data source down and releases all resources. It is
// idempotent and safe to call while evaluations are in flight; those keep
// reading the last snapshot.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		for _, closer := range c.closers {
			if err := closer(); err != nil && c.closeErr == nil {
				c.closeErr = err
			}
		}
		c.status.UpdateState(datasource.StateOff, nil)
	})
	return c.closeErr
}

// loadCachedData seeds the store from the persistence cache, if a payload
// from a previous run is present.
func (c *Client) loadCachedData() {
	raw, ok := c.persist.store.Read(persistNamespace, c.persist.key)
	if !ok {
		return
	}
	var set model.DataSet
	if err := json.Unmarshal([]byte(raw), &set); err != nil {
		c.logger.Warn("discarding corrupt cached payload", logger.Err(err))
		return
	}
	c.store.Init(set)
	c.logger.Info("restored cached flag payload",
		slog.Int("flags", len(set.Flags)),
		slog.Int("segments", len(set.Segments)),
	)
}

// saveCachedData writes the current store contents to the persistence
// cache. Tombstones are dropped; a restart starting from this payload has
// no stale versions to resurrect.
func (c *Client) saveCachedData() {
	if c.persist.store == nil {
		return
	}
	set := model.DataSet{
		Flags:    make(map[string]*model.Flag),
		Segments: make(map[string]*model.Segment),
	}
	for key, desc := range c.store.AllFlags() {
		if !desc.Deleted() {
			set.Flags[key] = desc.Flag
		}
	}
	for key, desc := range c.store.AllSegments() {
		if !desc.Deleted() {
			set.Segments[key] = desc.Segment
		}
	}
	raw, err := json.Marshal(set)
	if err != nil {
		c.logger.Warn("failed to serialize payload for caching", logger.Err(err))
		return
	}
	if err := c.persist.store.Write(persistNamespace, c.persist.key, string(raw)); err != nil {
		c.logger.Warn("failed to cache payload", logger.Err(err))
	}
}

func sdkHeaders(sdkKey string) http.Header {
	headers := http.Header{}
	if sdkKey != "" {
		headers.Set("Authorization", sdkKey)
	}
	return headers
}
