package bifrost

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bifrostlabs/bifrost/persistence"
)

// Config configures a Client. The zero value is not usable; start from
// DefaultConfig and set an SDK key plus at least one data source.
type Config struct {
	// SDKKey authenticates against the streaming and polling endpoints.
	// Required unless the client runs purely from files.
	SDKKey string

	// StreamURI is the SSE endpoint. When set, the client synchronizes in
	// streaming mode.
	StreamURI string
	// InitialReconnectDelay is the base backoff after a dropped stream.
	InitialReconnectDelay time.Duration
	// MaxReconnectDelay caps the backoff.
	MaxReconnectDelay time.Duration
	// ReadTimeout reconnects a stream that goes silent.
	ReadTimeout time.Duration

	// PollURI selects polling mode when StreamURI is empty.
	PollURI string
	// PollInterval is the duration between polls.
	PollInterval time.Duration

	// FilePaths selects file mode: flag data is read from local JSON or
	// YAML files instead of the network.
	FilePaths []string
	// FileWatch reloads the files on change.
	FileWatch bool

	// Persistence, when set, caches the last received payload so the
	// client can evaluate from stale data immediately after a restart.
	// The client takes ownership and closes it on Close.
	Persistence persistence.Store

	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client

	// Logger receives the client's structured logs. Nil means
	// slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a Config with the standard timing defaults. The
// SDK key and a data source must still be filled in.
func DefaultConfig() Config {
	return Config{
		InitialReconnectDelay: time.Second,
		MaxReconnectDelay:     30 * time.Second,
		ReadTimeout:           5 * time.Minute,
		PollInterval:          30 * time.Second,
		FileWatch:             true,
	}
}

type sourceMode int

const (
	modeStreaming sourceMode = iota
	modePolling
	modeFile
)

// mode derives the synchronization mode from which endpoints are set.
// Files win over polling, polling over streaming, so a partially filled
// config picks the most local source.
func (c *Config) mode() sourceMode {
	switch {
	case len(c.FilePaths) > 0:
		return modeFile
	case c.PollURI != "" && c.StreamURI == "":
		return modePolling
	default:
		return modeStreaming
	}
}

func (c *Config) validate() error {
	switch c.mode() {
	case modeStreaming:
		if c.StreamURI == "" {
			return fmt.Errorf("bifrost: a stream URI, poll URI or file path is required")
		}
		if c.SDKKey == "" {
			return fmt.Errorf("bifrost: SDK key is required in streaming mode")
		}
		if c.MaxReconnectDelay > 0 && c.MaxReconnectDelay < c.InitialReconnectDelay {
			return fmt.Errorf("bifrost: max reconnect delay (%s) cannot be below the initial delay (%s)",
				c.MaxReconnectDelay, c.InitialReconnectDelay)
		}
	case modePolling:
		if c.SDKKey == "" {
			return fmt.Errorf("bifrost: SDK key is required in polling mode")
		}
	case modeFile:
		// File mode needs no credentials.
	}
	return nil
}
