package config

import (
	"fmt"
	"time"
)

// Data source modes.
const (
	SourceModeStreaming = "streaming"
	SourceModePolling   = "polling"
	SourceModeFile      = "file"
	SourceModeDatabase  = "database"
)

// DataSourceConfig selects and configures where flag data comes from.
type DataSourceConfig struct {
	// Mode picks the synchronization strategy.
	Mode string `envconfig:"MODE" default:"streaming" validate:"oneof=streaming polling file database"`

	// SDKKey authenticates against the streaming and polling endpoints.
	SDKKey string `envconfig:"SDK_KEY"`

	// StreamURI is the SSE endpoint for streaming mode.
	StreamURI string `envconfig:"STREAM_URI"`
	// InitialReconnectDelay is the base backoff after a dropped stream.
	InitialReconnectDelay time.Duration `envconfig:"INITIAL_RECONNECT_DELAY" default:"1s" validate:"gt=0"`
	// MaxReconnectDelay caps the backoff.
	MaxReconnectDelay time.Duration `envconfig:"MAX_RECONNECT_DELAY" default:"30s" validate:"gt=0"`
	// ReadTimeout reconnects a stream that goes silent. Heartbeat comments
	// arrive well inside this window on a healthy connection.
	ReadTimeout time.Duration `envconfig:"READ_TIMEOUT" default:"5m"`

	// PollURI is the full-dataset endpoint for polling mode.
	PollURI string `envconfig:"POLL_URI"`
	// PollInterval is the duration between polls.
	PollInterval time.Duration `envconfig:"POLL_INTERVAL" default:"30s" validate:"gte=1s"`

	// FilePaths lists local data files for file mode.
	FilePaths []string `envconfig:"FILE_PATHS"`
	// FileWatch reloads the files on change.
	FileWatch bool `envconfig:"FILE_WATCH" default:"true"`

	// CacheTTL is the lazy-load refresh interval for database mode. Zero
	// caches forever.
	CacheTTL time.Duration `envconfig:"CACHE_TTL" default:"30s"`
}

// Validate checks that the selected mode has what it needs.
func (c *DataSourceConfig) Validate() error {
	switch c.Mode {
	case SourceModeStreaming:
		if c.StreamURI == "" {
			return fmt.Errorf("stream URI is required in streaming mode")
		}
		if _, err := parseAndValidateURL(c.StreamURI, []string{"http", "https"}); err != nil {
			return fmt.Errorf("invalid stream URI: %w", err)
		}
		if c.SDKKey == "" {
			return fmt.Errorf("SDK key is required in streaming mode")
		}
		if c.MaxReconnectDelay < c.InitialReconnectDelay {
			return fmt.Errorf("max reconnect delay (%s) cannot be below the initial delay (%s)",
				c.MaxReconnectDelay, c.InitialReconnectDelay)
		}
	case SourceModePolling:
		if c.PollURI == "" {
			return fmt.Errorf("poll URI is required in polling mode")
		}
		if _, err := parseAndValidateURL(c.PollURI, []string{"http", "https"}); err != nil {
			return fmt.Errorf("invalid poll URI: %w", err)
		}
		if c.SDKKey == "" {
			return fmt.Errorf("SDK key is required in polling mode")
		}
	case SourceModeFile:
		if len(c.FilePaths) == 0 {
			return fmt.Errorf("at least one file path is required in file mode")
		}
	case SourceModeDatabase:
		// Connection settings live in the Redis and Database sections;
		// their own validation applies.
	}
	return nil
}
