package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("BIFROST_SOURCE_MODE", "file")
	t.Setenv("BIFROST_SOURCE_FILE_PATHS", "/etc/bifrost/flags.json")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "bifrost-relay", cfg.App.Name)
	assert.Equal(t, "development", cfg.App.Environment)
	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.App.ShutdownTimeout)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Address())
	assert.Equal(t, time.Second, cfg.DataSource.InitialReconnectDelay)
	assert.Equal(t, 30*time.Second, cfg.DataSource.MaxReconnectDelay)
	assert.Equal(t, []string{"/etc/bifrost/flags.json"}, cfg.DataSource.FilePaths)
	assert.Equal(t, "9090", cfg.Observability.Port)
}

func TestLoad_StreamingMode(t *testing.T) {
	t.Setenv("BIFROST_SOURCE_MODE", "streaming")
	t.Setenv("BIFROST_SOURCE_STREAM_URI", "https://stream.example.com/all")
	t.Setenv("BIFROST_SOURCE_SDK_KEY", "sdk-key-123")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, SourceModeStreaming, cfg.DataSource.Mode)
}

func TestLoad_ValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name: "Should reject streaming mode without a stream URI",
			env: map[string]string{
				"BIFROST_SOURCE_MODE":    "streaming",
				"BIFROST_SOURCE_SDK_KEY": "sdk-key-123",
			},
			wantErr: "stream URI is required",
		},
		{
			name: "Should reject streaming mode without an SDK key",
			env: map[string]string{
				"BIFROST_SOURCE_MODE":       "streaming",
				"BIFROST_SOURCE_STREAM_URI": "https://stream.example.com/all",
			},
			wantErr: "SDK key is required",
		},
		{
			name: "Should reject a stream URI with a bad scheme",
			env: map[string]string{
				"BIFROST_SOURCE_MODE":       "streaming",
				"BIFROST_SOURCE_STREAM_URI": "ftp://stream.example.com/all",
				"BIFROST_SOURCE_SDK_KEY":    "sdk-key-123",
			},
			wantErr: "invalid stream URI",
		},
		{
			name: "Should reject polling mode without a poll URI",
			env: map[string]string{
				"BIFROST_SOURCE_MODE":    "polling",
				"BIFROST_SOURCE_SDK_KEY": "sdk-key-123",
			},
			wantErr: "poll URI is required",
		},
		{
			name: "Should reject file mode without file paths",
			env: map[string]string{
				"BIFROST_SOURCE_MODE": "file",
			},
			wantErr: "at least one file path",
		},
		{
			name: "Should reject an unknown mode",
			env: map[string]string{
				"BIFROST_SOURCE_MODE": "telepathy",
			},
			wantErr: "validation error",
		},
		{
			name: "Should reject an invalid server port",
			env: map[string]string{
				"BIFROST_SOURCE_MODE":       "file",
				"BIFROST_SOURCE_FILE_PATHS": "/flags.json",
				"BIFROST_SERVER_PORT":       "99999",
			},
			wantErr: "server port",
		},
		{
			name: "Should require TLS in production",
			env: map[string]string{
				"BIFROST_APP_ENV":           "production",
				"BIFROST_SOURCE_MODE":       "file",
				"BIFROST_SOURCE_FILE_PATHS": "/flags.json",
			},
			wantErr: "TLS must be enabled",
		},
		{
			name: "Should reject a max reconnect delay below the initial delay",
			env: map[string]string{
				"BIFROST_SOURCE_MODE":                    "streaming",
				"BIFROST_SOURCE_STREAM_URI":              "https://stream.example.com/all",
				"BIFROST_SOURCE_SDK_KEY":                 "sdk-key-123",
				"BIFROST_SOURCE_INITIAL_RECONNECT_DELAY": "10s",
				"BIFROST_SOURCE_MAX_RECONNECT_DELAY":     "1s",
			},
			wantErr: "max reconnect delay",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for name, value := range tt.env {
				t.Setenv(name, value)
			}

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRedisConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     RedisConfig
		env     string
		wantErr bool
	}{
		{
			name: "Should accept an unconfigured section",
			cfg:  RedisConfig{},
		},
		{
			name: "Should accept host and port",
			cfg:  RedisConfig{Host: "localhost", Port: "6379"},
		},
		{
			name: "Should accept a redis URL",
			cfg:  RedisConfig{URL: "redis://localhost:6379/0"},
		},
		{
			name:    "Should reject a URL with a bad scheme",
			cfg:     RedisConfig{URL: "http://localhost:6379"},
			wantErr: true,
		},
		{
			name:    "Should reject a URL with an out-of-range database",
			cfg:     RedisConfig{URL: "redis://localhost:6379/42"},
			wantErr: true,
		},
		{
			name:    "Should require a password in production",
			cfg:     RedisConfig{Host: "redis.internal", Port: "6379", TLSEnabled: true},
			env:     EnvironmentProduction,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.cfg.Validate(tt.env)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDatabaseConfig_ConnectionString(t *testing.T) {
	t.Parallel()

	t.Run("Should prefer a full URL", func(t *testing.T) {
		t.Parallel()

		cfg := DatabaseConfig{URL: "postgres://u:p@db:5432/bifrost"}
		assert.Equal(t, "postgres://u:p@db:5432/bifrost", cfg.ConnectionString())
	})

	t.Run("Should build from components", func(t *testing.T) {
		t.Parallel()

		cfg := DatabaseConfig{
			Host: "db", Port: "5432", Name: "bifrost",
			User: "reader", Password: "secret", SSLMode: "require",
		}
		assert.Equal(t, "postgres://reader:secret@db:5432/bifrost?sslmode=require", cfg.ConnectionString())
	})
}
