// Command bifrost-relay serves flag evaluations over HTTP. It keeps a local
// copy of the flag data synchronized through one of the configured data
// source modes (streaming, polling, file, database) and exposes the
// evaluation API on the business port and probes plus metrics on the
// observability port.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bifrostlabs/bifrost/datasource"
	"github.com/bifrostlabs/bifrost/internal/config"
	"github.com/bifrostlabs/bifrost/internal/logger"
	"github.com/bifrostlabs/bifrost/internal/observability"
	"github.com/bifrostlabs/bifrost/internal/relay"
	"github.com/bifrostlabs/bifrost/store"
	"github.com/bifrostlabs/bifrost/store/persistent"
)

func main() {
	if err := run(); err != nil {
		slog.Error("relay terminated", logger.Err(err))
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	log := logger.New(&cfg.App)
	slog.SetDefault(log)
	cfg.LogConfig(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	status := datasource.NewStatusManager(log)
	status.AddListener(func(st datasource.Status) {
		observability.SetSourceState(string(st.State))
	})
	observability.SetSourceState(string(datasource.StateInitializing))

	reader, extraChecks, cleanup, err := startDataSource(ctx, cfg, status, log)
	if err != nil {
		return err
	}
	defer cleanup()

	api := relay.NewAPI(reader, status, log)

	checkers := append([]observability.Checker{
		relay.NewDataSourceChecker(reader, status),
	}, extraChecks...)
	obs := observability.NewServer(log, &cfg.Observability, checkers...)
	obs.Start()

	server := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           api.Router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		MaxHeaderBytes:    cfg.Server.MaxHeaderBytes,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("relay API listening", slog.String("addr", server.Addr))
		var err error
		if cfg.Server.TLSEnabled {
			err = server.ListenAndServeTLS(cfg.Server.TLSCert, cfg.Server.TLSKey)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("relay API server: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("relay API shutdown failed", logger.Err(err))
	}
	if err := obs.Shutdown(shutdownCtx); err != nil {
		log.Error("observability shutdown failed", logger.Err(err))
	}
	return nil
}

// startDataSource boots the configured synchronization mode and returns the
// reader the evaluator will use, extra readiness checkers for the backend,
// and a cleanup function for shutdown.
func startDataSource(ctx context.Context, cfg *config.Config, status *datasource.StatusManager, log *slog.Logger) (store.DataReader, []observability.Checker, func(), error) {
	noop := func() {}

	switch cfg.DataSource.Mode {
	case config.SourceModeStreaming:
		memStore := store.NewMemoryStore()
		handler := datasource.NewEventHandler(memStore, status, log)
		source := datasource.NewStreamingSource(datasource.StreamingConfig{
			URI:                   cfg.DataSource.StreamURI,
			Headers:               authHeaders(cfg.DataSource.SDKKey),
			InitialReconnectDelay: cfg.DataSource.InitialReconnectDelay,
			MaxReconnectDelay:     cfg.DataSource.MaxReconnectDelay,
			ReadTimeout:           cfg.DataSource.ReadTimeout,
		}, handler, status, log)
		if err := source.Start(ctx); err != nil {
			return nil, nil, noop, fmt.Errorf("starting stream: %w", err)
		}
		return memStore, nil, func() { _ = source.Close() }, nil

	case config.SourceModePolling:
		memStore := store.NewMemoryStore()
		source := datasource.NewPollingSource(datasource.PollingConfig{
			URI:      cfg.DataSource.PollURI,
			Headers:  authHeaders(cfg.DataSource.SDKKey),
			Interval: cfg.DataSource.PollInterval,
		}, memStore, status, log)
		go func() {
			if err := source.Run(ctx); err != nil {
				log.Error("polling stopped", logger.Err(err))
			}
		}()
		return memStore, nil, noop, nil

	case config.SourceModeFile:
		memStore := store.NewMemoryStore()
		source := datasource.NewFileSource(datasource.FileConfig{
			Paths: cfg.DataSource.FilePaths,
			Watch: cfg.DataSource.FileWatch,
		}, memStore, status, log)
		if err := source.Start(ctx); err != nil {
			return nil, nil, noop, fmt.Errorf("loading flag files: %w", err)
		}
		return memStore, nil, func() { _ = source.Close() }, nil

	case config.SourceModeDatabase:
		serialized, check, closer, err := openDatabaseReader(ctx, cfg)
		if err != nil {
			return nil, nil, noop, err
		}
		lazy := persistent.NewLazyLoadStore(serialized, persistent.LazyLoadConfig{
			TTL: cfg.DataSource.CacheTTL,
		}, log)
		// The database is maintained by an external writer; from this
		// process's point of view the source is immediately healthy.
		status.UpdateState(datasource.StateValid, nil)
		return lazy, []observability.Checker{check}, closer, nil

	default:
		return nil, nil, noop, fmt.Errorf("unknown data source mode %q", cfg.DataSource.Mode)
	}
}

// openDatabaseReader prefers PostgreSQL when configured and falls back to
// Redis otherwise. Config validation already guarantees one of the two is
// present in database mode.
func openDatabaseReader(ctx context.Context, cfg *config.Config) (persistent.SerializedDataReader, observability.Checker, func(), error) {
	if cfg.Database.IsConfigured() {
		pool, err := pgxpool.New(ctx, cfg.Database.ConnectionString())
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		reader := persistent.NewPostgresDataReader(pool)
		check := persistent.NewHealthChecker("postgres", reader)
		return reader, check, func() { _ = reader.Close() }, nil
	}

	reader, err := persistent.NewRedisDataReader(ctx, cfg.Redis.Address(), cfg.Redis.Prefix)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connecting to redis: %w", err)
	}
	check := persistent.NewHealthChecker("redis", reader)
	return reader, check, func() { _ = reader.Close() }, nil
}

func authHeaders(sdkKey string) http.Header {
	headers := http.Header{}
	if sdkKey != "" {
		headers.Set("Authorization", sdkKey)
	}
	return headers
}
