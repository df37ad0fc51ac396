package sse_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bifrostlabs/bifrost/sse"
)

func startClient(t *testing.T, cfg sse.Config) *sse.Client {
	t.Helper()

	if cfg.InitialReconnectDelay == 0 {
		cfg.InitialReconnectDelay = 10 * time.Millisecond
	}
	if cfg.MaxReconnectDelay == 0 {
		cfg.MaxReconnectDelay = 50 * time.Millisecond
	}

	client, err := sse.NewClient(cfg)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	client.Start(ctx)
	return client
}

// nextItem waits for one stream item with a test-scoped deadline.
func nextItem(t *testing.T, client *sse.Client) sse.StreamItem {
	t.Helper()

	select {
	case item, ok := <-client.Items():
		require.True(t, ok, "items channel closed unexpectedly")
		return item
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a stream item")
		return nil
	}
}

// waitClosed asserts the items channel closes, meaning the client stopped
// permanently.
func waitClosed(t *testing.T, client *sse.Client) {
	t.Helper()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-client.Items():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for the stream to close")
		}
	}
}

func sseHandler(t *testing.T, write func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		write(w, r)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestClientStreaming(t *testing.T) {
	t.Parallel()

	t.Run("Should deliver events and comments in order", func(t *testing.T) {
		t.Parallel()

		server := sseHandler(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(": hello\nevent: put\ndata: {\"a\":1}\n\n"))
			w.(http.Flusher).Flush()
			<-r.Context().Done()
		})

		client := startClient(t, sse.Config{URL: server.URL})

		assert.Equal(t, sse.Comment(" hello"), nextItem(t, client))
		assert.Equal(t, sse.Event{Type: "put", Data: `{"a":1}`}, nextItem(t, client))
	})

	t.Run("Should send configured headers", func(t *testing.T) {
		t.Parallel()

		gotAuth := make(chan string, 1)
		server := sseHandler(t, func(w http.ResponseWriter, r *http.Request) {
			gotAuth <- r.Header.Get("Authorization")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("data: x\n\n"))
			w.(http.Flusher).Flush()
			<-r.Context().Done()
		})

		headers := http.Header{}
		headers.Set("Authorization", "sdk-key")
		client := startClient(t, sse.Config{URL: server.URL, Headers: headers})

		nextItem(t, client)
		assert.Equal(t, "sdk-key", <-gotAuth)
	})

	t.Run("Should reconnect with the last event id after a disconnect", func(t *testing.T) {
		t.Parallel()

		var connections atomic.Int32
		lastEventID := make(chan string, 2)
		server := sseHandler(t, func(w http.ResponseWriter, r *http.Request) {
			n := connections.Add(1)
			lastEventID <- r.Header.Get("Last-Event-ID")
			w.WriteHeader(http.StatusOK)
			if n == 1 {
				// Send one event, then drop the connection.
				_, _ = w.Write([]byte("id: 41\ndata: first\n\n"))
				w.(http.Flusher).Flush()
				return
			}
			_, _ = w.Write([]byte("data: second\n\n"))
			w.(http.Flusher).Flush()
			<-r.Context().Done()
		})

		client := startClient(t, sse.Config{URL: server.URL})

		assert.Equal(t, "", <-lastEventID)
		assert.Equal(t, sse.Event{Type: "message", Data: "first", LastEventID: "41"}, nextItem(t, client))

		assert.Equal(t, sse.Event{Type: "message", Data: "second"}, nextItem(t, client))
		assert.Equal(t, "41", <-lastEventID)
	})

	t.Run("Should retry after a 503 response", func(t *testing.T) {
		t.Parallel()

		var connections atomic.Int32
		var sawRetryable atomic.Bool
		server := sseHandler(t, func(w http.ResponseWriter, r *http.Request) {
			if connections.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("data: recovered\n\n"))
			w.(http.Flusher).Flush()
			<-r.Context().Done()
		})

		client := startClient(t, sse.Config{
			URL: server.URL,
			ErrorHandler: func(err error) {
				var retryable *sse.RetryableStatusError
				if assert.ErrorAs(t, err, &retryable) {
					assert.Equal(t, http.StatusServiceUnavailable, retryable.Code)
					sawRetryable.Store(true)
				}
			},
		})

		assert.Equal(t, sse.Event{Type: "message", Data: "recovered"}, nextItem(t, client))
		assert.True(t, sawRetryable.Load())
	})
}

func TestClientPermanentStops(t *testing.T) {
	t.Parallel()

	t.Run("Should stop permanently on 204 No Content", func(t *testing.T) {
		t.Parallel()

		var connections atomic.Int32
		errs := make(chan error, 1)
		server := sseHandler(t, func(w http.ResponseWriter, r *http.Request) {
			connections.Add(1)
			w.WriteHeader(http.StatusNoContent)
		})

		client := startClient(t, sse.Config{
			URL:          server.URL,
			ErrorHandler: func(err error) { errs <- err },
		})

		waitClosed(t, client)
		assert.ErrorIs(t, <-errs, sse.ErrNoContent)
		assert.Equal(t, int32(1), connections.Load())
	})

	t.Run("Should stop permanently on 401", func(t *testing.T) {
		t.Parallel()

		errs := make(chan error, 1)
		server := sseHandler(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		})

		client := startClient(t, sse.Config{
			URL:          server.URL,
			ErrorHandler: func(err error) { errs <- err },
		})

		waitClosed(t, client)
		var unrecoverable *sse.UnrecoverableStatusError
		require.ErrorAs(t, <-errs, &unrecoverable)
		assert.Equal(t, http.StatusUnauthorized, unrecoverable.Code)
	})

	t.Run("Should stop permanently on a redirect without a location", func(t *testing.T) {
		t.Parallel()

		var connections atomic.Int32
		errs := make(chan error, 1)
		server := sseHandler(t, func(w http.ResponseWriter, r *http.Request) {
			connections.Add(1)
			w.WriteHeader(http.StatusMovedPermanently)
		})

		client := startClient(t, sse.Config{
			URL:          server.URL,
			ErrorHandler: func(err error) { errs <- err },
		})

		waitClosed(t, client)
		err := <-errs
		assert.ErrorIs(t, err, sse.ErrInvalidRedirect)
		assert.False(t, sse.IsRecoverable(err))
		assert.Equal(t, int32(1), connections.Load())
	})

	t.Run("Should follow a redirect for GET requests", func(t *testing.T) {
		t.Parallel()

		target := sseHandler(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("data: moved\n\n"))
			w.(http.Flusher).Flush()
			<-r.Context().Done()
		})
		redirector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, target.URL, http.StatusTemporaryRedirect)
		}))
		t.Cleanup(redirector.Close)

		client := startClient(t, sse.Config{URL: redirector.URL})
		assert.Equal(t, sse.Event{Type: "message", Data: "moved"}, nextItem(t, client))
	})

	t.Run("Should close the items channel on Close", func(t *testing.T) {
		t.Parallel()

		server := sseHandler(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.(http.Flusher).Flush()
			<-r.Context().Done()
		})

		client := startClient(t, sse.Config{URL: server.URL})
		client.Close()
		waitClosed(t, client)

		// Closing again is a no-op.
		client.Close()
	})

	t.Run("Should reject a config without a URL", func(t *testing.T) {
		t.Parallel()

		_, err := sse.NewClient(sse.Config{})
		require.Error(t, err)
	})
}

func TestClientReadTimeout(t *testing.T) {
	t.Parallel()

	t.Run("Should reconnect when the stream goes silent", func(t *testing.T) {
		t.Parallel()

		var connections atomic.Int32
		errs := make(chan error, 4)
		server := sseHandler(t, func(w http.ResponseWriter, r *http.Request) {
			n := connections.Add(1)
			w.WriteHeader(http.StatusOK)
			if n == 1 {
				w.(http.Flusher).Flush()
				// Say nothing until the watchdog fires.
				<-r.Context().Done()
				return
			}
			_, _ = w.Write([]byte("data: awake\n\n"))
			w.(http.Flusher).Flush()
			<-r.Context().Done()
		})

		client := startClient(t, sse.Config{
			URL:          server.URL,
			ReadTimeout:  50 * time.Millisecond,
			ErrorHandler: func(err error) { errs <- err },
		})

		assert.Equal(t, sse.Event{Type: "message", Data: "awake"}, nextItem(t, client))
		assert.ErrorIs(t, <-errs, sse.ErrReadTimeout)
	})
}
