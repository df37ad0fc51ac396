package datasource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bifrostlabs/bifrost/store"
)

func TestStreamingSource_AppliesPutEvent(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		assert.Equal(t, "secret-key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		_, _ = w.Write([]byte("event: put\ndata: {\"data\": {\"flags\": {\"my-flag\": {\"key\": \"my-flag\", \"version\": 1, \"on\": true}}, \"segments\": {}}}\n\n"))
		flusher.Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(server.Close)

	mem := store.NewMemoryStore()
	status := NewStatusManager(nil)
	handler := NewEventHandler(mem, status, nil)
	source := NewStreamingSource(StreamingConfig{
		URI:     server.URL,
		Headers: http.Header{"Authorization": []string{"secret-key"}},
	}, handler, status, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, source.Start(ctx))
	t.Cleanup(func() { source.Close() })

	require.Eventually(t, func() bool {
		return status.Status().State == StateValid
	}, 2*time.Second, 10*time.Millisecond)

	assert.True(t, mem.Initialized())
	_, ok := mem.GetFlag("my-flag")
	assert.True(t, ok)
}

func TestStreamingSource_UnauthorizedTurnsOff(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	mem := store.NewMemoryStore()
	status := NewStatusManager(nil)
	handler := NewEventHandler(mem, status, nil)
	source := NewStreamingSource(StreamingConfig{URI: server.URL}, handler, status, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, source.Start(ctx))
	t.Cleanup(func() { source.Close() })

	require.Eventually(t, func() bool {
		return status.Status().State == StateOff
	}, 2*time.Second, 10*time.Millisecond)

	st := status.Status()
	require.NotNil(t, st.LastError)
	assert.Equal(t, http.StatusUnauthorized, st.LastError.StatusCode)
	assert.False(t, mem.Initialized())
}

func TestStreamingSource_InterruptionRecordsError(t *testing.T) {
	t.Parallel()

	connections := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		connections++
		if connections == 1 {
			// Drop the first connection immediately to force a reconnect.
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(server.Close)

	mem := store.NewMemoryStore()
	status := NewStatusManager(nil)
	handler := NewEventHandler(mem, status, nil)
	source := NewStreamingSource(StreamingConfig{
		URI:                   server.URL,
		InitialReconnectDelay: 10 * time.Millisecond,
	}, handler, status, nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, source.Start(ctx))
	t.Cleanup(func() { source.Close() })

	require.Eventually(t, func() bool {
		return status.Status().LastError != nil
	}, 2*time.Second, 10*time.Millisecond)

	st := status.Status()
	assert.Equal(t, ErrorInfoErrorResponse, st.LastError.Kind)
	assert.Equal(t, http.StatusServiceUnavailable, st.LastError.StatusCode)
	// The source never became valid, so the interruption keeps it initializing.
	assert.Equal(t, StateInitializing, st.State)
}
