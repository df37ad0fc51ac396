package persistent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bifrostlabs/bifrost/model"
)

// fakeReader is an in-memory SerializedDataReader with programmable
// failures.
type fakeReader struct {
	data        map[model.DataKind]map[string]model.SerializedItemDescriptor
	failing     bool
	initialized bool

	gets int
	alls int
}

func newFakeReader() *fakeReader {
	return &fakeReader{
		data: map[model.DataKind]map[string]model.SerializedItemDescriptor{
			model.KindFlag:    {},
			model.KindSegment: {},
		},
		initialized: true,
	}
}

func (f *fakeReader) putFlag(t *testing.T, flag *model.Flag) {
	t.Helper()
	raw, err := json.Marshal(flag)
	require.NoError(t, err)
	f.data[model.KindFlag][flag.Key] = model.SerializedItemDescriptor{
		Version:        flag.Version,
		SerializedItem: string(raw),
	}
}

func (f *fakeReader) Get(_ context.Context, kind model.DataKind, key string) (*model.SerializedItemDescriptor, error) {
	f.gets++
	if f.failing {
		return nil, errors.New("connection refused")
	}
	item, ok := f.data[kind][key]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (f *fakeReader) All(_ context.Context, kind model.DataKind) (map[string]model.SerializedItemDescriptor, error) {
	f.alls++
	if f.failing {
		return nil, errors.New("connection refused")
	}
	out := make(map[string]model.SerializedItemDescriptor, len(f.data[kind]))
	for k, v := range f.data[kind] {
		out[k] = v
	}
	return out, nil
}

func (f *fakeReader) Identity() string                 { return "fake" }
func (f *fakeReader) Initialized(context.Context) bool { return f.initialized }
func (f *fakeReader) Close() error                     { return nil }

func TestLazyLoadStore_GetFlag(t *testing.T) {
	t.Parallel()

	t.Run("Should fetch on first use and then serve from cache", func(t *testing.T) {
		t.Parallel()

		reader := newFakeReader()
		reader.putFlag(t, &model.Flag{Key: "my-flag", Version: 3, On: true})
		s := NewLazyLoadStore(reader, LazyLoadConfig{TTL: time.Minute}, nil)

		first, ok := s.GetFlag("my-flag")
		require.True(t, ok)
		assert.Equal(t, 3, first.Version)
		assert.True(t, first.Flag.On)

		_, ok = s.GetFlag("my-flag")
		require.True(t, ok)
		assert.Equal(t, 1, reader.gets)
	})

	t.Run("Should refetch after the TTL", func(t *testing.T) {
		t.Parallel()

		reader := newFakeReader()
		reader.putFlag(t, &model.Flag{Key: "my-flag", Version: 1})
		s := NewLazyLoadStore(reader, LazyLoadConfig{TTL: time.Millisecond}, nil)

		_, ok := s.GetFlag("my-flag")
		require.True(t, ok)

		reader.putFlag(t, &model.Flag{Key: "my-flag", Version: 2})
		time.Sleep(5 * time.Millisecond)

		refreshed, ok := s.GetFlag("my-flag")
		require.True(t, ok)
		assert.Equal(t, 2, refreshed.Version)
		assert.Equal(t, 2, reader.gets)
	})

	t.Run("Should serve the stale value when a refresh fails", func(t *testing.T) {
		t.Parallel()

		reader := newFakeReader()
		reader.putFlag(t, &model.Flag{Key: "my-flag", Version: 1, On: true})
		s := NewLazyLoadStore(reader, LazyLoadConfig{TTL: time.Millisecond}, nil)

		_, ok := s.GetFlag("my-flag")
		require.True(t, ok)

		reader.failing = true
		time.Sleep(5 * time.Millisecond)

		stale, ok := s.GetFlag("my-flag")
		require.True(t, ok)
		assert.True(t, stale.Flag.On)
	})

	t.Run("Should return a tombstone for a deleted item", func(t *testing.T) {
		t.Parallel()

		reader := newFakeReader()
		reader.data[model.KindFlag]["gone"] = model.SerializedItemDescriptor{Version: 4, Deleted: true}
		s := NewLazyLoadStore(reader, LazyLoadConfig{TTL: time.Minute}, nil)

		flag, ok := s.GetFlag("gone")
		require.True(t, ok)
		assert.True(t, flag.Deleted())
		assert.Equal(t, 4, flag.Version)
	})

	t.Run("Should miss for an unknown key without an error", func(t *testing.T) {
		t.Parallel()

		s := NewLazyLoadStore(newFakeReader(), LazyLoadConfig{TTL: time.Minute}, nil)
		_, ok := s.GetFlag("no-such")
		assert.False(t, ok)
	})

	t.Run("Should cache forever with a zero TTL", func(t *testing.T) {
		t.Parallel()

		reader := newFakeReader()
		reader.putFlag(t, &model.Flag{Key: "my-flag", Version: 1})
		s := NewLazyLoadStore(reader, LazyLoadConfig{}, nil)

		for range 3 {
			_, ok := s.GetFlag("my-flag")
			require.True(t, ok)
		}
		assert.Equal(t, 1, reader.gets)
	})
}

func TestLazyLoadStore_AllFlags(t *testing.T) {
	t.Parallel()

	t.Run("Should scan once per TTL window", func(t *testing.T) {
		t.Parallel()

		reader := newFakeReader()
		reader.putFlag(t, &model.Flag{Key: "a", Version: 1})
		reader.putFlag(t, &model.Flag{Key: "b", Version: 1})
		s := NewLazyLoadStore(reader, LazyLoadConfig{TTL: time.Minute}, nil)

		assert.Len(t, s.AllFlags(), 2)
		assert.Len(t, s.AllFlags(), 2)
		assert.Equal(t, 1, reader.alls)
	})

	t.Run("Should serve the cached set when a scan fails", func(t *testing.T) {
		t.Parallel()

		reader := newFakeReader()
		reader.putFlag(t, &model.Flag{Key: "a", Version: 1})
		s := NewLazyLoadStore(reader, LazyLoadConfig{TTL: time.Millisecond}, nil)

		require.Len(t, s.AllFlags(), 1)

		reader.failing = true
		time.Sleep(5 * time.Millisecond)

		assert.Len(t, s.AllFlags(), 1)
	})
}

func TestLazyLoadStore_Initialized(t *testing.T) {
	t.Parallel()

	reader := newFakeReader()
	s := NewLazyLoadStore(reader, LazyLoadConfig{TTL: time.Minute}, nil)

	assert.True(t, s.Initialized())

	// Readiness is forwarded, never cached.
	reader.initialized = false
	assert.False(t, s.Initialized())
}

func TestLazyLoadStore_GetSegment(t *testing.T) {
	t.Parallel()

	reader := newFakeReader()
	raw, err := json.Marshal(&model.Segment{Key: "seg", Version: 2, Included: []string{"alice"}})
	require.NoError(t, err)
	reader.data[model.KindSegment]["seg"] = model.SerializedItemDescriptor{Version: 2, SerializedItem: string(raw)}

	s := NewLazyLoadStore(reader, LazyLoadConfig{TTL: time.Minute}, nil)

	segment, ok := s.GetSegment("seg")
	require.True(t, ok)
	assert.Equal(t, 2, segment.Version)
	assert.Equal(t, []string{"alice"}, segment.Segment.Included)
}
