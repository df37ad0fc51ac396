//go:build integration

package persistent_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bifrostlabs/bifrost/internal/testsupport"
	"github.com/bifrostlabs/bifrost/model"
	"github.com/bifrostlabs/bifrost/store/persistent"
)

// TestRedisDataReader_Integration runs the reader against a real Redis
// container seeded the way an external writer would populate it.
func TestRedisDataReader_Integration(t *testing.T) {
	ctx := context.Background()

	redisCtr, err := testsupport.StartRedisContainer(ctx)
	require.NoError(t, err, "failed to start redis container")
	defer func() {
		if err := redisCtr.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}()

	const prefix = "bifrost-test"

	seed := map[string]map[string]string{
		prefix + ":features": {
			"bool-flag": `{"key":"bool-flag","version":7,"on":true}`,
			"old-flag":  "$deleted:12",
		},
		prefix + ":segments": {
			"beta": `{"key":"beta","version":3}`,
		},
	}
	for hash, fields := range seed {
		for field, value := range fields {
			require.NoError(t, redisCtr.Client.HSet(ctx, hash, field, value).Err())
		}
	}

	reader, err := persistent.NewRedisDataReader(ctx, redisCtr.Endpoint, prefix)
	require.NoError(t, err)
	defer reader.Close()

	t.Run("Should read a single item", func(t *testing.T) {
		item, err := reader.Get(ctx, model.KindFlag, "bool-flag")
		require.NoError(t, err)
		require.NotNil(t, item)
		assert.False(t, item.Deleted)
		assert.JSONEq(t, `{"key":"bool-flag","version":7,"on":true}`, item.SerializedItem)
	})

	t.Run("Should decode tombstone markers", func(t *testing.T) {
		item, err := reader.Get(ctx, model.KindFlag, "old-flag")
		require.NoError(t, err)
		require.NotNil(t, item)
		assert.True(t, item.Deleted)
		assert.Equal(t, 12, item.Version)
	})

	t.Run("Should return nil for unknown keys", func(t *testing.T) {
		item, err := reader.Get(ctx, model.KindFlag, "nope")
		require.NoError(t, err)
		assert.Nil(t, item)
	})

	t.Run("Should scan a whole kind", func(t *testing.T) {
		flags, err := reader.All(ctx, model.KindFlag)
		require.NoError(t, err)
		assert.Len(t, flags, 2)

		segments, err := reader.All(ctx, model.KindSegment)
		require.NoError(t, err)
		require.Len(t, segments, 1)
		assert.Contains(t, segments["beta"].SerializedItem, `"version":3`)
	})

	t.Run("Should report initialized only after the marker key exists", func(t *testing.T) {
		assert.False(t, reader.Initialized(ctx))

		require.NoError(t, redisCtr.Client.Set(ctx, prefix+":$inited", "1", 0).Err())

		assert.True(t, reader.Initialized(ctx))
	})

	t.Run("Should answer the health check", func(t *testing.T) {
		check := persistent.NewHealthChecker("redis", reader)
		assert.Equal(t, "redis", check.Name())
		assert.NoError(t, check.Check(ctx))
	})
}
