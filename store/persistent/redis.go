package persistent

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bifrostlabs/bifrost/model"
)

// DefaultRedisPrefix is the namespace used for all keys in Redis.
// Example: "bifrost:features" holds the flag hash.
const DefaultRedisPrefix = "bifrost"

// initedSuffix marks a database that received a complete dataset.
const initedSuffix = "$inited"

// Compile-time check to verify that RedisDataReader implements
// SerializedDataReader. If the interface changes and the struct doesn't, the
// build fails here.
var _ SerializedDataReader = (*RedisDataReader)(nil)

// RedisDataReader reads serialized flag data from Redis. Each data kind is
// one hash: field = item key, value = the serialized item. Tombstones are
// stored as "$deleted:<version>".
type RedisDataReader struct {
	client *redis.Client
	prefix string
}

// NewRedisDataReader initializes a new Redis client and verifies the
// connection.
func NewRedisDataReader(ctx context.Context, addr, prefix string) (*RedisDataReader, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis address cannot be empty")
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}

	opts := &redis.Options{
		Addr: addr,
		// Timeouts prevent cascading failures
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		// Connection Pool settings
		PoolSize:     10,
		MinIdleConns: 2,
	}

	client := redis.NewClient(opts)

	// Fail Fast: Verify connection immediately
	initCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(initCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisDataReader{client: client, prefix: prefix}, nil
}

func (r *RedisDataReader) hashKey(kind model.DataKind) string {
	return fmt.Sprintf("%s:%s", r.prefix, kind)
}

// Get reads one serialized item from the kind's hash.
func (r *RedisDataReader) Get(ctx context.Context, kind model.DataKind, key string) (*model.SerializedItemDescriptor, error) {
	value, err := r.client.HGet(ctx, r.hashKey(kind), key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s %q from redis: %w", kind, key, err)
	}
	item := parseRedisValue(value)
	return &item, nil
}

// All reads the kind's entire hash.
func (r *RedisDataReader) All(ctx context.Context, kind model.DataKind) (map[string]model.SerializedItemDescriptor, error) {
	values, err := r.client.HGetAll(ctx, r.hashKey(kind)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s from redis: %w", kind, err)
	}
	items := make(map[string]model.SerializedItemDescriptor, len(values))
	for key, value := range values {
		items[key] = parseRedisValue(value)
	}
	return items, nil
}

// Identity describes this reader for logs and health output.
func (r *RedisDataReader) Identity() string {
	return fmt.Sprintf("redis (%s)", r.client.Options().Addr)
}

// Initialized checks the marker key written after the first complete
// dataset.
func (r *RedisDataReader) Initialized(ctx context.Context) bool {
	n, err := r.client.Exists(ctx, fmt.Sprintf("%s:%s", r.prefix, initedSuffix)).Result()
	return err == nil && n > 0
}

// Ping verifies the Redis connection.
func (r *RedisDataReader) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close terminates the connection.
func (r *RedisDataReader) Close() error {
	return r.client.Close()
}

// parseRedisValue decodes a hash value: either a tombstone marker
// "$deleted:<version>" or the serialized item itself with its embedded
// version.
func parseRedisValue(value string) model.SerializedItemDescriptor {
	if rest, ok := strings.CutPrefix(value, "$deleted:"); ok {
		version, err := strconv.Atoi(rest)
		if err == nil {
			return model.SerializedItemDescriptor{Version: version, Deleted: true}
		}
	}
	return model.SerializedItemDescriptor{SerializedItem: value}
}
