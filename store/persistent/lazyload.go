package persistent

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/bifrostlabs/bifrost/internal/logger"
	"github.com/bifrostlabs/bifrost/internal/observability"
	"github.com/bifrostlabs/bifrost/model"
	"github.com/bifrostlabs/bifrost/store"
)

// Compile-time check that the lazy store can serve the evaluator.
var _ store.DataReader = (*LazyLoadStore)(nil)

// LazyLoadConfig holds the configuration for LazyLoadStore.
type LazyLoadConfig struct {
	// TTL is how long a fetched item is served before the database is asked
	// again. Zero or negative caches forever.
	TTL time.Duration
	// QueryTimeout bounds each database query. Zero means 5s.
	QueryTimeout time.Duration
}

type cachedFlag struct {
	item     model.FlagDescriptor
	deadline time.Time
}

type cachedSegment struct {
	item     model.SegmentDescriptor
	deadline time.Time
}

// LazyLoadStore is a read-through cache over a SerializedDataReader. Items
// are fetched on first use and refreshed after the TTL; nothing is ever
// evicted, and a failed refresh serves the stale value rather than dropping
// it.
type LazyLoadStore struct {
	reader SerializedDataReader
	config LazyLoadConfig
	logger *slog.Logger

	mu               sync.Mutex
	flags            map[string]cachedFlag
	segments         map[string]cachedSegment
	allFlagsDeadline time.Time
	allSegsDeadline  time.Time
}

// NewLazyLoadStore creates a lazy store over reader.
func NewLazyLoadStore(reader SerializedDataReader, cfg LazyLoadConfig, log *slog.Logger) *LazyLoadStore {
	if reader == nil {
		panic("persistent: serialized data reader cannot be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 5 * time.Second
	}
	return &LazyLoadStore{
		reader:   reader,
		config:   cfg,
		logger:   log,
		flags:    make(map[string]cachedFlag),
		segments: make(map[string]cachedSegment),
	}
}

func (s *LazyLoadStore) expired(deadline time.Time) bool {
	if s.config.TTL <= 0 {
		return deadline.IsZero()
	}
	return !deadline.After(time.Now())
}

func (s *LazyLoadStore) nextDeadline() time.Time {
	if s.config.TTL <= 0 {
		// A sentinel far future keeps the zero value meaning "never fetched".
		return time.Now().Add(100 * 365 * 24 * time.Hour)
	}
	return time.Now().Add(s.config.TTL)
}

func (s *LazyLoadStore) queryCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.config.QueryTimeout)
}

// GetFlag returns the flag descriptor for key, consulting the database on
// first use or after expiry.
func (s *LazyLoadStore) GetFlag(key string) (model.FlagDescriptor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cached, have := s.flags[key]
	if have && !s.expired(cached.deadline) {
		observability.CacheHits.Inc()
		return cached.item, true
	}
	observability.CacheMisses.Inc()

	ctx, cancel := s.queryCtx()
	defer cancel()
	serialized, err := s.reader.Get(ctx, model.KindFlag, key)
	if err != nil {
		s.logger.Warn("flag refresh failed",
			slog.String("key", key),
			slog.String("source", s.reader.Identity()),
			logger.Err(err),
		)
		if have {
			// Serve stale and try again after another TTL.
			s.flags[key] = cachedFlag{item: cached.item, deadline: s.nextDeadline()}
			return cached.item, true
		}
		return model.FlagDescriptor{}, false
	}
	if serialized == nil {
		delete(s.flags, key)
		return model.FlagDescriptor{}, false
	}

	item, err := deserializeFlag(*serialized)
	if err != nil {
		s.logger.Warn("malformed flag in database",
			slog.String("key", key),
			logger.Err(err),
		)
		if have {
			return cached.item, true
		}
		return model.FlagDescriptor{}, false
	}
	s.flags[key] = cachedFlag{item: item, deadline: s.nextDeadline()}
	return item, true
}

// GetSegment returns the segment descriptor for key.
func (s *LazyLoadStore) GetSegment(key string) (model.SegmentDescriptor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cached, have := s.segments[key]
	if have && !s.expired(cached.deadline) {
		observability.CacheHits.Inc()
		return cached.item, true
	}
	observability.CacheMisses.Inc()

	ctx, cancel := s.queryCtx()
	defer cancel()
	serialized, err := s.reader.Get(ctx, model.KindSegment, key)
	if err != nil {
		s.logger.Warn("segment refresh failed",
			slog.String("key", key),
			slog.String("source", s.reader.Identity()),
			logger.Err(err),
		)
		if have {
			s.segments[key] = cachedSegment{item: cached.item, deadline: s.nextDeadline()}
			return cached.item, true
		}
		return model.SegmentDescriptor{}, false
	}
	if serialized == nil {
		delete(s.segments, key)
		return model.SegmentDescriptor{}, false
	}

	item, err := deserializeSegment(*serialized)
	if err != nil {
		s.logger.Warn("malformed segment in database",
			slog.String("key", key),
			logger.Err(err),
		)
		if have {
			return cached.item, true
		}
		return model.SegmentDescriptor{}, false
	}
	s.segments[key] = cachedSegment{item: item, deadline: s.nextDeadline()}
	return item, true
}

// AllFlags returns every flag descriptor, tombstones included.
func (s *LazyLoadStore) AllFlags() map[string]model.FlagDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.expired(s.allFlagsDeadline) {
		ctx, cancel := s.queryCtx()
		defer cancel()
		serialized, err := s.reader.All(ctx, model.KindFlag)
		if err != nil {
			s.logger.Warn("flag scan failed",
				slog.String("source", s.reader.Identity()),
				logger.Err(err),
			)
		} else {
			fresh := make(map[string]cachedFlag, len(serialized))
			deadline := s.nextDeadline()
			for key, si := range serialized {
				item, err := deserializeFlag(si)
				if err != nil {
					s.logger.Warn("malformed flag in database",
						slog.String("key", key),
						logger.Err(err),
					)
					continue
				}
				fresh[key] = cachedFlag{item: item, deadline: deadline}
			}
			s.flags = fresh
			s.allFlagsDeadline = deadline
		}
	}

	out := make(map[string]model.FlagDescriptor, len(s.flags))
	for key, cached := range s.flags {
		out[key] = cached.item
	}
	return out
}

// AllSegments returns every segment descriptor, tombstones included.
func (s *LazyLoadStore) AllSegments() map[string]model.SegmentDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.expired(s.allSegsDeadline) {
		ctx, cancel := s.queryCtx()
		defer cancel()
		serialized, err := s.reader.All(ctx, model.KindSegment)
		if err != nil {
			s.logger.Warn("segment scan failed",
				slog.String("source", s.reader.Identity()),
				logger.Err(err),
			)
		} else {
			fresh := make(map[string]cachedSegment, len(serialized))
			deadline := s.nextDeadline()
			for key, si := range serialized {
				item, err := deserializeSegment(si)
				if err != nil {
					s.logger.Warn("malformed segment in database",
						slog.String("key", key),
						logger.Err(err),
					)
					continue
				}
				fresh[key] = cachedSegment{item: item, deadline: deadline}
			}
			s.segments = fresh
			s.allSegsDeadline = deadline
		}
	}

	out := make(map[string]model.SegmentDescriptor, len(s.segments))
	for key, cached := range s.segments {
		out[key] = cached.item
	}
	return out
}

// Initialized forwards to the database; readiness is its state, not ours.
func (s *LazyLoadStore) Initialized() bool {
	ctx, cancel := s.queryCtx()
	defer cancel()
	return s.reader.Initialized(ctx)
}

func deserializeFlag(si model.SerializedItemDescriptor) (model.FlagDescriptor, error) {
	if si.Deleted {
		return model.FlagDescriptor{Version: si.Version}, nil
	}
	var flag model.Flag
	if err := json.Unmarshal([]byte(si.SerializedItem), &flag); err != nil {
		return model.FlagDescriptor{}, err
	}
	version := si.Version
	if flag.Version > version {
		version = flag.Version
	}
	return model.FlagDescriptor{Version: version, Flag: &flag}, nil
}

func deserializeSegment(si model.SerializedItemDescriptor) (model.SegmentDescriptor, error) {
	if si.Deleted {
		return model.SegmentDescriptor{Version: si.Version}, nil
	}
	var segment model.Segment
	if err := json.Unmarshal([]byte(si.SerializedItem), &segment); err != nil {
		return model.SegmentDescriptor{}, err
	}
	version := si.Version
	if segment.Version > version {
		version = segment.Version
	}
	return model.SegmentDescriptor{Version: version, Segment: &segment}, nil
}
