package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss indicates no snapshot is stored for the source.
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the stored entry is invalid or corrupted.
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Meta hash fields.
const (
	fieldMarker       = "marker"
	fieldETag         = "etag"
	fieldLastModified = "last_modified"
	fieldFetchedAt    = "fetched_at"
	fieldSize         = "size"
)

// Store keeps the latest snapshot per source in Redis.
type Store struct {
	redis *redis.Client
	ttl   time.Duration
}

// NewStore creates a snapshot store. ttl applies to entries stored without
// an explicit Expires.
func NewStore(redisClient *redis.Client, ttl time.Duration) *Store {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Store{
		redis: redisClient,
		ttl:   ttl,
	}
}

// Get retrieves the latest snapshot of source.
// Returns ErrCacheMiss if none is stored or it has expired.
func (s *Store) Get(ctx context.Context, source string) (*Entry, error) {
	key := DataKey(source)

	data, err := s.redis.Get(ctx, key.String()).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			SnapshotMisses.WithLabelValues(string(PartData)).Inc()
			return nil, ErrCacheMiss
		}
		SnapshotErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		SnapshotErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}

	if entry.IsExpired() {
		_ = s.Delete(ctx, source)
		SnapshotMisses.WithLabelValues(string(PartData)).Inc()
		return nil, ErrCacheMiss
	}

	SnapshotHits.WithLabelValues(string(PartData)).Inc()
	return &entry, nil
}

// GetMeta retrieves the meta record of source without its payload.
// Returns ErrCacheMiss if none is stored.
func (s *Store) GetMeta(ctx context.Context, source string) (*Meta, error) {
	vals, err := s.redis.HGetAll(ctx, MetaKey(source).String()).Result()
	if err != nil {
		SnapshotErrors.WithLabelValues("get_meta").Inc()
		return nil, fmt.Errorf("redis hgetall: %w", err)
	}
	if len(vals) == 0 || vals[fieldMarker] == "" {
		SnapshotMisses.WithLabelValues(string(PartMeta)).Inc()
		return nil, ErrCacheMiss
	}

	meta := &Meta{
		Source:       source,
		Marker:       vals[fieldMarker],
		ETag:         vals[fieldETag],
		LastModified: vals[fieldLastModified],
	}
	if ms, err := strconv.ParseInt(vals[fieldFetchedAt], 10, 64); err == nil {
		meta.FetchedAt = time.UnixMilli(ms)
	}
	if size, err := strconv.ParseInt(vals[fieldSize], 10, 64); err == nil {
		meta.Size = size
	}

	SnapshotHits.WithLabelValues(string(PartMeta)).Inc()
	return meta, nil
}

// Set stores entry as the latest snapshot of its source, replacing any
// previous one. Both keys expire together.
func (s *Store) Set(ctx context.Context, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}
	if entry.Source == "" {
		return fmt.Errorf("cache entry source is required")
	}

	if entry.FetchedAt.IsZero() {
		entry.FetchedAt = time.Now()
	}
	if entry.Expires.IsZero() {
		entry.Expires = time.Now().Add(s.ttl)
	}

	ttl := entry.TTL()
	if ttl <= 0 {
		// Already expired, don't store
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		SnapshotErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	metaKey := MetaKey(entry.Source).String()
	pipe := s.redis.TxPipeline()
	pipe.Set(ctx, DataKey(entry.Source).String(), data, ttl)
	pipe.Del(ctx, metaKey)
	pipe.HSet(ctx, metaKey,
		fieldMarker, entry.Marker,
		fieldETag, entry.ETag,
		fieldLastModified, entry.LastModified,
		fieldFetchedAt, entry.FetchedAt.UnixMilli(),
		fieldSize, len(data),
	)
	pipe.Expire(ctx, metaKey, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		SnapshotErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set snapshot: %w", err)
	}

	SnapshotWrites.WithLabelValues(entry.Source).Inc()
	SnapshotSize.WithLabelValues(entry.Source).Set(float64(len(data)))
	return nil
}

// Delete removes the snapshot of source.
func (s *Store) Delete(ctx context.Context, source string) error {
	if err := s.redis.Del(ctx, DataKey(source).String(), MetaKey(source).String()).Err(); err != nil {
		SnapshotErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
