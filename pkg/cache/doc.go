// Package cache stores the latest ingested snapshot of each polled source in Redis.
//
// Every source has two keys:
//
//	market:snapshot:<source>:data  JSON Entry holding the full payload
//	market:snapshot:<source>:meta  hash with marker, etag, last_modified, fetched_at, size
//
// Both are written in one transaction with the same TTL. The meta hash is
// small, so a restarting poller can read its last marker without pulling a
// multi-megabyte auctions snapshot.
//
// # Basic Usage
//
//	store := cache.NewStore(redisClient, 10*time.Minute)
//
//	// After a changed fetch
//	err := store.Set(ctx, &cache.Entry{Source: "bazaar", Marker: "1700000000000", Data: body})
//
//	// At startup
//	meta, err := store.GetMeta(ctx, "bazaar")
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// first run
//	}
//
// # Metrics
//
//   - market_snapshot_hits_total{part}
//   - market_snapshot_misses_total{part}
//   - market_snapshot_writes_total{source}
//   - market_snapshot_size_bytes{source}
//   - market_snapshot_errors_total{operation}
package cache
