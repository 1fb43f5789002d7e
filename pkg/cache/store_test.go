package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// setupTestRedis connects to a local Redis and skips when none is running.
// tests/integration covers the same paths against a container.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // Use a separate DB for tests
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func TestNewStore_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewStore should panic with nil redis client")
		}
	}()
	NewStore(nil, time.Minute)
}

func TestStore_SetRejectsInvalidEntries(t *testing.T) {
	store := NewStore(redis.NewClient(&redis.Options{Addr: "localhost:0"}), time.Minute)
	ctx := context.Background()

	if err := store.Set(ctx, nil); err == nil {
		t.Error("expected error for nil entry")
	}
	if err := store.Set(ctx, &Entry{Marker: "1"}); err == nil {
		t.Error("expected error for entry without source")
	}
}

func TestStore_SetAndGet(t *testing.T) {
	store := NewStore(setupTestRedis(t), 5*time.Minute)
	ctx := context.Background()

	fetchedAt := time.UnixMilli(1700000001234)
	entry := &Entry{
		Source:       "bazaar",
		Marker:       "1700000000000",
		Data:         json.RawMessage(`{"products":{}}`),
		ETag:         `"abc123"`,
		LastModified: "Tue, 14 Nov 2023 22:13:20 GMT",
		FetchedAt:    fetchedAt,
	}
	if err := store.Set(ctx, entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := store.Get(ctx, "bazaar")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Marker != entry.Marker || got.ETag != entry.ETag {
		t.Errorf("entry = %+v", got)
	}
	if string(got.Data) != `{"products":{}}` {
		t.Errorf("Data = %s", got.Data)
	}

	meta, err := store.GetMeta(ctx, "bazaar")
	if err != nil {
		t.Fatalf("GetMeta failed: %v", err)
	}
	if meta.Marker != "1700000000000" || meta.LastModified != entry.LastModified {
		t.Errorf("meta = %+v", meta)
	}
	if !meta.FetchedAt.Equal(fetchedAt) {
		t.Errorf("FetchedAt = %v, want %v", meta.FetchedAt, fetchedAt)
	}
	if meta.Size <= 0 {
		t.Errorf("Size = %d, want > 0", meta.Size)
	}
}

func TestStore_SetReplacesPrevious(t *testing.T) {
	store := NewStore(setupTestRedis(t), 5*time.Minute)
	ctx := context.Background()

	store.Set(ctx, &Entry{Source: "bazaar", Marker: "1", ETag: `"old"`, Data: json.RawMessage(`1`)})
	if err := store.Set(ctx, &Entry{Source: "bazaar", Marker: "2", Data: json.RawMessage(`2`)}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	meta, err := store.GetMeta(ctx, "bazaar")
	if err != nil {
		t.Fatalf("GetMeta failed: %v", err)
	}
	if meta.Marker != "2" {
		t.Errorf("Marker = %q, want 2", meta.Marker)
	}
	if meta.ETag != "" {
		t.Errorf("ETag = %q, stale validator survived the replace", meta.ETag)
	}
}

func TestStore_CacheMiss(t *testing.T) {
	store := NewStore(setupTestRedis(t), time.Minute)
	ctx := context.Background()

	if _, err := store.Get(ctx, "auctions"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Get: expected ErrCacheMiss, got %v", err)
	}
	if _, err := store.GetMeta(ctx, "auctions"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("GetMeta: expected ErrCacheMiss, got %v", err)
	}
}

func TestStore_ExpiredEntryNotStored(t *testing.T) {
	store := NewStore(setupTestRedis(t), time.Minute)
	ctx := context.Background()

	entry := &Entry{
		Source:  "bazaar",
		Marker:  "1",
		Data:    json.RawMessage(`{}`),
		Expires: time.Now().Add(-time.Hour),
	}
	if err := store.Set(ctx, entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, err := store.Get(ctx, "bazaar"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss for expired entry, got %v", err)
	}
}

func TestStore_Delete(t *testing.T) {
	store := NewStore(setupTestRedis(t), time.Minute)
	ctx := context.Background()

	store.Set(ctx, &Entry{Source: "bazaar", Marker: "1", Data: json.RawMessage(`{}`)})
	if err := store.Delete(ctx, "bazaar"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.GetMeta(ctx, "bazaar"); !errors.Is(err, ErrCacheMiss) {
		t.Errorf("Expected ErrCacheMiss after Delete, got %v", err)
	}
}
