package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/hypixel-market-poller/pkg/cache"
	"github.com/Sternrassler/hypixel-market-poller/pkg/pipeline"
	"github.com/Sternrassler/hypixel-market-poller/pkg/poller"
)

// SnapshotWriter stores the latest snapshot of a source. *cache.Store implements it.
type SnapshotWriter interface {
	Set(ctx context.Context, entry *cache.Entry) error
}

// sized is implemented by payloads that can report how many items they hold.
type sized interface {
	Len() int
}

// CacheHandler stores each changed payload as the latest snapshot of source.
// Executions without a payload are skipped.
func CacheHandler[T any](source string, store SnapshotWriter) pipeline.Handler[poller.Execution[T]] {
	return func(ctx context.Context, exec poller.Execution[T]) error {
		if !exec.HasPayload {
			return nil
		}

		data, err := json.Marshal(exec.Payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", source, err)
		}

		entry := &cache.Entry{
			ID:        uuid.NewString(),
			Source:    source,
			Marker:    exec.Decision.Current,
			Data:      data,
			FetchedAt: exec.FetchedAt,
		}
		if h := exec.Transport.Header; h != nil {
			entry.ETag = h.Get("ETag")
			entry.LastModified = h.Get("Last-Modified")
		}

		if err := store.Set(ctx, entry); err != nil {
			return fmt.Errorf("store %s snapshot: %w", source, err)
		}
		return nil
	}
}

// LogHandler logs every changed execution at info level.
func LogHandler[T any](logger zerolog.Logger) pipeline.Handler[poller.Execution[T]] {
	return func(_ context.Context, exec poller.Execution[T]) error {
		ev := logger.Info().
			Str("marker", exec.Decision.Current).
			Str("previous", exec.Decision.Previous).
			Time("fetched_at", exec.FetchedAt).
			Int("bytes", len(exec.Transport.Body))
		if s, ok := any(exec.Payload).(sized); ok && exec.HasPayload {
			ev = ev.Int("items", s.Len())
		}
		ev.Msg("Snapshot changed")
		return nil
	}
}

// Chain runs handlers in order. Every handler runs even when an earlier one
// fails; the errors are joined.
func Chain[T any](handlers ...pipeline.Handler[T]) pipeline.Handler[T] {
	return func(ctx context.Context, item T) error {
		var errs []error
		for _, h := range handlers {
			if h == nil {
				continue
			}
			if err := h(ctx, item); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}
