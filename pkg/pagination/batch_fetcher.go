package pagination

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds batch fetcher configuration.
type Config struct {
	// MaxConcurrency is the maximum number of parallel page requests.
	MaxConcurrency int

	Logger zerolog.Logger
}

// DefaultConfig returns a configuration suited to the shared Hypixel budget.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		Logger:         zerolog.Nop(),
	}
}

// PageFetcher fetches a single page.
type PageFetcher[P any] interface {
	FetchPage(ctx context.Context, page int) (P, error)
}

// PageFetcherFunc adapts a function to PageFetcher.
type PageFetcherFunc[P any] func(ctx context.Context, page int) (P, error)

// FetchPage calls f.
func (f PageFetcherFunc[P]) FetchPage(ctx context.Context, page int) (P, error) {
	return f(ctx, page)
}

// PageError reports which page failed.
type PageError struct {
	Page int
	Err  error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("page %d: %v", e.Page, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *PageError) Unwrap() error {
	return e.Err
}

// BatchFetcher handles parallel fetching of multiple pages.
type BatchFetcher[P any] struct {
	fetcher PageFetcher[P]
	config  Config
}

// NewBatchFetcher creates a new batch fetcher.
func NewBatchFetcher[P any](fetcher PageFetcher[P], config Config) *BatchFetcher[P] {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = DefaultConfig().MaxConcurrency
	}
	return &BatchFetcher[P]{
		fetcher: fetcher,
		config:  config,
	}
}

// FetchRemaining fetches pages 1..totalPages-1 and returns them in page
// order. Page 0 is the caller's. The first failing page cancels the others
// and is returned as a *PageError.
func (bf *BatchFetcher[P]) FetchRemaining(ctx context.Context, totalPages int) ([]P, error) {
	if totalPages <= 1 {
		return nil, nil
	}

	start := time.Now()
	remaining := totalPages - 1
	results := make([]P, remaining)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pageQueue := make(chan int, remaining)
	for page := 1; page < totalPages; page++ {
		pageQueue <- page
	}
	close(pageQueue)

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)

	workers := min(bf.config.MaxConcurrency, remaining)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for page := range pageQueue {
				if ctx.Err() != nil {
					return
				}

				data, err := bf.fetcher.FetchPage(ctx, page)
				if err != nil {
					errOnce.Do(func() {
						firstErr = &PageError{Page: page, Err: err}
						cancel()
					})
					bf.config.Logger.Debug().
						Err(err).
						Int("worker_id", workerID).
						Int("page", page).
						Msg("Page fetch failed")
					return
				}

				// Each index is written by exactly one worker.
				results[page-1] = data
			}
		}(i)
	}

	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("fetch remaining pages: %w", err)
	}

	bf.config.Logger.Debug().
		Int("pages", totalPages).
		Int("workers", workers).
		Dur("duration", time.Since(start)).
		Msg("Fetched remaining pages")

	return results, nil
}
