package ingest

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/hypixel-market-poller/pkg/cache"
	"github.com/Sternrassler/hypixel-market-poller/pkg/config"
	"github.com/Sternrassler/hypixel-market-poller/pkg/pipeline"
	"github.com/Sternrassler/hypixel-market-poller/pkg/poller"
)

// MetaReader reads the stored meta record of a source. *cache.Store implements it.
type MetaReader interface {
	GetMeta(ctx context.Context, source string) (*cache.Meta, error)
}

// SourceStatus is the operator view of one source.
type SourceStatus struct {
	Poller   poller.Snapshot `json:"poller"`
	Pipeline pipeline.Stats  `json:"pipeline"`
}

// source is a poller and its pipeline, typed away so the service can hold
// sources with different payloads side by side.
type source interface {
	Serve(ctx context.Context) error
	String() string
	Name() string
	Status() SourceStatus
	seed(ctx context.Context, meta MetaReader)
	start()
	close(ctx context.Context) error
}

type runner[T any] struct {
	poller *poller.Poller[T]
	pipe   *pipeline.Pipeline[poller.Execution[T]]
	logger zerolog.Logger
}

func newRunner[T any](
	ep config.Endpoint,
	pc config.Pipeline,
	blocking bool,
	fetch poller.FetchFunc[T],
	limiter poller.Admission,
	handler pipeline.Handler[poller.Execution[T]],
	logger zerolog.Logger,
) *runner[T] {
	pipe := pipeline.New(ep.Name, pipeline.Options{
		Capacity:        pc.QueueCapacity,
		Coalesce:        pc.CoalesceEnabled,
		DrainOnShutdown: pc.DrainOnShutdown,
	}, handler, logger)

	p := poller.New(ep, fetch, limiter, pipe, poller.Options{
		Blocking:       blocking,
		EnqueueTimeout: pc.EnqueueTimeout,
		Logger:         logger,
	})

	return &runner[T]{
		poller: p,
		pipe:   pipe,
		logger: logger.With().Str("source", ep.Name).Logger(),
	}
}

// Serve runs the poller until ctx ends. It implements suture.Service.
func (r *runner[T]) Serve(ctx context.Context) error {
	return r.poller.Serve(ctx)
}

func (r *runner[T]) String() string {
	return r.poller.String()
}

func (r *runner[T]) Name() string {
	return r.poller.Name()
}

func (r *runner[T]) Status() SourceStatus {
	return SourceStatus{
		Poller:   r.poller.Snapshot(),
		Pipeline: r.pipe.Stats(),
	}
}

func (r *runner[T]) seed(ctx context.Context, meta MetaReader) {
	m, err := meta.GetMeta(ctx, r.Name())
	if err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			r.logger.Debug().Msg("No stored snapshot to seed from")
			return
		}
		r.logger.Warn().Err(err).Msg("Failed to read stored snapshot meta")
		return
	}

	r.poller.SeedMarker(m.Marker, m.ETag, m.LastModified)
	r.logger.Info().
		Str("marker", m.Marker).
		Time("stored_at", m.FetchedAt).
		Msg("Seeded marker from stored snapshot")
}

func (r *runner[T]) start() {
	r.pipe.Start()
}

func (r *runner[T]) close(ctx context.Context) error {
	return r.pipe.Close(ctx)
}
