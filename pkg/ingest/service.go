package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/thejerf/suture/v4"

	"github.com/Sternrassler/hypixel-market-poller/pkg/cache"
	"github.com/Sternrassler/hypixel-market-poller/pkg/config"
	"github.com/Sternrassler/hypixel-market-poller/pkg/hypixel"
	"github.com/Sternrassler/hypixel-market-poller/pkg/logging"
	"github.com/Sternrassler/hypixel-market-poller/pkg/pipeline"
	"github.com/Sternrassler/hypixel-market-poller/pkg/poller"
	"github.com/Sternrassler/hypixel-market-poller/pkg/ratelimit"
)

// Service runs every configured source under one supervisor.
type Service struct {
	cfg     *config.Config
	logger  zerolog.Logger
	redis   *redis.Client
	tracker *ratelimit.Tracker
	limiter *ratelimit.Limiter
	store   *cache.Store
	sources []source
	extra   []suture.Service
}

// NewRedisClient creates the Redis client described by cfg. Addr may be a
// host:port pair or a redis:// URL.
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	if strings.Contains(cfg.Addr, "://") {
		opts, err := redis.ParseURL(cfg.Addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}), nil
}

// New wires the sources of cfg. redisClient may be nil, in which case the
// upstream quota is not tracked and snapshots are only logged.
func New(cfg *config.Config, redisClient *redis.Client, logger zerolog.Logger) (*Service, error) {
	s := &Service{
		cfg:    cfg,
		logger: logger,
		redis:  redisClient,
	}

	var quota ratelimit.QuotaSource
	var observer hypixel.QuotaObserver
	if redisClient != nil {
		s.tracker = ratelimit.NewTracker(redisClient, logger)
		s.store = cache.NewStore(redisClient, cfg.Redis.SnapshotTTL)
		quota = s.tracker
		observer = s.tracker
	}
	s.limiter = ratelimit.NewLimiter(cfg.Adaptive.GlobalMaxRequestsPerSecond, quota, logger)

	if !cfg.Adaptive.Enabled {
		logger.Info().Msg("Adaptive polling disabled")
		return s, nil
	}

	newClient := func(ep config.Endpoint) (*hypixel.Client, error) {
		hc := hypixel.DefaultConfig(cfg.Hypixel.APIURL, cfg.Hypixel.UserAgent)
		hc.APIKey = cfg.Hypixel.APIKey
		hc.ConnectTimeout = ep.ConnectTimeout
		hc.RequestTimeout = ep.RequestTimeout
		hc.Quota = observer
		hc.Logger = logging.ForSource(logger, ep.Name)
		client, err := hypixel.NewClient(hc)
		if err != nil {
			return nil, fmt.Errorf("hypixel client for %s: %w", ep.Name, err)
		}
		return client, nil
	}

	pc := cfg.Adaptive.Pipeline
	blocking := cfg.Adaptive.BlockingAdmission

	auctionsEP := cfg.Adaptive.Auctions
	auctionsClient, err := newClient(auctionsEP)
	if err != nil {
		return nil, err
	}
	auctions := hypixel.NewAuctionsFetcher(auctionsClient, auctionsEP.Path, s.limiter,
		cfg.Hypixel.PageConcurrency, logging.ForSource(logger, auctionsEP.Name))
	s.sources = append(s.sources, newRunner(auctionsEP, pc, blocking, auctions.Fetch, s.limiter,
		handlerFor[*hypixel.AuctionsSnapshot](auctionsEP.Name, s.store, logger), logger))

	bazaarEP := cfg.Adaptive.Bazaar
	bazaarClient, err := newClient(bazaarEP)
	if err != nil {
		return nil, err
	}
	bazaar := hypixel.NewBazaarFetcher(bazaarClient, bazaarEP.Path, logging.ForSource(logger, bazaarEP.Name))
	s.sources = append(s.sources, newRunner(bazaarEP, pc, blocking, bazaar.Fetch, s.limiter,
		handlerFor[*hypixel.BazaarResponse](bazaarEP.Name, s.store, logger), logger))

	return s, nil
}

func handlerFor[T any](name string, store *cache.Store, logger zerolog.Logger) pipeline.Handler[poller.Execution[T]] {
	handlers := []pipeline.Handler[poller.Execution[T]]{
		LogHandler[T](logging.ForSource(logger, name)),
	}
	if store != nil {
		handlers = append(handlers, CacheHandler[T](name, store))
	}
	return Chain(handlers...)
}

// AddService runs svc under the same supervisor as the pollers.
// Must be called before Run.
func (s *Service) AddService(svc suture.Service) {
	s.extra = append(s.extra, svc)
}

// Limiter returns the shared admission gate.
func (s *Service) Limiter() *ratelimit.Limiter {
	return s.limiter
}

// Store returns the snapshot store, or nil without Redis.
func (s *Service) Store() *cache.Store {
	return s.store
}

// Sources returns the status of every source in configuration order.
func (s *Service) Sources() []SourceStatus {
	out := make([]SourceStatus, 0, len(s.sources))
	for _, src := range s.sources {
		out = append(out, src.Status())
	}
	return out
}

// Ready reports whether the service's backends are reachable.
func (s *Service) Ready(ctx context.Context) error {
	if s.redis == nil {
		return nil
	}
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Run seeds the pollers from stored snapshots, starts the pipelines and
// serves every source until ctx ends. Pipelines are then closed within the
// configured shutdown timeout.
func (s *Service) Run(ctx context.Context) error {
	if s.store != nil {
		for _, src := range s.sources {
			src.seed(ctx, s.store)
		}
	}
	for _, src := range s.sources {
		src.start()
	}

	sup := suture.New("market-poller", suture.Spec{
		EventHook: eventHook(s.logger),
		Timeout:   s.cfg.Server.ShutdownTimeout,
	})
	for _, src := range s.sources {
		sup.Add(src)
	}
	for _, svc := range s.extra {
		sup.Add(svc)
	}

	s.logger.Info().
		Int("sources", len(s.sources)).
		Float64("global_rps", s.limiter.Limit()).
		Bool("redis", s.redis != nil).
		Msg("Service started")

	err := sup.Serve(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}

	closeErr := s.closePipelines()
	s.logger.Info().Msg("Service stopped")
	return errors.Join(err, closeErr)
}

func (s *Service) closePipelines() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Adaptive.Pipeline.ShutdownTimeout)
	defer cancel()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, src := range s.sources {
		wg.Add(1)
		go func(src source) {
			defer wg.Done()
			if err := src.close(ctx); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}(src)
	}
	wg.Wait()
	return errors.Join(errs...)
}

func eventHook(logger zerolog.Logger) suture.EventHook {
	return func(e suture.Event) {
		logger.Warn().Fields(e.Map()).Msg(e.String())
	}
}
