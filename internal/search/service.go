package search

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"dramastream/aggregator/internal/domain"
	"dramastream/aggregator/internal/registry"
)

var (
	ErrEmptyKeyword = errors.New("keyword is required")
)

// Querier is the upstream access the aggregator needs; the concrete client
// lives in internal/upstream.
type Querier interface {
	Search(ctx context.Context, src domain.SourceDescriptor, keyword string) ([]domain.SearchItem, error)
}

// Service fans a keyword out to every enabled VOD source and settles each
// one independently. The shorts registry is held for diagnostics only.
type Service struct {
	vod    registry.Store
	shorts registry.Store
	client Querier

	timeout       time.Duration
	cacheDisabled bool
	cacheTTL      time.Duration
	redisCache    *RedisCacheBackend

	cacheMu sync.Mutex
	cache   map[string]*cachedResponse

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter

	healthMu sync.Mutex
	health   map[string]*sourceHealth
}

type ServiceOption func(*Service)

func WithRedisCache(backend *RedisCacheBackend) ServiceOption {
	return func(s *Service) {
		s.redisCache = backend
	}
}

func WithCacheTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) {
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

func WithCacheDisabled(disabled bool) ServiceOption {
	return func(s *Service) {
		s.cacheDisabled = disabled
	}
}

func NewService(vod, shorts registry.Store, client Querier, timeout time.Duration, opts ...ServiceOption) *Service {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	svc := &Service{
		vod:      vod,
		shorts:   shorts,
		client:   client,
		timeout:  timeout,
		cacheTTL: defaultCacheTTL,
		cache:    make(map[string]*cachedResponse),
		limiters: make(map[string]*rate.Limiter),
		health:   make(map[string]*sourceHealth),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// enabledSources snapshots the VOD registry in its stored order. Shorts
// sources are browsed through their own proxy endpoints and never join the
// keyword fan-out, so init.totalSources always matches the configured VOD
// set.
func (s *Service) enabledSources(ctx context.Context) ([]domain.SourceDescriptor, error) {
	if s.vod == nil {
		return nil, nil
	}
	return s.vod.List(ctx, false)
}

// Sources lists the enabled source identities in fan-out order.
func (s *Service) Sources(ctx context.Context) ([]domain.SourceRef, error) {
	sources, err := s.enabledSources(ctx)
	if err != nil {
		return nil, err
	}
	refs := make([]domain.SourceRef, 0, len(sources))
	for _, src := range sources {
		refs = append(refs, domain.SourceRef{Key: src.Key, Name: src.Name})
	}
	return refs, nil
}
