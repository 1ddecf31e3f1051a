package search

import (
	"context"
	"sort"
	"strings"
	"time"

	"dramastream/aggregator/internal/domain"
	"dramastream/aggregator/internal/metrics"
)

const (
	defaultCacheTTL        = 5 * time.Minute
	defaultCacheMaxEntries = 400
)

type cachedResponse struct {
	response  domain.SearchResponse
	updatedAt time.Time
	expiresAt time.Time
}

// cacheLookup consults Redis first when configured, then the in-process
// map. Redis hits are copied into memory so the next lookup in this
// process skips the round trip.
func (s *Service) cacheLookup(ctx context.Context, key string, now time.Time) (domain.SearchResponse, bool) {
	if s.redisCache != nil {
		response, found, err := s.redisCache.Get(ctx, key)
		if err == nil && found {
			metrics.CacheHitsTotal.Inc()
			s.cacheStoreMemory(key, response, now)
			return response, true
		}
	}

	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	entry, ok := s.cache[key]
	if !ok {
		metrics.CacheMissesTotal.Inc()
		return domain.SearchResponse{}, false
	}
	if now.After(entry.expiresAt) {
		delete(s.cache, key)
		metrics.CacheMissesTotal.Inc()
		return domain.SearchResponse{}, false
	}

	metrics.CacheHitsTotal.Inc()
	return cloneSearchResponse(entry.response), true
}

func (s *Service) cacheStore(ctx context.Context, key string, response domain.SearchResponse, now time.Time) {
	if s.redisCache != nil {
		_ = s.redisCache.Set(ctx, key, response, s.cacheTTL)
	}
	s.cacheStoreMemory(key, response, now)
}

func (s *Service) cacheStoreMemory(key string, response domain.SearchResponse, now time.Time) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	s.cache[key] = &cachedResponse{
		response:  cloneSearchResponse(response),
		updatedAt: now,
		expiresAt: now.Add(s.cacheTTL),
	}
	s.trimCacheLocked(now)
}

func (s *Service) trimCacheLocked(now time.Time) {
	for key, entry := range s.cache {
		if now.After(entry.expiresAt) {
			delete(s.cache, key)
		}
	}
	if len(s.cache) <= defaultCacheMaxEntries {
		return
	}

	type pair struct {
		key   string
		entry *cachedResponse
	}
	items := make([]pair, 0, len(s.cache))
	for key, entry := range s.cache {
		items = append(items, pair{key: key, entry: entry})
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].entry.updatedAt.Before(items[j].entry.updatedAt)
	})
	for i := 0; i < len(items)-defaultCacheMaxEntries; i++ {
		delete(s.cache, items[i].key)
	}
}

func cloneSearchResponse(response domain.SearchResponse) domain.SearchResponse {
	cloned := response
	if response.Items != nil {
		cloned.Items = make([]domain.SearchItem, len(response.Items))
		for i, item := range response.Items {
			copied := item
			copied.Episodes = append([]domain.Episode(nil), item.Episodes...)
			cloned.Items[i] = copied
		}
	}
	if response.Sources != nil {
		cloned.Sources = append([]domain.SourceStatus(nil), response.Sources...)
	}
	return cloned
}

// buildSearchCacheKey ties a cached response to the keyword and the exact
// enabled source set, so registry edits invalidate naturally.
func buildSearchCacheKey(keyword string, sources []domain.SourceDescriptor) string {
	keys := make([]string, 0, len(sources))
	for _, src := range sources {
		key := strings.ToLower(strings.TrimSpace(src.Key))
		if key != "" {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return "kw=" + strings.ToLower(keyword) + "|s=" + strings.Join(keys, ",")
}
