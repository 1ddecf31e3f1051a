package search

import (
	"context"
	"sync"
	"time"

	"log/slog"

	"golang.org/x/sync/semaphore"

	"dramastream/aggregator/internal/domain"
	"dramastream/aggregator/internal/metrics"
)

// maxConcurrentSources limits simultaneous upstream queries. Registries can
// hold dozens of sources; unbounded fan-out would burst-connect to all of
// them on every keystroke-driven search.
const maxConcurrentSources = 16

// Stream fans keyword out to every enabled source and emits one event per
// settlement. The sequence on the returned channel is: one init event, one
// result event per source in arrival order, one done event, then close.
// Errors that precede the fan-out (empty keyword, empty registries) are
// returned directly and no channel is created.
func (s *Service) Stream(ctx context.Context, keyword string) (<-chan domain.SearchEvent, error) {
	keyword = NormalizeKeyword(keyword)
	if keyword == "" {
		return nil, ErrEmptyKeyword
	}
	sources, err := s.enabledSources(ctx)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, domain.ErrNoSources
	}

	ch := make(chan domain.SearchEvent, len(sources)+2)
	go func() {
		defer close(ch)
		metrics.StreamSessionsActive.Inc()
		defer metrics.StreamSessionsActive.Dec()

		emit := func(event domain.SearchEvent) {
			metrics.StreamEventsTotal.WithLabelValues(string(event.Type)).Inc()
			select {
			case ch <- event:
			case <-ctx.Done():
			}
		}

		emit(domain.SearchEvent{Type: domain.EventInit, TotalSources: len(sources)})
		s.fanOut(ctx, keyword, sources, emit)
		emit(domain.SearchEvent{Type: domain.EventDone})
	}()
	return ch, nil
}

// Search runs the same fan-out but waits for all sources and returns one
// consolidated response, cached by keyword. noCache forces a fresh fan-out
// and still refreshes the cache with the outcome.
func (s *Service) Search(ctx context.Context, keyword string, noCache bool) (domain.SearchResponse, error) {
	keyword = NormalizeKeyword(keyword)
	if keyword == "" {
		return domain.SearchResponse{}, ErrEmptyKeyword
	}
	sources, err := s.enabledSources(ctx)
	if err != nil {
		return domain.SearchResponse{}, err
	}
	if len(sources) == 0 {
		return domain.SearchResponse{}, domain.ErrNoSources
	}

	startedAt := time.Now()
	cacheKey := buildSearchCacheKey(keyword, sources)
	if !s.cacheDisabled && !noCache {
		if cached, ok := s.cacheLookup(ctx, cacheKey, startedAt); ok {
			cached.ElapsedMS = time.Since(startedAt).Milliseconds()
			return cached, nil
		}
	}

	var mu sync.Mutex
	items := make([]domain.SearchItem, 0, 64)
	statuses := make([]domain.SourceStatus, 0, len(sources))

	s.fanOut(ctx, keyword, sources, func(event domain.SearchEvent) {
		if event.Type != domain.EventResult {
			return
		}
		mu.Lock()
		items = append(items, event.Results...)
		statuses = append(statuses, domain.SourceStatus{
			Key:   event.SourceKey,
			Name:  event.SourceName,
			OK:    event.Err == "",
			Count: event.Count,
			Error: event.Err,
		})
		mu.Unlock()
	})

	response := domain.SearchResponse{
		Keyword:    keyword,
		Items:      items,
		Sources:    statuses,
		TotalItems: len(items),
		ElapsedMS:  time.Since(startedAt).Milliseconds(),
	}
	if !s.cacheDisabled && ctx.Err() == nil {
		s.cacheStore(ctx, cacheKey, response, time.Now())
	}
	return response, nil
}

// fanOut queries all sources concurrently and calls emit exactly once per
// source. emit is called from worker goroutines; callers needing ordering
// beyond per-source atomicity must synchronize themselves.
//
// There is no session-wide deadline: each source is bounded by its own
// descriptor timeout inside the client, so the session ends when the
// slowest source settles, not when their timeouts sum up.
func (s *Service) fanOut(ctx context.Context, keyword string, sources []domain.SourceDescriptor, emit func(domain.SearchEvent)) {
	startedAt := time.Now()
	slog.Info("search fan-out started",
		slog.String("keyword", keyword),
		slog.Int("sources", len(sources)),
	)

	sem := semaphore.NewWeighted(maxConcurrentSources)
	var wg sync.WaitGroup
	var okCount, failCount int
	var countMu sync.Mutex

	for _, src := range sources {
		wg.Add(1)
		go func(src domain.SourceDescriptor) {
			defer wg.Done()

			result := domain.SearchEvent{
				Type:       domain.EventResult,
				SourceKey:  src.Key,
				SourceName: src.Name,
				Results:    []domain.SearchItem{},
			}

			if err := sem.Acquire(ctx, 1); err != nil {
				result.Err = "search cancelled"
				emit(result)
				return
			}
			defer sem.Release(1)

			if err := s.waitSourceRateLimit(ctx, src.Key); err != nil {
				result.Err = "rate limit wait cancelled"
				emit(result)
				return
			}

			// One query per source per session. A failed source settles
			// as a zero-result outcome; it is never retried within the
			// session, keeping wall clock bounded by the slowest timeout.
			queryStartedAt := time.Now()
			items, searchErr := s.client.Search(ctx, src, keyword)
			elapsed := time.Since(queryStartedAt)
			s.recordSourceResult(src.Key, searchErr, elapsed, time.Now())

			countMu.Lock()
			if searchErr == nil {
				okCount++
			} else {
				failCount++
			}
			countMu.Unlock()

			if searchErr != nil {
				slog.Warn("source search failed",
					slog.String("source", src.Key),
					slog.String("keyword", keyword),
					slog.Int64("elapsedMs", elapsed.Milliseconds()),
					slog.String("error", searchErr.Error()),
				)
				result.Err = searchErr.Error()
				emit(result)
				return
			}

			slog.Debug("source search completed",
				slog.String("source", src.Key),
				slog.Int("results", len(items)),
				slog.Int64("elapsedMs", elapsed.Milliseconds()),
			)
			if items != nil {
				result.Results = items
			}
			result.Count = len(items)
			emit(result)
		}(src)
	}
	wg.Wait()

	slog.Info("search fan-out completed",
		slog.String("keyword", keyword),
		slog.Int("ok", okCount),
		slog.Int("failed", failCount),
		slog.Int64("elapsedMs", time.Since(startedAt).Milliseconds()),
	)
}
