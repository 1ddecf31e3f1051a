package search

import (
	"context"
	"errors"
	"strings"
	"time"

	"dramastream/aggregator/internal/domain"
	"dramastream/aggregator/internal/metrics"
	"dramastream/aggregator/internal/registry"
	"dramastream/aggregator/internal/upstream"
)

type sourceHealth struct {
	consecutiveFailures int
	lastError           string
	lastSuccessAt       time.Time
	lastFailureAt       time.Time
	lastLatency         time.Duration
	lastTimeout         bool
	totalRequests       int64
	totalFailures       int64
	timeoutCount        int64
}

// recordSourceResult updates per-source health stats after one settlement.
// Failing sources are never excluded from the fan-out; every session still
// settles all of them, the stats only feed diagnostics and metrics.
func (s *Service) recordSourceResult(sourceKey string, err error, latency time.Duration, now time.Time) {
	key := strings.ToLower(strings.TrimSpace(sourceKey))
	if key == "" {
		return
	}

	s.healthMu.Lock()
	defer s.healthMu.Unlock()

	state := s.health[key]
	if state == nil {
		state = &sourceHealth{}
		s.health[key] = state
	}
	state.totalRequests++
	if latency > 0 {
		state.lastLatency = latency
		metrics.SourceRequestDuration.WithLabelValues(key).Observe(latency.Seconds())
	}
	state.lastTimeout = isTimeoutLikeError(err)
	if state.lastTimeout {
		state.timeoutCount++
	}

	if err == nil {
		state.consecutiveFailures = 0
		state.lastError = ""
		state.lastSuccessAt = now
		metrics.SourceRequestsTotal.WithLabelValues(key, "ok").Inc()
		return
	}

	state.consecutiveFailures++
	state.totalFailures++
	state.lastFailureAt = now
	state.lastError = err.Error()

	status := "error"
	if state.lastTimeout {
		status = "timeout"
	}
	metrics.SourceRequestsTotal.WithLabelValues(key, status).Inc()
}

func isTimeoutLikeError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, upstream.ErrUpstreamTimeout) {
		return true
	}
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "timeout") || strings.Contains(value, "deadline exceeded")
}

// Diagnostics reports every registered source (disabled ones included) with
// its accumulated runtime health.
func (s *Service) Diagnostics(ctx context.Context) ([]domain.SourceDiagnostics, error) {
	items := make([]domain.SourceDiagnostics, 0, 16)
	seen := make(map[string]struct{}, 16)
	for _, store := range []registry.Store{s.vod, s.shorts} {
		if store == nil {
			continue
		}
		sources, err := store.List(ctx, true)
		if err != nil {
			return nil, err
		}
		for _, src := range sources {
			key := strings.ToLower(strings.TrimSpace(src.Key))
			if _, exists := seen[key]; exists {
				continue
			}
			seen[key] = struct{}{}
			items = append(items, s.diagnosticsFor(src, key))
		}
	}
	return items, nil
}

func (s *Service) diagnosticsFor(src domain.SourceDescriptor, key string) domain.SourceDiagnostics {
	item := domain.SourceDiagnostics{
		Key:     src.Key,
		Name:    src.Name,
		Enabled: src.Enabled,
	}

	s.healthMu.Lock()
	defer s.healthMu.Unlock()

	state := s.health[key]
	if state == nil {
		return item
	}
	item.ConsecutiveFailures = state.consecutiveFailures
	item.LastError = state.lastError
	if !state.lastSuccessAt.IsZero() {
		at := state.lastSuccessAt
		item.LastSuccessAt = &at
	}
	if !state.lastFailureAt.IsZero() {
		at := state.lastFailureAt
		item.LastFailureAt = &at
	}
	item.LastLatencyMS = state.lastLatency.Milliseconds()
	item.LastTimeout = state.lastTimeout
	item.TotalRequests = state.totalRequests
	item.TotalFailures = state.totalFailures
	item.TimeoutCount = state.timeoutCount
	return item
}
