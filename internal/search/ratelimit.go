package search

import (
	"context"
	"strings"

	"golang.org/x/time/rate"
)

const (
	sourceRateLimit = rate.Limit(5)
	sourceRateBurst = 10
)

// waitSourceRateLimit blocks until the per-source limiter admits another
// upstream request, or the context ends. Limiters are created lazily per
// source key and survive registry edits; a deleted source's limiter is
// garbage the size of a struct, not worth reaping.
func (s *Service) waitSourceRateLimit(ctx context.Context, sourceKey string) error {
	key := strings.ToLower(strings.TrimSpace(sourceKey))
	if key == "" {
		return nil
	}

	s.limiterMu.Lock()
	limiter, ok := s.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(sourceRateLimit, sourceRateBurst)
		s.limiters[key] = limiter
	}
	s.limiterMu.Unlock()

	return limiter.Wait(ctx)
}
