package registry

import (
	"strings"

	"dramastream/aggregator/internal/domain"
)

// ResolveSelected maps a stored selection key onto the enabled descriptor
// list. A stale, missing, or disabled key falls back to the first enabled
// descriptor (the list is already priority/insertion ordered); an empty
// list yields nil. Pure function; the fallback is computed at read time and
// never written back.
func ResolveSelected(selectedKey string, enabled []domain.SourceDescriptor) *domain.SourceDescriptor {
	key := strings.TrimSpace(selectedKey)
	if key != "" {
		for i := range enabled {
			if enabled[i].Key == key {
				return &enabled[i]
			}
		}
	}
	if len(enabled) > 0 {
		return &enabled[0]
	}
	return nil
}
