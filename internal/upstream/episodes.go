package upstream

import (
	"strings"

	"dramastream/aggregator/internal/domain"
)

// ParsePlayURL decodes the delimiter-encoded episode string used by CMS
// catalogs: episodes separated by '#', name and url separated by '$'
// ("第1集$https://cdn/ep1.m3u8#第2集$https://cdn/ep2.m3u8"). Some sources
// prepend a play-route label separated by "$$$"; only the first route is
// kept. A segment missing its name or its url is dropped rather than
// failing the record.
func ParsePlayURL(raw string) []domain.Episode {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if idx := strings.Index(raw, "$$$"); idx >= 0 {
		raw = raw[:idx]
	}

	segments := strings.Split(raw, "#")
	episodes := make([]domain.Episode, 0, len(segments))
	for _, segment := range segments {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		name, link, found := strings.Cut(segment, "$")
		if !found {
			continue
		}
		name = strings.TrimSpace(name)
		link = strings.TrimSpace(link)
		if name == "" || link == "" {
			continue
		}
		if !strings.HasPrefix(link, "http://") && !strings.HasPrefix(link, "https://") {
			continue
		}
		episodes = append(episodes, domain.Episode{Name: name, URL: link})
	}
	if len(episodes) == 0 {
		return nil
	}
	return episodes
}
