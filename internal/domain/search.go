package domain

// Episode is one playable entry parsed from a delimiter-encoded playback
// string ("第1集$http://...#第2集$http://...").
type Episode struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// SearchItem is the normalized shape every upstream record is mapped to,
// whatever field names the upstream uses. Missing optional fields are
// empty strings so rendering stays total.
type SearchItem struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Cover      string    `json:"cover"`
	Remarks    string    `json:"remarks"`
	Year       string    `json:"year,omitempty"`
	TypeName   string    `json:"typeName,omitempty"`
	Episodes   []Episode `json:"episodes,omitempty"`
	SourceKey  string    `json:"sourceKey"`
	SourceName string    `json:"sourceName"`
}

// CatalogItem is one record of a single-source browse page.
type CatalogItem struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Cover     string `json:"cover"`
	Remarks   string `json:"remarks"`
	UpdatedAt string `json:"updatedAt,omitempty"`
	TypeName  string `json:"typeName,omitempty"`
}

// CatalogPage is a single-source catalog listing with upstream paging info.
type CatalogPage struct {
	Page      int           `json:"page"`
	PageCount int           `json:"pagecount"`
	Total     int           `json:"total"`
	Items     []CatalogItem `json:"list"`
	SourceKey string        `json:"source"`
	Sources   []SourceRef   `json:"sources"`
}

// Detail is the full record for one title from one source, episodes parsed.
type Detail struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Cover     string    `json:"cover"`
	Remarks   string    `json:"remarks"`
	Blurb     string    `json:"blurb"`
	Actor     string    `json:"actor"`
	Director  string    `json:"director"`
	Area      string    `json:"area"`
	Year      string    `json:"year"`
	TypeName  string    `json:"typeName"`
	Episodes  []Episode `json:"episodes"`
	SourceKey string    `json:"source"`
}

// EventType tags the records of a streamed search session.
type EventType string

const (
	EventInit   EventType = "init"
	EventResult EventType = "result"
	EventDone   EventType = "done"
)

// SearchEvent is one record of the fan-out stream. The init event carries
// TotalSources, result events carry the per-source outcome, done carries
// nothing. Ordering guarantee: init first, exactly one result per source in
// arrival order, done last.
type SearchEvent struct {
	Type         EventType
	TotalSources int
	SourceKey    string
	SourceName   string
	Count        int
	Results      []SearchItem
	Err          string
}

// SourceStatus summarizes one source's outcome in an aggregated (non
// streamed) search response.
type SourceStatus struct {
	Key       string `json:"key"`
	Name      string `json:"name"`
	OK        bool   `json:"ok"`
	Count     int    `json:"count"`
	Error     string `json:"error,omitempty"`
	ElapsedMS int64  `json:"elapsedMs"`
}

// SearchResponse is the consolidated result of one full fan-out.
type SearchResponse struct {
	Keyword    string         `json:"keyword"`
	Items      []SearchItem   `json:"items"`
	Sources    []SourceStatus `json:"sources"`
	TotalItems int            `json:"totalItems"`
	ElapsedMS  int64          `json:"elapsedMs"`
}
