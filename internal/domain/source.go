package domain

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrNoSources     = errors.New("no sources configured")
	ErrInvalidSource = errors.New("source is missing required fields (key, name, api)")
)

// SourceKind separates the two parallel registries. They share one
// descriptor shape; kind-specific fields stay zero for the other kind.
type SourceKind string

const (
	SourceKindVod    SourceKind = "vod"
	SourceKindShorts SourceKind = "shorts"
)

// SourceDescriptor is one configured upstream catalog API. Key is immutable
// and unique within a registry; Priority orders fan-out and display
// (lower first, ties broken by SortOrder, i.e. insertion order).
type SourceDescriptor struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	API      string `json:"api"`
	TypeID   int    `json:"typeId,omitempty"`
	Priority int    `json:"priority"`
	Enabled  bool   `json:"enabled"`

	// Per-source playback resolution settings, opaque to aggregation.
	PlayURL     string `json:"playUrl,omitempty"`
	UsePlayURL  bool   `json:"usePlayUrl,omitempty"`
	SearchProxy string `json:"searchProxy,omitempty"`
	ParseProxy  string `json:"parseProxy,omitempty"`
	ParseToken  string `json:"parseToken,omitempty"`
	ParseID     string `json:"parseId,omitempty"`

	// Upstream query-string parameter names; most CMS-style APIs use
	// wd/pg but a few rename them.
	SearchParam string `json:"searchParam,omitempty"`
	PageParam   string `json:"pageParam,omitempty"`

	// Per-source request timeout override in seconds.
	TimeoutSeconds int `json:"timeoutSeconds,omitempty"`

	SortOrder int       `json:"sortOrder"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

const (
	DefaultSearchParam = "wd"
	DefaultPageParam   = "pg"
)

func (d SourceDescriptor) QueryParam() string {
	if v := strings.TrimSpace(d.SearchParam); v != "" {
		return v
	}
	return DefaultSearchParam
}

func (d SourceDescriptor) PagingParam() string {
	if v := strings.TrimSpace(d.PageParam); v != "" {
		return v
	}
	return DefaultPageParam
}

// Timeout returns the per-source request bound, falling back to the
// service-wide default when the descriptor does not override it.
func (d SourceDescriptor) Timeout(fallback time.Duration) time.Duration {
	if d.TimeoutSeconds > 0 {
		return time.Duration(d.TimeoutSeconds) * time.Second
	}
	if fallback > 0 {
		return fallback
	}
	return 10 * time.Second
}

// Validate checks the fields every descriptor must carry before it is
// accepted into a registry.
func (d SourceDescriptor) Validate() error {
	if strings.TrimSpace(d.Key) == "" ||
		strings.TrimSpace(d.Name) == "" ||
		strings.TrimSpace(d.API) == "" {
		return ErrInvalidSource
	}
	return nil
}

// SourceRef is the minimal identity pair handed to clients alongside
// catalog pages.
type SourceRef struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// SourceDiagnostics reports per-source runtime health collected across
// fan-out sessions.
type SourceDiagnostics struct {
	Key                 string     `json:"key"`
	Name                string     `json:"name"`
	Enabled             bool       `json:"enabled"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	LastError           string     `json:"lastError,omitempty"`
	LastSuccessAt       *time.Time `json:"lastSuccessAt,omitempty"`
	LastFailureAt       *time.Time `json:"lastFailureAt,omitempty"`
	LastLatencyMS       int64      `json:"lastLatencyMs,omitempty"`
	LastTimeout         bool       `json:"lastTimeout,omitempty"`
	TotalRequests       int64      `json:"totalRequests,omitempty"`
	TotalFailures       int64      `json:"totalFailures,omitempty"`
	TimeoutCount        int64      `json:"timeoutCount,omitempty"`
}
