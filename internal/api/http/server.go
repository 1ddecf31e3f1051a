package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"dramastream/aggregator/internal/domain"
	"dramastream/aggregator/internal/registry"
	"dramastream/aggregator/internal/search"
)

type SearchService interface {
	Stream(ctx context.Context, keyword string) (<-chan domain.SearchEvent, error)
	Search(ctx context.Context, keyword string, noCache bool) (domain.SearchResponse, error)
	Sources(ctx context.Context) ([]domain.SourceRef, error)
	Diagnostics(ctx context.Context) ([]domain.SourceDiagnostics, error)
}

// CatalogClient is the single-source browse/detail side of the upstream
// adapter, used by the non-aggregated proxy endpoints.
type CatalogClient interface {
	Catalog(ctx context.Context, src domain.SourceDescriptor, page int) (domain.CatalogPage, error)
	Detail(ctx context.Context, src domain.SourceDescriptor, id string) (domain.Detail, error)
}

type Server struct {
	search  SearchService
	vod     registry.Store
	shorts  registry.Store
	catalog CatalogClient
	logger  *slog.Logger
}

const maxKeywordLength = 200

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithCatalog(catalog CatalogClient) ServerOption {
	return func(s *Server) {
		s.catalog = catalog
	}
}

func NewServer(searchService SearchService, vod, shorts registry.Store, options ...ServerOption) *Server {
	server := &Server{
		search: searchService,
		vod:    vod,
		shorts: shorts,
		logger: slog.Default(),
	}
	for _, option := range options {
		if option != nil {
			option(server)
		}
	}
	if server.logger == nil {
		server.logger = slog.Default()
	}
	return server
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/search-stream", s.handleSearchStream)
	mux.HandleFunc("/search/sources", s.handleSearchSources)
	mux.HandleFunc("/search", s.handleSearch)
	mux.HandleFunc("/vod-sources", s.sourcesHandler(s.vod))
	mux.HandleFunc("/shorts-sources", s.sourcesHandler(s.shorts))
	mux.HandleFunc("/shorts/list", s.handleShortsList)
	mux.HandleFunc("/shorts/detail", s.handleShortsDetail)
	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "drama-aggregator",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/health"
		}),
	)
	return recoveryMiddleware(s.logger, rateLimitMiddleware(50, 100, metricsMiddleware(traced)))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

// ---------------------------------------------------------------------------
// Search
// ---------------------------------------------------------------------------

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	keyword, ok := s.keywordParam(w, r)
	if !ok {
		return
	}
	noCache := parseOptionalBool(r.URL.Query().Get("nocache"))

	response, err := s.search.Search(r.Context(), keyword, noCache)
	if err != nil {
		s.writeSearchError(w, keyword, err)
		return
	}

	failed := make([]string, 0, len(response.Sources))
	for _, status := range response.Sources {
		if !status.OK {
			failed = append(failed, status.Key)
		}
	}
	s.logger.Info("search completed",
		slog.String("keyword", truncate(keyword, 80)),
		slog.Int("totalItems", response.TotalItems),
		slog.Int64("elapsedMs", response.ElapsedMS),
		slog.Int("failedSources", len(failed)),
	)
	if len(failed) > 0 {
		s.logger.Warn("search sources partially failed",
			slog.String("keyword", truncate(keyword, 80)),
			slog.Any("failedSources", failed),
		)
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleSearchStream(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search-stream" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", "streaming is not supported")
		return
	}

	keyword, ok := s.keywordParam(w, r)
	if !ok {
		return
	}

	events, err := s.search.Stream(r.Context(), keyword)
	if err != nil {
		s.writeSearchError(w, keyword, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	for event := range events {
		if err := writeStreamEvent(w, flusher, event); err != nil {
			return // client disconnected; fan-out winds down via r.Context()
		}
	}
}

func (s *Server) keywordParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	keyword := strings.TrimSpace(r.URL.Query().Get("q"))
	if keyword == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "q is required")
		return "", false
	}
	if len(keyword) > maxKeywordLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "q too long (max 200 bytes)")
		return "", false
	}
	return keyword, true
}

func (s *Server) writeSearchError(w http.ResponseWriter, keyword string, err error) {
	s.logger.Warn("search request failed",
		slog.String("keyword", truncate(keyword, 80)),
		slog.String("error", err.Error()),
	)
	switch {
	case errors.Is(err, search.ErrEmptyKeyword):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, domain.ErrNoSources):
		// The stream consumer expects a plain code/msg body here, not the
		// nested error envelope.
		writeJSON(w, http.StatusNotFound, map[string]any{
			"code": http.StatusNotFound,
			"msg":  "no sources configured",
		})
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "search failed")
	}
}

// wire shapes for the event stream; per-type structs keep init/done minimal
// while result always serializes count, even at zero.

type initEventPayload struct {
	Type         string `json:"type"`
	TotalSources int    `json:"totalSources"`
}

type resultEventPayload struct {
	Type       string              `json:"type"`
	SourceKey  string              `json:"sourceKey"`
	SourceName string              `json:"sourceName"`
	Count      int                 `json:"count"`
	Results    []domain.SearchItem `json:"results"`
}

type doneEventPayload struct {
	Type string `json:"type"`
}

// writeStreamEvent frames one event as `data: <json>` followed by a blank
// line and flushes, so consumers can split the byte stream on "\n\n"
// regardless of chunk boundaries.
func writeStreamEvent(w http.ResponseWriter, flusher http.Flusher, event domain.SearchEvent) error {
	var payload any
	switch event.Type {
	case domain.EventInit:
		payload = initEventPayload{Type: string(event.Type), TotalSources: event.TotalSources}
	case domain.EventResult:
		results := event.Results
		if results == nil {
			results = []domain.SearchItem{}
		}
		payload = resultEventPayload{
			Type:       string(event.Type),
			SourceKey:  event.SourceKey,
			SourceName: event.SourceName,
			Count:      event.Count,
			Results:    results,
		}
	case domain.EventDone:
		payload = doneEventPayload{Type: string(event.Type)}
	default:
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// ---------------------------------------------------------------------------
// Diagnostics
// ---------------------------------------------------------------------------

func (s *Server) handleSearchSources(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/search/sources" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	items, err := s.search.Diagnostics(r.Context())
	if err != nil {
		s.logger.Error("source diagnostics failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal_error", "diagnostics unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"checkedAt": time.Now().UTC(),
		"items":     items,
	})
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

func parseOptionalBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
