package apihttp

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"dramastream/aggregator/internal/domain"
	"dramastream/aggregator/internal/registry"
	"dramastream/aggregator/internal/upstream"
)

// sourcePayload is the admin wire shape for one descriptor. Priority is a
// pointer so "absent" can default to the batch position on bulk import.
type sourcePayload struct {
	Key            string `json:"key"`
	Name           string `json:"name"`
	API            string `json:"api"`
	TypeID         int    `json:"typeId"`
	Priority       *int   `json:"priority"`
	Enabled        *bool  `json:"enabled"`
	PlayURL        string `json:"playUrl"`
	UsePlayURL     *bool  `json:"usePlayUrl"`
	SearchProxy    string `json:"searchProxy"`
	ParseProxy     string `json:"parseProxy"`
	ParseToken     string `json:"parseToken"`
	ParseID        string `json:"parseId"`
	SearchParam    string `json:"searchParam"`
	PageParam      string `json:"pageParam"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
}

func (p sourcePayload) descriptor(index int) domain.SourceDescriptor {
	desc := domain.SourceDescriptor{
		Key:            strings.TrimSpace(p.Key),
		Name:           strings.TrimSpace(p.Name),
		API:            strings.TrimSpace(p.API),
		TypeID:         p.TypeID,
		Priority:       index,
		Enabled:        true,
		PlayURL:        p.PlayURL,
		UsePlayURL:     true,
		SearchProxy:    p.SearchProxy,
		ParseProxy:     p.ParseProxy,
		ParseToken:     p.ParseToken,
		ParseID:        p.ParseID,
		SearchParam:    p.SearchParam,
		PageParam:      p.PageParam,
		TimeoutSeconds: p.TimeoutSeconds,
	}
	if p.Priority != nil {
		desc.Priority = *p.Priority
	}
	if p.Enabled != nil {
		desc.Enabled = *p.Enabled
	}
	if p.UsePlayURL != nil {
		desc.UsePlayURL = *p.UsePlayURL
	}
	return desc
}

// sourcesHandler serves the registry admin surface for one catalog kind.
// GET returns the descriptor list plus the resolved selection; POST replaces
// the whole registry atomically; PUT updates the selection; PATCH upserts or
// toggles one descriptor; DELETE removes one by key.
func (s *Server) sourcesHandler(store registry.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if store == nil {
			writeAdminError(w, http.StatusInternalServerError, "source registry is not configured")
			return
		}
		switch r.Method {
		case http.MethodGet:
			s.handleSourcesList(w, r, store)
		case http.MethodPost:
			s.handleSourcesReplace(w, r, store)
		case http.MethodPut:
			s.handleSourcesSelect(w, r, store)
		case http.MethodPatch:
			s.handleSourcePatch(w, r, store)
		case http.MethodDelete:
			s.handleSourceDelete(w, r, store)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}
}

func (s *Server) handleSourcesList(w http.ResponseWriter, r *http.Request, store registry.Store) {
	includeDisabled := parseOptionalBool(r.URL.Query().Get("all"))
	sources, err := store.List(r.Context(), includeDisabled)
	if err != nil {
		s.logger.Error("source list failed", slog.String("error", err.Error()))
		writeAdminError(w, http.StatusInternalServerError, "registry unavailable")
		return
	}

	selected, err := registry.Selected(r.Context(), store)
	if err != nil {
		s.logger.Error("selection resolve failed", slog.String("error", err.Error()))
		writeAdminError(w, http.StatusInternalServerError, "registry unavailable")
		return
	}

	if sources == nil {
		sources = []domain.SourceDescriptor{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sources":  sources,
		"selected": selected,
	})
}

func (s *Server) handleSourcesReplace(w http.ResponseWriter, r *http.Request, store registry.Store) {
	var payload struct {
		Sources  []sourcePayload `json:"sources"`
		Selected string          `json:"selected"`
	}
	if err := decodeJSONBody(r, &payload); err != nil {
		writeAdminError(w, http.StatusBadRequest, err.Error())
		return
	}

	descriptors := make([]domain.SourceDescriptor, 0, len(payload.Sources))
	seen := make(map[string]struct{}, len(payload.Sources))
	for index, item := range payload.Sources {
		desc := item.descriptor(index)
		if err := desc.Validate(); err != nil {
			writeAdminError(w, http.StatusBadRequest,
				fmt.Sprintf("source %d: %s", index, err.Error()))
			return
		}
		if _, dup := seen[desc.Key]; dup {
			writeAdminError(w, http.StatusBadRequest,
				fmt.Sprintf("duplicate source key %q", desc.Key))
			return
		}
		seen[desc.Key] = struct{}{}
		descriptors = append(descriptors, desc)
	}

	if err := store.ReplaceAll(r.Context(), descriptors); err != nil {
		s.logger.Error("source replace failed",
			slog.Int("count", len(descriptors)),
			slog.String("error", err.Error()),
		)
		writeAdminError(w, http.StatusInternalServerError, "replace failed")
		return
	}

	if selected := strings.TrimSpace(payload.Selected); selected != "" {
		if err := store.SetSelectedKey(r.Context(), selected); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				writeAdminError(w, http.StatusNotFound, "selected key not found")
				return
			}
			writeAdminError(w, http.StatusInternalServerError, "selection update failed")
			return
		}
	}

	s.logger.Info("source registry replaced", slog.Int("count", len(descriptors)))
	writeAdminOK(w)
}

func (s *Server) handleSourcesSelect(w http.ResponseWriter, r *http.Request, store registry.Store) {
	var payload struct {
		Selected string `json:"selected"`
	}
	if err := decodeJSONBody(r, &payload); err != nil {
		writeAdminError(w, http.StatusBadRequest, err.Error())
		return
	}
	selected := strings.TrimSpace(payload.Selected)
	if selected == "" {
		writeAdminError(w, http.StatusBadRequest, "selected is required")
		return
	}

	if err := store.SetSelectedKey(r.Context(), selected); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeAdminError(w, http.StatusNotFound, "selected key not found")
			return
		}
		s.logger.Error("selection update failed", slog.String("key", selected), slog.String("error", err.Error()))
		writeAdminError(w, http.StatusInternalServerError, "selection update failed")
		return
	}
	writeAdminOK(w)
}

func (s *Server) handleSourcePatch(w http.ResponseWriter, r *http.Request, store registry.Store) {
	var payload struct {
		Source  *sourcePayload `json:"source"`
		Key     string         `json:"key"`
		Enabled *bool          `json:"enabled"`
	}
	if err := decodeJSONBody(r, &payload); err != nil {
		writeAdminError(w, http.StatusBadRequest, err.Error())
		return
	}

	switch {
	case payload.Source != nil:
		desc := payload.Source.descriptor(0)
		if payload.Source.Priority == nil {
			// Single adds without an explicit priority go to the end.
			existing, err := store.List(r.Context(), true)
			if err != nil {
				writeAdminError(w, http.StatusInternalServerError, "registry unavailable")
				return
			}
			desc.Priority = len(existing)
			desc.SortOrder = len(existing)
		}
		if err := desc.Validate(); err != nil {
			writeAdminError(w, http.StatusBadRequest, err.Error())
			return
		}
		err := store.Create(r.Context(), desc)
		if errors.Is(err, domain.ErrAlreadyExists) {
			err = store.Update(r.Context(), desc)
		}
		if err != nil {
			s.logger.Error("source upsert failed", slog.String("key", desc.Key), slog.String("error", err.Error()))
			writeAdminError(w, http.StatusInternalServerError, "upsert failed")
			return
		}
		writeAdminOK(w)

	case payload.Enabled != nil:
		key := strings.TrimSpace(payload.Key)
		if key == "" {
			writeAdminError(w, http.StatusBadRequest, "key is required")
			return
		}
		if err := store.SetEnabled(r.Context(), key, *payload.Enabled); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				writeAdminError(w, http.StatusNotFound, "source not found")
				return
			}
			writeAdminError(w, http.StatusInternalServerError, "toggle failed")
			return
		}
		writeAdminOK(w)

	default:
		writeAdminError(w, http.StatusBadRequest, "source or enabled is required")
	}
}

func (s *Server) handleSourceDelete(w http.ResponseWriter, r *http.Request, store registry.Store) {
	key := strings.TrimSpace(r.URL.Query().Get("key"))
	if key == "" {
		writeAdminError(w, http.StatusBadRequest, "key is required")
		return
	}
	if err := store.Delete(r.Context(), key); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeAdminError(w, http.StatusNotFound, "source not found")
			return
		}
		s.logger.Error("source delete failed", slog.String("key", key), slog.String("error", err.Error()))
		writeAdminError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	writeAdminOK(w)
}

// ---------------------------------------------------------------------------
// Single-source proxying
// ---------------------------------------------------------------------------

func (s *Server) handleShortsList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.catalog == nil {
		writeAdminError(w, http.StatusInternalServerError, "catalog client is not configured")
		return
	}

	src, refs, ok := s.resolveShortsSource(w, r)
	if !ok {
		return
	}

	page := 1
	if raw := strings.TrimSpace(r.URL.Query().Get("pg")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeAdminError(w, http.StatusBadRequest, "invalid pg")
			return
		}
		page = parsed
	}

	result, err := s.catalog.Catalog(r.Context(), *src, page)
	if err != nil {
		s.writeUpstreamError(w, src.Key, err)
		return
	}
	result.Sources = refs
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleShortsDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.catalog == nil {
		writeAdminError(w, http.StatusInternalServerError, "catalog client is not configured")
		return
	}

	id := strings.TrimSpace(r.URL.Query().Get("ids"))
	if id == "" {
		writeAdminError(w, http.StatusBadRequest, "ids is required")
		return
	}

	src, _, ok := s.resolveShortsSource(w, r)
	if !ok {
		return
	}

	detail, err := s.catalog.Detail(r.Context(), *src, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeAdminError(w, http.StatusNotFound, "title not found")
			return
		}
		s.writeUpstreamError(w, src.Key, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// resolveShortsSource picks the source to proxy: the requested key when it
// names an enabled source, otherwise the stored/fallback selection. It also
// returns the enabled identity list for the response payload.
func (s *Server) resolveShortsSource(w http.ResponseWriter, r *http.Request) (*domain.SourceDescriptor, []domain.SourceRef, bool) {
	enabled, err := s.shorts.List(r.Context(), false)
	if err != nil {
		s.logger.Error("shorts source list failed", slog.String("error", err.Error()))
		writeAdminError(w, http.StatusInternalServerError, "registry unavailable")
		return nil, nil, false
	}
	if len(enabled) == 0 {
		writeAdminError(w, http.StatusNotFound, "no sources configured")
		return nil, nil, false
	}

	refs := make([]domain.SourceRef, 0, len(enabled))
	for _, src := range enabled {
		refs = append(refs, domain.SourceRef{Key: src.Key, Name: src.Name})
	}

	if requested := strings.TrimSpace(r.URL.Query().Get("source")); requested != "" {
		for i := range enabled {
			if enabled[i].Key == requested {
				return &enabled[i], refs, true
			}
		}
	}

	key, err := s.shorts.SelectedKey(r.Context())
	if err != nil {
		s.logger.Error("shorts selection read failed", slog.String("error", err.Error()))
		writeAdminError(w, http.StatusInternalServerError, "registry unavailable")
		return nil, nil, false
	}
	src := registry.ResolveSelected(key, enabled)
	return src, refs, true
}

func (s *Server) writeUpstreamError(w http.ResponseWriter, sourceKey string, err error) {
	s.logger.Warn("upstream proxy failed",
		slog.String("source", sourceKey),
		slog.String("error", err.Error()),
	)
	var httpErr *upstream.HTTPError
	switch {
	case errors.Is(err, upstream.ErrUpstreamTimeout):
		writeAdminError(w, http.StatusGatewayTimeout, "upstream timed out")
	case errors.As(err, &httpErr):
		writeAdminError(w, http.StatusBadGateway, fmt.Sprintf("upstream HTTP %d", httpErr.Status))
	case errors.Is(err, upstream.ErrUpstreamParse):
		writeAdminError(w, http.StatusBadGateway, "upstream returned unparseable body")
	default:
		writeAdminError(w, http.StatusBadGateway, "upstream request failed")
	}
}

// ---------------------------------------------------------------------------
// Envelope helpers
// ---------------------------------------------------------------------------

func writeAdminOK(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{
		"code":    http.StatusOK,
		"message": "ok",
	})
}

func writeAdminError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"code":    status,
		"message": message,
	})
}

func decodeJSONBody(r *http.Request, dest any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read request body: %w", err)
	}
	if len(bytes.TrimSpace(payload)) == 0 {
		return errors.New("request body is required")
	}

	decoder := json.NewDecoder(bytes.NewReader(payload))
	if err := decoder.Decode(dest); err != nil {
		return fmt.Errorf("invalid json body: %w", err)
	}
	return nil
}
