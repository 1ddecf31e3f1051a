package apihttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"dramastream/aggregator/internal/domain"
)

type stubSearchService struct {
	streamEvents []domain.SearchEvent
	streamErr    error
	searchResp   domain.SearchResponse
	searchErr    error
	diagnostics  []domain.SourceDiagnostics
	panicOnDiag  bool

	lastKeyword string
	lastNoCache bool
}

func (s *stubSearchService) Stream(_ context.Context, keyword string) (<-chan domain.SearchEvent, error) {
	s.lastKeyword = keyword
	if s.streamErr != nil {
		return nil, s.streamErr
	}
	ch := make(chan domain.SearchEvent, len(s.streamEvents))
	for _, event := range s.streamEvents {
		ch <- event
	}
	close(ch)
	return ch, nil
}

func (s *stubSearchService) Search(_ context.Context, keyword string, noCache bool) (domain.SearchResponse, error) {
	s.lastKeyword = keyword
	s.lastNoCache = noCache
	if s.searchErr != nil {
		return domain.SearchResponse{}, s.searchErr
	}
	return s.searchResp, nil
}

func (s *stubSearchService) Sources(context.Context) ([]domain.SourceRef, error) {
	return nil, nil
}

func (s *stubSearchService) Diagnostics(context.Context) ([]domain.SourceDiagnostics, error) {
	if s.panicOnDiag {
		panic("diagnostics exploded")
	}
	return s.diagnostics, nil
}

// memStore is an in-memory registry.Store with the same ordering and error
// contract as the Mongo-backed one.
type memStore struct {
	mu       sync.Mutex
	sources  []domain.SourceDescriptor
	selected string
}

func (m *memStore) List(_ context.Context, includeDisabled bool) ([]domain.SourceDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.SourceDescriptor, 0, len(m.sources))
	for _, src := range m.sources {
		if !includeDisabled && !src.Enabled {
			continue
		}
		out = append(out, src)
	}
	return out, nil
}

func (m *memStore) GetByKey(_ context.Context, key string) (domain.SourceDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, src := range m.sources {
		if src.Key == key {
			return src, nil
		}
	}
	return domain.SourceDescriptor{}, domain.ErrNotFound
}

func (m *memStore) Create(_ context.Context, src domain.SourceDescriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.sources {
		if existing.Key == src.Key {
			return domain.ErrAlreadyExists
		}
	}
	m.sources = append(m.sources, src)
	return nil
}

func (m *memStore) Update(_ context.Context, src domain.SourceDescriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for index, existing := range m.sources {
		if existing.Key == src.Key {
			m.sources[index] = src
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *memStore) SetEnabled(_ context.Context, key string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for index := range m.sources {
		if m.sources[index].Key == key {
			m.sources[index].Enabled = enabled
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *memStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for index := range m.sources {
		if m.sources[index].Key == key {
			m.sources = append(m.sources[:index], m.sources[index+1:]...)
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *memStore) ReplaceAll(_ context.Context, sources []domain.SourceDescriptor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := make([]domain.SourceDescriptor, len(sources))
	copy(next, sources)
	for index := range next {
		next[index].SortOrder = index
	}
	m.sources = next
	return nil
}

func (m *memStore) SelectedKey(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selected, nil
}

func (m *memStore) SetSelectedKey(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, src := range m.sources {
		if src.Key == key {
			m.selected = key
			return nil
		}
	}
	return domain.ErrNotFound
}

type stubCatalog struct {
	page      domain.CatalogPage
	pageErr   error
	detail    domain.Detail
	detailErr error

	lastSourceKey string
	lastPage      int
	lastID        string
}

func (c *stubCatalog) Catalog(_ context.Context, src domain.SourceDescriptor, page int) (domain.CatalogPage, error) {
	c.lastSourceKey = src.Key
	c.lastPage = page
	if c.pageErr != nil {
		return domain.CatalogPage{}, c.pageErr
	}
	result := c.page
	result.SourceKey = src.Key
	return result, nil
}

func (c *stubCatalog) Detail(_ context.Context, src domain.SourceDescriptor, id string) (domain.Detail, error) {
	c.lastSourceKey = src.Key
	c.lastID = id
	if c.detailErr != nil {
		return domain.Detail{}, c.detailErr
	}
	return c.detail, nil
}

func testDescriptor(key string) domain.SourceDescriptor {
	return domain.SourceDescriptor{
		Key:        key,
		Name:       "Source " + key,
		API:        "http://" + key + ".example.com/api.php/provide/vod",
		Enabled:    true,
		UsePlayURL: true,
	}
}

func newTestServer(t *testing.T, service SearchService, options ...ServerOption) (*Server, *memStore, *memStore) {
	t.Helper()
	vod := &memStore{}
	shorts := &memStore{}
	server := NewServer(service, vod, shorts, options...)
	return server, vod, shorts
}

// decodeStreamFrames splits a streamed body on the blank-line frame boundary
// and parses each data payload.
func decodeStreamFrames(t *testing.T, body string) []map[string]any {
	t.Helper()
	frames := strings.Split(strings.TrimSpace(body), "\n\n")
	events := make([]map[string]any, 0, len(frames))
	for index, frame := range frames {
		if !strings.HasPrefix(frame, "data: ") {
			t.Fatalf("frame %d missing data prefix: %q", index, frame)
		}
		var event map[string]any
		if err := json.Unmarshal([]byte(strings.TrimPrefix(frame, "data: ")), &event); err != nil {
			t.Fatalf("frame %d decode: %v", index, err)
		}
		events = append(events, event)
	}
	return events
}

func TestSearchStreamFraming(t *testing.T) {
	service := &stubSearchService{
		streamEvents: []domain.SearchEvent{
			{Type: domain.EventInit, TotalSources: 2},
			{Type: domain.EventResult, SourceKey: "alpha", SourceName: "Alpha", Count: 1,
				Results: []domain.SearchItem{{ID: "7", Title: "霸道总裁", SourceKey: "alpha"}}},
			{Type: domain.EventResult, SourceKey: "beta", SourceName: "Beta", Count: 0,
				Results: nil, Err: "upstream timed out"},
			{Type: domain.EventDone},
		},
	}
	server, _, _ := newTestServer(t, service)

	req := httptest.NewRequest(http.MethodGet, "/search-stream?q=%E9%9C%B8%E9%81%93", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("content type = %q", ct)
	}
	if rec.Header().Get("X-Accel-Buffering") != "no" {
		t.Error("streaming response must disable proxy buffering")
	}

	events := decodeStreamFrames(t, rec.Body.String())
	if len(events) != 4 {
		t.Fatalf("expected 4 frames, got %d", len(events))
	}
	if events[0]["type"] != "init" || events[0]["totalSources"] != float64(2) {
		t.Errorf("init frame = %v", events[0])
	}
	if events[3]["type"] != "done" {
		t.Errorf("last frame should be done, got %v", events[3])
	}

	failed := events[2]
	if failed["sourceKey"] != "beta" {
		t.Fatalf("unexpected frame order: %v", failed)
	}
	if failed["count"] != float64(0) {
		t.Errorf("failed source should report count 0, got %v", failed["count"])
	}
	results, ok := failed["results"].([]any)
	if !ok || len(results) != 0 {
		t.Errorf("failed source should carry an empty results array, got %v", failed["results"])
	}
}

func TestSearchStreamRequiresKeyword(t *testing.T) {
	server, _, _ := newTestServer(t, &stubSearchService{})

	for _, target := range []string{"/search-stream", "/search-stream?q=%20%20"} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		rec := httptest.NewRecorder()
		server.Handler().ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d", target, rec.Code)
		}
		var payload struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
			t.Fatalf("%s: decode: %v", target, err)
		}
		if payload.Error.Code != "invalid_request" {
			t.Errorf("%s: error code = %q", target, payload.Error.Code)
		}
	}
}

func TestSearchStreamKeywordTooLong(t *testing.T) {
	server, _, _ := newTestServer(t, &stubSearchService{})

	req := httptest.NewRequest(http.MethodGet, "/search-stream?q="+strings.Repeat("x", 201), nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSearchStreamNoSources(t *testing.T) {
	server, _, _ := newTestServer(t, &stubSearchService{streamErr: domain.ErrNoSources})

	req := httptest.NewRequest(http.MethodGet, "/search-stream?q=drama", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	var payload struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Code != http.StatusNotFound || payload.Msg != "no sources configured" {
		t.Errorf("body = %+v", payload)
	}
	if ct := rec.Header().Get("Content-Type"); strings.HasPrefix(ct, "text/event-stream") {
		t.Error("failed stream request must not send stream headers")
	}
}

func TestSearchPassesNoCache(t *testing.T) {
	service := &stubSearchService{
		searchResp: domain.SearchResponse{
			Keyword: "drama",
			Items:   []domain.SearchItem{},
			Sources: []domain.SourceStatus{},
		},
	}
	server, _, _ := newTestServer(t, service)

	req := httptest.NewRequest(http.MethodGet, "/search?q=drama&nocache=1", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !service.lastNoCache {
		t.Error("nocache=1 should bypass the cache")
	}
	if service.lastKeyword != "drama" {
		t.Errorf("keyword = %q", service.lastKeyword)
	}
}

func TestSourcesReplaceAndList(t *testing.T) {
	server, vod, _ := newTestServer(t, &stubSearchService{})

	body := `{"sources":[
		{"key":"alpha","name":"Alpha","api":"http://a.example.com/api.php/provide/vod"},
		{"key":"beta","name":"Beta","api":"http://b.example.com/api.php/provide/vod","priority":9}
	],"selected":"beta"}`
	req := httptest.NewRequest(http.MethodPost, "/vod-sources", strings.NewReader(body))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("replace status = %d, body = %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/vod-sources", nil)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var listing struct {
		Sources  []domain.SourceDescriptor `json:"sources"`
		Selected *domain.SourceDescriptor  `json:"selected"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listing); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(listing.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(listing.Sources))
	}
	if listing.Sources[0].Priority != 0 {
		t.Errorf("absent priority should default to batch position, got %d", listing.Sources[0].Priority)
	}
	if listing.Sources[1].Priority != 9 {
		t.Errorf("explicit priority should survive, got %d", listing.Sources[1].Priority)
	}
	if !listing.Sources[0].Enabled {
		t.Error("imported sources should default to enabled")
	}
	if listing.Selected == nil || listing.Selected.Key != "beta" {
		t.Errorf("selected = %+v", listing.Selected)
	}

	if key, _ := vod.SelectedKey(context.Background()); key != "beta" {
		t.Errorf("stored selection = %q", key)
	}
}

func TestSourcesReplaceRejectsInvalidBatch(t *testing.T) {
	server, vod, _ := newTestServer(t, &stubSearchService{})
	if err := vod.ReplaceAll(context.Background(), []domain.SourceDescriptor{testDescriptor("keep")}); err != nil {
		t.Fatal(err)
	}

	body := `{"sources":[
		{"key":"ok","name":"OK","api":"http://ok.example.com"},
		{"key":"broken","name":"Broken"}
	]}`
	req := httptest.NewRequest(http.MethodPost, "/vod-sources", strings.NewReader(body))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "source 1") {
		t.Errorf("error should name the offending index, body = %s", rec.Body.String())
	}

	// A rejected batch must leave the registry untouched.
	sources, _ := vod.List(context.Background(), true)
	if len(sources) != 1 || sources[0].Key != "keep" {
		t.Errorf("registry changed after rejected batch: %+v", sources)
	}
}

func TestSourcesReplaceRejectsDuplicateKeys(t *testing.T) {
	server, _, _ := newTestServer(t, &stubSearchService{})

	body := `{"sources":[
		{"key":"dup","name":"One","api":"http://one.example.com"},
		{"key":"dup","name":"Two","api":"http://two.example.com"}
	]}`
	req := httptest.NewRequest(http.MethodPost, "/vod-sources", strings.NewReader(body))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "duplicate") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestSourcesSelectUnknownKey(t *testing.T) {
	server, vod, _ := newTestServer(t, &stubSearchService{})
	if err := vod.ReplaceAll(context.Background(), []domain.SourceDescriptor{testDescriptor("alpha")}); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPut, "/vod-sources", strings.NewReader(`{"selected":"ghost"}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestSourcePatchToggle(t *testing.T) {
	server, vod, _ := newTestServer(t, &stubSearchService{})
	seed := []domain.SourceDescriptor{testDescriptor("alpha"), testDescriptor("beta")}
	if err := vod.ReplaceAll(context.Background(), seed); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPatch, "/vod-sources", strings.NewReader(`{"key":"beta","enabled":false}`))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("toggle status = %d, body = %s", rec.Code, rec.Body.String())
	}

	enabled, _ := vod.List(context.Background(), false)
	if len(enabled) != 1 || enabled[0].Key != "alpha" {
		t.Errorf("enabled list after toggle = %+v", enabled)
	}

	req = httptest.NewRequest(http.MethodGet, "/vod-sources?all=true", nil)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	var listing struct {
		Sources []domain.SourceDescriptor `json:"sources"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &listing); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(listing.Sources) != 2 {
		t.Errorf("all=true should include disabled sources, got %d", len(listing.Sources))
	}

	req = httptest.NewRequest(http.MethodPatch, "/vod-sources", strings.NewReader(`{"key":"ghost","enabled":true}`))
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("toggle of unknown key: status = %d", rec.Code)
	}
}

func TestSourcePatchUpsert(t *testing.T) {
	server, vod, _ := newTestServer(t, &stubSearchService{})
	if err := vod.ReplaceAll(context.Background(), []domain.SourceDescriptor{testDescriptor("alpha")}); err != nil {
		t.Fatal(err)
	}

	body := `{"source":{"key":"beta","name":"Beta","api":"http://b.example.com/api.php/provide/vod"}}`
	req := httptest.NewRequest(http.MethodPatch, "/vod-sources", strings.NewReader(body))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}

	created, err := vod.GetByKey(context.Background(), "beta")
	if err != nil {
		t.Fatalf("created source missing: %v", err)
	}
	if created.Priority != 1 {
		t.Errorf("single add without priority should append, got priority %d", created.Priority)
	}

	body = `{"source":{"key":"beta","name":"Beta Renamed","api":"http://b2.example.com/api.php/provide/vod"}}`
	req = httptest.NewRequest(http.MethodPatch, "/vod-sources", strings.NewReader(body))
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body = %s", rec.Code, rec.Body.String())
	}

	updated, _ := vod.GetByKey(context.Background(), "beta")
	if updated.Name != "Beta Renamed" {
		t.Errorf("upsert of existing key should update, got %+v", updated)
	}
}

func TestSourceDelete(t *testing.T) {
	server, vod, _ := newTestServer(t, &stubSearchService{})
	if err := vod.ReplaceAll(context.Background(), []domain.SourceDescriptor{testDescriptor("alpha")}); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodDelete, "/vod-sources?key=alpha", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/vod-sources?key=alpha", nil)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete should 404, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodDelete, "/vod-sources", nil)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("delete without key should 400, got %d", rec.Code)
	}
}

func TestShortsListUsesSelection(t *testing.T) {
	catalog := &stubCatalog{page: domain.CatalogPage{Page: 1, PageCount: 3, Total: 60}}
	server, _, shorts := newTestServer(t, &stubSearchService{}, WithCatalog(catalog))
	seed := []domain.SourceDescriptor{testDescriptor("alpha"), testDescriptor("beta")}
	if err := shorts.ReplaceAll(context.Background(), seed); err != nil {
		t.Fatal(err)
	}
	if err := shorts.SetSelectedKey(context.Background(), "beta"); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/shorts/list?pg=2", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if catalog.lastSourceKey != "beta" {
		t.Errorf("should proxy the selected source, got %q", catalog.lastSourceKey)
	}
	if catalog.lastPage != 2 {
		t.Errorf("page = %d", catalog.lastPage)
	}

	var page domain.CatalogPage
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if page.SourceKey != "beta" {
		t.Errorf("response source = %q", page.SourceKey)
	}
	if len(page.Sources) != 2 {
		t.Errorf("response should list all enabled source identities, got %+v", page.Sources)
	}

	// An explicit source parameter overrides the selection; an unknown one
	// falls back to it.
	req = httptest.NewRequest(http.MethodGet, "/shorts/list?source=alpha", nil)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || catalog.lastSourceKey != "alpha" {
		t.Errorf("explicit source: status = %d, key = %q", rec.Code, catalog.lastSourceKey)
	}

	req = httptest.NewRequest(http.MethodGet, "/shorts/list?source=ghost", nil)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || catalog.lastSourceKey != "beta" {
		t.Errorf("unknown source: status = %d, key = %q", rec.Code, catalog.lastSourceKey)
	}
}

func TestShortsListValidation(t *testing.T) {
	catalog := &stubCatalog{}
	server, _, shorts := newTestServer(t, &stubSearchService{}, WithCatalog(catalog))

	req := httptest.NewRequest(http.MethodGet, "/shorts/list", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("empty registry: status = %d", rec.Code)
	}

	if err := shorts.ReplaceAll(context.Background(), []domain.SourceDescriptor{testDescriptor("alpha")}); err != nil {
		t.Fatal(err)
	}
	req = httptest.NewRequest(http.MethodGet, "/shorts/list?pg=0", nil)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("pg=0: status = %d", rec.Code)
	}
}

func TestShortsDetail(t *testing.T) {
	catalog := &stubCatalog{detail: domain.Detail{ID: "12", Title: "闪婚"}}
	server, _, shorts := newTestServer(t, &stubSearchService{}, WithCatalog(catalog))
	if err := shorts.ReplaceAll(context.Background(), []domain.SourceDescriptor{testDescriptor("alpha")}); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "/shorts/detail?ids=12", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if catalog.lastID != "12" {
		t.Errorf("forwarded id = %q", catalog.lastID)
	}

	req = httptest.NewRequest(http.MethodGet, "/shorts/detail", nil)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing ids: status = %d", rec.Code)
	}

	catalog.detailErr = domain.ErrNotFound
	req = httptest.NewRequest(http.MethodGet, "/shorts/detail?ids=999", nil)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown id: status = %d", rec.Code)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	server, _, _ := newTestServer(t, &stubSearchService{panicOnDiag: true})

	req := httptest.NewRequest(http.MethodGet, "/search/sources", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "internal_error") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	server, _, _ := newTestServer(t, &stubSearchService{})
	handler := server.Handler()

	limited := false
	for i := 0; i < 150; i++ {
		req := httptest.NewRequest(http.MethodGet, fmt.Sprintf("/vod-sources?n=%d", i), nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			if rec.Header().Get("Retry-After") == "" {
				t.Error("429 response should carry Retry-After")
			}
			break
		}
	}
	if !limited {
		t.Fatal("burst of 150 requests never hit the rate limit")
	}

	// Health stays reachable even when the limiter is exhausted.
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d", rec.Code)
	}
}

func TestNormalizeRoute(t *testing.T) {
	cases := map[string]string{
		"/health":           "/health",
		"/search":           "/search",
		"/search-stream":    "/search-stream",
		"/search/sources":   "/search/sources",
		"/vod-sources":      "/vod-sources",
		"/shorts-sources":   "/shorts-sources",
		"/shorts/list":      "/shorts",
		"/shorts/detail":    "/shorts",
		"/favicon.ico":      "/other",
		"/search/anything":  "/other",
		"/vod-sources/1234": "/other",
	}
	for path, want := range cases {
		if got := normalizeRoute(path); got != want {
			t.Errorf("normalizeRoute(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestMethodNotAllowed(t *testing.T) {
	server, _, _ := newTestServer(t, &stubSearchService{})
	handler := server.Handler()

	for _, tc := range []struct {
		method string
		target string
	}{
		{http.MethodPost, "/search"},
		{http.MethodPost, "/search-stream"},
		{http.MethodDelete, "/search/sources"},
		{http.MethodPost, "/shorts/list"},
	} {
		req := httptest.NewRequest(tc.method, tc.target, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: status = %d", tc.method, tc.target, rec.Code)
		}
	}
}
