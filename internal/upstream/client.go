package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"dramastream/aggregator/internal/domain"
)

const (
	defaultUserAgent   = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	maxResponseBytes   = 4 << 20
	defaultHTTPTimeout = 10 * time.Second
)

var (
	// ErrUpstreamTimeout marks a source that did not answer within its
	// deadline; the aggregator reports it as a failed source, never as a
	// failed search.
	ErrUpstreamTimeout = errors.New("upstream timed out")

	// ErrUpstreamParse marks a 200 response whose body is not the expected
	// catalog JSON (HTML error pages, truncated bodies, hijacked DNS).
	ErrUpstreamParse = errors.New("upstream returned unparseable body")
)

// HTTPError is a non-2xx upstream answer.
type HTTPError struct {
	Status int
	URL    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("upstream HTTP %d from %s", e.Status, e.URL)
}

// Client talks to CMS-style catalog APIs (the ac=videolist / ac=detail
// dialect). One Client serves all sources; per-source knobs come from the
// descriptor on every call.
type Client struct {
	http      *http.Client
	userAgent string
	timeout   time.Duration
}

type Config struct {
	Client    *http.Client
	UserAgent string
	// Timeout bounds a single upstream request when the descriptor does
	// not override it.
	Timeout time.Duration
}

func NewClient(cfg Config) *Client {
	httpClient := cfg.Client
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &Client{http: httpClient, userAgent: userAgent, timeout: timeout}
}

// Search queries one source for a keyword and returns normalized items.
// The keyword parameter name comes from the descriptor (wd by default).
func (c *Client) Search(ctx context.Context, src domain.SourceDescriptor, keyword string) ([]domain.SearchItem, error) {
	params := url.Values{"ac": {"videolist"}}
	params.Set(src.QueryParam(), keyword)

	page, err := c.fetch(ctx, src, params)
	if err != nil {
		return nil, err
	}

	items := make([]domain.SearchItem, 0, len(page.List))
	for _, record := range page.List {
		item := record.toSearchItem()
		if item.ID == "" || item.Title == "" {
			continue
		}
		item.SourceKey = src.Key
		item.SourceName = src.Name
		items = append(items, item)
	}
	return items, nil
}

// Catalog fetches one browse page from a source. Page is 1-based; the
// descriptor's TypeID narrows the listing when set.
func (c *Client) Catalog(ctx context.Context, src domain.SourceDescriptor, pageNum int) (domain.CatalogPage, error) {
	if pageNum < 1 {
		pageNum = 1
	}
	params := url.Values{"ac": {"videolist"}}
	params.Set(src.PagingParam(), strconv.Itoa(pageNum))
	if src.TypeID > 0 {
		params.Set("t", strconv.Itoa(src.TypeID))
	}

	page, err := c.fetch(ctx, src, params)
	if err != nil {
		return domain.CatalogPage{}, err
	}

	items := make([]domain.CatalogItem, 0, len(page.List))
	for _, record := range page.List {
		item := record.toCatalogItem()
		if item.ID == "" || item.Title == "" {
			continue
		}
		items = append(items, item)
	}

	result := domain.CatalogPage{
		Page:      page.Page.Int(pageNum),
		PageCount: page.PageCount.Int(1),
		Total:     page.Total.Int(len(items)),
		Items:     items,
		SourceKey: src.Key,
	}
	return result, nil
}

// Detail fetches the full record for one id, episodes parsed. A 200 answer
// with an empty list maps to domain.ErrNotFound.
func (c *Client) Detail(ctx context.Context, src domain.SourceDescriptor, id string) (domain.Detail, error) {
	params := url.Values{"ac": {"detail"}, "ids": {id}}

	page, err := c.fetch(ctx, src, params)
	if err != nil {
		return domain.Detail{}, err
	}
	if len(page.List) == 0 {
		return domain.Detail{}, domain.ErrNotFound
	}

	detail := page.List[0].toDetail()
	detail.SourceKey = src.Key
	return detail, nil
}

func (c *Client) fetch(ctx context.Context, src domain.SourceDescriptor, params url.Values) (*listResponse, error) {
	reqURL, err := buildURL(src.API, params)
	if err != nil {
		return nil, fmt.Errorf("source %s: %w", src.Key, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, src.Timeout(c.timeout))
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("source %s: %w", src.Key, ErrUpstreamTimeout)
		}
		return nil, fmt.Errorf("source %s: %w", src.Key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &HTTPError{Status: resp.StatusCode, URL: reqURL}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("source %s: %w", src.Key, ErrUpstreamTimeout)
		}
		return nil, fmt.Errorf("source %s: %w", src.Key, err)
	}

	var page listResponse
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, fmt.Errorf("source %s: %w: %v", src.Key, ErrUpstreamParse, err)
	}
	// Valid JSON without a list field is not a catalog answer (login pages,
	// hijacked DNS, error envelopes). An empty list stays a valid answer.
	if page.List == nil {
		return nil, fmt.Errorf("source %s: %w: missing list field", src.Key, ErrUpstreamParse)
	}
	return &page, nil
}

// buildURL merges the call parameters into the descriptor API address,
// preserving any query string already baked into it.
func buildURL(api string, params url.Values) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(api))
	if err != nil {
		return "", fmt.Errorf("bad api url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("bad api url scheme %q", parsed.Scheme)
	}
	query := parsed.Query()
	for key, values := range params {
		for _, value := range values {
			query.Set(key, value)
		}
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
