// Package board is a minimal client for the Board REST API.
package board

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kernel/boardcol/pkg/credentials"
	"github.com/pterm/pterm"
	"golang.org/x/oauth2"
)

const (
	DefaultBaseURL  = "https://api.the-board.jp/v1"
	DefaultPageSize = 100

	clientsPageLimit  = 10
	projectsPageLimit = 20
)

// ErrUnrecognizedResponse is returned when a response body matches none of
// the shapes an endpoint is known to return.
var ErrUnrecognizedResponse = errors.New("unrecognized response shape")

// APIError is returned for any non-2xx response.
type APIError struct {
	Status   int
	Endpoint string
	Page     int
}

func (e *APIError) Error() string {
	if e.Page > 0 {
		return fmt.Sprintf("API error: %d (%s page %d)", e.Status, e.Endpoint, e.Page)
	}
	return fmt.Sprintf("API error: %d (%s)", e.Status, e.Endpoint)
}

type endpoint struct {
	name      string
	envelope  string
	pageLimit int
}

var (
	clientsEndpoint  = endpoint{name: "clients", envelope: "clients", pageLimit: clientsPageLimit}
	projectsEndpoint = endpoint{name: "projects", envelope: "projects", pageLimit: projectsPageLimit}
)

// Client fetches clients and projects. It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	pageSize   int
	logger     *pterm.Logger
}

type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client. Its Transport is wrapped
// to attach the bearer token.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

func WithLogger(l *pterm.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient = &http.Client{Transport: c.httpClient.Transport, Timeout: d}
		}
	}
}

// NewClient creates a client for the API rooted at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
		pageSize:   DefaultPageSize,
		logger:     &pterm.DefaultLogger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchClients returns every client, reading at most 10 pages.
func (c *Client) FetchClients(ctx context.Context, creds credentials.Credentials) ([]ClientRecord, error) {
	wire, err := fetchAll[wireClient](ctx, c, creds, clientsEndpoint)
	if err != nil {
		return nil, err
	}
	out := make([]ClientRecord, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.record())
	}
	return out, nil
}

// FetchProjects returns every project, reading at most 20 pages.
func (c *Client) FetchProjects(ctx context.Context, creds credentials.Credentials) ([]ProjectRecord, error) {
	wire, err := fetchAll[wireProject](ctx, c, creds, projectsEndpoint)
	if err != nil {
		return nil, err
	}
	out := make([]ProjectRecord, 0, len(wire))
	for _, w := range wire {
		out = append(out, w.record())
	}
	return out, nil
}

// fetchAll walks pages until one comes back short or the page limit is hit.
// Any failed page aborts the walk.
func fetchAll[T any](ctx context.Context, c *Client, creds credentials.Credentials, ep endpoint) ([]T, error) {
	if err := creds.Require(); err != nil {
		return nil, err
	}
	hc := c.authorizedClient(creds)

	var all []T
	for page := 1; page <= ep.pageLimit; page++ {
		body, _, err := c.get(ctx, hc, creds, ep.name, page)
		if err != nil {
			return nil, err
		}
		items, err := decodePage[T](body, ep.envelope)
		if err != nil {
			return nil, fmt.Errorf("decoding %s page %d: %w", ep.name, page, err)
		}
		all = append(all, items...)
		c.logger.Debug("fetched page", c.logger.Args("endpoint", ep.name, "page", page, "items", len(items)))
		if len(items) < c.pageSize {
			break
		}
	}
	return all, nil
}

func (c *Client) get(ctx context.Context, hc *http.Client, creds credentials.Credentials, endpoint string, page int) ([]byte, int, error) {
	u, err := url.Parse(c.baseURL + "/" + endpoint)
	if err != nil {
		return nil, 0, fmt.Errorf("building URL: %w", err)
	}
	if page > 0 {
		q := u.Query()
		q.Set("page", strconv.Itoa(page))
		q.Set("per_page", strconv.Itoa(c.pageSize))
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", creds.APIKey)

	resp, err := hc.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("reading %s response: %w", endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return body, resp.StatusCode, &APIError{Status: resp.StatusCode, Endpoint: endpoint, Page: page}
	}
	return body, resp.StatusCode, nil
}

func (c *Client) authorizedClient(creds credentials.Credentials) *http.Client {
	base := c.httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	return &http.Client{
		Transport: &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: creds.APIToken, TokenType: "Bearer"}),
			Base:   base,
		},
		Timeout: c.httpClient.Timeout,
	}
}

// decodePage extracts the item list from a page body. The endpoint's own
// envelope key is tried first, then the generic items/data envelopes. A bare
// JSON array is accepted as-is.
func decodePage[T any](body []byte, envelope string) ([]T, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrUnrecognizedResponse)
	}
	if body[0] == '[' {
		var items []T
		if err := json.Unmarshal(body, &items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnrecognizedResponse, err)
		}
		return items, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnrecognizedResponse, err)
	}
	for _, key := range []string{envelope, "items", "data"} {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var items []T
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("%w: %q is not a list: %v", ErrUnrecognizedResponse, key, err)
		}
		return items, nil
	}
	return nil, fmt.Errorf("%w: no %q, \"items\" or \"data\" field", ErrUnrecognizedResponse, envelope)
}
